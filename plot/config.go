package plot

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("plot: invalid config")

// Config controls export of the differential traces.
type Config struct {
	Enabled bool `koanf:"enabled"`
	//Dir receives one data file per scored guess, created if missing
	Dir string `koanf:"dir"`
	//Renderer is one of the names accepted by NewRenderer
	Renderer  string `koanf:"renderer"`
	QueueSize int    `koanf:"queue_size"`
	Workers   int    `koanf:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Dir:       "plots",
		Renderer:  RendererText,
		QueueSize: 1024,
		Workers:   2,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Dir == "" {
		return fmt.Errorf("%w: empty plot directory", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size %v must be at least 1", ErrInvalidConfig, c.QueueSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers %v must be at least 1", ErrInvalidConfig, c.Workers)
	}
	if !knownRenderer(c.Renderer) {
		return fmt.Errorf("%w: unknown renderer %q", ErrInvalidConfig, c.Renderer)
	}
	return nil
}
