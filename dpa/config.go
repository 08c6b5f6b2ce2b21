package dpa

import (
	"errors"
	"fmt"
	"runtime"
)

const (
	KeyBytes   = 16
	KeyGuesses = 256
)

var ErrInvalidConfig = errors.New("dpa: invalid config")

// Config selects which part of the key is attacked and how.
type Config struct {
	//MaxTraces caps the traces used per guess, taken in archive order. 0 uses all traces
	MaxTraces int `koanf:"max_traces"`
	//Keybytes are attacked in this order. Empty means 0..15
	Keybytes []int `koanf:"keybytes"`
	//Guesses are evaluated in this order, which also decides exact ties. Empty means 0x00..0xff
	Guesses []int `koanf:"guesses"`
	//MovingAverage is the smoothing window applied to every trace, 1 disables smoothing
	MovingAverage int `koanf:"moving_average"`
	//Workers bounds the guesses evaluated in parallel. 0 uses GOMAXPROCS
	Workers int `koanf:"workers"`
}

// DefaultConfig attacks all keybytes with all guesses on all traces.
func DefaultConfig() Config {
	return Config{MovingAverage: 1}
}

// Validate checks ranges and duplicates.
func (c Config) Validate() error {
	if c.MaxTraces < 0 {
		return fmt.Errorf("%w: max traces %v is negative", ErrInvalidConfig, c.MaxTraces)
	}
	if c.MovingAverage < 1 {
		return fmt.Errorf("%w: moving average window %v must be at least 1", ErrInvalidConfig, c.MovingAverage)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %v is negative", ErrInvalidConfig, c.Workers)
	}
	if err := checkSet("keybyte", c.Keybytes, KeyBytes); err != nil {
		return err
	}
	return checkSet("guess", c.Guesses, KeyGuesses)
}

func checkSet(name string, values []int, limit int) error {
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		if v < 0 || v >= limit {
			return fmt.Errorf("%w: %v %v out of range 0..%v", ErrInvalidConfig, name, v, limit-1)
		}
		if seen[v] {
			return fmt.Errorf("%w: %v %v given twice", ErrInvalidConfig, name, v)
		}
		seen[v] = true
	}
	return nil
}

func (c Config) keybytes() []int {
	if len(c.Keybytes) == 0 {
		all := make([]int, KeyBytes)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return c.Keybytes
}

func (c Config) guesses() []byte {
	if len(c.Guesses) == 0 {
		all := make([]byte, KeyGuesses)
		for i := range all {
			all[i] = byte(i)
		}
		return all
	}
	guesses := make([]byte, len(c.Guesses))
	for i, g := range c.Guesses {
		guesses[i] = byte(g)
	}
	return guesses
}

func (c Config) workers() int {
	if c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}
