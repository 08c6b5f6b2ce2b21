package dpaRecover

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"dpaRecover/dpa"
	"dpaRecover/logger"
	"dpaRecover/plot"
	"dpaRecover/tracefile"
)

var ErrInvalidKey = errors.New("invalid key")

// AttackConfig is the complete configuration of one attack run.
type AttackConfig struct {
	Attack dpa.Config    `koanf:"attack"`
	Plot   plot.Config   `koanf:"plot"`
	Log    logger.Config `koanf:"log"`
	//Randomize shuffles the traces before the trace cap is applied
	Randomize bool `koanf:"randomize"`
	//Seed for Randomize. 0 picks a random seed that is logged for reproduction
	Seed uint64 `koanf:"seed"`
	//CorrectKey in hex, only used for validation and the final report
	CorrectKey string `koanf:"correct_key"`
	//MetricsOut receives the prometheus metrics of the run in text format, if set
	MetricsOut string `koanf:"metrics_out"`
}

func DefaultAttackConfig() AttackConfig {
	return AttackConfig{
		Attack: dpa.DefaultConfig(),
		Plot:   plot.DefaultConfig(),
		Log:    logger.DefaultConfig(),
	}
}

func (c AttackConfig) Validate() error {
	if err := c.Attack.Validate(); err != nil {
		return err
	}
	if err := c.Plot.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log config : %w", err)
	}
	if c.CorrectKey != "" {
		if _, err := ParseKey(c.CorrectKey); err != nil {
			return err
		}
	}
	return nil
}

//ParseKey decodes a 16 byte AES-128 key given in hex. Whitespace and colons between bytes are ignored
func ParseKey(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimPrefix(strings.ToLower(cleaned), "0x")
	key, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w %q : %v", ErrInvalidKey, s, err)
	}
	if len(key) != tracefile.BlockSize {
		return nil, fmt.Errorf("%w %q : got %v bytes, want %v", ErrInvalidKey, s, len(key), tracefile.BlockSize)
	}
	return key, nil
}
