package dpaRecover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment variables overriding the config file.
const DefaultEnvPrefix = "DPA_"

//configSections are the nested keys of AttackConfig
var configSections = []string{"attack", "plot", "log"}

// LoadOptions select the configuration sources. Later sources override earlier ones:
// defaults, File, environment, Flags.
type LoadOptions struct {
	//File is an optional YAML file
	File string
	//EnvPrefix defaults to DefaultEnvPrefix
	EnvPrefix string
	//Flags holds explicitly set command line values as nested maps, e.g. {"attack": {"workers": 4}}
	Flags map[string]any
}

// LoadConfig merges all sources into an AttackConfig and validates it.
func LoadConfig(opts LoadOptions) (AttackConfig, error) {
	cfg := DefaultAttackConfig()
	k := koanf.New(".")

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %v : %w", opts.File, err)
		}
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	//DPA_ATTACK_MAX_TRACES -> attack.max_traces, DPA_CORRECT_KEY -> correct_key
	envTransformer := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		for _, section := range configSections {
			if strings.HasPrefix(s, section+"_") {
				return section + "." + strings.TrimPrefix(s, section+"_")
			}
		}
		return s
	}
	if err := k.Load(env.Provider(prefix, ".", envTransformer), nil); err != nil {
		return cfg, fmt.Errorf("load env : %w", err)
	}

	if len(opts.Flags) > 0 {
		if err := k.Load(mapProvider(opts.Flags), nil); err != nil {
			return cfg, fmt.Errorf("load flags : %w", err)
		}
	}

	//unmarshal on top of the defaults, keys absent from every source keep their default
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config : %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var errReadBytesNotSupported = errors.New("map provider does not support ReadBytes, use Read")

//mapProvider feeds an already parsed map into koanf
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
