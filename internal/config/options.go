package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/demandd/pkg/adapters/slurm"
	"github.com/aretw0/demandd/pkg/decorator"
	"github.com/mitchellh/mapstructure"
)

// RedisOptions are the options of a redis pool.
type RedisOptions struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	Interval time.Duration `mapstructure:"interval"`
}

// StopperOptions are the options of a stopper stage.
type StopperOptions struct {
	decorator.StopperConfig `mapstructure:",squash"`
	// Command is the squeue binary used to probe the partition.
	Command string `mapstructure:"command"`
}

// DecodeOptions decodes a free-form options map into out. Durations are
// given as strings ("10s") and flavours by name. Unknown keys are an error.
func DecodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// Redis decodes the redis pool options.
func (p PoolConfig) Redis() (RedisOptions, error) {
	var opts RedisOptions
	if err := DecodeOptions(p.Options, &opts); err != nil {
		return opts, err
	}
	if opts.Addr == "" {
		return opts, errors.New("addr is required")
	}
	if opts.Interval < 0 {
		return opts, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	return opts, nil
}

// Buffer decodes the options of a buffer stage.
func (s StageConfig) Buffer() (decorator.BufferConfig, error) {
	var cfg decorator.BufferConfig
	if err := DecodeOptions(s.Options, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Window < 0 {
		return cfg, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}
	if cfg.Flavour != 0 && !cfg.Flavour.Cooperative() {
		return cfg, fmt.Errorf("flavour must be an event loop, got %s", cfg.Flavour)
	}
	return cfg, nil
}

// Stopper decodes the options of a stopper stage.
func (s StageConfig) Stopper() (StopperOptions, error) {
	opts := StopperOptions{Command: slurm.DefaultCommand}
	if err := DecodeOptions(s.Options, &opts); err != nil {
		return opts, err
	}
	if opts.Partition == "" {
		return opts, errors.New("partition is required")
	}
	if opts.Interval < 0 {
		return opts, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	return opts, nil
}
