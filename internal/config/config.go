// Package config loads the daemon configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aretw0/demandd/internal/logging"
	"github.com/aretw0/demandd/pkg/runner"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

const (
	PoolStatic = "static"
	PoolRedis  = "redis"

	StageBuffer  = "buffer"
	StageStopper = "stopper"
)

// Config is the root of the configuration file.
type Config struct {
	Log      LogConfig     `yaml:"log"`
	HTTP     HTTPConfig    `yaml:"http"`
	Runner   RunnerConfig  `yaml:"runner"`
	Pool     PoolConfig    `yaml:"pool"`
	Pipeline []StageConfig `yaml:"pipeline"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the status API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type RunnerConfig struct {
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	// ControlFlavour runs demand reads and writes coming from the API.
	ControlFlavour string `yaml:"control_flavour"`
}

// PoolConfig selects the pool at the end of the pipeline.
type PoolConfig struct {
	Type    string         `yaml:"type"`
	Demand  float64        `yaml:"demand"`
	Options map[string]any `yaml:"options"`
}

// StageConfig is one decorator of the pipeline. Stages are listed outermost first.
type StageConfig struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// Default returns the configuration used for omitted settings.
func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: logging.FormatText},
		HTTP: HTTPConfig{Addr: ":9100"},
		Runner: RunnerConfig{
			ShutdownGrace:  runner.DefaultShutdownGrace,
			ControlFlavour: runner.LoopA.String(),
		},
		Pool: PoolConfig{Type: PoolStatic},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first problem found, prefixed with its location.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", err)
	}
	switch c.Log.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return invalid("log.format", fmt.Errorf("unknown format %q", c.Log.Format))
	}

	if c.Runner.ShutdownGrace < 0 {
		return invalid("runner.shutdown_grace", errors.New("must not be negative"))
	}
	if _, err := c.ControlFlavour(); err != nil {
		return invalid("runner.control_flavour", err)
	}

	switch c.Pool.Type {
	case PoolStatic:
		if len(c.Pool.Options) > 0 {
			return invalid("pool.options", errors.New("static pool takes no options"))
		}
	case PoolRedis:
		if _, err := c.Pool.Redis(); err != nil {
			return invalid("pool.options", err)
		}
	default:
		return invalid("pool.type", fmt.Errorf("unknown pool %q", c.Pool.Type))
	}

	for i, stage := range c.Pipeline {
		path := fmt.Sprintf("pipeline[%d]", i)
		var err error
		switch stage.Type {
		case StageBuffer:
			_, err = stage.Buffer()
		case StageStopper:
			_, err = stage.Stopper()
		default:
			return invalid(path+".type", fmt.Errorf("unknown stage %q", stage.Type))
		}
		if err != nil {
			return invalid(path+".options", err)
		}
	}
	return nil
}

// ControlFlavour parses Runner.ControlFlavour.
func (c *Config) ControlFlavour() (runner.Flavour, error) {
	return runner.ParseFlavour(c.Runner.ControlFlavour)
}

func invalid(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
}
