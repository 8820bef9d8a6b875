// Package config loads the server and experiment configuration from a YAML
// file with environment overrides.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate when a value cannot be repaired.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Persist       PersistConfig       `yaml:"persist"`
	Logging       LoggingConfig       `yaml:"logging"`
	Hub           HubConfig           `yaml:"hub"`
	Observability ObservabilityConfig `yaml:"observability"`
	Experiment    Experiment          `yaml:"experiment"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend ("memory" or "sqlite").
type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type PersistConfig struct {
	QueueSize    int    `yaml:"queue_size"`
	WriteTimeout string `yaml:"write_timeout"`
}

// LoggingConfig configures the experiment event stream. Level applies to the
// process logger.
type LoggingConfig struct {
	Level           string   `yaml:"level"`
	Sinks           []string `yaml:"sinks"`
	JSONPath        string   `yaml:"json_path"`
	BufferSize      int      `yaml:"buffer_size"`
	MinimumSeverity string   `yaml:"minimum_severity"`
}

type HubConfig struct {
	// AbandonAfter is how long a disconnected participant is kept before the
	// session is aborted.
	AbandonAfter  string `yaml:"abandon_after"`
	SweepInterval string `yaml:"sweep_interval"`
	InboxSize     int    `yaml:"inbox_size"`
}

type ObservabilityConfig struct {
	EnablePprof bool `yaml:"enable_pprof"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Store: StoreConfig{
			Kind: "sqlite",
			Path: "invigoration.db",
		},
		Persist: PersistConfig{
			QueueSize:    1024,
			WriteTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:           "info",
			Sinks:           []string{"zap"},
			BufferSize:      256,
			MinimumSeverity: "debug",
		},
		Hub: HubConfig{
			AbandonAfter:  "2m",
			SweepInterval: "15s",
			InboxSize:     512,
		},
		Experiment: DefaultExperiment(),
	}
}

// Load reads the YAML file at path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return goerr.Wrap(err, "failed to create config directory", goerr.V("path", dir))
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write config", goerr.V("path", path))
	}
	return nil
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal config")
	}
	return data, nil
}

// ApplyEnv applies environment overrides. lookup defaults to os.LookupEnv.
// Unparseable values are logged and ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool), logger *zap.Logger) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if raw, ok := lookup("INVIGORATION_ADDR"); ok && raw != "" {
		c.Server.Addr = raw
	}
	if raw, ok := lookup("INVIGORATION_STORE"); ok && raw != "" {
		c.Store.Kind = raw
	}
	if raw, ok := lookup("INVIGORATION_DB_PATH"); ok && raw != "" {
		c.Store.Path = raw
	}
	if raw, ok := lookup("INVIGORATION_STRICT"); ok && raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			c.Experiment.StrictInvariants = value
		} else {
			logger.Warn("invalid INVIGORATION_STRICT", zap.String("value", raw), zap.Error(err))
		}
	}
	if raw, ok := lookup("ENABLE_PPROF"); ok && raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			c.Observability.EnablePprof = value
		} else {
			logger.Warn("invalid ENABLE_PPROF", zap.String("value", raw), zap.Error(err))
		}
	}
}

// Validate normalizes the configuration in place. Recoverable problems are
// repaired with a fallback and reported as warnings; anything else returns
// an error wrapping ErrInvalidConfig.
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	if c.Server.Addr == "" {
		return warnings, goerr.Wrap(ErrInvalidConfig, "server.addr is required")
	}
	switch c.Store.Kind {
	case "", "memory":
		c.Store.Kind = "memory"
	case "sqlite":
		if c.Store.Path == "" {
			return warnings, goerr.Wrap(ErrInvalidConfig, "store.path is required for sqlite")
		}
	default:
		return warnings, goerr.Wrap(ErrInvalidConfig, "unknown store kind", goerr.V("kind", c.Store.Kind))
	}
	if c.Persist.QueueSize <= 0 {
		warn("persist.queue_size must be positive; using 1024")
		c.Persist.QueueSize = 1024
	}
	if c.Logging.BufferSize <= 0 {
		warn("logging.buffer_size must be positive; using 256")
		c.Logging.BufferSize = 256
	}
	if c.Hub.InboxSize <= 0 {
		warn("hub.inbox_size must be positive; using 512")
		c.Hub.InboxSize = 512
	}
	for _, d := range []struct {
		name  string
		value *string
		def   string
	}{
		{"server.shutdown_timeout", &c.Server.ShutdownTimeout, "10s"},
		{"persist.write_timeout", &c.Persist.WriteTimeout, "5s"},
		{"hub.abandon_after", &c.Hub.AbandonAfter, "2m"},
		{"hub.sweep_interval", &c.Hub.SweepInterval, "15s"},
	} {
		if parsed, err := time.ParseDuration(*d.value); err != nil || parsed <= 0 {
			warn(d.name + " must be a positive duration; using " + d.def)
			*d.value = d.def
		}
	}

	warnings = append(warnings, c.Experiment.normalize()...)
	return warnings, nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// WriteTimeout returns the per-write store timeout.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Persist.WriteTimeout, 5*time.Second)
}

// AbandonAfter returns how long a disconnected participant is kept.
func (c *Config) AbandonAfter() time.Duration {
	return parseDuration(c.Hub.AbandonAfter, 2*time.Minute)
}

// SweepInterval returns the idle-session sweep period.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.Hub.SweepInterval, 15*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
