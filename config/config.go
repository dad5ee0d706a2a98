// Package config loads carsync settings from defaults, an optional YAML file and
// CARSYNC_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/c0deZ3R0/carsync/logging"
)

// EnvPrefix is stripped from environment variables; "__" separates nested keys,
// so CARSYNC_REMOTE__BASE_URL sets remote.base_url.
const EnvPrefix = "CARSYNC_"

// Queue drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	Remote    RemoteConfig    `koanf:"remote"`
	Mirror    MirrorConfig    `koanf:"mirror"`
	Queue     QueueConfig     `koanf:"queue"`
	Replay    ReplayConfig    `koanf:"replay"`
	Log       logging.Config  `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type RemoteConfig struct {
	BaseURL        string        `koanf:"base_url"`
	ProbeTimeout   time.Duration `koanf:"probe_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type MirrorConfig struct {
	Dir string `koanf:"dir"`
}

type QueueConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`    // sqlite file path
}

type ReplayConfig struct {
	FailurePolicy string        `koanf:"failure_policy"` // requeue, dead_letter
	MaxAttempts   int           `koanf:"max_attempts"`   // rejected replays before dead-lettering, 0 never gives up
	Interval      time.Duration `koanf:"interval"`       // background replay period, 0 disables
}

type TelemetryConfig struct {
	Stdout bool `koanf:"stdout"`
}

var defaults = map[string]any{
	"remote.base_url":        "http://localhost:3000",
	"remote.probe_timeout":   "2s",
	"remote.request_timeout": "10s",
	"mirror.dir":             "./offline_data",
	"queue.driver":           DriverSQLite,
	"queue.dsn":              "carsync.db",
	"replay.failure_policy":  "requeue",
	"replay.max_attempts":    5,
	"replay.interval":        "0s",
	"log.level":              logging.DefaultConfig.Level,
	"log.format":             logging.DefaultConfig.Format,
	"log.environment":        logging.DefaultConfig.Environment,
	"telemetry.stdout":       false,
}

// Load builds a Config. An empty path skips the file layer; a named file that
// does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Mirror.Dir = os.ExpandEnv(cfg.Mirror.Dir)
	cfg.Queue.DSN = os.ExpandEnv(cfg.Queue.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	} else if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote.base_url %q is not an absolute URL", c.Remote.BaseURL))
	}
	if c.Remote.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("remote.probe_timeout must be positive"))
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, errors.New("remote.request_timeout must be positive"))
	}
	if c.Mirror.Dir == "" {
		errs = append(errs, errors.New("mirror.dir is required"))
	}

	switch c.Queue.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Queue.DSN == "" {
			errs = append(errs, errors.New("queue.dsn is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.driver %q", c.Queue.Driver))
	}

	if c.Replay.MaxAttempts < 0 {
		errs = append(errs, errors.New("replay.max_attempts must not be negative"))
	}
	if c.Replay.Interval < 0 {
		errs = append(errs, errors.New("replay.interval must not be negative"))
	}

	switch strings.ToLower(c.Replay.FailurePolicy) {
	case "", "requeue", "dead_letter", "dead-letter", "deadletter":
	default:
		errs = append(errs, fmt.Errorf("unknown replay.failure_policy %q", c.Replay.FailurePolicy))
	}

	return errors.Join(errs...)
}
