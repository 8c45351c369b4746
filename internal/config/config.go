package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "config/config.toml"

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type DetectionConfig struct {
	RecencyWindowDays int `toml:"recency_window_days"`
	QueryLimit        int `toml:"query_limit"`
}

type ClassifierConfig struct {
	Version string `toml:"version"`
}

type SchedulerConfig struct {
	Enabled             bool     `toml:"enabled"`
	Interval            Duration `toml:"interval"`
	Engagements         []string `toml:"engagements"`
	Concurrency         int      `toml:"concurrency"`
	EscalationThreshold Duration `toml:"escalation_threshold"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Config struct {
	Memgraph   MemgraphConfig   `toml:"memgraph"`
	Database   DatabaseConfig   `toml:"database"`
	Detection  DetectionConfig  `toml:"detection"`
	Classifier ClassifierConfig `toml:"classifier"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
}

// Duration reads TOML strings such as "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() *Config {
	return &Config{
		Memgraph: MemgraphConfig{URI: "bolt://localhost:7687"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file:crosscheck.db?_foreign_keys=on"},
		Detection: DetectionConfig{
			RecencyWindowDays: 30,
			QueryLimit:        500,
		},
		Classifier: ClassifierConfig{Version: "1.0.0"},
		Scheduler: SchedulerConfig{
			Interval:            Duration{15 * time.Minute},
			Concurrency:         4,
			EscalationThreshold: Duration{48 * time.Hour},
		},
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with environment variables when set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set("MEMGRAPH_URI", &c.Memgraph.URI)
	set("MEMGRAPH_USER", &c.Memgraph.User)
	set("MEMGRAPH_PASSWORD", &c.Memgraph.Password)
	set("MEMGRAPH_DATABASE", &c.Memgraph.Database)
	set("DATABASE_DRIVER", &c.Database.Driver)
	set("DATABASE_URL", &c.Database.DSN)
	set("CLASSIFIER_VERSION", &c.Classifier.Version)
	set("PORT", &c.Server.Port)
	set("LOG_LEVEL", &c.Log.Level)

	if v := getenv("RECENCY_WINDOW_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RECENCY_WINDOW_DAYS %q: %w", v, err)
		}
		c.Detection.RecencyWindowDays = n
	}
	if v := getenv("SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SCHEDULER_INTERVAL %q: %w", v, err)
		}
		c.Scheduler.Interval = Duration{d}
	}
	if v := getenv("SCHEDULER_ENGAGEMENTS"); v != "" {
		c.Scheduler.Engagements = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Scheduler.Engagements = append(c.Scheduler.Engagements, id)
			}
		}
		c.Scheduler.Enabled = true
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}
	if c.Detection.RecencyWindowDays <= 0 {
		return fmt.Errorf("detection.recency_window_days must be positive, got %d", c.Detection.RecencyWindowDays)
	}
	if c.Detection.QueryLimit <= 0 {
		return fmt.Errorf("detection.query_limit must be positive, got %d", c.Detection.QueryLimit)
	}
	if c.Classifier.Version == "" {
		return fmt.Errorf("classifier.version is required")
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval.Duration <= 0 {
			return fmt.Errorf("scheduler.interval must be positive")
		}
		if c.Scheduler.Concurrency <= 0 {
			return fmt.Errorf("scheduler.concurrency must be positive")
		}
	}
	return nil
}
