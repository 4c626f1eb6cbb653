// Package config loads livedesk configuration from YAML or JSON files, a
// .env file and LIVEDESK_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/internal/trace"
	"github.com/rustyeddy/livedesk/journal"
	"github.com/rustyeddy/livedesk/live"
	"github.com/rustyeddy/livedesk/postgres"
)

// Source types.
const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// Config represents the complete livedesk configuration
type Config struct {
	Source  SourceConfig   `json:"source" yaml:"source"`
	Viewer  ViewerConfig   `json:"viewer" yaml:"viewer"`
	Server  ServerConfig   `json:"server" yaml:"server"`
	Logging logging.Config `json:"logging" yaml:"logging"`
	Trace   trace.Config   `json:"trace" yaml:"trace"`
	// Resync refetches snapshots on a cron schedule, e.g. "@every 5m".
	Resync string `json:"resync,omitempty" yaml:"resync,omitempty"`
}

// SourceConfig selects where positions and change events come from
type SourceConfig struct {
	Type     string          `json:"type" yaml:"type"` // "sqlite" or "postgres"
	Table    string          `json:"table" yaml:"table"`
	SQLite   SQLiteConfig    `json:"sqlite" yaml:"sqlite"`
	Postgres postgres.Config `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig contains journal parameters
type SQLiteConfig struct {
	Path         string `json:"path" yaml:"path"`
	PollInterval string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"` // e.g. "250ms"
}

// PollDuration converts the poll interval string to time.Duration
func (s SQLiteConfig) PollDuration() (time.Duration, error) {
	if s.PollInterval == "" {
		return journal.DefaultPollInterval, nil
	}
	return time.ParseDuration(s.PollInterval)
}

// ViewerConfig is the default viewer.
type ViewerConfig struct {
	ID   string `json:"id" yaml:"id"`
	Role string `json:"role" yaml:"role"` // user, mentor or admin
}

func (v ViewerConfig) Viewer() live.Viewer {
	return live.Viewer{ID: v.ID, Role: live.ParseRole(v.Role)}
}

// ServerConfig contains HTTP parameters
type ServerConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	ViewerFromRequest bool     `json:"viewer_from_request" yaml:"viewer_from_request"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Type:  SourceSQLite,
			Table: changefeed.DefaultTable,
			SQLite: SQLiteConfig{
				Path:         "./livedesk.db",
				PollInterval: journal.DefaultPollInterval.String(),
			},
			Postgres: postgres.Config{
				Channel:      postgres.DefaultChannel,
				MaxConns:     4,
				QueryTimeout: 10 * time.Second,
			},
		},
		Viewer: ViewerConfig{Role: string(live.RoleAdmin)},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// LoadFromFile loads configuration from a file (YAML, falling back to
// JSON) over the defaults, then applies the environment.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads path when it is set, otherwise starts from Default. A .env
// file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LIVEDESK_* variables.
func (c *Config) ApplyEnv() {
	c.Source.Type = getEnv("LIVEDESK_SOURCE", c.Source.Type)
	c.Source.Table = getEnv("LIVEDESK_TABLE", c.Source.Table)
	c.Source.SQLite.Path = getEnv("LIVEDESK_DB", c.Source.SQLite.Path)
	c.Source.Postgres.DSN = getEnv("LIVEDESK_DSN", c.Source.Postgres.DSN)
	c.Viewer.ID = getEnv("LIVEDESK_VIEWER_ID", c.Viewer.ID)
	c.Viewer.Role = getEnv("LIVEDESK_VIEWER_ROLE", c.Viewer.Role)
	c.Server.Addr = getEnv("LIVEDESK_ADDR", c.Server.Addr)
	c.Server.ViewerFromRequest = getEnvAsBool("LIVEDESK_VIEWER_FROM_REQUEST", c.Server.ViewerFromRequest)
	c.Logging.Level = getEnv("LIVEDESK_LOG_LEVEL", c.Logging.Level)
	c.Trace.Enabled = getEnvAsBool("LIVEDESK_TRACE", c.Trace.Enabled)
	c.Resync = getEnv("LIVEDESK_RESYNC", c.Resync)
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON
// otherwise)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceSQLite:
		if c.Source.SQLite.Path == "" {
			return fmt.Errorf("source.sqlite.path required for sqlite source")
		}
		d, err := c.Source.SQLite.PollDuration()
		if err != nil {
			return fmt.Errorf("source.sqlite.poll_interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("source.sqlite.poll_interval must be positive")
		}
	case SourcePostgres:
		if c.Source.Postgres.DSN == "" {
			return fmt.Errorf("source.postgres.dsn required for postgres source")
		}
		if c.Source.Postgres.MaxConns < 0 {
			return fmt.Errorf("source.postgres.max_conns must not be negative")
		}
	default:
		return fmt.Errorf("source.type must be 'sqlite' or 'postgres'")
	}
	if c.Source.Table == "" {
		return fmt.Errorf("source.table is required")
	}

	switch live.ParseRole(c.Viewer.Role) {
	case "", live.RoleUser, live.RoleMentor, live.RoleAdmin:
	default:
		return fmt.Errorf("viewer.role must be 'user', 'mentor' or 'admin'")
	}
	if c.Viewer.ID == "" && live.ParseRole(c.Viewer.Role) != live.RoleAdmin && !c.Server.ViewerFromRequest {
		return fmt.Errorf("viewer.id is required unless viewer.role is admin or server.viewer_from_request is set")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if f := c.Logging.Format; f != "" && f != "json" && f != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	if c.Resync != "" {
		if err := live.ValidateSchedule(c.Resync); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
