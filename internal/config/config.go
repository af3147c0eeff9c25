// Package config provides configuration loading for memoryd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEMORYD_SERVER_HTTP_PORT, MEMORYD_POSTGRES_DSN, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "MEMORYD_"
	maxConfigFileSize = 1024 * 1024
)

// Config holds the complete memoryd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Postgres      PostgresConfig      `koanf:"postgres"`
	NATS          NATSConfig          `koanf:"nats"`
	Semantic      SemanticConfig      `koanf:"semantic"`
	Consolidation ConsolidationConfig `koanf:"consolidation"`
	WorkingMemory WorkingMemoryConfig `koanf:"working_memory"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	HTTPPort        int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PostgresConfig holds backing store configuration. An empty DSN means no
// backing store is configured and all store operations degrade to the
// in-memory stub.
type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// NATSConfig holds event log configuration. An empty URL disables the NATS
// reader; run extraction then requires an in-process event log.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SemanticConfig holds the semantic recall feature flag. When disabled,
// retrieval results are identical to the keyword baseline.
type SemanticConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ConsolidationConfig holds the background consolidation schedule.
type ConsolidationConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// WorkingMemoryConfig holds session registry tuning.
type WorkingMemoryConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			HTTPPort:        8085,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			SubjectPrefix: "runs",
		},
		Consolidation: ConsolidationConfig{
			Interval: 24 * time.Hour,
		},
		WorkingMemory: WorkingMemoryConfig{
			TTL:           time.Hour,
			SweepInterval: 15 * time.Minute,
		},
	}
}

// Load reads configuration from the optional YAML file at configPath, then
// overrides with MEMORYD_-prefixed environment variables. A missing file is
// not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("opening config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	// MEMORYD_SERVER_HTTP_PORT   -> server.http_port
	// MEMORYD_POSTGRES_DSN       -> postgres.dsn
	// MEMORYD_WORKING_MEMORY_TTL -> working_memory.ttl
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envTransform maps MEMORYD_SECTION_FIELD_NAME to section.field_name. The
// split is on the first underscore; multi-word sections are handled
// explicitly.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	if rest, ok := strings.CutPrefix(lower, "working_memory_"); ok {
		return "working_memory." + rest
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server host must not be empty")
	}
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.HTTPPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Consolidation.Interval <= 0 {
		return errors.New("consolidation interval must be positive")
	}
	if c.WorkingMemory.TTL <= 0 {
		return errors.New("working memory TTL must be positive")
	}
	if c.WorkingMemory.SweepInterval <= 0 {
		return errors.New("working memory sweep interval must be positive")
	}
	return nil
}
