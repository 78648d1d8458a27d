package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig selects the slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the relay settings. The zero value of any field falls back
// to its default when the config is sanitized.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxLineLength   int           `yaml:"max_line_length"`
	MaxNameLength   int           `yaml:"max_name_length"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxConnections  int           `yaml:"max_connections"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Logging         LoggingConfig `yaml:"logging"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		HTTPAddr:   ":8081",
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		MaxLineLength:   4096,
		MaxNameLength:   64,
		IdleTimeout:     5 * time.Minute,
		WriteTimeout:    10 * time.Second,
		MaxConnections:  1024,
		ShutdownTimeout: 5 * time.Second,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}

	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = def.MaxLineLength
	}

	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = def.MaxNameLength
	}

	// a negative idle timeout disables it, zero means default
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	return &cfg
}

// LoadConfig reads a YAML file (when path is not empty), applies
// environment overrides and sanitizes the result.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	// HTTP_ADDR=off disables the websocket gateway
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		if strings.EqualFold(addr, "off") {
			addr = ""
		}
		cfg.HTTPAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxLine := os.Getenv("MAX_LINE_LENGTH"); maxLine != "" {
		cfg.MaxLineLength = parseIntValue(maxLine, cfg.MaxLineLength)
	}

	if maxName := os.Getenv("MAX_NAME_LENGTH"); maxName != "" {
		cfg.MaxNameLength = parseIntValue(maxName, cfg.MaxNameLength)
	}

	if idle := os.Getenv("IDLE_TIMEOUT"); idle != "" {
		if strings.EqualFold(idle, "off") {
			cfg.IdleTimeout = -1
		} else {
			cfg.IdleTimeout = parseSeconds(idle, cfg.IdleTimeout)
		}
	}

	if write := os.Getenv("WRITE_TIMEOUT"); write != "" {
		cfg.WriteTimeout = parseSeconds(write, cfg.WriteTimeout)
	}

	if maxConns := os.Getenv("MAX_CONNECTIONS"); maxConns != "" {
		cfg.MaxConnections = parseIntValue(maxConns, cfg.MaxConnections)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

func (c *Config) sessionConfig() SessionConfig {
	idle := c.IdleTimeout
	if idle < 0 {
		idle = 0
	}
	return SessionConfig{
		MaxLineLength: c.MaxLineLength,
		MaxNameLength: c.MaxNameLength,
		IdleTimeout:   idle,
		WriteTimeout:  c.WriteTimeout,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a Go duration ("90s") or a whole number of seconds.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
