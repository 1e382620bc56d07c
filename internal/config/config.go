package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvDatabaseURL = "PROCFLOW_DATABASE_URL"
	EnvPort        = "PROCFLOW_PORT"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Executor  ExecutorConfig   `yaml:"executor"`
	Log       LogConfig        `yaml:"log"`
	CORS      CORSConfig       `yaml:"cors"`
	Sequences []string         `yaml:"sequences"` // document files loaded at startup
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ExecutorConfig tunes how sequences run.
type ExecutorConfig struct {
	Workers        int           `yaml:"workers"`          // concurrent processors per run (default: 1)
	LoopInterval   time.Duration `yaml:"loop_interval"`    // pause between run-loop iterations
	MaxConcurrent  int           `yaml:"max_concurrent"`   // triggered runs in flight system-wide (default: 10)
	RecordLoopRuns bool          `yaml:"record_loop_runs"` // store a run record for every loop iteration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// CORSConfig lists the origins the control API accepts.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ScheduleConfig triggers a sequence on a cron expression.
type ScheduleConfig struct {
	Sequence string `yaml:"sequence"`
	Cron     string `yaml:"cron"`
	Inputs   []any  `yaml:"inputs"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Executor: ExecutorConfig{Workers: 1, MaxConcurrent: 10},
		Log:      LogConfig{Level: "info", Format: "text"},
		CORS:     CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Load reads a YAML configuration file at path and returns a Config with
// environment overrides applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries "config.yaml" from the current directory.
func LoadDefault() (*Config, error) {
	return LoadFrom("config.yaml")
}

// LoadFrom loads ".env" when present, then the config file at path. If the
// file does not exist, it returns defaults with environment overrides.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadFrom(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor.workers must be at least 1, got %d", c.Executor.Workers)
	}
	if c.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("executor.max_concurrent must be at least 1, got %d", c.Executor.MaxConcurrent)
	}
	if c.Executor.LoopInterval < 0 {
		return fmt.Errorf("executor.loop_interval must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	for i, s := range c.Schedules {
		if s.Sequence == "" || s.Cron == "" {
			return fmt.Errorf("schedules[%d]: sequence and cron are required", i)
		}
	}
	return nil
}

// NewLogger builds a slog.Logger writing to w in the configured format.
func NewLogger(lc LogConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(lc.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
