package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	BindAddr       string        `mapstructure:"BIND_ADDR"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	DataFile       string        `mapstructure:"DATA_FILE"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	LogFile        string        `mapstructure:"LOG_FILE"`
	LogMaxSizeMB   int           `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups  int           `mapstructure:"LOG_MAX_BACKUPS"`
	Timezone       string        `mapstructure:"TIMEZONE"`
	StrictDates    bool          `mapstructure:"STRICT_DATES"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	ImportLimit    string        `mapstructure:"IMPORT_BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"ENV", "PORT", "BIND_ADDR", "DATA_DIR", "DATA_FILE",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS",
	"TIMEZONE", "STRICT_DATES", "CORS_ORIGINS",
	"BODY_LIMIT", "IMPORT_BODY_LIMIT", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("BIND_ADDR", "127.0.0.1")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DATA_FILE", "blood_tests.json")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 10)
	v.SetDefault("LOG_MAX_BACKUPS", 3)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("STRICT_DATES", false)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("IMPORT_BODY_LIMIT", "8M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DataPath is the canonical location of the record collection.
func (c *Config) DataPath() string {
	return filepath.Join(c.DataDir, c.DataFile)
}

// Location resolves TIMEZONE. It is the calendar used for day boundaries
// in duplicate detection and date parsing.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" || c.DataFile == "" {
		return fmt.Errorf("DATA_DIR and DATA_FILE must be set")
	}
	if strings.ContainsAny(c.DataFile, `/\`) {
		return fmt.Errorf("DATA_FILE must be a file name, got %q", c.DataFile)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT must be set")
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 {
		return fmt.Errorf("LOG_MAX_SIZE_MB and LOG_MAX_BACKUPS must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	return nil
}
