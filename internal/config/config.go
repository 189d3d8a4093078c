// Package config loads the ormctl configuration from a file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ormanager/ormanager/pkg/orm/codegen"
)

// EnvPrefix prefixes every environment override, e.g. ORMANAGER_DATABASE_URL
const EnvPrefix = "ORMANAGER"

// Config represents the ormctl configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Driver   string `mapstructure:"driver"`
	Dialect  string `mapstructure:"dialect"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig represents identity cache configuration
type CacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the configuration. An empty path looks for ormanager.yaml in the
// working directory and falls back to defaults when there is none; a
// non-empty path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.url", "file:ormanager.db?_foreign_keys=on")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dialect", "")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ormanager")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SQLDialect returns the configured dialect, derived from the driver when unset
func (c DatabaseConfig) SQLDialect() (codegen.Dialect, error) {
	if c.Dialect != "" {
		return codegen.DialectFor(c.Dialect)
	}
	return codegen.DialectFor(c.Driver)
}

// DSN returns the data source name handed to the driver, with the configured
// credentials applied
func (c DatabaseConfig) DSN() (string, error) {
	if c.Username == "" && c.Password == "" {
		return c.URL, nil
	}

	switch c.Driver {
	case "mysql":
		cfg, err := mysql.ParseDSN(c.URL)
		if err != nil {
			return "", fmt.Errorf("invalid mysql url: %w", err)
		}
		cfg.User = c.Username
		cfg.Passwd = c.Password
		return cfg.FormatDSN(), nil
	case "pgx", "postgres", "postgresql":
		u, err := url.Parse(c.URL)
		if err != nil {
			return "", fmt.Errorf("invalid postgres url: %w", err)
		}
		u.User = url.UserPassword(c.Username, c.Password)
		return u.String(), nil
	default:
		return c.URL, nil
	}
}

// ZapLevel returns the parsed log level
func (c LogConfig) ZapLevel() (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if _, err := cfg.Database.SQLDialect(); err != nil {
		if cfg.Database.Dialect != "" {
			return fmt.Errorf("database.dialect: %w", err)
		}
		return fmt.Errorf("database.driver %q has no known dialect, set database.dialect", cfg.Database.Driver)
	}
	if cfg.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got: %d", cfg.Cache.Capacity)
	}
	if _, err := cfg.Log.ZapLevel(); err != nil {
		return err
	}
	return nil
}
