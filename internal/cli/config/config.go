package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scottag99/glowroot/internal/logging"
)

// FileName is the base name of the agent configuration file.
const FileName = "glowroot"

// Config represents the agent configuration
type Config struct {
	Plugins   []string        `mapstructure:"plugins"`
	Classpath string          `mapstructure:"classpath"`
	Watch     bool            `mapstructure:"watch"`
	Weaving   WeavingConfig   `mapstructure:"weaving"`
	Collector CollectorConfig `mapstructure:"collector"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`

	// Source is the viper instance the configuration was decoded from.
	// Settings read through it follow later edits of the file.
	Source *viper.Viper `mapstructure:"-"`
}

// WeavingConfig represents the weaving switches read on every load
type WeavingConfig struct {
	Disabled                     bool `mapstructure:"disabled"`
	MetricWrapperMethodsDisabled bool `mapstructure:"metric_wrapper_methods_disabled"`
}

// CollectorConfig selects where spans go
type CollectorConfig struct {
	// Exporters lists span exporters: stdout, store, redis or none
	Exporters   []string `mapstructure:"exporters"`
	StoreDriver string   `mapstructure:"store_driver"`
	StoreDSN    string   `mapstructure:"store_dsn"`
	RedisAddr   string   `mapstructure:"redis_addr"`
	RedisKey    string   `mapstructure:"redis_key"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// AdminConfig represents the admin HTTP endpoint
type AdminConfig struct {
	Addr         string        `mapstructure:"addr"`
	Secret       string        `mapstructure:"secret"`
	PasswordHash string        `mapstructure:"password_hash"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether the admin endpoint should be served.
func (a AdminConfig) Enabled() bool {
	return a.Addr != ""
}

// Load loads the configuration from glowroot.yml or glowroot.yaml in dir
// (the working directory when empty), with GLOWROOT_* overrides.
func Load(dir string) (*Config, error) {
	v := New()
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}
	return Decode(v)
}

// LoadFile loads the configuration from an explicit file.
func LoadFile(path string) (*Config, error) {
	v := New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Decode(v)
}

// New returns a viper instance with the agent defaults and environment
// binding applied.
func New() *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("plugins", []string{"plugins"})
	v.SetDefault("classpath", "classes")
	v.SetDefault("watch", false)
	v.SetDefault("weaving.disabled", false)
	v.SetDefault("weaving.metric_wrapper_methods_disabled", false)
	v.SetDefault("collector.exporters", []string{"stdout"})
	v.SetDefault("collector.store_driver", "sqlite3")
	v.SetDefault("collector.store_dsn", "glowroot.db")
	v.SetDefault("collector.redis_addr", "localhost:6379")
	v.SetDefault("collector.redis_key", "glowroot:spans")
	v.SetDefault("logging.level", "info")
	v.SetDefault("admin.addr", "")
	v.SetDefault("admin.secret", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.token_ttl", time.Hour)

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")

	// Enable environment variable support
	v.SetEnvPrefix("GLOWROOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	config.Source = v
	return &config, nil
}

// ResolvePaths makes relative plugin and classpath entries relative to
// base, the directory of the configuration file.
func (c *Config) ResolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i, p := range c.Plugins {
		c.Plugins[i] = abs(p)
	}
	c.Classpath = abs(c.Classpath)
}

// GetProjectRoot finds the nearest directory at or above the working
// directory holding a glowroot.yml or glowroot.yaml
func GetProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, ext := range []string{".yml", ".yaml"} {
			if _, err := os.Stat(filepath.Join(dir, FileName+ext)); err == nil {
				return dir, nil
			}
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return "", fmt.Errorf("no %s.yml found in any parent directory", FileName)
		}
		dir = parent
	}
}

var knownExporters = map[string]bool{"stdout": true, "store": true, "redis": true, "none": true}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	for _, e := range cfg.Collector.Exporters {
		if !knownExporters[e] {
			return fmt.Errorf("collector.exporters: unknown exporter %q", e)
		}
	}
	switch cfg.Collector.StoreDriver {
	case "sqlite3", "pgx", "postgres":
	default:
		return fmt.Errorf("collector.store_driver must be sqlite3, pgx or postgres, got: %s", cfg.Collector.StoreDriver)
	}
	if cfg.Admin.Enabled() {
		if cfg.Admin.Secret == "" {
			return fmt.Errorf("admin.secret is required when admin.addr is set")
		}
		if cfg.Admin.TokenTTL <= 0 {
			return fmt.Errorf("admin.token_ttl must be positive, got: %s", cfg.Admin.TokenTTL)
		}
	}
	return nil
}
