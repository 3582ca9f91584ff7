package orderproc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Port         string        `mapstructure:"port"`
	TLSCert      string        `mapstructure:"tls_cert"`
	TLSKey       string        `mapstructure:"tls_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // zero keeps streams open
	Compression  bool          `mapstructure:"compression"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Size int `mapstructure:"size"`
}

type StressConfig struct {
	MaxOrders        int `mapstructure:"max_orders"`
	DefaultBatchSize int `mapstructure:"default_batch_size"`
	Concurrency      int `mapstructure:"concurrency"`
}

type AnalyticsConfig struct {
	WindowHours   int `mapstructure:"window_hours"`
	LatencyWarnMs int `mapstructure:"latency_warn_ms"`
}

type CORSConfig struct {
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the on-disk configuration of the orderproc command, stored as config.yaml in ConfigDir.
type Config struct {
	viper     *viper.Viper
	ConfigDir string          `mapstructure:"-"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Stress    StressConfig    `mapstructure:"stress"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
}

// LoadConfig reads config.yaml from appConfigDir, creating the directory and a file holding
// the defaults when they do not exist. Environment variables prefixed with ORDERPROC_
// override file values, e.g. ORDERPROC_SERVER_PORT.
func LoadConfig(appConfigDir string) (*Config, error) {
	_, err := os.ReadDir(appConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			err := os.MkdirAll(appConfigDir, 0700)
			if err != nil {
				return nil, fmt.Errorf("creating config dir %s: %w", appConfigDir, err)
			}
		} else {
			return nil, fmt.Errorf("checking if directory exists %s: %w", appConfigDir, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(appConfigDir)
	v.SetEnvPrefix("orderproc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, appConfigDir)

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			err = v.SafeWriteConfig()
			if err != nil {
				return nil, fmt.Errorf("writing config file : %w", err)
			}
		} else {
			return nil, fmt.Errorf("reading config file : %w", err)
		}
	}

	cfg := &Config{viper: v, ConfigDir: appConfigDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config to struct : %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, appConfigDir string) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.compression", true)
	v.SetDefault("database.path", filepath.Join(appConfigDir, "orders.db"))
	v.SetDefault("cache.size", 1024)
	v.SetDefault("stress.max_orders", 10000)
	v.SetDefault("stress.default_batch_size", 100)
	v.SetDefault("stress.concurrency", 4)
	v.SetDefault("analytics.window_hours", 24)
	v.SetDefault("analytics.latency_warn_ms", 500)
	v.SetDefault("cors.allowed_origin", "http://localhost:3000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks the values that cannot be defaulted safely.
func (cfg *Config) Validate() error {
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := cfg.LogLevel(); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format should be either: text, json, got %q", cfg.Log.Format)
	}
	return nil
}

// Set updates a single key and rewrites config.yaml.
// The file is left untouched when the new value does not validate.
func (cfg *Config) Set(key string, value any) error {
	previous := cfg.viper.Get(key)
	cfg.viper.Set(key, value)

	next := &Config{viper: cfg.viper, ConfigDir: cfg.ConfigDir}
	err := cfg.viper.Unmarshal(next)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		cfg.viper.Set(key, previous)
		return fmt.Errorf("setting %s : %w", key, err)
	}

	if err := cfg.viper.WriteConfig(); err != nil {
		cfg.viper.Set(key, previous)
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	*cfg = *next
	return nil
}

// LogLevel parses Log.Level into a slog level.
func (cfg *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return 0, fmt.Errorf("parsing log.level %q : %w", cfg.Log.Level, err)
	}
	return level, nil
}

// ServiceOptions translates the configuration into Service options.
func (cfg *Config) ServiceOptions() []func(*Service) error {
	return []func(*Service) error{
		WithCacheSize(cfg.Cache.Size),
		WithStressLimits(cfg.Stress.MaxOrders, cfg.Stress.DefaultBatchSize, cfg.Stress.Concurrency),
		WithAnalyticsWindow(cfg.Analytics.WindowHours),
		WithLatencyWarning(time.Duration(cfg.Analytics.LatencyWarnMs) * time.Millisecond),
	}
}
