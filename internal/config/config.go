package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// LimitsConfig defines the per-organization usage limits
type LimitsConfig struct {
	DailyLimitSeconds int64 `mapstructure:"daily_limit_seconds"`
	MonthlyActiveDays int   `mapstructure:"monthly_active_days"`
}

// TrackingConfig defines heartbeat tracking behavior
type TrackingConfig struct {
	TickInterval string `mapstructure:"tick_interval"`
	GapCeiling   string `mapstructure:"gap_ceiling"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
	Bolt  BoltConfig  `mapstructure:"bolt"`
}

// BoltConfig defines BoltDB storage settings
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("STUDYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Limit defaults: 30 minutes per day, 20 active days per month
	v.SetDefault("limits.daily_limit_seconds", 1800)
	v.SetDefault("limits.monthly_active_days", 20)

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "5s")
	v.SetDefault("tracking.gap_ceiling", "2m")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.bolt.path", "/var/lib/studygate/studygate.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	// A non-positive limit would lock every session out immediately; reject
	// it here so a misconfiguration surfaces instead of a silent lockout.
	if cfg.Limits.DailyLimitSeconds <= 0 {
		return fmt.Errorf("limits.daily_limit_seconds must be positive, got %d", cfg.Limits.DailyLimitSeconds)
	}
	if cfg.Limits.MonthlyActiveDays <= 0 {
		return fmt.Errorf("limits.monthly_active_days must be positive, got %d", cfg.Limits.MonthlyActiveDays)
	}

	if _, err := time.ParseDuration(cfg.Tracking.TickInterval); err != nil {
		return fmt.Errorf("invalid tracking.tick_interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Tracking.GapCeiling); err != nil {
		return fmt.Errorf("invalid tracking.gap_ceiling: %w", err)
	}

	switch cfg.Storage.Type {
	case "redis", "memory":
	case "bolt":
		if cfg.Storage.Bolt.Path == "" {
			return fmt.Errorf("storage.bolt.path is required for bolt storage")
		}
	case "":
		cfg.Storage.Type = "redis"
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'redis', 'bolt', or 'memory')", cfg.Storage.Type)
	}

	return nil
}
