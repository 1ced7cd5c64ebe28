package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Migration MigrationConfig `mapstructure:"migration"`
	Media     MediaConfig     `mapstructure:"media"`
	Status    StatusConfig    `mapstructure:"status"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig holds the source catalog API configuration
type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// MigrationConfig holds pipeline tuning configuration
type MigrationConfig struct {
	BatchSize      int  `mapstructure:"batch_size"`
	DownloadImages bool `mapstructure:"download_images"`
}

// MediaConfig holds media download configuration
type MediaConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	BasePath string `mapstructure:"base_path"`
}

// StatusConfig holds the status API configuration
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// .env is optional
	_ = godotenv.Load()

	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Source API
	v.BindEnv("source.base_url", "KARA_API_URL")
	v.BindEnv("source.username", "KARA_API_USERNAME")
	v.BindEnv("source.password", "KARA_API_PASSWORD")
	v.BindEnv("source.max_retries", "KARA_MAX_RETRIES")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")

	// Migration
	v.BindEnv("migration.batch_size", "MIGRATION_BATCH_SIZE")
	v.BindEnv("migration.download_images", "DOWNLOAD_IMAGES")

	// Media
	v.BindEnv("media.base_url", "MEDIA_BASE_URL")
	v.BindEnv("media.base_path", "MEDIA_STORAGE_PATH")

	// Status API
	v.BindEnv("status.enabled", "STATUS_API_ENABLED")
	v.BindEnv("status.port", "STATUS_API_PORT")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Source API defaults
	v.SetDefault("source.base_url", "https://kara.com.ng/rest/V1")
	v.SetDefault("source.timeout", 60*time.Second)
	v.SetDefault("source.max_retries", 5)

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	// Migration defaults
	v.SetDefault("migration.batch_size", 10)
	v.SetDefault("migration.download_images", false)

	// Media defaults
	v.SetDefault("media.base_url", "https://kara.com.ng/pub/media/catalog/product")
	v.SetDefault("media.base_path", "./data/media")

	// Status API defaults
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.no_color", false)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// GetDatabaseURL returns the database URL from config or environment
func GetDatabaseURL() string {
	if cfg := Get(); cfg != nil && cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return os.Getenv("DATABASE_URL")
}
