package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Google    ProviderConfig  `mapstructure:"google"`
	Microsoft ProviderConfig  `mapstructure:"microsoft"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// AuthConfig holds request authentication and token-at-rest settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// EncryptionKey is the base64-encoded 32-byte key used to encrypt OAuth
	// tokens at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ProviderConfig holds the OAuth client for one upstream provider
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Tenant       string `mapstructure:"tenant"`
}

// SyncConfig holds sync orchestrator configuration
type SyncConfig struct {
	IntervalMinutes        int           `mapstructure:"interval_minutes"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	CycleTimeout           time.Duration `mapstructure:"cycle_timeout"`
	RefreshMargin          time.Duration `mapstructure:"refresh_margin"`
	FetchPageSize          int           `mapstructure:"fetch_page_size"`
	// BackfillWindow bounds how far a full resynchronization reaches back.
	BackfillWindow time.Duration `mapstructure:"backfill_window"`
}

// NotifierConfig holds change-notifier configuration
type NotifierConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	MaxConnsPerUser  int `mapstructure:"max_conns_per_user"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("microsoft.tenant", "common")

	viper.SetDefault("sync.interval_minutes", 5)
	viper.SetDefault("sync.max_consecutive_failures", 5)
	viper.SetDefault("sync.cycle_timeout", "4m")
	viper.SetDefault("sync.refresh_margin", "60s")
	viper.SetDefault("sync.fetch_page_size", 100)
	viper.SetDefault("sync.backfill_window", "720h")

	viper.SetDefault("notifier.subscriber_buffer", 64)
	viper.SetDefault("notifier.max_conns_per_user", 10)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")

	viper.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")
	viper.BindEnv("auth.encryption_key", "AUTH_ENCRYPTION_KEY")

	viper.BindEnv("google.client_id", "GOOGLE_CLIENT_ID")
	viper.BindEnv("google.client_secret", "GOOGLE_CLIENT_SECRET")

	viper.BindEnv("microsoft.client_id", "MICROSOFT_CLIENT_ID")
	viper.BindEnv("microsoft.client_secret", "MICROSOFT_CLIENT_SECRET")
	viper.BindEnv("microsoft.tenant", "MICROSOFT_TENANT")

	viper.BindEnv("sync.interval_minutes", "SYNC_INTERVAL_MINUTES")
	viper.BindEnv("sync.max_consecutive_failures", "SYNC_MAX_CONSECUTIVE_FAILURES")
	viper.BindEnv("sync.cycle_timeout", "SYNC_CYCLE_TIMEOUT")
	viper.BindEnv("sync.refresh_margin", "SYNC_REFRESH_MARGIN")
	viper.BindEnv("sync.fetch_page_size", "SYNC_FETCH_PAGE_SIZE")
	viper.BindEnv("sync.backfill_window", "SYNC_BACKFILL_WINDOW")

	viper.BindEnv("notifier.subscriber_buffer", "NOTIFIER_SUBSCRIBER_BUFFER")
	viper.BindEnv("notifier.max_conns_per_user", "NOTIFIER_MAX_CONNS_PER_USER")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.Auth.EncryptionKey)
	if err != nil {
		return fmt.Errorf("auth encryption key must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("auth encryption key must decode to 32 bytes, got %d", len(key))
	}

	if c.Google.ClientID == "" && c.Microsoft.ClientID == "" {
		return fmt.Errorf("at least one provider OAuth client is required")
	}

	if c.Sync.IntervalMinutes <= 0 {
		return fmt.Errorf("sync interval must be greater than 0")
	}
	if c.Sync.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("sync max consecutive failures must be greater than 0")
	}
	if c.Sync.CycleTimeout <= 0 {
		return fmt.Errorf("sync cycle timeout must be greater than 0")
	}

	if c.Notifier.SubscriberBuffer <= 0 {
		return fmt.Errorf("notifier subscriber buffer must be greater than 0")
	}

	return nil
}
