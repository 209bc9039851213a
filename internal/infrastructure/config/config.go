package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "LEAFSCAN"

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Session    SessionConfig    `mapstructure:"session"`
	Preview    PreviewConfig    `mapstructure:"preview"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ClassifierConfig holds the classification API endpoint
type ClassifierConfig struct {
	URL     string        `mapstructure:"url"`
	PingURL string        `mapstructure:"ping_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig holds upload session settings
type SessionConfig struct {
	Store        string        `mapstructure:"store"`
	MaxSessions  int           `mapstructure:"max_sessions"`
	TTL          time.Duration `mapstructure:"ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// PreviewConfig bounds the size of rendered previews
type PreviewConfig struct {
	MaxWidth  int `mapstructure:"max_width"`
	MaxHeight int `mapstructure:"max_height"`
}

// DatabaseConfig holds PostgreSQL settings for classification history
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds settings of the classification event stream
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Session store kinds
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Load reads configuration from ./config.yaml or ./config/config.yaml if
// present, then from LEAFSCAN_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings that have no safe fallback
func (c *Config) Validate() error {
	if c.Classifier.URL == "" {
		return errors.New("classifier.url is required")
	}
	if c.Session.Store != SessionStoreMemory && c.Session.Store != SessionStoreRedis {
		return fmt.Errorf("unknown session.store %q", c.Session.Store)
	}
	if c.Session.MaxSessions <= 0 {
		return errors.New("session.max_sessions must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_bytes", int64(10<<20))
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("classifier.url", "http://localhost:8000/predict")
	v.SetDefault("classifier.ping_url", "")
	v.SetDefault("classifier.timeout", time.Duration(0))

	v.SetDefault("session.store", SessionStoreMemory)
	v.SetDefault("session.max_sessions", 1000)
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.cookie_name", "leafscan_session")
	v.SetDefault("session.cookie_secure", false)

	v.SetDefault("preview.max_width", 600)
	v.SetDefault("preview.max_height", 300)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leafscan")
	v.SetDefault("database.password", "leafscan")
	v.SetDefault("database.dbname", "leafscan")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "leafscan.classifications")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
