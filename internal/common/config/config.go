package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Workflow      WorkflowConfig     `mapstructure:"workflow"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkflowConfig holds the approval pipeline settings.
type WorkflowConfig struct {
	// TransactionTimeout bounds the review/decide transactions,
	// including the contended locking read.
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`
	// MaxIssuanceRetries bounds retries of the whole decide operation
	// when the issuing transaction hits a serialization conflict.
	MaxIssuanceRetries int           `mapstructure:"max_issuance_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
}

// NotificationConfig holds fan-out and delivery settings.
type NotificationConfig struct {
	// ChannelPrefix namespaces broker channels, e.g. "notifications".
	ChannelPrefix string `mapstructure:"channel_prefix"`
	// SessionBuffer is the per-client delivery buffer; slow clients
	// past the buffer are dropped and reconcile via the store.
	SessionBuffer int `mapstructure:"session_buffer"`
	// DefaultPageSize caps ListForReader pages.
	DefaultPageSize int `mapstructure:"default_page_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
