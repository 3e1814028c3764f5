// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Database DatabaseConfig `mapstructure:"database"`
	Wait     WaitConfig     `mapstructure:"wait"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// WebhookConfig points at the external plan-generation endpoint. The webhook
// responds 2xx immediately; the actual plan lands in the database later.
type WebhookConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
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

// GetDSN returns the PostgreSQL connection string
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

// WaitConfig tunes the result wait cycle. The source product shipped with
// budgets anywhere between 30s and 120s; it is a knob here, not a constant.
type WaitConfig struct {
	PollInterval int `mapstructure:"poll_interval"` // milliseconds
	Budget       int `mapstructure:"budget"`        // milliseconds
	BroadenAfter int `mapstructure:"broaden_after"` // poll misses before dropping the destination filter
	WarnAfter    int `mapstructure:"warn_after"`    // milliseconds
	MarkerTTL    int `mapstructure:"marker_ttl"`    // milliseconds
}

func (w WaitConfig) PollIntervalDuration() time.Duration {
	return time.Duration(w.PollInterval) * time.Millisecond
}

func (w WaitConfig) BudgetDuration() time.Duration {
	return time.Duration(w.Budget) * time.Millisecond
}

func (w WaitConfig) WarnAfterDuration() time.Duration {
	return time.Duration(w.WarnAfter) * time.Millisecond
}

func (w WaitConfig) MarkerTTLDuration() time.Duration {
	return time.Duration(w.MarkerTTL) * time.Millisecond
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
