package config

import (
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/health"
	redisclient "github.com/vietddude/apiwatch/internal/infra/redis"
	"github.com/vietddude/apiwatch/internal/infra/storage/postgres"
	"github.com/vietddude/apiwatch/internal/poller"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig            `yaml:"server"`
	Logging     LoggingConfig           `yaml:"logging"`
	Poller      poller.Config           `yaml:"poller"`
	Health      health.Config           `yaml:"health"`
	Alerts      AlertsConfig            `yaml:"alerts"`
	Retention   RetentionConfig         `yaml:"retention"`
	Database    postgres.Config         `yaml:"database"`
	Redis       redisclient.Config      `yaml:"redis"`
	Export      ExportConfig            `yaml:"export"`
	Secrets     SecretsConfig           `yaml:"secrets"`
	Connections []domain.ConnectionSpec `yaml:"connections"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int `yaml:"port"`         // API and websocket feed
	MetricsPort int `yaml:"metrics_port"` // /health, /health/detailed, /metrics
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AlertsConfig holds alert rules and notification sinks.
type AlertsConfig struct {
	Rules          []domain.AlertRule `yaml:"rules"`
	DebouncePasses int                `yaml:"debounce_passes"`
	WebhookURL     string             `yaml:"webhook_url"`
	DedupeWindow   time.Duration      `yaml:"dedupe_window"`
	NATSURL        string             `yaml:"nats_url"`
	NATSSubject    string             `yaml:"nats_subject"`
}

// RetentionConfig bounds how long observations are kept. 0 keeps them forever.
type RetentionConfig struct {
	Period   time.Duration `yaml:"period"`
	Interval time.Duration `yaml:"interval"`
}

// ExportConfig holds the export sink directory. Empty disables file exports.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// SecretsConfig holds the key for enc: credential references (base64, 32 bytes).
type SecretsConfig struct {
	Key string `yaml:"key"`
}
