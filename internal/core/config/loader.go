package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/apiwatch/internal/alerting"
)

// Load reads configuration from a YAML file. A .env file next to the working
// directory is loaded first so ${VAR} references can resolve from it.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	cfg.Poller = cfg.Poller.WithDefaults()
	cfg.Health = cfg.Health.WithDefaults()

	if len(cfg.Alerts.Rules) == 0 {
		cfg.Alerts.Rules = alerting.DefaultRules()
	}
	if cfg.Alerts.DebouncePasses <= 0 {
		cfg.Alerts.DebouncePasses = alerting.DefaultDebouncePasses
	}

	if cfg.Retention.Period > 0 && cfg.Retention.Interval <= 0 {
		cfg.Retention.Interval = time.Hour
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Poller.Interval < time.Second || cfg.Poller.Interval > 5*time.Minute {
		return fmt.Errorf("poller.interval must be between 1s and 5m, got %s", cfg.Poller.Interval)
	}
	if cfg.Poller.Timeout > cfg.Poller.Interval {
		return fmt.Errorf("poller.timeout (%s) must not exceed poller.interval (%s)", cfg.Poller.Timeout, cfg.Poller.Interval)
	}
	rules, err := alerting.ValidateRules(cfg.Alerts.Rules)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	cfg.Alerts.Rules = rules
	return nil
}
