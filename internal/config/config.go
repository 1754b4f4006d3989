package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no config path is supplied.
const DefaultConfigPath = "config.yaml"

// Config is the YAML bootstrap configuration read once at startup. Runtime
// tunables live in the settings table instead.
type Config struct {
	Listen      string `yaml:"listen"`
	DatabaseDSN string `yaml:"database-dsn"`

	Redis RedisConfig `yaml:"redis"`

	JWT JWTConfig `yaml:"jwt"`

	Gateway GatewayConfig `yaml:"payment-gateway"`

	Notification NotificationConfig `yaml:"notification"`

	Log LogConfig `yaml:"log"`
}

// RedisConfig configures the optional pending-payment store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig configures token signing.
type JWTConfig struct {
	Secret           string `yaml:"secret"`
	UserExpiryHours  int    `yaml:"user-expiry-hours"`
	AdminExpiryHours int    `yaml:"admin-expiry-hours"`
}

// UserExpiry returns the user token lifetime.
func (j JWTConfig) UserExpiry() time.Duration {
	hours := j.UserExpiryHours
	if hours <= 0 {
		hours = 72
	}
	return time.Duration(hours) * time.Hour
}

// AdminExpiry returns the admin token lifetime.
func (j JWTConfig) AdminExpiry() time.Duration {
	hours := j.AdminExpiryHours
	if hours <= 0 {
		hours = 12
	}
	return time.Duration(hours) * time.Hour
}

// GatewayConfig holds payment gateway credentials and endpoints.
type GatewayConfig struct {
	Name       string `yaml:"name"`
	TmnCode    string `yaml:"tmn-code"`
	HashSecret string `yaml:"hash-secret"`
	PayURL     string `yaml:"pay-url"`
	ReturnURL  string `yaml:"return-url"`
	Version    string `yaml:"version"`
}

// NotificationConfig configures the outbound notification webhook. When the
// URL is empty, notifications are logged instead of delivered.
type NotificationConfig struct {
	WebhookURL     string `yaml:"webhook-url"`
	TimeoutSeconds int    `yaml:"timeout-seconds"`
}

// LogConfig configures file logging and rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ResolveConfigPath normalizes a config path, falling back to the default.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultConfigPath
	}
	return trimmed
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(ResolveConfigPath(path))
	if errRead != nil {
		return nil, fmt.Errorf("config: read: %w", errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse: %w", errUnmarshal)
	}

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return nil, fmt.Errorf("config: database-dsn is required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("config: jwt.secret is required")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8080"
	}
	if strings.TrimSpace(cfg.Gateway.Version) == "" {
		cfg.Gateway.Version = "2.1.0"
	}
	if strings.TrimSpace(cfg.Gateway.Name) == "" {
		cfg.Gateway.Name = "VNPAY"
	}
	return &cfg, nil
}
