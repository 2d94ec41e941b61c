package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/padworks/accounts/internal/plans"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath          = "CONFIG_PATH"
	EnvDBConnection        = "DB_CONNECTION"
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
)

// Defaults applied when the config file omits a value.
const (
	defaultHTTPAddress       = "::"
	defaultHTTPPort          = 3002
	defaultReconcileInterval = 20 * time.Second
	defaultDPADir            = "./dpa"
)

// ErrMissingDatabaseDSN indicates no database DSN is configured.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` in config file or env DB_CONNECTION)")

// ErrMissingProductOrigin indicates the connected product origin is unset.
var ErrMissingProductOrigin = errors.New("missing `product-origin` in config file")

// StripeConfig holds the payment provider credentials.
type StripeConfig struct {
	SecretKey     string `yaml:"secret-key"`
	PublicKey     string `yaml:"public-key"`
	WebhookSecret string `yaml:"webhook-secret"`
}

// Config is the resolved application configuration.
type Config struct {
	HTTPAddress string `yaml:"http-address"`
	HTTPPort    int    `yaml:"http-port"`

	DatabaseDSN string `yaml:"database-dsn"`

	Stripe StripeConfig `yaml:"stripe"`

	// ProductOrigin is the document-store instance this accounts server
	// bills for; quota refresh notifications are sent there.
	ProductOrigin string `yaml:"product-origin"`

	// Admins are user strings (user@domain/pubkey) granted admin commands.
	Admins []string `yaml:"admins"`

	// IgnoredDomains are instance domains whose requests are dropped.
	IgnoredDomains []string `yaml:"ignored-domains"`

	ReconcileInterval time.Duration `yaml:"reconcile-every"`

	DPADir string `yaml:"dpa-dir"`

	Plans plans.Table `yaml:"plans"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file and applies env overrides and defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		HTTPAddress:       defaultHTTPAddress,
		HTTPPort:          defaultHTTPPort,
		ReconcileInterval: defaultReconcileInterval,
		DPADir:            defaultDPADir,
	}

	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !os.IsNotExist(errRead) {
		return nil, fmt.Errorf("config: read file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse file: %w", errUnmarshal)
		}
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if key := strings.TrimSpace(os.Getenv(EnvStripeSecretKey)); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if secret := strings.TrimSpace(os.Getenv(EnvStripeWebhookSecret)); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if strings.TrimSpace(cfg.ProductOrigin) == "" {
		return nil, ErrMissingProductOrigin
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	if strings.TrimSpace(cfg.DPADir) == "" {
		cfg.DPADir = defaultDPADir
	}
	if cfg.Plans == nil {
		cfg.Plans = plans.Table{}
	}
	return cfg, nil
}

// Domain returns the host part of the configured product origin.
func (c *Config) Domain() string {
	origin := strings.TrimSpace(c.ProductOrigin)
	origin = strings.TrimPrefix(origin, "https://")
	origin = strings.TrimPrefix(origin, "http://")
	if idx := strings.IndexByte(origin, '/'); idx >= 0 {
		origin = origin[:idx]
	}
	return origin
}
