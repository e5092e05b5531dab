package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration failures that are fatal at startup.
var ErrConfig = errors.New("invalid configuration")

type Config struct {
	Addr     string
	APIToken string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIVersion    string
	StripeBaseURL       string

	DBBackend         string
	DatabaseURL       string
	DataDir           string
	Schema            string
	PoolMax           int
	PoolKeepAlive     bool
	DBConnMaxLifetime time.Duration

	PageLimit               int
	MaxConcurrent           int
	AutoExpandLists         bool
	BackfillRelatedEntities bool
	EnabledObjects          []string

	RequestTimeout           time.Duration
	ShutdownGrace            time.Duration
	DeleteWebhooksOnShutdown bool
	ManagedWebhookBaseURL    string

	LogFormat string
	LogLevel  string
}

// FileConfig is the optional YAML overlay (-config). Only sync tuning lives
// here; credentials stay in the environment.
type FileConfig struct {
	Schema                  string   `yaml:"schema"`
	PageLimit               int      `yaml:"pageLimit"`
	MaxConcurrent           int      `yaml:"maxConcurrent"`
	AutoExpandLists         *bool    `yaml:"autoExpandLists"`
	BackfillRelatedEntities *bool    `yaml:"backfillRelatedEntities"`
	EnabledObjects          []string `yaml:"enabledObjects"`
}

func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Schema != "" {
		cfg.Schema = fc.Schema
	}
	if fc.PageLimit > 0 {
		cfg.PageLimit = fc.PageLimit
	}
	if fc.MaxConcurrent > 0 {
		cfg.MaxConcurrent = fc.MaxConcurrent
	}
	if fc.AutoExpandLists != nil {
		cfg.AutoExpandLists = *fc.AutoExpandLists
	}
	if fc.BackfillRelatedEntities != nil {
		cfg.BackfillRelatedEntities = *fc.BackfillRelatedEntities
	}
	if len(fc.EnabledObjects) > 0 {
		cfg.EnabledObjects = fc.EnabledObjects
	}
	return nil
}

// Validate applies defaults and rejects configurations the engine cannot
// start with.
func (c *Config) Validate() error {
	c.StripeSecretKey = strings.TrimSpace(c.StripeSecretKey)
	if c.StripeSecretKey == "" {
		return fmt.Errorf("%w: STRIPE_SECRET_KEY is required", ErrConfig)
	}
	if !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("%w: STRIPE_SECRET_KEY does not look like a secret key", ErrConfig)
	}

	switch strings.TrimSpace(strings.ToLower(c.DBBackend)) {
	case "", "sqlite":
		c.DBBackend = "sqlite"
	case "postgres", "postgresql", "pg":
		c.DBBackend = "postgres"
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required when DB_BACKEND=postgres", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported db backend %q", ErrConfig, c.DBBackend)
	}

	if c.PoolMax <= 0 {
		c.PoolMax = 10
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 100
	}
	if c.PageLimit > 100 {
		c.PageLimit = 100
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8085"
	}
	return nil
}
