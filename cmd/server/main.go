package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"stripesync/internal/app"
	"stripesync/internal/config"
	"stripesync/internal/logging"
)

func main() {
	var cfg config.Config
	var configPath string

	flag.StringVar(&cfg.Addr, "addr", getEnv("ADDR", "127.0.0.1:8085"), "listen address")
	flag.StringVar(&cfg.APIToken, "api-token", getEnv("API_TOKEN", ""), "optional API token (X-Api-Token)")
	flag.StringVar(&configPath, "config", getEnv("CONFIG_FILE", ""), "optional YAML config file for sync tuning")

	flag.StringVar(&cfg.StripeSecretKey, "stripe-secret-key", getEnv("STRIPE_SECRET_KEY", ""), "stripe secret key (required)")
	flag.StringVar(&cfg.StripeWebhookSecret, "stripe-webhook-secret", getEnv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret")
	flag.StringVar(&cfg.StripeAPIVersion, "stripe-api-version", getEnv("STRIPE_API_VERSION", ""), "pinned stripe API version (default: account's current)")
	flag.StringVar(&cfg.StripeBaseURL, "stripe-base-url", getEnv("STRIPE_BASE_URL", ""), "stripe API base URL override (testing)")

	flag.StringVar(&cfg.DBBackend, "db-backend", getEnv("DB_BACKEND", "sqlite"), "database backend (sqlite or postgres)")
	flag.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "postgres connection string (required when db-backend=postgres)")
	flag.StringVar(&cfg.DataDir, "data-dir", getEnv("DATA_DIR", "./data"), "data directory (sqlite db)")
	flag.StringVar(&cfg.Schema, "schema", getEnv("SCHEMA", "stripe"), "database schema for all engine tables (empty = none)")
	flag.IntVar(&cfg.PoolMax, "pool-max", getEnvInt("POOL_MAX", 10), "max open db connections")
	flag.BoolVar(&cfg.PoolKeepAlive, "pool-keep-alive", getEnvBool("POOL_KEEP_ALIVE", true), "keep idle db connections alive")
	flag.DurationVar(&cfg.DBConnMaxLifetime, "db-conn-max-lifetime", getEnvDuration("DB_CONN_MAX_LIFETIME", 0), "max db connection lifetime (0=default)")

	flag.IntVar(&cfg.PageLimit, "page-limit", getEnvInt("PAGE_LIMIT", 100), "objects per backfill page (max 100)")
	flag.IntVar(&cfg.MaxConcurrent, "max-concurrent", getEnvInt("MAX_CONCURRENT", 4), "object kinds backfilled in parallel")
	flag.BoolVar(&cfg.AutoExpandLists, "auto-expand-lists", getEnvBool("AUTO_EXPAND_LISTS", false), "expand single-hop sub-objects during projection")
	flag.BoolVar(&cfg.BackfillRelatedEntities, "backfill-related-entities", getEnvBool("BACKFILL_RELATED_ENTITIES", true), "backfill never-synced parent kinds alongside a single-kind sync")

	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 30*time.Second), "per-request deadline for provider calls")
	flag.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", getEnvDuration("SHUTDOWN_GRACE", 10*time.Second), "drain window on SIGINT/SIGTERM")
	flag.BoolVar(&cfg.DeleteWebhooksOnShutdown, "delete-webhooks-on-shutdown", getEnvBool("DELETE_WEBHOOKS_ON_SHUTDOWN", false), "delete managed webhook endpoints on shutdown")
	flag.StringVar(&cfg.ManagedWebhookBaseURL, "managed-webhook-url", getEnv("MANAGED_WEBHOOK_URL", ""), "register a managed webhook endpoint at this URL on startup")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format (text or json)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	enabled := stringSliceFlag{}
	for _, kind := range strings.Split(getEnv("ENABLED_OBJECTS", ""), ",") {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		enabled = append(enabled, kind)
	}
	flag.Var(&enabled, "enable-object", "restrict sync to this object kind (repeatable)")
	flag.Parse()
	cfg.EnabledObjects = enabled

	logger, err := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid logging config: %v", err)
	}

	if configPath != "" {
		if err := config.LoadFile(configPath, &cfg); err != nil {
			logging.Fatalf("load config file: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logging.Fatalf("server error: %v", err)
	}
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}
