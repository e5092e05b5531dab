package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"stripesync/internal/api"
	"stripesync/internal/config"
	"stripesync/internal/db"
	"stripesync/internal/engine"
	"stripesync/internal/logging"
	"stripesync/internal/metrics"
	"stripesync/internal/store"
	"stripesync/internal/stripeclient"
	"stripesync/internal/ws"
)

// Run wires the engine and HTTP surface and blocks until ctx is canceled.
// On shutdown, in-flight work drains for the configured grace period and
// managed webhooks are optionally torn down.
func Run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	backend, err := db.ParseBackend(cfg.DBBackend)
	if err != nil {
		return err
	}

	dbCfg := db.Config{
		Backend:         backend,
		DatabaseURL:     cfg.DatabaseURL,
		Schema:          cfg.Schema,
		PoolMax:         cfg.PoolMax,
		KeepAlive:       cfg.PoolKeepAlive,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
	if backend == db.BackendSQLite {
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return err
		}
		dbCfg.SQLitePath = filepath.Join(dataDir, "stripesync.db")
	}
	gdb, err := db.Open(dbCfg)
	if err != nil {
		return err
	}

	st, err := store.New(gdb, store.Options{Backend: backend, Schema: cfg.Schema})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client := stripeclient.New(stripeclient.Options{
		SecretKey:  cfg.StripeSecretKey,
		BaseURL:    cfg.StripeBaseURL,
		APIVersion: cfg.StripeAPIVersion,
		UserAgent:  "stripesync/1.0",
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	})

	hub := ws.NewHub()
	reg := metrics.New()

	eng, err := engine.New(engine.Config{
		Store:                   st,
		Client:                  client,
		Logger:                  logger,
		Hub:                     hub,
		Metrics:                 reg,
		WebhookSecret:           cfg.StripeWebhookSecret,
		PageLimit:               cfg.PageLimit,
		MaxConcurrent:           cfg.MaxConcurrent,
		AutoExpandLists:         cfg.AutoExpandLists,
		BackfillRelatedEntities: cfg.BackfillRelatedEntities,
		EnabledObjects:          cfg.EnabledObjects,
	})
	if err != nil {
		return err
	}

	if _, err := eng.AccountID(ctx); err != nil {
		return fmt.Errorf("verify stripe credential: %w", err)
	}

	if cfg.ManagedWebhookBaseURL != "" {
		hook, err := eng.FindOrCreateManagedWebhook(ctx, cfg.ManagedWebhookBaseURL, engine.ManagedWebhookOptions{})
		if err != nil {
			return err
		}
		logger.Infof("managed webhook %s ready at %s", hook.ID, hook.URL)
	}

	handler := api.New(api.Dependencies{
		Config:  cfg,
		Engine:  eng,
		Store:   st,
		Hub:     hub,
		Metrics: reg,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down (grace %s)", cfg.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	if cfg.DeleteWebhooksOnShutdown {
		if err := eng.DeleteAllManagedWebhooks(shutdownCtx); err != nil {
			logger.Errorf("delete managed webhooks on shutdown: %v", err)
		}
	}
	return nil
}
