package engine

import (
	"context"
	"fmt"
	"sync"

	"stripesync/internal/logging"
	"stripesync/internal/metrics"
	"stripesync/internal/models"
	"stripesync/internal/store"
	"stripesync/internal/stripeclient"
	"stripesync/internal/ws"
)

// Engine coordinates the two ingestion paths — paginated backfill and live
// webhooks — against one provider account. Multiple engines (one per
// credential) may share a database; rows are partitioned by account id.
type Engine struct {
	store   *store.Store
	client  *stripeclient.Client
	log     *logging.Logger
	hub     *ws.Hub
	metrics *metrics.Metrics

	webhookSecret           string
	pageLimit               int
	maxConcurrent           int
	autoExpandLists         bool
	backfillRelatedEntities bool
	enabledKinds            map[models.ObjectKind]bool

	accountMu sync.Mutex
	accountID string
}

type Config struct {
	Store  *store.Store
	Client *stripeclient.Client
	Logger *logging.Logger
	Hub    *ws.Hub
	// Metrics may be nil; the engine then skips instrumentation.
	Metrics *metrics.Metrics

	WebhookSecret           string
	PageLimit               int
	MaxConcurrent           int
	AutoExpandLists         bool
	BackfillRelatedEntities bool
	// EnabledObjects restricts the mirrored kinds; empty means all.
	EnabledObjects []string
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 100
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	var enabled map[models.ObjectKind]bool
	if len(cfg.EnabledObjects) > 0 {
		enabled = make(map[models.ObjectKind]bool, len(cfg.EnabledObjects))
		for _, name := range cfg.EnabledObjects {
			kind := models.ObjectKind(name)
			if _, ok := findKind(kind); !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownObject, name)
			}
			enabled[kind] = true
		}
	}

	return &Engine{
		store:                   cfg.Store,
		client:                  cfg.Client,
		log:                     logger,
		hub:                     cfg.Hub,
		metrics:                 cfg.Metrics,
		webhookSecret:           cfg.WebhookSecret,
		pageLimit:               pageLimit,
		maxConcurrent:           maxConcurrent,
		autoExpandLists:         cfg.AutoExpandLists,
		backfillRelatedEntities: cfg.BackfillRelatedEntities,
		enabledKinds:            enabled,
	}, nil
}

// SupportedSyncObjects lists the kinds this engine instance mirrors, in
// backfill dependency order.
func (e *Engine) SupportedSyncObjects() []models.ObjectKind {
	all := SupportedSyncObjects()
	if e.enabledKinds == nil {
		return all
	}
	out := make([]models.ObjectKind, 0, len(e.enabledKinds))
	for _, kind := range all {
		if e.enabledKinds[kind] {
			out = append(out, kind)
		}
	}
	return out
}

func (e *Engine) kindEnabled(kind models.ObjectKind) bool {
	return e.enabledKinds == nil || e.enabledKinds[kind]
}

// AccountID resolves the acting account from the provider credential. The
// first call hits the provider and fills the full account row; the id is
// cached for the engine's lifetime.
func (e *Engine) AccountID(ctx context.Context) (string, error) {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	if e.accountID != "" {
		return e.accountID, nil
	}

	account, err := e.client.GetAccount(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	if err := e.projectAccount(ctx, e.store, account.Raw); err != nil {
		return "", err
	}
	e.accountID = account.ID
	e.log.Infof("resolved stripe account %s", account.ID)
	return e.accountID, nil
}

// DangerouslyDeleteAccount removes every mirrored row, cursor, run and
// managed-webhook record for one account. Provider-side webhook endpoints
// are not touched; delete those first via DeleteManagedWebhook.
func (e *Engine) DangerouslyDeleteAccount(ctx context.Context, accountID string, opts models.DeleteAccountOptions) (models.DeleteAccountResult, error) {
	if accountID == "" {
		return models.DeleteAccountResult{}, fmt.Errorf("account id is required")
	}
	result, err := e.store.DeleteAccount(ctx, accountID, opts)
	if err != nil {
		return result, err
	}
	if !opts.DryRun {
		e.log.Warnf("deleted all mirrored state for account %s", accountID)
		e.publish(ws.Event{Type: "account.deleted", Payload: result})
	}
	return result, nil
}

func (e *Engine) publish(evt ws.Event) {
	if e.hub != nil {
		e.hub.Publish(evt)
	}
}
