package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stripesync/internal/models"
	"stripesync/internal/store"
	"stripesync/internal/stripeclient"
	"stripesync/internal/ws"
)

// ManagedBy marks provider-side endpoints this engine owns. Endpoints
// without it are deleted only when they back a local managed row or carry
// one of the legacy descriptions below.
const ManagedBy = "stripe-sync"

const managedDescription = "Stripe Sync managed webhook"

// legacyDescriptions are endpoint descriptions earlier tooling generations
// used before metadata ownership existed; matched whitespace-normalized.
var legacyDescriptions = []string{
	"stripe-sync-cli development webhook",
	"stripe sync development",
}

type ManagedWebhookOptions struct {
	EnabledEvents []string
}

// FindOrCreateManagedWebhook reconciles local bookkeeping against the
// provider and returns the single managed endpoint for baseURL, creating it
// when needed. Concurrent callers with the same (account, baseURL) serialize
// on an advisory lock and all receive the same endpoint.
func (e *Engine) FindOrCreateManagedWebhook(ctx context.Context, baseURL string, opts ManagedWebhookOptions) (models.ManagedWebhook, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return models.ManagedWebhook{}, fmt.Errorf("base url is required")
	}
	accountID, err := e.AccountID(ctx)
	if err != nil {
		return models.ManagedWebhook{}, err
	}

	var result models.ManagedWebhook
	lockKey := "managed-webhook:" + accountID + ":" + baseURL
	err = e.store.WithAdvisoryLock(ctx, lockKey, func(tx *store.Store) error {
		local, err := tx.ListManagedWebhooks(ctx, accountID, baseURL)
		if err != nil {
			return err
		}

		var valid *models.ManagedWebhook
		for i := range local {
			row := local[i]
			endpoint, err := e.client.GetWebhookEndpoint(ctx, row.ID)
			if errors.Is(err, stripeclient.ErrNotFound) {
				// Provider side is gone; drop the orphaned row.
				if err := tx.DeleteManagedWebhook(ctx, row.ID); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if endpoint.URL != baseURL || endpoint.Metadata["managed_by"] != ManagedBy {
				// Legacy or repurposed endpoint: remove both sides.
				if err := e.deleteEndpoint(ctx, row.ID); err != nil {
					return err
				}
				if err := tx.DeleteManagedWebhook(ctx, row.ID); err != nil {
					return err
				}
				continue
			}
			if valid == nil {
				valid = &row
			}
		}
		if valid != nil {
			result = *valid
			return nil
		}

		if err := e.cleanupOrphanEndpoints(ctx, tx, accountID); err != nil {
			return err
		}

		events := opts.EnabledEvents
		if len(events) == 0 {
			events = []string{"*"}
		}
		created, err := e.client.CreateWebhookEndpoint(ctx, stripeclient.WebhookEndpointParams{
			URL:           baseURL,
			EnabledEvents: events,
			Description:   managedDescription,
			Metadata:      map[string]string{"managed_by": ManagedBy},
		})
		if err != nil {
			return fmt.Errorf("create webhook endpoint: %w", err)
		}
		hook := models.ManagedWebhook{
			ID:            created.ID,
			AccountID:     accountID,
			URL:           baseURL,
			EnabledEvents: created.EnabledEvents,
			Secret:        created.Secret,
			CreatedAt:     store.Now(),
		}
		if err := tx.InsertManagedWebhook(ctx, hook); err != nil {
			return err
		}
		result = hook
		e.log.Infof("created managed webhook %s for %s", created.ID, baseURL)
		return nil
	})
	if err != nil {
		return models.ManagedWebhook{}, err
	}
	e.publish(ws.Event{Type: "webhook.managed", Payload: map[string]any{
		"id":  result.ID,
		"url": result.URL,
	}})
	return result, nil
}

// cleanupOrphanEndpoints deletes provider endpoints this engine (or an
// earlier generation of it) created that no longer have a local row.
func (e *Engine) cleanupOrphanEndpoints(ctx context.Context, tx *store.Store, accountID string) error {
	endpoints, err := e.client.ListWebhookEndpoints(ctx)
	if err != nil {
		return err
	}
	local, err := tx.ListManagedWebhooks(ctx, accountID, "")
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(local))
	for _, row := range local {
		known[row.ID] = true
	}
	for _, endpoint := range endpoints {
		if known[endpoint.ID] {
			continue
		}
		if endpoint.Metadata["managed_by"] != ManagedBy && !isLegacyDescription(endpoint.Description) {
			continue
		}
		e.log.Warnf("deleting orphaned managed webhook endpoint %s (%s)", endpoint.ID, endpoint.URL)
		if err := e.deleteEndpoint(ctx, endpoint.ID); err != nil {
			return err
		}
	}
	return nil
}

func isLegacyDescription(description string) bool {
	norm := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	if norm == "" {
		return false
	}
	for _, legacy := range legacyDescriptions {
		if norm == legacy {
			return true
		}
	}
	return strings.HasPrefix(norm, "stripe sync")
}

// deleteEndpoint tolerates the endpoint already being gone.
func (e *Engine) deleteEndpoint(ctx context.Context, id string) error {
	err := e.client.DeleteWebhookEndpoint(ctx, id)
	if err != nil && !errors.Is(err, stripeclient.ErrNotFound) {
		return err
	}
	return nil
}

// DeleteManagedWebhook removes the provider endpoint and the local row,
// tolerating not-found on either side.
func (e *Engine) DeleteManagedWebhook(ctx context.Context, id string) error {
	if err := e.deleteEndpoint(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteManagedWebhook(ctx, id)
}

// ListManagedWebhooks returns the managed endpoints of the current account
// only; other accounts sharing the database are invisible.
func (e *Engine) ListManagedWebhooks(ctx context.Context) ([]models.ManagedWebhook, error) {
	accountID, err := e.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	return e.store.ListManagedWebhooks(ctx, accountID, "")
}

// DeleteAllManagedWebhooks tears down every managed endpoint of the current
// account; used on graceful shutdown when the operator opted in.
func (e *Engine) DeleteAllManagedWebhooks(ctx context.Context) error {
	hooks, err := e.ListManagedWebhooks(ctx)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if err := e.DeleteManagedWebhook(ctx, hook.ID); err != nil {
			return err
		}
	}
	return nil
}
