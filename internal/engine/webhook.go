package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"stripesync/internal/stripeclient"
	"stripesync/internal/ws"
)

// ProcessWebhook verifies, parses and applies one provider-pushed event.
// Redelivery is safe: the projectors upsert, so applying the same event
// twice leaves the database unchanged. Failures after verification surface
// to the caller so the provider redelivers.
func (e *Engine) ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	event, err := stripeclient.ConstructEvent(rawBody, signatureHeader, e.webhookSecret)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveWebhook("signature_error")
		}
		return err
	}

	// Platform handlers receive events for connected accounts; everyone
	// else acts as the credential's own account.
	accountID := event.Account
	if accountID == "" {
		accountID, err = e.AccountID(ctx)
		if err != nil {
			return err
		}
	} else if err := e.store.EnsureAccount(ctx, accountID); err != nil {
		return err
	}

	if strings.HasPrefix(event.Type, "account.") {
		if err := e.projectAccount(ctx, e.store, event.Data.Object); err != nil {
			return err
		}
		e.observeEvent("applied")
		return nil
	}

	kind, action, ok := resolveEventType(event.Type)
	if !ok || !e.kindEnabled(kind) {
		e.log.Debugf("skipping webhook event %s (%s)", event.ID, event.Type)
		e.observeEvent("skipped")
		return nil
	}
	spec, _ := findKind(kind)

	switch action {
	case actionTombstone:
		var env struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Data.Object, &env); err != nil || env.ID == "" {
			return fmt.Errorf("%w: %s payload has no id", ErrProjection, event.Type)
		}
		if err := e.store.MarkDeleted(ctx, spec.Table, accountID, env.ID); err != nil {
			return err
		}
	default:
		if err := spec.Project(e, ctx, e.store, accountID, event.Data.Object); err != nil {
			return err
		}
	}

	e.observeEvent("applied")
	e.publish(ws.Event{Type: "webhook.event", Payload: map[string]any{
		"eventId":   event.ID,
		"eventType": event.Type,
		"accountId": accountID,
		"object":    string(kind),
	}})
	return nil
}

func (e *Engine) observeEvent(outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveWebhook(outcome)
	}
}
