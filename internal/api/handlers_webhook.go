package api

import (
	"errors"
	"io"
	"net/http"

	"stripesync/internal/engine"
)

const maxWebhookBodyBytes = 1 << 20

// handleWebhook receives provider deliveries. 400 rejects a bad signature
// permanently; any later failure answers 5xx so the provider redelivers.
func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read body", nil)
		return
	}
	if len(body) > maxWebhookBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "webhook body too large", nil)
		return
	}

	err = s.engine.ProcessWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, engine.ErrSignature):
		writeError(w, http.StatusBadRequest, "signature_error", err.Error(), nil)
	case errors.Is(err, engine.ErrProjection):
		s.log.Errorf("webhook projection failed: %v", err)
		writeError(w, http.StatusInternalServerError, "projection_error", err.Error(), nil)
	default:
		s.log.Errorf("webhook processing failed: %v", err)
		writeError(w, http.StatusBadGateway, "processing_error", err.Error(), nil)
	}
}
