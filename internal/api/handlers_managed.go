package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stripesync/internal/engine"
	"stripesync/internal/models"
)

type createManagedWebhookRequest struct {
	URL           string   `json:"url"`
	EnabledEvents []string `json:"enabledEvents"`
}

func (s *server) handleCreateManagedWebhook(w http.ResponseWriter, r *http.Request) {
	var req createManagedWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "url is required", nil)
		return
	}
	hook, err := s.engine.FindOrCreateManagedWebhook(r.Context(), req.URL, engine.ManagedWebhookOptions{
		EnabledEvents: req.EnabledEvents,
	})
	if err != nil {
		s.log.Errorf("find-or-create managed webhook: %v", err)
		writeError(w, http.StatusBadGateway, "webhook_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *server) handleListManagedWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.engine.ListManagedWebhooks(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "webhook_error", err.Error(), nil)
		return
	}
	if hooks == nil {
		hooks = []models.ManagedWebhook{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (s *server) handleDeleteManagedWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookId")
	if err := s.engine.DeleteManagedWebhook(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "webhook_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
