package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stripesync/internal/engine"
	"stripesync/internal/models"
)

type triggerSyncRequest struct {
	Object      string `json:"object"`
	CreatedGTE  int64  `json:"createdGte"`
	TriggeredBy string `json:"triggeredBy"`
}

func (s *server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
	}
	s.runSync(w, r, req)
}

func (s *server) handleSyncObject(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, triggerSyncRequest{Object: chi.URLParam(r, "object")})
}

func (s *server) runSync(w http.ResponseWriter, r *http.Request, req triggerSyncRequest) {
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}
	outcomes, err := s.engine.ProcessUntilDone(r.Context(), engine.SyncParams{
		Object:      req.Object,
		CreatedGTE:  req.CreatedGTE,
		TriggeredBy: triggeredBy,
	})
	switch {
	case errors.Is(err, engine.ErrConcurrentRun):
		writeError(w, http.StatusConflict, "concurrent_run", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownObject):
		writeError(w, http.StatusBadRequest, "unknown_object", err.Error(), nil)
	case err != nil:
		s.log.Errorf("sync failed: %v", err)
		writeError(w, http.StatusInternalServerError, "sync_failed", err.Error(), nil)
	default:
		writeJSON(w, http.StatusOK, outcomes)
	}
}

func (s *server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	accountID, err := s.engine.AccountID(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "account_error", err.Error(), nil)
		return
	}
	runID, err := s.store.LatestRunID(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_error", err.Error(), nil)
		return
	}
	if runID == "" {
		writeError(w, http.StatusNotFound, "not_found", "no sync run recorded for this account", nil)
		return
	}
	summary, err := s.store.GetRunSummary(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleSyncObjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.ObjectKind{
		"objects": s.engine.SupportedSyncObjects(),
	})
}
