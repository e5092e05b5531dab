package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stripesync/internal/models"
)

// handleDeleteAccount wipes one account's mirrored state. Transactional by
// default; ?dryRun=true reports counts without deleting anything.
func (s *server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "account id is required", nil)
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))
	useTransaction := true
	if raw := r.URL.Query().Get("useTransaction"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid useTransaction value", nil)
			return
		}
		useTransaction = parsed
	}

	result, err := s.engine.DangerouslyDeleteAccount(r.Context(), accountID, models.DeleteAccountOptions{
		DryRun:         dryRun,
		UseTransaction: useTransaction,
	})
	if err != nil {
		s.log.Errorf("delete account %s: %v", accountID, err)
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
