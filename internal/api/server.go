package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"stripesync/internal/config"
	"stripesync/internal/engine"
	"stripesync/internal/logging"
	"stripesync/internal/metrics"
	"stripesync/internal/store"
	"stripesync/internal/ws"
)

type server struct {
	cfg     config.Config
	engine  *engine.Engine
	store   *store.Store
	hub     *ws.Hub
	metrics *metrics.Metrics
	log     *logging.Logger
}

func (s *server) requireAPIToken(next http.Handler) http.Handler {
	if s.cfg.APIToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Api-Token")
		if token == "" && isWebSocketUpgrade(r) {
			token = r.URL.Query().Get("apiToken")
		}
		if token != s.cfg.APIToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}
