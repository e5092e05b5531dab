package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stripesync/internal/config"
	"stripesync/internal/engine"
	"stripesync/internal/logging"
	"stripesync/internal/metrics"
	"stripesync/internal/store"
	"stripesync/internal/ws"
)

type Dependencies struct {
	Config  config.Config
	Engine  *engine.Engine
	Store   *store.Store
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	srv := &server{
		cfg:     dep.Config,
		engine:  dep.Engine,
		store:   dep.Store,
		hub:     dep.Hub,
		metrics: dep.Metrics,
		log:     dep.Logger,
	}
	if srv.log == nil {
		srv.log = logging.Default()
	}
	r.Use(srv.observeRequests)

	// The webhook receiver skips the API token: the provider authenticates
	// with the signature header instead.
	r.Post("/webhooks/stripe", srv.handleWebhook)

	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.requireAPIToken)

	apiRouter.Get("/ws", srv.handleWS)

	apiRouter.Route("/sync", func(r chi.Router) {
		r.Post("/", srv.handleTriggerSync)
		r.Get("/status", srv.handleSyncStatus)
		r.Get("/objects", srv.handleSyncObjects)
		r.Post("/{object}", srv.handleSyncObject)
	})

	apiRouter.Route("/webhooks/managed", func(r chi.Router) {
		r.Get("/", srv.handleListManagedWebhooks)
		r.Post("/", srv.handleCreateManagedWebhook)
		r.Delete("/{webhookId}", srv.handleDeleteManagedWebhook)
	})

	apiRouter.Delete("/accounts/{accountId}", srv.handleDeleteAccount)

	r.Mount("/api/v1", apiRouter)

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		dep.Metrics.Handler().ServeHTTP(w, req)
	})
	r.Get("/healthz", srv.handleHealth)

	return r
}
