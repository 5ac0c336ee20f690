// Package rest exposes the designer session service over HTTP.
package rest

import (
	"net/http"

	"crewcanvas/application/crews"
	"crewcanvas/application/execution"
	"crewcanvas/application/ports"
	"crewcanvas/application/secrets"
	"crewcanvas/application/tabs"
	"crewcanvas/application/tracker"
	"crewcanvas/infrastructure/observability"
	"crewcanvas/interfaces/http/rest/handlers"
	"crewcanvas/interfaces/http/rest/middleware"
	"crewcanvas/pkg/clock"
	"crewcanvas/pkg/common"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// CORSConfig controls the CORS middleware
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
}

// Dependencies are the services the routes call into
type Dependencies struct {
	Store     *tabs.Store
	Crews     *crews.Service
	Execution *execution.Service
	Tracker   *tracker.Tracker
	Secrets   *secrets.Store
	Publisher ports.EventPublisher
	Metrics   *observability.Collector
	Clock     clock.Clock
	CORS      CORSConfig
}

// Router creates and configures the HTTP router
type Router struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(deps Dependencies, logger *zap.Logger) *Router {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Router{deps: deps, logger: logger}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.deps.Metrics != nil {
		router.Use(middleware.Metrics(rt.deps.Metrics))
	}

	if rt.deps.CORS.Enabled {
		origins := rt.deps.CORS.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.deps.Metrics != nil {
		router.Handle("/metrics", rt.deps.Metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/tabs", func(r chi.Router) {
			h := handlers.NewTabHandler(rt.deps.Store, rt.deps.Crews, rt.deps.Execution, rt.logger)
			r.Get("/", h.ListTabs)
			r.Post("/", h.CreateTab)
			r.Delete("/", h.ClearTabs)

			r.Route("/{tabID}", func(r chi.Router) {
				r.Get("/", h.GetTab)
				r.Delete("/", h.CloseTab)
				r.Patch("/", h.RenameTab)
				r.Post("/activate", h.ActivateTab)
				r.Post("/duplicate", h.DuplicateTab)
				r.Put("/graph", h.UpdateGraph)
				r.Post("/clean", h.MarkClean)
				r.Put("/status", h.SetStatus)
				r.Delete("/status", h.ClearStatus)
				r.Post("/run", h.RunTab)
				r.Post("/save", h.SaveTab)
				r.Post("/update", h.UpdateTab)
				r.Post("/import", h.ImportCrew)
			})
		})

		r.Route("/executions", func(r chi.Router) {
			h := handlers.NewExecutionHandler(rt.deps.Execution, rt.deps.Tracker, rt.logger)
			r.Post("/active", h.RunActive)
			r.Post("/signal", h.Signal)
		})

		r.Route("/secrets", func(r chi.Router) {
			h := handlers.NewSecretHandler(rt.deps.Secrets, rt.logger)
			r.Get("/", h.ListSecrets)
			r.Get("/api-keys", h.ListAPIKeys)
			r.Put("/api-keys/{name}", h.SetAPIKey)
			r.Delete("/api-keys/{name}", h.DeleteAPIKey)
			r.Get("/editor", h.GetEditor)
			r.Post("/editor", h.OpenEditor)
			r.Delete("/editor", h.CloseEditor)
		})

		r.Post("/layout/arrange", handlers.NewLayoutHandler(rt.deps.Store, rt.deps.Publisher, rt.deps.Clock, rt.logger).Arrange)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessCheck reports ready once the tab store holds a tab
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if rt.deps.Store == nil || rt.deps.Store.Len() == 0 {
		common.RespondError(w, http.StatusServiceUnavailable, common.StandardErrorCodes.ServiceUnavailable, "session not loaded")
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
