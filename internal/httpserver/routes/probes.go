package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/handlers"
)

func init() { Register(registerProbes) }

// Probes stay reachable from anywhere: the orchestrator calls them.
func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/health", handlers.Health(d))
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))
}
