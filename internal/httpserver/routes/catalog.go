package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/handlers"
)

func init() { Register(registerCatalog) }

func registerCatalog(r chi.Router, d deps.Deps) {
	r.Get("/", handlers.Index(d))
	r.Get("/index.html", handlers.Index(d))
	r.Get("/api/services", handlers.Services(d))
}
