// Package routes collects route groups. Each file registers its group from
// init; server.NewRouter mounts them all.
package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
)

// Registrar mounts one group of routes.
type Registrar func(r chi.Router, d deps.Deps)

var registry []Registrar

// Register adds a route group. Groups are mounted in registration order.
func Register(reg Registrar) {
	registry = append(registry, reg)
}

// RegisterAll mounts every registered group on r.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, reg := range registry {
		reg(r, d)
	}
}
