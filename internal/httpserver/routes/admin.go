package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/mw"
	"github.com/MrSnakeDoc/swarmdns/internal/metrics"
)

func init() { Register(registerAdmin) }

func registerAdmin(r chi.Router, d deps.Deps) {
	restricted := r.With(mw.RestrictToCIDRs(d.AllowedCIDRS, d.TrustProxy, d.Logger))

	restricted.Get("/infra", handlers.Infra(d))
	restricted.Method("GET", "/metrics", metrics.Handler())
	restricted.With(mw.RateLimit(mw.RateLimitConfig{
		Burst:             5,
		RefillPerIPPerMin: 6,
		MaxEntries:        1024,
		IdleTTL:           15 * time.Minute,
		TrustProxy:        d.TrustProxy,
	}, d.Logger)).Post("/reload", handlers.Reload(d))
}
