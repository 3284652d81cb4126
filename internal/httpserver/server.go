// Package httpserver serves the service catalog: the dashboard, the JSON API,
// probes and the admin endpoints.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/swarmdns/internal/config"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/mw"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/routes"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

// requestTimeout bounds every handler; /infra pings the mirror.
const requestTimeout = 5 * time.Second

type Server struct {
	srv     *http.Server
	log     logger.Logger
	started time.Time
}

// NewRouter returns the chi router with the global middleware chain and every
// registered route.
func NewRouter(log logger.Logger, d deps.Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.GetHead,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		mw.Log(log),
	)
	routes.RegisterAll(r, d)
	return r
}

func New(web config.Web, log logger.Logger, d deps.Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              web.ListenAddr(),
			Handler:           NewRouter(log, d),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		log:     log,
		started: d.StartTime,
	}
}

// Start blocks until the server fails or is shut down. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	s.log.Info("catalog server listening", logger.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("catalog server shutting down",
		logger.Duration("uptime", time.Since(s.started)))
	return s.srv.Shutdown(ctx)
}
