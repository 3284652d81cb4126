// Package reconciler drives DNS records, certificates and catalog entries
// toward the set of opted-in Swarm services.
//
// All mutations happen on the goroutine running Engine.Run (and Bootstrap
// before it). Status accessors may be called from any goroutine.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/swarmdns/internal/domain"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
	"github.com/MrSnakeDoc/swarmdns/internal/metrics"
)

// ErrStreamClosed is returned by Run when the event stream ends on its own.
var ErrStreamClosed = errors.New("event stream closed")

// ErrResyncPending is returned by TriggerResync when a resync is already
// queued.
var ErrResyncPending = errors.New("resync already pending")

const defaultAuthInterval = time.Hour

type ClusterSource interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
	GetService(ctx context.Context, id string) (domain.Service, error)
	Events(ctx context.Context) (<-chan domain.Event, <-chan error)
}

type Directory interface {
	AddDNSRecord(ctx context.Context, hostname string, ips []string) error
	RemoveDNSRecord(ctx context.Context, hostname string, ips []string) error
	RequestCertificate(ctx context.Context, hostname string) error
	RevokeCertificate(ctx context.Context, hostname string) error
	CertificatesEnabled() bool
}

type Registry interface {
	Upsert(hostname, serviceName, zone string, autoDiscovered, hasCertificate bool) *domain.CatalogEntry
	Remove(id string)
}

type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

type Extractor interface {
	Extract(labels map[string]string) []string
}

// Options holds the engine settings taken from configuration.
type Options struct {
	Zone           string
	IngressIPs     []string
	RequiredLabel  string
	AuthInterval   time.Duration
	ResyncInterval time.Duration // 0 disables periodic resync
}

// Deps groups the collaborators of the engine.
type Deps struct {
	Cluster   ClusterSource
	Directory Directory
	Registry  Registry
	Auth      Authenticator
	Extractor Extractor
}

// Engine owns the map of managed services.
type Engine struct {
	deps Deps
	opts Options
	log  logger.Logger

	mu       sync.RWMutex
	managed  map[string]managedService
	lastSync time.Time

	ready   atomic.Bool
	trigger chan struct{}
}

type managedService struct {
	name      string
	hostnames []string
}

// Status is a point-in-time view of the engine for the HTTP surface.
type Status struct {
	Ready           bool      `json:"ready"`
	ManagedServices int       `json:"managed_services"`
	Hostnames       int       `json:"hostnames"`
	LastSync        time.Time `json:"last_sync"`
}

func New(deps Deps, opts Options, log logger.Logger) *Engine {
	if opts.AuthInterval <= 0 {
		opts.AuthInterval = defaultAuthInterval
	}
	return &Engine{
		deps:    deps,
		opts:    opts,
		log:     log,
		managed: make(map[string]managedService),
		trigger: make(chan struct{}, 1),
	}
}

// Bootstrap authenticates and runs the initial sync. An authentication
// failure is returned and must stop the process.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.deps.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("initial freeipa authentication failed: %w", err)
	}

	e.Sync(ctx)
	e.ready.Store(true)
	return nil
}

// Sync lists every service and ensures the opted-in ones are present.
// A listing failure is logged and leaves the managed map untouched.
func (e *Engine) Sync(ctx context.Context) {
	e.sync(ctx, "startup", false)
}

func (e *Engine) sync(ctx context.Context, trigger string, prune bool) {
	metrics.Syncs.WithValues(trigger).Inc(1)
	e.log.Info("synchronising swarm services", logger.String("trigger", trigger))

	services, err := e.deps.Cluster.ListServices(ctx)
	if err != nil {
		e.log.Error("failed to list swarm services", logger.Error(err))
		return
	}

	seen := make(map[string]struct{}, len(services))
	managed := 0
	for _, svc := range services {
		seen[svc.ID] = struct{}{}
		if !svc.IsManaged(e.opts.RequiredLabel) {
			continue
		}
		hostnames := e.deps.Extractor.Extract(svc.Labels)
		if len(hostnames) == 0 {
			e.log.Warn("managed service has no hostname",
				logger.String("service", svc.Name))
			continue
		}
		e.ensureService(ctx, svc, hostnames)
		managed++
	}

	if prune {
		e.pruneVanished(ctx, seen)
	}

	e.mu.Lock()
	e.lastSync = time.Now()
	e.mu.Unlock()

	e.log.Info("synchronisation complete",
		logger.Int("services", len(services)),
		logger.Int("managed", managed))
}

// pruneVanished handles services that disappeared without a remove event
// reaching us.
func (e *Engine) pruneVanished(ctx context.Context, seen map[string]struct{}) {
	for _, id := range e.trackedIDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		e.log.Info("tracked service no longer exists",
			logger.String("service_id", domain.ShortID(id)))
		e.removeService(ctx, id)
	}
}

// Run processes cluster events until ctx is cancelled (nil) or the event
// stream fails (error).
func (e *Engine) Run(ctx context.Context) error {
	events, errs := e.deps.Cluster.Events(ctx)

	authTicker := time.NewTicker(e.opts.AuthInterval)
	defer authTicker.Stop()

	var resync <-chan time.Time
	if e.opts.ResyncInterval > 0 {
		t := time.NewTicker(e.opts.ResyncInterval)
		defer t.Stop()
		resync = t.C
	}

	e.log.Info("listening for swarm service events",
		logger.Duration("auth_interval", e.opts.AuthInterval),
		logger.Duration("resync_interval", e.opts.ResyncInterval))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				select {
				case err := <-errs:
					return fmt.Errorf("swarm event stream failed: %w", err)
				default:
					return ErrStreamClosed
				}
			}
			e.HandleEvent(ctx, ev)

		case err := <-errs:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("swarm event stream failed: %w", err)

		case <-authTicker.C:
			if err := e.deps.Auth.EnsureAuthenticated(ctx); err != nil {
				e.log.Warn("periodic freeipa authentication failed", logger.Error(err))
			}

		case <-resync:
			e.sync(ctx, "interval", true)

		case <-e.trigger:
			e.sync(ctx, "manual", true)
		}
	}
}

// TriggerResync queues a full resync on the event loop.
func (e *Engine) TriggerResync() error {
	select {
	case e.trigger <- struct{}{}:
		return nil
	default:
		return ErrResyncPending
	}
}

// HandleEvent applies one event. A panic is logged and swallowed.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Panics.Inc(1)
			e.log.Error("panic while handling event",
				logger.String("action", string(ev.Action)),
				logger.String("service_id", domain.ShortID(ev.ServiceID)),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	if ev.ServiceID == "" {
		e.log.Debug("ignoring event without service id", logger.String("action", string(ev.Action)))
		return
	}
	metrics.Events.WithValues(string(ev.Action)).Inc(1)

	switch ev.Action {
	case domain.ActionRemove:
		e.removeService(ctx, ev.ServiceID)
	case domain.ActionCreate, domain.ActionUpdate:
		e.upsertService(ctx, ev)
	default:
		e.log.Debug("ignoring event",
			logger.String("action", string(ev.Action)),
			logger.String("service_id", domain.ShortID(ev.ServiceID)))
	}
}

func (e *Engine) removeService(ctx context.Context, id string) {
	e.mu.RLock()
	svc, ok := e.managed[id]
	e.mu.RUnlock()

	if !ok {
		e.log.Debug("ignoring removal of untracked service", logger.String("service_id", domain.ShortID(id)))
		return
	}

	e.log.Info("service removed",
		logger.String("service", svc.name),
		logger.Strings("hostnames", svc.hostnames))
	for _, h := range svc.hostnames {
		e.ensureAbsent(ctx, h)
	}

	e.mu.Lock()
	delete(e.managed, id)
	n := len(e.managed)
	e.mu.Unlock()
	metrics.ManagedServices.Set(float64(n))
}

// upsertService re-derives the hostnames of a created or updated service.
// Hostnames dropped by an update are forgotten without cleanup. A service
// that stops qualifying keeps its recorded hostnames until it is removed.
func (e *Engine) upsertService(ctx context.Context, ev domain.Event) {
	svc, err := e.deps.Cluster.GetService(ctx, ev.ServiceID)
	if err != nil {
		if errors.Is(err, domain.ErrServiceNotFound) {
			e.log.Debug("service vanished before inspection",
				logger.String("service_id", domain.ShortID(ev.ServiceID)))
			return
		}
		e.log.Error("failed to inspect service",
			logger.String("service_id", domain.ShortID(ev.ServiceID)),
			logger.Error(err))
		return
	}

	if !svc.IsManaged(e.opts.RequiredLabel) {
		e.log.Debug("service not managed", logger.String("service", svc.Name))
		return
	}

	hostnames := e.deps.Extractor.Extract(svc.Labels)
	if len(hostnames) == 0 {
		e.log.Warn("managed service has no hostname", logger.String("service", svc.Name))
		return
	}

	e.log.Info("service changed",
		logger.String("action", string(ev.Action)),
		logger.String("service", svc.Name),
		logger.Strings("hostnames", hostnames))
	e.ensureService(ctx, svc, hostnames)
}

func (e *Engine) ensureService(ctx context.Context, svc domain.Service, hostnames []string) {
	for _, h := range hostnames {
		e.ensurePresent(ctx, svc.Name, h)
	}

	e.mu.Lock()
	e.managed[svc.ID] = managedService{name: svc.Name, hostnames: slices.Clone(hostnames)}
	n := len(e.managed)
	e.mu.Unlock()
	metrics.ManagedServices.Set(float64(n))
}

// ensurePresent runs every step even when an earlier one failed.
func (e *Engine) ensurePresent(ctx context.Context, serviceName, hostname string) {
	if err := e.deps.Directory.AddDNSRecord(ctx, hostname, e.opts.IngressIPs); err != nil {
		e.log.Error("failed to add dns record",
			logger.String("hostname", hostname),
			logger.Error(err))
	}

	hasCert := false
	if e.deps.Directory.CertificatesEnabled() {
		if err := e.deps.Directory.RequestCertificate(ctx, hostname); err != nil {
			e.log.Error("failed to obtain certificate",
				logger.String("hostname", hostname),
				logger.Error(err))
		} else {
			hasCert = true
		}
	}

	e.deps.Registry.Upsert(hostname, serviceName, e.opts.Zone, true, hasCert)
}

func (e *Engine) ensureAbsent(ctx context.Context, hostname string) {
	if err := e.deps.Directory.RemoveDNSRecord(ctx, hostname, e.opts.IngressIPs); err != nil {
		e.log.Error("failed to remove dns record",
			logger.String("hostname", hostname),
			logger.Error(err))
	}
	if err := e.deps.Directory.RevokeCertificate(ctx, hostname); err != nil {
		e.log.Error("failed to remove certificate",
			logger.String("hostname", hostname),
			logger.Error(err))
	}
	e.deps.Registry.Remove(hostname)
}

func (e *Engine) trackedIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.managed))
	for id := range e.managed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Managed returns a copy of service id -> hostnames.
func (e *Engine) Managed() map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string][]string, len(e.managed))
	for id, svc := range e.managed {
		out[id] = slices.Clone(svc.hostnames)
	}
	return out
}

// Ready reports whether the startup sync completed.
func (e *Engine) Ready() bool { return e.ready.Load() }

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Status{
		Ready:           e.ready.Load(),
		ManagedServices: len(e.managed),
		LastSync:        e.lastSync,
	}
	for _, svc := range e.managed {
		s.Hostnames += len(svc.hostnames)
	}
	return s
}
