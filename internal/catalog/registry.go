// Package catalog holds the in-memory service catalog shown on the dashboard.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/swarmdns/internal/domain"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
	"github.com/MrSnakeDoc/swarmdns/internal/metrics"
)

const mirrorTimeout = 2 * time.Second

// Mirror receives a copy of every catalog change. It is write-only from the
// registry's point of view.
type Mirror interface {
	SaveEntry(ctx context.Context, entry *domain.CatalogEntry) error
	DeleteEntry(ctx context.Context, id string) error
}

// Manual describes a statically configured catalog entry.
type Manual struct {
	Name        string
	URL         string
	Description string
	Category    string
}

// Stats summarises the catalog content.
type Stats struct {
	Total           int       `json:"total"`
	AutoDiscovered  int       `json:"auto_discovered"`
	Manual          int       `json:"manual"`
	WithCertificate int       `json:"with_certificate"`
	LastChange      time.Time `json:"last_change"`
}

// Registry maps an entry id to its catalog entry. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*domain.CatalogEntry
	lastChange time.Time

	mirror Mirror
	now    func() time.Time
	log    logger.Logger
}

// NewRegistry creates an empty registry. mirror may be nil.
func NewRegistry(mirror Mirror, log logger.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*domain.CatalogEntry),
		mirror:  mirror,
		now:     time.Now,
		log:     log,
	}
}

// Upsert records an entry for a reconciled hostname, replacing any entry with
// the same key.
func (r *Registry) Upsert(hostname, serviceName, zone string, autoDiscovered, hasCertificate bool) *domain.CatalogEntry {
	entry := &domain.CatalogEntry{
		ID:             hostname,
		ServiceName:    serviceName,
		Hostname:       hostname,
		Name:           domain.DisplayName(serviceName),
		URL:            domain.ServiceURL(hostname, zone),
		Category:       domain.Categorize(serviceName),
		AutoDiscovered: autoDiscovered,
		HasCertificate: hasCertificate,
	}
	r.put(entry)

	r.log.Debug("catalog entry updated",
		logger.String("hostname", hostname),
		logger.String("category", entry.Category),
		logger.Bool("has_certificate", hasCertificate))
	return entry
}

// AddManual records a statically configured entry keyed by its slug.
func (r *Registry) AddManual(m Manual) *domain.CatalogEntry {
	category := m.Category
	if category == "" {
		category = domain.CategoryOther
	}

	entry := &domain.CatalogEntry{
		ID:             domain.Slug(m.Name),
		Name:           m.Name,
		URL:            m.URL,
		Description:    m.Description,
		Category:       category,
		AutoDiscovered: false,
		HasCertificate: strings.HasPrefix(m.URL, "https://"),
	}
	r.put(entry)
	return entry
}

func (r *Registry) put(entry *domain.CatalogEntry) {
	r.mu.Lock()
	entry.LastUpdated = r.now()
	r.entries[entry.ID] = entry
	r.lastChange = entry.LastUpdated
	n := len(r.entries)
	r.mu.Unlock()

	metrics.CatalogEntries.Set(float64(n))

	if r.mirror != nil {
		cp := *entry
		r.mirrorDo("save", entry.ID, func(ctx context.Context) error {
			return r.mirror.SaveEntry(ctx, &cp)
		})
	}
}

// Remove deletes the entry if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	if ok {
		r.lastChange = r.now()
	}
	n := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.CatalogEntries.Set(float64(n))

	if r.mirror != nil {
		r.mirrorDo("delete", id, func(ctx context.Context) error {
			return r.mirror.DeleteEntry(ctx, id)
		})
	}
}

func (r *Registry) mirrorDo(op, id string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.log.Warn("catalog mirror write failed",
			logger.String("op", op),
			logger.String("id", id),
			logger.Error(err))
	}
}

// Get returns a copy of the entry.
func (r *Registry) Get(id string) (domain.CatalogEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return *e, true
}

// Snapshot returns a copy of every entry, sorted by category then name.
func (r *Registry) Snapshot() []domain.CatalogEntry {
	r.mu.RLock()
	out := make([]domain.CatalogEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.entries), LastChange: r.lastChange}
	for _, e := range r.entries {
		if e.AutoDiscovered {
			s.AutoDiscovered++
		} else {
			s.Manual++
		}
		if e.HasCertificate {
			s.WithCertificate++
		}
	}
	return s
}
