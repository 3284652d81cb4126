package handlers

import (
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	units "github.com/docker/go-units"

	"github.com/MrSnakeDoc/swarmdns/internal/catalog"
	"github.com/MrSnakeDoc/swarmdns/internal/domain"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

//go:embed templates/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

type servicesResponse struct {
	Services  []domain.CatalogEntry `json:"services"`
	Total     int                   `json:"total"`
	Timestamp string                `json:"timestamp"`
}

// Services returns the catalog as JSON.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := d.Catalog.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(servicesResponse{
			Services:  entries,
			Total:     len(entries),
			Timestamp: d.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Health is the plain liveness probe used by the container healthcheck.
func Health(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}

type cardView struct {
	domain.CatalogEntry
	Updated string
}

type groupView struct {
	Category string
	Cards    []cardView
}

type indexView struct {
	Title       string
	Description string
	Zone        string
	Version     string
	Stats       catalog.Stats
	Groups      []groupView
}

// Index renders the HTML dashboard. Snapshot order (category, then name)
// drives the grouping.
func Index(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := d.Now()
		view := indexView{
			Title:       d.Title,
			Description: d.Description,
			Zone:        d.Zone,
			Version:     d.Version,
			Stats:       d.Catalog.Stats(),
		}

		for _, e := range d.Catalog.Snapshot() {
			if n := len(view.Groups); n == 0 || view.Groups[n-1].Category != e.Category {
				view.Groups = append(view.Groups, groupView{Category: e.Category})
			}
			g := &view.Groups[len(view.Groups)-1]
			g.Cards = append(g.Cards, cardView{CatalogEntry: e, Updated: age(now, e.LastUpdated)})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := indexTmpl.Execute(w, view); err != nil {
			d.Logger.Error("failed to render catalog", logger.Error(err))
		}
	}
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return units.HumanDuration(now.Sub(t)) + " ago"
}
