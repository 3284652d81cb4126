package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
)

const timeLayout = "2006-01-02 15:04:05"

type componentStatus struct {
	OK         bool   `json:"ok"`
	Entries    *int   `json:"entries,omitempty"`
	Managed    *int   `json:"managed_services,omitempty"`
	Hostnames  *int   `json:"hostnames,omitempty"`
	LastChange string `json:"last_change,omitempty"`
	LastSync   string `json:"last_sync,omitempty"`
	Principal  string `json:"principal,omitempty"`
	LastAuth   string `json:"last_auth,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Error      string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the state of every component.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"catalog": catalogStatus(d),
			"engine":  engineStatus(d),
			"freeipa": sessionStatus(d),
			"redis":   mirrorStatus(r.Context(), d),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(infraResponse{
			Mode:       overallMode(components),
			Components: components,
		})
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(timeLayout)
}

func catalogStatus(d deps.Deps) componentStatus {
	s := d.Catalog.Stats()
	return componentStatus{
		OK:         true,
		Entries:    &s.Total,
		LastChange: formatTime(s.LastChange),
	}
}

func engineStatus(d deps.Deps) componentStatus {
	s := d.Engine.Status()
	return componentStatus{
		OK:        s.Ready,
		Managed:   &s.ManagedServices,
		Hostnames: &s.Hostnames,
		LastSync:  formatTime(s.LastSync),
	}
}

func sessionStatus(d deps.Deps) componentStatus {
	if d.Session == nil {
		return componentStatus{OK: false, Error: "session not initialized"}
	}
	last := d.Session.LastAuthenticated()
	return componentStatus{
		OK:        !last.IsZero(),
		Principal: d.Session.Principal(),
		LastAuth:  formatTime(last),
	}
}

func mirrorStatus(ctx context.Context, d deps.Deps) componentStatus {
	if d.Mirror == nil {
		return componentStatus{OK: true, Mode: "disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.Mirror.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: "degraded", Error: err.Error()}
	}
	n, err := d.Mirror.Count(ctx)
	if err != nil {
		return componentStatus{OK: false, Mode: "degraded", Error: err.Error()}
	}
	if want := d.Catalog.Stats().Total; n != want {
		return componentStatus{
			OK:      false,
			Entries: &n,
			Mode:    "drift",
			Error:   fmt.Sprintf("mirror holds %d entries, catalog holds %d", n, want),
		}
	}
	return componentStatus{OK: true, Entries: &n, Mode: "mirroring"}
}

// overallMode is "critical" until the engine is ready, "degraded" when an
// auxiliary component is down.
func overallMode(components map[string]componentStatus) string {
	if !components["engine"].OK {
		return "critical"
	}
	for name, c := range components {
		if name != "engine" && !c.OK {
			return "degraded"
		}
	}
	return "operational"
}
