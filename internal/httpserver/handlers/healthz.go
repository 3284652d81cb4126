package handlers

import (
	"encoding/json"
	"net/http"

	units "github.com/docker/go-units"

	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
)

type buildInfo struct {
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

type healthzResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Version       string    `json:"version,omitempty"`
	Build         buildInfo `json:"build"`
}

// Healthz is liveness with build details. It never depends on the engine:
// a process that answers is alive.
func Healthz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := d.Now().Sub(d.StartTime)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(healthzResponse{
			Status:        "ok",
			Uptime:        units.HumanDuration(uptime),
			UptimeSeconds: uptime.Seconds(),
			Version:       d.Version,
			Build: buildInfo{
				Commit:    d.Commit,
				Date:      d.BuildDate,
				GoVersion: d.GoVersion,
			},
		})
	}
}
