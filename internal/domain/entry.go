package domain

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CatalogEntry is one card of the service catalog.
//
// Auto-discovered entries are keyed by their short hostname, manual entries by
// a slug of their display name. A second write for the same key replaces the
// first one, whatever its origin.
type CatalogEntry struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// ID is the registry key.
	// Auto-discovered: short hostname (ex: grafana). Manual: slug (ex: nas-admin).
	ID string `json:"id"`

	// ServiceName is the Swarm service the entry was derived from.
	// Empty for manual entries.
	ServiceName string `json:"service_name,omitempty"`

	// Hostname is the short DNS name inside the managed zone.
	// Empty for manual entries.
	Hostname string `json:"hostname"`

	// ─────────────────────────────
	// Presentation
	// ─────────────────────────────

	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Category    string `json:"category"`

	// ─────────────────────────────
	// Provenance
	// ─────────────────────────────

	AutoDiscovered bool      `json:"auto_discovered"`
	HasCertificate bool      `json:"has_certificate"`
	LastUpdated    time.Time `json:"last_updated"`
}

const (
	CategoryInfrastructure = "Infrastructure"
	CategoryMonitoring     = "Monitoring"
	CategoryData           = "Data"
	CategoryApplications   = "Applications"

	// CategoryOther is used for manual entries that declare no category.
	CategoryOther = "Other"
)

// categoryKeywords is evaluated in order: the first bucket with a keyword
// contained in the service name wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryInfrastructure, []string{"traefik", "portainer", "prometheus", "grafana", "dns", "catalog"}},
	{CategoryMonitoring, []string{"monitor", "cadvisor", "node-exporter", "alertmanager"}},
	{CategoryData, []string{"postgres", "mysql", "mariadb", "mongo", "redis", "minio"}},
}

// Categorize maps a service name to a catalog category by keyword.
func Categorize(serviceName string) string {
	name := strings.ToLower(serviceName)
	for _, bucket := range categoryKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(name, kw) {
				return bucket.category
			}
		}
	}
	return CategoryApplications
}

var separators = strings.NewReplacer("_", " ", "-", " ")

// DisplayName turns a service name into a human readable title.
// Example: "monitoring_node-exporter" -> "Monitoring Node Exporter"
// A Caser carries state, so each call builds its own.
func DisplayName(serviceName string) string {
	return cases.Title(language.English).String(separators.Replace(serviceName))
}

// ServiceURL returns the public URL of a hostname in zone.
func ServiceURL(hostname, zone string) string {
	return fmt.Sprintf("https://%s.%s", hostname, zone)
}

// Slug derives a manual entry id from its display name.
// Example: "NAS Admin" -> "nas-admin"
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
