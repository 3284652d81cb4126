package homepage

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/MrSnakeDoc/swarmdns/internal/catalog"
)

// ErrNoServices is returned when a services file yields no usable entry.
var ErrNoServices = errors.New("no valid services found in homepage config")

// Mapper converts Homepage services to manual catalog entries.
type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

// MapServices flattens the config into manual entries. The Homepage group
// becomes the catalog category. Entries without an absolute http(s) href are
// skipped.
func (m *Mapper) MapServices(config ServicesConfig) ([]catalog.Manual, error) {
	var out []catalog.Manual

	for _, groupMap := range config {
		for _, group := range sortedKeys(groupMap) {
			for _, serviceMap := range groupMap[group] {
				for _, name := range sortedKeys(serviceMap) {
					props := serviceMap[name]
					if !usableHref(props.Href) {
						continue
					}
					out = append(out, catalog.Manual{
						Name:        strings.TrimSpace(name),
						URL:         props.Href,
						Description: props.Description,
						Category:    strings.TrimSpace(group),
					})
				}
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoServices
	}
	return out, nil
}

func usableHref(href string) bool {
	if href == "" {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// sortedKeys keeps the output stable: yaml maps carry no order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
