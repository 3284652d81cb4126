// Package hostname derives the DNS names a Swarm service wants from its labels.
package hostname

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

// hostRule matches a Host(`fqdn`) matcher of a traefik router rule.
var hostRule = regexp.MustCompile("Host\\(`([^`]+)`\\)")

const (
	routerKeyPrefix = "traefik.http.routers"
	routerKeyRule   = ".rule"
)

// Options configures an Extractor.
type Options struct {
	Zone          string // managed DNS zone, ex: example.test
	HostnameLabel string // explicit override label, ex: dns.hostname
	FromTraefik   bool   // scan traefik router rules
}

// Extractor turns service labels into short hostnames inside Zone.
type Extractor struct {
	opts   Options
	suffix string
	log    logger.Logger
}

// NewExtractor creates an extractor for the given zone.
func NewExtractor(opts Options, log logger.Logger) *Extractor {
	return &Extractor{
		opts:   opts,
		suffix: "." + strings.TrimSuffix(opts.Zone, "."),
		log:    log,
	}
}

// Extract returns the ordered, de-duplicated short names declared by labels.
// An empty result means the service has nothing for us to manage. Extract
// never fails: malformed input is logged and yields an empty slice.
func (e *Extractor) Extract(labels map[string]string) (hostnames []string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("hostname extraction failed",
				logger.String("panic", fmt.Sprint(r)))
			hostnames = nil
		}
	}()

	seen := make(map[string]bool)
	add := func(name, origin string) {
		if name == "" || seen[name] {
			return
		}
		if _, ok := dns.IsDomainName(name); !ok {
			e.log.Warn("ignoring invalid hostname",
				logger.String("hostname", name),
				logger.String("origin", origin))
			return
		}
		seen[name] = true
		hostnames = append(hostnames, name)
	}

	// Explicit label first
	if e.opts.HostnameLabel != "" {
		if v, ok := labels[e.opts.HostnameLabel]; ok {
			add(e.stripZone(strings.TrimSpace(v)), e.opts.HostnameLabel)
		}
	}

	if e.opts.FromTraefik {
		for _, key := range routerRuleKeys(labels) {
			fqdn, ok := hostToken(labels[key])
			if !ok {
				continue
			}
			short, ok := e.inZone(fqdn)
			if !ok {
				e.log.Debug("router host outside managed zone",
					logger.String("label", key),
					logger.String("host", fqdn))
				continue
			}
			add(short, key)
		}
	}

	return hostnames
}

// stripZone removes the zone suffix when present. Values outside the zone
// are returned as-is: the label is an explicit operator decision.
func (e *Extractor) stripZone(name string) string {
	name = strings.TrimSuffix(name, ".")
	return strings.TrimSuffix(name, e.suffix)
}

// inZone returns the short name of fqdn when it belongs to the zone.
func (e *Extractor) inZone(fqdn string) (string, bool) {
	fqdn = strings.TrimSuffix(strings.TrimSpace(fqdn), ".")
	if !strings.HasSuffix(fqdn, e.suffix) {
		return "", false
	}
	short := strings.TrimSuffix(fqdn, e.suffix)
	return short, short != ""
}

// routerRuleKeys returns the traefik router rule label keys in lexical order.
func routerRuleKeys(labels map[string]string) []string {
	keys := make([]string, 0, 2)
	for key := range labels {
		if strings.Contains(key, routerKeyPrefix) && strings.Contains(key, routerKeyRule) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// hostToken returns the first Host matcher of rule. Further matchers in the
// same rule are not managed.
func hostToken(rule string) (string, bool) {
	m := hostRule.FindStringSubmatch(rule)
	if m == nil {
		return "", false
	}
	return m[1], true
}
