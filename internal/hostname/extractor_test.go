package hostname

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

func newTestExtractor(fromTraefik bool) *Extractor {
	return NewExtractor(Options{
		Zone:          "example.test",
		HostnameLabel: "dns.hostname",
		FromTraefik:   fromTraefik,
	}, logger.NewNop())
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		labels   map[string]string
		traefik  bool
		expected []string
	}{
		{
			name:     "explicit label",
			labels:   map[string]string{"dns.hostname": "app"},
			expected: []string{"app"},
		},
		{
			name:     "explicit label with zone suffix",
			labels:   map[string]string{"dns.hostname": "app.example.test"},
			expected: []string{"app"},
		},
		{
			name:     "explicit label with trailing dot",
			labels:   map[string]string{"dns.hostname": "app.example.test."},
			expected: []string{"app"},
		},
		{
			name: "router rule in zone",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`web.example.test`)",
			},
			traefik:  true,
			expected: []string{"web"},
		},
		{
			name: "router rule outside zone is omitted",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`web.other.test`)",
			},
			traefik:  true,
			expected: nil,
		},
		{
			name: "zone suffix must be a label boundary",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`webexample.test`)",
			},
			traefik:  true,
			expected: nil,
		},
		{
			name: "router rules ignored when disabled",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`web.example.test`)",
			},
			traefik:  false,
			expected: nil,
		},
		{
			name: "explicit label and rule yield the same name once",
			labels: map[string]string{
				"dns.hostname":                  "app",
				"traefik.http.routers.app.rule": "Host(`app.example.test`)",
			},
			traefik:  true,
			expected: []string{"app"},
		},
		{
			name: "explicit label comes first",
			labels: map[string]string{
				"dns.hostname":                  "main",
				"traefik.http.routers.aaa.rule": "Host(`api.example.test`)",
			},
			traefik:  true,
			expected: []string{"main", "api"},
		},
		{
			name: "multiple routers in key order",
			labels: map[string]string{
				"traefik.http.routers.zeta.rule":  "Host(`zeta.example.test`)",
				"traefik.http.routers.alpha.rule": "Host(`alpha.example.test`) && PathPrefix(`/api`)",
			},
			traefik:  true,
			expected: []string{"alpha", "zeta"},
		},
		{
			name: "only the first host of a rule",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`a.example.test`) || Host(`b.example.test`)",
			},
			traefik:  true,
			expected: []string{"a"},
		},
		{
			name: "first host outside zone skips the rule",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`a.other.test`) || Host(`b.example.test`)",
			},
			traefik:  true,
			expected: nil,
		},
		{
			name: "second host needs its own router",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(`a.example.test`) || Host(`b.example.test`)",
				"traefik.http.routers.www.rule": "Host(`b.example.test`)",
			},
			traefik:  true,
			expected: []string{"a", "b"},
		},
		{
			name: "non rule router labels are ignored",
			labels: map[string]string{
				"traefik.http.routers.web.entrypoints": "Host(`web.example.test`)",
				"traefik.http.services.web.rule":       "Host(`svc.example.test`)",
			},
			traefik:  true,
			expected: nil,
		},
		{
			name: "malformed rule",
			labels: map[string]string{
				"traefik.http.routers.web.rule": "Host(web.example.test",
			},
			traefik:  true,
			expected: nil,
		},
		{
			name:     "invalid explicit hostname is dropped",
			labels:   map[string]string{"dns.hostname": strings.Repeat("x", 64)},
			expected: nil,
		},
		{
			name:     "empty explicit label",
			labels:   map[string]string{"dns.hostname": "  "},
			expected: nil,
		},
		{
			name:     "no labels",
			labels:   nil,
			traefik:  true,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestExtractor(tt.traefik).Extract(tt.labels)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Every kept router host equals the token minus the zone suffix.
func TestExtractRouterSuffixProperty(t *testing.T) {
	e := newTestExtractor(true)
	tokens := []string{"a.example.test", "deep.sub.example.test", "x.example.org", "example.test", "b.example.test.evil"}

	for _, tok := range tokens {
		got := e.Extract(map[string]string{
			"traefik.http.routers.r.rule": "Host(`" + tok + "`)",
		})
		if strings.HasSuffix(tok, ".example.test") {
			want := strings.TrimSuffix(tok, ".example.test")
			if len(got) != 1 || got[0] != want {
				t.Errorf("token %q: Extract() = %v, want [%s]", tok, got, want)
			}
			continue
		}
		if len(got) != 0 {
			t.Errorf("token %q: Extract() = %v, want empty", tok, got)
		}
	}
}
