package homepage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

func nopLogger() logger.Logger { return logger.NewNop() }

func writeServices(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test YAML file: %v", err)
	}
	return path
}

func TestLoaderLoadManual(t *testing.T) {
	path := writeServices(t, `---
- Infrastructure:
    - AdGuard Home:
        icon: adguard-home.svg
        href: https://adguard.domain.ext
        description: Network-wide ads & trackers blocking DNS server
        widget:
          type: adguard
          username: {{HOMEPAGE_VAR_ADGUARD_USER}}
    - Hidden:
        href: {{HOMEPAGE_VAR_HIDDEN_URL}}
`)

	got, err := NewLoader(path).LoadManual()
	if err != nil {
		t.Fatalf("LoadManual() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LoadManual() returned %d entries, want 1", len(got))
	}
	if got[0].Name != "AdGuard Home" || got[0].Category != "Infrastructure" {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestLoaderLoadFileNotFound(t *testing.T) {
	if _, err := NewLoader("/nonexistent/path/services.yaml").Load(); err == nil {
		t.Error("Load() with non-existent file should return error")
	}
}

func TestLoaderLoadInvalidYAML(t *testing.T) {
	path := writeServices(t, "- Infrastructure: [unterminated\n")
	if _, err := NewLoader(path).LoadManual(); err == nil {
		t.Error("LoadManual() with invalid yaml should return error")
	}
}

func TestStripTemplateVariablesFunc(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "single template variable",
			input:    []byte("url: {{HOMEPAGE_VAR_URL}}"),
			expected: "url: \"\"",
		},
		{
			name:     "two variables on one line",
			input:    []byte("a: {{HOMEPAGE_VAR_A}}, b: {{HOMEPAGE_FILE_B}}"),
			expected: "a: \"\", b: \"\"",
		},
		{
			name:     "no template variables",
			input:    []byte("plain text"),
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripTemplateVariables(tt.input)
			if string(result) != tt.expected {
				t.Errorf("stripTemplateVariables() = %q, want %q", string(result), tt.expected)
			}
		})
	}
}
