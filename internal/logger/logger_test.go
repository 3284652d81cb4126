package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want *zapcore.Level
	}{
		{"debug", lvl(zapcore.DebugLevel)},
		{" INFO ", lvl(zapcore.InfoLevel)},
		{"warning", lvl(zapcore.WarnLevel)},
		{"warn", lvl(zapcore.WarnLevel)},
		{"error", lvl(zapcore.ErrorLevel)},
		{"", nil},
		{"verbose", nil},
	}

	for _, tt := range tests {
		got := parseLevel(tt.in)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("parseLevel(%q) = %v, want nil", tt.in, *got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, *tt.want)
		}
	}
}

func lvl(l zapcore.Level) *zapcore.Level { return &l }

func TestNewWritesLogFile(t *testing.T) {
	for _, pretty := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "swarmdns.log")

		log := New("info", pretty, path)
		log.Info("dns record added", String("fqdn", "app.example.test"))
		log.Debug("below level")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("pretty=%v: log file not written: %v", pretty, err)
		}
		out := string(data)
		if !strings.Contains(out, "dns record added") || !strings.Contains(out, "app.example.test") {
			t.Errorf("pretty=%v: log file missing entry: %q", pretty, out)
		}
		if strings.Contains(out, "below level") {
			t.Errorf("pretty=%v: debug entry written at info level", pretty)
		}
		if strings.Contains(out, "\x1b[") {
			t.Errorf("pretty=%v: colour codes in log file", pretty)
		}
	}
}

func TestNewWithUnusableLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "swarmdns.log")

	log := New("info", false, path) // must not panic
	log.Info("still logging")
	_ = log.Sync()

	if _, err := os.Stat(path); err == nil {
		t.Error("log file should not exist")
	}
}
