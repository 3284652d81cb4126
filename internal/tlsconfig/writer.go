// Package tlsconfig renders the Traefik dynamic TLS configuration.
package tlsconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/swarmdns/internal/certs"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

const minTLSVersion = "VersionTLS12"

type document struct {
	TLS section `yaml:"tls"`
}

type section struct {
	Certificates []certificate     `yaml:"certificates"`
	Options      map[string]option `yaml:"options"`
}

type certificate struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type option struct {
	MinVersion string `yaml:"minVersion"`
	SNIStrict  bool   `yaml:"sniStrict"`
}

// Writer owns the Traefik file provider document. The whole file is rewritten
// on every call.
type Writer struct {
	path string
	log  logger.Logger
}

func NewWriter(path string, log logger.Logger) *Writer {
	return &Writer{path: path, log: log}
}

// Render builds the document for pairs in the given order.
func Render(pairs []certs.Pair) ([]byte, error) {
	doc := document{TLS: section{
		Certificates: make([]certificate, 0, len(pairs)),
		Options: map[string]option{
			"default": {MinVersion: minTLSVersion, SNIStrict: false},
		},
	}}
	for _, p := range pairs {
		doc.TLS.Certificates = append(doc.TLS.Certificates, certificate{CertFile: p.CertFile, KeyFile: p.KeyFile})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode tls config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode tls config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write replaces the configuration file. Traefik watches the file, so the
// write is atomic.
func (w *Writer) Write(pairs []certs.Pair) error {
	data, err := Render(pairs)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create tls config directory: %w", err)
	}
	if err := atomicwriter.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tls config: %w", err)
	}

	w.log.Info("traefik tls config updated",
		logger.String("path", w.path),
		logger.Int("certificates", len(pairs)))
	return nil
}
