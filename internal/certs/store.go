// Package certs manages the key and certificate files served by Traefik.
//
// Layout: <dir>/<hostname>.key (0600) and <dir>/<hostname>.crt (0644).
// Signing requests are written to a separate scratch directory and removed
// once the certificate has been fetched.
package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cloudflare/cfssl/csr"
	"github.com/cloudflare/cfssl/helpers"
	"github.com/moby/sys/atomicwriter"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

const (
	keyExt  = ".key"
	certExt = ".crt"
	csrExt  = ".csr"

	keyMode  fs.FileMode = 0o600
	certMode fs.FileMode = 0o644
)

// ErrNoCertificate is returned when a hostname has no certificate file.
var ErrNoCertificate = errors.New("no certificate")

// Options configures a Store.
type Options struct {
	Dir            string        // ex: /certs/services
	CSRDir         string        // ex: /tmp
	RenewThreshold time.Duration // certificates expiring sooner are renewed
	Organization   string        // O= of the signing request subject
}

// Pair is a complete key+certificate couple.
type Pair struct {
	Hostname string
	CertFile string
	KeyFile  string
}

// Store reads and writes certificate artifacts on disk.
type Store struct {
	opts Options
	now  func() time.Time
	log  logger.Logger
}

// NewStore creates a store. Call EnsureDir before the first write.
func NewStore(opts Options, log logger.Logger) *Store {
	return &Store{opts: opts, now: time.Now, log: log}
}

func (s *Store) KeyPath(hostname string) string {
	return filepath.Join(s.opts.Dir, hostname+keyExt)
}

func (s *Store) CertPath(hostname string) string {
	return filepath.Join(s.opts.Dir, hostname+certExt)
}

func (s *Store) CSRPath(hostname string) string {
	return filepath.Join(s.opts.CSRDir, hostname+csrExt)
}

// EnsureDir creates the certificate directory and the signing request
// directory.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if s.opts.CSRDir != "" {
		if err := os.MkdirAll(s.opts.CSRDir, 0o700); err != nil {
			return fmt.Errorf("failed to create csr directory: %w", err)
		}
	}
	return nil
}

// Expiry returns the NotAfter of the hostname's certificate.
func (s *Store) Expiry(hostname string) (time.Time, error) {
	data, err := os.ReadFile(s.CertPath(hostname))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNoCertificate
		}
		return time.Time{}, fmt.Errorf("failed to read certificate: %w", err)
	}

	cert, err := helpers.ParseCertificatePEM(data)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert.NotAfter, nil
}

// Valid reports whether the hostname has a certificate that does not expire
// within the renewal threshold. Missing or unreadable certificates are not
// valid.
func (s *Store) Valid(hostname string) bool {
	expiry, err := s.Expiry(hostname)
	if err != nil {
		if !errors.Is(err, ErrNoCertificate) {
			s.log.Warn("existing certificate is unusable",
				logger.String("hostname", hostname),
				logger.Error(err))
		}
		return false
	}

	if expiry.Before(s.now().Add(s.opts.RenewThreshold)) {
		s.log.Info("certificate is due for renewal",
			logger.String("hostname", hostname),
			logger.Time("expires", expiry))
		return false
	}
	return true
}

// EnsureKey loads the hostname's private key, generating a 2048-bit RSA key
// when none exists.
func (s *Store) EnsureKey(hostname string) (crypto.Signer, error) {
	path := s.KeyPath(hostname)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := helpers.ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	kr := &csr.KeyRequest{A: "rsa", S: 2048}
	generated, err := kr.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	block, err := encodeKey(generated)
	if err != nil {
		return nil, err
	}
	if err := atomicwriter.WriteFile(path, pem.EncodeToMemory(block), keyMode); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	s.log.Info("generated private key", logger.String("path", path))

	signer, ok := generated.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("generated key %T is not a signer", generated)
	}
	return signer, nil
}

func encodeKey(key crypto.PrivateKey) (*pem.Block, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}, nil
	case *ecdsa.PrivateKey:
		der, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("failed to encode private key: %w", err)
		}
		return &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
}

// WriteCSR writes a signing request for fqdn and returns its path.
func (s *Store) WriteCSR(hostname, fqdn string, key crypto.Signer) (string, error) {
	req := &csr.CertificateRequest{
		CN:    fqdn,
		Names: []csr.Name{{O: s.opts.Organization}},
		Hosts: []string{fqdn},
	}

	der, err := csr.Generate(key, req)
	if err != nil {
		return "", fmt.Errorf("failed to generate csr: %w", err)
	}

	path := s.CSRPath(hostname)
	if err := atomicwriter.WriteFile(path, der, keyMode); err != nil {
		return "", fmt.Errorf("failed to write csr: %w", err)
	}
	return path, nil
}

// RemoveCSR deletes the scratch signing request.
func (s *Store) RemoveCSR(hostname string) {
	if err := os.Remove(s.CSRPath(hostname)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("failed to remove csr", logger.String("hostname", hostname), logger.Error(err))
	}
}

// Finalize sets the serving permissions: world-readable certificate,
// owner-only key.
func (s *Store) Finalize(hostname string) error {
	if err := os.Chmod(s.CertPath(hostname), certMode); err != nil {
		return fmt.Errorf("failed to chmod certificate: %w", err)
	}
	if err := os.Chmod(s.KeyPath(hostname), keyMode); err != nil {
		return fmt.Errorf("failed to chmod private key: %w", err)
	}
	return nil
}

// Remove deletes the hostname's certificate and key. Missing files are not an
// error.
func (s *Store) Remove(hostname string) error {
	var errs []error
	for _, path := range []string{s.CertPath(hostname), s.KeyPath(hostname)} {
		err := os.Remove(path)
		switch {
		case err == nil:
			s.log.Info("removed certificate file", logger.String("path", path))
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Pairs lists every hostname that has both a certificate and a key, sorted by
// hostname. A missing directory yields no pairs.
func (s *Store) Pairs() ([]Pair, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list certificate directory: %w", err)
	}

	var pairs []Pair
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), certExt) {
			continue
		}
		hostname := strings.TrimSuffix(e.Name(), certExt)
		if _, err := os.Stat(s.KeyPath(hostname)); err != nil {
			continue
		}
		pairs = append(pairs, Pair{
			Hostname: hostname,
			CertFile: s.CertPath(hostname),
			KeyFile:  s.KeyPath(hostname),
		})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Hostname < pairs[j].Hostname })
	return pairs, nil
}
