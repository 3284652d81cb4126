// Package directory exposes the idempotent operations the reconciler applies
// to FreeIPA and to the local certificate artifacts.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/swarmdns/internal/certs"
	"github.com/MrSnakeDoc/swarmdns/internal/ipa"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
	"github.com/MrSnakeDoc/swarmdns/internal/metrics"
	"github.com/MrSnakeDoc/swarmdns/internal/tlsconfig"
)

// Adapter combines the ipa client, the certificate store and the Traefik TLS
// writer. With certificates disabled, certificate operations are no-ops.
type Adapter struct {
	client  *ipa.Client
	store   *certs.Store
	tls     *tlsconfig.Writer
	enabled bool
	log     logger.Logger
}

type Options struct {
	Client       *ipa.Client
	Store        *certs.Store
	TLS          *tlsconfig.Writer
	Certificates bool
}

func New(opts Options, log logger.Logger) *Adapter {
	return &Adapter{
		client:  opts.Client,
		store:   opts.Store,
		tls:     opts.TLS,
		enabled: opts.Certificates,
		log:     log,
	}
}

func (a *Adapter) CertificatesEnabled() bool { return a.enabled }

func (a *Adapter) AddDNSRecord(ctx context.Context, hostname string, ips []string) (err error) {
	defer func(start time.Time) { metrics.Observe("dns_add", start, err) }(time.Now())
	return a.client.AddDNSRecord(ctx, hostname, ips)
}

func (a *Adapter) RemoveDNSRecord(ctx context.Context, hostname string, ips []string) (err error) {
	defer func(start time.Time) { metrics.Observe("dns_remove", start, err) }(time.Now())
	return a.client.RemoveDNSRecord(ctx, hostname, ips)
}

func (a *Adapter) EnsurePrincipal(ctx context.Context, hostname string) error {
	return a.client.EnsurePrincipal(ctx, hostname)
}

// RequestCertificate makes sure hostname has a certificate that is not close
// to expiry, issuing a new one through the FreeIPA CA when needed.
func (a *Adapter) RequestCertificate(ctx context.Context, hostname string) (err error) {
	if !a.enabled {
		return nil
	}
	defer func(start time.Time) { metrics.Observe("cert_request", start, err) }(time.Now())

	fqdn := a.client.FQDN(hostname)

	// Refreshes the ticket as well.
	if err := a.client.EnsurePrincipal(ctx, hostname); err != nil {
		return fmt.Errorf("failed to ensure principal for %s: %w", fqdn, err)
	}

	if a.store.Valid(hostname) {
		a.log.Info("certificate still valid", logger.String("fqdn", fqdn))
		return nil
	}

	if err := a.store.EnsureDir(); err != nil {
		return err
	}

	key, err := a.store.EnsureKey(hostname)
	if err != nil {
		return err
	}

	csrPath, err := a.store.WriteCSR(hostname, fqdn, key)
	if err != nil {
		return err
	}
	defer a.store.RemoveCSR(hostname)

	serial, err := a.client.RequestCertificate(ctx, csrPath, fqdn)
	if err != nil {
		return err
	}
	a.log.Info("certificate issued",
		logger.String("fqdn", fqdn),
		logger.String("serial", serial))

	if err := a.client.FetchCertificate(ctx, serial, a.store.CertPath(hostname)); err != nil {
		return err
	}

	if err := a.store.Finalize(hostname); err != nil {
		return err
	}

	return a.RebuildTLSConfig()
}

// RevokeCertificate removes the local artifacts of hostname. Nothing is
// revoked on the CA side.
func (a *Adapter) RevokeCertificate(_ context.Context, hostname string) (err error) {
	if !a.enabled {
		return nil
	}
	defer func(start time.Time) { metrics.Observe("cert_revoke", start, err) }(time.Now())

	if err := a.store.Remove(hostname); err != nil {
		return err
	}
	return a.RebuildTLSConfig()
}

// RebuildTLSConfig rewrites the Traefik TLS file from the certificate
// directory.
func (a *Adapter) RebuildTLSConfig() error {
	pairs, err := a.store.Pairs()
	if err != nil {
		return err
	}
	return a.tls.Write(pairs)
}
