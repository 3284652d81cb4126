package ipa

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

// ErrCommandFailed wraps every non-benign ipa failure.
var ErrCommandFailed = errors.New("ipa command failed")

// Client issues ipa commands against one DNS zone.
//
// Every mutating call refreshes the Kerberos ticket first. A failed refresh
// is logged and the command is attempted anyway.
type Client struct {
	runner  Runner
	session *Session
	zone    string
	log     logger.Logger
}

// NewClient creates a client bound to zone.
func NewClient(runner Runner, session *Session, zone string, log logger.Logger) *Client {
	return &Client{
		runner:  runner,
		session: session,
		zone:    zone,
		log:     log,
	}
}

// FQDN qualifies a short hostname with the zone.
func (c *Client) FQDN(hostname string) string {
	return hostname + "." + c.zone
}

func (c *Client) refresh(ctx context.Context) {
	if err := c.session.EnsureAuthenticated(ctx); err != nil {
		c.log.Warn("proceeding with a possibly stale kerberos ticket", logger.Error(err))
	}
}

func (c *Client) ipa(ctx context.Context, args ...string) Result {
	return c.runner.Run(ctx, "", "ipa", args...)
}

// AddDNSRecord adds one A record per address. An existing record counts as
// success; any other failure stops at that address.
func (c *Client) AddDNSRecord(ctx context.Context, hostname string, ips []string) error {
	c.refresh(ctx)

	for _, ip := range ips {
		res := c.ipa(ctx, "dnsrecord-add", c.zone, hostname, "--a-rec", ip)
		switch {
		case res.OK():
			c.log.Info("added dns record",
				logger.String("fqdn", c.FQDN(hostname)),
				logger.String("ip", ip))
		case alreadyExists(res):
			c.log.Warn("dns record already exists",
				logger.String("fqdn", c.FQDN(hostname)),
				logger.String("ip", ip))
		default:
			return fmt.Errorf("%w: dnsrecord-add %s %s: %s", ErrCommandFailed, hostname, ip, res.Message())
		}
	}
	return nil
}

// RemoveDNSRecord deletes one A record per address. A missing record counts
// as success.
func (c *Client) RemoveDNSRecord(ctx context.Context, hostname string, ips []string) error {
	c.refresh(ctx)

	for _, ip := range ips {
		res := c.ipa(ctx, "dnsrecord-del", c.zone, hostname, "--a-rec", ip)
		switch {
		case res.OK():
			c.log.Info("removed dns record",
				logger.String("fqdn", c.FQDN(hostname)),
				logger.String("ip", ip))
		case notFound(res):
			c.log.Warn("dns record not found",
				logger.String("fqdn", c.FQDN(hostname)),
				logger.String("ip", ip))
		default:
			return fmt.Errorf("%w: dnsrecord-del %s %s: %s", ErrCommandFailed, hostname, ip, res.Message())
		}
	}
	return nil
}

// EnsurePrincipal makes sure the host entry and its HTTP service principal
// exist. Only the service principal step decides the outcome.
func (c *Client) EnsurePrincipal(ctx context.Context, hostname string) error {
	c.refresh(ctx)
	fqdn := c.FQDN(hostname)

	res := c.ipa(ctx, "host-add", fqdn, "--force")
	switch {
	case res.OK():
		c.log.Info("created host", logger.String("fqdn", fqdn))
	case alreadyExists(res):
		c.log.Debug("host already exists", logger.String("fqdn", fqdn))
	default:
		c.log.Warn("could not create host",
			logger.String("fqdn", fqdn),
			logger.String("output", res.Message()))
	}

	principal := ServicePrincipal(fqdn)
	res = c.ipa(ctx, "service-add", principal)
	switch {
	case res.OK():
		c.log.Info("created service principal", logger.String("principal", principal))
	case alreadyExists(res):
		c.log.Debug("service principal already exists", logger.String("principal", principal))
	default:
		return fmt.Errorf("%w: service-add %s: %s", ErrCommandFailed, principal, res.Message())
	}
	return nil
}

// RequestCertificate submits csrPath for the HTTP principal of fqdn and
// returns the serial of the issued certificate.
func (c *Client) RequestCertificate(ctx context.Context, csrPath, fqdn string) (string, error) {
	res := c.ipa(ctx, "cert-request", csrPath, "--principal="+ServicePrincipal(fqdn))
	if !res.OK() {
		return "", fmt.Errorf("%w: cert-request %s: %s", ErrCommandFailed, fqdn, res.Message())
	}

	serial, err := ParseSerial(res.Stdout)
	if err != nil {
		return "", fmt.Errorf("cert-request %s: %w", fqdn, err)
	}
	return serial, nil
}

// FetchCertificate writes the PEM certificate with the given serial to out.
func (c *Client) FetchCertificate(ctx context.Context, serial, out string) error {
	res := c.ipa(ctx, "cert-show", serial, "--out="+out)
	if !res.OK() {
		return fmt.Errorf("%w: cert-show %s: %s", ErrCommandFailed, serial, res.Message())
	}
	return nil
}

// ServicePrincipal returns the HTTP service principal name for fqdn.
func ServicePrincipal(fqdn string) string {
	return "HTTP/" + fqdn
}
