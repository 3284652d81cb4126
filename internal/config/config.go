package config

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the container image expects the configuration file.
const DefaultPath = "/config/config.yml"

type Config struct {
	Logging      Logging         `yaml:"logging"`
	FreeIPA      FreeIPA         `yaml:"freeipa"`
	Swarm        Swarm           `yaml:"swarm"`
	Certificates Certificates    `yaml:"certificates"`
	Web          Web             `yaml:"web"`
	Reconcile    Reconcile       `yaml:"reconcile"`
	Redis        Redis           `yaml:"redis"`
	Manual       []ManualService `yaml:"manual_services"`

	// HomepageServicesFile optionally points at a gethomepage services.yaml
	// whose entries are added to the catalog as manual services.
	HomepageServicesFile string `yaml:"homepage_services_file"`
}

type Logging struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Pretty bool   `yaml:"pretty"` // true => zap dev (color), false => zap prod (JSON)
	File   string `yaml:"file"`   // optional log file written next to stderr
}

type FreeIPA struct {
	Server   string `yaml:"server"`   // ex: ipa.example.test
	Domain   string `yaml:"domain"`   // Kerberos realm, upper-cased at use
	Username string `yaml:"username"` // principal used by kinit
	Password string `yaml:"password"`
	DNSZone  string `yaml:"dns_zone"` // managed zone, ex: example.test
}

type Swarm struct {
	RequiredLabel      string   `yaml:"required_label"`       // opt-in label, must equal "true"
	HostnameLabel      string   `yaml:"hostname_label"`       // explicit hostname override
	TraefikIPs         []string `yaml:"traefik_ips"`          // ingress address pool
	ExtractFromTraefik bool     `yaml:"extract_from_traefik"` // scan traefik router rules
	DockerHost         string   `yaml:"docker_host"`          // empty => DOCKER_HOST / default socket
}

type Certificates struct {
	Enabled            bool   `yaml:"enabled"`
	CertPath           string `yaml:"cert_path"`
	CSRDir             string `yaml:"csr_dir"`
	RenewThresholdDays int    `yaml:"renew_threshold_days"`
	Organization       string `yaml:"organization"`
	TraefikConfig      string `yaml:"traefik_config"`
}

// RenewThreshold returns the renewal window as a duration.
func (c Certificates) RenewThreshold() time.Duration {
	return time.Duration(c.RenewThresholdDays) * 24 * time.Hour
}

type Web struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	Title           string        `yaml:"title"`
	Description     string        `yaml:"description"`
	AllowedCIDRS    []string      `yaml:"allowed_cidrs"` // restricts /metrics, /infra and /reload
	TrustProxy      bool          `yaml:"trust_proxy"`   // true => trust X-Forwarded-For headers
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ListenAddr returns the address the catalog server binds to.
func (w Web) ListenAddr() string {
	return ":" + strconv.Itoa(w.Port)
}

type Reconcile struct {
	AuthInterval   time.Duration `yaml:"auth_interval"`   // periodic kinit
	ResyncInterval time.Duration `yaml:"resync_interval"` // 0 => disabled
}

// Redis configures the optional catalog mirror. Empty Addr disables it.
type Redis struct {
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	KeyPrefix      string        `yaml:"key_prefix"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PoolSize       int           `yaml:"pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // total time to retry connecting
	RetryInterval  time.Duration `yaml:"retry_interval"`  // initial wait, grows exponentially
	MaxWait        time.Duration `yaml:"max_wait"`        // cap between retries
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WarnThreshold  int           `yaml:"warn_threshold"`
}

// Enabled reports whether the mirror should be started.
func (r Redis) Enabled() bool { return r.Addr != "" }

type ManualService struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file access.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.Logging.Level == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Logging: Logging{Level: "info"},
		Swarm: Swarm{
			RequiredLabel:      "dns.managed",
			HostnameLabel:      "dns.hostname",
			ExtractFromTraefik: true,
		},
		Certificates: Certificates{
			CertPath:           "/certs/services",
			CSRDir:             os.TempDir(),
			RenewThresholdDays: 30,
			Organization:       "ZCloud",
			TraefikConfig:      "/traefik-config/certificates.yml",
		},
		Web: Web{
			Enabled:         true,
			Port:            8080,
			Title:           "Service Catalog",
			ShutdownTimeout: 5 * time.Second,
		},
		Reconcile: Reconcile{
			AuthInterval: time.Hour,
		},
		Redis: Redis{
			KeyPrefix:      "swarmdns:",
			DialTimeout:    5 * time.Second,
			ReadTimeout:    3 * time.Second,
			WriteTimeout:   3 * time.Second,
			PoolSize:       10,
			ConnectTimeout: 30 * time.Second,
			RetryInterval:  2 * time.Second,
			MaxWait:        10 * time.Second,
			PingTimeout:    5 * time.Second,
			WarnThreshold:  3,
		},
	}
}

// applyEnv lets container deployments override the file, mostly for secrets.
func applyEnv(cfg *Config) {
	cfg.Logging.Level = getenv("SWARMDNS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Pretty = mustBool("SWARMDNS_PRETTY_LOG", cfg.Logging.Pretty)
	cfg.Logging.File = getenv("SWARMDNS_LOG_FILE", cfg.Logging.File)

	cfg.FreeIPA.Password = getenv("SWARMDNS_IPA_PASSWORD", cfg.FreeIPA.Password)
	if ips := os.Getenv("SWARMDNS_TRAEFIK_IPS"); ips != "" {
		cfg.Swarm.TraefikIPs = splitAndTrim(ips)
	}

	cfg.Web.Port = getenvInt("SWARMDNS_WEB_PORT", cfg.Web.Port)
	if cidrs := os.Getenv("SWARMDNS_ALLOWED_CIDRS"); cidrs != "" {
		cfg.Web.AllowedCIDRS = parseAllowedIPs(cidrs)
	}

	cfg.Reconcile.AuthInterval = mustDuration("SWARMDNS_AUTH_INTERVAL", cfg.Reconcile.AuthInterval)
	cfg.Reconcile.ResyncInterval = mustDuration("SWARMDNS_RESYNC_INTERVAL", cfg.Reconcile.ResyncInterval)

	cfg.Redis.Addr = getenv("SWARMDNS_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenv("SWARMDNS_REDIS_PASSWORD", cfg.Redis.Password)
}

// Validate checks the fields the reconciler cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.FreeIPA.DNSZone == "" {
		errs = append(errs, errors.New("freeipa.dns_zone is required"))
	}
	if c.FreeIPA.Domain == "" {
		errs = append(errs, errors.New("freeipa.domain is required"))
	}
	if c.FreeIPA.Username == "" {
		errs = append(errs, errors.New("freeipa.username is required"))
	}
	if c.Swarm.RequiredLabel == "" {
		errs = append(errs, errors.New("swarm.required_label must not be empty"))
	}
	if len(c.Swarm.TraefikIPs) == 0 {
		errs = append(errs, errors.New("swarm.traefik_ips needs at least one address"))
	}
	for _, ip := range c.Swarm.TraefikIPs {
		if _, err := netip.ParseAddr(ip); err != nil {
			errs = append(errs, fmt.Errorf("swarm.traefik_ips: invalid address %q", ip))
		}
	}
	if c.Certificates.Enabled && c.Certificates.RenewThresholdDays <= 0 {
		errs = append(errs, fmt.Errorf("certificates.renew_threshold_days must be > 0, got %d", c.Certificates.RenewThresholdDays))
	}
	if c.Reconcile.AuthInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.auth_interval must be > 0, got %v", c.Reconcile.AuthInterval))
	}
	if c.Reconcile.ResyncInterval < 0 {
		errs = append(errs, fmt.Errorf("reconcile.resync_interval must be >= 0, got %v", c.Reconcile.ResyncInterval))
	}
	for i, m := range c.Manual {
		if m.Name == "" || m.URL == "" {
			errs = append(errs, fmt.Errorf("manual_services[%d]: name and url are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.FreeIPA.Password != "" {
		cp.FreeIPA.Password = "***REDACTED***"
	}
	if cp.Redis.Password != "" {
		cp.Redis.Password = "***REDACTED***"
	}
	if cp.Redis.Username != "" {
		cp.Redis.Username = "***REDACTED***"
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
