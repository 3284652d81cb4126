package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/swarmdns/internal/catalog"
	"github.com/MrSnakeDoc/swarmdns/internal/certs"
	"github.com/MrSnakeDoc/swarmdns/internal/config"
	"github.com/MrSnakeDoc/swarmdns/internal/directory"
	"github.com/MrSnakeDoc/swarmdns/internal/hostname"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver"
	"github.com/MrSnakeDoc/swarmdns/internal/httpserver/deps"
	"github.com/MrSnakeDoc/swarmdns/internal/ipa"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
	"github.com/MrSnakeDoc/swarmdns/internal/reconciler"
	"github.com/MrSnakeDoc/swarmdns/internal/redis"
	"github.com/MrSnakeDoc/swarmdns/internal/sources/homepage"
	redisstore "github.com/MrSnakeDoc/swarmdns/internal/store/redis"
	"github.com/MrSnakeDoc/swarmdns/internal/swarm"
	"github.com/MrSnakeDoc/swarmdns/internal/tlsconfig"
	"github.com/MrSnakeDoc/swarmdns/internal/version"
)

// server is the part of httpserver.Server that Run drives.
type server interface {
	Start() error
	Stop(ctx context.Context) error
}

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      server // nil when web.enabled is false
	engine      *reconciler.Engine
	swarm       *swarm.Client
	redisClient *goredis.Client
}

// New loads the configuration and wires every component. Nothing talks to
// FreeIPA or the swarm until Run.
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	loggerClient := logger.New(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.File)

	// Optional catalog mirror. A redis outage only costs the mirror.
	var (
		mirror      catalog.Mirror
		mirrorRead  deps.Mirror
		redisClient *goredis.Client
	)
	if cfg.Redis.Enabled() {
		loggerClient.Infof("connecting to catalog mirror at %s", cfg.Redis.Addr)
		redisClient, err = redis.New(ctx, redis.OptionsFromConfig(cfg.Redis), loggerClient.Named("redis"))
		if err != nil {
			loggerClient.Warn("catalog mirror disabled", logger.Error(err))
			redisClient = nil
		} else {
			store := redisstore.NewStore(redisClient, cfg.Redis.KeyPrefix)
			if err := store.Reset(ctx); err != nil {
				loggerClient.Warn("failed to reset catalog mirror", logger.Error(err))
			}
			mirror, mirrorRead = store, store
		}
	}

	registry := catalog.NewRegistry(mirror, loggerClient.Named("catalog"))
	loadManual(cfg, registry, loggerClient)

	swarmClient, err := swarm.NewClient(cfg.Swarm.DockerHost, loggerClient.Named("swarm"))
	if err != nil {
		closeRedis(redisClient, loggerClient)
		return nil, err
	}

	ipaLog := loggerClient.Named("freeipa")
	runner := ipa.ExecRunner{}
	session := ipa.NewSession(runner, cfg.FreeIPA.Username, cfg.FreeIPA.Domain, cfg.FreeIPA.Password, ipaLog)
	ipaClient := ipa.NewClient(runner, session, cfg.FreeIPA.DNSZone, ipaLog)

	certStore := certs.NewStore(certs.Options{
		Dir:            cfg.Certificates.CertPath,
		CSRDir:         cfg.Certificates.CSRDir,
		RenewThreshold: cfg.Certificates.RenewThreshold(),
		Organization:   cfg.Certificates.Organization,
	}, ipaLog)

	dir := directory.New(directory.Options{
		Client:       ipaClient,
		Store:        certStore,
		TLS:          tlsconfig.NewWriter(cfg.Certificates.TraefikConfig, ipaLog),
		Certificates: cfg.Certificates.Enabled,
	}, ipaLog)

	extractor := hostname.NewExtractor(hostname.Options{
		Zone:          cfg.FreeIPA.DNSZone,
		HostnameLabel: cfg.Swarm.HostnameLabel,
		FromTraefik:   cfg.Swarm.ExtractFromTraefik,
	}, loggerClient.Named("engine"))

	engine := reconciler.New(reconciler.Deps{
		Cluster:   swarmClient,
		Directory: dir,
		Registry:  registry,
		Auth:      session,
		Extractor: extractor,
	}, reconciler.Options{
		Zone:           cfg.FreeIPA.DNSZone,
		IngressIPs:     cfg.Swarm.TraefikIPs,
		RequiredLabel:  cfg.Swarm.RequiredLabel,
		AuthInterval:   cfg.Reconcile.AuthInterval,
		ResyncInterval: cfg.Reconcile.ResyncInterval,
	}, loggerClient.Named("engine"))

	a := &App{
		cfg:         cfg,
		logger:      loggerClient,
		engine:      engine,
		swarm:       swarmClient,
		redisClient: redisClient,
	}

	if cfg.Web.Enabled {
		// Dependencies passed to routes (extend as needed).
		d := deps.Deps{
			Logger:       loggerClient.Named("http"),
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			TimeNow:      time.Now,
			Title:        cfg.Web.Title,
			Description:  cfg.Web.Description,
			Zone:         cfg.FreeIPA.DNSZone,
			AllowedCIDRS: cfg.Web.AllowedCIDRS,
			TrustProxy:   cfg.Web.TrustProxy,
			Catalog:      registry,
			Engine:       engine,
			Session:      session,
			Mirror:       mirrorRead,
		}
		a.server = httpserver.New(cfg.Web, d.Logger, d)
	}

	return a, nil
}

// loadManual registers configured and homepage entries. A broken homepage
// file is logged and skipped.
func loadManual(cfg *config.Config, registry *catalog.Registry, log logger.Logger) {
	for _, m := range cfg.Manual {
		registry.AddManual(catalog.Manual{
			Name:        m.Name,
			URL:         m.URL,
			Description: m.Description,
			Category:    m.Category,
		})
	}

	if cfg.HomepageServicesFile == "" {
		return
	}
	entries, err := homepage.NewLoader(cfg.HomepageServicesFile).LoadManual()
	if err != nil {
		log.Warn("failed to load homepage services",
			logger.String("file", cfg.HomepageServicesFile),
			logger.Error(err))
		return
	}
	for _, m := range entries {
		registry.AddManual(m)
	}
	log.Info("homepage services loaded",
		logger.String("file", cfg.HomepageServicesFile),
		logger.Int("count", len(entries)))
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting swarmdns %s for zone %s", version.Version, a.cfg.FreeIPA.DNSZone)
	a.logger.Infof("swarmdns %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.close()

	errCh := make(chan error, 2)

	// The server starts first so /readyz answers 503 during the initial sync.
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
	}

	if err := a.engine.Bootstrap(ctx); err != nil {
		return a.withShutdown(err)
	}
	a.logger.Info("initial sync complete",
		logger.Int("managed_services", a.engine.Status().ManagedServices))

	go func() {
		if err := a.engine.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		a.logger.Error("stopping after fatal error", logger.Error(runErr))
	}

	if err := a.withShutdown(runErr); err != nil {
		return err
	}

	a.logger.Info("✅ swarmdns stopped cleanly")
	return nil
}

// withShutdown stops the server and joins a shutdown failure onto err.
func (a *App) withShutdown(err error) error {
	if stopErr := a.stopServer(); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to stop server: %w", stopErr))
	}
	return err
}

func (a *App) stopServer() error {
	if a.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Web.ShutdownTimeout)
	defer cancel()
	return a.server.Stop(shutdownCtx)
}

func (a *App) close() {
	if err := a.swarm.Close(); err != nil {
		a.logger.Warnf("failed to close docker client: %v", err)
	}
	closeRedis(a.redisClient, a.logger)
	_ = a.logger.Sync()
}

func closeRedis(c *goredis.Client, log logger.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warnf("failed to close redis: %v", err)
		return
	}
	log.Info("✅ Redis closed cleanly")
}
