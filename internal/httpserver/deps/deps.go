package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/swarmdns/internal/catalog"
	"github.com/MrSnakeDoc/swarmdns/internal/domain"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
	"github.com/MrSnakeDoc/swarmdns/internal/reconciler"
)

// Catalog is the read side of the service registry.
type Catalog interface {
	Snapshot() []domain.CatalogEntry
	Stats() catalog.Stats
}

// Engine exposes reconciler status and the resync trigger.
type Engine interface {
	Ready() bool
	Status() reconciler.Status
	TriggerResync() error
}

// Session reports the Kerberos session state.
type Session interface {
	Principal() string
	LastAuthenticated() time.Time
}

// Mirror is the read side of the catalog mirror.
type Mirror interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	Title        string           // dashboard title
	Description  string           // dashboard subtitle
	Zone         string           // managed DNS zone, shown on the dashboard
	AllowedCIDRS []string         // IPs allowed to access /metrics, /infra and /reload
	TrustProxy   bool             // true if running behind a trusted reverse proxy (e.g., traefik)
	Catalog      Catalog
	Engine       Engine
	Session      Session // nil when not wired
	Mirror       Mirror  // nil when the redis mirror is disabled
}

// Now returns the current time using TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
