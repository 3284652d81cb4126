package reconciler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrSnakeDoc/swarmdns/internal/catalog"
	"github.com/MrSnakeDoc/swarmdns/internal/domain"
	"github.com/MrSnakeDoc/swarmdns/internal/hostname"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

const zone = "example.test"

var ips = []string{"10.0.0.10", "10.0.0.11"}

// ─────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────

type fakeCluster struct {
	mu       sync.Mutex
	services map[string]domain.Service
	listErr  error
	events   chan domain.Event
	errs     chan error
}

func newFakeCluster(services ...domain.Service) *fakeCluster {
	c := &fakeCluster{
		services: make(map[string]domain.Service),
		events:   make(chan domain.Event),
		errs:     make(chan error, 1),
	}
	for _, s := range services {
		c.services[s.ID] = s
	}
	return c
}

func (c *fakeCluster) set(s domain.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[s.ID] = s
}

func (c *fakeCluster) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, id)
}

func (c *fakeCluster) ListServices(context.Context) ([]domain.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]domain.Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCluster) GetService(_ context.Context, id string) (domain.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.services[id]
	if !ok {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	return s, nil
}

func (c *fakeCluster) Events(context.Context) (<-chan domain.Event, <-chan error) {
	return c.events, c.errs
}

type fakeDirectory struct {
	mu       sync.Mutex
	calls    []string
	certs    bool
	failDNS  bool
	failCert bool
}

func (d *fakeDirectory) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDirectory) AddDNSRecord(_ context.Context, h string, got []string) error {
	d.record("dns-add " + h + " " + strings.Join(got, ","))
	if d.failDNS {
		return errors.New("ipa down")
	}
	return nil
}

func (d *fakeDirectory) RemoveDNSRecord(_ context.Context, h string, _ []string) error {
	d.record("dns-del " + h)
	return nil
}

func (d *fakeDirectory) RequestCertificate(_ context.Context, h string) error {
	d.record("cert-request " + h)
	if d.failCert {
		return errors.New("ca down")
	}
	return nil
}

func (d *fakeDirectory) RevokeCertificate(_ context.Context, h string) error {
	d.record("cert-revoke " + h)
	return nil
}

func (d *fakeDirectory) CertificatesEnabled() bool { return d.certs }

func (d *fakeDirectory) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *fakeDirectory) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type fakeAuth struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (a *fakeAuth) EnsureAuthenticated(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

func (a *fakeAuth) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// panicExtractor blows up on a marker label.
type panicExtractor struct{ Extractor }

func (p panicExtractor) Extract(labels map[string]string) []string {
	if labels["boom"] == "true" {
		panic("boom")
	}
	return p.Extractor.Extract(labels)
}

type fixture struct {
	engine   *Engine
	cluster  *fakeCluster
	dir      *fakeDirectory
	auth     *fakeAuth
	registry *catalog.Registry
}

func newFixture(t *testing.T, services ...domain.Service) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		cluster:  newFakeCluster(services...),
		dir:      &fakeDirectory{certs: true},
		auth:     &fakeAuth{},
		registry: catalog.NewRegistry(nil, log),
	}
	extractor := hostname.NewExtractor(hostname.Options{
		Zone:          zone,
		HostnameLabel: "dns.hostname",
		FromTraefik:   true,
	}, log)
	f.engine = New(Deps{
		Cluster:   f.cluster,
		Directory: f.dir,
		Registry:  f.registry,
		Auth:      f.auth,
		Extractor: panicExtractor{extractor},
	}, Options{
		Zone:          zone,
		IngressIPs:    ips,
		RequiredLabel: "dns.managed",
	}, log)
	return f
}

func managed(id, name string, labels map[string]string) domain.Service {
	l := map[string]string{"dns.managed": "true"}
	for k, v := range labels {
		l[k] = v
	}
	return domain.Service{ID: id, Name: name, Labels: l}
}

func (f *fixture) entryIDs() []string {
	var ids []string
	for _, e := range f.registry.Snapshot() {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	return ids
}

// ─────────────────────────────────────────────────────────────────
// Scenarios
// ─────────────────────────────────────────────────────────────────

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)
	f.cluster.set(managed("svc1", "web", map[string]string{"dns.hostname": "app"}))

	f.engine.HandleEvent(context.Background(), domain.Event{Action: domain.ActionCreate, ServiceID: "svc1"})

	want := []string{"dns-add app 10.0.0.10,10.0.0.11", "cert-request app"}
	if diff := cmp.Diff(want, f.dir.snapshot()); diff != "" {
		t.Errorf("directory calls mismatch (-want +got):\n%s", diff)
	}
	e, ok := f.registry.Get("app")
	if !ok {
		t.Fatal("registry entry missing")
	}
	if e.URL != "https://app.example.test" || !e.AutoDiscovered || !e.HasCertificate {
		t.Errorf("entry = %+v", e)
	}
	if diff := cmp.Diff(map[string][]string{"svc1": {"app"}}, f.engine.Managed()); diff != "" {
		t.Errorf("Managed() mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveEvent(t *testing.T) {
	svc := managed("svc1", "web", map[string]string{
		"dns.hostname":                  "app",
		"traefik.http.routers.api.rule": "Host(`api.example.test`)",
	})
	f := newFixture(t, svc)
	ctx := context.Background()
	if err := f.engine.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	f.dir.reset()

	f.engine.HandleEvent(ctx, domain.Event{Action: domain.ActionRemove, ServiceID: "svc1"})

	want := []string{"dns-del app", "cert-revoke app", "dns-del api", "cert-revoke api"}
	if diff := cmp.Diff(want, f.dir.snapshot()); diff != "" {
		t.Errorf("directory calls mismatch (-want +got):\n%s", diff)
	}
	if n := f.registry.Count(); n != 0 {
		t.Errorf("registry entries = %d, want 0", n)
	}
	if len(f.engine.Managed()) != 0 {
		t.Errorf("Managed() = %v, want empty", f.engine.Managed())
	}
}

func TestStartupWithNoServices(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if !f.engine.Ready() {
		t.Error("engine should be ready after bootstrap")
	}
	if len(f.engine.Managed()) != 0 || f.registry.Count() != 0 {
		t.Error("nothing should be tracked")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestUpdateKeepsStaleHostnames(t *testing.T) {
	f := newFixture(t, managed("svc1", "web", map[string]string{"dns.hostname": "app"}))
	ctx := context.Background()
	if err := f.engine.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	f.dir.reset()

	f.cluster.set(managed("svc1", "web", map[string]string{"dns.hostname": "app2"}))
	f.engine.HandleEvent(ctx, domain.Event{Action: domain.ActionUpdate, ServiceID: "svc1"})

	for _, c := range f.dir.snapshot() {
		if strings.HasPrefix(c, "dns-del") || strings.HasPrefix(c, "cert-revoke") {
			t.Errorf("update must not clean up: %s", c)
		}
	}
	if diff := cmp.Diff([]string{"app", "app2"}, f.entryIDs()); diff != "" {
		t.Errorf("registry mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string][]string{"svc1": {"app2"}}, f.engine.Managed()); diff != "" {
		t.Errorf("Managed() mismatch (-want +got):\n%s", diff)
	}
}

// ─────────────────────────────────────────────────────────────────
// Edge cases
// ─────────────────────────────────────────────────────────────────

func TestBootstrapAuthFailureIsFatal(t *testing.T) {
	f := newFixture(t, managed("svc1", "web", map[string]string{"dns.hostname": "app"}))
	f.auth.err = errors.New("kinit: password incorrect")

	if err := f.engine.Bootstrap(context.Background()); err == nil {
		t.Fatal("Bootstrap() error = nil, want failure")
	}
	if f.engine.Ready() || len(f.dir.snapshot()) != 0 {
		t.Error("nothing should happen after a failed authentication")
	}
}

func TestSyncListFailure(t *testing.T) {
	f := newFixture(t)
	f.cluster.listErr = errors.New("docker unreachable")

	if err := f.engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v, want nil", err)
	}
	if len(f.engine.Managed()) != 0 {
		t.Error("managed map should stay empty")
	}
}

func TestSyncSkipsUnqualified(t *testing.T) {
	f := newFixture(t,
		domain.Service{ID: "a", Name: "plain", Labels: map[string]string{"dns.hostname": "plain"}},
		domain.Service{ID: "b", Name: "off", Labels: map[string]string{"dns.managed": "false", "dns.hostname": "off"}},
		managed("c", "nohost", nil),
		managed("d", "web", map[string]string{"dns.hostname": "web"}),
	)

	if err := f.engine.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string][]string{"d": {"web"}}, f.engine.Managed()); diff != "" {
		t.Errorf("Managed() mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.cluster.set(managed("svc1", "web", map[string]string{"dns.hostname": "app"}))
	ev := domain.Event{Action: domain.ActionCreate, ServiceID: "svc1"}

	f.engine.HandleEvent(context.Background(), ev)
	f.engine.HandleEvent(context.Background(), ev)

	if n := f.registry.Count(); n != 1 {
		t.Errorf("registry entries = %d, want 1", n)
	}
	if diff := cmp.Diff(map[string][]string{"svc1": {"app"}}, f.engine.Managed()); diff != "" {
		t.Errorf("Managed() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateForVanishedService(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleEvent(context.Background(), domain.Event{Action: domain.ActionCreate, ServiceID: "ghost"})

	if len(f.dir.snapshot()) != 0 || len(f.engine.Managed()) != 0 {
		t.Error("a vanished service must be skipped")
	}
}

func TestIgnoredEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.HandleEvent(ctx, domain.Event{Action: domain.ActionRemove, ServiceID: "untracked"})
	f.engine.HandleEvent(ctx, domain.Event{Action: "scale", ServiceID: "svc1"})
	f.engine.HandleEvent(ctx, domain.Event{Action: domain.ActionCreate})

	if calls := f.dir.snapshot(); len(calls) != 0 {
		t.Errorf("no directory call expected, got %v", calls)
	}
}

func TestStepFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.dir.failDNS = true
	f.dir.failCert = true
	f.cluster.set(managed("svc1", "web", map[string]string{"dns.hostname": "app"}))

	f.engine.HandleEvent(context.Background(), domain.Event{Action: domain.ActionCreate, ServiceID: "svc1"})

	e, ok := f.registry.Get("app")
	if !ok {
		t.Fatal("registry entry should still be written")
	}
	if e.HasCertificate {
		t.Error("HasCertificate should reflect the failed request")
	}
}

func TestCertificatesDisabled(t *testing.T) {
	f := newFixture(t)
	f.dir.certs = false
	f.cluster.set(managed("svc1", "web", map[string]string{"dns.hostname": "app"}))

	f.engine.HandleEvent(context.Background(), domain.Event{Action: domain.ActionCreate, ServiceID: "svc1"})

	if diff := cmp.Diff([]string{"dns-add app 10.0.0.10,10.0.0.11"}, f.dir.snapshot()); diff != "" {
		t.Errorf("directory calls mismatch (-want +got):\n%s", diff)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.cluster.set(managed("svc1", "web", map[string]string{"boom": "true"}))

	f.engine.HandleEvent(context.Background(), domain.Event{Action: domain.ActionCreate, ServiceID: "svc1"})

	// The engine keeps working.
	f.cluster.set(managed("svc2", "web", map[string]string{"dns.hostname": "app"}))
	f.engine.HandleEvent(context.Background(), domain.Event{Action: domain.ActionCreate, ServiceID: "svc2"})
	if _, ok := f.registry.Get("app"); !ok {
		t.Error("engine should keep processing after a panic")
	}
}

// ─────────────────────────────────────────────────────────────────
// Event loop
// ─────────────────────────────────────────────────────────────────

func TestRunProcessesEventsAndFailsOnStreamError(t *testing.T) {
	f := newFixture(t)
	f.cluster.set(managed("svc1", "web", map[string]string{"dns.hostname": "app"}))

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()

	f.cluster.events <- domain.Event{Action: domain.ActionCreate, ServiceID: "svc1"}
	f.cluster.errs <- errors.New("connection reset")

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run() error = nil, want stream failure")
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return on stream error")
	}
	if _, ok := f.registry.Get("app"); !ok {
		t.Error("event sent before the failure should be processed")
	}
}

func TestRunStreamClosed(t *testing.T) {
	f := newFixture(t)
	close(f.cluster.events)

	err := f.engine.Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Run() error = %v, want ErrStreamClosed", err)
	}
}

func TestTriggerResync(t *testing.T) {
	f := newFixture(t,
		managed("svc1", "web", map[string]string{"dns.hostname": "app"}),
		managed("svc2", "api", map[string]string{"dns.hostname": "api"}),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.engine.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.TriggerResync(); err != nil {
		t.Fatalf("TriggerResync() error = %v", err)
	}
	if err := f.engine.TriggerResync(); !errors.Is(err, ErrResyncPending) {
		t.Errorf("second TriggerResync() error = %v, want ErrResyncPending", err)
	}

	// svc2 disappeared without a remove event.
	f.cluster.delete("svc2")
	f.dir.reset()

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(f.engine.Managed()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("resync did not prune vanished service, Managed() = %v", f.engine.Managed())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if _, ok := f.registry.Get("api"); ok {
		t.Error("vanished service entry should be removed")
	}
	calls := f.dir.snapshot()
	if !containsCall(calls, "dns-add app 10.0.0.10,10.0.0.11") || !containsCall(calls, "dns-del api") {
		t.Errorf("resync calls = %v", calls)
	}
}

func TestPeriodicAuthentication(t *testing.T) {
	f := newFixture(t)
	f.engine.opts.AuthInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for f.auth.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("periodic authentication did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestStatus(t *testing.T) {
	f := newFixture(t, managed("svc1", "web", map[string]string{
		"dns.hostname":                  "app",
		"traefik.http.routers.api.rule": "Host(`api.example.test`)",
	}))
	if err := f.engine.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := f.engine.Status()
	if !s.Ready || s.ManagedServices != 1 || s.Hostnames != 2 || s.LastSync.IsZero() {
		t.Errorf("Status() = %+v", s)
	}
}

func containsCall(calls []string, want string) bool {
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}
