package kernel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/frontcontroller"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
	"github.com/Guillaume29200/esport-cms/internal/state"
	"github.com/Guillaume29200/esport-cms/internal/storage"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *callLog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// indexOf returns the position of call, -1 when absent.
func (c *callLog) indexOf(call string) int {
	for i, got := range c.list() {
		if got == call {
			return i
		}
	}
	return -1
}

type recordingMigrator struct{ log *callLog }

func (m recordingMigrator) Up(_ context.Context, id string, _ fs.FS) error {
	m.log.add("up:%s", id)
	return nil
}

func (m recordingMigrator) Down(_ context.Context, id string, _ fs.FS) error {
	m.log.add("down:%s", id)
	return nil
}

type stubModule struct {
	desc       module.Descriptor
	log        *callLog
	paths      []string
	installErr error
	hooks      func(h *hook.Registrar)
}

func (s *stubModule) Descriptor() module.Descriptor { return s.desc }

func (s *stubModule) Routes(r *router.Scoped) {
	for _, p := range s.paths {
		id := s.desc.ID
		r.HandleFunc(http.MethodGet, p, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(id))
		})
	}
}

func (s *stubModule) Hooks(h *hook.Registrar) {
	if s.hooks != nil {
		s.hooks(h)
	}
}

func (s *stubModule) Migrations() fs.FS {
	return fstest.MapFS{"001_init.up.sql": {Data: []byte("SELECT 1;")}}
}

func (s *stubModule) Install(context.Context) error {
	s.log.add("install:%s", s.desc.ID)
	return s.installErr
}

func (s *stubModule) Uninstall(context.Context) error {
	s.log.add("uninstall:%s", s.desc.ID)
	return nil
}

func (s *stubModule) Start(context.Context) error {
	s.log.add("start:%s", s.desc.ID)
	return nil
}

func (s *stubModule) Stop(context.Context) error {
	s.log.add("stop:%s", s.desc.ID)
	return nil
}

type harness struct {
	t       *testing.T
	catalog *module.Catalog
	store   *storage.Memory
	log     *callLog
	journal *events.RingBuffer
	ctrl    *frontcontroller.Controller
	kernel  *Kernel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:       t,
		catalog: module.NewCatalog(),
		store:   storage.NewMemory(),
		log:     &callLog{},
		journal: events.NewRingBuffer(100),
		ctrl:    frontcontroller.New(logging.NewDiscard()),
	}
}

// add registers a stub module. Each requirement is "id" or "id constraint".
func (h *harness) add(id string, core bool, paths []string, requires ...string) *stubModule {
	h.t.Helper()
	desc := module.Descriptor{ID: id, Version: "1.0.0", Core: core}
	for _, r := range requires {
		fields := strings.Fields(r)
		req := module.Requirement{ID: fields[0]}
		if len(fields) > 1 {
			req.Version = fields[1]
		}
		desc.Requires = append(desc.Requires, req)
	}
	stub := &stubModule{desc: desc, log: h.log, paths: paths}
	require.NoError(h.t, h.catalog.Register(desc, func(module.Dependencies) (module.Module, error) {
		return stub, nil
	}))
	return stub
}

func (h *harness) boot() *Kernel {
	h.t.Helper()
	k, err := New(Options{
		Catalog:  h.catalog,
		Store:    h.store,
		Migrator: recordingMigrator{log: h.log},
		CoreMigrations: fstest.MapFS{
			"001_core.up.sql": {Data: []byte("SELECT 1;")},
		},
		Logger:     logging.NewDiscard(),
		Events:     h.journal,
		Controller: h.ctrl,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, k.Boot(context.Background()))
	h.t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	h.kernel = k
	return k
}

func (h *harness) get(path string) (int, string) {
	rec := httptest.NewRecorder()
	h.ctrl.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func (h *harness) info(id string) module.Info {
	h.t.Helper()
	list, err := h.kernel.List(context.Background())
	require.NoError(h.t, err)
	for _, info := range list {
		if info.Descriptor.ID == id {
			return info
		}
	}
	h.t.Fatalf("module %s not listed", id)
	return module.Info{}
}

// before asserts that call a was recorded before call b.
func (h *harness) before(a, b string) {
	h.t.Helper()
	ia, ib := h.log.indexOf(a), h.log.indexOf(b)
	require.NotEqual(h.t, -1, ia, "%s not called: %v", a, h.log.list())
	require.NotEqual(h.t, -1, ib, "%s not called: %v", b, h.log.list())
	assert.Less(h.t, ia, ib, "%s should run before %s: %v", a, b, h.log.list())
}

func TestNewRequiresCatalogAndStore(t *testing.T) {
	_, err := New(Options{Store: storage.NewMemory()})
	assert.Error(t, err)
	_, err = New(Options{Catalog: module.NewCatalog()})
	assert.Error(t, err)
}

func TestBootInstallsAndStartsCoreModules(t *testing.T) {
	h := newHarness(t)
	// admin is registered first to make sure install order follows requirements.
	h.add("admin", true, []string{"/admin"}, "auth >=1.0.0")
	auth := h.add("auth", true, []string{"/auth"})
	h.add("news", false, []string{"/news"}, "auth")

	auth.hooks = func(r *hook.Registrar) {
		r.On(hook.AppBoot, func(context.Context, interface{}) error {
			h.log.add("boot:auth")
			return nil
		})
	}

	k := h.boot()
	assert.Equal(t, StateRunning, k.State())
	require.NoError(t, k.Health(context.Background()))

	h.before("up:core", "up:auth")
	h.before("install:auth", "install:admin")
	h.before("start:auth", "start:admin")
	h.before("boot:auth", "start:auth")
	assert.Equal(t, -1, h.log.indexOf("install:news"))

	code, body := h.get("/admin")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "admin", body)
	code, _ = h.get("/news")
	assert.Equal(t, http.StatusNotFound, code)

	admin := h.info("admin")
	assert.True(t, admin.Installed)
	assert.True(t, admin.Enabled)
	assert.True(t, admin.Loaded)
	assert.Equal(t, state.StatusRunning, admin.Status)
	assert.Equal(t, state.StatusAvailable, h.info("news").Status)

	assert.Error(t, k.Boot(context.Background()), "second boot")
}

func TestInstallRequirements(t *testing.T) {
	h := newHarness(t)
	auth := h.add("auth", true, nil)
	h.add("news", false, []string{"/news"}, "auth")
	h.add("gallery", false, []string{"/gallery"}, "news >=1.0.0")

	var installed []string
	auth.hooks = func(r *hook.Registrar) {
		r.On(hook.ModuleInstalled, func(_ context.Context, payload interface{}) error {
			installed = append(installed, payload.(*hook.ModuleEvent).ID)
			return nil
		})
	}
	k := h.boot()
	ctx := context.Background()

	err := k.Install(ctx, "gallery", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, module.ErrDependencyNotInstalled), err.Error())
	assert.False(t, h.info("gallery").Installed)

	assert.True(t, errors.Is(k.Install(ctx, "ghost", false), module.ErrUnknownModule))

	h.log.reset()
	require.NoError(t, k.Install(ctx, "gallery", true))
	h.before("up:news", "install:news")
	h.before("install:news", "up:gallery")
	h.before("up:gallery", "install:gallery")
	h.before("install:gallery", "start:gallery")
	assert.Equal(t, []string{"news", "gallery"}, installed)

	code, body := h.get("/gallery")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "gallery", body)
	assert.Equal(t, state.StatusRunning, h.info("news").Status)

	assert.True(t, errors.Is(k.Install(ctx, "gallery", false), module.ErrAlreadyInstalled))
}

func TestUninstall(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	h.add("news", false, []string{"/news"}, "auth")
	h.add("gallery", false, []string{"/gallery"}, "news")
	k := h.boot()
	ctx := context.Background()
	require.NoError(t, k.Install(ctx, "gallery", true))

	assert.True(t, errors.Is(k.Uninstall(ctx, "auth"), module.ErrCoreModule))

	err := k.Uninstall(ctx, "news")
	var depErr *module.DependentsError
	require.True(t, errors.As(err, &depErr), "err = %v", err)
	assert.Equal(t, []string{"gallery"}, depErr.Dependents)
	assert.True(t, errors.Is(err, module.ErrHasDependents))

	h.log.reset()
	require.NoError(t, k.Uninstall(ctx, "gallery"))
	h.before("stop:gallery", "uninstall:gallery")
	h.before("uninstall:gallery", "down:gallery")

	code, _ := h.get("/gallery")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.get("/news")
	assert.Equal(t, http.StatusOK, code)

	info := h.info("gallery")
	assert.False(t, info.Installed)
	assert.Equal(t, state.StatusAvailable, info.Status)
	assert.True(t, errors.Is(k.Uninstall(ctx, "gallery"), module.ErrNotInstalled))
	assert.NotEmpty(t, h.journal.RecentByType(events.ModuleUninstalled, 10))
}

func TestEnableDisable(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	h.add("news", false, []string{"/news"}, "auth")
	h.add("gallery", false, []string{"/gallery"}, "news")
	k := h.boot()
	ctx := context.Background()
	require.NoError(t, k.Install(ctx, "gallery", true))

	assert.True(t, errors.Is(k.Disable(ctx, "auth"), module.ErrCoreModule))
	assert.True(t, errors.Is(k.Disable(ctx, "news"), module.ErrHasDependents))

	h.log.reset()
	require.NoError(t, k.Disable(ctx, "gallery"))
	assert.NotEqual(t, -1, h.log.indexOf("stop:gallery"))
	code, _ := h.get("/gallery")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, state.StatusDisabled, h.info("gallery").Status)
	require.NoError(t, k.Disable(ctx, "gallery"), "disabling twice is a no-op")

	require.NoError(t, k.Disable(ctx, "news"))
	err := k.Enable(ctx, "gallery")
	assert.True(t, errors.Is(err, module.ErrDependencyDisabled), "err = %v", err)

	h.log.reset()
	require.NoError(t, k.Enable(ctx, "news"))
	require.NoError(t, k.Enable(ctx, "gallery"))
	assert.NotEqual(t, -1, h.log.indexOf("start:gallery"))
	code, _ = h.get("/gallery")
	assert.Equal(t, http.StatusOK, code)
}

func TestInstallWithDependenciesEnablesDisabledRequirement(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	h.add("news", false, nil, "auth")
	h.add("gallery", false, nil, "news")
	k := h.boot()
	ctx := context.Background()

	require.NoError(t, k.Install(ctx, "news", false))
	require.NoError(t, k.Disable(ctx, "news"))

	assert.True(t, errors.Is(k.Install(ctx, "gallery", false), module.ErrDependencyDisabled))
	require.NoError(t, k.Install(ctx, "gallery", true))
	assert.True(t, h.info("news").Enabled)
	assert.True(t, h.info("gallery").Loaded)
}

func TestRouteConflictSkipsModule(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	h.add("news", false, []string{"/news/{slug}"}, "auth")
	h.add("blog", false, []string{"/news/{id}"}, "auth")
	k := h.boot()
	ctx := context.Background()

	require.NoError(t, k.Install(ctx, "blog", false))
	require.NoError(t, k.Install(ctx, "news", false))

	// blog sorts first, so news is the module that conflicts.
	info := h.info("news")
	assert.True(t, info.Installed)
	assert.False(t, info.Loaded)
	assert.Equal(t, state.StatusSkipped, info.Status)
	assert.Contains(t, info.Error, "route conflict")

	_, body := h.get("/news/x")
	assert.Equal(t, "blog", body)
	assert.NotEmpty(t, h.journal.RecentByType(events.RouteConflict, 10))
}

func TestInstallerFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	broken := h.add("broken", false, nil, "auth")
	broken.installErr = errors.New("seed failed")
	k := h.boot()

	err := k.Install(context.Background(), "broken", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed failed")
	h.before("up:broken", "down:broken")
	assert.False(t, h.info("broken").Installed)
}

func TestCycleSkipsMembers(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	h.add("alpha", false, nil, "beta")
	h.add("beta", false, nil, "alpha")
	h.add("gamma", false, nil, "alpha")

	ctx := context.Background()
	for _, id := range []string{"alpha", "beta", "gamma"} {
		_, err := h.store.SaveModule(ctx, storage.ModuleRecord{ID: id, Version: "1.0.0", Enabled: true})
		require.NoError(t, err)
	}
	h.boot()

	for _, id := range []string{"alpha", "beta", "gamma"} {
		info := h.info(id)
		assert.Equal(t, state.StatusSkipped, info.Status, id)
		assert.False(t, info.Loaded, id)
	}
	assert.Contains(t, h.info("alpha").Error, "dependency cycle")
	assert.Equal(t, state.StatusRunning, h.info("auth").Status)
	assert.NotEmpty(t, h.journal.RecentByType(events.DependencyCycle, 10))
}

func TestBootUpgradesInstalledModules(t *testing.T) {
	h := newHarness(t)
	h.add("auth", true, nil)
	_, err := h.store.SaveModule(context.Background(), storage.ModuleRecord{ID: "auth", Version: "0.9.0", Enabled: true})
	require.NoError(t, err)

	h.boot()
	assert.NotEqual(t, -1, h.log.indexOf("up:auth"))
	assert.Equal(t, -1, h.log.indexOf("install:auth"))
	assert.Equal(t, "1.0.0", h.info("auth").InstalledVersion)
	assert.NotEmpty(t, h.journal.RecentByType(events.ModuleUpgraded, 10))
}

func TestShutdownStopsInReverseOrder(t *testing.T) {
	h := newHarness(t)
	auth := h.add("auth", true, nil)
	h.add("admin", true, nil, "auth")
	auth.hooks = func(r *hook.Registrar) {
		r.On(hook.AppShutdown, func(context.Context, interface{}) error {
			h.log.add("shutdown:auth")
			return nil
		})
	}
	k := h.boot()

	require.NoError(t, k.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, k.State())
	h.before("shutdown:auth", "stop:admin")
	h.before("stop:admin", "stop:auth")
	assert.Error(t, k.Health(context.Background()))
	require.NoError(t, k.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestKernelDispatchesIntoCurrentTable(t *testing.T) {
	h := newHarness(t)
	auth := h.add("auth", true, nil)
	auth.hooks = func(r *hook.Registrar) {
		r.Filter("greeting", func(_ context.Context, v interface{}) (interface{}, error) {
			return v.(string) + " world", nil
		})
	}
	k := h.boot()

	out, err := hook.ApplyAs(context.Background(), k, "greeting", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.True(t, k.Has("greeting"))

	var owners []string
	for _, e := range k.Hooks() {
		owners = append(owners, e.Owner)
	}
	assert.Contains(t, owners, "auth")
}
