package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
	"github.com/Guillaume29200/esport-cms/internal/state"
)

type fakeManager struct {
	mu    sync.Mutex
	calls []string
	infos []module.Info
	err   error
}

func (f *fakeManager) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeManager) List(context.Context) ([]module.Info, error) { return f.infos, nil }

func (f *fakeManager) Install(_ context.Context, id string, withDeps bool) error {
	return f.record(fmt.Sprintf("install:%s:%t", id, withDeps))
}

func (f *fakeManager) Uninstall(_ context.Context, id string) error {
	return f.record("uninstall:" + id)
}

func (f *fakeManager) Enable(_ context.Context, id string) error { return f.record("enable:" + id) }

func (f *fakeManager) Disable(_ context.Context, id string) error { return f.record("disable:" + id) }

func (f *fakeManager) Routes() []router.Route {
	return []router.Route{{Owner: "auth", Method: http.MethodGet, Path: "/auth/me"}}
}

func (f *fakeManager) Hooks() []hook.Entry {
	return []hook.Entry{
		{Hook: hook.AdminMenu, Kind: hook.KindFilter, Owner: "admin"},
		{Hook: hook.RequestBefore, Kind: hook.KindAction, Owner: "auth"},
	}
}

type fixture struct {
	t       *testing.T
	manager *fakeManager
	journal *events.RingBuffer
	table   *hook.Table
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := &fakeManager{infos: []module.Info{{
		Descriptor: module.Descriptor{ID: "news", Name: "News", Version: "1.0.0"},
		Installed:  true,
		Enabled:    true,
		Loaded:     true,
		Status:     state.StatusRunning,
	}}}
	journal := events.NewRingBuffer(50)
	table := hook.NewTable(nil)

	mod, err := New(module.Dependencies{
		ID:       "admin",
		Logger:   logging.NewDiscard(),
		Settings: module.MergeSettings(Descriptor().Settings, map[string]interface{}{"events_limit": 3}),
		Events:   journal,
		Hooks:    table,
		Manager:  mgr,
	})
	require.NoError(t, err)
	m := mod.(*Module)
	m.Hooks(table.For("admin"))

	rt := router.New()
	scoped := rt.Scope("admin")
	m.Routes(scoped)
	require.NoError(t, rt.Commit(scoped))

	// Stands in for the auth module's request.before hook.
	withRole := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role := r.Header.Get("X-Role"); role != "" {
			r = r.WithContext(identity.With(r.Context(), identity.Identity{UserID: "u1", Username: "root", Role: role}))
		}
		rt.ServeHTTP(w, r)
	})
	return &fixture{t: t, manager: mgr, journal: journal, table: table, handler: withRole}
}

func (f *fixture) do(method, path, role string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
}

func TestDescriptor(t *testing.T) {
	d := Descriptor()
	assert.Equal(t, "admin", d.ID)
	assert.True(t, d.Core)
	require.Len(t, d.Requires, 1)
	assert.Equal(t, "auth", d.Requires[0].ID)
	assert.Equal(t, ">=1.0.0", d.Requires[0].Version)
}

func TestNewRequiresManager(t *testing.T) {
	_, err := New(module.Dependencies{ID: "admin"})
	assert.Error(t, err)
}

func TestRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/modules", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/admin/modules", identity.RoleMember).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/admin/modules", identity.RoleAdmin).Code)
}

func TestMenuIsSorted(t *testing.T) {
	f := newFixture(t)
	f.table.For("news").Filter(hook.AdminMenu, func(_ context.Context, v interface{}) (interface{}, error) {
		return append(v.(hook.Menu), hook.MenuItem{ID: "news", Label: "News", Path: "/admin/news", Weight: 20, Module: "news"}), nil
	})
	f.table.For("auth").Filter(hook.AdminMenu, func(_ context.Context, v interface{}) (interface{}, error) {
		return append(v.(hook.Menu), hook.MenuItem{ID: "users", Label: "Users", Path: "/admin/users", Weight: 10, Module: "auth"}), nil
	})

	rec := f.do(http.MethodGet, "/admin/menu", identity.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []hook.MenuItem `json:"items"`
	}
	decode(t, rec, &body)

	var ids []string
	for _, item := range body.Items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"users", "news", "modules", "events", "system"}, ids)
}

func TestModuleOperations(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/admin/modules/news/install?with_deps=1", identity.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Module module.Info `json:"module"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "news", body.Module.Descriptor.ID)
	assert.True(t, body.Module.Loaded)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/modules/news/disable", identity.RoleAdmin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/modules/news/enable", identity.RoleAdmin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/modules/news/uninstall", identity.RoleAdmin).Code)
	// Not in the fake's listing any more.
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/admin/modules/gone/install", identity.RoleAdmin).Code)

	assert.Equal(t, []string{
		"install:news:true",
		"disable:news",
		"enable:news",
		"uninstall:news",
		"install:gone:false",
	}, f.manager.calls)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/admin/modules/news/install", identity.RoleAdmin).Code)
}

func TestModuleErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, details map[string]interface{})
	}{
		{"unknown", fmt.Errorf("%w: ghost", module.ErrUnknownModule), http.StatusNotFound, nil},
		{"core", fmt.Errorf("module auth: %w", module.ErrCoreModule), http.StatusConflict, nil},
		{"already installed", module.ErrAlreadyInstalled, http.StatusConflict, nil},
		{
			"dependents",
			&module.DependentsError{Module: "auth", Dependents: []string{"news", "premium"}, Err: module.ErrHasDependents},
			http.StatusConflict,
			func(t *testing.T, d map[string]interface{}) {
				assert.Equal(t, []interface{}{"news", "premium"}, d["dependents"])
			},
		},
		{
			"requirement",
			&module.DependencyError{Module: "news", Dependency: "auth", Constraint: ">=2.0.0", Found: "1.0.0", Err: module.ErrVersionMismatch},
			http.StatusConflict,
			func(t *testing.T, d map[string]interface{}) {
				assert.Equal(t, "auth", d["dependency"])
				assert.Equal(t, ">=2.0.0", d["constraint"])
			},
		},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.manager.err = tt.err
			rec := f.do(http.MethodPost, "/admin/modules/news/uninstall", identity.RoleAdmin)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body struct {
				Error struct {
					Code    string                 `json:"code"`
					Message string                 `json:"message"`
					Details map[string]interface{} `json:"details"`
				} `json:"error"`
			}
			decode(t, rec, &body)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body.Error.Message, "disk on fire")
			}
			if tt.check != nil {
				tt.check(t, body.Error.Details)
			}
		})
	}
}

func TestHooksAndRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/admin/hooks?hook="+hook.RequestBefore, identity.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var hooks struct {
		Hooks []hook.Entry `json:"hooks"`
	}
	decode(t, rec, &hooks)
	require.Len(t, hooks.Hooks, 1)
	assert.Equal(t, "auth", hooks.Hooks[0].Owner)

	rec = f.do(http.MethodGet, "/admin/routes", identity.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var routes struct {
		Routes []router.Route `json:"routes"`
	}
	decode(t, rec, &routes)
	assert.Equal(t, []router.Route{{Owner: "auth", Method: http.MethodGet, Path: "/auth/me"}}, routes.Routes)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.journal.Log(events.New(events.ModuleLoaded).Module(fmt.Sprintf("m%d", i)).Build())
	}
	f.journal.Log(events.New(events.ModuleInstalled).Module("news").Build())

	type listing struct {
		Events []events.Event `json:"events"`
	}

	var all listing
	rec := f.do(http.MethodGet, "/admin/events", identity.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &all)
	// events_limit caps the default as well.
	require.Len(t, all.Events, 3)
	assert.Equal(t, "news", all.Events[0].Module)

	var byModule listing
	decode(t, f.do(http.MethodGet, "/admin/events?module=m1", identity.RoleAdmin), &byModule)
	require.Len(t, byModule.Events, 1)
	assert.Equal(t, "m1", byModule.Events[0].Module)

	var byType listing
	decode(t, f.do(http.MethodGet, "/admin/events?type=module.installed&limit=2", identity.RoleAdmin), &byType)
	require.Len(t, byType.Events, 1)
	assert.Equal(t, events.ModuleInstalled, byType.Events[0].Type)

	var none listing
	decode(t, f.do(http.MethodGet, "/admin/events?module=ghost", identity.RoleAdmin), &none)
	assert.NotNil(t, none.Events)
	assert.Empty(t, none.Events)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/admin/events?limit=-1", identity.RoleAdmin).Code)
}

func dialStream(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/events/stream" + query
	header := http.Header{}
	header.Set("X-Role", identity.RoleAdmin)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return conn
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	conn := dialStream(t, f, "")

	f.journal.Log(events.New(events.ModuleEnabled).Module("news").Message("enabled").Build())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.ModuleEnabled, got.Type)
	assert.Equal(t, "news", got.Module)
	assert.NotEmpty(t, got.ID)
}

func TestEventStreamFilter(t *testing.T) {
	f := newFixture(t)
	conn := dialStream(t, f, "?module=news")

	f.journal.Log(events.New(events.ModuleLoaded).Module("blog").Build())
	f.journal.Log(events.New(events.ModuleLoaded).Module("news").Build())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "news", got.Module)
}

func TestEventStreamRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/events/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSystem(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/admin/system", identity.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)

	var info SystemInfo
	decode(t, rec, &info)
	assert.NotEmpty(t, info.Runtime.GoVersion)
	assert.Positive(t, info.Runtime.Goroutines)
	assert.Positive(t, info.Process.PID)
}
