// Package admin is the administration surface: module management, hook and
// route introspection, the event journal (listed and streamed over a
// websocket) and host statistics.
package admin

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/middleware"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
)

//go:embed module.yaml
var descriptorYAML []byte

// Descriptor returns the admin module descriptor.
func Descriptor() module.Descriptor {
	return module.MustParseDescriptor(descriptorYAML, "module.yaml")
}

// Options tunes the admin surface.
type Options struct {
	EventsLimit  int
	PingInterval time.Duration
	StreamBuffer int
	DiskPath     string
}

// Module is the admin module instance.
type Module struct {
	desc    module.Descriptor
	manager module.Manager
	journal events.Journal
	hooks   hook.Dispatcher
	opts    Options
	log     *logging.Logger
}

var (
	_ module.RouteProvider = (*Module)(nil)
	_ module.HookProvider  = (*Module)(nil)
)

// New is the module factory.
func New(deps module.Dependencies) (module.Module, error) {
	if deps.Manager == nil {
		return nil, errors.New("admin: module manager is required")
	}
	journal := deps.Events
	if journal == nil {
		journal = events.Discard{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Module{
		desc:    Descriptor(),
		manager: deps.Manager,
		journal: journal,
		hooks:   deps.Hooks,
		opts: Options{
			EventsLimit:  deps.Settings.Int("events_limit", 200),
			PingInterval: deps.Settings.Duration("stream_ping_interval", 30*time.Second),
			StreamBuffer: deps.Settings.Int("stream_buffer", 64),
			DiskPath:     deps.Settings.String("disk_path", "/"),
		},
		log: logger,
	}, nil
}

func (m *Module) Descriptor() module.Descriptor { return m.desc }

func (m *Module) Routes(r *router.Scoped) {
	h := &handlers{
		manager: m.manager,
		journal: m.journal,
		hooks:   m.hooks,
		opts:    m.opts,
		log:     m.log,
	}
	admin := middleware.RequireAdmin

	r.HandleFunc(http.MethodGet, "/admin/menu", h.menu, admin)
	r.HandleFunc(http.MethodGet, "/admin/modules", h.listModules, admin)
	r.HandleFunc(http.MethodPost, "/admin/modules/{id}/install", h.install, admin)
	r.HandleFunc(http.MethodPost, "/admin/modules/{id}/uninstall", h.uninstall, admin)
	r.HandleFunc(http.MethodPost, "/admin/modules/{id}/enable", h.enable, admin)
	r.HandleFunc(http.MethodPost, "/admin/modules/{id}/disable", h.disable, admin)
	r.HandleFunc(http.MethodGet, "/admin/hooks", h.listHooks, admin)
	r.HandleFunc(http.MethodGet, "/admin/routes", h.listRoutes, admin)
	r.HandleFunc(http.MethodGet, "/admin/events", h.listEvents, admin)
	r.HandleFunc(http.MethodGet, "/admin/events/stream", h.stream, admin)
	r.HandleFunc(http.MethodGet, "/admin/system", h.system, admin)
}

// Hooks adds the admin's own entries to the menu. Other modules append
// theirs through the same filter.
func (m *Module) Hooks(h *hook.Registrar) {
	h.AddFilter(hook.AdminMenu, 0, func(_ context.Context, v interface{}) (interface{}, error) {
		menu, _ := v.(hook.Menu)
		return append(menu,
			hook.MenuItem{ID: "modules", Label: "Modules", Path: "/admin/modules", Icon: "puzzle", Weight: 80, Module: "admin"},
			hook.MenuItem{ID: "events", Label: "Events", Path: "/admin/events", Icon: "activity", Weight: 90, Module: "admin"},
			hook.MenuItem{ID: "system", Label: "System", Path: "/admin/system", Icon: "server", Weight: 100, Module: "admin"},
		), nil
	})
}
