// Package news publishes articles. Reading an article goes through the
// content.access and news.article filters so other modules can gate or
// decorate it.
package news

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/middleware"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
)

//go:embed module.yaml migrations/*.sql
var files embed.FS

// Descriptor returns the news module descriptor.
func Descriptor() module.Descriptor {
	data, err := files.ReadFile("module.yaml")
	if err != nil {
		panic(err)
	}
	return module.MustParseDescriptor(data, "module.yaml")
}

type Module struct {
	desc        module.Descriptor
	svc         *Service
	pageSize    int
	maxPageSize int
}

var (
	_ module.RouteProvider  = (*Module)(nil)
	_ module.HookProvider   = (*Module)(nil)
	_ module.SchemaProvider = (*Module)(nil)
)

// New is the module factory.
func New(deps module.Dependencies) (module.Module, error) {
	var store Store = newMemoryStore()
	if deps.DB != nil {
		store = &postgresStore{db: deps.DB}
	}
	m := &Module{
		desc:        Descriptor(),
		svc:         NewService(store, deps.Hooks, deps.Logger),
		pageSize:    deps.Settings.Int("page_size", 20),
		maxPageSize: deps.Settings.Int("max_page_size", 100),
	}
	if m.pageSize <= 0 {
		m.pageSize = 20
	}
	if m.maxPageSize < m.pageSize {
		m.maxPageSize = m.pageSize
	}
	return m, nil
}

func (m *Module) Descriptor() module.Descriptor { return m.desc }

func (m *Module) Service() *Service { return m.svc }

func (m *Module) Migrations() fs.FS {
	sub, err := fs.Sub(files, "migrations")
	if err != nil {
		panic(fmt.Sprintf("news migrations: %v", err))
	}
	return sub
}

func (m *Module) Routes(r *router.Scoped) {
	h := &handlers{svc: m.svc, pageSize: m.pageSize, maxPageSize: m.maxPageSize}
	r.HandleFunc(http.MethodGet, "/news", h.list)
	r.HandleFunc(http.MethodGet, "/news/{slug}", h.read)
	r.HandleFunc(http.MethodPost, "/admin/news", h.publish, middleware.RequireAdmin)
	r.HandleFunc(http.MethodDelete, "/admin/news/{id}", h.delete, middleware.RequireAdmin)
}

func (m *Module) Hooks(h *hook.Registrar) {
	h.Filter(hook.AdminMenu, func(_ context.Context, v interface{}) (interface{}, error) {
		menu, _ := v.(hook.Menu)
		return append(menu, hook.MenuItem{
			ID:     "news",
			Label:  "News",
			Path:   "/admin/news",
			Icon:   "newspaper",
			Weight: 20,
			Module: "news",
		}), nil
	})
}
