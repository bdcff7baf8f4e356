// Package auth is the core accounts module: registration, login with
// bearer tokens bound to server-side sessions, and the request.before hook
// that attaches the caller's identity to every request.
package auth

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/middleware"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
)

//go:embed module.yaml migrations/*.sql
var files embed.FS

// Descriptor returns the auth module descriptor.
func Descriptor() module.Descriptor {
	data, err := files.ReadFile("module.yaml")
	if err != nil {
		panic(err)
	}
	return module.MustParseDescriptor(data, "module.yaml")
}

// Module is the auth module instance.
type Module struct {
	desc module.Descriptor
	svc  *Service
	log  *logging.Logger
}

var (
	_ module.RouteProvider  = (*Module)(nil)
	_ module.HookProvider   = (*Module)(nil)
	_ module.SchemaProvider = (*Module)(nil)
)

// New is the module factory.
func New(deps module.Dependencies) (module.Module, error) {
	if deps.Tokens == nil || deps.Sessions == nil {
		return nil, errors.New("auth: token issuer and session store are required")
	}

	var users UserStore = newMemoryUsers()
	if deps.DB != nil {
		users = &postgresUsers{db: deps.DB}
	}

	policy := Policy{
		Admins:            deps.Settings.StringSlice("admins"),
		AllowRegistration: deps.Settings.Bool("allow_registration", true),
		MinPasswordLength: deps.Settings.Int("min_password_length", 8),
		BcryptCost:        deps.Settings.Int("bcrypt_cost", 10),
	}
	return &Module{
		desc: Descriptor(),
		svc:  NewService(users, deps.Sessions, deps.Tokens, deps.Hooks, policy, deps.Logger),
		log:  deps.Logger,
	}, nil
}

func (m *Module) Descriptor() module.Descriptor { return m.desc }

// Service exposes the account service.
func (m *Module) Service() *Service { return m.svc }

func (m *Module) Migrations() fs.FS {
	sub, err := fs.Sub(files, "migrations")
	if err != nil {
		panic(fmt.Sprintf("auth migrations: %v", err))
	}
	return sub
}

func (m *Module) Routes(r *router.Scoped) {
	h := &handlers{svc: m.svc}
	r.HandleFunc(http.MethodPost, "/auth/register", h.register)
	r.HandleFunc(http.MethodPost, "/auth/login", h.login)
	r.HandleFunc(http.MethodPost, "/auth/logout", h.logout, middleware.RequireAuthenticated)
	r.HandleFunc(http.MethodGet, "/auth/me", h.me, middleware.RequireAuthenticated)
	r.HandleFunc(http.MethodGet, "/admin/users", h.listUsers, middleware.RequireAdmin)
	r.HandleFunc(http.MethodPut, "/admin/users/{id}/role", h.setRole, middleware.RequireAdmin)
}

func (m *Module) Hooks(h *hook.Registrar) {
	// Identity must be attached before any other request.before action.
	h.AddAction(hook.RequestBefore, 0, m.attachIdentity)
	h.Filter(hook.AdminMenu, func(_ context.Context, v interface{}) (interface{}, error) {
		menu, _ := v.(hook.Menu)
		return append(menu, hook.MenuItem{
			ID:     "users",
			Label:  "Users",
			Path:   "/admin/users",
			Icon:   "users",
			Weight: 10,
			Module: "auth",
		}), nil
	})
}

func (m *Module) attachIdentity(ctx context.Context, payload interface{}) error {
	ev, ok := payload.(*hook.RequestEvent)
	if !ok || ev.Request == nil {
		return nil
	}
	raw := bearerToken(ev.Request)
	if raw == "" {
		return nil
	}
	id, err := m.svc.Resolve(ctx, raw)
	if err != nil {
		// An unusable token leaves the request anonymous.
		m.log.WithContext(ctx).WithError(err).Debug("bearer token rejected")
		return nil
	}
	ev.Request = ev.Request.WithContext(identity.With(ev.Request.Context(), id))
	return nil
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on websocket upgrades, so those may pass access_token in the query.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
