// Package module defines what a CMS module is: a descriptor, a factory and
// a set of optional capabilities (routes, hooks, schema, install and
// runtime lifecycle). It also resolves the load order of a set of modules
// from their declared requirements.
package module

import (
	"context"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/router"
	"github.com/Guillaume29200/esport-cms/internal/session"
	"github.com/Guillaume29200/esport-cms/internal/state"
	"github.com/Guillaume29200/esport-cms/internal/token"
)

// Module is implemented by every module instance.
type Module interface {
	Descriptor() Descriptor
}

// RouteProvider contributes HTTP routes.
type RouteProvider interface {
	Routes(r *router.Scoped)
}

// HookProvider contributes hook callbacks.
type HookProvider interface {
	Hooks(h *hook.Registrar)
}

// SchemaProvider ships golang-migrate style migrations
// (NNN_name.up.sql / NNN_name.down.sql) at the root of the returned FS.
type SchemaProvider interface {
	Migrations() fs.FS
}

// Installer runs once when the module is installed or uninstalled, after
// migrations up and before migrations down respectively.
type Installer interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
}

// Starter owns background work that runs while the module is loaded.
type Starter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory builds a module instance.
type Factory func(deps Dependencies) (Module, error)

// Shared holds the services the kernel hands to every module.
type Shared struct {
	// DB is nil when the CMS runs without a database.
	DB       *sqlx.DB
	Sessions session.Store
	Tokens   *token.Issuer
}

// Dependencies is what a Factory receives.
type Dependencies struct {
	Shared

	ID       string
	Logger   *logging.Logger
	Settings Settings
	Events   events.Journal
	// Hooks dispatches into whatever hook table is current.
	Hooks   hook.Dispatcher
	Manager Manager
}

// Manager is the kernel as seen by the admin surface.
type Manager interface {
	List(ctx context.Context) ([]Info, error)
	Install(ctx context.Context, id string, withDependencies bool) error
	Uninstall(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error
	Routes() []router.Route
	Hooks() []hook.Entry
}

// Info is the admin view of one catalog module.
type Info struct {
	Descriptor       Descriptor   `json:"descriptor"`
	Installed        bool         `json:"installed"`
	Enabled          bool         `json:"enabled"`
	Loaded           bool         `json:"loaded"`
	InstalledVersion string       `json:"installed_version,omitempty"`
	InstalledAt      *time.Time   `json:"installed_at,omitempty"`
	Status           state.Status `json:"status"`
	Error            string       `json:"error,omitempty"`
}
