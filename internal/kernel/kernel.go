// Package kernel manages the CMS modules: it boots the enabled set in
// dependency order, mounts their routes and hooks behind the front
// controller and installs, uninstalls, enables and disables them at runtime.
package kernel

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/frontcontroller"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/metrics"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
	"github.com/Guillaume29200/esport-cms/internal/schema"
	"github.com/Guillaume29200/esport-cms/internal/storage"
)

// State represents the kernel state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Options configures a Kernel. Catalog and Store are required.
type Options struct {
	Catalog  *module.Catalog
	Store    storage.ModuleStore
	Migrator schema.Migrator
	// CoreMigrations creates the kernel's own tables. May be nil.
	CoreMigrations fs.FS
	Shared         module.Shared
	// Settings overrides descriptor defaults, keyed by module ID.
	Settings map[string]map[string]interface{}
	// AutoInstall lists optional modules installed on first boot.
	AutoInstall []string

	Logger     *logging.Logger
	Events     events.Journal
	Metrics    *metrics.Metrics
	Controller *frontcontroller.Controller
}

// Kernel is the module manager.
type Kernel struct {
	// mu serializes every mutating operation.
	mu sync.Mutex

	opts   Options
	logger *logging.Logger

	stateMu sync.RWMutex
	state   State
	ctx     context.Context
	cancel  context.CancelFunc

	instances map[string]*instance
	prepared  bool

	view atomic.Pointer[view]
}

var (
	_ module.Manager  = (*Kernel)(nil)
	_ hook.Dispatcher = (*Kernel)(nil)
)

// New creates a Kernel in the created state.
func New(opts Options) (*Kernel, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("kernel: catalog is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("kernel: module store is required")
	}
	if opts.Migrator == nil {
		opts.Migrator = schema.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}

	k := &Kernel{
		opts:      opts,
		logger:    opts.Logger.Component("kernel"),
		state:     StateCreated,
		instances: make(map[string]*instance),
	}
	k.view.Store(emptyView(opts.Metrics))
	return k, nil
}

// State returns the current kernel state.
func (k *Kernel) State() State {
	k.stateMu.RLock()
	defer k.stateMu.RUnlock()
	return k.state
}

func (k *Kernel) setState(s State) {
	k.stateMu.Lock()
	k.state = s
	k.stateMu.Unlock()
	k.logger.WithField("state", s).Debug("kernel state changed")
}

func (k *Kernel) running() bool {
	return k.State() == StateRunning
}

// Prepare applies the core schema and installs core and auto-install
// modules that are missing. It does not load anything. Boot calls it; the
// CLI calls it alone before one-shot operations.
func (k *Kernel) Prepare(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.prepareLocked(ctx)
}

func (k *Kernel) prepareLocked(ctx context.Context) error {
	if k.prepared {
		return nil
	}
	if k.opts.CoreMigrations != nil {
		if err := k.opts.Migrator.Up(ctx, schema.CoreID, k.opts.CoreMigrations); err != nil {
			return fmt.Errorf("apply core schema: %w", err)
		}
	}

	var wanted []string
	for _, desc := range k.opts.Catalog.List() {
		if desc.Core {
			wanted = append(wanted, desc.ID)
		}
	}
	wanted = append(wanted, k.opts.AutoInstall...)

	for _, id := range wanted {
		// Installing with dependencies may have covered id already.
		records, err := k.records(ctx)
		if err != nil {
			return err
		}
		rec, installed := records[id]
		switch {
		case !installed:
			if _, _, known := k.opts.Catalog.Get(id); !known {
				k.logger.WithField("module", id).Warn("auto-install of unknown module ignored")
				continue
			}
			if _, err := k.installLocked(ctx, id, true); err != nil {
				return fmt.Errorf("auto-install %s: %w", id, err)
			}
		case !rec.Enabled && k.isCore(id):
			rec.Enabled = true
			if _, err := k.opts.Store.SaveModule(ctx, rec); err != nil {
				return fmt.Errorf("re-enable core module %s: %w", id, err)
			}
		}
	}

	if err := k.upgradeLocked(ctx); err != nil {
		return err
	}
	k.prepared = true
	return nil
}

// upgradeLocked migrates installed modules whose catalog version moved.
func (k *Kernel) upgradeLocked(ctx context.Context) error {
	records, err := k.records(ctx)
	if err != nil {
		return err
	}
	for id, rec := range records {
		desc, _, ok := k.opts.Catalog.Get(id)
		if !ok || rec.Version == desc.Version {
			continue
		}
		inst, err := k.instanceFor(id)
		if err != nil {
			return fmt.Errorf("upgrade %s: %w", id, err)
		}
		if err := k.migrateUp(ctx, inst); err != nil {
			return fmt.Errorf("upgrade %s: %w", id, err)
		}
		from := rec.Version
		rec.Version = desc.Version
		if _, err := k.opts.Store.SaveModule(ctx, rec); err != nil {
			return fmt.Errorf("upgrade %s: %w", id, err)
		}
		events.New(events.ModuleUpgraded).Module(id).
			Message(fmt.Sprintf("upgraded from %s to %s", from, desc.Version)).
			Meta("from", from).Meta("to", desc.Version).
			LogTo(ctx, k.opts.Events)
		k.logger.WithFields(logrus.Fields{"module": id, "from": from, "to": desc.Version}).Info("module upgraded")
	}
	return nil
}

// Boot prepares the kernel, loads every enabled module, fires app.boot and
// starts modules that own background work.
func (k *Kernel) Boot(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s := k.State(); s != StateCreated {
		return fmt.Errorf("kernel already booted (state %s)", s)
	}
	start := time.Now()
	k.setState(StateStarting)
	events.New(events.KernelBooting).LogTo(ctx, k.opts.Events)

	if err := k.prepareLocked(ctx); err != nil {
		k.setState(StateStopped)
		return err
	}

	k.ctx, k.cancel = context.WithCancel(context.Background())
	if err := k.rebuildLocked(ctx); err != nil {
		k.cancel()
		k.setState(StateStopped)
		return err
	}

	if err := k.Do(ctx, hook.AppBoot, nil); err != nil {
		k.logger.WithContext(ctx).WithError(err).Warn("app.boot hook failed")
	}

	for _, id := range k.current().order {
		k.startInstance(ctx, k.instances[id])
	}

	k.setState(StateRunning)
	loaded := len(k.current().order)
	events.New(events.KernelBooted).Duration(time.Since(start)).
		Message(fmt.Sprintf("%d modules loaded", loaded)).
		LogTo(ctx, k.opts.Events)
	k.logger.WithField("modules", loaded).WithField("duration_ms", time.Since(start).Milliseconds()).Info("kernel booted")
	return nil
}

// Shutdown fires app.shutdown and stops modules in reverse load order.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s := k.State(); s != StateRunning && s != StateStarting {
		return nil
	}
	k.setState(StateStopping)
	events.New(events.KernelStopping).LogTo(ctx, k.opts.Events)

	if err := k.Do(ctx, hook.AppShutdown, nil); err != nil {
		k.logger.WithContext(ctx).WithError(err).Warn("app.shutdown hook failed")
	}

	order := k.current().order
	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		if err := k.stopInstance(ctx, k.instances[order[i]]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if k.cancel != nil {
		k.cancel()
	}

	k.setState(StateStopped)
	events.New(events.KernelStopped).LogTo(ctx, k.opts.Events)
	k.logger.Info("kernel stopped")
	return firstErr
}

// Health reports an error unless the kernel is running.
func (k *Kernel) Health(context.Context) error {
	if s := k.State(); s != StateRunning {
		return fmt.Errorf("kernel not running: %s", s)
	}
	return nil
}

// Rebuild reloads modules from the persisted records.
func (k *Kernel) Rebuild(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rebuildLocked(ctx)
}

// Routes lists the routes of the current build.
func (k *Kernel) Routes() []router.Route {
	return k.current().router.Routes()
}

// Hooks lists the callbacks of the current build.
func (k *Kernel) Hooks() []hook.Entry {
	return k.current().table.All()
}

func (k *Kernel) isCore(id string) bool {
	desc, _, ok := k.opts.Catalog.Get(id)
	return ok && desc.Core
}

func (k *Kernel) records(ctx context.Context) (map[string]storage.ModuleRecord, error) {
	list, err := k.opts.Store.ListModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list module records: %w", err)
	}
	out := make(map[string]storage.ModuleRecord, len(list))
	for _, rec := range list {
		out[rec.ID] = rec
	}
	return out, nil
}
