package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/frontcontroller"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/metrics"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
	"github.com/Guillaume29200/esport-cms/internal/state"
)

// view is one build: the router and hook table of the loaded modules. A
// new view is published on every rebuild.
type view struct {
	table  *hook.Table
	router *router.Router
	// order lists loaded modules in load order.
	order  []string
	loaded map[string]*instance
	// skipped holds enabled modules that did not load and why.
	skipped map[string]error
	// failed marks skipped modules whose construction failed.
	failed map[string]bool
}

func emptyView(m *metrics.Metrics) *view {
	return &view{
		table:   hook.NewTable(m),
		router:  router.New(),
		loaded:  make(map[string]*instance),
		skipped: make(map[string]error),
		failed:  make(map[string]bool),
	}
}

func (k *Kernel) current() *view {
	return k.view.Load()
}

type instance struct {
	desc module.Descriptor
	mod  module.Module

	mu     sync.Mutex
	status state.Status
	err    error
}

func (i *instance) Status() (state.Status, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status, i.err
}

func (i *instance) transition(to state.Status, err error) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status != to && !state.CanTransition(i.status, to) {
		return state.TransitionError{Module: i.desc.ID, From: i.status, To: to}
	}
	i.status = to
	i.err = err
	return nil
}

// instanceFor returns the live instance of id, constructing it if needed.
func (k *Kernel) instanceFor(id string) (*instance, error) {
	if inst, ok := k.instances[id]; ok {
		return inst, nil
	}
	desc, factory, ok := k.opts.Catalog.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", module.ErrUnknownModule, id)
	}

	mod, err := factory(module.Dependencies{
		Shared:   k.opts.Shared,
		ID:       id,
		Logger:   k.opts.Logger.Component("module." + id),
		Settings: module.MergeSettings(desc.Settings, k.opts.Settings[id]),
		Events:   k.opts.Events,
		Hooks:    k,
		Manager:  k,
	})
	if err != nil {
		return nil, fmt.Errorf("construct module %s: %w", id, err)
	}
	if mod == nil {
		return nil, fmt.Errorf("construct module %s: factory returned nil", id)
	}

	inst := &instance{desc: desc, mod: mod}
	k.instances[id] = inst
	return inst, nil
}

// rebuildLocked loads every enabled module into a fresh router and hook
// table and publishes them. Modules that were loaded before keep their
// instance; modules that dropped out are stopped.
func (k *Kernel) rebuildLocked(ctx context.Context) error {
	start := time.Now()

	records, err := k.records(ctx)
	if err != nil {
		return err
	}
	var wanted []string
	for id, rec := range records {
		if !rec.Enabled {
			continue
		}
		if _, _, ok := k.opts.Catalog.Get(id); !ok {
			k.logger.WithField("module", id).Warn("installed module is not in the catalog")
			continue
		}
		wanted = append(wanted, id)
	}

	plan := module.Resolve(k.opts.Catalog.Descriptors(), wanted)
	next := emptyView(k.opts.Metrics)
	for id, err := range plan.Skipped {
		next.skipped[id] = err
	}

	for _, id := range plan.Order {
		desc, _, _ := k.opts.Catalog.Get(id)
		if err := blockedBy(desc, next); err != nil {
			next.skipped[id] = err
			continue
		}

		inst, err := k.instanceFor(id)
		if err != nil {
			next.skipped[id] = err
			next.failed[id] = true
			continue
		}

		if rp, ok := inst.mod.(module.RouteProvider); ok {
			scoped := next.router.Scope(id)
			rp.Routes(scoped)
			if err := next.router.Commit(scoped); err != nil {
				next.skipped[id] = fmt.Errorf("module %s: %w", id, err)
				continue
			}
		}
		if hp, ok := inst.mod.(module.HookProvider); ok {
			hp.Hooks(next.table.For(id))
		}

		if s, _ := inst.Status(); !s.IsActive() {
			if err := inst.transition(state.StatusLoaded, nil); err != nil {
				k.logger.WithError(err).Warn("unexpected module status")
			}
		}
		next.order = append(next.order, id)
		next.loaded[id] = inst
		events.New(events.ModuleLoaded).Module(id).Status(state.StatusLoaded).LogTo(ctx, k.opts.Events)
	}

	for id, err := range next.skipped {
		k.reportSkipped(ctx, id, err, next.failed[id])
	}

	k.view.Store(next)
	if k.opts.Controller != nil {
		k.opts.Controller.Swap(&frontcontroller.Snapshot{Router: next.router, Hooks: next.table})
	}

	for id, inst := range k.instances {
		if _, ok := next.loaded[id]; ok {
			continue
		}
		if err := k.stopInstance(ctx, inst); err != nil {
			k.logger.WithField("module", id).WithError(err).Warn("stop unloaded module")
		}
		delete(k.instances, id)
	}

	if k.running() {
		for _, id := range next.order {
			k.startInstance(ctx, next.loaded[id])
		}
	}

	k.opts.Metrics.SetModulesLoaded(len(next.order))
	events.New(events.KernelRebuilt).Duration(time.Since(start)).
		Message(fmt.Sprintf("%d loaded, %d skipped", len(next.order), len(next.skipped))).
		LogTo(ctx, k.opts.Events)
	k.logger.WithField("loaded", next.order).WithField("skipped", len(next.skipped)).Info("modules rebuilt")
	return nil
}

// blockedBy fails when a requirement of desc did not make it into next.
func blockedBy(desc module.Descriptor, next *view) error {
	for _, req := range desc.Requires {
		if _, ok := next.loaded[req.ID]; !ok {
			return &module.DependencyError{
				Module:     desc.ID,
				Dependency: req.ID,
				Constraint: req.Version,
				Err:        module.ErrMissingDependency,
			}
		}
	}
	return nil
}

func (k *Kernel) reportSkipped(ctx context.Context, id string, err error, failed bool) {
	typ := events.ModuleSkipped
	switch {
	case errors.Is(err, module.ErrDependencyCycle):
		typ = events.DependencyCycle
	case errors.Is(err, module.ErrVersionMismatch):
		typ = events.VersionMismatch
	case errors.Is(err, module.ErrMissingDependency):
		typ = events.DependencyMissing
	case errors.Is(err, router.ErrRouteConflict):
		typ = events.RouteConflict
	}
	status := state.StatusSkipped
	if failed {
		status = state.StatusFailed
	}
	events.New(typ).Module(id).Status(status).Err(err).Severity(events.SeverityWarning).LogTo(ctx, k.opts.Events)
	k.logger.WithField("module", id).WithError(err).Warn("module not loaded")
}

func (k *Kernel) startInstance(ctx context.Context, inst *instance) {
	if inst == nil {
		return
	}
	if s, _ := inst.Status(); s != state.StatusLoaded && s != state.StatusStopped {
		return
	}
	id := inst.desc.ID
	_ = inst.transition(state.StatusStarting, nil)

	starter, ok := inst.mod.(module.Starter)
	if !ok {
		_ = inst.transition(state.StatusRunning, nil)
		return
	}

	runCtx := k.ctx
	if runCtx == nil {
		runCtx = ctx
	}
	start := time.Now()
	err := starter.Start(runCtx)
	k.opts.Metrics.RecordLifecycle(id, "start", err)
	if err != nil {
		_ = inst.transition(state.StatusFailed, err)
		events.New(events.ModuleStartFailed).Module(id).Status(state.StatusFailed).Err(err).LogTo(ctx, k.opts.Events)
		k.logger.WithField("module", id).WithError(err).Error("module failed to start")
		return
	}
	_ = inst.transition(state.StatusRunning, nil)
	events.New(events.ModuleStarted).Module(id).Status(state.StatusRunning).Duration(time.Since(start)).LogTo(ctx, k.opts.Events)
}

func (k *Kernel) stopInstance(ctx context.Context, inst *instance) error {
	if inst == nil {
		return nil
	}
	if s, _ := inst.Status(); s != state.StatusRunning && s != state.StatusStarting {
		return nil
	}
	id := inst.desc.ID
	_ = inst.transition(state.StatusStopping, nil)

	var err error
	if starter, ok := inst.mod.(module.Starter); ok {
		err = starter.Stop(ctx)
		k.opts.Metrics.RecordLifecycle(id, "stop", err)
	}
	if err != nil {
		_ = inst.transition(state.StatusFailed, err)
		events.New(events.ModuleStopFailed).Module(id).Status(state.StatusFailed).Err(err).LogTo(ctx, k.opts.Events)
		return fmt.Errorf("stop module %s: %w", id, err)
	}
	_ = inst.transition(state.StatusStopped, nil)
	events.New(events.ModuleStopped).Module(id).Status(state.StatusStopped).LogTo(ctx, k.opts.Events)
	return nil
}

func (k *Kernel) migrateUp(ctx context.Context, inst *instance) error {
	sp, ok := inst.mod.(module.SchemaProvider)
	if !ok {
		return nil
	}
	migrations := sp.Migrations()
	if migrations == nil {
		return nil
	}
	return k.opts.Migrator.Up(ctx, inst.desc.ID, migrations)
}

func (k *Kernel) migrateDown(ctx context.Context, inst *instance) error {
	sp, ok := inst.mod.(module.SchemaProvider)
	if !ok {
		return nil
	}
	migrations := sp.Migrations()
	if migrations == nil {
		return nil
	}
	return k.opts.Migrator.Down(ctx, inst.desc.ID, migrations)
}
