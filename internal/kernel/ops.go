package kernel

import (
	"context"
	"fmt"
	"sort"

	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/state"
	"github.com/Guillaume29200/esport-cms/internal/storage"
)

// changes collects the hook notifications of one operation. They are
// dispatched once the kernel lock is released.
type changes struct {
	installed   []hook.ModuleEvent
	uninstalled []hook.ModuleEvent
	enabled     []hook.ModuleEvent
	disabled    []hook.ModuleEvent
}

func (k *Kernel) notify(ctx context.Context, c changes) {
	fire := func(name string, list []hook.ModuleEvent) {
		for i := range list {
			if err := k.Do(ctx, name, &list[i]); err != nil {
				k.logger.WithContext(ctx).WithField("hook", name).WithError(err).Warn("module hook failed")
			}
		}
	}
	fire(hook.ModuleInstalled, c.installed)
	fire(hook.ModuleEnabled, c.enabled)
	fire(hook.ModuleDisabled, c.disabled)
	fire(hook.ModuleUninstalled, c.uninstalled)
}

// Install installs id. Requirements must already be installed and enabled
// unless withDependencies is set, in which case missing requirements are
// installed first and disabled ones enabled.
func (k *Kernel) Install(ctx context.Context, id string, withDependencies bool) error {
	k.mu.Lock()
	c, err := k.installLocked(ctx, id, withDependencies)
	// Requirements may have been installed before a failure.
	if len(c.installed) > 0 || len(c.enabled) > 0 {
		if rerr := k.rebuildLocked(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	k.mu.Unlock()

	k.notify(ctx, c)
	if err != nil {
		k.logger.WithContext(ctx).WithField("module", id).WithError(err).Warn("install failed")
		return err
	}
	return nil
}

func (k *Kernel) installLocked(ctx context.Context, id string, withDependencies bool) (changes, error) {
	var c changes
	desc, _, ok := k.opts.Catalog.Get(id)
	if !ok {
		return c, fmt.Errorf("%w: %s", module.ErrUnknownModule, id)
	}
	records, err := k.records(ctx)
	if err != nil {
		return c, err
	}
	if _, ok := records[id]; ok {
		return c, fmt.Errorf("%w: %s", module.ErrAlreadyInstalled, id)
	}

	if withDependencies {
		order, err := module.Closure(k.opts.Catalog.Descriptors(), id)
		if err != nil {
			return c, err
		}
		for _, dep := range order {
			if dep == id {
				continue
			}
			rec, installed := records[dep]
			switch {
			case !installed:
				ev, err := k.installOne(ctx, dep)
				if err != nil {
					return c, fmt.Errorf("install requirement of %s: %w", id, err)
				}
				c.installed = append(c.installed, ev)
			case !rec.Enabled:
				rec.Enabled = true
				if _, err := k.opts.Store.SaveModule(ctx, rec); err != nil {
					return c, fmt.Errorf("enable requirement %s: %w", dep, err)
				}
				c.enabled = append(c.enabled, hook.ModuleEvent{ID: dep, Version: rec.Version})
				events.New(events.ModuleEnabled).Module(dep).LogTo(ctx, k.opts.Events)
			}
		}
		if records, err = k.records(ctx); err != nil {
			return c, err
		}
	}

	if err := checkRequirements(desc, records); err != nil {
		return c, err
	}

	ev, err := k.installOne(ctx, id)
	if err != nil {
		return c, err
	}
	c.installed = append(c.installed, ev)
	return c, nil
}

// checkRequirements verifies every requirement of desc is installed,
// enabled and version compatible.
func checkRequirements(desc module.Descriptor, records map[string]storage.ModuleRecord) error {
	for _, req := range desc.Requires {
		depErr := &module.DependencyError{Module: desc.ID, Dependency: req.ID, Constraint: req.Version}
		rec, ok := records[req.ID]
		switch {
		case !ok:
			depErr.Err = module.ErrDependencyNotInstalled
		case !module.Satisfies(rec.Version, req.Version):
			depErr.Found = rec.Version
			depErr.Err = module.ErrVersionMismatch
		case !rec.Enabled:
			depErr.Err = module.ErrDependencyDisabled
		default:
			continue
		}
		return depErr
	}
	return nil
}

// installOne migrates, runs the installer and records id as enabled. A
// failing installer rolls the migrations back.
func (k *Kernel) installOne(ctx context.Context, id string) (hook.ModuleEvent, error) {
	inst, err := k.instanceFor(id)
	if err != nil {
		return hook.ModuleEvent{}, err
	}
	fail := func(err error) (hook.ModuleEvent, error) {
		delete(k.instances, id)
		k.opts.Metrics.RecordLifecycle(id, "install", err)
		events.New(events.ModuleInstalled).Module(id).Err(err).LogTo(ctx, k.opts.Events)
		return hook.ModuleEvent{}, err
	}

	if err := k.migrateUp(ctx, inst); err != nil {
		return fail(fmt.Errorf("migrate %s: %w", id, err))
	}
	if installer, ok := inst.mod.(module.Installer); ok {
		if err := installer.Install(ctx); err != nil {
			if derr := k.migrateDown(ctx, inst); derr != nil {
				k.logger.WithField("module", id).WithError(derr).Error("rollback migrations")
			}
			return fail(fmt.Errorf("install %s: %w", id, err))
		}
	}

	rec, err := k.opts.Store.SaveModule(ctx, storage.ModuleRecord{ID: id, Version: inst.desc.Version, Enabled: true})
	if err != nil {
		return fail(fmt.Errorf("record %s: %w", id, err))
	}

	k.opts.Metrics.RecordLifecycle(id, "install", nil)
	events.New(events.ModuleInstalled).Module(id).Meta("version", rec.Version).LogTo(ctx, k.opts.Events)
	k.logger.WithContext(ctx).WithField("module", id).WithField("version", rec.Version).Info("module installed")
	return hook.ModuleEvent{ID: id, Version: rec.Version}, nil
}

// Uninstall stops id, runs its uninstaller, reverts its migrations and
// forgets it. Core modules and modules other installed modules require are
// refused.
func (k *Kernel) Uninstall(ctx context.Context, id string) error {
	k.mu.Lock()
	c, err := k.uninstallLocked(ctx, id)
	k.mu.Unlock()

	k.opts.Metrics.RecordLifecycle(id, "uninstall", err)
	if err != nil {
		k.logger.WithContext(ctx).WithField("module", id).WithError(err).Warn("uninstall failed")
		return err
	}
	k.notify(ctx, c)
	return nil
}

func (k *Kernel) uninstallLocked(ctx context.Context, id string) (changes, error) {
	var c changes
	desc, _, ok := k.opts.Catalog.Get(id)
	if !ok {
		return c, fmt.Errorf("%w: %s", module.ErrUnknownModule, id)
	}
	records, err := k.records(ctx)
	if err != nil {
		return c, err
	}
	rec, ok := records[id]
	if !ok {
		return c, fmt.Errorf("%w: %s", module.ErrNotInstalled, id)
	}
	if desc.Core {
		return c, fmt.Errorf("%w: %s", module.ErrCoreModule, id)
	}
	if deps := module.Dependents(id, k.opts.Catalog.Descriptors(), recordIDs(records, false)); len(deps) > 0 {
		return c, &module.DependentsError{Module: id, Dependents: deps, Err: module.ErrHasDependents}
	}

	inst, err := k.instanceFor(id)
	if err != nil {
		return c, err
	}
	if err := k.stopInstance(ctx, inst); err != nil {
		k.logger.WithField("module", id).WithError(err).Warn("stop before uninstall")
	}

	restore := func(err error) (changes, error) {
		if rerr := k.rebuildLocked(ctx); rerr != nil {
			k.logger.WithError(rerr).Error("rebuild after failed uninstall")
		}
		return c, err
	}
	if installer, ok := inst.mod.(module.Installer); ok {
		if err := installer.Uninstall(ctx); err != nil {
			return restore(fmt.Errorf("uninstall %s: %w", id, err))
		}
	}
	if err := k.migrateDown(ctx, inst); err != nil {
		return restore(fmt.Errorf("revert migrations of %s: %w", id, err))
	}
	if err := k.opts.Store.DeleteModule(ctx, id); err != nil {
		return restore(fmt.Errorf("forget %s: %w", id, err))
	}
	delete(k.instances, id)

	if err := k.rebuildLocked(ctx); err != nil {
		return c, err
	}
	events.New(events.ModuleUninstalled).Module(id).Status(state.StatusAvailable).LogTo(ctx, k.opts.Events)
	k.logger.WithContext(ctx).WithField("module", id).Info("module uninstalled")
	c.uninstalled = append(c.uninstalled, hook.ModuleEvent{ID: id, Version: rec.Version})
	return c, nil
}

// Enable switches an installed module on. Every requirement must be
// installed and enabled.
func (k *Kernel) Enable(ctx context.Context, id string) error {
	k.mu.Lock()
	c, err := k.toggleLocked(ctx, id, true)
	k.mu.Unlock()

	k.opts.Metrics.RecordLifecycle(id, "enable", err)
	if err != nil {
		return err
	}
	k.notify(ctx, c)
	return nil
}

// Disable switches an installed module off. Core modules and modules that
// enabled modules require are refused.
func (k *Kernel) Disable(ctx context.Context, id string) error {
	k.mu.Lock()
	c, err := k.toggleLocked(ctx, id, false)
	k.mu.Unlock()

	k.opts.Metrics.RecordLifecycle(id, "disable", err)
	if err != nil {
		return err
	}
	k.notify(ctx, c)
	return nil
}

func (k *Kernel) toggleLocked(ctx context.Context, id string, enable bool) (changes, error) {
	var c changes
	desc, _, ok := k.opts.Catalog.Get(id)
	if !ok {
		return c, fmt.Errorf("%w: %s", module.ErrUnknownModule, id)
	}
	records, err := k.records(ctx)
	if err != nil {
		return c, err
	}
	rec, ok := records[id]
	if !ok {
		return c, fmt.Errorf("%w: %s", module.ErrNotInstalled, id)
	}
	if rec.Enabled == enable {
		return c, nil
	}

	if enable {
		if err := checkRequirements(desc, records); err != nil {
			return c, err
		}
	} else {
		if desc.Core {
			return c, fmt.Errorf("%w: %s", module.ErrCoreModule, id)
		}
		if deps := module.Dependents(id, k.opts.Catalog.Descriptors(), recordIDs(records, true)); len(deps) > 0 {
			return c, &module.DependentsError{Module: id, Dependents: deps, Err: module.ErrHasDependents}
		}
	}

	rec.Enabled = enable
	if _, err := k.opts.Store.SaveModule(ctx, rec); err != nil {
		return c, fmt.Errorf("save %s: %w", id, err)
	}
	if err := k.rebuildLocked(ctx); err != nil {
		return c, err
	}

	ev := hook.ModuleEvent{ID: id, Version: rec.Version}
	if enable {
		c.enabled = append(c.enabled, ev)
		events.New(events.ModuleEnabled).Module(id).LogTo(ctx, k.opts.Events)
		k.logger.WithContext(ctx).WithField("module", id).Info("module enabled")
	} else {
		c.disabled = append(c.disabled, ev)
		events.New(events.ModuleDisabled).Module(id).Status(state.StatusDisabled).LogTo(ctx, k.opts.Events)
		k.logger.WithContext(ctx).WithField("module", id).Info("module disabled")
	}
	return c, nil
}

// List describes every catalog module, in catalog order.
func (k *Kernel) List(ctx context.Context) ([]module.Info, error) {
	records, err := k.records(ctx)
	if err != nil {
		return nil, err
	}
	v := k.current()

	descs := k.opts.Catalog.List()
	out := make([]module.Info, 0, len(descs))
	for _, desc := range descs {
		info := module.Info{Descriptor: desc, Status: state.StatusAvailable}
		if rec, ok := records[desc.ID]; ok {
			installedAt := rec.InstalledAt
			info.Installed = true
			info.Enabled = rec.Enabled
			info.InstalledVersion = rec.Version
			info.InstalledAt = &installedAt
			info.Status = state.StatusDisabled
		}
		if inst, ok := v.loaded[desc.ID]; ok {
			info.Loaded = true
			status, err := inst.Status()
			info.Status = status
			if err != nil {
				info.Error = err.Error()
			}
		} else if err, ok := v.skipped[desc.ID]; ok && info.Enabled {
			info.Status = state.StatusSkipped
			if v.failed[desc.ID] {
				info.Status = state.StatusFailed
			}
			info.Error = err.Error()
		} else if info.Enabled {
			// Installed and enabled but no build has run yet.
			info.Status = state.StatusStopped
		}
		out = append(out, info)
	}
	return out, nil
}

func recordIDs(records map[string]storage.ModuleRecord, enabledOnly bool) []string {
	ids := make([]string, 0, len(records))
	for id, rec := range records {
		if enabledOnly && !rec.Enabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
