package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/events"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/module"
)

const defaultEventsLimit = 50

type handlers struct {
	manager module.Manager
	journal events.Journal
	hooks   hook.Dispatcher
	opts    Options
	log     *logging.Logger
}

func (h *handlers) menu(w http.ResponseWriter, r *http.Request) {
	menu := hook.Menu{}
	if h.hooks != nil {
		var err error
		menu, err = hook.ApplyAs(r.Context(), h.hooks, hook.AdminMenu, menu)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": menu.Sorted()})
}

func (h *handlers) listModules(w http.ResponseWriter, r *http.Request) {
	infos, err := h.manager.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"modules": infos})
}

func (h *handlers) install(w http.ResponseWriter, r *http.Request) {
	withDeps := queryBool(r, "with_deps")
	h.mutate(w, r, "install", func(ctx context.Context, id string) error {
		return h.manager.Install(ctx, id, withDeps)
	})
}

func (h *handlers) uninstall(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "uninstall", h.manager.Uninstall)
}

func (h *handlers) enable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "enable", h.manager.Enable)
}

func (h *handlers) disable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "disable", h.manager.Disable)
}

// mutate runs one lifecycle operation and answers with the module's state
// afterwards.
func (h *handlers) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	entry := h.log.WithContext(ctx).WithField("module_id", id).WithField("operation", op)
	if caller, ok := identity.From(ctx); ok {
		entry = entry.WithField("admin", caller.Username)
	}

	if err := fn(ctx, id); err != nil {
		entry.WithError(err).Warn("module operation refused")
		httputil.WriteError(w, r, moduleError(id, err))
		return
	}
	entry.Info("module operation applied")

	infos, err := h.manager.List(ctx)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	for _, info := range infos {
		if info.Descriptor.ID == id {
			httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"module": info})
			return
		}
	}
	// Uninstalled modules that left the catalog have nothing to show.
	w.WriteHeader(http.StatusNoContent)
}

// moduleError maps kernel refusals onto HTTP errors.
func moduleError(id string, err error) error {
	if apperrors.GetServiceError(err) != nil {
		return err
	}
	if errors.Is(err, module.ErrUnknownModule) {
		return apperrors.NotFound("module", id)
	}

	conflict := []error{
		module.ErrAlreadyInstalled,
		module.ErrNotInstalled,
		module.ErrCoreModule,
		module.ErrHasDependents,
		module.ErrDependencyNotInstalled,
		module.ErrDependencyDisabled,
		module.ErrMissingDependency,
		module.ErrVersionMismatch,
		module.ErrDependencyCycle,
	}
	for _, target := range conflict {
		if !errors.Is(err, target) {
			continue
		}
		se := apperrors.Conflict(err.Error(), err)
		var depErr *module.DependencyError
		if errors.As(err, &depErr) && depErr.Dependency != "" {
			se = se.WithDetails("dependency", depErr.Dependency)
			if depErr.Constraint != "" {
				se = se.WithDetails("constraint", depErr.Constraint)
			}
		}
		var dependents *module.DependentsError
		if errors.As(err, &dependents) {
			se = se.WithDetails("dependents", dependents.Dependents)
		}
		return se
	}
	return err
}

func (h *handlers) listHooks(w http.ResponseWriter, r *http.Request) {
	entries := h.manager.Hooks()
	if name := r.URL.Query().Get("hook"); name != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.Hook == name {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"hooks": entries})
}

func (h *handlers) listRoutes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"routes": h.manager.Routes()})
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, r, apperrors.Validation("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	if h.opts.EventsLimit > 0 && limit > h.opts.EventsLimit {
		limit = h.opts.EventsLimit
	}

	var list []events.Event
	switch {
	case q.Get("module") != "":
		list = h.journal.RecentByModule(q.Get("module"), limit)
	case q.Get("type") != "":
		list = h.journal.RecentByType(events.Type(q.Get("type")), limit)
	default:
		list = h.journal.Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
