// Package frontcontroller is the single entry point for module routes. It
// dispatches request.before and request.after around the current router and
// lets the kernel swap router and hook table atomically.
package frontcontroller

import (
	"net/http"
	"sync/atomic"

	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

// Snapshot is what one request is served with.
type Snapshot struct {
	Router http.Handler
	Hooks  hook.Dispatcher
}

// Controller serves the current Snapshot.
type Controller struct {
	current atomic.Pointer[Snapshot]
	logger  *logging.Logger
}

func New(logger *logging.Logger) *Controller {
	return &Controller{logger: logger.Component("frontcontroller")}
}

// Swap installs s for subsequent requests. In-flight requests finish on the
// snapshot they started with.
func (c *Controller) Swap(s *Snapshot) {
	c.current.Store(s)
}

// Current returns the active snapshot, nil before the first Swap.
func (c *Controller) Current() *Snapshot {
	return c.current.Load()
}

func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := c.current.Load()
	if snap == nil {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Modules are not loaded yet", nil)
		return
	}

	rec := httputil.NewStatusRecorder(w)
	ev := &hook.RequestEvent{Writer: rec, Request: r}

	if err := snap.Hooks.Do(r.Context(), hook.RequestBefore, ev); err != nil {
		c.logger.WithContext(r.Context()).WithError(err).Warn("request.before hook failed")
	}
	if ev.Request == nil {
		ev.Request = r
	}

	if !ev.Handled {
		snap.Router.ServeHTTP(rec, ev.Request)
	}

	ev.Status = rec.Status
	if err := snap.Hooks.Do(ev.Request.Context(), hook.RequestAfter, ev); err != nil {
		c.logger.WithContext(ev.Request.Context()).WithError(err).Warn("request.after hook failed")
	}
}
