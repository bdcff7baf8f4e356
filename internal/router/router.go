// Package router wraps gorilla/mux with route ownership. Each module
// registers through a Scoped view; its routes are committed together or not
// at all, and a method+path already owned by another module is rejected.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/Guillaume29200/esport-cms/internal/httputil"
)

// ErrRouteConflict is returned when two registrations share method and path.
var ErrRouteConflict = errors.New("route conflict")

// Route is one committed registration.
type Route struct {
	Owner  string `json:"owner"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// ConflictError names both sides of a route conflict.
type ConflictError struct {
	Route    Route
	Existing string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("route conflict: %s %s registered by %s already owned by %s", e.Route.Method, e.Route.Path, e.Route.Owner, e.Existing)
}

func (e *ConflictError) Unwrap() error { return ErrRouteConflict }

// Router is the shared router the front controller dispatches into.
type Router struct {
	mu     sync.RWMutex
	mux    *mux.Router
	routes map[string]Route
}

// New creates an empty router answering unknown routes with JSON errors.
func New() *Router {
	m := mux.NewRouter()
	m.NotFoundHandler = http.HandlerFunc(httputil.NotFound)
	m.MethodNotAllowedHandler = http.HandlerFunc(httputil.MethodNotAllowed)
	return &Router{mux: m, routes: make(map[string]Route)}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Scope returns a registration buffer owned by owner.
func (r *Router) Scope(owner string) *Scoped {
	return &Scoped{owner: owner}
}

// Commit mounts every route buffered in s. Nothing is mounted when any of
// them conflicts.
func (r *Router) Commit(s *Scoped) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]Route, len(s.pending))
	for _, p := range s.pending {
		route := Route{Owner: s.owner, Method: p.method, Path: p.path}
		k := key(p.method, p.path)
		if existing, ok := r.routes[k]; ok {
			return &ConflictError{Route: route, Existing: existing.Owner}
		}
		if _, ok := staged[k]; ok {
			return &ConflictError{Route: route, Existing: s.owner}
		}
		staged[k] = route
	}

	for _, p := range s.pending {
		r.mux.Handle(p.path, p.handler).Methods(p.method)
		r.routes[key(p.method, p.path)] = Route{Owner: s.owner, Method: p.method, Path: p.path}
	}
	return nil
}

// Routes lists committed routes sorted by path, method and owner.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Owner < out[j].Owner
	})
	return out
}

var varPattern = regexp.MustCompile(`\{[^}]*\}`)

// key normalizes path variables so /news/{slug} and /news/{id} collide.
func key(method, path string) string {
	return method + " " + varPattern.ReplaceAllString(path, "{}")
}

type pendingRoute struct {
	method  string
	path    string
	handler http.Handler
}

// Scoped buffers the registrations of one module.
type Scoped struct {
	owner   string
	pending []pendingRoute
}

func (s *Scoped) Owner() string { return s.owner }

// Handle registers h for method and path. Middleware wraps h outermost
// first.
func (s *Scoped) Handle(method, path string, h http.Handler, mw ...mux.MiddlewareFunc) {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	s.pending = append(s.pending, pendingRoute{
		method:  strings.ToUpper(method),
		path:    path,
		handler: h,
	})
}

func (s *Scoped) HandleFunc(method, path string, h http.HandlerFunc, mw ...mux.MiddlewareFunc) {
	s.Handle(method, path, h, mw...)
}

// Len returns the number of buffered routes.
func (s *Scoped) Len() int { return len(s.pending) }
