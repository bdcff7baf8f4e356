// Package hook implements the prioritized hook table modules use to extend
// each other. Actions are notified in order and their errors collected.
// Filters thread a value through every callback.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Guillaume29200/esport-cms/internal/metrics"
)

// DefaultPriority is used by modules that do not care about ordering.
// Lower priorities run first.
const DefaultPriority = 10

var (
	// ErrStop halts a dispatch without reporting an error.
	ErrStop = errors.New("hook: stop propagation")
	// ErrPanic wraps a recovered callback panic.
	ErrPanic = errors.New("hook: callback panicked")
	// ErrFilterType is returned when a filter chain yields a value of the
	// wrong type.
	ErrFilterType = errors.New("hook: filter returned unexpected type")
)

// Kind distinguishes actions from filters. The two live in separate
// namespaces: an action and a filter may share a name.
type Kind string

const (
	KindAction Kind = "action"
	KindFilter Kind = "filter"
)

// Action is notified with a payload. It may mutate pointer payloads.
type Action func(ctx context.Context, payload interface{}) error

// Filter receives a value and returns the value passed to the next filter.
type Filter func(ctx context.Context, value interface{}) (interface{}, error)

// Entry describes one registered callback.
type Entry struct {
	Hook     string `json:"hook"`
	Kind     Kind   `json:"kind"`
	Owner    string `json:"owner"`
	Priority int    `json:"priority"`
}

// Dispatcher fires hooks. Modules hold a Dispatcher rather than a *Table so
// the kernel can swap tables underneath them.
type Dispatcher interface {
	Do(ctx context.Context, name string, payload interface{}) error
	Apply(ctx context.Context, name string, value interface{}) (interface{}, error)
	Has(name string) bool
}

type callback struct {
	owner    string
	priority int
	seq      uint64
	action   Action
	filter   Filter
}

// Table holds callbacks keyed by hook name, kept sorted by priority then
// registration order.
type Table struct {
	mu      sync.RWMutex
	actions map[string][]*callback
	filters map[string][]*callback
	seq     uint64
	metrics *metrics.Metrics
}

// NewTable creates an empty table. m may be nil.
func NewTable(m *metrics.Metrics) *Table {
	return &Table{
		actions: make(map[string][]*callback),
		filters: make(map[string][]*callback),
		metrics: m,
	}
}

// AddAction registers fn for name and returns a function removing it.
func (t *Table) AddAction(owner, name string, priority int, fn Action) func() {
	return t.add(t.actions, &callback{owner: owner, priority: priority, action: fn}, name)
}

// AddFilter registers fn for name and returns a function removing it.
func (t *Table) AddFilter(owner, name string, priority int, fn Filter) func() {
	return t.add(t.filters, &callback{owner: owner, priority: priority, filter: fn}, name)
}

func (t *Table) add(set map[string][]*callback, cb *callback, name string) func() {
	t.mu.Lock()
	t.seq++
	cb.seq = t.seq
	list := append(set[name], cb)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	set[name] = list
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			set[name] = without(set[name], func(c *callback) bool { return c == cb })
			if len(set[name]) == 0 {
				delete(set, name)
			}
		})
	}
}

func without(list []*callback, drop func(*callback) bool) []*callback {
	out := make([]*callback, 0, len(list))
	for _, c := range list {
		if !drop(c) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) snapshot(set map[string][]*callback, name string) []*callback {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := set[name]
	if len(list) == 0 {
		return nil
	}
	out := make([]*callback, len(list))
	copy(out, list)
	return out
}

// Do runs every action registered for name. Callback errors are collected and
// dispatch continues. An action returning ErrStop ends the chain quietly. A
// done context ends the chain and its error is included in the result.
func (t *Table) Do(ctx context.Context, name string, payload interface{}) error {
	start := time.Now()
	var result *multierror.Error

	for _, cb := range t.snapshot(t.actions, name) {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		err := runAction(ctx, cb, payload)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrStop) {
			break
		}
		result = multierror.Append(result, fmt.Errorf("hook %s (%s): %w", name, cb.owner, err))
	}

	err := result.ErrorOrNil()
	t.metrics.RecordHookDispatch(name, string(KindAction), time.Since(start), err)
	return err
}

// Apply threads value through every filter registered for name. The first
// error aborts the chain and the original value is returned with it. A filter
// returning ErrStop has its value accepted and ends the chain.
func (t *Table) Apply(ctx context.Context, name string, value interface{}) (interface{}, error) {
	start := time.Now()
	current := value
	var err error

	for _, cb := range t.snapshot(t.filters, name) {
		if err = ctx.Err(); err != nil {
			break
		}
		var next interface{}
		next, err = runFilter(ctx, cb, current)
		if errors.Is(err, ErrStop) {
			current, err = next, nil
			break
		}
		if err != nil {
			err = fmt.Errorf("hook %s (%s): %w", name, cb.owner, err)
			break
		}
		current = next
	}

	t.metrics.RecordHookDispatch(name, string(KindFilter), time.Since(start), err)
	if err != nil {
		return value, err
	}
	return current, nil
}

func runAction(ctx context.Context, cb *callback, payload interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return cb.action(ctx, payload)
}

func runFilter(ctx context.Context, cb *callback, value interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return cb.filter(ctx, value)
}

// ApplyAs runs the filter chain for name and asserts the result back to T.
func ApplyAs[T any](ctx context.Context, d Dispatcher, name string, value T) (T, error) {
	out, err := d.Apply(ctx, name, value)
	if err != nil {
		return value, err
	}
	typed, ok := out.(T)
	if !ok {
		return value, fmt.Errorf("%w: %s returned %T, want %T", ErrFilterType, name, out, value)
	}
	return typed, nil
}

// RemoveOwner drops every callback registered by owner and returns how many
// were removed.
func (t *Table) RemoveOwner(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, set := range []map[string][]*callback{t.actions, t.filters} {
		for name, list := range set {
			kept := without(list, func(c *callback) bool { return c.owner == owner })
			removed += len(list) - len(kept)
			if len(kept) == 0 {
				delete(set, name)
			} else {
				set[name] = kept
			}
		}
	}
	return removed
}

// Has reports whether any action or filter is registered for name.
func (t *Table) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.actions[name]) > 0 || len(t.filters[name]) > 0
}

// Names returns every hook name with at least one callback, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{}, len(t.actions)+len(t.filters))
	for name := range t.actions {
		seen[name] = struct{}{}
	}
	for name := range t.filters {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries lists the callbacks of name in dispatch order, actions first.
func (t *Table) Entries(name string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for _, cb := range t.actions[name] {
		out = append(out, Entry{Hook: name, Kind: KindAction, Owner: cb.owner, Priority: cb.priority})
	}
	for _, cb := range t.filters[name] {
		out = append(out, Entry{Hook: name, Kind: KindFilter, Owner: cb.owner, Priority: cb.priority})
	}
	return out
}

// All lists every callback grouped by hook name.
func (t *Table) All() []Entry {
	var out []Entry
	for _, name := range t.Names() {
		out = append(out, t.Entries(name)...)
	}
	return out
}

// For returns a Registrar that records owner on every registration.
func (t *Table) For(owner string) *Registrar {
	return &Registrar{table: t, owner: owner}
}

// Registrar is the view of a Table handed to a single module.
type Registrar struct {
	table *Table
	owner string
}

func (r *Registrar) Owner() string { return r.owner }

// On registers an action at DefaultPriority.
func (r *Registrar) On(name string, fn Action) func() {
	return r.table.AddAction(r.owner, name, DefaultPriority, fn)
}

// AddAction registers an action at the given priority.
func (r *Registrar) AddAction(name string, priority int, fn Action) func() {
	return r.table.AddAction(r.owner, name, priority, fn)
}

// Filter registers a filter at DefaultPriority.
func (r *Registrar) Filter(name string, fn Filter) func() {
	return r.table.AddFilter(r.owner, name, DefaultPriority, fn)
}

// AddFilter registers a filter at the given priority.
func (r *Registrar) AddFilter(name string, priority int, fn Filter) func() {
	return r.table.AddFilter(r.owner, name, priority, fn)
}
