// Package events keeps an in-memory journal of module lifecycle activity.
// The kernel appends to it on every install, uninstall, toggle and rebuild,
// and the admin surface reads and streams it.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/state"
)

// Type classifies a journal entry.
type Type string

const (
	ModuleInstalled   Type = "module.installed"
	ModuleUninstalled Type = "module.uninstalled"
	ModuleEnabled     Type = "module.enabled"
	ModuleDisabled    Type = "module.disabled"
	ModuleUpgraded    Type = "module.upgraded"
	ModuleLoaded      Type = "module.loaded"
	ModuleSkipped     Type = "module.skipped"
	ModuleStarted     Type = "module.started"
	ModuleStartFailed Type = "module.start_failed"
	ModuleStopped     Type = "module.stopped"
	ModuleStopFailed  Type = "module.stop_failed"

	DependencyMissing Type = "dependency.missing"
	DependencyCycle   Type = "dependency.cycle"
	VersionMismatch   Type = "dependency.version_mismatch"
	RouteConflict     Type = "route.conflict"

	KernelBooting  Type = "kernel.booting"
	KernelBooted   Type = "kernel.booted"
	KernelRebuilt  Type = "kernel.rebuilt"
	KernelStopping Type = "kernel.stopping"
	KernelStopped  Type = "kernel.stopped"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one journal entry.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Module    string            `json:"module,omitempty"`
	Status    state.Status      `json:"status,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration_ns,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
}

func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

type Handler func(Event)

type Filter func(Event) bool

// Journal records and distributes events.
type Journal interface {
	Log(event Event)
	LogWithContext(ctx context.Context, event Event)
	Subscribe(handler Handler) func()
	SubscribeFiltered(filter Filter, handler Handler) func()
	Recent(n int) []Event
	RecentByModule(module string, n int) []Event
	RecentByType(t Type, n int) []Event
}

// RingBuffer is a fixed-size Journal. Newer entries overwrite the oldest.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []subscription
	nextID   int64
}

type subscription struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewRingBuffer creates a journal holding at most size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 500
	}
	return &RingBuffer{events: make([]Event, size), size: size}
}

// Log appends event and notifies subscribers. Handlers run on the caller's
// goroutine after the lock is released and must not block.
func (rb *RingBuffer) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.mu.Lock()
	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	subs := make([]subscription, len(rb.handlers))
	copy(subs, rb.handlers)
	rb.mu.Unlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.handler(event)
		}
	}
}

// LogWithContext stamps the trace ID found in ctx before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if ctx != nil && event.TraceID == "" {
		event.TraceID = logging.GetTraceID(ctx)
	}
	rb.Log(event)
}

func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers handler for events accepted by filter and
// returns a function removing the subscription.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, subscription{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rb.mu.Lock()
			defer rb.mu.Unlock()
			for i, s := range rb.handlers {
				if s.id == id {
					rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Recent returns up to n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.collect(n, nil)
}

func (rb *RingBuffer) RecentByModule(module string, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Module == module })
}

func (rb *RingBuffer) RecentByType(t Type, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Type == t })
}

func (rb *RingBuffer) collect(n int, keep Filter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	var out []Event
	for i := 0; i < rb.count && len(out) < n; i++ {
		e := rb.events[(rb.head-1-i+rb.size)%rb.size]
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Builder assembles an Event fluently.
type Builder struct {
	event Event
}

// New starts an event of type t.
func New(t Type) *Builder {
	return &Builder{event: Event{Type: t, Severity: SeverityInfo}}
}

func (b *Builder) Module(id string) *Builder {
	b.event.Module = id
	return b
}

func (b *Builder) Status(s state.Status) *Builder {
	b.event.Status = s
	return b
}

func (b *Builder) Severity(s Severity) *Builder {
	b.event.Severity = s
	return b
}

func (b *Builder) Message(msg string) *Builder {
	b.event.Message = msg
	return b
}

// Err records err and raises severity to error. A nil err is ignored.
func (b *Builder) Err(err error) *Builder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityError
	}
	return b
}

func (b *Builder) Duration(d time.Duration) *Builder {
	b.event.Duration = d
	return b
}

func (b *Builder) Meta(key, value string) *Builder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

func (b *Builder) Build() Event {
	return b.event
}

// LogTo appends the event to j.
func (b *Builder) LogTo(ctx context.Context, j Journal) {
	j.LogWithContext(ctx, b.Build())
}

// Discard is a Journal that drops everything.
type Discard struct{}

func (Discard) Log(Event)                                {}
func (Discard) LogWithContext(context.Context, Event)    {}
func (Discard) Subscribe(Handler) func()                 { return func() {} }
func (Discard) SubscribeFiltered(Filter, Handler) func() { return func() {} }
func (Discard) Recent(int) []Event                       { return nil }
func (Discard) RecentByModule(string, int) []Event       { return nil }
func (Discard) RecentByType(Type, int) []Event           { return nil }
