package module

import (
	"fmt"
	"sync"
)

type registration struct {
	desc    Descriptor
	factory Factory
}

// Catalog holds every module known to the binary, whether installed or not.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]registration
	order   []string
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]registration)}
}

// Register adds a module. The descriptor is validated and the ID must be
// new.
func (c *Catalog) Register(desc Descriptor, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("%w: %s: nil factory", ErrInvalidDescriptor, desc.ID)
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[desc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, desc.ID)
	}
	c.entries[desc.ID] = registration{desc: desc, factory: factory}
	c.order = append(c.order, desc.ID)
	return nil
}

// MustRegister panics on error. Intended for init-time registration.
func (c *Catalog) MustRegister(desc Descriptor, factory Factory) {
	if err := c.Register(desc, factory); err != nil {
		panic(err)
	}
}

func (c *Catalog) Get(id string) (Descriptor, Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[id]
	return r.desc, r.factory, ok
}

// List returns descriptors in registration order.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].desc)
	}
	return out
}

// Descriptors returns descriptors keyed by ID.
func (c *Catalog) Descriptors() map[string]Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Descriptor, len(c.entries))
	for id, r := range c.entries {
		out[id] = r.desc
	}
	return out
}

// IDs returns module IDs in registration order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Default is the process-wide catalog populated by module packages.
var Default = NewCatalog()

// Register adds a module to Default.
func Register(desc Descriptor, factory Factory) error {
	return Default.Register(desc, factory)
}
