package kernel

import (
	"context"

	"github.com/Guillaume29200/esport-cms/internal/hook"
)

// Do dispatches into the hook table of the current build.
func (k *Kernel) Do(ctx context.Context, name string, payload interface{}) error {
	return k.current().table.Do(ctx, name, payload)
}

// Apply runs the filters of the current build.
func (k *Kernel) Apply(ctx context.Context, name string, value interface{}) (interface{}, error) {
	return k.current().table.Apply(ctx, name, value)
}

// Has reports whether the current build has callbacks for name.
func (k *Kernel) Has(name string) bool {
	return k.current().table.Has(name)
}

// Table returns the current hook table.
func (k *Kernel) Table() *hook.Table {
	return k.current().table
}
