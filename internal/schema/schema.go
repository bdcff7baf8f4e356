// Package schema applies and reverts the SQL migrations shipped by modules.
// Every module gets its own migrations table so modules version
// independently.
package schema

import (
	"context"
	"io/fs"
	"strings"
)

// CoreID names the kernel's own migration set.
const CoreID = "core"

// Migrator applies a module's migrations.
type Migrator interface {
	// Up applies every pending migration. Nothing pending is not an error.
	Up(ctx context.Context, moduleID string, migrations fs.FS) error
	// Down reverts every applied migration.
	Down(ctx context.Context, moduleID string, migrations fs.FS) error
}

// TableName returns the migrations table of moduleID.
func TableName(moduleID string) string {
	return "schema_migrations_" + strings.NewReplacer("-", "_", ".", "_").Replace(moduleID)
}

// Nop is the Migrator used when the CMS runs without a database.
type Nop struct{}

func (Nop) Up(context.Context, string, fs.FS) error   { return nil }
func (Nop) Down(context.Context, string, fs.FS) error { return nil }
