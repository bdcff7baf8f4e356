// Package storage persists which modules are installed and enabled.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// ModuleRecord is the persisted install state of one module.
type ModuleRecord struct {
	ID          string    `db:"id" json:"id"`
	Version     string    `db:"version" json:"version"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	InstalledAt time.Time `db:"installed_at" json:"installed_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ModuleStore persists module records.
type ModuleStore interface {
	ListModules(ctx context.Context) ([]ModuleRecord, error)
	GetModule(ctx context.Context, id string) (ModuleRecord, error)
	// SaveModule inserts or updates rec. InstalledAt is kept from the first
	// save.
	SaveModule(ctx context.Context, rec ModuleRecord) (ModuleRecord, error)
	DeleteModule(ctx context.Context, id string) error
}
