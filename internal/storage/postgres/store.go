// Package postgres implements storage.ModuleStore on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Guillaume29200/esport-cms/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the kernel's own schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store implements storage.ModuleStore.
type Store struct {
	db *sqlx.DB
}

var _ storage.ModuleStore = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ListModules(ctx context.Context) ([]storage.ModuleRecord, error) {
	var out []storage.ModuleRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, version, enabled, installed_at, updated_at
		FROM cms_modules
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return out, nil
}

func (s *Store) GetModule(ctx context.Context, id string) (storage.ModuleRecord, error) {
	var rec storage.ModuleRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, version, enabled, installed_at, updated_at
		FROM cms_modules
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ModuleRecord{}, fmt.Errorf("module %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return storage.ModuleRecord{}, fmt.Errorf("get module %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) SaveModule(ctx context.Context, rec storage.ModuleRecord) (storage.ModuleRecord, error) {
	now := time.Now().UTC()
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = now
	}
	rec.UpdatedAt = now

	rows, err := sqlx.NamedQueryContext(ctx, s.db, `
		INSERT INTO cms_modules (id, version, enabled, installed_at, updated_at)
		VALUES (:id, :version, :enabled, :installed_at, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, version, enabled, installed_at, updated_at
	`, rec)
	if err != nil {
		return storage.ModuleRecord{}, fmt.Errorf("save module %s: %w", rec.ID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return storage.ModuleRecord{}, fmt.Errorf("save module %s: %w", rec.ID, err)
		}
		return storage.ModuleRecord{}, fmt.Errorf("save module %s: no row returned", rec.ID)
	}
	var saved storage.ModuleRecord
	if err := rows.StructScan(&saved); err != nil {
		return storage.ModuleRecord{}, fmt.Errorf("save module %s: %w", rec.ID, err)
	}
	return saved, nil
}

func (s *Store) DeleteModule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cms_modules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete module %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("module %s: %w", id, storage.ErrNotFound)
	}
	return nil
}
