package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Guillaume29200/esport-cms/internal/logging"
)

// Postgres runs migrations with golang-migrate on a dedicated connection
// taken from db.
type Postgres struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewPostgres(db *sql.DB, logger *logging.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.Component("schema")}
}

func (p *Postgres) Up(ctx context.Context, moduleID string, migrations fs.FS) error {
	return p.run(ctx, moduleID, migrations, "up", func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// Down reverts every migration and drops the module's migrations table.
func (p *Postgres) Down(ctx context.Context, moduleID string, migrations fs.FS) error {
	err := p.run(ctx, moduleID, migrations, "down", func(m *migrate.Migrate) error {
		return m.Down()
	})
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(TableName(moduleID))); err != nil {
		return fmt.Errorf("drop migrations table of %s: %w", moduleID, err)
	}
	return nil
}

func (p *Postgres) run(ctx context.Context, moduleID string, migrations fs.FS, direction string, apply func(*migrate.Migrate) error) error {
	if migrations == nil {
		return nil
	}

	src, err := iofs.New(migrations, ".")
	if err != nil {
		return fmt.Errorf("migrations of %s: %w", moduleID, err)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("migrations of %s: acquire connection: %w", moduleID, err)
	}

	drv, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: TableName(moduleID)})
	if err != nil {
		_ = src.Close()
		_ = conn.Close()
		return fmt.Errorf("migrations of %s: driver: %w", moduleID, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return fmt.Errorf("migrations of %s: %w", moduleID, err)
	}
	m.Log = migrateLogger{p.logger.WithField("module", moduleID)}
	defer m.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	err = apply(m)
	if errors.Is(err, migrate.ErrNoChange) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s %s: %w", moduleID, direction, err)
	}

	p.logger.WithField("module", moduleID).WithField("direction", direction).Info("migrations applied")
	return ctx.Err()
}

// migrateLogger adapts logrus to migrate.Logger.
type migrateLogger struct {
	entry *logrus.Entry
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool { return false }
