package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

var ErrNoDatabase = errors.New("migration database handle is required")

// Migrator applies the embedded billing schema to a postgres database.
type Migrator struct {
	db  *sql.DB
	log *zap.Logger
}

func NewMigrator(db *sql.DB, log *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, ErrNoDatabase
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{db: db, log: log.Named("migration")}, nil
}

// billingSource opens the embedded migrations as a golang-migrate source.
func billingSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}

// Up migrates to the latest schema version. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	src, err := billingSource()
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: "memberhub_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	// Close is never called: it would close the shared *sql.DB.
	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		m.log.Debug("migrations.up_to_date")
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	m.log.Info("migrations.applied", zap.Uint("version", version))
	return nil
}
