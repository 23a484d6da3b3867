package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/canteiro/internal/store/migrations"
)

// MigrateResult reports the schema version before and after Migrate.
type MigrateResult struct {
	From uint
	To   uint
}

// Changed reports whether any migration ran.
func (r MigrateResult) Changed() bool { return r.From != r.To }

// Migrate brings the journal schema up to date. A journal left dirty by an
// interrupted migration is refused rather than patched over.
func (db *DB) Migrate() (MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migration instance: %w", err)
	}

	from, err := schemaVersion(m)
	if err != nil {
		return MigrateResult{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrateResult{From: from}, fmt.Errorf("migrate %s: %w", db.path, err)
	}
	to, err := schemaVersion(m)
	if err != nil {
		return MigrateResult{From: from}, err
	}
	return MigrateResult{From: from, To: to}, nil
}

func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("journal schema is dirty at version %d", v)
	}
	return v, nil
}
