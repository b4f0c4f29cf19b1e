package storage

import (
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// DefaultMigrations is the migration source used when running from the repository root.
const DefaultMigrations = "file://migrations"

func InitStore(dbConnStr string) (*PostgresStore, error) {
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Migrate applies all pending migrations from source. It reports whether anything changed.
func Migrate(dbConnStr, source string) (bool, error) {
	if source == "" {
		source = DefaultMigrations
	}
	m, err := migrate.New(source, dbConnStr)
	if err != nil {
		return false, errors.Wrap(err, "initialize migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, errors.Wrap(err, "apply migrations")
	}
	return true, nil
}
