// Package migrations carries the embedded history schema.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

//go:embed *.sql
var fs embed.FS

// URL turns a history driver and DSN into a migrate database URL.
func URL(driver, dsn string) (string, error) {
	switch driver {
	case "postgres":
		return dsn, nil
	case "sqlite":
		if strings.HasPrefix(dsn, "sqlite://") {
			return dsn, nil
		}
		return "sqlite://" + strings.TrimPrefix(dsn, "file:"), nil
	default:
		return "", fmt.Errorf("no migrations for history driver %q", driver)
	}
}

// Run applies all up migrations. It is idempotent.
func Run(driver, dsn string) error {
	url, err := URL(driver, dsn)
	if err != nil {
		return err
	}
	d, err := iofs.New(fs, ".")
	if err != nil {
		return fmt.Errorf("iofs: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return fmt.Errorf("migrate new: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
