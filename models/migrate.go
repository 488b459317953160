package models

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type migrateLogger struct {
	log *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) { l.log.Infof(format, v...) }
func (l migrateLogger) Verbose() bool                  { return false }

// Migrate applies the embedded schema migrations to the database at dbURL.
// A database already at the latest version is not an error.
func Migrate(dbURL string, log *zap.Logger) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return pkgerrors.Wrap(err, "open embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return pkgerrors.Wrap(err, "create migrate instance")
	}
	defer m.Close()
	m.Log = migrateLogger{log: log.Sugar()}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No new migrations to apply")
			return nil
		}
		version, dirty, _ := m.Version()
		return pkgerrors.Wrapf(err, "apply migrations (version=%d dirty=%t)", version, dirty)
	}

	log.Info("Successfully applied migrations")
	return nil
}
