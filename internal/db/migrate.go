package db

import (
	"embed"
	"fmt"

	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type gooseLogger struct {
	logger *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Info("Migrations", format, v...)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatal("Migrations", format, v...)
}

func dialect(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgres", nil
	case DriverSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("no migration dialect for driver %q", driver)
}

// Migrate applies every pending embedded migration.
func Migrate(db *sqlx.DB, appLogger *logger.Logger) error {
	d, err := dialect(db.DriverName())
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: appLogger})

	if err := goose.SetDialect(d); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Version returns the current schema version.
func Version(db *sqlx.DB) (int64, error) {
	d, err := dialect(db.DriverName())
	if err != nil {
		return 0, err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(d); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersion(db.DB)
}
