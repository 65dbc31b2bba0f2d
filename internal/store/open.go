package store

import (
	"fmt"

	"github.com/farxc/bpc-insight/internal/db"
	"github.com/farxc/bpc-insight/internal/logger"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
)

type Config struct {
	Backend      string `koanf:"backend"`
	DSN          string `koanf:"dsn"`
	Dir          string `koanf:"dir"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	MaxIdleTime  string `koanf:"max_idle_time"`
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendPostgres, BackendSQLite:
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s backend", c.Backend)
		}
	case BackendFile:
		if c.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	return nil
}

// Open connects the configured backend. SQL backends are migrated to the
// latest schema before use. The returned close function releases the
// connection pool and is never nil.
func Open(cfg Config, appLogger *logger.Logger) (*Storage, func() error, error) {
	const component = "Store"
	noop := func() error { return nil }

	if err := cfg.Validate(); err != nil {
		return nil, noop, err
	}

	if cfg.Backend == BackendFile {
		s, err := NewFileStorage(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		appLogger.Info(component, "Using flat-file store: dir=%s", cfg.Dir)
		return s, noop, nil
	}

	conn, err := db.New(cfg.Backend, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.MaxIdleTime)
	if err != nil {
		return nil, noop, fmt.Errorf("connect %s: %w", cfg.Backend, err)
	}
	if err := db.Migrate(conn, appLogger); err != nil {
		conn.Close()
		return nil, noop, err
	}
	appLogger.Info(component, "Database connection pool established: backend=%s", cfg.Backend)
	return NewStorage(conn), conn.Close, nil
}
