package store

import (
	"fmt"
	"os"
	"path/filepath"

	"scenario-trader/internal/config"
	"scenario-trader/internal/errors"
)

// Open creates the store selected by cfg.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case DriverSQLite, "":
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return NewSQLiteStore(cfg.DSN)
	case DriverPostgres:
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", errors.ErrConfigInvalid, cfg.Driver)
	}
}
