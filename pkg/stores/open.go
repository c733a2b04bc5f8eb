package stores

import (
	"context"
	"fmt"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates, initializes and migrates a store for the driver.
func Open(ctx context.Context, driver string, cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch driver {
	case DriverSQLite, "":
		store, err = NewSQLiteStore(cfg)
	case DriverPostgres:
		store, err = NewPostgresStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
