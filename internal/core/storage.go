package core

import (
	"fmt"

	"cureline/internal/infra/persistence/memory"
	"cureline/internal/infra/persistence/postgres"
	"cureline/internal/infra/persistence/sqlite"
	"cureline/internal/platform/config"
)

// OpenPersistentStore builds the store selected by cfg. Every backend shares
// clock so transaction timestamps follow the service clock.
func OpenPersistentStore(cfg config.Storage, engine *RulesEngine, clock Clock) (PersistentStore, error) {
	var opts []memory.Option
	if clock != nil {
		opts = append(opts, memory.WithClock(clock.Now))
	}
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case config.StorageSQLite, "":
		store, err := sqlite.NewStore(cfg.SQLitePath, engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
