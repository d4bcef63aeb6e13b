package cli

import (
	"context"
	"fmt"

	"github.com/roach88/scoreboard/internal/config"
	"github.com/roach88/scoreboard/internal/store"
	"github.com/roach88/scoreboard/internal/store/pebblestore"
	"github.com/roach88/scoreboard/internal/store/pgstore"
	"github.com/roach88/scoreboard/internal/store/sqlitestore"
)

// OpenAdapter opens the store named by cfg.Driver. gen mints ids for
// records appended without one.
func OpenAdapter(ctx context.Context, cfg config.Config, gen store.IDGenerator) (store.Adapter, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(store.WithIDGenerator(gen)), nil

	case config.DriverPebble:
		s, err := pebblestore.Open(cfg.DataDir, pebblestore.WithIDGenerator(gen))
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath,
			sqlitestore.WithPollInterval(cfg.PollInterval()),
			sqlitestore.WithIDGenerator(gen),
		)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverPostgres:
		s, err := pgstore.Open(ctx, cfg.PGDSN,
			pgstore.WithTable(cfg.PGTable),
			pgstore.WithIDGenerator(gen),
		)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
