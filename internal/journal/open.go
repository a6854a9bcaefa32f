package journal

import (
	"context"
	"fmt"

	"github.com/rickgao/relaylink/internal/config"
	"github.com/rickgao/relaylink/internal/database"
)

// Open returns the recorder selected by cfg.Driver. An empty driver disables
// the journal.
func Open(ctx context.Context, cfg config.JournalConfig) (Recorder, error) {
	switch cfg.Driver {
	case "":
		return Nop{}, nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect journal database: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
