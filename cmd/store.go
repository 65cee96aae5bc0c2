package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/visage/internal/store"
)

// errNoDatabase is returned when a command needs Postgres but none is configured.
var errNoDatabase = errors.New("no database configured: pass --db or set DATABASE_URL / POSTGRES_HOST")

// openStore connects DB on first use. PersistentPostRun closes it.
func openStore(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	if dbURL == "" {
		return nil, errNoDatabase
	}
	s, err := store.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}
