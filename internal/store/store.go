// Package store persists the tag engine's state: the catalog, the event
// ledger, the processed-row index, the pending-tag queue and the
// classification cache log.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feedback-cli/internal/config"
	"github.com/sells-group/feedback-cli/internal/model"
)

// Store defines the persistence interface for the tag engine.
type Store interface {
	// Catalog
	CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error)
	SeedCatalog(ctx context.Context, entries []model.CatalogEntry) (bool, error)
	UpsertCatalog(ctx context.Context, entries []model.CatalogEntry) error
	SetCatalogEnabled(ctx context.Context, tag string, enabled bool) error

	// Pending tags
	ListPending(ctx context.Context) ([]model.PendingTag, error)
	DeletePending(ctx context.Context, tag string) error

	// Processed-row index
	ProcessedHashes(ctx context.Context) (map[string]struct{}, error)
	IsProcessed(ctx context.Context, rowHash string) (bool, error)

	// CommitRow writes one row's index entry, events, pending tags and
	// cache entry in a single transaction.
	CommitRow(ctx context.Context, c model.RowCommit) error
	ListEvents(ctx context.Context) ([]model.TagEvent, error)

	// Cache log
	CacheLog(ctx context.Context) ([]model.CacheEntry, error)
	CacheStats(ctx context.Context) (model.CacheStats, error)
	CompactCache(ctx context.Context) (int, error)

	// Maintenance
	Reset(ctx context.Context) error
	RequeueFallback(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and runs its migration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres", "postgresql":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
