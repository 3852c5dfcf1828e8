package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/db"
	"github.com/sells-group/feedback-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection; they cover the
// per-row hot path of an ingest.
var preparedStatements = map[string]string{
	"insert_index":  `INSERT INTO tag_index (row_hash, processed_at, customer_id, phone, path, cache_key) VALUES ($1, $2, $3, $4, $5, $6)`,
	"append_cache":  `INSERT INTO tag_cache (cache_key, created_at, items) VALUES ($1, $2, $3)`,
	"is_processed":  `SELECT EXISTS (SELECT 1 FROM tag_index WHERE row_hash = $1)`,
	"count_catalog": `SELECT COUNT(*) FROM tag_catalog`,
}

var eventColumns = []string{
	"processed_at", "row_hash", "customer_id", "phone", "question_id",
	"text", "tag", "category", "polarity", "origin",
}

var catalogColumns = []string{"tag", "category", "synonyms", "enabled", "position"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first Migrate.
				zap.L().Debug("postgres: prepare skipped", zap.String("statement", name), zap.Error(err))
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tag_catalog (
	tag      TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	synonyms TEXT NOT NULL DEFAULT '',
	enabled  BOOLEAN NOT NULL DEFAULT TRUE,
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_events (
	id           BIGSERIAL PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL,
	row_hash     TEXT NOT NULL,
	customer_id  TEXT NOT NULL,
	phone        TEXT NOT NULL,
	question_id  INTEGER NOT NULL DEFAULT 0,
	text         TEXT NOT NULL,
	tag          TEXT NOT NULL,
	category     TEXT NOT NULL,
	polarity     TEXT NOT NULL,
	origin       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_index (
	row_hash     TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL,
	customer_id  TEXT NOT NULL,
	phone        TEXT NOT NULL,
	path         TEXT NOT NULL,
	cache_key    TEXT NOT NULL DEFAULT ''
);

ALTER TABLE tag_index ADD COLUMN IF NOT EXISTS cache_key TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS tag_pending (
	tag           TEXT PRIMARY KEY,
	first_seen_at TIMESTAMPTZ NOT NULL,
	example_text  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_cache (
	seq        BIGSERIAL PRIMARY KEY,
	cache_key  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	items      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tag_events_row_hash ON tag_events(row_hash);
CREATE INDEX IF NOT EXISTS idx_tag_index_path ON tag_index(path);
CREATE INDEX IF NOT EXISTS idx_tag_cache_key ON tag_cache(cache_key);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag, category, synonyms, enabled FROM tag_catalog ORDER BY position, tag`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog")
	}
	defer rows.Close()

	var out []model.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate catalog")
}

// SeedCatalog bulk-loads entries with COPY when the catalog is empty.
func (s *PostgresStore) SeedCatalog(ctx context.Context, entries []model.CatalogEntry) (bool, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tag_catalog`).Scan(&n); err != nil {
		return false, eris.Wrap(err, "postgres: count catalog")
	}
	if n > 0 {
		return false, nil
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.Tag, string(e.Category), e.SynonymString(), e.Enabled, i}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "tag_catalog", catalogColumns, rows); err != nil {
		return false, eris.Wrap(err, "postgres: seed catalog")
	}
	return true, nil
}

// UpsertCatalog appends unknown tags after the current last position and
// updates known ones in place.
func (s *PostgresStore) UpsertCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var next int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM tag_catalog`).Scan(&next); err != nil {
			return eris.Wrap(err, "postgres: next catalog position")
		}

		rows := make([][]any, len(entries))
		for i, e := range entries {
			rows[i] = []any{e.Tag, string(e.Category), e.SynonymString(), e.Enabled, next + i}
		}
		_, err := db.Upsert(ctx, tx, db.UpsertConfig{
			Table:        "tag_catalog",
			Columns:      catalogColumns,
			ConflictKeys: []string{"tag"},
			UpdateCols:   []string{"category", "synonyms", "enabled"},
		}, rows)
		return eris.Wrap(err, "postgres: upsert catalog")
	})
}

func (s *PostgresStore) SetCatalogEnabled(ctx context.Context, tag string, enabled bool) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE tag_catalog SET enabled = $1 WHERE tag = $2`, enabled, tag)
	if err != nil {
		return eris.Wrapf(err, "postgres: set catalog enabled %s", tag)
	}
	if cmd.RowsAffected() == 0 {
		return eris.Errorf("catalog tag not found: %s", tag)
	}
	return nil
}

// --- Pending ---

func (s *PostgresStore) ListPending(ctx context.Context) ([]model.PendingTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag, first_seen_at, example_text FROM tag_pending ORDER BY first_seen_at, tag`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	defer rows.Close()

	var out []model.PendingTag
	for rows.Next() {
		var p model.PendingTag
		if err := rows.Scan(&p.Tag, &p.FirstSeenAt, &p.ExampleText); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate pending")
}

func (s *PostgresStore) DeletePending(ctx context.Context, tag string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM tag_pending WHERE lower(tag) = lower($1)`, tag)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete pending %s", tag)
	}
	if cmd.RowsAffected() == 0 {
		return eris.Errorf("pending tag not found: %s", tag)
	}
	return nil
}

// --- Index ---

func (s *PostgresStore) ProcessedHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT row_hash FROM tag_index`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processed")
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processed")
		}
		out[h] = struct{}{}
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate processed")
}

func (s *PostgresStore) IsProcessed(ctx context.Context, rowHash string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tag_index WHERE row_hash = $1)`, rowHash).Scan(&ok)
	return ok, eris.Wrap(err, "postgres: is processed")
}

// --- Rows ---

func (s *PostgresStore) CommitRow(ctx context.Context, c model.RowCommit) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO tag_index (row_hash, processed_at, customer_id, phone, path, cache_key) VALUES ($1, $2, $3, $4, $5, $6)`,
			c.Index.RowHash, c.Index.ProcessedAt.UTC(), c.Index.CustomerID, c.Index.Phone, string(c.Index.Path), c.Index.CacheKey,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert index %s", c.Index.RowHash)
		}

		if len(c.Events) > 0 {
			rows := make([][]any, len(c.Events))
			for i, ev := range c.Events {
				rows[i] = []any{
					ev.ProcessedAt.UTC(), ev.RowHash, ev.CustomerID, ev.Phone, ev.QuestionID,
					ev.Text, ev.Tag, string(ev.Category), string(ev.Polarity), string(ev.Origin),
				}
			}
			if _, err := db.CopyFrom(ctx, tx, "tag_events", eventColumns, rows); err != nil {
				return eris.Wrap(err, "postgres: insert events")
			}
		}

		if len(c.Pending) > 0 {
			rows := make([][]any, len(c.Pending))
			for i, p := range c.Pending {
				rows[i] = []any{p.Tag, p.FirstSeenAt.UTC(), p.ExampleText}
			}
			_, err := db.Upsert(ctx, tx, db.UpsertConfig{
				Table:        "tag_pending",
				Columns:      []string{"tag", "first_seen_at", "example_text"},
				ConflictKeys: []string{"tag"},
				DoNothing:    true,
			}, rows)
			if err != nil {
				return eris.Wrap(err, "postgres: insert pending")
			}
		}

		if c.Cache != nil {
			items, err := json.Marshal(c.Cache.Items)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal cache items")
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO tag_cache (cache_key, created_at, items) VALUES ($1, $2, $3)`,
				c.Cache.Key, c.Cache.CreatedAt.UTC(), items,
			)
			if err != nil {
				return eris.Wrap(err, "postgres: append cache")
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.TagEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, processed_at, row_hash, customer_id, phone, question_id, text, tag, category, polarity, origin
		 FROM tag_events ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.TagEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate events")
}

// --- Cache ---

func (s *PostgresStore) CacheLog(ctx context.Context) ([]model.CacheEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, cache_key, created_at, items FROM tag_cache ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read cache log")
	}
	defer rows.Close()

	var out []model.CacheEntry
	for rows.Next() {
		var (
			e     model.CacheEntry
			items []byte
		)
		if err := rows.Scan(&e.Seq, &e.Key, &e.CreatedAt, &items); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache entry")
		}
		if err := json.Unmarshal(items, &e.Items); err != nil {
			zap.L().Warn("postgres: skipping unreadable cache entry", zap.Int64("seq", e.Seq), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate cache log")
}

func (s *PostgresStore) CacheStats(ctx context.Context) (model.CacheStats, error) {
	var entries, unique int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT cache_key) FROM tag_cache`).Scan(&entries, &unique)
	if err != nil {
		return model.CacheStats{}, eris.Wrap(err, "postgres: cache stats")
	}
	return model.CacheStats{Entries: int(entries), UniqueKeys: int(unique)}, nil
}

func (s *PostgresStore) CompactCache(ctx context.Context) (int, error) {
	cmd, err := s.pool.Exec(ctx,
		`DELETE FROM tag_cache WHERE seq NOT IN (SELECT MAX(seq) FROM tag_cache GROUP BY cache_key)`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: compact cache")
	}
	return int(cmd.RowsAffected()), nil
}

// --- Maintenance ---

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE tag_events, tag_index, tag_pending, tag_cache RESTART IDENTITY`)
	return eris.Wrap(err, "postgres: reset")
}

func (s *PostgresStore) RequeueFallback(ctx context.Context) (int, error) {
	var n int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM tag_events WHERE row_hash IN (SELECT row_hash FROM tag_index WHERE path = $1)`,
			string(model.PathFallback))
		if err != nil {
			return eris.Wrap(err, "postgres: delete fallback events")
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM tag_cache WHERE cache_key IN (SELECT cache_key FROM tag_index WHERE path = $1 AND cache_key <> '')`,
			string(model.PathFallback))
		if err != nil {
			return eris.Wrap(err, "postgres: delete fallback cache entries")
		}
		cmd, err := tx.Exec(ctx, `DELETE FROM tag_index WHERE path = $1`, string(model.PathFallback))
		if err != nil {
			return eris.Wrap(err, "postgres: delete fallback index")
		}
		n = cmd.RowsAffected()
		return nil
	})
	return int(n), err
}
