package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/feedback-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at path and configures WAL mode. A file
// that is not a readable database is moved aside and replaced by an empty
// one.
func NewSQLite(path string) (*SQLiteStore, error) {
	if isFilePath(path) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
			}
		}
	}

	db, err := openSQLite(path)
	if err == nil {
		return &SQLiteStore{db: db}, nil
	}
	if !isFilePath(path) {
		return nil, err
	}

	moved, qerr := quarantine(path)
	if qerr != nil {
		return nil, eris.Wrap(qerr, "sqlite: quarantine corrupt database")
	}
	zap.L().Warn("sqlite: corrupt database quarantined",
		zap.String("path", path),
		zap.String("moved_to", moved),
		zap.Error(err),
	)
	db, err = openSQLite(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: quick_check")
	}
	if check != "ok" {
		db.Close() //nolint:errcheck
		return nil, eris.Errorf("sqlite: quick_check: %s", check)
	}
	return db, nil
}

func isFilePath(dsn string) bool {
	return dsn != "" && !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:")
}

func quarantine(path string) (string, error) {
	moved := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UTC().Unix())
	if err := os.Rename(path, moved); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(path + suffix) //nolint:errcheck
	}
	return moved, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tag_catalog (
	tag      TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	synonyms TEXT NOT NULL DEFAULT '',
	enabled  INTEGER NOT NULL DEFAULT 1,
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	processed_at DATETIME NOT NULL,
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
	processed_at DATETIME NOT NULL,
	customer_id  TEXT NOT NULL,
	phone        TEXT NOT NULL,
	path         TEXT NOT NULL,
	cache_key    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tag_pending (
	tag           TEXT PRIMARY KEY COLLATE NOCASE,
	first_seen_at DATETIME NOT NULL,
	example_text  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_cache (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_key  TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	items      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tag_events_row_hash ON tag_events(row_hash);
CREATE INDEX IF NOT EXISTS idx_tag_index_path ON tag_index(path);
CREATE INDEX IF NOT EXISTS idx_tag_cache_key ON tag_cache(cache_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return s.addColumn(ctx, "tag_index", "cache_key", `TEXT NOT NULL DEFAULT ''`)
}

// addColumn adds a column to a table created by an older schema.
func (s *SQLiteStore) addColumn(ctx context.Context, table, column, decl string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return eris.Wrapf(err, "sqlite: inspect %s", table)
	}
	if n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return eris.Wrapf(err, "sqlite: add column %s.%s", table, column)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, category, synonyms, enabled FROM tag_catalog ORDER BY position, tag`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate catalog")
}

func (s *SQLiteStore) SeedCatalog(ctx context.Context, entries []model.CatalogEntry) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tag_catalog`).Scan(&n); err != nil {
		return false, eris.Wrap(err, "sqlite: count catalog")
	}
	if n > 0 {
		return false, nil
	}
	if err := s.UpsertCatalog(ctx, entries); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) UpsertCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	return s.inTx(ctx, "upsert catalog", func(tx *sql.Tx) error {
		for _, e := range entries {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tag_catalog (tag, category, synonyms, enabled, position)
				 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM tag_catalog))
				 ON CONFLICT(tag) DO UPDATE SET
				   category = excluded.category,
				   synonyms = excluded.synonyms,
				   enabled  = excluded.enabled`,
				e.Tag, string(e.Category), e.SynonymString(), e.Enabled,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert catalog entry %s", e.Tag)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SetCatalogEnabled(ctx context.Context, tag string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tag_catalog SET enabled = ? WHERE tag = ?`, enabled, tag)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set catalog enabled %s", tag)
	}
	return checkRowsAffected(res, "catalog tag", tag)
}

// --- Pending ---

func (s *SQLiteStore) ListPending(ctx context.Context) ([]model.PendingTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, first_seen_at, example_text FROM tag_pending ORDER BY first_seen_at, tag`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PendingTag
	for rows.Next() {
		var p model.PendingTag
		if err := rows.Scan(&p.Tag, &p.FirstSeenAt, &p.ExampleText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pending")
}

func (s *SQLiteStore) DeletePending(ctx context.Context, tag string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tag_pending WHERE tag = ?`, tag)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete pending %s", tag)
	}
	return checkRowsAffected(res, "pending tag", tag)
}

// --- Index ---

func (s *SQLiteStore) ProcessedHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT row_hash FROM tag_index`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processed")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processed")
		}
		out[h] = struct{}{}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate processed")
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, rowHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tag_index WHERE row_hash = ?`, rowHash).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: is processed")
	}
	return n > 0, nil
}

// --- Rows ---

func (s *SQLiteStore) CommitRow(ctx context.Context, c model.RowCommit) error {
	return s.inTx(ctx, "commit row", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tag_index (row_hash, processed_at, customer_id, phone, path, cache_key) VALUES (?, ?, ?, ?, ?, ?)`,
			c.Index.RowHash, c.Index.ProcessedAt.UTC(), c.Index.CustomerID, c.Index.Phone, string(c.Index.Path), c.Index.CacheKey,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert index %s", c.Index.RowHash)
		}

		for _, ev := range c.Events {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tag_events (processed_at, row_hash, customer_id, phone, question_id, text, tag, category, polarity, origin)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.ProcessedAt.UTC(), ev.RowHash, ev.CustomerID, ev.Phone, ev.QuestionID, ev.Text,
				ev.Tag, string(ev.Category), string(ev.Polarity), string(ev.Origin),
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert event")
			}
		}

		for _, p := range c.Pending {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tag_pending (tag, first_seen_at, example_text) VALUES (?, ?, ?)
				 ON CONFLICT(tag) DO NOTHING`,
				p.Tag, p.FirstSeenAt.UTC(), p.ExampleText,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert pending %s", p.Tag)
			}
		}

		if c.Cache != nil {
			items, err := json.Marshal(c.Cache.Items)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal cache items")
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tag_cache (cache_key, created_at, items) VALUES (?, ?, ?)`,
				c.Cache.Key, c.Cache.CreatedAt.UTC(), string(items),
			)
			if err != nil {
				return eris.Wrap(err, "sqlite: append cache")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListEvents(ctx context.Context) ([]model.TagEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, processed_at, row_hash, customer_id, phone, question_id, text, tag, category, polarity, origin
		 FROM tag_events ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TagEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

// --- Cache ---

func (s *SQLiteStore) CacheLog(ctx context.Context) ([]model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, cache_key, created_at, items FROM tag_cache ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read cache log")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CacheEntry
	for rows.Next() {
		var (
			e     model.CacheEntry
			items string
		)
		if err := rows.Scan(&e.Seq, &e.Key, &e.CreatedAt, &items); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache entry")
		}
		if err := json.Unmarshal([]byte(items), &e.Items); err != nil {
			zap.L().Warn("sqlite: skipping unreadable cache entry", zap.Int64("seq", e.Seq), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate cache log")
}

func (s *SQLiteStore) CacheStats(ctx context.Context) (model.CacheStats, error) {
	var st model.CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT cache_key) FROM tag_cache`).Scan(&st.Entries, &st.UniqueKeys)
	return st, eris.Wrap(err, "sqlite: cache stats")
}

func (s *SQLiteStore) CompactCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tag_cache WHERE seq NOT IN (SELECT MAX(seq) FROM tag_cache GROUP BY cache_key)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: compact cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Maintenance ---

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.inTx(ctx, "reset", func(tx *sql.Tx) error {
		for _, table := range []string{"tag_events", "tag_index", "tag_pending", "tag_cache"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return eris.Wrapf(err, "sqlite: clear %s", table)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) RequeueFallback(ctx context.Context) (int, error) {
	var n int64
	err := s.inTx(ctx, "requeue fallback", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM tag_events WHERE row_hash IN (SELECT row_hash FROM tag_index WHERE path = ?)`,
			string(model.PathFallback))
		if err != nil {
			return eris.Wrap(err, "sqlite: delete fallback events")
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM tag_cache WHERE cache_key IN (SELECT cache_key FROM tag_index WHERE path = ? AND cache_key <> '')`,
			string(model.PathFallback))
		if err != nil {
			return eris.Wrap(err, "sqlite: delete fallback cache entries")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tag_index WHERE path = ?`, string(model.PathFallback))
		if err != nil {
			return eris.Wrap(err, "sqlite: delete fallback index")
		}
		n, err = res.RowsAffected()
		return eris.Wrap(err, "sqlite: rows affected")
	})
	return int(n), err
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin tx", op)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(row scannable) (model.CatalogEntry, error) {
	var (
		e        model.CatalogEntry
		category string
		synonyms string
	)
	if err := row.Scan(&e.Tag, &category, &synonyms, &e.Enabled); err != nil {
		return e, err
	}
	e.Category = model.Category(category)
	e.Synonyms = model.SplitSynonyms(synonyms)
	return e, nil
}

func scanEvent(row scannable) (model.TagEvent, error) {
	var (
		ev                         model.TagEvent
		category, polarity, origin string
	)
	err := row.Scan(&ev.ID, &ev.ProcessedAt, &ev.RowHash, &ev.CustomerID, &ev.Phone,
		&ev.QuestionID, &ev.Text, &ev.Tag, &category, &polarity, &origin)
	if err != nil {
		return ev, err
	}
	ev.Category = model.Category(category)
	ev.Polarity = model.Polarity(polarity)
	ev.Origin = model.Origin(origin)
	return ev, nil
}
