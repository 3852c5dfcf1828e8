package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feedback-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tag_catalog`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	c := testCommit("h1", model.PathOracle, "mesero", "sabor")
	c.Pending = []model.PendingTag{{Tag: "cola_larga", FirstSeenAt: testNow, ExampleText: "mucha cola"}}
	c.Cache = &model.CacheEntry{Key: "k1", CreatedAt: testNow, Items: []model.TagItem{{Tag: "mesero"}}}
	c.Index.CacheKey = "k1"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tag_index`).
		WithArgs("h1", testNow, "C-h1", "999h1", "oracle", "k1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"tag_events"}, eventColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "tag_pending" .* ON CONFLICT \("tag"\) DO NOTHING`).
		WithArgs("cola_larga", testNow, "mucha cola").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO tag_cache`).
		WithArgs("k1", testNow, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CommitRow(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitRow_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tag_index`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"tag_events"}, eventColumns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.CommitRow(context.Background(), testCommit("h1", model.PathFallback, "precio"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SeedCatalog(t *testing.T) {
	t.Run("empty table uses COPY", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tag_catalog`).
			WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectCopyFrom(pgx.Identifier{"tag_catalog"}, catalogColumns).WillReturnResult(2)

		seeded, err := s.SeedCatalog(context.Background(), []model.CatalogEntry{
			{Tag: "mesero", Category: model.CategoryAtencion, Enabled: true},
			{Tag: "sabor", Category: model.CategoryComida, Enabled: true},
		})
		require.NoError(t, err)
		assert.True(t, seeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("populated table is left alone", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tag_catalog`).
			WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(15)))

		seeded, err := s.SeedCatalog(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, seeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_UpsertCatalog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(position\), -1\) \+ 1 FROM tag_catalog`).
		WillReturnRows(mock.NewRows([]string{"next"}).AddRow(15))
	mock.ExpectExec(`INSERT INTO "tag_catalog" .* DO UPDATE SET "category" = EXCLUDED."category"`).
		WithArgs("cola_larga", "experiencia_general", "cola|espera", true, 15).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.UpsertCatalog(context.Background(), []model.CatalogEntry{{
		Tag:      "cola_larga",
		Category: model.CategoryExperienciaGeneral,
		Synonyms: []string{"cola", "espera"},
		Enabled:  true,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCatalogEnabled_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tag_catalog SET enabled = \$1 WHERE tag = \$2`).
		WithArgs(false, "no_existe").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetCatalogEnabled(context.Background(), "no_existe", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog tag not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := []string{"id", "processed_at", "row_hash", "customer_id", "phone", "question_id", "text", "tag", "category", "polarity", "origin"}
	mock.ExpectQuery(`SELECT id, processed_at, row_hash .* FROM tag_events ORDER BY id`).
		WillReturnRows(mock.NewRows(cols).
			AddRow(int64(1), testNow, "h1", "C1", "999", 0, "muy amable", "mesero", "atencion", "bien", "catalog").
			AddRow(int64(2), testNow, "h1", "C1", "999", 4, "caro", "precio", "precio_calidad", "mal", "fallback"))

	events, err := s.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.PolarityBien, events[0].Polarity)
	assert.Equal(t, model.OriginFallback, events[1].Origin)
	assert.Equal(t, 4, events[1].QuestionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("h1").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsProcessed(context.Background(), "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Cache(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(DISTINCT cache_key\) FROM tag_cache`).
		WillReturnRows(mock.NewRows([]string{"count", "distinct"}).AddRow(int64(5), int64(3)))
	mock.ExpectExec(`DELETE FROM tag_cache WHERE seq NOT IN`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectQuery(`SELECT seq, cache_key, created_at, items FROM tag_cache`).
		WillReturnRows(mock.NewRows([]string{"seq", "cache_key", "created_at", "items"}).
			AddRow(int64(4), "k1", testNow, []byte(`[{"tag":"mesero","category":"atencion","polarity":"bien"}]`)).
			AddRow(int64(5), "k2", testNow, []byte(`not json`)))

	stats, err := s.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Superseded())

	n, err := s.CompactCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	log, err := s.CacheLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 1, "unreadable entries are skipped")
	assert.Equal(t, "mesero", log[0].Items[0].Tag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetAndRequeue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`TRUNCATE tag_events, tag_index, tag_pending, tag_cache`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	require.NoError(t, s.Reset(ctx))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tag_events WHERE row_hash IN`).
		WithArgs("fallback").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM tag_cache WHERE cache_key IN \(SELECT cache_key FROM tag_index WHERE path = \$1`).
		WithArgs("fallback").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM tag_index WHERE path = \$1`).
		WithArgs("fallback").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	n, err := s.RequeueFallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	seen := testNow.Add(-time.Hour)
	mock.ExpectQuery(`SELECT tag, first_seen_at, example_text FROM tag_pending`).
		WillReturnRows(mock.NewRows([]string{"tag", "first_seen_at", "example_text"}).
			AddRow("cola_larga", seen, "mucha cola"))

	pending, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, seen, pending[0].FirstSeenAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
