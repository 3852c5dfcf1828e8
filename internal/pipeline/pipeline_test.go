package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feedback-cli/internal/catalog"
	"github.com/sells-group/feedback-cli/internal/classify"
	"github.com/sells-group/feedback-cli/internal/config"
	"github.com/sells-group/feedback-cli/internal/feedback"
	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/oracle"
	"github.com/sells-group/feedback-cli/internal/resilience"
	"github.com/sells-group/feedback-cli/internal/store"
)

var testNow = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, o oracle.Oracle, cfg *config.Config) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "feedback.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	if cfg == nil {
		cfg = &config.Config{}
	}
	p := New(cfg, st, o)
	p.now = func() time.Time { return testNow }
	return p, st
}

func row(id string, answers ...string) model.FeedbackRow {
	r := model.FeedbackRow{CustomerID: id, Phone: "9" + id}
	copy(r.Answers[:], answers)
	return r
}

const oracleAnswer = `{"items":[
	{"tag":"ceviche","category":"comida","polarity":"bien"},
	{"tag":"cola_larga","category":"experiencia_general","polarity":"mal"}
]}`

func TestIngest_Idempotent(t *testing.T) {
	p, _ := newTestPipeline(t, oracle.NewStub(), nil)
	ctx := context.Background()
	rows := []model.FeedbackRow{
		row("1", "", "El mozo fue muy amable"),
		row("2", "", "", "el ceviche estaba espectacular"),
		row("3", "nada"),
	}

	stats, err := p.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RowsSeen)
	assert.Equal(t, 3, stats.NewRowsProcessed)
	assert.Equal(t, 3, stats.Fallbacks)
	assert.Positive(t, stats.NewTagEvents)

	stub := oracle.NewStub()
	p.oracle = stub
	stats, err = p.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Zero(t, stats.NewRowsProcessed)
	assert.Zero(t, stats.NewTagEvents)
	assert.Zero(t, stub.Calls(oracle.PhaseClassify), "seen rows never reach the oracle")
}

func TestIngest_DuplicateRowsInOneBatch(t *testing.T) {
	p, _ := newTestPipeline(t, oracle.NewStub(), nil)
	r := row("1", "", "El mozo fue muy amable")

	stats, err := p.Ingest(context.Background(), []model.FeedbackRow{r, r})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewRowsProcessed)
}

func TestIngest_FallbackEvents(t *testing.T) {
	p, st := newTestPipeline(t, oracle.NewStub(), nil)
	ctx := context.Background()
	r := row("1", "Los meseros nos ignoraron toda la noche", "El mozo fue muy amable")

	_, err := p.Ingest(ctx, []model.FeedbackRow{r})
	require.NoError(t, err)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "mesero", events[0].Tag)
	assert.Equal(t, model.PolarityMal, events[0].Polarity)
	assert.Equal(t, 1, events[0].QuestionID)
	assert.Equal(t, "Los meseros nos ignoraron toda la noche", events[0].Text)

	assert.Equal(t, "mesero", events[1].Tag)
	assert.Equal(t, model.CategoryAtencion, events[1].Category)
	assert.Equal(t, model.PolarityBien, events[1].Polarity)
	assert.Equal(t, model.OriginFallback, events[1].Origin)
	assert.Equal(t, feedback.Hash(r), events[1].RowHash)
	assert.Equal(t, "91", events[1].Phone)
}

func TestIngest_OraclePath(t *testing.T) {
	stub := oracle.NewStub().Reply(oracle.PhaseClassify, oracleAnswer)
	p, st := newTestPipeline(t, stub, nil)
	ctx := context.Background()
	r := row("1", "", "", "el ceviche", "", "", "la cola para entrar")

	stats, err := p.Ingest(ctx, []model.FeedbackRow{r})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OracleCalls)
	assert.Equal(t, 1, stats.NewTagEvents)
	assert.Equal(t, 1, stats.NewPendingTags)
	assert.Zero(t, stats.Fallbacks)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ceviche", events[0].Tag)
	assert.Equal(t, model.OriginCatalog, events[0].Origin)
	assert.Equal(t, 0, events[0].QuestionID)
	assert.Equal(t, feedback.Context(r), events[0].Text)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "cola_larga", pending[0].Tag)

	cs, err := st.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Entries)
}

func TestIngest_OracleWithoutCatalogTagsFallsBack(t *testing.T) {
	stub := oracle.NewStub().Reply(oracle.PhaseClassify, `{"items":[{"tag":"parqueo","category":"ambiente","polarity":"mal"}]}`)
	p, st := newTestPipeline(t, stub, nil)
	ctx := context.Background()

	stats, err := p.Ingest(ctx, []model.FeedbackRow{row("1", "", "El mozo fue muy amable")})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Equal(t, 1, stats.NewPendingTags, "unresolved tags are still queued")

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.OriginFallback, events[0].Origin)
}

func TestIngest_CacheBypassesFailingOracle(t *testing.T) {
	p, st := newTestPipeline(t, oracle.NewStub().Fail(oracle.PhaseClassify, errors.New("down")), nil)
	ctx := context.Background()

	cat, err := p.Catalog(ctx)
	require.NoError(t, err)

	target := row("1", "", "", "el ceviche")
	seed := model.RowCommit{
		Index: model.IndexEntry{RowHash: "other", ProcessedAt: testNow, Path: model.PathOracle},
		Cache: &model.CacheEntry{
			Key:       classify.Key(cat.Signature(), feedback.Hash(target), feedback.Context(target)),
			CreatedAt: testNow,
			Items:     []model.TagItem{{Tag: "ceviche", Category: model.CategoryComida, Polarity: model.PolarityBien}},
		},
	}
	require.NoError(t, st.CommitRow(ctx, seed))

	stats, err := p.Ingest(ctx, []model.FeedbackRow{target})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Zero(t, stats.OracleCalls)
	assert.Zero(t, stats.Fallbacks)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.OriginCatalog, events[0].Origin)
}

func TestIngest_Cancelled(t *testing.T) {
	p, st := newTestPipeline(t, oracle.NewStub(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ingest(ctx, []model.FeedbackRow{row("1", "hola")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")

	hashes, err := st.ProcessedHashes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestResetThenReingest(t *testing.T) {
	p, _ := newTestPipeline(t, oracle.NewStub(), nil)
	ctx := context.Background()
	rows := []model.FeedbackRow{row("1", "a"), row("2", "b"), row("3", "c"), row("4", "d")}

	_, err := p.Ingest(ctx, rows)
	require.NoError(t, err)
	require.NoError(t, p.Reset(ctx))

	stats, err := p.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, len(rows), stats.NewRowsProcessed)
}

func TestRequeue(t *testing.T) {
	p, st := newTestPipeline(t, oracle.NewStub(), nil)
	ctx := context.Background()
	rows := []model.FeedbackRow{row("1", "", "", "el ceviche")}

	_, err := p.Ingest(ctx, rows)
	require.NoError(t, err)

	n, err := p.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p.oracle = oracle.NewStub().Reply(oracle.PhaseClassify, oracleAnswer)
	stats, err := p.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewRowsProcessed)
	assert.Equal(t, 1, stats.OracleCalls)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.OriginCatalog, events[0].Origin)
}

func TestRequeue_EmptyOracleAnswer(t *testing.T) {
	p, st := newTestPipeline(t, oracle.NewStub().Reply(oracle.PhaseClassify, `{"items":[]}`), nil)
	ctx := context.Background()
	rows := []model.FeedbackRow{row("1", "", "", "el ceviche")}

	stats, err := p.Ingest(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Fallbacks)

	n, err := p.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stub := oracle.NewStub().Reply(oracle.PhaseClassify, oracleAnswer)
	p.oracle = stub
	stats, err = p.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OracleCalls)
	assert.Zero(t, stats.CacheHits)
	assert.Zero(t, stats.Fallbacks)
	assert.Equal(t, 1, stub.Calls(oracle.PhaseClassify))

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.OriginCatalog, events[0].Origin)
}

func TestIngest_OpenBreakerIsNotAnOracleCall(t *testing.T) {
	p, _ := newTestPipeline(t, oracle.NewStub().Fail(oracle.PhaseClassify, resilience.ErrBreakerOpen), nil)

	stats, err := p.Ingest(context.Background(), []model.FeedbackRow{row("1", "", "El mozo fue muy amable")})
	require.NoError(t, err)
	assert.Zero(t, stats.OracleCalls)
	assert.Equal(t, 1, stats.Fallbacks)

	p.oracle = oracle.NewStub().Fail(oracle.PhaseClassify, errors.New("socket closed"))
	stats, err = p.Ingest(context.Background(), []model.FeedbackRow{row("2", "", "El mozo fue muy amable")})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OracleCalls, "a failed request still counts")
}

func TestIngest_AutoCompaction(t *testing.T) {
	p, st := newTestPipeline(t, oracle.NewStub(), &config.Config{Cache: config.CacheConfig{CompactRatio: 0.2}})
	ctx := context.Background()

	for i, h := range []string{"a", "b", "c"} {
		require.NoError(t, st.CommitRow(ctx, model.RowCommit{
			Index: model.IndexEntry{RowHash: h, ProcessedAt: testNow, Path: model.PathOracle},
			Cache: &model.CacheEntry{Key: "same", CreatedAt: testNow.Add(time.Duration(i) * time.Second)},
		}))
	}

	_, err := p.Ingest(ctx, nil)
	require.NoError(t, err)

	cs, err := st.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.CacheStats{Entries: 1, UniqueKeys: 1}, cs)
}

func TestRun(t *testing.T) {
	p, _ := newTestPipeline(t, oracle.NewStub(), nil)
	ctx := context.Background()

	t.Run("no events", func(t *testing.T) {
		payload := p.Run(ctx, nil)
		assert.Equal(t, NoEventsMessage, payload.Error)
		assert.Nil(t, payload.SentimentScores)
		require.NotNil(t, payload.Metadata.Ingest)
		assert.NotEmpty(t, payload.Metadata.RunID)
		assert.NotNil(t, payload.Metadata.TagInsights)
	})

	t.Run("with events", func(t *testing.T) {
		payload := p.Run(ctx, []model.FeedbackRow{
			row("1", "", "El mozo fue muy amable", "el ceviche estaba espectacular"),
			row("2", "el mozo fue lento y nos ignoraron"),
		})
		require.Empty(t, payload.Error)
		require.NotNil(t, payload.SentimentScores)
		assert.InDelta(t, 10.0, payload.SentimentScores.Comida, 1e-9)
		assert.InDelta(t, 5.0, payload.SentimentScores.Ambiente, 1e-9)
		assert.Equal(t, 2, payload.Metadata.Customers)
		assert.Equal(t, 2, payload.Metadata.Ingest.NewRowsProcessed)
		assert.Equal(t, testNow.Format(time.RFC3339), payload.Metadata.ExecutedAt)

		require.NotNil(t, payload.Summary)
		assert.Equal(t, "fallback", payload.Summary.Source)
		assert.Contains(t, payload.Summary.Resumen, "Se analizaron 2 clientes.")
		require.NotNil(t, payload.KeyThemes)
		assert.NotEmpty(t, payload.KeyThemes.TopPraises)
	})

	t.Run("failure is carried in the payload", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		payload := p.Run(cctx, []model.FeedbackRow{row("new", "x")})
		assert.Contains(t, payload.Error, "interrupted")
		assert.Nil(t, payload.Summary)
	})
}

func TestRunDataset_MissingFile(t *testing.T) {
	p, _ := newTestPipeline(t, oracle.NewStub(), nil)
	payload := p.RunDataset(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.NotEmpty(t, payload.Error)
}

func TestCatalogManagement(t *testing.T) {
	stub := oracle.NewStub().Reply(oracle.PhaseClassify, oracleAnswer)
	p, st := newTestPipeline(t, stub, nil)
	ctx := context.Background()

	cat, err := p.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(catalog.DefaultEntries()), cat.Len())
	before := cat.Signature()

	_, err = p.Ingest(ctx, []model.FeedbackRow{row("1", "", "", "el ceviche")})
	require.NoError(t, err)

	t.Run("promote pending", func(t *testing.T) {
		entry, err := p.Promote(ctx, "Cola_Larga", model.CategoryExperienciaGeneral, []string{"cola", "fila"})
		require.NoError(t, err)
		assert.Equal(t, "cola_larga", entry.Tag)
		assert.Equal(t, []string{"cola", "fila"}, entry.Synonyms)

		pending, err := st.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		cat, err := p.Catalog(ctx)
		require.NoError(t, err)
		assert.True(t, cat.Has("cola_larga"))
		assert.NotEqual(t, before, cat.Signature())
	})

	t.Run("promote unknown", func(t *testing.T) {
		_, err := p.Promote(ctx, "nunca_visto", model.CategoryComida, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not pending")
	})

	t.Run("disable and import", func(t *testing.T) {
		require.NoError(t, p.SetEnabled(ctx, "tacu_tacu", false))
		cat, err := p.Catalog(ctx)
		require.NoError(t, err)
		assert.False(t, cat.Has("tacu_tacu"))

		require.NoError(t, p.Import(ctx, []model.CatalogEntry{
			{Tag: "Pisco Sour", Category: model.CategoryComida, Synonyms: []string{"pisco sour"}, Enabled: true},
			{Tag: "tacu_tacu", Category: model.CategoryComida, Enabled: true},
		}))
		cat, err = p.Catalog(ctx)
		require.NoError(t, err)
		assert.True(t, cat.Has("pisco_sour"))
		assert.True(t, cat.Has("tacu_tacu"))
	})

	t.Run("import rejects invalid category", func(t *testing.T) {
		err := p.Import(ctx, []model.CatalogEntry{{Tag: "x", Category: "bebidas", Enabled: true}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown category")
	})
}
