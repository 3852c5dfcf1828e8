// Package pipeline runs the tag engine end to end: incremental ingestion of
// survey rows, aggregation of the event ledger and the executive summary.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/config"
	"github.com/sells-group/feedback-cli/internal/feedback"
	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/oracle"
	"github.com/sells-group/feedback-cli/internal/store"
	"github.com/sells-group/feedback-cli/internal/summary"
)

// Pipeline ties the store, the oracle and the catalog together.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	oracle  oracle.Oracle
	summary *summary.Generator
	now     func() time.Time
}

// New creates a Pipeline. The oracle serves both classification and the
// executive summary.
func New(cfg *config.Config, st store.Store, o oracle.Oracle) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		oracle:  o,
		summary: summary.NewGenerator(o),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store.
func (p *Pipeline) Store() store.Store { return p.store }

// Run ingests rows and builds the payload. It never returns a Go error:
// failures are logged and reported in Payload.Error.
func (p *Pipeline) Run(ctx context.Context, rows []model.FeedbackRow) (payload *model.Payload) {
	runID := uuid.NewString()
	executedAt := p.now()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: run starting", zap.Int("rows", len(rows)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: run panicked", zap.Any("panic", r), zap.Stack("stack"))
			payload = errorPayload(runID, fmt.Sprintf("pipeline: unexpected failure: %v", r))
		}
	}()

	stats, err := p.Ingest(ctx, rows)
	if err != nil {
		log.Error("pipeline: ingest failed", zap.Error(err))
		return errorPayload(runID, err.Error())
	}

	payload, err = p.Payload(ctx)
	if err != nil {
		log.Error("pipeline: build payload failed", zap.Error(err))
		return errorPayload(runID, err.Error())
	}
	payload.Metadata.RunID = runID
	payload.Metadata.Ingest = &stats
	payload.Metadata.ExecutedAt = executedAt.Format(time.RFC3339)

	log.Info("pipeline: run complete",
		zap.Int("new_rows", stats.NewRowsProcessed),
		zap.Int("new_events", stats.NewTagEvents),
		zap.Int("total_events", payload.Metadata.Events),
	)
	return payload
}

// RunDataset loads the dataset at path and runs it. Load failures are
// reported like any other run failure.
func (p *Pipeline) RunDataset(ctx context.Context, path string) *model.Payload {
	rows, err := feedback.Load(path)
	if err != nil {
		zap.L().Error("pipeline: load dataset failed", zap.String("path", path), zap.Error(err))
		return errorPayload("", err.Error())
	}
	return p.Run(ctx, rows)
}

// Reset clears events, the index, pending tags and the cache. The catalog is
// kept.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.store.Reset(ctx); err != nil {
		return eris.Wrap(err, "pipeline: reset")
	}
	zap.L().Warn("pipeline: tag state reset")
	return nil
}

// Requeue forgets every row classified by the fallback matcher so the next
// ingest sends it to the oracle again. It returns the number of rows.
func (p *Pipeline) Requeue(ctx context.Context) (int, error) {
	n, err := p.store.RequeueFallback(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: requeue fallback rows")
	}
	zap.L().Info("pipeline: fallback rows requeued", zap.Int("rows", n))
	return n, nil
}

func errorPayload(runID, msg string) *model.Payload {
	return &model.Payload{
		Error:    msg,
		Metadata: model.Metadata{RunID: runID, TagInsights: []model.TagInsight{}},
	}
}
