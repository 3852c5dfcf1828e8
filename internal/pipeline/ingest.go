package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/catalog"
	"github.com/sells-group/feedback-cli/internal/classify"
	"github.com/sells-group/feedback-cli/internal/feedback"
	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/oracle"
	"github.com/sells-group/feedback-cli/internal/resilience"
)

// Ingest classifies every row whose hash is not in the index yet. Rows are
// handled one at a time and each is committed before the next starts, so a
// failure keeps everything committed so far. Oracle failures never stop the
// batch; the row falls back to the keyword matcher.
func (p *Pipeline) Ingest(ctx context.Context, rows []model.FeedbackRow) (model.IngestStats, error) {
	stats := model.IngestStats{RowsSeen: len(rows)}
	if err := ctx.Err(); err != nil {
		return stats, eris.Wrap(err, "pipeline: ingest interrupted")
	}

	cat, err := p.Catalog(ctx)
	if err != nil {
		return stats, err
	}
	processed, err := p.store.ProcessedHashes(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: load processed hashes")
	}
	cacheLog, err := p.store.CacheLog(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: load cache log")
	}
	classifier := classify.New(p.oracle, classify.NewCache(cacheLog))

	zap.L().Info("pipeline: ingest starting",
		zap.Int("rows", len(rows)),
		zap.Int("processed_hashes", len(processed)),
		zap.Int("catalog_tags", cat.Len()),
		zap.Int("cache_keys", classifier.Cache().Len()),
	)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "pipeline: ingest interrupted")
		}

		hash := feedback.Hash(row)
		if _, ok := processed[hash]; ok {
			continue
		}

		commit, err := p.classifyRow(ctx, classifier, cat, row, hash, &stats)
		if err != nil {
			return stats, err
		}
		if err := p.store.CommitRow(ctx, commit); err != nil {
			return stats, eris.Wrapf(err, "pipeline: commit row %s", hash)
		}

		processed[hash] = struct{}{}
		stats.NewRowsProcessed++
		stats.NewTagEvents += len(commit.Events)
		stats.NewPendingTags += len(commit.Pending)
	}

	p.maybeCompact(ctx)

	zap.L().Info("pipeline: ingest complete",
		zap.Int("new_rows", stats.NewRowsProcessed),
		zap.Int("new_events", stats.NewTagEvents),
		zap.Int("new_pending", stats.NewPendingTags),
		zap.Int("oracle_calls", stats.OracleCalls),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("fallbacks", stats.Fallbacks),
	)
	return stats, nil
}

func (p *Pipeline) classifyRow(
	ctx context.Context,
	classifier *classify.Classifier,
	cat *catalog.Catalog,
	row model.FeedbackRow,
	hash string,
	stats *model.IngestStats,
) (model.RowCommit, error) {
	log := zap.L().With(zap.String("row_hash", hash))
	now := p.now()
	commit := model.RowCommit{
		Index: model.IndexEntry{RowHash: hash, ProcessedAt: now, CustomerID: row.CustomerID, Phone: row.Phone},
	}

	var items []model.TagItem
	res, err := classifier.Classify(ctx, feedback.Context(row), hash, cat)
	switch {
	case err != nil && ctx.Err() != nil:
		// Leave the row unprocessed; it is picked up by the next run.
		return commit, eris.Wrap(ctx.Err(), "pipeline: ingest interrupted")
	case err != nil:
		if reachedOracle(err) {
			stats.OracleCalls++
		}
		log.Warn("pipeline: classification failed, using fallback", zap.Error(err))
	default:
		if res.CacheHit {
			stats.CacheHits++
			commit.Index.Path = model.PathCache
		} else {
			stats.OracleCalls++
			commit.Index.Path = model.PathOracle
		}
		items = res.Items
		commit.Index.CacheKey = res.Key
		commit.Cache = res.Cache
		commit.Pending = res.Pending
	}

	if len(items) == 0 {
		items = cat.FallbackRow(row)
		commit.Index.Path = model.PathFallback
		stats.Fallbacks++
	}

	for _, it := range items {
		commit.Events = append(commit.Events, model.TagEvent{
			ProcessedAt: now,
			RowHash:     hash,
			CustomerID:  row.CustomerID,
			Phone:       row.Phone,
			QuestionID:  it.QuestionID,
			Text:        it.Text,
			Tag:         it.Tag,
			Category:    it.Category,
			Polarity:    it.Polarity,
			Origin:      it.Origin,
		})
	}
	return commit, nil
}

// reachedOracle reports whether a failed classification sent a request.
// An open breaker or a throttled limiter fails before anything is sent.
func reachedOracle(err error) bool {
	return !errors.Is(err, resilience.ErrBreakerOpen) && !errors.Is(err, oracle.ErrThrottled)
}

// maybeCompact drops superseded cache entries once they exceed the
// configured share of the log. Failures are logged only.
func (p *Pipeline) maybeCompact(ctx context.Context) {
	if p.cfg == nil || p.cfg.Cache.CompactRatio <= 0 {
		return
	}
	cs, err := p.store.CacheStats(ctx)
	if err != nil {
		zap.L().Warn("pipeline: cache stats failed", zap.Error(err))
		return
	}
	if cs.Entries == 0 || float64(cs.Superseded())/float64(cs.Entries) <= p.cfg.Cache.CompactRatio {
		return
	}
	removed, err := p.store.CompactCache(ctx)
	if err != nil {
		zap.L().Warn("pipeline: cache compaction failed", zap.Error(err))
		return
	}
	zap.L().Info("pipeline: cache compacted", zap.Int("removed", removed), zap.Int("entries", cs.Entries))
}
