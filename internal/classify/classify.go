// Package classify turns a customer's six answers into catalog tags using the
// oracle, with a content-addressed cache in front of it.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/catalog"
	"github.com/sells-group/feedback-cli/internal/feedback"
	"github.com/sells-group/feedback-cli/internal/model"
	"github.com/sells-group/feedback-cli/internal/oracle"
)

// ExampleMaxLen caps the example text stored with a pending tag.
const ExampleMaxLen = 220

// Result is the outcome of classifying one row.
type Result struct {
	// Items are resolved against the catalog and deduplicated. Empty means
	// the caller should use the fallback matcher.
	Items    []model.TagItem
	CacheHit bool
	// Key is the cache key the answer is stored under.
	Key string
	// Cache is the log entry written by this call, nil on a cache hit.
	Cache *model.CacheEntry
	// Pending holds oracle tags the catalog could not resolve.
	Pending []model.PendingTag
}

// Classifier asks the oracle for tags and remembers the answers.
type Classifier struct {
	oracle oracle.Oracle
	cache  *Cache
	now    func() time.Time
}

// New creates a Classifier. A nil cache starts empty.
func New(o oracle.Oracle, cache *Cache) *Classifier {
	if cache == nil {
		cache = NewCache(nil)
	}
	return &Classifier{oracle: o, cache: cache, now: func() time.Time { return time.Now().UTC() }}
}

// Cache exposes the classifier's cache view.
func (c *Classifier) Cache() *Cache { return c.cache }

type rawItem struct {
	Tag      string `json:"tag"`
	Category string `json:"category"`
	Polarity string `json:"polarity"`
}

type rawResponse struct {
	Items []rawItem `json:"items"`
}

// Classify tags a row from its rendered context. A cached answer for the same
// catalog signature, row hash and context is reused without calling the
// oracle. Oracle and decode failures are returned as errors; the caller
// decides how to fall back.
func (c *Classifier) Classify(ctx context.Context, rowContext, rowHash string, cat *catalog.Catalog) (Result, error) {
	key := Key(cat.Signature(), rowHash, rowContext)

	if raw, ok := c.cache.Get(key); ok {
		items, pending := Normalize(raw, cat, rowContext, c.now())
		return Result{Items: items, CacheHit: true, Key: key, Pending: pending}, nil
	}

	resp, err := c.oracle.Ask(ctx, oracle.Request{
		Phase:  oracle.PhaseClassify,
		System: systemPrompt,
		Prompt: fmt.Sprintf(humanPrompt, cat.Listing(), rowContext),
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "classify: ask oracle")
	}

	var parsed rawResponse
	if err := oracle.DecodeJSON(resp, &parsed); err != nil {
		return Result{}, eris.Wrap(err, "classify: parse oracle response")
	}

	raw := make([]model.TagItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		raw = append(raw, model.TagItem{
			Tag:      it.Tag,
			Category: model.Category(it.Category),
			Polarity: model.Polarity(it.Polarity),
		})
	}

	now := c.now()
	entry := c.cache.Put(model.CacheEntry{Key: key, CreatedAt: now, Items: raw})

	items, pending := Normalize(raw, cat, rowContext, now)
	zap.L().Debug("classify: oracle answered",
		zap.String("row_hash", rowHash),
		zap.Int("raw_items", len(raw)),
		zap.Int("items", len(items)),
		zap.Int("pending", len(pending)),
	)
	return Result{Items: items, Key: key, Cache: &entry, Pending: pending}, nil
}

// Normalize resolves raw oracle items against the catalog. Resolved items take
// the catalog's canonical tag and category, polarity is clamped to the three
// known labels and duplicates by (tag, category, polarity) are dropped.
// Unresolved names come back as pending tags, one per name regardless of
// case, carrying a truncated copy of rowContext as their example.
func Normalize(raw []model.TagItem, cat *catalog.Catalog, rowContext string, seenAt time.Time) ([]model.TagItem, []model.PendingTag) {
	items := make([]model.TagItem, 0, len(raw))
	var pending []model.PendingTag
	proposed := make(map[string]bool)

	for _, it := range raw {
		name := catalog.NormalizeTag(it.Tag)
		if name == "" {
			continue
		}
		entry, ok := cat.Resolve(name)
		if !ok {
			if lower := strings.ToLower(name); !proposed[lower] {
				proposed[lower] = true
				pending = append(pending, model.PendingTag{
					Tag:         name,
					FirstSeenAt: seenAt,
					ExampleText: feedback.Truncate(rowContext, ExampleMaxLen),
				})
			}
			continue
		}
		items = append(items, model.TagItem{
			Tag:      entry.Tag,
			Category: entry.Category,
			Polarity: model.ParsePolarity(string(it.Polarity)),
			Origin:   model.OriginCatalog,
			Text:     rowContext,
		})
	}
	return catalog.Dedup(items), pending
}
