package catalog

import (
	"strings"

	"github.com/sells-group/feedback-cli/internal/model"
)

// Match returns the enabled entries mentioned in text, in catalog order. An
// entry matches when its tag or any synonym is a substring of the normalized
// text. The result is never nil.
func (c *Catalog) Match(text string) []model.CatalogEntry {
	out := []model.CatalogEntry{}
	normalized := NormalizeText(text)
	if normalized == "" {
		return out
	}

	type key struct {
		tag string
		cat model.Category
	}
	seen := make(map[key]bool)
	for _, e := range c.enabled {
		if seen[key{e.Tag, e.Category}] {
			continue
		}
		for _, cand := range append([]string{e.Tag}, e.Synonyms...) {
			if cand != "" && strings.Contains(normalized, cand) {
				seen[key{e.Tag, e.Category}] = true
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Detect classifies one answer with the keyword matcher. Every matched tag
// gets the same polarity, inferred from the whole answer.
func (c *Catalog) Detect(text string, questionID int) []model.TagItem {
	matched := c.Match(text)
	items := make([]model.TagItem, 0, len(matched))
	if len(matched) == 0 {
		return items
	}

	polarity := InferPolarity(text, questionID)
	for _, e := range matched {
		items = append(items, model.TagItem{
			Tag:        e.Tag,
			Category:   e.Category,
			Polarity:   polarity,
			Origin:     model.OriginFallback,
			QuestionID: questionID,
			Text:       strings.TrimSpace(text),
		})
	}
	return items
}

// FallbackRow runs Detect over each non-empty answer of the row with that
// question's default polarity, deduplicated by (tag, category, polarity).
func (c *Catalog) FallbackRow(row model.FeedbackRow) []model.TagItem {
	var items []model.TagItem
	for _, q := range model.Questions {
		text := strings.TrimSpace(row.Answer(q.ID))
		if text == "" {
			continue
		}
		items = append(items, c.Detect(text, q.ID)...)
	}
	return Dedup(items)
}

// Dedup keeps the first item for each (tag, category, polarity).
func Dedup(items []model.TagItem) []model.TagItem {
	type key struct {
		tag string
		cat model.Category
		pol model.Polarity
	}
	out := make([]model.TagItem, 0, len(items))
	seen := make(map[key]bool, len(items))
	for _, it := range items {
		k := key{it.Tag, it.Category, it.Polarity}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
