package model

import (
	"strings"
	"time"
)

// Polarity is the ternary sentiment label attached to a tag mention.
type Polarity string

const (
	PolarityBien    Polarity = "bien"
	PolarityMal     Polarity = "mal"
	PolarityNeutral Polarity = "neutral"
)

// ParsePolarity clamps a raw label to a known polarity. Unrecognized values
// become neutral.
func ParsePolarity(raw string) Polarity {
	switch Polarity(strings.ToLower(strings.TrimSpace(raw))) {
	case PolarityBien:
		return PolarityBien
	case PolarityMal:
		return PolarityMal
	default:
		return PolarityNeutral
	}
}

// Category is one of the five coarse groupings a tag belongs to.
type Category string

const (
	CategoryAtencion           Category = "atencion"
	CategoryComida             Category = "comida"
	CategoryPrecioCalidad      Category = "precio_calidad"
	CategoryAmbiente           Category = "ambiente"
	CategoryExperienciaGeneral Category = "experiencia_general"
)

// AllCategories returns the categories in payload order.
func AllCategories() []Category {
	return []Category{
		CategoryAtencion,
		CategoryComida,
		CategoryPrecioCalidad,
		CategoryAmbiente,
		CategoryExperienciaGeneral,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Origin records which classifier produced a tag event.
type Origin string

const (
	// OriginCatalog marks oracle output resolved against the catalog.
	OriginCatalog Origin = "catalog"
	// OriginFallback marks deterministic keyword matches.
	OriginFallback Origin = "fallback"
)

// Path records how a row was classified when it entered the index.
type Path string

const (
	PathOracle   Path = "oracle"
	PathCache    Path = "cache"
	PathFallback Path = "fallback"
)

// CatalogEntry is one tag in the taxonomy.
type CatalogEntry struct {
	Tag      string   `json:"tag" yaml:"tag"`
	Category Category `json:"category" yaml:"category"`
	Synonyms []string `json:"synonyms" yaml:"synonyms"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
}

// SynonymString joins synonyms with the pipe delimiter used by flat exports.
func (e CatalogEntry) SynonymString() string {
	return strings.Join(e.Synonyms, "|")
}

// SplitSynonyms parses a pipe-delimited synonym list, dropping empty items.
func SplitSynonyms(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, "|") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TagItem is a single classification produced for a row, before it is
// stamped into an event.
type TagItem struct {
	Tag      string   `json:"tag"`
	Category Category `json:"category"`
	Polarity Polarity `json:"polarity"`
	Origin   Origin   `json:"origin,omitempty"`
	// QuestionID is 0 when the item was derived from the whole row.
	QuestionID int    `json:"question_id,omitempty"`
	Text       string `json:"-"`
}

// TagEvent is one row of the append-only classification ledger.
type TagEvent struct {
	ID          int64     `json:"id,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	RowHash     string    `json:"row_hash"`
	CustomerID  string    `json:"customer_id"`
	Phone       string    `json:"phone"`
	QuestionID  int       `json:"question_id"`
	Text        string    `json:"text"`
	Tag         string    `json:"tag"`
	Category    Category  `json:"category"`
	Polarity    Polarity  `json:"polarity"`
	Origin      Origin    `json:"origin"`
}

// IndexEntry marks a row hash as processed.
type IndexEntry struct {
	RowHash     string    `json:"row_hash"`
	ProcessedAt time.Time `json:"processed_at"`
	CustomerID  string    `json:"customer_id"`
	Phone       string    `json:"phone"`
	Path        Path      `json:"path"`
	// CacheKey is the cache entry the row was answered from, empty when the
	// oracle never answered.
	CacheKey string `json:"cache_key,omitempty"`
}

// PendingTag is a tag name the oracle proposed that the catalog does not know.
type PendingTag struct {
	Tag         string    `json:"tag"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	ExampleText string    `json:"example_text"`
}

// CacheEntry is one record of the append-only classification cache log.
type CacheEntry struct {
	Seq       int64     `json:"seq,omitempty"`
	Key       string    `json:"cache_key"`
	CreatedAt time.Time `json:"created_at"`
	Items     []TagItem `json:"items"`
}

// CacheStats summarizes the cache log.
type CacheStats struct {
	Entries    int `json:"entries"`
	UniqueKeys int `json:"unique_keys"`
}

// Superseded returns the number of log entries shadowed by a newer entry
// with the same key.
func (s CacheStats) Superseded() int {
	return s.Entries - s.UniqueKeys
}

// RowCommit groups everything a single processed row writes to the stores.
// Stores apply it atomically.
type RowCommit struct {
	Index   IndexEntry
	Events  []TagEvent
	Pending []PendingTag
	Cache   *CacheEntry
}
