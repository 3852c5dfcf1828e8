// Package catalog holds the tag taxonomy and the deterministic keyword
// classifier that runs when the oracle cannot.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/feedback-cli/internal/model"
)

var (
	spanishLower = cases.Lower(language.Spanish)
	whitespace   = regexp.MustCompile(`\s+`)
)

// NormalizeText trims, lowercases with Spanish casing rules and collapses
// whitespace runs into single spaces.
func NormalizeText(s string) string {
	return whitespace.ReplaceAllString(spanishLower.String(strings.TrimSpace(s)), " ")
}

// NormalizeTag turns a free-form tag name into its snake_case lookup key.
func NormalizeTag(s string) string {
	return whitespace.ReplaceAllString(spanishLower.String(strings.TrimSpace(s)), "_")
}

// Catalog is an immutable snapshot of the taxonomy. Only enabled entries take
// part in matching, resolution and the signature.
type Catalog struct {
	entries   []model.CatalogEntry
	enabled   []model.CatalogEntry
	resolve   map[string]model.CatalogEntry
	signature string
}

// New validates entries and builds a snapshot. Tags are normalized; an
// enabled tag may appear only once.
func New(entries []model.CatalogEntry) (*Catalog, error) {
	c := &Catalog{resolve: make(map[string]model.CatalogEntry)}
	seen := make(map[string]bool)

	for _, e := range entries {
		e.Tag = NormalizeTag(e.Tag)
		if e.Tag == "" {
			return nil, eris.New("catalog: entry with empty tag")
		}
		e.Category = model.Category(NormalizeTag(string(e.Category)))
		if !e.Category.Valid() {
			return nil, eris.Errorf("catalog: tag %q has unknown category %q", e.Tag, e.Category)
		}
		syns := make([]string, 0, len(e.Synonyms))
		for _, s := range e.Synonyms {
			if s = strings.TrimSpace(spanishLower.String(s)); s != "" {
				syns = append(syns, s)
			}
		}
		e.Synonyms = syns

		if e.Enabled {
			if seen[e.Tag] {
				return nil, eris.Errorf("catalog: duplicate enabled tag %q", e.Tag)
			}
			seen[e.Tag] = true
			c.enabled = append(c.enabled, e)
		}
		c.entries = append(c.entries, e)
	}

	// Synonyms first so later entries win, then canonical names override.
	for _, e := range c.enabled {
		for _, s := range e.Synonyms {
			c.resolve[NormalizeTag(s)] = e
		}
	}
	for _, e := range c.enabled {
		c.resolve[e.Tag] = e
	}

	c.signature = signature(c.enabled)
	return c, nil
}

// Default returns a snapshot of the built-in taxonomy.
func Default() *Catalog {
	c, err := New(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return c
}

// Entries returns every entry, enabled or not, in catalog order.
func (c *Catalog) Entries() []model.CatalogEntry {
	out := make([]model.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Enabled returns the enabled entries in catalog order.
func (c *Catalog) Enabled() []model.CatalogEntry {
	out := make([]model.CatalogEntry, len(c.enabled))
	copy(out, c.enabled)
	return out
}

// Len returns the number of enabled entries.
func (c *Catalog) Len() int { return len(c.enabled) }

// Signature identifies the enabled (tag, category) set.
func (c *Catalog) Signature() string { return c.signature }

// Resolve maps a raw tag name, canonical or synonym, to its enabled entry.
func (c *Catalog) Resolve(raw string) (model.CatalogEntry, bool) {
	key := NormalizeTag(raw)
	if key == "" {
		return model.CatalogEntry{}, false
	}
	e, ok := c.resolve[key]
	return e, ok
}

// Has reports whether tag is an enabled canonical tag.
func (c *Catalog) Has(tag string) bool {
	for _, e := range c.enabled {
		if e.Tag == NormalizeTag(tag) {
			return true
		}
	}
	return false
}

type listingEntry struct {
	Tag      string `json:"tag"`
	Category string `json:"category"`
	Synonyms string `json:"synonyms"`
}

// Listing renders the enabled entries as the JSON array shown to the oracle.
func (c *Catalog) Listing() string {
	items := make([]listingEntry, 0, len(c.enabled))
	for _, e := range c.enabled {
		items = append(items, listingEntry{Tag: e.Tag, Category: string(e.Category), Synonyms: e.SynonymString()})
	}
	b, _ := json.Marshal(items) //nolint:errchkjson
	return string(b)
}

type signatureEntry struct {
	Category string `json:"category"`
	Tag      string `json:"tag"`
}

func signature(enabled []model.CatalogEntry) string {
	items := make([]signatureEntry, 0, len(enabled))
	for _, e := range enabled {
		items = append(items, signatureEntry{Category: string(e.Category), Tag: e.Tag})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Tag != items[j].Tag {
			return items[i].Tag < items[j].Tag
		}
		return items[i].Category < items[j].Category
	})
	b, _ := json.Marshal(items) //nolint:errchkjson
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DefaultEntries returns the built-in restaurant taxonomy.
func DefaultEntries() []model.CatalogEntry {
	raw := []struct {
		tag, category, synonyms string
	}{
		{"mesero", "atencion", "mesero|mozo|mozos|personal|recepcion|garzon|garzón"},
		{"tiempo_espera", "atencion", "espera|demora|tard|lento|rapidez|agil|ágil"},
		{"cobro", "atencion", "cuenta|cobraron|cobro|vuelto|pago|recargo"},
		{"comida", "comida", "comida|sabor|plato|ceviche|lomo|aji|ají|arroz|postre|menu|menú"},
		{"ceviche", "comida", "ceviche|tiradito|leche_de_tigre"},
		{"lomo_saltado", "comida", "lomo_saltado|lomo"},
		{"tacu_tacu", "comida", "tacu_tacu"},
		{"anticuchos", "comida", "anticucho|anticuchos"},
		{"aji_de_gallina", "comida", "aji_de_gallina|ají_de_gallina"},
		{"postres", "comida", "postre|postres|picarones|alfajores|suspiro|mazamorra"},
		{"bebidas", "comida", "chicha|pisco|bebida|bebidas|cafe|café"},
		{"salado", "comida", "salado|salada|sal"},
		{"precio", "precio_calidad", "precio|caro|economico|económico|valor|porciones|costo"},
		{"ambiente", "ambiente", "ambiente|musica|música|ruido|iluminacion|iluminación|terraza|decoracion|decoración|olor"},
		{"experiencia", "experiencia_general", "experiencia|reserva|aforo|trato|servicio|general"},
	}
	out := make([]model.CatalogEntry, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.CatalogEntry{
			Tag:      r.tag,
			Category: model.Category(r.category),
			Synonyms: model.SplitSynonyms(r.synonyms),
			Enabled:  true,
		})
	}
	return out
}
