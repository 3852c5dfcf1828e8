package catalog

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/feedback-cli/internal/model"
)

// File is the on-disk YAML layout for catalog import and export.
type File struct {
	Tags []model.CatalogEntry `yaml:"tags"`
}

// LoadYAML reads catalog entries from a YAML file. Entries without an
// explicit enabled flag are enabled.
func LoadYAML(path string) ([]model.CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open yaml")
	}
	defer f.Close() //nolint:errcheck

	return DecodeYAML(f)
}

// DecodeYAML parses catalog entries and validates them with New.
func DecodeYAML(r io.Reader) ([]model.CatalogEntry, error) {
	var raw struct {
		Tags []struct {
			Tag      string   `yaml:"tag"`
			Category string   `yaml:"category"`
			Synonyms []string `yaml:"synonyms"`
			Enabled  *bool    `yaml:"enabled"`
		} `yaml:"tags"`
	}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "catalog: decode yaml")
	}

	entries := make([]model.CatalogEntry, 0, len(raw.Tags))
	for _, t := range raw.Tags {
		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		entries = append(entries, model.CatalogEntry{
			Tag:      t.Tag,
			Category: model.Category(t.Category),
			Synonyms: t.Synonyms,
			Enabled:  enabled,
		})
	}

	c, err := New(entries)
	if err != nil {
		return nil, err
	}
	return c.Entries(), nil
}

// WriteYAML writes entries to w.
func WriteYAML(w io.Writer, entries []model.CatalogEntry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Tags: entries}); err != nil {
		return eris.Wrap(err, "catalog: encode yaml")
	}
	return eris.Wrap(enc.Close(), "catalog: flush yaml")
}
