package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feedback-cli/internal/catalog"
	"github.com/sells-group/feedback-cli/internal/model"
)

// Catalog loads the persisted catalog, seeding it on first use from the
// configured seed file or the built-in taxonomy.
func (p *Pipeline) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	seed := catalog.DefaultEntries()
	if p.cfg != nil && p.cfg.Catalog.SeedFile != "" {
		entries, err := catalog.LoadYAML(p.cfg.Catalog.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = entries
	}

	seeded, err := p.store.SeedCatalog(ctx, seed)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: seed catalog")
	}
	if seeded {
		zap.L().Info("pipeline: catalog seeded", zap.Int("tags", len(seed)))
	}

	entries, err := p.store.CatalogEntries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load catalog")
	}
	return catalog.New(entries)
}

// Promote moves a pending tag into the catalog under category and removes it
// from the queue.
func (p *Pipeline) Promote(ctx context.Context, tag string, category model.Category, synonyms []string) (model.CatalogEntry, error) {
	cat, err := p.Catalog(ctx)
	if err != nil {
		return model.CatalogEntry{}, err
	}

	name := catalog.NormalizeTag(tag)
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return model.CatalogEntry{}, eris.Wrap(err, "pipeline: list pending")
	}
	found := false
	for _, pt := range pending {
		if strings.EqualFold(pt.Tag, name) {
			found = true
			break
		}
	}
	if !found {
		return model.CatalogEntry{}, eris.Errorf("pipeline: tag %q is not pending", name)
	}

	entry := model.CatalogEntry{Tag: name, Category: category, Synonyms: synonyms, Enabled: true}
	if err := p.replaceCatalog(ctx, cat.Entries(), entry); err != nil {
		return model.CatalogEntry{}, err
	}
	if err := p.store.DeletePending(ctx, name); err != nil {
		return model.CatalogEntry{}, eris.Wrap(err, "pipeline: clear pending")
	}
	zap.L().Info("pipeline: pending tag promoted", zap.String("tag", name), zap.String("category", string(category)))
	return entry, nil
}

// SetEnabled toggles a catalog tag.
func (p *Pipeline) SetEnabled(ctx context.Context, tag string, enabled bool) error {
	if _, err := p.Catalog(ctx); err != nil {
		return err
	}
	if err := p.store.SetCatalogEnabled(ctx, catalog.NormalizeTag(tag), enabled); err != nil {
		return eris.Wrap(err, "pipeline: toggle catalog tag")
	}
	return nil
}

// Import upserts entries into the catalog. Existing tags keep their position.
func (p *Pipeline) Import(ctx context.Context, entries []model.CatalogEntry) error {
	cat, err := p.Catalog(ctx)
	if err != nil {
		return err
	}
	return p.replaceCatalog(ctx, cat.Entries(), entries...)
}

// replaceCatalog checks that current with updates applied is a valid catalog
// before writing updates.
func (p *Pipeline) replaceCatalog(ctx context.Context, current []model.CatalogEntry, updates ...model.CatalogEntry) error {
	merged := append([]model.CatalogEntry{}, current...)
	for _, u := range updates {
		u.Tag = catalog.NormalizeTag(u.Tag)
		replaced := false
		for i := range merged {
			if merged[i].Tag == u.Tag {
				merged[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, u)
		}
	}

	next, err := catalog.New(merged)
	if err != nil {
		return err
	}

	// Write the normalized form of each update.
	normalized := make(map[string]model.CatalogEntry, len(merged))
	for _, e := range next.Entries() {
		normalized[e.Tag] = e
	}
	out := make([]model.CatalogEntry, 0, len(updates))
	for _, u := range updates {
		out = append(out, normalized[catalog.NormalizeTag(u.Tag)])
	}
	if err := p.store.UpsertCatalog(ctx, out); err != nil {
		return eris.Wrap(err, "pipeline: upsert catalog")
	}
	return nil
}
