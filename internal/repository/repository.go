// Package repository reads and writes articles, editions and the edition index across both tiers.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

const (
	ArticlesCollection = "articles"
	EditionsCollection = "editions"
	MetaCollection     = "meta"
	MetaEditionsID     = "editions"
)

// Repository is the store adapter the registry and orchestrator persist through.
type Repository struct {
	remote ports.DocumentStore
	local  ports.ArticleCache
}

// New wires the remote document store and the local cache. Local may be nil.
func New(remote ports.DocumentStore, local ports.ArticleCache) *Repository {
	return &Repository{remote: remote, local: local}
}

// HasLocal reports whether a local tier is configured.
func (r *Repository) HasLocal() bool {
	return r.local != nil
}

// RemoteArticle loads and normalises the remote copy.
func (r *Repository) RemoteArticle(ctx context.Context, id string) (domain.Article, error) {
	raw, err := r.remote.Get(ctx, ArticlesCollection, id)
	if err != nil {
		return domain.Article{}, err
	}
	article, err := domain.DecodeArticle(raw)
	if err != nil {
		return domain.Article{}, fmt.Errorf("remote article %s: %w", id, err)
	}
	return article, nil
}

// SaveRemote writes the full article document.
func (r *Repository) SaveRemote(ctx context.Context, article domain.Article) error {
	raw, err := domain.EncodeArticle(article)
	if err != nil {
		return err
	}
	if err := r.remote.Set(ctx, ArticlesCollection, article.ID(), raw); err != nil {
		return fmt.Errorf("save remote article %s: %w", article.ID(), err)
	}
	return nil
}

// RemoteByStates returns every remote article whose header state is one of states.
// Documents that fail to decode are returned in the error slice and skipped.
func (r *Repository) RemoteByStates(ctx context.Context, states ...domain.State) ([]domain.Article, []error, error) {
	var (
		out     []domain.Article
		corrupt []error
	)
	for _, state := range states {
		docs, err := r.remote.Query(ctx, ArticlesCollection, ports.Filter{Path: "header.state", Value: state.String()})
		if err != nil {
			return nil, nil, fmt.Errorf("query remote %s: %w", state, err)
		}
		for _, raw := range docs {
			article, err := domain.DecodeArticle(raw)
			if err != nil {
				corrupt = append(corrupt, err)
				continue
			}
			out = append(out, article)
		}
	}
	return out, corrupt, nil
}

// LocalArticle loads the cached copy.
func (r *Repository) LocalArticle(ctx context.Context, id string) (domain.Article, error) {
	if r.local == nil {
		return domain.Article{}, fmt.Errorf("local %s: %w", id, domain.ErrNotFound)
	}
	return r.local.Get(ctx, id)
}

// SaveLocal mirrors the article to disk. A missing local tier is a no-op.
func (r *Repository) SaveLocal(ctx context.Context, article domain.Article) error {
	if r.local == nil {
		return nil
	}
	if err := r.local.Put(ctx, article); err != nil {
		return fmt.Errorf("save local article %s: %w", article.ID(), err)
	}
	return nil
}

// ScanLocal reads cached articles captured on or after since.
func (r *Repository) ScanLocal(ctx context.Context, since time.Time) ([]domain.Article, error) {
	if r.local == nil {
		return nil, nil
	}
	return r.local.Scan(ctx, since)
}

// Edition loads an edition document.
func (r *Repository) Edition(ctx context.Context, code string) (domain.Edition, error) {
	raw, err := r.remote.Get(ctx, EditionsCollection, code)
	if err != nil {
		return domain.Edition{}, err
	}
	var edition domain.Edition
	if err := json.Unmarshal(raw, &edition); err != nil {
		return domain.Edition{}, fmt.Errorf("decode edition %s: %w", code, err)
	}
	return edition, nil
}

// SaveEdition writes the full edition document.
func (r *Repository) SaveEdition(ctx context.Context, edition domain.Edition) error {
	raw, err := json.Marshal(edition)
	if err != nil {
		return fmt.Errorf("encode edition %s: %w", edition.Code, err)
	}
	if err := r.remote.Set(ctx, EditionsCollection, edition.Code, raw); err != nil {
		return fmt.Errorf("save edition %s: %w", edition.Code, err)
	}
	return nil
}

// MarkEditionReleased patches only the status fields of an edition document.
func (r *Repository) MarkEditionReleased(ctx context.Context, code string, at time.Time) error {
	at = at.UTC()
	err := r.remote.Update(ctx, EditionsCollection, code, map[string]any{
		"status":      string(domain.EditionReleased),
		"released_at": at.Format(time.RFC3339Nano),
		"updated_at":  at.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("release edition %s: %w", code, err)
	}
	return nil
}

// DeleteEdition removes the edition document.
func (r *Repository) DeleteEdition(ctx context.Context, code string) error {
	if err := r.remote.Delete(ctx, EditionsCollection, code); err != nil {
		return fmt.Errorf("delete edition %s: %w", code, err)
	}
	return nil
}

// Editions returns every edition document.
func (r *Repository) Editions(ctx context.Context) ([]domain.Edition, error) {
	docs, err := r.remote.Query(ctx, EditionsCollection)
	if err != nil {
		return nil, fmt.Errorf("query editions: %w", err)
	}
	out := make([]domain.Edition, 0, len(docs))
	for _, raw := range docs {
		var edition domain.Edition
		if err := json.Unmarshal(raw, &edition); err != nil {
			return nil, fmt.Errorf("decode edition: %w", err)
		}
		out = append(out, edition)
	}
	return out, nil
}

// Meta loads the edition index. An absent index is returned empty.
func (r *Repository) Meta(ctx context.Context) (domain.Meta, error) {
	raw, err := r.remote.Get(ctx, MetaCollection, MetaEditionsID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Meta{}, nil
	}
	if err != nil {
		return domain.Meta{}, err
	}
	var meta domain.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.Meta{}, fmt.Errorf("decode meta: %w", err)
	}
	return meta, nil
}

// SaveMeta writes the edition index.
func (r *Repository) SaveMeta(ctx context.Context, meta domain.Meta) error {
	if meta.Editions == nil {
		meta.Editions = []domain.EditionSummary{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := r.remote.Set(ctx, MetaCollection, MetaEditionsID, raw); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}
