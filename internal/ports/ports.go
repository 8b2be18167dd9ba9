package ports

import (
	"context"
	"time"

	"ArticlesPipeline/internal/domain"
)

// Filter is an equality match on a dotted field path of a stored document.
type Filter struct {
	Path  string
	Value any
}

// DocumentStore is the authoritative remote tier: JSON documents keyed by collection and id.
// Missing documents are reported as domain.ErrNotFound.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id string, doc []byte) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([][]byte, error)
}

// ArticleCache is the local on-disk tier.
type ArticleCache interface {
	Get(ctx context.Context, id string) (domain.Article, error)
	Put(ctx context.Context, article domain.Article) error
	Scan(ctx context.Context, since time.Time) ([]domain.Article, error)
}

// ArticleSource pulls fresh articles from upstream providers.
type ArticleSource interface {
	FetchDaily(ctx context.Context, day time.Time) ([]domain.CollectedArticle, error)
}

// Analyzer scores collected content and produces the analysis section.
type Analyzer interface {
	Analyze(ctx context.Context, article domain.Article) (domain.Analysis, error)
}

// Notifier streams digests to chat channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// EventPublisher fans committed lifecycle changes out to other services.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
