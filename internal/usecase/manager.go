package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
	"ArticlesPipeline/internal/registry"
	"ArticlesPipeline/internal/repository"
)

const (
	ActorCollector  = "collector"
	ActorAnalyzer   = "analyzer"
	actorCompensate = "system:compensate"
	actorRelease    = "system:release"
	actorDelete     = "system:delete_edition"
	actorRenumber   = "system:renumber"
)

// SectionData carries the section written alongside a transition. Only the section matching the
// target state is used.
type SectionData struct {
	Analysis       *domain.Analysis
	Classification *domain.Classification
	Publication    *domain.Publication
	Rejection      *domain.Rejection
}

// ManagerDeps wires the lifecycle orchestrator.
type ManagerDeps struct {
	Registry *registry.Registry
	Repo     *repository.Repository
	Events   ports.EventPublisher
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Manager is the public face of the article lifecycle. Every state change goes through the
// registry; edition documents and the edition index are written through the repository.
type Manager struct {
	registry *registry.Registry
	repo     *repository.Repository
	events   ports.EventPublisher
	logger   *slog.Logger
	now      func() time.Time

	// editionMu serialises the edition workflows, which read-modify-write edition and Meta documents.
	editionMu sync.Mutex
}

// NewManager constructs the orchestrator.
func NewManager(deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		registry: deps.Registry,
		repo:     deps.Repo,
		events:   deps.Events,
		logger:   logger.With("component", "manager"),
		now:      clock,
	}
}

// Create registers a COLLECTED article for url. Re-ingesting a known URL returns the stored
// article and false.
func (m *Manager) Create(ctx context.Context, url string, data domain.OriginalData) (domain.Article, bool, error) {
	if domain.CanonicalURL(url) == "" {
		return domain.Article{}, false, fmt.Errorf("create article: empty url")
	}

	existing, err := m.registry.FindByURL(ctx, url)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Article{}, false, fmt.Errorf("look up %s: %w", url, err)
	}

	article := domain.NewArticle(url, data, ActorCollector, m.now())
	if err := m.registry.Insert(ctx, article); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, _ := m.registry.Get(article.ID())
			return existing, false, nil
		}
		return domain.Article{}, false, fmt.Errorf("create article %s: %w", article.ID(), err)
	}

	m.committed(ctx, article, "", ActorCollector, false)
	m.logger.Info("article created", "article_id", article.ID(), "url", article.Header.URL)
	return article, true, nil
}

// Advance moves id to state to, merging data into the section owned by the target state.
// Re-analysis of a published article succeeds without touching it.
func (m *Manager) Advance(ctx context.Context, id string, to domain.State, actor string, data SectionData) (domain.Article, error) {
	current, err := m.registry.Lookup(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	from := current.Header.State

	if domain.IsProtected(from) && (to == domain.StateAnalyzed || to == domain.StateAnalyzing) {
		m.logger.Info("ignoring re-analysis of published article", "article_id", id, "state", from, "actor", actor)
		return current, nil
	}
	if domain.IsProtected(from) && to == domain.StateClassified {
		return m.Unpublish(ctx, id, actor)
	}
	if to == domain.StatePublished && !domain.IsProtected(from) {
		if data.Publication == nil || data.Publication.EditionCode == "" {
			return domain.Article{}, fmt.Errorf("%w: %s requires an edition code", domain.ErrInvalidTransition, to)
		}
		if _, err := m.Publish(ctx, id, data.Publication.EditionCode, data.Publication.EditionName); err != nil {
			return domain.Article{}, err
		}
		return m.registry.Lookup(ctx, id)
	}
	return m.advance(ctx, id, to, actor, data)
}

// advance validates against the freshest record under the registry's write lock and commits.
func (m *Manager) advance(ctx context.Context, id string, to domain.State, actor string, data SectionData) (domain.Article, error) {
	var from domain.State
	updated, err := m.registry.UpdateState(ctx, id, to, actor, func(a *domain.Article) error {
		from = a.Header.State
		applySection(a, to, actor, data, m.now().UTC())
		return domain.ValidateTransition(*a, to)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.Info("transition refused", "article_id", id, "from", from, "to", to, "actor", actor, "reason", err)
		}
		return domain.Article{}, err
	}

	m.committed(ctx, updated, from, actor, false)
	return updated, nil
}

// Compensate reverts id to target as an explicit rollback. Data gates are skipped and leaving a
// protected state drops the publication section.
func (m *Manager) Compensate(ctx context.Context, id string, target domain.State, reason string) error {
	var from domain.State
	updated, err := m.registry.UpdateState(ctx, id, target, actorCompensate, func(a *domain.Article) error {
		from = a.Header.State
		if !domain.IsProtected(target) {
			a.Publication = nil
		}
		return nil
	})
	if err != nil {
		m.logger.Error("compensation failed", "article_id", id, "to", target, "reason", reason, "error", err)
		return fmt.Errorf("compensate %s: %w", id, err)
	}
	m.logger.Warn("compensated", "article_id", id, "from", from, "to", target, "reason", reason)
	m.committed(ctx, updated, from, actorCompensate, true)
	return nil
}

// Get returns the canonical article.
func (m *Manager) Get(ctx context.Context, id string) (domain.Article, error) {
	return m.registry.Lookup(ctx, id)
}

// FindByState lists indexed articles in state.
func (m *Manager) FindByState(state domain.State) []domain.Article {
	return m.registry.ArticlesByState(state)
}

// FindByEdition lists indexed members of an edition.
func (m *Manager) FindByEdition(code string) []domain.Article {
	return m.registry.ArticlesByEdition(code)
}

func (m *Manager) FindCollected() []domain.Article {
	return m.FindByState(domain.StateCollected)
}

func (m *Manager) FindAnalyzed() []domain.Article {
	return m.FindByState(domain.StateAnalyzed)
}

func (m *Manager) FindClassified() []domain.Article {
	return m.FindByState(domain.StateClassified)
}

// Counts returns indexed articles per state.
func (m *Manager) Counts() map[domain.State]int {
	return m.registry.Counts()
}

func applySection(a *domain.Article, to domain.State, actor string, data SectionData, now time.Time) {
	switch to {
	case domain.StateAnalyzed:
		if data.Analysis != nil {
			analysis := *data.Analysis
			if analysis.AnalyzedAt.IsZero() {
				analysis.AnalyzedAt = now
			}
			a.Analysis = &analysis
		}
	case domain.StateClassified:
		if data.Classification != nil {
			classification := *data.Classification
			if classification.Category == "" && a.Classification != nil {
				classification.Category = a.Classification.Category
			}
			if classification.ClassifiedAt.IsZero() {
				classification.ClassifiedAt = now
			}
			if classification.ClassifiedBy == "" {
				classification.ClassifiedBy = actor
			}
			a.Classification = &classification
		}
	case domain.StateRejected:
		rejection := domain.Rejection{RejectedAt: now, RejectedBy: actor}
		if data.Rejection != nil {
			rejection.Reason = data.Rejection.Reason
			if data.Rejection.RejectedBy != "" {
				rejection.RejectedBy = data.Rejection.RejectedBy
			}
		}
		a.Rejection = &rejection
	case domain.StatePublished, domain.StateReleased:
		if data.Publication != nil {
			publication := *data.Publication
			if publication.PublishedAt.IsZero() {
				publication.PublishedAt = now
			}
			a.Publication = &publication
		}
		if a.Publication != nil {
			if to == domain.StateReleased {
				a.Publication.Status = domain.PublicationReleased
			} else if a.Publication.Status == "" {
				a.Publication.Status = domain.PublicationPreview
			}
		}
	}
}

// committed mirrors the change to the local tier and announces it. Neither failure is fatal.
func (m *Manager) committed(ctx context.Context, article domain.Article, from domain.State, actor string, compensation bool) {
	if err := m.repo.SaveLocal(ctx, article); err != nil {
		m.logger.Warn("local cache write failed", "article_id", article.ID(), "error", err)
	}
	if m.events == nil {
		return
	}
	event := domain.LifecycleEvent{
		ID:           uuid.NewString(),
		ArticleID:    article.ID(),
		From:         from,
		To:           article.Header.State,
		Actor:        actor,
		EditionCode:  article.EditionCode(),
		At:           article.Header.UpdatedAt,
		Compensation: compensation,
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("publish lifecycle event", "article_id", article.ID(), "to", event.To, "error", err)
	}
}
