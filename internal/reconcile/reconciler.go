package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/repository"
)

// DefaultTolerance is used when Options.Tolerance is zero.
const DefaultTolerance = time.Second

// Deps wires a Reconciler.
type Deps struct {
	Repo    *repository.Repository
	Logger  *slog.Logger
	Options Options
	Clock   func() time.Time
}

// Reconciler loads both tiers, decides the canonical copy and repairs the lagging tier.
type Reconciler struct {
	repo   *repository.Repository
	logger *slog.Logger
	opts   Options
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// New builds a Reconciler.
func New(deps Deps) *Reconciler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := deps.Options
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Policy == "" {
		opts.Policy = PolicyNewest
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		repo:    deps.Repo,
		logger:  logger.With("component", "reconcile"),
		opts:    opts,
		now:     clock,
		pending: map[string]time.Time{},
	}
}

// Resolve returns the canonical record for id. Write-back failures are logged and do not fail
// the read.
func (r *Reconciler) Resolve(ctx context.Context, id string) (domain.Article, Decision, error) {
	local, err := r.repo.LocalArticle(ctx, id)
	localPtr := &local
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("local copy unreadable", "article_id", id, "error", err)
		}
		localPtr = nil
	}

	remote, err := r.repo.RemoteArticle(ctx, id)
	remotePtr := &remote
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			if localPtr == nil {
				return domain.Article{}, Decision{}, fmt.Errorf("load remote %s: %w", id, err)
			}
			r.logger.Warn("remote unavailable, serving local copy", "article_id", id, "error", err)
			return local.Clone(), Decision{Article: local.Clone(), Outcome: LocalOnly}, nil
		}
		remotePtr = nil
	}

	decision, err := Decide(localPtr, remotePtr, r.opts)
	if err != nil {
		if errors.Is(err, domain.ErrIncomplete) {
			r.markPending(id)
			r.logger.Warn("both copies incomplete, refusing read", "article_id", id)
		}
		return domain.Article{}, Decision{}, err
	}

	switch decision.Outcome {
	case BothIncomplete:
		r.markPending(id)
		r.logger.Warn("both copies incomplete, serving newer copy", "article_id", id,
			"state", decision.Article.Header.State)
	case ProtectedRemote:
		r.clearPending(id)
		r.logger.Info("protected remote state wins", "article_id", id,
			"remote_state", decision.Article.Header.State, "local_state", local.Header.State)
	default:
		r.clearPending(id)
	}

	if decision.WriteRemote {
		if err := r.repo.SaveRemote(ctx, decision.Article); err != nil {
			r.logger.Error("repair remote copy", "article_id", id, "outcome", decision.Outcome, "error", err)
		}
	}
	if decision.WriteLocal {
		if err := r.repo.SaveLocal(ctx, decision.Article); err != nil {
			r.logger.Warn("repair local copy", "article_id", id, "outcome", decision.Outcome, "error", err)
		}
	}

	if decision.Outcome != Agreed && decision.Outcome != LocalOnly && decision.Outcome != RemoteOnly {
		r.logger.Debug("reconciled", "article_id", id, "outcome", decision.Outcome,
			"write_local", decision.WriteLocal, "write_remote", decision.WriteRemote)
	}
	return decision.Article.Clone(), decision, nil
}

// PendingRepairs lists ids whose copies were both incomplete at their last read.
func (r *Reconciler) PendingRepairs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Reconciler) markPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = r.now()
}

func (r *Reconciler) clearPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}
