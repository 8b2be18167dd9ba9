// Package registry keeps the authoritative in-memory index of articles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/reconcile"
	"ArticlesPipeline/internal/repository"
)

// Resolver produces the canonical copy of an article that is not in memory.
type Resolver interface {
	Resolve(ctx context.Context, id string) (domain.Article, reconcile.Decision, error)
}

// Deps wires a Registry. Resolver is optional; without it lazy loads read local then remote.
type Deps struct {
	Repo     *repository.Repository
	Resolver Resolver
	Logger   *slog.Logger
	Clock    func() time.Time
}

// InitOptions bounds the startup scan.
type InitOptions struct {
	// MaxAge limits the local scan to recently captured articles. Zero scans everything.
	MaxAge time.Duration
	Now    time.Time
}

// InitStats summarises a startup load.
type InitStats struct {
	Local    int
	Remote   int
	Replaced int
	Corrupt  int
	Verified int
}

// Registry indexes articles by id, state, url hash and edition.
// Mutations are serialised by writeMu; mu guards the maps and is never held across IO.
type Registry struct {
	repo     *repository.Repository
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time

	writeMu sync.Mutex

	mu        sync.RWMutex
	articles  map[string]domain.Article
	verified  map[string]bool
	byState   map[domain.State]map[string]struct{}
	byURL     map[string]string
	byEdition map[string]map[string]struct{}
}

// New builds an empty registry.
func New(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	r := &Registry{
		repo:     deps.Repo,
		resolver: deps.Resolver,
		logger:   logger.With("component", "registry"),
		now:      clock,
	}
	r.Reset()
	return r
}

// Reset drops every index.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles = map[string]domain.Article{}
	r.verified = map[string]bool{}
	r.byState = map[domain.State]map[string]struct{}{}
	r.byURL = map[string]string{}
	r.byEdition = map[string]map[string]struct{}{}
}

// Init rebuilds the index: recent local files first, then every non-protected remote article.
// Protected articles stay remote until first access.
func (r *Registry) Init(ctx context.Context, opts InitOptions) (InitStats, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.Reset()

	now := opts.Now
	if now.IsZero() {
		now = r.now()
	}
	var since time.Time
	if opts.MaxAge > 0 {
		since = now.Add(-opts.MaxAge)
	}

	var stats InitStats
	local, err := r.repo.ScanLocal(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("scan local tier: %w", err)
	}
	for _, article := range local {
		if article.ID() == "" || !article.Header.State.Valid() {
			stats.Corrupt++
			continue
		}
		if existing, ok := r.peek(article.ID()); ok && !preferLoaded(article, existing) {
			continue
		}
		r.put(article, false)
		stats.Local++
	}

	var eager []domain.State
	for _, state := range domain.AllStates {
		if !domain.IsLazy(state) {
			eager = append(eager, state)
		}
	}
	remote, corrupt, err := r.repo.RemoteByStates(ctx, eager...)
	if err != nil {
		return stats, fmt.Errorf("load remote tier: %w", err)
	}
	for _, cerr := range corrupt {
		r.logger.Warn("skip undecodable remote article", "error", cerr)
	}
	stats.Corrupt += len(corrupt)

	for _, article := range remote {
		existing, ok := r.peek(article.ID())
		switch {
		case !ok:
			r.put(article, true)
		case preferLoaded(article, existing):
			r.put(article, true)
			stats.Replaced++
		default:
			r.markVerified(article.ID())
		}
		stats.Remote++
	}

	// Local entries missing from the eager pull are protected or absent remotely; settle them
	// now so the state buckets never report a stale local state.
	for _, id := range r.unverifiedEager() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		local, _ := r.peek(id)
		resolved, err := r.verifyLocal(ctx, local)
		if err != nil {
			r.logger.Warn("verify local article", "article_id", id, "error", err)
			continue
		}
		if resolved.ID() != id {
			r.logger.Warn("verify local article", "article_id", id, "stored_id", resolved.ID())
			continue
		}
		if resolved.Header.State != local.Header.State {
			stats.Replaced++
		}
		r.put(resolved, true)
		stats.Verified++
	}

	r.logger.Info("registry initialised", "local", stats.Local, "remote", stats.Remote,
		"replaced", stats.Replaced, "verified", stats.Verified, "corrupt", stats.Corrupt, "indexed", r.Len())
	return stats, nil
}

// unverifiedEager lists indexed ids that only the local scan vouches for, skipping protected ones.
func (r *Registry) unverifiedEager() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, article := range r.articles {
		if !r.verified[id] && !domain.IsLazy(article.Header.State) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// verifyLocal compares a local-only entry with its remote copy. A protected remote state
// always beats an unprotected local one.
func (r *Registry) verifyLocal(ctx context.Context, local domain.Article) (domain.Article, error) {
	if r.resolver != nil {
		article, _, err := r.resolver.Resolve(ctx, local.ID())
		return article, err
	}
	remote, err := r.repo.RemoteArticle(ctx, local.ID())
	if errors.Is(err, domain.ErrNotFound) {
		return local, nil
	}
	if err != nil {
		return domain.Article{}, err
	}
	if domain.IsProtected(remote.Header.State) || preferLoaded(remote, local) {
		return remote, nil
	}
	return local, nil
}

// preferLoaded applies the merge-on-load rule: the more advanced state wins, REJECTED always
// wins, and equal states fall back to the newer write.
func preferLoaded(candidate, existing domain.Article) bool {
	a, b := candidate.Header.State, existing.Header.State
	if a == b {
		return candidate.Header.UpdatedAt.After(existing.Header.UpdatedAt)
	}
	return domain.MoreAdvanced(a, b)
}

// Get returns the indexed article without any IO.
func (r *Registry) Get(id string) (domain.Article, bool) {
	article, ok := r.peek(id)
	if !ok {
		return domain.Article{}, false
	}
	return article.Clone(), true
}

// Lookup returns the canonical article, resolving it when absent or only known from the local scan.
func (r *Registry) Lookup(ctx context.Context, id string) (domain.Article, error) {
	r.mu.RLock()
	article, ok := r.articles[id]
	verified := r.verified[id]
	r.mu.RUnlock()
	if ok && verified {
		return article.Clone(), nil
	}
	resolved, err := r.FindAndRegister(ctx, id)
	if err != nil && ok && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("serving unverified article", "article_id", id, "error", err)
		return article.Clone(), nil
	}
	return resolved, err
}

// FindByURL resolves an article by its source URL.
func (r *Registry) FindByURL(ctx context.Context, url string) (domain.Article, error) {
	r.mu.RLock()
	id, ok := r.byURL[domain.URLKey(url)]
	r.mu.RUnlock()
	if !ok {
		id = domain.ArticleID(url)
	}
	return r.Lookup(ctx, id)
}

// FindAndRegister loads id from the tiers, indexes it and returns it.
func (r *Registry) FindAndRegister(ctx context.Context, id string) (domain.Article, error) {
	article, err := r.load(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	if article.ID() != id {
		return domain.Article{}, fmt.Errorf("article %s: stored id %q does not match", id, article.ID())
	}

	r.mu.Lock()
	r.putLocked(article, true)
	r.mu.Unlock()
	r.logger.Debug("lazy loaded article", "article_id", id, "state", article.Header.State)
	return article.Clone(), nil
}

func (r *Registry) load(ctx context.Context, id string) (domain.Article, error) {
	if r.resolver != nil {
		article, _, err := r.resolver.Resolve(ctx, id)
		return article, err
	}
	article, err := r.repo.LocalArticle(ctx, id)
	if err == nil {
		return article, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("local lookup failed", "article_id", id, "error", err)
	}
	return r.repo.RemoteArticle(ctx, id)
}

// Register indexes an article that is already persisted.
func (r *Registry) Register(article domain.Article) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.put(article, true)
}

// Insert indexes a new article and persists it remotely. The index entry is removed again when
// the remote write fails.
func (r *Registry) Insert(ctx context.Context, article domain.Article) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	id := article.ID()
	if _, ok := r.peek(id); ok {
		return fmt.Errorf("article %s: %w", id, domain.ErrAlreadyExists)
	}
	r.put(article, true)

	if err := r.repo.SaveRemote(ctx, article); err != nil {
		r.mu.Lock()
		r.removeLocked(id)
		r.mu.Unlock()
		r.logger.Error("persist new article, index rolled back", "article_id", id, "error", err)
		return err
	}
	return nil
}

// UpdateState moves id to state on behalf of actor. apply runs first on a private copy and may
// veto the change. The new record is indexed, then persisted; on persistence failure the
// previous record and every index bucket are restored.
func (r *Registry) UpdateState(ctx context.Context, id string, to domain.State, actor string, apply func(*domain.Article) error) (domain.Article, error) {
	return r.mutate(ctx, id, func(candidate *domain.Article, now time.Time) error {
		if apply != nil {
			if err := apply(candidate); err != nil {
				return err
			}
		}
		candidate.AppendHistory(to, actor, now)
		return nil
	})
}

// Save persists a section change that keeps the current state.
func (r *Registry) Save(ctx context.Context, id string, apply func(*domain.Article) error) (domain.Article, error) {
	return r.mutate(ctx, id, func(candidate *domain.Article, now time.Time) error {
		if apply != nil {
			if err := apply(candidate); err != nil {
				return err
			}
		}
		candidate.Header.UpdatedAt = now
		return nil
	})
}

func (r *Registry) mutate(ctx context.Context, id string, change func(*domain.Article, time.Time) error) (domain.Article, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.Lookup(ctx, id); err != nil {
		return domain.Article{}, err
	}

	r.mu.RLock()
	previous, ok := r.articles[id]
	wasVerified := r.verified[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}

	candidate := previous.Clone()
	if err := change(&candidate, r.now().UTC()); err != nil {
		return domain.Article{}, err
	}

	r.mu.Lock()
	r.putLocked(candidate, true)
	r.mu.Unlock()

	if err := r.repo.SaveRemote(ctx, candidate); err != nil {
		r.mu.Lock()
		r.putLocked(previous, wasVerified)
		r.mu.Unlock()
		r.logger.Error("persist article, index rolled back", "article_id", id,
			"from", previous.Header.State, "to", candidate.Header.State, "error", err)
		return domain.Article{}, err
	}
	return candidate.Clone(), nil
}

// IDsByState returns the ids currently indexed under state, sorted.
func (r *Registry) IDsByState(state domain.State) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byState[state])
}

// ArticlesByState returns copies of the indexed articles in state, ordered by id.
func (r *Registry) ArticlesByState(state domain.State) []domain.Article {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byState[state])
}

// ArticlesByEdition returns copies of the indexed members of an edition, ordered by id.
func (r *Registry) ArticlesByEdition(code string) []domain.Article {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byEdition[code])
}

// Counts returns the number of indexed articles per state.
func (r *Registry) Counts() map[domain.State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.State]int, len(domain.AllStates))
	for _, state := range domain.AllStates {
		out[state] = len(r.byState[state])
	}
	return out
}

// Len returns the number of indexed articles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.articles)
}

func (r *Registry) peek(id string) (domain.Article, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	article, ok := r.articles[id]
	return article, ok
}

func (r *Registry) put(article domain.Article, verified bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(article, verified)
}

func (r *Registry) markVerified(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified[id] = true
}

// putLocked replaces the primary record and moves every secondary bucket in one step.
func (r *Registry) putLocked(article domain.Article, verified bool) {
	id := article.ID()
	r.removeLocked(id)

	article = article.Clone()
	r.articles[id] = article
	r.verified[id] = verified
	addTo(r.byState, article.Header.State, id)
	if article.Header.URL != "" {
		r.byURL[domain.URLKey(article.Header.URL)] = id
	}
	if code := article.EditionCode(); code != "" {
		addTo(r.byEdition, code, id)
	}
}

func (r *Registry) removeLocked(id string) {
	old, ok := r.articles[id]
	if !ok {
		return
	}
	removeFrom(r.byState, old.Header.State, id)
	if old.Header.URL != "" {
		key := domain.URLKey(old.Header.URL)
		if r.byURL[key] == id {
			delete(r.byURL, key)
		}
	}
	if code := old.EditionCode(); code != "" {
		removeFrom(r.byEdition, code, id)
	}
	delete(r.articles, id)
	delete(r.verified, id)
}

func (r *Registry) collectLocked(ids map[string]struct{}) []domain.Article {
	keys := sortedKeys(ids)
	out := make([]domain.Article, 0, len(keys))
	for _, id := range keys {
		out = append(out, r.articles[id].Clone())
	}
	return out
}

func addTo[K comparable](index map[K]map[string]struct{}, key K, id string) {
	bucket, ok := index[key]
	if !ok {
		bucket = map[string]struct{}{}
		index[key] = bucket
	}
	bucket[id] = struct{}{}
}

func removeFrom[K comparable](index map[K]map[string]struct{}, key K, id string) {
	bucket, ok := index[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(index, key)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
