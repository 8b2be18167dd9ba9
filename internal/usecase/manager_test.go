package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/infrastructure/storage/localcache"
	"ArticlesPipeline/internal/infrastructure/storage/memory"
	"ArticlesPipeline/internal/ports"
	"ArticlesPipeline/internal/reconcile"
	"ArticlesPipeline/internal/registry"
	"ArticlesPipeline/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

type switchableStore struct {
	ports.DocumentStore
	mu   sync.Mutex
	fail map[string]bool
}

func (s *switchableStore) failCollection(collection string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[collection] = fail
}

func (s *switchableStore) Set(ctx context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	fail := s.fail[collection]
	s.mu.Unlock()
	if fail {
		return errors.New("remote write rejected")
	}
	return s.DocumentStore.Set(ctx, collection, id, doc)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (r *recordedEvents) Publish(_ context.Context, event domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) all() []domain.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LifecycleEvent(nil), r.events...)
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type managerFixture struct {
	manager  *Manager
	registry *registry.Registry
	repo     *repository.Repository
	remote   *switchableStore
	events   *recordedEvents
}

func newManagerFixture(t *testing.T) managerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := localcache.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	remote := &switchableStore{DocumentStore: memory.New(), fail: map[string]bool{}}
	repo := repository.New(remote, cache)
	clock := &steppingClock{now: epoch}

	reg := registry.New(registry.Deps{
		Repo:     repo,
		Resolver: reconcile.New(reconcile.Deps{Repo: repo, Logger: logger}),
		Logger:   logger,
		Clock:    clock.Now,
	})
	events := &recordedEvents{}
	manager := NewManager(ManagerDeps{
		Registry: reg,
		Repo:     repo,
		Events:   events,
		Logger:   logger,
		Clock:    clock.Now,
	})
	return managerFixture{manager: manager, registry: reg, repo: repo, remote: remote, events: events}
}

func (f managerFixture) classified(t *testing.T, url, category string) domain.Article {
	t.Helper()
	ctx := context.Background()
	article, _, err := f.manager.Create(ctx, url, domain.OriginalData{Title: "Title " + url, Text: "Body"})
	if err != nil {
		t.Fatalf("Create(%s): %v", url, err)
	}
	if _, err := f.manager.Advance(ctx, article.ID(), domain.StateAnalyzed, ActorAnalyzer, SectionData{
		Analysis: &domain.Analysis{ImpactScore: 7},
	}); err != nil {
		t.Fatalf("Advance ANALYZED: %v", err)
	}
	classified, err := f.manager.Advance(ctx, article.ID(), domain.StateClassified, "curator", SectionData{
		Classification: &domain.Classification{Category: category},
	})
	if err != nil {
		t.Fatalf("Advance CLASSIFIED: %v", err)
	}
	return classified
}

func TestLifecycleScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)

	article, created, err := f.manager.Create(ctx, "https://a.test/1", domain.OriginalData{Title: "One", Text: "Body"})
	if err != nil || !created {
		t.Fatalf("Create = %v, %v", created, err)
	}
	if article.Header.State != domain.StateCollected {
		t.Fatalf("state = %s", article.Header.State)
	}

	analyzed, err := f.manager.Advance(ctx, article.ID(), domain.StateAnalyzed, ActorAnalyzer, SectionData{
		Analysis: &domain.Analysis{ImpactScore: 7},
	})
	if err != nil {
		t.Fatalf("Advance ANALYZED: %v", err)
	}
	if analyzed.Header.State != domain.StateAnalyzed || analyzed.Analysis.ImpactScore != 7 {
		t.Fatalf("unexpected analyzed article: %+v", analyzed.Header)
	}

	classified, err := f.manager.Advance(ctx, article.ID(), domain.StateClassified, "curator", SectionData{
		Classification: &domain.Classification{Category: "tech"},
	})
	if err != nil || classified.Header.State != domain.StateClassified {
		t.Fatalf("Advance CLASSIFIED = %s, %v", classified.Header.State, err)
	}

	edition, err := f.manager.Publish(ctx, article.ID(), "250101_1", "Morning")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !edition.Contains(article.ID()) {
		t.Fatalf("edition members = %v", edition.ArticleIDs)
	}
	published, err := f.manager.Get(ctx, article.ID())
	if err != nil || published.Header.State != domain.StatePublished {
		t.Fatalf("published state = %s, %v", published.Header.State, err)
	}

	released, err := f.manager.Release(ctx, "250101_1")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != domain.EditionReleased {
		t.Fatalf("edition status = %s", released.Status)
	}
	final, err := f.manager.Get(ctx, article.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Header.State != domain.StatePublished || final.Publication.Status != domain.PublicationReleased {
		t.Fatalf("after release: state %s, publication %+v", final.Header.State, final.Publication)
	}

	stored, err := f.repo.Edition(ctx, "250101_1")
	if err != nil || stored.Status != domain.EditionReleased {
		t.Fatalf("stored edition = %+v, %v", stored, err)
	}
	meta, err := f.repo.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if summary, ok := meta.Find("250101_1"); !ok || summary.Status != domain.EditionReleased || summary.Count != 1 {
		t.Fatalf("meta summary = %+v, %v", summary, ok)
	}

	local, err := f.repo.LocalArticle(ctx, article.ID())
	if err != nil || local.Publication == nil || local.Publication.Status != domain.PublicationReleased {
		t.Fatalf("local mirror not updated: %+v, %v", local.Publication, err)
	}
	if len(f.events.all()) < 5 {
		t.Fatalf("expected lifecycle events, got %d", len(f.events.all()))
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)

	first, created, err := f.manager.Create(ctx, "https://a.test/same", domain.OriginalData{Title: "A"})
	if err != nil || !created {
		t.Fatalf("first Create = %v, %v", created, err)
	}
	second, created, err := f.manager.Create(ctx, "HTTPS://A.TEST/same#frag", domain.OriginalData{Title: "B"})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if created || second.ID() != first.ID() || second.Original.Title != "A" {
		t.Fatalf("re-ingestion must be a no-op, got created=%v title=%q", created, second.Original.Title)
	}
	if f.registry.Len() != 1 {
		t.Fatalf("registry holds %d articles", f.registry.Len())
	}
}

func TestInvalidTransitionLeavesArticleUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	article, _, err := f.manager.Create(ctx, "https://a.test/invalid", domain.OriginalData{Title: "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name string
		to   domain.State
		data SectionData
	}{
		{name: "not in table", to: domain.StateReleased},
		{name: "analysis missing", to: domain.StateAnalyzed},
		{name: "category missing", to: domain.StateClassified, data: SectionData{Classification: &domain.Classification{}}},
		{name: "publish without edition", to: domain.StatePublished},
	}
	for _, tt := range tests {
		if _, err := f.manager.Advance(ctx, article.ID(), tt.to, "curator", tt.data); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", tt.name, err)
		}
	}

	got, err := f.manager.Get(ctx, article.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Header.State != domain.StateCollected || len(got.Header.StateHistory) != 1 || got.Analysis != nil {
		t.Fatalf("article changed by refused transitions: %+v", got.Header)
	}
}

func TestReanalysisOfPublishedArticleIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	article := f.classified(t, "https://a.test/protected", "tech")
	if _, err := f.manager.Publish(ctx, article.ID(), "250101_1", ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := f.manager.Advance(ctx, article.ID(), domain.StateAnalyzed, ActorAnalyzer, SectionData{
		Analysis: &domain.Analysis{ImpactScore: 1},
	})
	if err != nil {
		t.Fatalf("re-analysis must succeed, got %v", err)
	}
	if got.Header.State != domain.StatePublished || got.Analysis.ImpactScore != 7 {
		t.Fatalf("published article was modified: state %s score %v", got.Header.State, got.Analysis.ImpactScore)
	}
}

func TestPublishCompensatesWhenEditionWriteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	article := f.classified(t, "https://a.test/compensate", "science")

	f.remote.failCollection(repository.EditionsCollection, true)
	_, err := f.manager.Publish(ctx, article.ID(), "250101_1", "")
	if !errors.Is(err, domain.ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}

	got, err := f.manager.Get(ctx, article.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Header.State != domain.StateClassified || got.Publication != nil {
		t.Fatalf("compensation did not revert: state %s publication %+v", got.Header.State, got.Publication)
	}
	if len(f.manager.FindByState(domain.StatePublished)) != 0 {
		t.Fatal("no article may stay PUBLISHED outside an edition")
	}

	var compensated bool
	for _, event := range f.events.all() {
		if event.Compensation && event.ArticleID == article.ID() && event.To == domain.StateClassified {
			compensated = true
		}
	}
	if !compensated {
		t.Fatal("expected a compensation event")
	}
}

func TestPublishCompensatesWhenMetaWriteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	article := f.classified(t, "https://a.test/meta", "science")

	f.remote.failCollection(repository.MetaCollection, true)
	if _, err := f.manager.Publish(ctx, article.ID(), "250101_1", ""); !errors.Is(err, domain.ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}

	got, _ := f.manager.Get(ctx, article.ID())
	if got.Header.State != domain.StateClassified {
		t.Fatalf("state = %s, want CLASSIFIED", got.Header.State)
	}
	if _, err := f.repo.Edition(ctx, "250101_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("edition created by the failed publish must be removed, got %v", err)
	}
}

func TestPublishMetaFailureKeepsExistingEditionMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	first := f.classified(t, "https://a.test/meta-first", "science")
	second := f.classified(t, "https://a.test/meta-second", "science")
	if _, err := f.manager.Publish(ctx, first.ID(), "250101_1", ""); err != nil {
		t.Fatalf("Publish first: %v", err)
	}

	f.remote.failCollection(repository.MetaCollection, true)
	if _, err := f.manager.Publish(ctx, second.ID(), "250101_1", ""); !errors.Is(err, domain.ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}

	edition, err := f.repo.Edition(ctx, "250101_1")
	if err != nil {
		t.Fatalf("Edition: %v", err)
	}
	if !edition.Contains(first.ID()) || edition.Contains(second.ID()) {
		t.Fatalf("edition members = %v", edition.ArticleIDs)
	}
}

func TestConcurrentPublishKeepsEveryMember(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)

	const n = 20
	ids := make([]string, n)
	for i := range n {
		ids[i] = f.classified(t, fmt.Sprintf("https://a.test/concurrent/%d", i), "tech").ID()
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.Publish(ctx, id, "250101_1", ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Publish: %v", err)
	}

	edition, err := f.repo.Edition(ctx, "250101_1")
	if err != nil {
		t.Fatalf("Edition: %v", err)
	}
	if len(edition.ArticleIDs) != n {
		t.Fatalf("edition holds %d members, want %d", len(edition.ArticleIDs), n)
	}
	for _, article := range f.manager.FindByState(domain.StatePublished) {
		if !edition.Contains(article.ID()) {
			t.Fatalf("published article %s missing from edition", article.ID())
		}
	}
	summaries, err := f.manager.Editions(ctx)
	if err != nil {
		t.Fatalf("Editions: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Count != n {
		t.Fatalf("meta = %+v", summaries)
	}
}

func TestReleaseSkipsMembersThatLeftTheEdition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	stale := f.classified(t, "https://a.test/release-stale", "tech")
	kept := f.classified(t, "https://a.test/release-kept", "tech")
	for _, article := range []domain.Article{stale, kept} {
		if _, err := f.manager.Publish(ctx, article.ID(), "250101_1", ""); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := f.manager.Compensate(ctx, stale.ID(), domain.StateClassified, "edition write lost"); err != nil {
		t.Fatalf("Compensate: %v", err)
	}

	edition, err := f.manager.Release(ctx, "250101_1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected the stale member to be reported, got %v", err)
	}
	if edition.Status != domain.EditionReleased {
		t.Fatalf("edition status = %s", edition.Status)
	}

	got, err := f.manager.Get(ctx, stale.ID())
	if err != nil {
		t.Fatalf("Get stale: %v", err)
	}
	if got.Header.State != domain.StateClassified || got.Publication != nil {
		t.Fatalf("stale member touched by release: %s %+v", got.Header.State, got.Publication)
	}
	members := f.manager.FindByEdition("250101_1")
	if len(members) != 1 || members[0].ID() != kept.ID() {
		t.Fatalf("edition index = %d members", len(members))
	}
	if members[0].Publication.Status != domain.PublicationReleased {
		t.Fatalf("kept member status = %s", members[0].Publication.Status)
	}
}

func TestAdvanceRefusesEveryPairOutsideTheTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	full := SectionData{
		Analysis:       &domain.Analysis{ImpactScore: 3},
		Classification: &domain.Classification{Category: "tech"},
		Publication:    &domain.Publication{EditionCode: "250101_5"},
		Rejection:      &domain.Rejection{Reason: "spam"},
	}

	for _, from := range domain.AllStates {
		for _, to := range domain.AllStates {
			if domain.CanTransition(from, to) {
				continue
			}
			url := fmt.Sprintf("https://a.test/pairs/%s/%s", from, to)
			seeded := seedArticle(url, from)
			if err := f.registry.Insert(ctx, seeded); err != nil {
				t.Fatalf("%s -> %s: Insert: %v", from, to, err)
			}

			_, err := f.manager.Advance(ctx, seeded.ID(), to, "curator", full)
			reanalysis := domain.IsProtected(from) && to == domain.StateAnalyzing
			switch {
			case reanalysis && err != nil:
				t.Fatalf("%s -> %s: re-analysis must be a no-op, got %v", from, to, err)
			case !reanalysis && !errors.Is(err, domain.ErrInvalidTransition):
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}

			got, err := f.manager.Get(ctx, seeded.ID())
			if err != nil {
				t.Fatalf("%s -> %s: Get: %v", from, to, err)
			}
			if got.Header.State != from || len(got.Header.StateHistory) != len(seeded.Header.StateHistory) {
				t.Fatalf("%s -> %s: article changed to %s with %d history entries",
					from, to, got.Header.State, len(got.Header.StateHistory))
			}
		}
	}

	if _, err := f.repo.Edition(ctx, "250101_5"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("refused publish created an edition: %v", err)
	}
}

func seedArticle(url string, state domain.State) domain.Article {
	a := domain.NewArticle(url, domain.OriginalData{Title: "T", Text: "B"}, ActorCollector, epoch)
	a.Header.State = state
	if state != domain.StateCollected && state != domain.StateAnalyzing && state != domain.StateRejected {
		a.Analysis = &domain.Analysis{ImpactScore: 5}
	}
	if state == domain.StateClassified || domain.IsProtected(state) {
		a.Classification = &domain.Classification{Category: "tech"}
	}
	if domain.IsProtected(state) {
		a.Publication = &domain.Publication{EditionCode: "250101_1", Status: domain.PublicationPreview}
	}
	if state == domain.StateRejected {
		a.Rejection = &domain.Rejection{Reason: "duplicate"}
	}
	return a
}

func TestDeleteEditionRevertsMembersAndRenumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)

	categories := []string{"tech", "science", "culture"}
	var members []domain.Article
	for i, category := range categories {
		article := f.classified(t, "https://a.test/member/"+category, category)
		if _, err := f.manager.Publish(ctx, article.ID(), "250101_1", ""); err != nil {
			t.Fatalf("Publish member %d: %v", i, err)
		}
		members = append(members, article)
	}
	second := f.classified(t, "https://a.test/second", "sport")
	if _, err := f.manager.Publish(ctx, second.ID(), "250101_2", ""); err != nil {
		t.Fatalf("Publish second: %v", err)
	}
	third := f.classified(t, "https://a.test/third", "travel")
	if _, err := f.manager.Publish(ctx, third.ID(), "250101_3", ""); err != nil {
		t.Fatalf("Publish third: %v", err)
	}

	if err := f.manager.DeleteEdition(ctx, "250101_1"); err != nil {
		t.Fatalf("DeleteEdition: %v", err)
	}

	for i, member := range members {
		got, err := f.manager.Get(ctx, member.ID())
		if err != nil {
			t.Fatalf("Get member %d: %v", i, err)
		}
		if got.Header.State != domain.StateClassified || got.Publication != nil {
			t.Fatalf("member %d not reverted: %s", i, got.Header.State)
		}
		if got.Classification == nil || got.Classification.Category != categories[i] {
			t.Fatalf("member %d lost its category: %+v", i, got.Classification)
		}
	}

	summaries, err := f.manager.Editions(ctx)
	if err != nil {
		t.Fatalf("Editions: %v", err)
	}
	var codes []string
	for _, s := range summaries {
		codes = append(codes, s.Code)
	}
	if len(codes) != 2 || codes[0] != "250101_1" || codes[1] != "250101_2" {
		t.Fatalf("editions after renumbering = %v", codes)
	}

	shifted, err := f.manager.Edition(ctx, "250101_1")
	if err != nil || !shifted.Contains(second.ID()) {
		t.Fatalf("edition 250101_1 = %+v, %v", shifted.ArticleIDs, err)
	}
	if _, err := f.manager.Edition(ctx, "250101_3"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected 250101_3 to be gone, got %v", err)
	}

	got, err := f.manager.Get(ctx, third.ID())
	if err != nil {
		t.Fatalf("Get third: %v", err)
	}
	if got.EditionCode() != "250101_2" || got.Header.State != domain.StatePublished {
		t.Fatalf("third article = %s in %s", got.Header.State, got.EditionCode())
	}
	if ids := f.manager.FindByEdition("250101_2"); len(ids) != 1 || ids[0].ID() != third.ID() {
		t.Fatalf("edition index not moved: %d", len(ids))
	}
}

func TestUnpublishDetachesArticle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	a := f.classified(t, "https://a.test/u1", "tech")
	b := f.classified(t, "https://a.test/u2", "tech")
	for _, article := range []domain.Article{a, b} {
		if _, err := f.manager.Publish(ctx, article.ID(), "250101_1", ""); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got, err := f.manager.Advance(ctx, a.ID(), domain.StateClassified, "curator", SectionData{})
	if err != nil {
		t.Fatalf("Advance to CLASSIFIED: %v", err)
	}
	if got.Header.State != domain.StateClassified || got.Publication != nil {
		t.Fatalf("unexpected article: %+v", got.Header)
	}

	edition, err := f.manager.Edition(ctx, "250101_1")
	if err != nil {
		t.Fatalf("Edition: %v", err)
	}
	if edition.Contains(a.ID()) || !edition.Contains(b.ID()) {
		t.Fatalf("edition members = %v", edition.ArticleIDs)
	}
	summaries, _ := f.manager.Editions(ctx)
	if len(summaries) != 1 || summaries[0].Count != 1 {
		t.Fatalf("meta not updated: %+v", summaries)
	}
}

func TestNextEditionCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newManagerFixture(t)
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	code, err := f.manager.NextEditionCode(ctx, day)
	if err != nil || code != "250101_1" {
		t.Fatalf("NextEditionCode = %s, %v", code, err)
	}

	article := f.classified(t, "https://a.test/next", "tech")
	if _, err := f.manager.Publish(ctx, article.ID(), "", ""); err != nil {
		t.Fatalf("Publish into next edition: %v", err)
	}
	code, err = f.manager.NextEditionCode(ctx, day)
	if err != nil || code != "250101_2" {
		t.Fatalf("NextEditionCode after publish = %s, %v", code, err)
	}
}
