package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/infrastructure/storage/localcache"
	"ArticlesPipeline/internal/infrastructure/storage/memory"
	"ArticlesPipeline/internal/repository"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func article(state domain.State, updated time.Time, complete bool) *domain.Article {
	data := domain.OriginalData{SourceID: "feed"}
	if complete {
		data.Title = "Title"
		data.Text = "Body"
	}
	a := domain.NewArticle("https://a.test/1", data, "collector", t0)
	a.Header.State = state
	a.Header.UpdatedAt = updated
	return &a
}

func defaultOptions() Options {
	return Options{Tolerance: time.Second, Policy: PolicyNewest}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	t1 := t0.Add(time.Hour)
	tests := []struct {
		name        string
		local       *domain.Article
		remote      *domain.Article
		outcome     Outcome
		state       domain.State
		writeLocal  bool
		writeRemote bool
	}{
		{
			name:    "only local",
			local:   article(domain.StateAnalyzed, t0, true),
			outcome: LocalOnly,
			state:   domain.StateAnalyzed,
		},
		{
			name:    "only remote",
			remote:  article(domain.StateClassified, t0, true),
			outcome: RemoteOnly,
			state:   domain.StateClassified,
		},
		{
			name:    "same write within tolerance",
			local:   article(domain.StateAnalyzed, t0.Add(500*time.Millisecond), true),
			remote:  article(domain.StateAnalyzed, t0, true),
			outcome: Agreed,
			state:   domain.StateAnalyzed,
		},
		{
			name:        "newer complete local wins and repairs remote",
			local:       article(domain.StateClassified, t1, true),
			remote:      article(domain.StateAnalyzed, t0, true),
			outcome:     LocalCanonical,
			state:       domain.StateClassified,
			writeRemote: true,
		},
		{
			name:       "newer complete remote wins and repairs local",
			local:      article(domain.StateAnalyzed, t0, true),
			remote:     article(domain.StateClassified, t1, true),
			outcome:    RemoteCanonical,
			state:      domain.StateClassified,
			writeLocal: true,
		},
		{
			name:        "newer incomplete is merged onto complete base",
			local:       article(domain.StateAnalyzed, t1, false),
			remote:      article(domain.StateCollected, t0, true),
			outcome:     FieldMerged,
			state:       domain.StateAnalyzed,
			writeLocal:  true,
			writeRemote: true,
		},
		{
			name:    "both incomplete returns newer",
			local:   article(domain.StateAnalyzed, t1, false),
			remote:  article(domain.StateCollected, t0, false),
			outcome: BothIncomplete,
			state:   domain.StateAnalyzed,
		},
		{
			name:       "protected remote beats newer local",
			local:      article(domain.StateClassified, t1, true),
			remote:     article(domain.StatePublished, t0, true),
			outcome:    ProtectedRemote,
			state:      domain.StatePublished,
			writeLocal: true,
		},
		{
			name:       "protected remote beats newer rejected local",
			local:      article(domain.StateRejected, t1, true),
			remote:     article(domain.StateReleased, t0, true),
			outcome:    ProtectedRemote,
			state:      domain.StateReleased,
			writeLocal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decide(tt.local, tt.remote, defaultOptions())
			if err != nil {
				t.Fatalf("Decide returned error: %v", err)
			}
			if got.Outcome != tt.outcome {
				t.Fatalf("outcome = %s, want %s", got.Outcome, tt.outcome)
			}
			if got.Article.Header.State != tt.state {
				t.Fatalf("state = %s, want %s", got.Article.Header.State, tt.state)
			}
			if got.WriteLocal != tt.writeLocal || got.WriteRemote != tt.writeRemote {
				t.Fatalf("writes = local:%v remote:%v, want local:%v remote:%v",
					got.WriteLocal, got.WriteRemote, tt.writeLocal, tt.writeRemote)
			}
		})
	}
}

func TestDecideMissingAndRefuse(t *testing.T) {
	t.Parallel()

	if _, err := Decide(nil, nil, defaultOptions()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	opts := Options{Tolerance: time.Second, Policy: PolicyRefuse}
	local := article(domain.StateAnalyzed, t0.Add(time.Hour), false)
	remote := article(domain.StateCollected, t0, false)
	if _, err := Decide(local, remote, opts); !errors.Is(err, domain.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestMergeKeepsOriginalFromBase(t *testing.T) {
	t.Parallel()

	base := article(domain.StateCollected, t0, true)
	overlay := article(domain.StateAnalyzed, t0.Add(time.Hour), false)
	overlay.Original.Title = ""
	overlay.Analysis = &domain.Analysis{ImpactScore: 7, Summary: "short"}

	merged := Merge(*base, *overlay)
	if merged.Original.Title != "Title" || merged.Original.Text != "Body" {
		t.Fatalf("original section lost: %+v", merged.Original)
	}
	if merged.Analysis == nil || merged.Analysis.ImpactScore != 7 {
		t.Fatalf("analysis not overlaid: %+v", merged.Analysis)
	}
	if merged.Header.State != domain.StateAnalyzed || !merged.Header.UpdatedAt.Equal(overlay.Header.UpdatedAt) {
		t.Fatalf("header not overlaid: %+v", merged.Header)
	}
}

func newReconciler(t *testing.T) (*Reconciler, *repository.Repository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := localcache.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	repo := repository.New(memory.New(), cache)
	return New(Deps{Repo: repo, Logger: logger, Options: defaultOptions()}), repo
}

func TestResolveMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec, repo := newReconciler(t)

	complete := article(domain.StateCollected, t0, true)
	partial := article(domain.StateAnalyzed, t0.Add(time.Hour), false)
	partial.Analysis = &domain.Analysis{ImpactScore: 7, Tags: []string{"go"}, AnalyzedAt: t0.Add(time.Hour)}

	if err := repo.SaveRemote(ctx, *complete); err != nil {
		t.Fatalf("SaveRemote: %v", err)
	}
	if err := repo.SaveLocal(ctx, *partial); err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}

	first, decision, err := rec.Resolve(ctx, complete.ID())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if decision.Outcome != FieldMerged {
		t.Fatalf("outcome = %s, want %s", decision.Outcome, FieldMerged)
	}

	second, decision, err := rec.Resolve(ctx, complete.ID())
	if err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}
	if decision.Outcome != Agreed {
		t.Fatalf("second outcome = %s, want %s", decision.Outcome, Agreed)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("merge is not idempotent (-first +second):\n%s", diff)
	}

	local, err := repo.LocalArticle(ctx, complete.ID())
	if err != nil {
		t.Fatalf("LocalArticle: %v", err)
	}
	remote, err := repo.RemoteArticle(ctx, complete.ID())
	if err != nil {
		t.Fatalf("RemoteArticle: %v", err)
	}
	if diff := cmp.Diff(local, remote); diff != "" {
		t.Fatalf("tiers diverge after merge (-local +remote):\n%s", diff)
	}
}

func TestResolveProtectedRemoteRepairsLocal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec, repo := newReconciler(t)

	remote := article(domain.StatePublished, t0, true)
	local := article(domain.StateClassified, t0.Add(time.Hour), true)
	if err := repo.SaveRemote(ctx, *remote); err != nil {
		t.Fatalf("SaveRemote: %v", err)
	}
	if err := repo.SaveLocal(ctx, *local); err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}

	got, decision, err := rec.Resolve(ctx, remote.ID())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if decision.Outcome != ProtectedRemote || got.Header.State != domain.StatePublished {
		t.Fatalf("got %s/%s, want protected PUBLISHED", decision.Outcome, got.Header.State)
	}

	repaired, err := repo.LocalArticle(ctx, remote.ID())
	if err != nil {
		t.Fatalf("LocalArticle: %v", err)
	}
	if repaired.Header.State != domain.StatePublished {
		t.Fatalf("local copy not repaired: %s", repaired.Header.State)
	}
}

func TestResolveBothIncompleteIsFlagged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec, repo := newReconciler(t)

	remote := article(domain.StateCollected, t0, false)
	local := article(domain.StateAnalyzed, t0.Add(time.Hour), false)
	if err := repo.SaveRemote(ctx, *remote); err != nil {
		t.Fatalf("SaveRemote: %v", err)
	}
	if err := repo.SaveLocal(ctx, *local); err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}

	got, decision, err := rec.Resolve(ctx, remote.ID())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if decision.Outcome != BothIncomplete || got.Header.State != domain.StateAnalyzed {
		t.Fatalf("got %s/%s", decision.Outcome, got.Header.State)
	}
	if pending := rec.PendingRepairs(); len(pending) != 1 || pending[0] != remote.ID() {
		t.Fatalf("pending repairs = %v", pending)
	}

	stored, err := repo.RemoteArticle(ctx, remote.ID())
	if err != nil {
		t.Fatalf("RemoteArticle: %v", err)
	}
	if stored.Header.State != domain.StateCollected {
		t.Fatalf("incomplete read must not write back, remote state = %s", stored.Header.State)
	}
}

func TestResolveMissing(t *testing.T) {
	t.Parallel()

	rec, _ := newReconciler(t)
	if _, _, err := rec.Resolve(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
