// Package reconcile resolves divergent local and remote copies of one article.
package reconcile

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"ArticlesPipeline/internal/domain"
)

// Outcome names the branch that produced a Decision.
type Outcome string

const (
	LocalOnly       Outcome = "local_only"
	RemoteOnly      Outcome = "remote_only"
	Agreed          Outcome = "agreed"
	LocalCanonical  Outcome = "local_canonical"
	RemoteCanonical Outcome = "remote_canonical"
	ProtectedRemote Outcome = "protected_remote"
	FieldMerged     Outcome = "field_merged"
	BothIncomplete  Outcome = "both_incomplete"
)

// IncompletePolicy selects what happens when neither copy carries the original content.
type IncompletePolicy string

const (
	// PolicyNewest returns the newer copy and flags the id for repair.
	PolicyNewest IncompletePolicy = "newest"
	// PolicyRefuse fails the read with domain.ErrIncomplete.
	PolicyRefuse IncompletePolicy = "refuse"
)

// ParsePolicy resolves a policy name; empty means PolicyNewest.
func ParsePolicy(value string) (IncompletePolicy, error) {
	switch IncompletePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyNewest:
		return PolicyNewest, nil
	case PolicyRefuse:
		return PolicyRefuse, nil
	default:
		return "", fmt.Errorf("unknown incomplete policy %q", value)
	}
}

// Options tune Decide.
type Options struct {
	// Tolerance is the largest updated_at difference treated as the same write.
	Tolerance time.Duration
	Policy    IncompletePolicy
}

// Decision is the canonical record plus the tiers that must be rewritten to match it.
type Decision struct {
	Article     domain.Article
	Outcome     Outcome
	WriteLocal  bool
	WriteRemote bool
}

// Decide picks the canonical copy. Either argument may be nil; both nil yields domain.ErrNotFound.
func Decide(local, remote *domain.Article, opts Options) (Decision, error) {
	switch {
	case local == nil && remote == nil:
		return Decision{}, domain.ErrNotFound
	case remote == nil:
		return Decision{Article: local.Clone(), Outcome: LocalOnly}, nil
	case local == nil:
		return Decision{Article: remote.Clone(), Outcome: RemoteOnly}, nil
	}

	remoteState := remote.Header.State
	localState := local.Header.State
	if domain.IsProtected(remoteState) && !domain.IsProtected(localState) {
		return Decision{Article: remote.Clone(), Outcome: ProtectedRemote, WriteLocal: true}, nil
	}

	diff := local.Header.UpdatedAt.Sub(remote.Header.UpdatedAt)
	localNewer := diff > opts.Tolerance
	differs := localState != remoteState || abs(diff) > opts.Tolerance

	newer, older := remote, local
	if localNewer {
		newer, older = local, remote
	}

	switch {
	case newer.IsComplete():
		if !differs {
			return Decision{Article: newer.Clone(), Outcome: Agreed}, nil
		}
		if localNewer {
			return Decision{Article: local.Clone(), Outcome: LocalCanonical, WriteRemote: true}, nil
		}
		return Decision{Article: remote.Clone(), Outcome: RemoteCanonical, WriteLocal: true}, nil

	case older.IsComplete():
		merged := Merge(*older, *newer)
		return Decision{Article: merged, Outcome: FieldMerged, WriteLocal: true, WriteRemote: true}, nil

	default:
		if opts.Policy == PolicyRefuse {
			return Decision{}, fmt.Errorf("article %s: %w", newer.ID(), domain.ErrIncomplete)
		}
		return Decision{Article: newer.Clone(), Outcome: BothIncomplete}, nil
	}
}

// Merge overlays every non-empty field of overlay onto base. The original section always comes
// from base.
func Merge(base, overlay domain.Article) domain.Article {
	out := base.Clone()
	src := overlay.Clone()

	h := &out.Header
	if src.Header.ArticleID != "" {
		h.ArticleID = src.Header.ArticleID
	}
	if src.Header.State != "" {
		h.State = src.Header.State
	}
	if h.CreatedAt.IsZero() || (!src.Header.CreatedAt.IsZero() && src.Header.CreatedAt.Before(h.CreatedAt)) {
		h.CreatedAt = src.Header.CreatedAt
	}
	if src.Header.UpdatedAt.After(h.UpdatedAt) {
		h.UpdatedAt = src.Header.UpdatedAt
	}
	h.StateHistory = mergeHistory(h.StateHistory, src.Header.StateHistory)
	overlayString(&h.URL, src.Header.URL)
	overlayString(&h.SourceID, src.Header.SourceID)

	if src.Analysis != nil {
		if out.Analysis == nil {
			out.Analysis = &domain.Analysis{}
		}
		a := out.Analysis
		overlayString(&a.TitleLocalized, src.Analysis.TitleLocalized)
		overlayString(&a.Summary, src.Analysis.Summary)
		if len(src.Analysis.Tags) > 0 {
			a.Tags = src.Analysis.Tags
		}
		if src.Analysis.ImpactScore != 0 {
			a.ImpactScore = src.Analysis.ImpactScore
		}
		if src.Analysis.ConfidenceScore != 0 {
			a.ConfidenceScore = src.Analysis.ConfidenceScore
		}
		if len(src.Analysis.RawAnalysis) > 0 {
			a.RawAnalysis = src.Analysis.RawAnalysis
		}
		overlayTime(&a.AnalyzedAt, src.Analysis.AnalyzedAt)
	}

	if src.Classification != nil {
		if out.Classification == nil {
			out.Classification = &domain.Classification{}
		}
		c := out.Classification
		overlayString(&c.Category, src.Classification.Category)
		c.Selected = c.Selected || src.Classification.Selected
		overlayTime(&c.ClassifiedAt, src.Classification.ClassifiedAt)
		overlayString(&c.ClassifiedBy, src.Classification.ClassifiedBy)
	}

	if src.Publication != nil {
		if out.Publication == nil {
			out.Publication = &domain.Publication{}
		}
		p := out.Publication
		overlayString(&p.EditionCode, src.Publication.EditionCode)
		overlayString(&p.EditionName, src.Publication.EditionName)
		overlayTime(&p.PublishedAt, src.Publication.PublishedAt)
		if src.Publication.Status != "" {
			p.Status = src.Publication.Status
		}
	}

	if src.Rejection != nil {
		if out.Rejection == nil {
			out.Rejection = &domain.Rejection{}
		}
		r := out.Rejection
		overlayString(&r.Reason, src.Rejection.Reason)
		overlayTime(&r.RejectedAt, src.Rejection.RejectedAt)
		overlayString(&r.RejectedBy, src.Rejection.RejectedBy)
	}

	return out
}

// mergeHistory unions two append-only logs ordered by time.
func mergeHistory(a, b []domain.StateChange) []domain.StateChange {
	if len(b) == 0 {
		return a
	}
	out := slices.Clone(a)
	for _, change := range b {
		if !slices.ContainsFunc(out, func(existing domain.StateChange) bool {
			return existing.State == change.State && existing.Actor == change.Actor && existing.At.Equal(change.At)
		}) {
			out = append(out, change)
		}
	}
	slices.SortStableFunc(out, func(x, y domain.StateChange) int {
		return x.At.Compare(y.At)
	})
	return out
}

func overlayString(dst *string, src string) {
	if strings.TrimSpace(src) != "" {
		*dst = src
	}
}

func overlayTime(dst *time.Time, src time.Time) {
	if !src.IsZero() {
		*dst = src
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
