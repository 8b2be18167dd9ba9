package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

const defaultDigestLimit = 10

// DigestDeps wires the read-only summary job.
type DigestDeps struct {
	Manager  *Manager
	Notifier ports.Notifier
	Limit    int
	Logger   *slog.Logger
}

// Digest composes a status message from the registry and sends it to the notifier.
type Digest struct {
	manager  *Manager
	notifier ports.Notifier
	limit    int
	logger   *slog.Logger
}

// NewDigest constructs the digest use case.
func NewDigest(deps DigestDeps) *Digest {
	limit := deps.Limit
	if limit <= 0 {
		limit = defaultDigestLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Digest{manager: deps.Manager, notifier: deps.Notifier, limit: limit, logger: logger}
}

// Send builds and delivers the digest. Nothing is sent when there is nothing to report.
func (d *Digest) Send(ctx context.Context) error {
	if d.notifier == nil || d.manager == nil {
		return nil
	}
	message := d.Build()
	if message == "" {
		return nil
	}
	if err := d.notifier.PublishDigest(ctx, message); err != nil {
		return fmt.Errorf("publish digest: %w", err)
	}
	d.logger.Info("digest sent", "bytes", len(message))
	return nil
}

// Build renders state counts followed by the best-scored articles waiting for curation.
func (d *Digest) Build() string {
	counts := d.manager.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("*Pipeline status*\n")
	for _, state := range domain.AllStates {
		if counts[state] == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %d\n", state, counts[state])
	}

	candidates := d.manager.FindAnalyzed()
	if len(candidates) == 0 {
		return b.String()
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return impact(candidates[i]) > impact(candidates[j])
	})
	if len(candidates) > d.limit {
		candidates = candidates[:d.limit]
	}

	b.WriteString("\n*Awaiting classification*\n")
	for _, article := range candidates {
		title := article.Original.Title
		summary := ""
		if article.Analysis != nil {
			if article.Analysis.TitleLocalized != "" {
				title = article.Analysis.TitleLocalized
			}
			summary = article.Analysis.Summary
		}
		fmt.Fprintf(&b, "- %s\nScore: %.2f\n", title, impact(article))
		if summary != "" {
			b.WriteString(summary + "\n")
		}
		b.WriteString(article.Header.URL + "\n\n")
	}
	return b.String()
}

func impact(article domain.Article) float64 {
	if article.Analysis == nil {
		return 0
	}
	return article.Analysis.ImpactScore
}
