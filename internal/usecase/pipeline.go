package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

// PipelineDeps wires the collector and scorer into the lifecycle.
type PipelineDeps struct {
	Source   ports.ArticleSource
	Analyzer ports.Analyzer
	Manager  *Manager
	Logger   *slog.Logger
}

// Pipeline ingests a day of articles and scores the new ones.
type Pipeline struct {
	source   ports.ArticleSource
	analyzer ports.Analyzer
	manager  *Manager
	logger   *slog.Logger
}

// IngestReport counts what one ProcessDay run did.
type IngestReport struct {
	Fetched    int
	Created    int
	Duplicates int
	Analyzed   int
	Failed     int
}

// NewPipeline constructs the ingestion use case.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:   deps.Source,
		analyzer: deps.Analyzer,
		manager:  deps.Manager,
		logger:   logger,
	}
}

// ProcessDay fetches, registers and analyses articles. A failing article is counted and skipped;
// only a failing fetch aborts the run.
func (p *Pipeline) ProcessDay(ctx context.Context, day time.Time) (IngestReport, error) {
	var report IngestReport
	if p.source == nil || p.manager == nil {
		return report, nil
	}

	collected, err := p.source.FetchDaily(ctx, day)
	if err != nil {
		return report, fmt.Errorf("fetch daily: %w", err)
	}
	report.Fetched = len(collected)

	for _, item := range collected {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		article, created, err := p.manager.Create(ctx, item.URL, item.Data)
		if err != nil {
			report.Failed++
			p.logger.Warn("create article", "url", item.URL, "error", err)
			continue
		}
		if !created {
			report.Duplicates++
			continue
		}
		report.Created++

		if p.analyzer == nil {
			continue
		}
		if err := p.analyze(ctx, article); err != nil {
			report.Failed++
			p.logger.Warn("analyze article", "article_id", article.ID(), "error", err)
			continue
		}
		report.Analyzed++
	}

	p.logger.Info("ingestion finished", "day", day.Format(time.DateOnly),
		"fetched", report.Fetched, "created", report.Created, "duplicates", report.Duplicates,
		"analyzed", report.Analyzed, "failed", report.Failed)
	return report, nil
}

// analyze moves the article through ANALYZING; a scoring failure returns it to COLLECTED.
func (p *Pipeline) analyze(ctx context.Context, article domain.Article) error {
	id := article.ID()
	if _, err := p.manager.Advance(ctx, id, domain.StateAnalyzing, ActorAnalyzer, SectionData{}); err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}

	analysis, err := p.analyzer.Analyze(ctx, article)
	if err != nil {
		if _, rerr := p.manager.Advance(ctx, id, domain.StateCollected, ActorAnalyzer, SectionData{}); rerr != nil {
			p.logger.Error("return article to collected", "article_id", id, "error", rerr)
		}
		return fmt.Errorf("score: %w", err)
	}

	if _, err := p.manager.Advance(ctx, id, domain.StateAnalyzed, ActorAnalyzer, SectionData{Analysis: &analysis}); err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}
	return nil
}
