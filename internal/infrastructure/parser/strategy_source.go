package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ArticlesPipeline/internal/config"
	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
	"ArticlesPipeline/internal/scanner"
)

// StrategySource implements ArticleSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.ArticleSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, logger *slog.Logger) *StrategySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StrategySource{registry: reg, sites: sites, logger: logger}
}

// FetchDaily runs every configured site. A failing site is logged and skipped;
// the call fails only when no site could be scanned.
func (s *StrategySource) FetchDaily(ctx context.Context, day time.Time) ([]domain.CollectedArticle, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.logger.Debug("fetch daily", "sites", len(s.sites), "day", day.Format(time.DateOnly))

	var (
		aggregated []domain.CollectedArticle
		failures   []error
	)
	for _, site := range s.sites {
		items, err := s.scanSite(ctx, site, day)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("site scan failed", "site", site.Name, "scanner", site.Scanner, "error", err)
			failures = append(failures, err)
			continue
		}
		s.logger.Debug("site produced articles", "site", site.Name, "count", len(items))
		aggregated = append(aggregated, items...)
	}

	if len(s.sites) > 0 && len(failures) == len(s.sites) {
		return nil, errors.Join(failures...)
	}
	return aggregated, nil
}

func (s *StrategySource) scanSite(ctx context.Context, site config.SiteConfig, day time.Time) ([]domain.CollectedArticle, error) {
	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	items, err := strategy.Scan(ctx, scanner.Request{
		Day:        day,
		SiteName:   site.Name,
		Options:    site.Options,
		Categories: toScannerCategories(site.Categories),
	})
	if err != nil {
		return nil, fmt.Errorf("scan site %s: %w", site.Name, err)
	}
	for i := range items {
		if items[i].Data.SourceID == "" {
			items[i].Data.SourceID = site.Name
		}
	}
	return items, nil
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{Name: cat.Name, URL: cat.URL})
	}
	return categories
}
