package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/scanner"
)

const (
	feedWorkerCount     = 5
	defaultLookback     = 24 * time.Hour
	optionFullText      = "fullText"
	optionMaxItems      = "maxItems"
	optionLookbackHours = "lookbackHours"
)

// FeedScanner collects RSS/Atom items, optionally enriching each one with the readable page text.
type FeedScanner struct {
	parser    *gofeed.Parser
	extractor Extractor
	logger    *slog.Logger
}

var _ scanner.Scanner = (*FeedScanner)(nil)

// NewFeedScanner builds the "rss" strategy. extractor may be nil when full text is never requested.
func NewFeedScanner(client *http.Client, extractor Extractor, logger *slog.Logger) *FeedScanner {
	p := gofeed.NewParser()
	p.UserAgent = userAgent
	if client != nil {
		p.Client = client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedScanner{parser: p, extractor: extractor, logger: logger}
}

// Name identifies the strategy inside the registry.
func (f *FeedScanner) Name() string {
	return "rss"
}

// Scan reads every category feed and keeps items published inside the lookback window ending with req.Day.
// Undated items are always kept; the lifecycle deduplicates by URL.
func (f *FeedScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.CollectedArticle, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no feeds provided for site %s", req.SiteName)
	}

	lookback := defaultLookback
	if v := req.Options[optionLookbackHours]; v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			lookback = time.Duration(hours) * time.Hour
		}
	}
	maxItems := 0
	if v := req.Options[optionMaxItems]; v != "" {
		maxItems, _ = strconv.Atoi(v)
	}
	windowEnd := req.Day.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	windowStart := windowEnd.Add(-lookback - 24*time.Hour)

	var results []domain.CollectedArticle
	seen := map[string]struct{}{}
	for _, cat := range req.Categories {
		feed, err := f.parser.ParseURLWithContext(cat.URL, ctx)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", cat.Name, err)
		}

		taken := 0
		for _, item := range feed.Items {
			if maxItems > 0 && taken >= maxItems {
				break
			}
			link := strings.TrimSpace(item.Link)
			if link == "" {
				continue
			}
			published := itemTime(item)
			if published != nil && (published.Before(windowStart) || !published.Before(windowEnd)) {
				continue
			}
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			taken++
			results = append(results, toCollected(item, link, published, sourceName(req.SiteName, cat.Name)))
		}
	}

	if enabled, _ := strconv.ParseBool(req.Options[optionFullText]); enabled && f.extractor != nil {
		f.enrich(ctx, results)
	}
	return results, nil
}

// enrich replaces feed snippets with the extracted page text using a small worker pool.
// Extraction failures keep the feed text.
func (f *FeedScanner) enrich(ctx context.Context, items []domain.CollectedArticle) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < feedWorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				extracted, err := f.extractor.Extract(ctx, items[i].URL)
				if err != nil {
					f.logger.Warn("extract article text", "url", items[i].URL, "error", err)
					continue
				}
				if extracted.Text != "" {
					items[i].Data.Text = extracted.Text
				}
				if items[i].Data.Image == "" {
					items[i].Data.Image = extracted.Image
				}
				if items[i].Data.Description == "" {
					items[i].Data.Description = extracted.Excerpt
				}
				if items[i].Data.Title == "" {
					items[i].Data.Title = extracted.Title
				}
			}
		}()
	}

feed:
	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func toCollected(item *gofeed.Item, link string, published *time.Time, source string) domain.CollectedArticle {
	description := htmlText(item.Description)
	text := htmlText(item.Content)
	if text == "" {
		text = description
	}

	data := domain.OriginalData{
		Title:       strings.TrimSpace(item.Title),
		Text:        text,
		Description: description,
		PublishedAt: published,
		SourceID:    source,
	}
	if item.Image != nil {
		data.Image = item.Image.URL
	}
	return domain.CollectedArticle{URL: link, Data: data}
}

func itemTime(item *gofeed.Item) *time.Time {
	var t *time.Time
	switch {
	case item.PublishedParsed != nil:
		t = item.PublishedParsed
	case item.UpdatedParsed != nil:
		t = item.UpdatedParsed
	default:
		return nil
	}
	utc := t.UTC()
	return &utc
}

func sourceName(site, category string) string {
	if category == "" {
		return site
	}
	return site + "/" + category
}
