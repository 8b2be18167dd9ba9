package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/scanner"
)

const arxivBaseURL = "https://arxiv.org"

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivScanner crawls arxiv listing pages and keeps the entries dated on the requested day.
type ArxivScanner struct {
	client   *http.Client
	baseURL  string
	pageSize int
}

var _ scanner.Scanner = (*ArxivScanner)(nil)

// NewArxivScanner wires an HTTP client; pageSize defaults to 200.
func NewArxivScanner(client *http.Client) *ArxivScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ArxivScanner{client: client, baseURL: arxivBaseURL, pageSize: 200}
}

// Name identifies the strategy inside the registry.
func (a *ArxivScanner) Name() string {
	return "arxiv"
}

// Scan pages through each category until entries older than req.Day appear.
func (a *ArxivScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.CollectedArticle, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no categories provided for site %s", req.SiteName)
	}

	targetDay := req.Day.UTC().Truncate(24 * time.Hour)
	var results []domain.CollectedArticle
	seen := map[string]struct{}{}

	for _, cat := range req.Categories {
		for skip := 0; ; skip += a.pageSize {
			pageURL, err := buildPageURL(cat.URL, skip, a.pageSize)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat.Name, err)
			}
			doc, err := a.fetchDocument(ctx, pageURL)
			if err != nil {
				return nil, fmt.Errorf("category %s: %w", cat.Name, err)
			}

			page, more := a.extractEntries(doc, targetDay, sourceName(req.SiteName, cat.Name))
			for _, item := range page {
				if _, ok := seen[item.URL]; ok {
					continue
				}
				seen[item.URL] = struct{}{}
				results = append(results, item)
			}
			if !more {
				break
			}
		}
	}
	return results, nil
}

func (a *ArxivScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// extractEntries returns entries of targetDay and whether the next page may hold more.
func (a *ArxivScanner) extractEntries(doc *goquery.Document, targetDay time.Time, source string) ([]domain.CollectedArticle, bool) {
	var (
		collected []domain.CollectedArticle
		more      = true
		processed int
	)

	doc.Find("dl > dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		processed++
		item, ok := a.parseEntry(dt, dt.Next(), source)
		if !ok {
			return true
		}
		day := item.Data.PublishedAt.Truncate(24 * time.Hour)
		switch {
		case day.Equal(targetDay):
			collected = append(collected, item)
		case day.Before(targetDay):
			more = false
			return false
		}
		return true
	})

	if processed < a.pageSize {
		more = false
	}
	return collected, more
}

func (a *ArxivScanner) parseEntry(dt, dd *goquery.Selection, source string) (domain.CollectedArticle, bool) {
	link := dt.Find(`a[href*="/abs/"]`).First()
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return domain.CollectedArticle{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(a.baseURL, "/") + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))

	abstract := strings.TrimSpace(dd.Find("p.mathjax").First().Text())
	abstract = strings.TrimSpace(strings.TrimPrefix(abstract, "Abstract:"))

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}
	published, err := time.Parse("2 Jan 2006", dateExpr.FindString(dateText))
	if err != nil {
		return domain.CollectedArticle{}, false
	}

	return domain.CollectedArticle{
		URL: href,
		Data: domain.OriginalData{
			Title:       title,
			Text:        abstract,
			Description: strings.TrimSpace(link.Text()),
			PublishedAt: &published,
			SourceID:    source,
		},
	}, true
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid category url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
