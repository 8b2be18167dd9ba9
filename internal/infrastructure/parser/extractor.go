package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const userAgent = "ArticlesPipeline/1.0"

// Extracted is the readable part of an article page.
type Extracted struct {
	Title   string
	Text    string
	Excerpt string
	Image   string
}

// Extractor downloads a page and pulls out its readable content.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (Extracted, error)
}

// ReadabilityExtractor implements Extractor with go-readability.
type ReadabilityExtractor struct {
	client *http.Client
}

var _ Extractor = (*ReadabilityExtractor)(nil)

// NewReadabilityExtractor uses client for downloads; nil means a 30s timeout client.
func NewReadabilityExtractor(client *http.Client) *ReadabilityExtractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ReadabilityExtractor{client: client}
}

// Extract fetches pageURL and runs the readability algorithm on it.
func (e *ReadabilityExtractor) Extract(ctx context.Context, pageURL string) (Extracted, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Extracted{}, fmt.Errorf("invalid url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Extracted{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return Extracted{}, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Extracted{}, fmt.Errorf("page returned %s", resp.Status)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return Extracted{}, fmt.Errorf("readability extraction failed: %w", err)
	}

	return Extracted{
		Title:   strings.TrimSpace(article.Title),
		Text:    strings.TrimSpace(article.TextContent),
		Excerpt: strings.TrimSpace(article.Excerpt),
		Image:   article.Image,
	}, nil
}

// htmlText strips markup from a feed description.
func htmlText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" || !strings.Contains(fragment, "<") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
