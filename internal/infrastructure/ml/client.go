package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

const maxTextBytes = 16 << 10

// Client talks to an external scoring service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	now      func() time.Time
}

var _ ports.Analyzer = (*Client)(nil)

// NewClient creates a reusable HTTP client. A nil httpClient gets a 15s timeout.
func NewClient(endpoint, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		http:     httpClient,
		now:      time.Now,
	}
}

type analyzeRequest struct {
	ArticleID   string `json:"article_id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text"`
}

type analyzeResponse struct {
	TitleLocalized  string         `json:"title_localized"`
	Summary         string         `json:"summary"`
	Tags            []string       `json:"tags"`
	ImpactScore     float64        `json:"impact_score"`
	ConfidenceScore float64        `json:"confidence_score"`
	Raw             map[string]any `json:"raw"`
}

// Analyze posts the captured content to /analyze and maps the scores into the analysis section.
func (c *Client) Analyze(ctx context.Context, article domain.Article) (domain.Analysis, error) {
	if c.endpoint == "" {
		return domain.Analysis{}, fmt.Errorf("ml client misconfigured: empty endpoint")
	}

	payload := analyzeRequest{
		ArticleID:   article.ID(),
		URL:         article.Header.URL,
		Title:       article.Original.Title,
		Description: article.Original.Description,
		Text:        truncate(article.Original.Text, maxTextBytes),
	}

	var resp analyzeResponse
	if err := c.post(ctx, "/analyze", payload, &resp); err != nil {
		return domain.Analysis{}, err
	}
	if resp.ImpactScore < 0 || resp.ConfidenceScore < 0 {
		return domain.Analysis{}, fmt.Errorf("ml service returned negative scores")
	}

	return domain.Analysis{
		TitleLocalized:  resp.TitleLocalized,
		Summary:         resp.Summary,
		Tags:            resp.Tags,
		ImpactScore:     resp.ImpactScore,
		ConfidenceScore: resp.ConfidenceScore,
		RawAnalysis:     resp.Raw,
		AnalyzedAt:      c.now().UTC(),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes, dropping a rune split by the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
