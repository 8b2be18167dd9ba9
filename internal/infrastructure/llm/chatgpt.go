package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

const (
	defaultModel  = "gpt-4o-mini"
	maxPromptText = 12000
	defaultPrompt = `You score news articles for an editorial team.
Reply with a single JSON object and nothing else:
{"title_localized": string, "summary": string, "tags": [string], "impact_score": number 0..1, "confidence_score": number 0..1}`
)

// Config defines how to contact an OpenAI-compatible chat API.
type Config struct {
	BaseURL      string
	Model        string
	APIKey       string
	SystemPrompt string
	MaxRetries   int
}

type completions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ChatGPTAnalyzer implements ports.Analyzer by asking a chat model for a JSON verdict.
type ChatGPTAnalyzer struct {
	completions  completions
	model        string
	systemPrompt string
	now          func() time.Time
}

var _ ports.Analyzer = (*ChatGPTAnalyzer)(nil)

// NewChatGPTAnalyzer builds an analyzer from configuration.
func NewChatGPTAnalyzer(cfg Config) (*ChatGPTAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("new chatgpt analyzer: api key is required")
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(options...)

	return newAnalyzer(&client.Chat.Completions, cfg), nil
}

func newAnalyzer(c completions, cfg Config) *ChatGPTAnalyzer {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	prompt := strings.TrimSpace(cfg.SystemPrompt)
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &ChatGPTAnalyzer{completions: c, model: model, systemPrompt: prompt, now: time.Now}
}

// Analyze sends the captured content as the user message and parses the JSON reply.
func (a *ChatGPTAnalyzer) Analyze(ctx context.Context, article domain.Article) (domain.Analysis, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.systemPrompt),
			openai.UserMessage(userMessage(article)),
		},
		Temperature: openai.Float(0.2),
	}

	resp, err := a.completions.New(ctx, params)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return domain.Analysis{}, errors.New("chat completion returned no choices")
	}

	analysis, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.Analysis{}, err
	}
	analysis.AnalyzedAt = a.now().UTC()
	return analysis, nil
}

func userMessage(article domain.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", article.Header.URL, article.Original.Title)
	if article.Original.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", article.Original.Description)
	}
	text := article.Original.Text
	if len(text) > maxPromptText {
		text = strings.ToValidUTF8(text[:maxPromptText], "")
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

// parseVerdict accepts the JSON object even when the model wraps it in prose or code fences.
func parseVerdict(content string) (domain.Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return domain.Analysis{}, fmt.Errorf("model reply is not JSON: %q", truncateForError(content))
	}
	raw := content[start : end+1]
	if !gjson.Valid(raw) {
		return domain.Analysis{}, fmt.Errorf("model reply is not JSON: %q", truncateForError(raw))
	}

	verdict := gjson.Parse(raw)
	impact := verdict.Get("impact_score")
	if !impact.Exists() {
		return domain.Analysis{}, errors.New("model reply lacks impact_score")
	}

	var tags []string
	for _, tag := range verdict.Get("tags").Array() {
		if s := strings.TrimSpace(tag.String()); s != "" {
			tags = append(tags, s)
		}
	}

	rawMap, _ := verdict.Value().(map[string]any)
	return domain.Analysis{
		TitleLocalized:  verdict.Get("title_localized").String(),
		Summary:         verdict.Get("summary").String(),
		Tags:            tags,
		ImpactScore:     clamp(impact.Float()),
		ConfidenceScore: clamp(verdict.Get("confidence_score").Float()),
		RawAnalysis:     rawMap,
	}, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncateForError(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
