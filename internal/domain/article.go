package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Article is the unit tracked through the pipeline. Sections are owned by different stages.
type Article struct {
	Header         Header          `json:"header"`
	Original       Original        `json:"original"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Publication    *Publication    `json:"publication,omitempty"`
	Rejection      *Rejection      `json:"rejection,omitempty"`
}

// Header carries identity and lifecycle bookkeeping.
type Header struct {
	ArticleID    string        `json:"article_id"`
	State        State         `json:"state"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StateHistory []StateChange `json:"state_history,omitempty"`
	URL          string        `json:"url,omitempty"`
	SourceID     string        `json:"source_id,omitempty"`
}

// StateChange is one entry of the append-only state history.
type StateChange struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor"`
}

// Original is the content captured by the collector.
type Original struct {
	Title       string     `json:"title,omitempty"`
	Text        string     `json:"text,omitempty"`
	Image       string     `json:"image,omitempty"`
	Description string     `json:"description,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SourceID    string     `json:"source_id,omitempty"`
	CapturedAt  time.Time  `json:"captured_at"`
}

// Analysis is written by the scoring stage.
type Analysis struct {
	TitleLocalized  string         `json:"title_localized,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	ImpactScore     float64        `json:"impact_score"`
	ConfidenceScore float64        `json:"confidence_score"`
	RawAnalysis     map[string]any `json:"raw_analysis,omitempty"`
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}

// Classification is written by curation.
type Classification struct {
	Category     string    `json:"category,omitempty"`
	Selected     bool      `json:"selected"`
	ClassifiedAt time.Time `json:"classified_at"`
	ClassifiedBy string    `json:"classified_by,omitempty"`
}

// PublicationStatus tracks visibility of a published article.
type PublicationStatus string

const (
	PublicationPreview  PublicationStatus = "preview"
	PublicationReleased PublicationStatus = "released"
)

// Publication exists once an article is attached to an edition.
type Publication struct {
	EditionCode string            `json:"edition_code"`
	EditionName string            `json:"edition_name,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
	Status      PublicationStatus `json:"status"`
}

// Rejection exists once an article is discarded.
type Rejection struct {
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
	RejectedBy string    `json:"rejected_by,omitempty"`
}

// ID returns the article identifier.
func (a Article) ID() string {
	return a.Header.ArticleID
}

// IsComplete reports whether the irrecoverable crawl result is present.
func (a Article) IsComplete() bool {
	o := a.Original
	return strings.TrimSpace(o.Text) != "" || strings.TrimSpace(o.Title) != ""
}

// CaptureDate is the day used to place the article in the local cache.
func (a Article) CaptureDate() time.Time {
	switch {
	case !a.Original.CapturedAt.IsZero():
		return a.Original.CapturedAt
	case !a.Header.CreatedAt.IsZero():
		return a.Header.CreatedAt
	default:
		return a.Header.UpdatedAt
	}
}

// EditionCode returns the edition the article is attached to, if any.
func (a Article) EditionCode() string {
	if a.Publication == nil {
		return ""
	}
	return a.Publication.EditionCode
}

// AppendHistory moves the article to state and records who did it.
func (a *Article) AppendHistory(state State, actor string, at time.Time) {
	a.Header.State = state
	a.Header.UpdatedAt = at
	a.Header.StateHistory = append(a.Header.StateHistory, StateChange{State: state, At: at, Actor: actor})
}

// Clone returns a deep copy safe to mutate.
func (a Article) Clone() Article {
	out := a
	out.Header.StateHistory = slices.Clone(a.Header.StateHistory)
	if a.Original.PublishedAt != nil {
		t := *a.Original.PublishedAt
		out.Original.PublishedAt = &t
	}
	if a.Analysis != nil {
		analysis := *a.Analysis
		analysis.Tags = slices.Clone(a.Analysis.Tags)
		analysis.RawAnalysis = maps.Clone(a.Analysis.RawAnalysis)
		out.Analysis = &analysis
	}
	if a.Classification != nil {
		classification := *a.Classification
		out.Classification = &classification
	}
	if a.Publication != nil {
		publication := *a.Publication
		out.Publication = &publication
	}
	if a.Rejection != nil {
		rejection := *a.Rejection
		out.Rejection = &rejection
	}
	return out
}

// OriginalData is what a collector hands over for a newly discovered URL.
type OriginalData struct {
	Title       string
	Text        string
	Image       string
	Description string
	PublishedAt *time.Time
	SourceID    string
}

// NewArticle builds a COLLECTED article for url.
func NewArticle(url string, data OriginalData, actor string, now time.Time) Article {
	now = now.UTC()
	article := Article{
		Header: Header{
			ArticleID: ArticleID(url),
			CreatedAt: now,
			URL:       strings.TrimSpace(url),
			SourceID:  data.SourceID,
		},
		Original: Original{
			Title:       data.Title,
			Text:        data.Text,
			Image:       data.Image,
			Description: data.Description,
			PublishedAt: data.PublishedAt,
			SourceID:    data.SourceID,
			CapturedAt:  now,
		},
	}
	article.AppendHistory(StateCollected, actor, now)
	return article
}
