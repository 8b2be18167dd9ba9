package domain

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

const editionDateLayout = "060102"

// EditionStatus is the visibility of a whole edition.
type EditionStatus string

const (
	EditionPreview  EditionStatus = "preview"
	EditionReleased EditionStatus = "released"
)

// Edition is a sequenced batch of published articles.
type Edition struct {
	Code       string           `json:"edition_code"`
	Name       string           `json:"edition_name"`
	Status     EditionStatus    `json:"status"`
	ArticleIDs []string         `json:"article_ids"`
	Articles   []EditionArticle `json:"articles"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	ReleasedAt *time.Time       `json:"released_at,omitempty"`
}

// EditionArticle is the denormalised snapshot kept inside an edition.
type EditionArticle struct {
	ArticleID   string  `json:"article_id"`
	Title       string  `json:"title"`
	ImpactScore float64 `json:"impact_score"`
	Category    string  `json:"category,omitempty"`
}

// Meta aggregates edition summaries for cheap listing.
type Meta struct {
	Editions  []EditionSummary `json:"editions"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// EditionSummary is one Meta entry.
type EditionSummary struct {
	Code      string        `json:"edition_code"`
	Name      string        `json:"edition_name"`
	Status    EditionStatus `json:"status"`
	Count     int           `json:"count"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewEdition starts an empty preview edition.
func NewEdition(code, name string, now time.Time) Edition {
	now = now.UTC()
	if strings.TrimSpace(name) == "" {
		name = code
	}
	return Edition{
		Code:       code,
		Name:       name,
		Status:     EditionPreview,
		ArticleIDs: []string{},
		Articles:   []EditionArticle{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Snapshot builds the denormalised edition entry for article.
func Snapshot(article Article) EditionArticle {
	snap := EditionArticle{
		ArticleID: article.ID(),
		Title:     article.Original.Title,
	}
	if article.Analysis != nil {
		snap.ImpactScore = article.Analysis.ImpactScore
		if article.Analysis.TitleLocalized != "" {
			snap.Title = article.Analysis.TitleLocalized
		}
	}
	if article.Classification != nil {
		snap.Category = article.Classification.Category
	}
	return snap
}

// Contains reports whether id is a member of the edition.
func (e Edition) Contains(id string) bool {
	return slices.Contains(e.ArticleIDs, id)
}

// Append adds a member once. It reports whether the edition changed.
func (e *Edition) Append(snapshot EditionArticle, now time.Time) bool {
	if e.Contains(snapshot.ArticleID) {
		return false
	}
	e.ArticleIDs = append(e.ArticleIDs, snapshot.ArticleID)
	e.Articles = append(e.Articles, snapshot)
	e.UpdatedAt = now.UTC()
	return true
}

// Remove drops a member. It reports whether the edition changed.
func (e *Edition) Remove(id string, now time.Time) bool {
	if !e.Contains(id) {
		return false
	}
	e.ArticleIDs = slices.DeleteFunc(e.ArticleIDs, func(member string) bool { return member == id })
	e.Articles = slices.DeleteFunc(e.Articles, func(a EditionArticle) bool { return a.ArticleID == id })
	e.UpdatedAt = now.UTC()
	return true
}

// Summary projects the edition into its Meta entry.
func (e Edition) Summary() EditionSummary {
	return EditionSummary{
		Code:      e.Code,
		Name:      e.Name,
		Status:    e.Status,
		Count:     len(e.ArticleIDs),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// Find returns the summary for code.
func (m Meta) Find(code string) (EditionSummary, bool) {
	for _, summary := range m.Editions {
		if summary.Code == code {
			return summary, true
		}
	}
	return EditionSummary{}, false
}

// Upsert replaces or inserts a summary and keeps the list ordered by code.
func (m *Meta) Upsert(summary EditionSummary, now time.Time) {
	replaced := false
	for i := range m.Editions {
		if m.Editions[i].Code == summary.Code {
			m.Editions[i] = summary
			replaced = true
			break
		}
	}
	if !replaced {
		m.Editions = append(m.Editions, summary)
	}
	m.sort()
	m.UpdatedAt = now.UTC()
}

// Remove drops code from the index. It reports whether anything changed.
func (m *Meta) Remove(code string, now time.Time) bool {
	before := len(m.Editions)
	m.Editions = slices.DeleteFunc(m.Editions, func(s EditionSummary) bool { return s.Code == code })
	if len(m.Editions) == before {
		return false
	}
	m.UpdatedAt = now.UTC()
	return true
}

func (m *Meta) sort() {
	sort.SliceStable(m.Editions, func(i, j int) bool {
		return editionLess(m.Editions[i].Code, m.Editions[j].Code)
	})
}

func editionLess(a, b string) bool {
	dayA, seqA, errA := ParseEditionCode(a)
	dayB, seqB, errB := ParseEditionCode(b)
	if errA != nil || errB != nil {
		return a < b
	}
	if !dayA.Equal(dayB) {
		return dayA.Before(dayB)
	}
	return seqA < seqB
}

// EditionCode formats the code for the seq-th edition of day, e.g. 250101_1.
func EditionCode(day time.Time, seq int) string {
	return fmt.Sprintf("%s_%d", day.Format(editionDateLayout), seq)
}

// ParseEditionCode splits a code into its day and sequence number.
func ParseEditionCode(code string) (time.Time, int, error) {
	datePart, seqPart, ok := strings.Cut(strings.TrimSpace(code), "_")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("edition code %q: missing sequence", code)
	}
	day, err := time.Parse(editionDateLayout, datePart)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("edition code %q: %w", code, err)
	}
	seq, err := strconv.Atoi(seqPart)
	if err != nil || seq < 1 {
		return time.Time{}, 0, fmt.Errorf("edition code %q: bad sequence", code)
	}
	return day, seq, nil
}

// NextEditionCode returns the first free sequence for day among the known editions.
func NextEditionCode(meta Meta, day time.Time) string {
	prefix := day.Format(editionDateLayout)
	maxSeq := 0
	for _, summary := range meta.Editions {
		d, seq, err := ParseEditionCode(summary.Code)
		if err != nil || d.Format(editionDateLayout) != prefix {
			continue
		}
		maxSeq = max(maxSeq, seq)
	}
	return EditionCode(day, maxSeq+1)
}

// LaterEditions returns codes of editions on the same day as code with a higher
// sequence, in ascending order.
func LaterEditions(meta Meta, code string) []string {
	day, seq, err := ParseEditionCode(code)
	if err != nil {
		return nil
	}
	type entry struct {
		code string
		seq  int
	}
	var later []entry
	for _, summary := range meta.Editions {
		d, s, err := ParseEditionCode(summary.Code)
		if err != nil || !d.Equal(day) || s <= seq {
			continue
		}
		later = append(later, entry{code: summary.Code, seq: s})
	}
	sort.Slice(later, func(i, j int) bool { return later[i].seq < later[j].seq })

	out := make([]string, 0, len(later))
	for _, e := range later {
		out = append(out, e.code)
	}
	return out
}

// ShiftEditionCode returns code with its sequence decreased by one.
func ShiftEditionCode(code string) (string, error) {
	day, seq, err := ParseEditionCode(code)
	if err != nil {
		return "", err
	}
	if seq <= 1 {
		return "", fmt.Errorf("edition code %q cannot shift below 1", code)
	}
	return EditionCode(day, seq-1), nil
}
