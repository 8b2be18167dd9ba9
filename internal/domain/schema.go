package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSchemaVersion is written by EncodeArticle.
const CurrentSchemaVersion = 2

// Schema v1 kept url and source under "original" and named the history "history".
type headerV1 struct {
	ArticleID string        `json:"article_id"`
	State     State         `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	History   []StateChange `json:"history"`
}

type originalV1 struct {
	Original
	URL string `json:"url"`
}

type storedArticle struct {
	SchemaVersion  int             `json:"schema_version"`
	Header         json.RawMessage `json:"header"`
	Original       json.RawMessage `json:"original"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Publication    *Publication    `json:"publication,omitempty"`
	Rejection      *Rejection      `json:"rejection,omitempty"`
}

type currentArticle struct {
	SchemaVersion int `json:"schema_version"`
	Article
}

// EncodeArticle serialises article in the current schema.
func EncodeArticle(article Article) ([]byte, error) {
	raw, err := json.Marshal(currentArticle{SchemaVersion: CurrentSchemaVersion, Article: article})
	if err != nil {
		return nil, fmt.Errorf("encode article %s: %w", article.ID(), err)
	}
	return raw, nil
}

// DecodeArticle normalises any supported stored revision into the in-memory shape.
func DecodeArticle(raw []byte) (Article, error) {
	var stored storedArticle
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Article{}, fmt.Errorf("decode article: %w", err)
	}

	var (
		article Article
		err     error
	)
	switch stored.SchemaVersion {
	case 0, 1:
		article, err = decodeV1(stored)
	case 2:
		article, err = decodeV2(stored)
	default:
		return Article{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, stored.SchemaVersion)
	}
	if err != nil {
		return Article{}, err
	}

	article.Analysis = stored.Analysis
	article.Classification = stored.Classification
	article.Publication = stored.Publication
	article.Rejection = stored.Rejection

	if article.Header.ArticleID == "" && article.Header.URL != "" {
		article.Header.ArticleID = ArticleID(article.Header.URL)
	}
	if article.Header.ArticleID == "" {
		return Article{}, fmt.Errorf("decode article: missing article_id")
	}
	if article.Header.State == "" {
		article.Header.State = StateCollected
	}
	if !article.Header.State.Valid() {
		return Article{}, fmt.Errorf("decode article %s: unknown state %q", article.Header.ArticleID, article.Header.State)
	}
	return article, nil
}

func decodeV1(stored storedArticle) (Article, error) {
	var header headerV1
	if err := unmarshalSection(stored.Header, &header); err != nil {
		return Article{}, fmt.Errorf("decode v1 header: %w", err)
	}
	var original originalV1
	if err := unmarshalSection(stored.Original, &original); err != nil {
		return Article{}, fmt.Errorf("decode v1 original: %w", err)
	}
	return Article{
		Header: Header{
			ArticleID:    header.ArticleID,
			State:        header.State,
			CreatedAt:    header.CreatedAt,
			UpdatedAt:    header.UpdatedAt,
			StateHistory: header.History,
			URL:          original.URL,
			SourceID:     original.SourceID,
		},
		Original: original.Original,
	}, nil
}

func decodeV2(stored storedArticle) (Article, error) {
	var article Article
	if err := unmarshalSection(stored.Header, &article.Header); err != nil {
		return Article{}, fmt.Errorf("decode header: %w", err)
	}
	if err := unmarshalSection(stored.Original, &article.Original); err != nil {
		return Article{}, fmt.Errorf("decode original: %w", err)
	}
	if article.Header.SourceID == "" {
		article.Header.SourceID = article.Original.SourceID
	}
	return article, nil
}

func unmarshalSection(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, target)
}
