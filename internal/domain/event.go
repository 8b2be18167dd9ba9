package domain

import "time"

// LifecycleEvent describes one committed state change.
type LifecycleEvent struct {
	ID           string    `json:"id"`
	ArticleID    string    `json:"article_id"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	Actor        string    `json:"actor"`
	EditionCode  string    `json:"edition_code,omitempty"`
	At           time.Time `json:"at"`
	Compensation bool      `json:"compensation,omitempty"`
}

// CollectedArticle is what a source yields for one discovered URL.
type CollectedArticle struct {
	URL  string
	Data OriginalData
}
