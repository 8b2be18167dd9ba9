package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

const articleIDLength = 16

// CanonicalURL normalises raw so equivalent spellings of one URL map to the same id.
// Scheme and host are lower-cased and the fragment dropped; path and query are kept as-is.
func CanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return trimmed
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String()
}

// URLKey hashes the canonical URL.
func URLKey(raw string) string {
	hash := sha256.Sum256([]byte(CanonicalURL(raw)))
	return hex.EncodeToString(hash[:])
}

// ArticleID derives the immutable article identifier from its URL.
func ArticleID(raw string) string {
	return URLKey(raw)[:articleIDLength]
}
