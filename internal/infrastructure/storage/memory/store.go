// Package memory provides an in-memory document store used for tests and ephemeral runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/infrastructure/storage/document"
	"ArticlesPipeline/internal/ports"
)

var _ ports.DocumentStore = (*Store)(nil)

// Store keeps documents per collection behind a mutex.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// New builds an empty store.
func New() *Store {
	return &Store{docs: map[string]map[string][]byte{}}
}

// Get returns a copy of the stored document.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return bytes.Clone(doc), nil
}

// Set replaces the document.
func (s *Store) Set(ctx context.Context, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !document.Valid(doc) {
		return fmt.Errorf("set %s/%s: invalid json", collection, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs[collection] == nil {
		s.docs[collection] = map[string][]byte{}
	}
	s.docs[collection][id] = bytes.Clone(doc)
	return nil
}

// Update patches field paths of an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	patched, err := document.Patch(doc, fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	s.docs[collection][id] = patched
	return nil
}

// Delete removes the document; deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs[collection], id)
	return nil
}

// Query returns matching documents ordered by id.
func (s *Store) Query(ctx context.Context, collection string, filters ...ports.Filter) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs[collection]))
	for id := range s.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out [][]byte
	for _, id := range ids {
		doc := s.docs[collection][id]
		if document.Matches(doc, filters...) {
			out = append(out, bytes.Clone(doc))
		}
	}
	return out, nil
}

// Len reports how many documents a collection holds.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}
