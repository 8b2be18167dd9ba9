package sqlstore

import (
	"context"
	"errors"
	"testing"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSetGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)

	if _, err := store.Get(ctx, "articles", "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "articles", "a1", []byte(`{"header":{"state":"COLLECTED"}}`)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := store.Set(ctx, "articles", "a1", []byte(`{"header":{"state":"ANALYZED"}}`)); err != nil {
		t.Fatalf("second Set returned error: %v", err)
	}

	doc, err := store.Get(ctx, "articles", "a1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(doc) != `{"header":{"state":"ANALYZED"}}` {
		t.Fatalf("unexpected body: %s", doc)
	}

	if err := store.Delete(ctx, "articles", "a1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Get(ctx, "articles", "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreQueryAndUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)

	docs := map[string]string{
		"a1": `{"header":{"state":"COLLECTED"}}`,
		"a2": `{"header":{"state":"ANALYZED"}}`,
		"a3": `{"header":{"state":"ANALYZED"}}`,
	}
	for id, body := range docs {
		if err := store.Set(ctx, "articles", id, []byte(body)); err != nil {
			t.Fatalf("Set %s: %v", id, err)
		}
	}
	if err := store.Set(ctx, "editions", "a2", []byte(`{"header":{"state":"ANALYZED"}}`)); err != nil {
		t.Fatalf("Set edition: %v", err)
	}

	found, err := store.Query(ctx, "articles", ports.Filter{Path: "header.state", Value: domain.StateAnalyzed})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 analyzed docs, got %d", len(found))
	}

	if err := store.Update(ctx, "articles", "a1", map[string]any{"header.state": "ANALYZED"}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	found, err = store.Query(ctx, "articles", ports.Filter{Path: "header.state", Value: "ANALYZED"})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 analyzed docs after update, got %d", len(found))
	}

	if err := store.Update(ctx, "articles", "missing", map[string]any{"x": 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing update, got %v", err)
	}
	if _, err := store.Query(ctx, "articles", ports.Filter{Path: "header.state'); --", Value: "x"}); err == nil {
		t.Fatal("expected invalid path error")
	}
}
