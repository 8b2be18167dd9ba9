package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/infrastructure/storage/localcache"
	"ArticlesPipeline/internal/infrastructure/storage/memory"
	"ArticlesPipeline/internal/reconcile"
	"ArticlesPipeline/internal/registry"
	"ArticlesPipeline/internal/repository"
	"ArticlesPipeline/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := localcache.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	repo := repository.New(memory.New(), cache)
	reconciler := reconcile.New(reconcile.Deps{Repo: repo, Logger: logger})
	reg := registry.New(registry.Deps{Repo: repo, Resolver: reconciler, Logger: logger})
	manager := usecase.NewManager(usecase.ManagerDeps{Registry: reg, Repo: repo, Logger: logger})
	return NewRouter(Deps{Manager: manager, Repairs: reconciler.PendingRepairs, Logger: logger})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "editor@test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, want, rec.Body.String())
	}
}

func TestArticleLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	expectStatus(t, do(t, r, http.MethodGet, "/health", nil), http.StatusOK)

	rec := do(t, r, http.MethodPost, "/articles", map[string]any{"url": "https://news.test/story", "title": "Story", "text": "Body"})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[struct {
		Created bool           `json:"created"`
		Article domain.Article `json:"article"`
	}](t, rec)
	id := created.Article.ID()
	if !created.Created || id == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}
	expectStatus(t, do(t, r, http.MethodPost, "/articles", map[string]any{"url": "https://news.test/story"}), http.StatusOK)

	rec = do(t, r, http.MethodPost, "/articles/"+id+"/advance", map[string]any{
		"state":    "analyzed",
		"analysis": map[string]any{"impact_score": 0.9, "summary": "s"},
	})
	expectStatus(t, rec, http.StatusOK)
	rec = do(t, r, http.MethodPost, "/articles/"+id+"/advance", map[string]any{
		"state":          "CLASSIFIED",
		"classification": map[string]any{"category": "tech", "selected": true},
	})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[domain.Article](t, rec); got.Header.State != domain.StateClassified {
		t.Fatalf("state = %s", got.Header.State)
	}
	history := decode[domain.Article](t, rec).Header.StateHistory
	if history[len(history)-1].Actor != "editor@test" {
		t.Fatalf("actor header not applied: %+v", history)
	}

	rec = do(t, r, http.MethodPost, "/editions/next/articles", map[string]any{"article_id": id, "edition_name": "Morning"})
	expectStatus(t, rec, http.StatusOK)
	edition := decode[domain.Edition](t, rec)
	if edition.Code == "" || !edition.Contains(id) {
		t.Fatalf("unexpected edition: %+v", edition)
	}

	rec = do(t, r, http.MethodGet, "/editions", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[struct {
		Count int `json:"count"`
	}](t, rec); list.Count != 1 {
		t.Fatalf("editions count = %d", list.Count)
	}

	expectStatus(t, do(t, r, http.MethodPost, "/editions/"+edition.Code+"/release", nil), http.StatusOK)
	rec = do(t, r, http.MethodGet, "/articles/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	released := decode[domain.Article](t, rec)
	if released.Header.State != domain.StatePublished || released.Publication.Status != domain.PublicationReleased {
		t.Fatalf("unexpected released article: %s %+v", released.Header.State, released.Publication)
	}

	rec = do(t, r, http.MethodGet, "/articles?state=published,classified", nil)
	expectStatus(t, rec, http.StatusOK)
	if list := decode[struct {
		Count int `json:"count"`
	}](t, rec); list.Count != 1 {
		t.Fatalf("published count = %d", list.Count)
	}

	expectStatus(t, do(t, r, http.MethodPost, "/articles/"+id+"/advance", map[string]any{"state": "COLLECTED"}), http.StatusConflict)

	expectStatus(t, do(t, r, http.MethodDelete, "/editions/"+edition.Code, nil), http.StatusNoContent)
	rec = do(t, r, http.MethodGet, "/articles/"+id, nil)
	if got := decode[domain.Article](t, rec); got.Header.State != domain.StateClassified || got.Classification == nil {
		t.Fatalf("deleted edition must return member to CLASSIFIED: %+v", got.Header)
	}
	expectStatus(t, do(t, r, http.MethodGet, "/editions/"+edition.Code, nil), http.StatusNotFound)

	rec = do(t, r, http.MethodGet, "/stats", nil)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[struct {
		Total  int            `json:"total"`
		States map[string]int `json:"states"`
	}](t, rec)
	if stats.Total != 1 || stats.States["CLASSIFIED"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing url", http.MethodPost, "/articles", map[string]any{"title": "x"}, http.StatusBadRequest},
		{"missing state filter", http.MethodGet, "/articles", nil, http.StatusBadRequest},
		{"unknown state filter", http.MethodGet, "/articles?state=archived", nil, http.StatusBadRequest},
		{"unknown article", http.MethodGet, "/articles/deadbeef", nil, http.StatusNotFound},
		{"advance unknown article", http.MethodPost, "/articles/deadbeef/advance", map[string]any{"state": "ANALYZED"}, http.StatusNotFound},
		{"advance unknown state", http.MethodPost, "/articles/deadbeef/advance", map[string]any{"state": "DONE"}, http.StatusBadRequest},
		{"release unknown edition", http.MethodPost, "/editions/991231_9/release", nil, http.StatusNotFound},
		{"ingest without pipeline", http.MethodPost, "/jobs/ingest", nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, do(t, r, tc.method, tc.path, tc.body), tc.want)
		})
	}
}
