package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ArticlesPipeline/internal/scanner"
)

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	u, err := buildPageURL("https://export.arxiv.org/list/cs.AI/pastweek", 200, 100)
	if err != nil {
		t.Fatalf("buildPageURL returned error: %v", err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if parsed.Host != "export.arxiv.org" {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}
	q := parsed.Query()
	if q.Get("skip") != "200" || q.Get("show") != "100" {
		t.Fatalf("unexpected query: %s", parsed.RawQuery)
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	html := `
	<dl>
	  <dt><span class="list-identifier"><a href="/abs/1234.56789">arXiv:1234.56789</a></span></dt>
	  <dd>
	    <div class="list-date">Date: 8 Nov 2025</div>
	    <div class="list-title mathjax">Title: Sample Title</div>
	    <p class="mathjax">Abstract: Sample abstract text.</p>
	  </dd>
	</dl>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	sc := NewArxivScanner(nil)
	item, ok := sc.parseEntry(doc.Find("dt").First(), doc.Find("dd").First(), "arxiv-ai/cs.AI")
	if !ok {
		t.Fatal("entry not parsed")
	}
	if item.URL != "https://arxiv.org/abs/1234.56789" {
		t.Fatalf("unexpected url: %s", item.URL)
	}
	if item.Data.Title != "Sample Title" || item.Data.Text != "Sample abstract text." {
		t.Fatalf("unexpected content: %+v", item.Data)
	}
	if item.Data.SourceID != "arxiv-ai/cs.AI" {
		t.Fatalf("unexpected source: %s", item.Data.SourceID)
	}
	if got := item.Data.PublishedAt.Format(time.DateOnly); got != "2025-11-08" {
		t.Fatalf("unexpected published date: %s", got)
	}
}

func TestArxivScannerScan(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
		<dl>
		  <dt><span class="list-identifier"><a href="/abs/2501.00001">arXiv:2501.00001</a></span></dt>
		  <dd>
		    <div class="list-date">Date: 8 Nov 2025</div>
		    <div class="list-title mathjax">Title: Fresh Article</div>
		    <p class="mathjax">Abstract: brand new.</p>
		  </dd>
		  <dt><span class="list-identifier"><a href="/abs/2501.00002">arXiv:2501.00002</a></span></dt>
		  <dd>
		    <div class="list-date">Date: 7 Nov 2025</div>
		    <div class="list-title mathjax">Title: Old Article</div>
		    <p class="mathjax">Abstract: older.</p>
		  </dd>
		</dl>`))
	}))
	defer server.Close()

	sc := NewArxivScanner(server.Client())
	sc.pageSize = 10

	items, err := sc.Scan(context.Background(), scanner.Request{
		Day:        time.Date(2025, time.November, 8, 15, 0, 0, 0, time.UTC),
		SiteName:   "arxiv-ai",
		Categories: []scanner.Category{{Name: "cs.AI", URL: server.URL + "/list/cs.AI"}},
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 article, got %d", len(items))
	}
	if items[0].URL != "https://arxiv.org/abs/2501.00001" {
		t.Fatalf("unexpected url: %s", items[0].URL)
	}
	if items[0].Data.Text != "brand new." {
		t.Fatalf("unexpected abstract: %s", items[0].Data.Text)
	}
}
