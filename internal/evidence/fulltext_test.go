package evidence

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/geniehealth/dyk/internal/database"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Postprandial walking</title></head>
<body>
<article>
<h1>Postprandial walking and blood sugar</h1>
<p>Short walks after meals, even of two to five minutes, have been shown to
blunt the postprandial glucose spike that follows carbohydrate-heavy food,
and the effect appears strongest when the walk starts within fifteen minutes
of finishing the meal rather than an hour later.</p>
<p>Researchers tracked continuous glucose monitor readings in office workers
over several weeks, comparing days with seated afternoons against days with
brief walking breaks, and found meaningfully flatter curves on walking days
across nearly every participant in the study group.</p>
<p>The practical takeaway for desk-bound adults is simple: standing up and
moving for a few minutes after lunch is one of the cheapest interventions
available, requiring no equipment, no gym, and no schedule change beyond a
calendar reminder.</p>
</article>
</body>
</html>`

func TestEnrichFillsMissingAbstracts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML)
	}))
	defer server.Close()

	filled := "already has one"
	articles := []database.EvidenceArticle{
		{Title: "Needs text", URL: server.URL + "/a"},
		{Title: "Has text", URL: server.URL + "/b", Abstract: &filled},
	}

	f := NewFullTextFetcher(0)
	if got := f.Enrich(articles); got != 1 {
		t.Fatalf("expected 1 article enriched, got %d", got)
	}
	if articles[0].Abstract == nil || !strings.Contains(*articles[0].Abstract, "postprandial glucose") {
		t.Errorf("expected extracted page text, got %v", articles[0].Abstract)
	}
	if *articles[1].Abstract != filled {
		t.Error("existing abstract should not be overwritten")
	}
}

func TestFetchRemembersFailedDomains(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := NewFullTextFetcher(0)
	articles := []database.EvidenceArticle{
		{Title: "First", URL: server.URL + "/one"},
		{Title: "Second", URL: server.URL + "/two"},
	}
	if got := f.Enrich(articles); got != 0 {
		t.Fatalf("expected nothing enriched, got %d", got)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected one request before the domain was skipped, got %d", got)
	}
}

func TestEnrichSkipsArticlesWithoutURL(t *testing.T) {
	f := NewFullTextFetcher(0)
	articles := []database.EvidenceArticle{{Title: "No link"}}
	if got := f.Enrich(articles); got != 0 {
		t.Errorf("expected 0 enriched, got %d", got)
	}
}
