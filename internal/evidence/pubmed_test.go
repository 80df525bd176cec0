package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const efetchXML = `<?xml version="1.0" ?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>12345678</PMID>
      <Article>
        <Journal>
          <JournalIssue><PubDate><Year>2022</Year></PubDate></JournalIssue>
          <Title>The Lancet</Title>
        </Journal>
        <ArticleTitle>Walking after meals and glycemic control</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Postprandial walking is understudied.</AbstractText>
          <AbstractText Label="RESULTS">Two minutes lowered spikes by 30%.</AbstractText>
        </Abstract>
        <AuthorList>
          <Author><LastName>Tan</LastName><ForeName>Mei</ForeName></Author>
          <Author><LastName>Lee</LastName><ForeName>Wei</ForeName></Author>
        </AuthorList>
        <PublicationTypeList>
          <PublicationType>Randomized Controlled Trial</PublicationType>
        </PublicationTypeList>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>87654321</PMID>
      <Article>
        <ArticleTitle>Sleep and metabolic health</ArticleTitle>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func testPubMed(baseURL string) *PubMedClient {
	return &PubMedClient{
		baseURL: baseURL,
		email:   "test@example.com",
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func TestSearch(t *testing.T) {
	var gotTerm, gotSort string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/esearch.fcgi" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotTerm = r.URL.Query().Get("term")
		gotSort = r.URL.Query().Get("sort")
		fmt.Fprint(w, `{"esearchresult": {"idlist": ["111", "222"]}}`)
	}))
	defer server.Close()

	pmids, err := testPubMed(server.URL).Search(context.Background(), "40-49 years old diabetes", 5, 2015)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(pmids) != 2 || pmids[0] != "111" {
		t.Errorf("expected [111 222], got %v", pmids)
	}
	if !strings.Contains(gotTerm, "40-49 years old diabetes") || !strings.Contains(gotTerm, "2015:3000[dp]") {
		t.Errorf("expected query with date filter, got %q", gotTerm)
	}
	if gotSort != "relevance" {
		t.Errorf("expected relevance sort, got %q", gotSort)
	}
}

func TestSearchNoMinYear(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("term"), "[dp]") {
			t.Error("expected no date filter without min year")
		}
		fmt.Fprint(w, `{"esearchresult": {"idlist": []}}`)
	}))
	defer server.Close()

	pmids, err := testPubMed(server.URL).Search(context.Background(), "sleep", 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(pmids) != 0 {
		t.Errorf("expected no results, got %v", pmids)
	}
}

func TestSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := testPubMed(server.URL).Search(context.Background(), "sleep", 5, 0); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestFetchArticles(t *testing.T) {
	var gotIDs string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/efetch.fcgi" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotIDs = r.URL.Query().Get("id")
		fmt.Fprint(w, efetchXML)
	}))
	defer server.Close()

	articles, err := testPubMed(server.URL).FetchArticles(context.Background(), []string{"12345678", "87654321"})
	if err != nil {
		t.Fatalf("FetchArticles: %v", err)
	}
	if gotIDs != "12345678,87654321" {
		t.Errorf("expected comma-joined ids, got %q", gotIDs)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}

	a := articles[0]
	if a.PMID == nil || *a.PMID != "12345678" {
		t.Errorf("unexpected pmid %v", a.PMID)
	}
	if a.Title != "Walking after meals and glycemic control" {
		t.Errorf("unexpected title %q", a.Title)
	}
	wantAbstract := "BACKGROUND: Postprandial walking is understudied. RESULTS: Two minutes lowered spikes by 30%."
	if a.Abstract == nil || *a.Abstract != wantAbstract {
		t.Errorf("unexpected abstract %v", a.Abstract)
	}
	if a.Authors == nil || *a.Authors != "Mei Tan, Wei Lee" {
		t.Errorf("unexpected authors %v", a.Authors)
	}
	if a.Journal == nil || *a.Journal != "The Lancet" {
		t.Errorf("unexpected journal %v", a.Journal)
	}
	if a.Year == nil || *a.Year != "2022" {
		t.Errorf("unexpected year %v", a.Year)
	}
	if a.PubTypes == nil || *a.PubTypes != "Randomized Controlled Trial" {
		t.Errorf("unexpected publication types %v", a.PubTypes)
	}
	if a.URL != "https://pubmed.ncbi.nlm.nih.gov/12345678/" {
		t.Errorf("unexpected url %q", a.URL)
	}

	// The second article has no abstract, authors or journal.
	b := articles[1]
	if b.Abstract != nil || b.Authors != nil || b.Journal != nil {
		t.Errorf("expected nil optional fields, got %+v", b)
	}
}

func TestFetchArticlesNoPMIDs(t *testing.T) {
	client := testPubMed("http://127.0.0.1:1") // would fail if contacted
	articles, err := client.FetchArticles(context.Background(), nil)
	if err != nil || articles != nil {
		t.Errorf("expected nil, nil for empty pmid list, got %v, %v", articles, err)
	}
}

func TestSearchAndFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"esearchresult": {"idlist": ["12345678", "87654321"]}}`)
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, efetchXML)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	articles, err := testPubMed(server.URL).SearchAndFetch(context.Background(), "walking glucose", 5, 2015)
	if err != nil {
		t.Fatalf("SearchAndFetch: %v", err)
	}
	if len(articles) != 2 {
		t.Errorf("expected 2 articles, got %d", len(articles))
	}
}

func TestAPIKeyForwarded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "secret" {
			t.Error("expected api_key param")
		}
		fmt.Fprint(w, `{"esearchresult": {"idlist": []}}`)
	}))
	defer server.Close()

	client := testPubMed(server.URL)
	client.apiKey = "secret"
	if _, err := client.Search(context.Background(), "sleep", 5, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
}
