// Package evidence retrieves scientific literature to ground insight
// generation, from PubMed and configured health-news feeds.
package evidence

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
)

const pubmedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// NCBI etiquette: 3 requests/second without an API key, 10 with one.
const (
	delayWithoutKey = 340 * time.Millisecond
	delayWithKey    = 110 * time.Millisecond
)

// PubMedClient talks to the NCBI E-utilities API.
type PubMedClient struct {
	baseURL string
	email   string
	apiKey  string
	delay   time.Duration
	client  *http.Client
}

// NewPubMedClient creates a PubMed client from evidence config. The API
// key is read from the configured environment variable; with a key NCBI
// allows a higher request rate.
func NewPubMedClient(cfg config.Evidence) *PubMedClient {
	email := cfg.Email
	if email == "" {
		email = "researcher@example.com"
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	delay := delayWithoutKey
	if apiKey != "" {
		delay = delayWithKey
	}
	return &PubMedClient{
		baseURL: pubmedBaseURL,
		email:   email,
		apiKey:  apiKey,
		delay:   delay,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Search queries PubMed and returns matching PMIDs sorted by relevance.
// minYear > 0 restricts results to publications from that year onward.
func (c *PubMedClient) Search(ctx context.Context, query string, maxResults, minYear int) ([]string, error) {
	term := query
	if minYear > 0 {
		term += fmt.Sprintf(" AND %d:3000[dp]", minYear)
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("retmode", "json")
	params.Set("email", c.email)
	params.Set("sort", "relevance")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	body, err := c.get(ctx, "/esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("searching pubmed: %w", err)
	}

	var parsed struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing esearch response: %w", err)
	}
	return parsed.Result.IDList, nil
}

// FetchArticles fetches titles, abstracts and metadata for the given PMIDs.
func (c *PubMedClient) FetchArticles(ctx context.Context, pmids []string) ([]database.EvidenceArticle, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")
	params.Set("email", c.email)
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	body, err := c.get(ctx, "/efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("fetching abstracts: %w", err)
	}
	return parseArticleSet(body)
}

// SearchAndFetch searches and fetches abstracts in one call.
func (c *PubMedClient) SearchAndFetch(ctx context.Context, query string, maxResults, minYear int) ([]database.EvidenceArticle, error) {
	pmids, err := c.Search(ctx, query, maxResults, minYear)
	if err != nil {
		return nil, err
	}
	return c.FetchArticles(ctx, pmids)
}

func (c *PubMedClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubmed %s returned %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	PMID     string         `xml:"MedlineCitation>PMID"`
	Title    string         `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract []abstractText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	Authors  []pubmedAuthor `xml:"MedlineCitation>Article>AuthorList>Author"`
	Journal  string         `xml:"MedlineCitation>Article>Journal>Title"`
	Year     string         `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
	PubTypes []string       `xml:"MedlineCitation>Article>PublicationTypeList>PublicationType"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type pubmedAuthor struct {
	LastName string `xml:"LastName"`
	ForeName string `xml:"ForeName"`
}

func parseArticleSet(data []byte) ([]database.EvidenceArticle, error) {
	var set pubmedArticleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing efetch response: %w", err)
	}

	articles := make([]database.EvidenceArticle, 0, len(set.Articles))
	for _, a := range set.Articles {
		articles = append(articles, database.EvidenceArticle{
			PMID:     strPtr(a.PMID),
			Title:    strings.TrimSpace(a.Title),
			Abstract: strPtr(joinAbstract(a.Abstract)),
			Authors:  strPtr(joinAuthors(a.Authors)),
			Journal:  strPtr(strings.TrimSpace(a.Journal)),
			Year:     strPtr(a.Year),
			PubTypes: strPtr(strings.Join(a.PubTypes, ", ")),
			URL:      fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", a.PMID),
		})
	}
	return articles, nil
}

// joinAbstract flattens structured abstracts, keeping section labels
// ("BACKGROUND: ... METHODS: ...").
func joinAbstract(parts []abstractText) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if p.Label != "" {
			texts = append(texts, p.Label+": "+text)
		} else {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, " ")
}

func joinAuthors(authors []pubmedAuthor) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.LastName == "" {
			continue
		}
		name := a.LastName
		if a.ForeName != "" {
			name = a.ForeName + " " + a.LastName
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
