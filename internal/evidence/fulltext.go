package evidence

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/geniehealth/dyk/internal/database"
)

// Abstracts pulled from article pages are capped so prompt blocks stay
// a manageable size.
const maxFullTextChars = 2000

// FullTextFetcher fills missing abstracts via HTTP + readability
// extraction. A domain that fails once is skipped for the rest of the
// fetcher's lifetime.
type FullTextFetcher struct {
	client        *http.Client
	failedDomains map[string]struct{}
}

// NewFullTextFetcher creates a new full-text fetcher.
func NewFullTextFetcher(timeout time.Duration) *FullTextFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &FullTextFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		failedDomains: make(map[string]struct{}),
	}
}

// Enrich fetches page text for articles that have no abstract yet.
// Returns the number of articles enriched.
func (f *FullTextFetcher) Enrich(articles []database.EvidenceArticle) int {
	enriched := 0
	for i := range articles {
		if articles[i].Abstract != nil && *articles[i].Abstract != "" {
			continue
		}
		if articles[i].URL == "" {
			continue
		}

		text := f.fetch(articles[i].URL)
		if text == "" {
			continue
		}
		articles[i].Abstract = &text
		enriched++
	}
	if enriched > 0 {
		log.Printf("Enriched %d articles with page text", enriched)
	}
	return enriched
}

func (f *FullTextFetcher) fetch(articleURL string) string {
	u, _ := url.Parse(articleURL)
	domain := ""
	if u != nil {
		domain = strings.ToLower(u.Host)
	}
	if _, failed := f.failedDomains[domain]; failed {
		return ""
	}

	req, err := http.NewRequest(http.MethodGet, articleURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "dyk/1.0 (health insight research)")

	resp, err := f.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if domain != "" {
			f.failedDomains[domain] = struct{}{}
			log.Printf("HTTP %d for %s, skipping remaining from %s", resp.StatusCode, articleURL, domain)
		}
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	page, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return ""
	}

	text := strings.TrimSpace(page.TextContent)
	if len(text) < 100 {
		return ""
	}
	if len(text) > maxFullTextChars {
		text = text[:maxFullTextChars]
	}
	return text
}
