package evidence

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
)

const (
	maxQueriesPerCohort = 3
	maxAbstractInPrompt = 600
	feedWindowDays      = 30
)

// Retriever gathers evidence articles for cohorts and formats them into
// prompt grounding blocks. Everything retrieved is stored for reuse.
type Retriever struct {
	pubmed     *PubMedClient
	feeds      *FeedParser
	fulltext   *FullTextFetcher
	db         *database.DB
	maxResults int
	minYear    int
}

// NewRetriever creates a retriever from evidence config.
func NewRetriever(db *database.DB, cfg config.Evidence) *Retriever {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Retriever{
		pubmed:     NewPubMedClient(cfg),
		feeds:      NewFeedParser(cfg.Feeds),
		fulltext:   NewFullTextFetcher(0),
		db:         db,
		maxResults: maxResults,
		minYear:    cfg.MinYear,
	}
}

// RetrieveForCohort searches PubMed with up to three cohort-derived
// queries, deduplicates by PMID, and stores the results. Failed queries
// are logged and skipped.
func (r *Retriever) RetrieveForCohort(ctx context.Context, cohort config.Cohort, domains []config.HealthDomain) ([]database.EvidenceArticle, error) {
	queries := buildQueries(cohort, domains)

	seen := make(map[string]struct{})
	var unique []database.EvidenceArticle
	for _, query := range queries {
		articles, err := r.pubmed.SearchAndFetch(ctx, query, r.maxResults, r.minYear)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("Evidence query %q failed: %v", query, err)
			continue
		}
		for _, a := range articles {
			if a.PMID == nil {
				continue
			}
			if _, dup := seen[*a.PMID]; dup {
				continue
			}
			seen[*a.PMID] = struct{}{}
			q := query
			a.Query = &q
			unique = append(unique, a)
		}
	}

	if len(unique) > r.maxResults {
		unique = unique[:r.maxResults]
	}
	r.store(unique)
	return unique, nil
}

// RetrieveAll gathers evidence for every cohort and returns prompt
// blocks keyed by cohort ID. Cohorts with no evidence get no entry.
func (r *Retriever) RetrieveAll(ctx context.Context, cohorts []config.Cohort, domains []config.HealthDomain) map[string]string {
	blocks := make(map[string]string, len(cohorts))
	for _, cohort := range cohorts {
		articles, err := r.RetrieveForCohort(ctx, cohort, domains)
		if err != nil {
			log.Printf("Evidence retrieval failed for %s: %v", cohort.Name, err)
			break
		}
		if len(articles) == 0 {
			continue
		}
		blocks[cohort.ID] = PromptBlock(articles)
		log.Printf("Evidence: %d articles for %s", len(articles), cohort.Name)
	}
	return blocks
}

// RetrieveQuery runs one ad-hoc PubMed query and stores the results.
func (r *Retriever) RetrieveQuery(ctx context.Context, query string) ([]database.EvidenceArticle, error) {
	articles, err := r.pubmed.SearchAndFetch(ctx, query, r.maxResults, r.minYear)
	if err != nil {
		return nil, err
	}
	for i := range articles {
		articles[i].Query = &query
	}
	r.store(articles)
	return articles, nil
}

// WatchFeeds pulls the configured health-news feeds, fills missing
// summaries with extracted page text, and stores the items. Returns the
// number of newly stored articles.
func (r *Retriever) WatchFeeds() int {
	articles := r.feeds.ParseAll(feedWindowDays)
	r.fulltext.Enrich(articles)

	stored := 0
	for i := range articles {
		id, err := r.db.InsertEvidenceArticle(&articles[i])
		if err != nil {
			log.Printf("Error storing feed article: %v", err)
			continue
		}
		if id > 0 {
			stored++
		}
	}
	log.Printf("Feed watch complete: %d items, %d new", len(articles), stored)
	return stored
}

func (r *Retriever) store(articles []database.EvidenceArticle) {
	if r.db == nil {
		return
	}
	for i := range articles {
		if _, err := r.db.InsertEvidenceArticle(&articles[i]); err != nil {
			log.Printf("Error storing evidence article: %v", err)
		}
	}
}

// buildQueries derives up to three PubMed queries from the cohort's
// demographic dimensions and the health domains most relevant to it.
func buildQueries(cohort config.Cohort, domains []config.HealthDomain) []string {
	demographic := demographicTerms(cohort)

	var queries []string
	for _, d := range rankDomains(cohort, domains) {
		if len(queries) == maxQueriesPerCohort {
			break
		}
		name := strings.ReplaceAll(d.Name, "_", " ")
		queries = append(queries, strings.TrimSpace(demographic+" "+name))
	}
	if len(queries) == 0 && demographic != "" {
		queries = append(queries, demographic+" health risk")
	}
	return queries
}

func demographicTerms(cohort config.Cohort) string {
	var parts []string
	if age := cohort.Dimensions["age_range"]; age != "" {
		parts = append(parts, age+" years old")
	}
	if gender := cohort.Dimensions["gender"]; gender != "" && gender != "all" {
		parts = append(parts, gender)
	}
	if len(parts) == 0 {
		parts = append(parts, strings.ReplaceAll(cohort.Name, "_", " "))
	}
	return strings.Join(parts, " ")
}

// rankDomains orders domains by keyword overlap with the cohort's
// description, risk factors and insight angles, keeping config order
// among ties.
func rankDomains(cohort config.Cohort, domains []config.HealthDomain) []config.HealthDomain {
	text := strings.ToLower(strings.Join([]string{
		cohort.Description,
		cohort.Dimensions["risk_factors"],
		cohort.Dimensions["lifestyle"],
		strings.Join(cohort.InsightAngles, " "),
	}, " "))

	scores := make([]int, len(domains))
	for i, d := range domains {
		if strings.Contains(text, strings.ReplaceAll(strings.ToLower(d.Name), "_", " ")) {
			scores[i] += 2
		}
		for _, sub := range d.Subcategories {
			if strings.Contains(text, strings.ToLower(sub)) {
				scores[i]++
			}
		}
	}

	ranked := make([]config.HealthDomain, len(domains))
	copy(ranked, domains)
	order := make([]int, len(domains))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	for i, idx := range order {
		ranked[i] = domains[idx]
	}
	return ranked
}

// PromptBlock formats articles into the grounding block inserted into
// generation prompts.
func PromptBlock(articles []database.EvidenceArticle) string {
	if len(articles) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("EVIDENCE SOURCES (ground insights in these where relevant):")
	for i, a := range articles {
		fmt.Fprintf(&b, "\n\nEVIDENCE SOURCE %d:\nTitle: %s", i+1, a.Title)
		if authors := firstAuthors(a.Authors, 3); authors != "" {
			fmt.Fprintf(&b, "\nAuthors: %s", authors)
		}
		if a.Journal != nil && *a.Journal != "" {
			fmt.Fprintf(&b, "\nJournal: %s", *a.Journal)
			if a.Year != nil && *a.Year != "" {
				fmt.Fprintf(&b, " (%s)", *a.Year)
			}
		}
		if a.PMID != nil {
			fmt.Fprintf(&b, "\nPMID: %s", *a.PMID)
		}
		fmt.Fprintf(&b, "\nURL: %s", a.URL)
		if a.Abstract != nil && *a.Abstract != "" {
			fmt.Fprintf(&b, "\nAbstract: %s", truncate(*a.Abstract, maxAbstractInPrompt))
		}
	}
	return b.String()
}

func firstAuthors(joined *string, n int) string {
	if joined == nil || *joined == "" {
		return ""
	}
	names := strings.Split(*joined, ", ")
	if len(names) <= n {
		return strings.Join(names, ", ")
	}
	return strings.Join(names[:n], ", ") + " et al."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
