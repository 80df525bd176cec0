package evidence

import (
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
)

const maxPerFeed = 20

// FeedParser pulls recent items from configured health-news feeds and
// converts them into evidence articles (no PMID, source name as journal).
type FeedParser struct {
	feeds []config.Feed
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []config.Feed) *FeedParser {
	return &FeedParser{feeds: feeds}
}

// ParseAll parses all configured feeds and returns items published
// within daysBack days. Feed failures are logged and skipped.
func (fp *FeedParser) ParseAll(daysBack int) []database.EvidenceArticle {
	cutoff := time.Now().AddDate(0, 0, -daysBack)
	var all []database.EvidenceArticle

	parser := gofeed.NewParser()
	for _, fc := range fp.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		articles, err := parseFeed(parser, fc.URL, name, cutoff)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			continue
		}
		all = append(all, articles...)
		log.Printf("Parsed %d items from %s (within %d days)", len(articles), name, daysBack)
	}

	return all
}

func parseFeed(parser *gofeed.Parser, feedURL, sourceName string, cutoff time.Time) ([]database.EvidenceArticle, error) {
	feed, err := parser.ParseURL(feedURL)
	if err != nil {
		return nil, err
	}

	var articles []database.EvidenceArticle
	for _, item := range feed.Items {
		if len(articles) >= maxPerFeed {
			break
		}

		article := parseItem(item, sourceName)
		if article == nil {
			continue
		}
		if withinWindow(item, cutoff) {
			articles = append(articles, *article)
		}
	}

	return articles, nil
}

func parseItem(item *gofeed.Item, source string) *database.EvidenceArticle {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var year string
	if item.PublishedParsed != nil {
		year = item.PublishedParsed.Format("2006")
	} else if item.UpdatedParsed != nil {
		year = item.UpdatedParsed.Format("2006")
	}

	var summary string
	if item.Content != "" {
		summary = stripHTML(item.Content)
	} else if item.Description != "" {
		summary = stripHTML(item.Description)
	}

	return &database.EvidenceArticle{
		Title:    title,
		Abstract: strPtr(summary),
		Journal:  strPtr(source),
		Year:     strPtr(year),
		URL:      itemURL,
	}
}

func withinWindow(item *gofeed.Item, cutoff time.Time) bool {
	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}
	if published == nil {
		return true // benefit of the doubt
	}
	return !published.Before(cutoff)
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
