// Package research gathers web search evidence about a lead for the DeepResearch step.
package research

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// DefaultResultsPerQuery is how many search hits are kept per query.
const DefaultResultsPerQuery = 3

// Evidence is a single search hit.
type Evidence struct {
	Query   string `json:"query"`
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	// Source is "owned" for pages on the business's own domain and
	// "third_party" for directories, review sites and press.
	Source string `json:"source"`
}

// Evidence sources
const (
	SourceOwned      = "owned"
	SourceThirdParty = "third_party"
)

// Searcher runs a single web search query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Evidence, error)
}

// GoogleSearcher implements Searcher with Google Custom Search.
type GoogleSearcher struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleSearcher creates a Google Custom Search client for the given engine id.
func NewGoogleSearcher(ctx context.Context, apiKey string, cx string) (*GoogleSearcher, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("API key and search engine id are required")
	}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &GoogleSearcher{
		svc: svc,
		cx:  cx,
	}, nil
}

// Search implements Searcher.
func (g *GoogleSearcher) Search(ctx context.Context, query string, limit int) ([]Evidence, error) {
	if limit <= 0 {
		limit = DefaultResultsPerQuery
	}
	resp, err := g.svc.Cse.List().Cx(g.cx).Q(query).Num(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Evidence, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Evidence{
			Query:   query,
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}

// Queries returns the search queries issued for a business.
func Queries(businessName, websiteURL, niche string) []string {
	var queries []string
	if domain := ExtractDomain(websiteURL); domain != "" {
		queries = append(queries, fmt.Sprintf("site:%s services", domain))
	}
	if businessName != "" {
		queries = append(queries,
			fmt.Sprintf("%q reviews", businessName),
			fmt.Sprintf("%q %s", businessName, niche),
		)
	}
	if niche != "" {
		queries = append(queries, fmt.Sprintf("top %s competitors", niche))
	}
	return queries
}

// Collect runs every query for a business and returns deduplicated evidence.
// Failed queries are skipped; an error is returned only when every query fails.
func Collect(ctx context.Context, s Searcher, businessName, websiteURL, niche string) ([]Evidence, error) {
	queries := Queries(businessName, websiteURL, niche)
	if len(queries) == 0 {
		return nil, nil
	}

	ownDomain := ExtractDomain(websiteURL)
	seen := make(map[string]bool)
	var (
		results  []Evidence
		failures int
		lastErr  error
	)
	for _, q := range queries {
		hits, err := s.Search(ctx, q, DefaultResultsPerQuery)
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		for _, hit := range hits {
			if hit.Link == "" || seen[hit.Link] {
				continue
			}
			seen[hit.Link] = true
			if hit.Query == "" {
				hit.Query = q
			}
			hit.Source = SourceThirdParty
			if ownDomain != "" && IsFromDomain(hit.Link, ownDomain) {
				hit.Source = SourceOwned
			}
			results = append(results, hit)
		}
	}

	if failures == len(queries) {
		return nil, fmt.Errorf("all %d research queries failed: %w", failures, lastErr)
	}
	return results, nil
}

// ExtractDomain returns the host of a URL without a leading "www.".
func ExtractDomain(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	// Prepend scheme if missing
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}

	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}

// IsFromDomain checks whether a URL is on domain or one of its subdomains.
func IsFromDomain(urlStr string, domain string) bool {
	urlDomain := ExtractDomain(urlStr)
	if urlDomain == "" || domain == "" {
		return false
	}
	domain = strings.ToLower(domain)
	return urlDomain == domain || strings.HasSuffix(urlDomain, "."+domain)
}
