package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Enricher turns an event title into a short news digest for the analysis prompt.
type Enricher struct {
	tavily     *TavilyClient
	maxResults int
}

// NewEnricher creates an enricher backed by Tavily.
func NewEnricher(tavily *TavilyClient, maxResults int) *Enricher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Enricher{tavily: tavily, maxResults: maxResults}
}

// NewsContext returns a digest of recent coverage for query. Failures are
// logged and produce an empty digest.
func (e *Enricher) NewsContext(ctx context.Context, query string) string {
	if e == nil || e.tavily == nil {
		return ""
	}

	resp, err := e.tavily.SearchNews(ctx, query, e.maxResults)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("News enrichment failed")
		return ""
	}
	if resp.Answer == "" && len(resp.Results) == 0 {
		return ""
	}

	var sb strings.Builder
	if resp.Answer != "" {
		sb.WriteString(fmt.Sprintf("Summary: %s\n\n", truncateString(resp.Answer, 500)))
	}
	for i, r := range resp.Results {
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, r.Title, extractDomain(r.URL)))
		if r.Content != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", truncateString(r.Content, 300)))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func extractDomain(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "www.")
	return strings.SplitN(url, "/", 2)[0]
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
