// Package search drives the portal search loop: render a query, survive
// challenge interstitials, extract result entries page by page, advance
// through pagination, and deduplicate by canonical URL.
package search

import (
	"time"

	"github.com/PuerkitoBio/purell"
)

// Result is one search entry. Identity is the canonical URL. Results are
// never mutated after extraction.
type Result struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary,omitempty"`
	Author      string    `json:"author,omitempty"`
	Account     string    `json:"account,omitempty"`
	PublishTime string    `json:"publish_time,omitempty"`
	ReadCount   string    `json:"read_count,omitempty"` // platform-specific units, kept verbatim
	Source      string    `json:"source"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// CanonicalURL normalizes a URL for use as a dedup and ledger key: scheme and
// host lowercased, default port and fragment dropped, dot segments removed,
// duplicate slashes collapsed. Falls back to the raw string when the URL
// does not parse — an unparseable URL still deserves a stable key.
func CanonicalURL(raw string) string {
	normalized, err := purell.NormalizeURLString(raw,
		purell.FlagsUsuallySafeGreedy|purell.FlagRemoveFragment|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return raw
	}
	return normalized
}

// Dedupe collapses duplicate results by canonical URL, keeping the first
// occurrence and preserving first-seen order. Pure: the input is not
// modified.
func Dedupe(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	unique := make([]Result, 0, len(results))
	for _, r := range results {
		key := CanonicalURL(r.URL)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}
