package search

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/moisson/challenge"
)

// Selectors is the data-driven extraction table for one portal's result
// markup. One table serves both extraction and pagination — the near-
// duplicate per-script selector lists of the past are consolidated here.
type Selectors struct {
	ResultItem  string `yaml:"result_item"`
	TitleLink   string `yaml:"title_link"`
	Summary     string `yaml:"summary"`
	Author      string `yaml:"author"`
	Account     string `yaml:"account"`
	PublishTime string `yaml:"publish_time"`
	ReadCount   string `yaml:"read_count"`
	// NextByNumber is a Sprintf pattern receiving the target page number.
	NextByNumber string `yaml:"next_by_number"`
	// NextGeneric selectors are tried in order after NextByNumber fails.
	NextGeneric []string `yaml:"next_generic"`
}

func (s *Selectors) defaults() {
	if s.ResultItem == "" {
		s.ResultItem = ".txt-box"
	}
	if s.TitleLink == "" {
		s.TitleLink = "h3 a"
	}
	if s.Summary == "" {
		s.Summary = ".txt-info"
	}
	if s.Author == "" {
		s.Author = ".s-p .account"
	}
	if s.Account == "" {
		s.Account = ".s-p .account"
	}
	if s.PublishTime == "" {
		s.PublishTime = ".s-p .s2"
	}
	if s.ReadCount == "" {
		s.ReadCount = ".s-p .s3"
	}
	if s.NextByNumber == "" {
		s.NextByNumber = `.pagination a[href*="page=%d"]`
	}
	if len(s.NextGeneric) == 0 {
		s.NextGeneric = []string{
			".pagination .next:not(.disabled)",
			".pagination .next-page",
			".pagination .page-next",
			"#sogou_next",
		}
	}
}

// Extract pulls all result entries out of one search-page snapshot.
// Structural extraction only: no artifact capture happens here. Entries
// missing a title link are skipped; one bad entry never fails the page.
func Extract(snap *challenge.Snapshot, sel Selectors, baseURL, sourceTag string) ([]Result, error) {
	sel.defaults()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("search: parse page: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("search: base url %q: %w", baseURL, err)
	}

	now := time.Now()
	var results []Result
	doc.Find(sel.ResultItem).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(sel.TitleLink).First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(link.Text()) == "" {
			return
		}

		results = append(results, Result{
			Title:       clean(link.Text()),
			URL:         absoluteURL(base, href),
			Summary:     clean(item.Find(sel.Summary).First().Text()),
			Author:      clean(item.Find(sel.Author).First().Text()),
			Account:     clean(item.Find(sel.Account).First().Text()),
			PublishTime: clean(item.Find(sel.PublishTime).First().Text()),
			ReadCount:   clean(item.Find(sel.ReadCount).First().Text()),
			Source:      sourceTag,
			ExtractedAt: now,
		})
	})

	return results, nil
}

// absoluteURL resolves a possibly-relative href against the portal base.
func absoluteURL(base *url.URL, href string) string {
	if strings.HasPrefix(href, "//") {
		return base.Scheme + ":" + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
