package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/moisson/challenge"
)

// ErrVerifyTimeout is returned when a challenge interposed during pagination
// was not resolved within the configured deadline.
var ErrVerifyTimeout = errors.New("search: verification timed out")

// Page is the live-page surface the paginator drives. session.Session
// satisfies it.
type Page interface {
	Navigate(ctx context.Context, pageURL string) error
	Snapshot(ctx context.Context) (*challenge.Snapshot, error)
	// Click clicks the first element matching the selector; it returns an
	// error when no such element exists.
	Click(ctx context.Context, selector string) error
	Reload(ctx context.Context) error
}

// Config configures a Paginator.
type Config struct {
	// BaseURL of the search portal. Default: the Sogou WeChat portal.
	BaseURL string `yaml:"base_url"`
	// QueryTemplate renders the first search page; {query} is replaced with
	// the escaped query string.
	QueryTemplate string `yaml:"query_template"`
	// SourceTag stamped onto every extracted result.
	SourceTag string `yaml:"source_tag"`
	Selectors Selectors `yaml:"selectors"`
	// PageDelayMin/Max bound the randomized human-like pause between pages.
	PageDelayMin time.Duration `yaml:"page_delay_min"`
	PageDelayMax time.Duration `yaml:"page_delay_max"`
	// VerifyDeadline bounds each verification wait. Zero = wait forever.
	VerifyDeadline time.Duration `yaml:"verify_deadline"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://weixin.sogou.com"
	}
	if c.QueryTemplate == "" {
		c.QueryTemplate = c.BaseURL + "/weixin?type=2&query={query}"
	}
	if c.SourceTag == "" {
		c.SourceTag = "sogou_wechat"
	}
	if c.PageDelayMin < 0 {
		c.PageDelayMin = 0
	}
	if c.PageDelayMax < c.PageDelayMin {
		c.PageDelayMax = c.PageDelayMin
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Paginator retrieves raw, ordered search results across pages.
type Paginator struct {
	cfg      Config
	detector *challenge.Detector
	waiter   *challenge.Waiter
	rng      *rand.Rand
}

// NewPaginator creates a Paginator.
func NewPaginator(det *challenge.Detector, w *challenge.Waiter, cfg Config) *Paginator {
	cfg.defaults()
	return &Paginator{
		cfg:      cfg,
		detector: det,
		waiter:   w,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Search runs a query and paginates. maxPages <= 0 means unbounded: keep
// going until no further page exists. Results are raw — callers dedupe.
//
// A challenge on any page suspends the loop in the Waiter until a human
// resolves it (or the deadline passes, which aborts the run). A single
// page's extraction failure is logged and skipped; the loop continues.
func (p *Paginator) Search(ctx context.Context, page Page, query string, maxPages int) ([]Result, error) {
	log := p.cfg.Logger.With("query", query)

	searchURL := strings.ReplaceAll(p.cfg.QueryTemplate, "{query}", url.QueryEscape(query))
	if err := page.Navigate(ctx, searchURL); err != nil {
		return nil, fmt.Errorf("search: navigate %s: %w", searchURL, err)
	}

	var all []Result
	for pageNum := 1; ; pageNum++ {
		snap, err := p.clearedSnapshot(ctx, page)
		if err != nil {
			return all, err
		}

		entries, err := Extract(snap, p.cfg.Selectors, p.cfg.BaseURL, p.cfg.SourceTag)
		switch {
		case err != nil:
			log.Warn("search: page extraction failed, skipping", "page", pageNum, "error", err)
		case len(entries) == 0 && pageNum > 1:
			// An empty page past the first means we paged beyond the last
			// result. URL rewriting can always "advance", so this is the
			// stop condition for unbounded runs.
			log.Info("search: empty page, ending run", "page", pageNum)
			return all, nil
		default:
			all = append(all, entries...)
			log.Info("search: page extracted", "page", pageNum, "entries", len(entries), "total", len(all))
		}

		if maxPages > 0 && pageNum >= maxPages {
			break
		}
		if !p.advance(ctx, page, pageNum+1) {
			log.Info("search: no further page", "last_page", pageNum)
			break
		}
		if err := p.pause(ctx); err != nil {
			return all, err
		}
	}

	return all, nil
}

// clearedSnapshot snapshots the page, routing through the verification
// Waiter if a challenge is present. A challenged page is never handed to
// extraction directly.
func (p *Paginator) clearedSnapshot(ctx context.Context, page Page) (*challenge.Snapshot, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: snapshot: %w", err)
	}

	det := p.detector.Detect(snap)
	if !det.Present {
		return snap, nil
	}

	p.cfg.Logger.Info("search: challenge detected", "kind", det.Kind, "evidence", det.Evidence)
	out, err := p.waiter.Wait(ctx, page, p.cfg.VerifyDeadline)
	if err != nil {
		return nil, fmt.Errorf("search: verification wait: %w", err)
	}
	if !out.Resolved {
		return nil, fmt.Errorf("%w after %s", ErrVerifyTimeout, out.Elapsed.Round(time.Second))
	}

	snap, err = page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: snapshot after verification: %w", err)
	}
	return snap, nil
}

// advance moves to the target page number. Strategies are tried in priority
// order: click the numbered paging control, click a generic next control,
// rewrite the URL's page parameter. Returns false when every strategy fails,
// which ends the pagination run.
func (p *Paginator) advance(ctx context.Context, page Page, next int) bool {
	log := p.cfg.Logger

	sel := p.cfg.Selectors
	sel.defaults()

	byNumber := fmt.Sprintf(sel.NextByNumber, next)
	if err := page.Click(ctx, byNumber); err == nil {
		log.Debug("search: advanced via numbered control", "page", next)
		return true
	}

	for _, generic := range sel.NextGeneric {
		if err := page.Click(ctx, generic); err == nil {
			log.Debug("search: advanced via next control", "selector", generic, "page", next)
			return true
		}
	}

	snap, err := page.Snapshot(ctx)
	if err != nil {
		return false
	}
	target := rewritePageParam(snap.URL, next)
	if err := page.Navigate(ctx, target); err != nil {
		log.Debug("search: direct page navigation failed", "url", target, "error", err)
		return false
	}
	log.Debug("search: advanced via URL rewrite", "page", next)
	return true
}

var pageParamRe = regexp.MustCompile(`page=\d+`)

// rewritePageParam replaces or appends the page parameter.
func rewritePageParam(current string, next int) string {
	if pageParamRe.MatchString(current) {
		return pageParamRe.ReplaceAllString(current, fmt.Sprintf("page=%d", next))
	}
	sep := "?"
	if strings.Contains(current, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", current, sep, next)
}

// pause sleeps a randomized human-like delay between pages.
func (p *Paginator) pause(ctx context.Context) error {
	span := p.cfg.PageDelayMax - p.cfg.PageDelayMin
	delay := p.cfg.PageDelayMin
	if span > 0 {
		delay += time.Duration(p.rng.Int63n(int64(span)))
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
