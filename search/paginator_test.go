package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/moisson/challenge"
)

// fakePortal serves scripted search pages and honors pagination clicks the
// way the real portal does.
type fakePortal struct {
	pages      []string // HTML per page, 0-indexed
	challenged bool     // first snapshot shows a captcha until reloaded
	cur        int
	url        string
	reloads    int
}

func (f *fakePortal) Navigate(ctx context.Context, pageURL string) error {
	f.url = pageURL
	if m := pageNumRe.FindStringSubmatch(pageURL); m != nil {
		n, _ := strconv.Atoi(m[1])
		f.cur = n - 1 // beyond the last page serves an empty shell
		return nil
	}
	f.cur = 0
	return nil
}

var pageNumRe = regexp.MustCompile(`page=(\d+)`)

func (f *fakePortal) Snapshot(ctx context.Context) (*challenge.Snapshot, error) {
	if f.challenged {
		return &challenge.Snapshot{
			URL:   "https://weixin.sogou.com/antispider",
			Title: "验证码",
			HTML:  `<html><body><div class="captcha"></div></body></html>`,
		}, nil
	}
	html := "<html><body></body></html>"
	if f.cur >= 0 && f.cur < len(f.pages) {
		html = f.pages[f.cur]
	}
	return &challenge.Snapshot{
		URL:   f.currentURL(),
		Title: "结果",
		HTML:  html,
	}, nil
}

func (f *fakePortal) Click(ctx context.Context, selector string) error {
	if f.cur < 0 || f.cur >= len(f.pages) {
		return errors.New("nothing to click")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.pages[f.cur]))
	if err != nil {
		return err
	}
	node := doc.Find(selector).First()
	if node.Length() == 0 {
		return fmt.Errorf("no element for %q", selector)
	}
	href, _ := node.Attr("href")
	return f.Navigate(ctx, "https://weixin.sogou.com"+href)
}

func (f *fakePortal) Reload(ctx context.Context) error {
	f.reloads++
	f.challenged = false // the "human" solved it during the reload wait
	return nil
}

func (f *fakePortal) currentURL() string {
	if f.url != "" {
		return f.url
	}
	return "https://weixin.sogou.com/weixin?type=2&query=go"
}

// resultsPage builds a search page with n entries starting at id, and a
// pagination link to targetPage when it is > 0.
func resultsPage(n, startID, targetPage int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		id := startID + i
		fmt.Fprintf(&b, `<div class="txt-box">
			<h3><a href="/link?url=art%d">文章标题 %d</a></h3>
			<p class="txt-info">这是一段足够长的摘要文本，描述了文章的主要内容与要点，供搜索结果展示使用。</p>
			<div class="s-p"><a class="account">公众号%d</a><span class="s2">2026-08-20</span><span class="s3">阅读 1万+</span></div>
		</div>`, id, id, id)
	}
	if targetPage > 0 {
		fmt.Fprintf(&b, `<div class="pagination"><a href="/weixin?type=2&query=go&page=%d">%d</a></div>`, targetPage, targetPage)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testPaginator(deadline time.Duration) *Paginator {
	det := challenge.NewDetector(challenge.Config{})
	w := challenge.NewWaiter(det, challenge.WaiterConfig{
		Interval:        20 * time.Millisecond,
		RemediationWait: 10 * time.Millisecond,
	})
	return NewPaginator(det, w, Config{VerifyDeadline: deadline})
}

func TestSearch_TwoPages(t *testing.T) {
	// WHAT: Two pages of 10 and 7 distinct entries yield 17 raw results,
	// and still 17 after dedup.
	portal := &fakePortal{pages: []string{
		resultsPage(10, 0, 2),
		resultsPage(7, 10, 0),
	}}

	p := testPaginator(0)
	results, err := p.Search(context.Background(), portal, "go", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 17 {
		t.Fatalf("raw results = %d, want 17", len(results))
	}
	if got := Dedupe(results); len(got) != 17 {
		t.Fatalf("deduped = %d, want 17", len(got))
	}

	// Ordering: page 1 entries precede page 2 entries.
	if results[0].Title != "文章标题 0" || results[10].Title != "文章标题 10" {
		t.Errorf("ordering broken: first=%q, eleventh=%q", results[0].Title, results[10].Title)
	}
}

func TestSearch_StopsWhenNoNextPage(t *testing.T) {
	// WHAT: Unbounded search ends when every advance strategy fails.
	portal := &fakePortal{pages: []string{resultsPage(3, 0, 0)}}

	p := testPaginator(0)
	results, err := p.Search(context.Background(), portal, "go", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// URL rewriting always "advances"; the empty page past the last one is
	// what ends the run.
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
}

func TestSearch_ChallengeResolvedThenContinues(t *testing.T) {
	// WHAT: A challenged search page suspends in the Waiter and resumes
	// extraction after resolution.
	portal := &fakePortal{
		pages:      []string{resultsPage(5, 0, 0)},
		challenged: true,
	}

	p := testPaginator(2 * time.Second)
	results, err := p.Search(context.Background(), portal, "go", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	if portal.reloads == 0 {
		t.Error("waiter never attempted remediation")
	}
}

func TestSearch_VerifyTimeoutAborts(t *testing.T) {
	portal := &fakePortal{
		pages:      []string{resultsPage(5, 0, 0)},
		challenged: true,
	}
	// Reload must not resolve the challenge this time.
	portal.pages[0] = `<html><body><div class="captcha"></div></body></html>`

	det := challenge.NewDetector(challenge.Config{})
	w := challenge.NewWaiter(det, challenge.WaiterConfig{
		Interval:        20 * time.Millisecond,
		RemediationWait: 10 * time.Millisecond,
	})
	p := NewPaginator(det, w, Config{VerifyDeadline: 150 * time.Millisecond})

	_, err := p.Search(context.Background(), portal, "go", 1)
	if !errors.Is(err, ErrVerifyTimeout) {
		t.Fatalf("err = %v, want ErrVerifyTimeout", err)
	}
}
