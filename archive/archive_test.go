package archive

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/dbopen"
	"github.com/hazyhaar/moisson/search"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveResults_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	results := []search.Result{
		{URL: "https://mp.weixin.qq.com/s/a", Title: "文章A", Source: "sogou_wechat", ExtractedAt: time.Now()},
		{URL: "https://mp.weixin.qq.com/s/b", Title: "文章B", Source: "sogou_wechat", ExtractedAt: time.Now()},
	}
	if err := s.SaveResults(ctx, "golang", results); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	// Re-running the query with an updated title refreshes the row.
	results[0].Title = "文章A v2"
	if err := s.SaveResults(ctx, "golang", results); err != nil {
		t.Fatalf("SaveResults again: %v", err)
	}

	got, err := s.ResultsForQuery(ctx, "golang", 0)
	if err != nil {
		t.Fatalf("ResultsForQuery: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (upsert, not duplicate)", len(got))
	}
	titles := map[string]bool{}
	for _, r := range got {
		titles[r.Title] = true
	}
	if !titles["文章A v2"] {
		t.Errorf("updated title missing: %v", titles)
	}
}

func TestSaveDownload(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := Download{
		CanonicalURL: "https://mp.weixin.qq.com/s/a",
		Title:        "文章A",
		PDFPath:      "pdfs/文章A.pdf",
		TextPath:     "markdown/文章A.md",
		Outcome:      "completed",
		PDFBytes:     20480,
		PageCount:    3,
		WordCount:    1200,
	}
	if err := s.SaveDownload(ctx, d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	// Retry after a failure overwrites the row.
	d.Outcome = "completed"
	d.WordCount = 1250
	if err := s.SaveDownload(ctx, d); err != nil {
		t.Fatalf("SaveDownload again: %v", err)
	}

	got, err := s.Downloads(ctx, "completed", 0)
	if err != nil {
		t.Fatalf("Downloads: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].WordCount != 1250 || got[0].CapturedAt.IsZero() {
		t.Errorf("row = %+v", got[0])
	}
}

func TestSaveRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	err := s.SaveRun(ctx, Run{Query: "golang", Succeeded: 5, Failed: 1, Skipped: 3, StartedAt: started})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(ctx, Run{Query: "rust", Succeeded: 2, StartedAt: time.Now()}); err != nil {
		t.Fatalf("SaveRun again: %v", err)
	}

	runs, err := s.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].Query != "rust" {
		t.Errorf("newest first: got %q", runs[0].Query)
	}
	if runs[1].Succeeded != 5 || runs[1].Failed != 1 || runs[1].Skipped != 3 {
		t.Errorf("counts = %+v", runs[1])
	}
}

func TestDownloads_OutcomeFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.SaveDownload(ctx, Download{CanonicalURL: "u1", Outcome: "completed"})
	s.SaveDownload(ctx, Download{CanonicalURL: "u2", Outcome: "failed", Error: "challenge unresolved"})

	failed, err := s.Downloads(ctx, "failed", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Error != "challenge unresolved" {
		t.Errorf("failed = %+v", failed)
	}

	all, err := s.Downloads(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}
