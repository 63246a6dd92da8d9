package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "file_mapping.json"))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLedger_RoundTrip(t *testing.T) {
	l := tempLedger(t)

	err := l.Record("https://mp.weixin.qq.com/s/a", Record{
		Title:    "文章A",
		PDFPath:  "pdfs/文章A.pdf",
		TextPath: "markdown/文章A.md",
		Outcome:  OutcomeCompleted,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Reopen from disk: progress must survive the process.
	reopened, err := Open(l.Path())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reopened.Completed("https://mp.weixin.qq.com/s/a") {
		t.Error("completion lost across reopen")
	}
	rec, ok := reopened.Get("https://mp.weixin.qq.com/s/a")
	if !ok || rec.Title != "文章A" || rec.Timestamp.IsZero() {
		t.Errorf("record = %+v", rec)
	}
}

func TestLedger_CompletionIsSticky(t *testing.T) {
	// WHAT: A later failure cannot downgrade a completed entry.
	l := tempLedger(t)
	url := "https://mp.weixin.qq.com/s/a"

	if err := l.Record(url, Record{Outcome: OutcomeCompleted, Title: "ok"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(url, Record{Outcome: OutcomeFailed, Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	rec, _ := l.Get(url)
	if rec.Outcome != OutcomeCompleted || rec.Title != "ok" {
		t.Errorf("record downgraded: %+v", rec)
	}
}

func TestLedger_FailureCanBecomeCompletion(t *testing.T) {
	l := tempLedger(t)
	url := "https://mp.weixin.qq.com/s/a"

	if err := l.Record(url, Record{Outcome: OutcomeFailed, Error: "transient"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(url, Record{Outcome: OutcomeCompleted}); err != nil {
		t.Fatal(err)
	}
	if !l.Completed(url) {
		t.Error("retry success not recorded")
	}
}

func TestLedger_ResumePoint(t *testing.T) {
	l := tempLedger(t)
	urls := []string{"u0", "u1", "u2", "u3"}

	if got := l.ResumePoint(urls); got != 0 {
		t.Errorf("fresh ledger resume point = %d, want 0", got)
	}

	l.Record("u0", Record{Outcome: OutcomeCompleted})
	l.Record("u1", Record{Outcome: OutcomeFailed, Error: "timeout"})
	if got := l.ResumePoint(urls); got != 1 {
		t.Errorf("resume point = %d, want 1 (failed URL is retried)", got)
	}

	for _, u := range urls {
		l.Record(u, Record{Outcome: OutcomeCompleted})
	}
	if got := l.ResumePoint(urls); got != len(urls) {
		t.Errorf("finished batch resume point = %d, want %d", got, len(urls))
	}
}

func TestLedger_MissingFileIsEmpty(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestLedger_CorruptFileFailsLoudly(t *testing.T) {
	// WHAT: A corrupt ledger must not silently restart the whole batch.
	path := filepath.Join(t.TempDir(), "file_mapping.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open succeeded on corrupt file")
	}
}

func TestLedger_Counts(t *testing.T) {
	l := tempLedger(t)
	l.Record("u1", Record{Outcome: OutcomeCompleted})
	l.Record("u2", Record{Outcome: OutcomeCompleted})
	l.Record("u3", Record{Outcome: OutcomeFailed})
	l.Record("u4", Record{Outcome: OutcomeSkipped})

	c, f, s := l.Counts()
	if c != 2 || f != 1 || s != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", c, f, s)
	}
}

func TestLedger_AtomicFlush(t *testing.T) {
	l := tempLedger(t)
	if err := l.Record("u1", Record{Outcome: OutcomeCompleted}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Dir(l.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
