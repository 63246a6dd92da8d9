// Package ledger records per-URL download outcomes in a JSON mapping file
// so an interrupted batch resumes where it stopped instead of re-fetching
// everything.
//
// The file doubles as the human-readable sidecar mapping artifact paths to
// their source URLs. One entry per canonical URL; completed entries are
// never attempted again.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome of one download attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Record is one URL's entry in the mapping file.
type Record struct {
	Title     string    `json:"title,omitempty"`
	PDFPath   string    `json:"pdf_path,omitempty"`
	TextPath  string    `json:"text_path,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger is a persisted URL → Record map. All mutations are serialized and
// each one rewrites the file atomically, so a crash between appends never
// corrupts it. Safe for concurrent use.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[string]Record
}

// Open loads the ledger at path, creating an empty one if the file does
// not exist. A file that exists but does not parse is an error: silently
// discarding progress would re-download everything and hammer the portal.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}
	return l, nil
}

// Path returns the mapping file path.
func (l *Ledger) Path() string { return l.path }

// Record writes one URL's outcome and persists immediately. A completed
// entry is never downgraded: recording a failure over a completion is a
// no-op, so retries cannot erase earlier success.
func (l *Ledger) Record(url string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.entries[url]; ok && prev.Outcome == OutcomeCompleted && rec.Outcome != OutcomeCompleted {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	l.entries[url] = rec
	return l.flush()
}

// Completed reports whether a URL already has a successful artifact pair.
func (l *Ledger) Completed(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.entries[url]
	return ok && rec.Outcome == OutcomeCompleted
}

// ResumePoint returns the index of the first URL in the run order that
// still needs an attempt. Failed URLs count as unattempted: a later run
// retries them. Returns len(urls) when the whole batch is done.
func (l *Ledger) ResumePoint(urls []string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, u := range urls {
		if rec, ok := l.entries[u]; !ok || rec.Outcome != OutcomeCompleted {
			return i
		}
	}
	return len(urls)
}

// Get returns a URL's record, if any.
func (l *Ledger) Get(url string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.entries[url]
	return rec, ok
}

// Len returns the number of recorded URLs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Counts tallies recorded outcomes.
func (l *Ledger) Counts() (completed, failed, skipped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.entries {
		switch rec.Outcome {
		case OutcomeCompleted:
			completed++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return
}

// flush rewrites the mapping file atomically. Caller holds l.mu.
func (l *Ledger) flush() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: create dir: %w", err)
	}

	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}
