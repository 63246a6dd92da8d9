// Package archive persists search results and download outcomes in
// SQLite, so past runs stay queryable after the artifact directories are
// shipped elsewhere.
//
// The JSON mapping file remains the resume source of truth; the archive
// is the queryable history on top of it.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/moisson/dbopen"
	"github.com/hazyhaar/moisson/search"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_results (
    canonical_url TEXT PRIMARY KEY,
    url           TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    summary       TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    account       TEXT NOT NULL DEFAULT '',
    publish_time  TEXT NOT NULL DEFAULT '',
    read_count    TEXT NOT NULL DEFAULT '',
    source        TEXT NOT NULL DEFAULT '',
    query         TEXT NOT NULL DEFAULT '',
    extracted_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_query ON search_results(query, extracted_at DESC);

CREATE TABLE IF NOT EXISTS downloads (
    canonical_url TEXT PRIMARY KEY,
    title         TEXT NOT NULL DEFAULT '',
    pdf_path      TEXT NOT NULL DEFAULT '',
    text_path     TEXT NOT NULL DEFAULT '',
    outcome       TEXT NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    pdf_bytes     INTEGER NOT NULL DEFAULT 0,
    page_count    INTEGER NOT NULL DEFAULT 0,
    word_count    INTEGER NOT NULL DEFAULT 0,
    captured_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_outcome ON downloads(outcome, captured_at DESC);

CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    query       TEXT NOT NULL DEFAULT '',
    succeeded   INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
`

// Download is one download outcome row.
type Download struct {
	CanonicalURL string
	Title        string
	PDFPath      string
	TextPath     string
	Outcome      string
	Error        string
	PDFBytes     int
	PageCount    int
	WordCount    int
	CapturedAt   time.Time
}

// Store is the SQLite archive.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the archive at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open database, applying the schema. Used by tests
// with an in-memory database.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("archive: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveResults upserts search results under the query that produced them.
// Re-running a query refreshes existing rows instead of duplicating them.
func (s *Store) SaveResults(ctx context.Context, query string, results []search.Result) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO search_results
				(canonical_url, url, title, summary, author, account, publish_time, read_count, source, query, extracted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(canonical_url) DO UPDATE SET
				url = excluded.url, title = excluded.title, summary = excluded.summary,
				author = excluded.author, account = excluded.account,
				publish_time = excluded.publish_time, read_count = excluded.read_count,
				source = excluded.source, query = excluded.query, extracted_at = excluded.extracted_at`)
		if err != nil {
			return fmt.Errorf("archive: prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range results {
			_, err := stmt.ExecContext(ctx,
				search.CanonicalURL(r.URL), r.URL, r.Title, r.Summary, r.Author, r.Account,
				r.PublishTime, r.ReadCount, r.Source, query, r.ExtractedAt.UnixMilli())
			if err != nil {
				return fmt.Errorf("archive: insert result %s: %w", r.URL, err)
			}
		}
		return nil
	})
}

// SaveDownload upserts one download outcome.
func (s *Store) SaveDownload(ctx context.Context, d Download) error {
	if d.CapturedAt.IsZero() {
		d.CapturedAt = time.Now()
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO downloads
			(canonical_url, title, pdf_path, text_path, outcome, error, pdf_bytes, page_count, word_count, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_url) DO UPDATE SET
			title = excluded.title, pdf_path = excluded.pdf_path, text_path = excluded.text_path,
			outcome = excluded.outcome, error = excluded.error, pdf_bytes = excluded.pdf_bytes,
			page_count = excluded.page_count, word_count = excluded.word_count,
			captured_at = excluded.captured_at`,
		d.CanonicalURL, d.Title, d.PDFPath, d.TextPath, d.Outcome, d.Error,
		d.PDFBytes, d.PageCount, d.WordCount, d.CapturedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("archive: save download %s: %w", d.CanonicalURL, err)
	}
	return nil
}

// Run is one batch run's summary row.
type Run struct {
	ID         int64
	Query      string
	Succeeded  int
	Failed     int
	Skipped    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// SaveRun appends one batch run summary.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO runs (query, succeeded, failed, skipped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Query, r.Succeeded, r.Failed, r.Skipped,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("archive: save run: %w", err)
	}
	return nil
}

// Runs returns past run summaries, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, succeeded, failed, skipped, started_at, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Query, &r.Succeeded, &r.Failed, &r.Skipped, &started, &finished); err != nil {
			return nil, fmt.Errorf("archive: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResultsForQuery returns stored results for a query, newest first.
func (s *Store) ResultsForQuery(ctx context.Context, query string, limit int) ([]search.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, title, summary, author, account, publish_time, read_count, source, extracted_at
		FROM search_results WHERE query = ? ORDER BY extracted_at DESC LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query results: %w", err)
	}
	defer rows.Close()

	var out []search.Result
	for rows.Next() {
		var r search.Result
		var extractedAt int64
		if err := rows.Scan(&r.URL, &r.Title, &r.Summary, &r.Author, &r.Account,
			&r.PublishTime, &r.ReadCount, &r.Source, &extractedAt); err != nil {
			return nil, fmt.Errorf("archive: scan result: %w", err)
		}
		r.ExtractedAt = time.UnixMilli(extractedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Downloads returns download rows filtered by outcome; empty outcome means
// all.
func (s *Store) Downloads(ctx context.Context, outcome string, limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT canonical_url, title, pdf_path, text_path, outcome, error, pdf_bytes, page_count, word_count, captured_at
		FROM downloads`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY captured_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query downloads: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var d Download
		var capturedAt int64
		if err := rows.Scan(&d.CanonicalURL, &d.Title, &d.PDFPath, &d.TextPath, &d.Outcome,
			&d.Error, &d.PDFBytes, &d.PageCount, &d.WordCount, &capturedAt); err != nil {
			return nil, fmt.Errorf("archive: scan download: %w", err)
		}
		d.CapturedAt = time.UnixMilli(capturedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
