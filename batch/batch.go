// Package batch drives the per-URL download loop: resume filtering against
// the progress ledger, bounded retries on transient failures, outcome
// recording, and the final summary.
//
// One entry's failure never stops the batch; only a dead session does.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hazyhaar/moisson/archive"
	"github.com/hazyhaar/moisson/capture"
	"github.com/hazyhaar/moisson/ledger"
	"github.com/hazyhaar/moisson/search"
)

// Downloader runs the capture pipeline for one URL. *capture.Capturer
// satisfies it.
type Downloader interface {
	Run(ctx context.Context, page capture.Page, rawURL, title string) (*capture.Artifact, error)
}

// Config configures a Runner.
type Config struct {
	// MaxRetries bounds transient-failure retries per entry. Default: 2.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the initial wait before a retry, doubled each
	// attempt. Default: 2s.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// EntryDelayMin/Max bound the randomized pause between entries.
	EntryDelayMin time.Duration `yaml:"entry_delay_min"`
	EntryDelayMax time.Duration `yaml:"entry_delay_max"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.EntryDelayMax < c.EntryDelayMin {
		c.EntryDelayMax = c.EntryDelayMin
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Summary tallies one batch run.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Runner downloads a slice of search results through one session.
type Runner struct {
	cfg Config
	dl  Downloader
	led *ledger.Ledger
	arc *archive.Store // optional
	rng *rand.Rand
}

// NewRunner creates a Runner. The archive store may be nil.
func NewRunner(dl Downloader, led *ledger.Ledger, arc *archive.Store, cfg Config) *Runner {
	cfg.defaults()
	return &Runner{
		cfg: cfg,
		dl:  dl,
		led: led,
		arc: arc,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run processes results in order on the given page. URLs the ledger
// already marks completed are skipped without touching the network.
// Cancellation stops between entries; the entry in flight is abandoned
// without a ledger write.
func (r *Runner) Run(ctx context.Context, page capture.Page, results []search.Result) (Summary, error) {
	log := r.cfg.Logger
	var sum Summary

	for i, res := range results {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		key := search.CanonicalURL(res.URL)
		if r.led.Completed(key) {
			sum.Skipped++
			log.Debug("batch: already completed, skipping", "url", key)
			continue
		}

		artifact, err := r.attempt(ctx, page, res)
		switch {
		case err == nil:
			r.record(ctx, key, res, artifact, nil)
			sum.Succeeded++
		case ctx.Err() != nil:
			// The caller's context died, not the entry. Per-navigation
			// timeouts carry the same sentinel but never trip this branch.
			return sum, ctx.Err()
		case classify(err) == kindFatal:
			log.Error("batch: aborting", "url", key, "error", err)
			return sum, &ErrSessionFatal{Cause: err}
		default:
			log.Warn("batch: entry failed", "url", key, "error", err)
			r.record(ctx, key, res, nil, err)
			sum.Failed++
		}

		if i < len(results)-1 {
			if err := r.pause(ctx); err != nil {
				return sum, err
			}
		}
	}

	log.Info("batch: run complete",
		"succeeded", sum.Succeeded, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

// attempt runs the capture pipeline with bounded retries on transient
// failures. Quality and challenge failures are final for the entry;
// exhausted retries come back wrapped in *ErrTransient.
func (r *Runner) attempt(ctx context.Context, page capture.Page, res search.Result) (*capture.Artifact, error) {
	backoff := r.cfg.RetryBackoff

	for try := 0; ; try++ {
		artifact, err := r.dl.Run(ctx, page, res.URL, res.Title)
		if err == nil {
			return artifact, nil
		}
		if classify(err) != kindTransient {
			return nil, err
		}
		if try == r.cfg.MaxRetries {
			return nil, &ErrTransient{URL: res.URL, Cause: err}
		}

		r.cfg.Logger.Info("batch: retrying after transient failure",
			"url", res.URL, "attempt", try+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// record writes the entry's outcome to the ledger and the archive. A write
// failure loses resume state for this entry but never stops the batch; the
// entry will simply be re-attempted on the next run.
func (r *Runner) record(ctx context.Context, key string, res search.Result, artifact *capture.Artifact, cause error) {
	rec := ledger.Record{Title: res.Title}
	arc := archive.Download{CanonicalURL: key, Title: res.Title}

	if artifact != nil {
		rec.Outcome = ledger.OutcomeCompleted
		rec.PDFPath = artifact.PDFPath
		rec.TextPath = artifact.TextPath
		arc.Outcome = string(ledger.OutcomeCompleted)
		arc.PDFPath = artifact.PDFPath
		arc.TextPath = artifact.TextPath
		arc.PDFBytes = artifact.Quality.PDFBytes
		arc.PageCount = artifact.Quality.PageCount
		arc.WordCount = artifact.Quality.WordCount
	} else {
		rec.Outcome = ledger.OutcomeFailed
		rec.Error = cause.Error()
		arc.Outcome = string(ledger.OutcomeFailed)
		arc.Error = cause.Error()
	}

	if err := r.led.Record(key, rec); err != nil {
		perr := &ErrPersistence{Cause: fmt.Errorf("ledger write for %s: %w", key, err)}
		r.cfg.Logger.Error("batch: progress not recorded", "url", key, "error", perr)
	}
	if r.arc != nil {
		if err := r.arc.SaveDownload(ctx, arc); err != nil {
			r.cfg.Logger.Warn("batch: archive write failed", "url", key, "error", err)
		}
	}
}

func (r *Runner) pause(ctx context.Context) error {
	delay := r.cfg.EntryDelayMin
	if span := r.cfg.EntryDelayMax - r.cfg.EntryDelayMin; span > 0 {
		delay += time.Duration(r.rng.Int63n(int64(span)))
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
