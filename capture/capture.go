// Package capture turns a resolved article page into durable artifacts: a
// printed PDF and a markdown text rendition, both behind quality gates.
//
// The pipeline for one URL is Resolve (follow the portal's redirect chain,
// surviving challenges), Stabilize (scroll the document so lazy content
// loads), then Capture (print, validate, convert, persist). An artifact
// that fails a gate is discarded entirely: a broken PDF on disk is worse
// than a recorded failure.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/moisson/challenge"
)

// Page is the live-page surface capture drives. session.Session satisfies
// it.
type Page interface {
	Navigate(ctx context.Context, pageURL string) error
	Snapshot(ctx context.Context) (*challenge.Snapshot, error)
	Reload(ctx context.Context) error
	ScrollBy(ctx context.Context, dx, dy float64, steps int) error
	MovePointer(ctx context.Context, x, y float64) error
	ScrollHeight(ctx context.Context) (float64, error)
	PrintPDF(ctx context.Context) ([]byte, error)
}

// Artifact describes one successfully captured article.
type Artifact struct {
	Title    string  `json:"title"`
	FinalURL string  `json:"final_url"`
	PDFPath  string  `json:"pdf_path"`
	TextPath string  `json:"text_path"`
	Quality  Quality `json:"quality"`
}

// Config configures a Capturer.
type Config struct {
	// OutDir is the artifact root; PDFs land in OutDir/pdfs, markdown in
	// OutDir/markdown.
	OutDir string `yaml:"out_dir"`

	// TargetURLFragments mark a fully resolved article URL.
	TargetURLFragments []string `yaml:"target_url_fragments"`
	// ResolveInterval/ResolveTimeout bound the redirect-chain poll.
	ResolveInterval time.Duration `yaml:"resolve_interval"`
	ResolveTimeout  time.Duration `yaml:"resolve_timeout"`
	// VerifyDeadline bounds challenge waits during resolution. Zero = wait
	// forever.
	VerifyDeadline time.Duration `yaml:"verify_deadline"`

	// ScrollStep is the per-step scroll distance in pixels during
	// stabilization.
	ScrollStep float64 `yaml:"scroll_step"`
	// ScrollDelayMin/Max bound the randomized pause between scroll steps.
	ScrollDelayMin time.Duration `yaml:"scroll_delay_min"`
	ScrollDelayMax time.Duration `yaml:"scroll_delay_max"`
	// SettleWait is the final pause after scrolling back to the top.
	SettleWait time.Duration `yaml:"settle_wait"`

	// Quality gates.
	MinPDFBytes       int     `yaml:"min_pdf_bytes"`
	MinPrintableRatio float64 `yaml:"min_printable_ratio"`
	MinWordlikeRatio  float64 `yaml:"min_wordlike_ratio"`
	MinTextWords      int     `yaml:"min_text_words"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.OutDir == "" {
		c.OutDir = "downloads"
	}
	if len(c.TargetURLFragments) == 0 {
		c.TargetURLFragments = []string{"mp.weixin.qq.com"}
	}
	if c.ResolveInterval <= 0 {
		c.ResolveInterval = 500 * time.Millisecond
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 15 * time.Second
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = 600
	}
	if c.ScrollDelayMin <= 0 {
		c.ScrollDelayMin = 300 * time.Millisecond
	}
	if c.ScrollDelayMax < c.ScrollDelayMin {
		c.ScrollDelayMax = c.ScrollDelayMin + 500*time.Millisecond
	}
	if c.SettleWait <= 0 {
		c.SettleWait = 2 * time.Second
	}
	if c.MinPDFBytes <= 0 {
		c.MinPDFBytes = 1024
	}
	if c.MinPrintableRatio <= 0 {
		c.MinPrintableRatio = 0.85
	}
	if c.MinWordlikeRatio <= 0 {
		c.MinWordlikeRatio = 0.3
	}
	if c.MinTextWords <= 0 {
		c.MinTextWords = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Capturer captures article pages into PDF + markdown artifact pairs.
type Capturer struct {
	cfg      Config
	detector *challenge.Detector
	waiter   *challenge.Waiter
	render   *renderer
	rng      *rand.Rand
}

// New creates a Capturer.
func New(det *challenge.Detector, w *challenge.Waiter, cfg Config) *Capturer {
	cfg.defaults()
	return &Capturer{
		cfg:      cfg,
		detector: det,
		waiter:   w,
		render:   newRenderer(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PDFDir returns the directory PDF artifacts are written to.
func (c *Capturer) PDFDir() string { return filepath.Join(c.cfg.OutDir, "pdfs") }

// TextDir returns the directory markdown artifacts are written to.
func (c *Capturer) TextDir() string { return filepath.Join(c.cfg.OutDir, "markdown") }

// Run executes the full capture pipeline for one search result URL.
func (c *Capturer) Run(ctx context.Context, page Page, rawURL, title string) (*Artifact, error) {
	finalURL, err := c.Resolve(ctx, page, rawURL)
	if err != nil {
		return nil, err
	}
	if err := c.Stabilize(ctx, page); err != nil {
		return nil, err
	}
	return c.Capture(ctx, page, finalURL, title)
}

// Resolve navigates to a result URL and follows the portal's redirect
// chain until the final article URL is reached. A challenge page on the
// way is handed to the verification Waiter. When the chain does not settle
// within the timeout, the current URL is used as-is.
func (c *Capturer) Resolve(ctx context.Context, page Page, rawURL string) (string, error) {
	log := c.cfg.Logger

	if err := page.Navigate(ctx, rawURL); err != nil {
		return "", fmt.Errorf("capture: navigate %s: %w", rawURL, err)
	}

	finalURL := rawURL
	outcome, err := challenge.Poll(ctx, c.cfg.ResolveInterval, c.cfg.ResolveTimeout, func(ctx context.Context) (bool, error) {
		snap, err := page.Snapshot(ctx)
		if err != nil {
			return false, nil // transient; keep polling
		}
		finalURL = snap.URL

		if det := c.detector.Detect(snap); det.Present {
			log.Info("capture: challenge during resolution", "kind", det.Kind, "evidence", det.Evidence)
			out, err := c.waiter.Wait(ctx, page, c.cfg.VerifyDeadline)
			if err != nil {
				return false, err
			}
			if !out.Resolved {
				return false, &ChallengeError{URL: rawURL, Elapsed: out.Elapsed}
			}
			finalURL = out.FinalURL
			return true, nil
		}
		return c.resolvedURL(snap.URL), nil
	})
	if err != nil {
		return "", fmt.Errorf("capture: resolve %s: %w", rawURL, err)
	}
	if outcome == challenge.PollTimeout {
		log.Warn("capture: redirect chain did not settle, using current url", "url", finalURL)
	}
	return finalURL, nil
}

// resolvedURL reports whether a URL left the portal's redirect hop.
func (c *Capturer) resolvedURL(u string) bool {
	for _, frag := range c.cfg.TargetURLFragments {
		if strings.Contains(u, frag) {
			return true
		}
	}
	return !strings.Contains(u, "/link")
}

// Stabilize scrolls through the document in human-paced increments so lazy
// images and late scripts load, wanders the pointer, then returns to the
// top and lets the page settle.
func (c *Capturer) Stabilize(ctx context.Context, page Page) error {
	height, err := page.ScrollHeight(ctx)
	if err != nil {
		c.cfg.Logger.Debug("capture: scroll height unavailable", "error", err)
		height = 3 * c.cfg.ScrollStep
	}

	for scrolled := 0.0; scrolled < height; scrolled += c.cfg.ScrollStep {
		if err := page.ScrollBy(ctx, 0, c.cfg.ScrollStep, 3); err != nil {
			return fmt.Errorf("capture: stabilize scroll: %w", err)
		}
		if c.rng.Intn(3) == 0 {
			x := 100 + c.rng.Float64()*800
			y := 100 + c.rng.Float64()*500
			if err := page.MovePointer(ctx, x, y); err != nil {
				c.cfg.Logger.Debug("capture: pointer move failed", "error", err)
			}
		}
		if err := c.sleep(ctx, c.scrollDelay()); err != nil {
			return err
		}
	}

	if err := page.ScrollBy(ctx, 0, -height, 5); err != nil {
		return fmt.Errorf("capture: scroll to top: %w", err)
	}
	return c.sleep(ctx, c.cfg.SettleWait)
}

// Capture prints the page, runs the quality gates, and persists the
// artifact pair. Failing any gate returns a *QualityError and leaves no
// files behind.
func (c *Capturer) Capture(ctx context.Context, page Page, finalURL, title string) (*Artifact, error) {
	log := c.cfg.Logger.With("url", finalURL)

	pdfData, err := page.PrintPDF(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: print: %w", err)
	}

	q := Quality{PDFBytes: len(pdfData)}
	if len(pdfData) < c.cfg.MinPDFBytes {
		return nil, &QualityError{URL: finalURL, Reason: fmt.Sprintf("pdf too small: %d bytes", len(pdfData)), Quality: q}
	}

	pageCount, pdfText, err := inspectPDF(pdfData)
	if err != nil {
		return nil, &QualityError{URL: finalURL, Reason: fmt.Sprintf("pdf invalid: %v", err), Quality: q}
	}
	q.PageCount = pageCount
	q.PrintableRatio = printableRatio(pdfText)
	q.WordlikeRatio = wordlikeRatio(pdfText)

	if q.PrintableRatio < c.cfg.MinPrintableRatio {
		return nil, &QualityError{URL: finalURL, Reason: fmt.Sprintf("printable ratio %.2f below %.2f", q.PrintableRatio, c.cfg.MinPrintableRatio), Quality: q}
	}
	if pdfText != "" && q.WordlikeRatio < c.cfg.MinWordlikeRatio {
		return nil, &QualityError{URL: finalURL, Reason: fmt.Sprintf("wordlike ratio %.2f below %.2f", q.WordlikeRatio, c.cfg.MinWordlikeRatio), Quality: q}
	}

	snap, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: snapshot: %w", err)
	}
	markdown := c.render.render(snap.HTML, finalURL, pdfText)

	q.WordCount = countWords(markdown)
	if q.WordCount < c.cfg.MinTextWords {
		return nil, &QualityError{URL: finalURL, Reason: fmt.Sprintf("text too short: %d words", q.WordCount), Quality: q}
	}

	stem := CleanFilename(title)
	if title == "" {
		stem = CleanFilename(snap.Title)
	}

	pdfPath, err := c.writeArtifact(c.PDFDir(), stem, ".pdf", pdfData)
	if err != nil {
		return nil, err
	}
	textPath, err := c.writeArtifact(c.TextDir(), stem, ".md", []byte(markdown+"\n"))
	if err != nil {
		os.Remove(pdfPath) // never leave a half pair behind
		return nil, err
	}

	log.Info("capture: artifact pair written",
		"pdf", pdfPath, "text", textPath, "pages", q.PageCount, "words", q.WordCount)
	return &Artifact{
		Title:    stem,
		FinalURL: finalURL,
		PDFPath:  pdfPath,
		TextPath: textPath,
		Quality:  q,
	}, nil
}

// writeArtifact writes atomically: temp file, then rename into place.
func (c *Capturer) writeArtifact(dir, stem, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("capture: create %s: %w", dir, err)
	}
	path := uniquePath(dir, stem, ext)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("capture: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("capture: commit %s: %w", path, err)
	}
	return path, nil
}

func (c *Capturer) scrollDelay() time.Duration {
	span := c.cfg.ScrollDelayMax - c.cfg.ScrollDelayMin
	if span <= 0 {
		return c.cfg.ScrollDelayMin
	}
	return c.cfg.ScrollDelayMin + time.Duration(c.rng.Int63n(int64(span)))
}

func (c *Capturer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
