package challenge

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// State of the verification wait.
type State string

const (
	StateChallenged State = "CHALLENGED"
	StatePolling    State = "POLLING"
	StateResolved   State = "RESOLVED"
	StateTimeout    State = "TIMEOUT"
)

// Outcome reports how a wait ended.
type Outcome struct {
	Resolved   bool
	State      State
	Elapsed    time.Duration
	FinalURL   string
	FinalTitle string
}

// WaiterConfig configures a Waiter.
type WaiterConfig struct {
	// Interval between resolution checks. Default: 3s.
	Interval time.Duration `yaml:"interval"`
	// RemediationWait is the extended wait after the single automatic
	// reload attempt. Default: 10s.
	RemediationWait time.Duration `yaml:"remediation_wait"`
	// MinContentLength is the minimum visible-text length (runes) required
	// to accept a page as resolved. Guards against a near-empty results
	// shell rendered before real content streams in. Default: 200.
	MinContentLength int `yaml:"min_content_length"`
	// ChallengeURLFragments mark a URL as still on the challenge path.
	ChallengeURLFragments []string `yaml:"challenge_url_fragments"`
	// ResolvedURLFragments mark a URL as having navigated to real content.
	ResolvedURLFragments []string `yaml:"resolved_url_fragments"`
	// ContentMarkers are substrings of real content (body text).
	ContentMarkers []string `yaml:"content_markers"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *WaiterConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.RemediationWait <= 0 {
		c.RemediationWait = 10 * time.Second
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = 200
	}
	if len(c.ChallengeURLFragments) == 0 {
		c.ChallengeURLFragments = []string{"antispider"}
	}
	if len(c.ResolvedURLFragments) == 0 {
		c.ResolvedURLFragments = []string{"mp.weixin.qq.com", "weixin.sogou.com/weixin"}
	}
	if len(c.ContentMarkers) == 0 {
		c.ContentMarkers = []string{"微信公众平台", "阅读量", "发布时间"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Waiter suspends until a human resolves a challenge, or a deadline passes.
type Waiter struct {
	cfg      WaiterConfig
	detector *Detector
}

// NewWaiter creates a Waiter that re-checks pages with the given detector.
func NewWaiter(det *Detector, cfg WaiterConfig) *Waiter {
	cfg.defaults()
	return &Waiter{cfg: cfg, detector: det}
}

// Wait polls the page until the challenge resolves or the deadline elapses.
// A zero deadline waits forever — resolution is delegated to a human and
// humans cannot be rushed. Exactly one automatic remediation (reload plus an
// extended wait) is tried before settling into pure polling; this is not a
// bypass attempt, just recovery from a stale interstitial.
func (w *Waiter) Wait(ctx context.Context, page Page, deadline time.Duration) (*Outcome, error) {
	log := w.cfg.Logger
	start := time.Now()

	out := &Outcome{State: StatePolling}
	log.Info("challenge: waiting for manual verification",
		"deadline", deadline, "interval", w.cfg.Interval)

	w.remediate(ctx, page, deadline)

	// The remediation wait counts against the caller's deadline.
	remaining := deadline
	if deadline > 0 {
		remaining = deadline - time.Since(start)
		if remaining <= 0 {
			out.State = StateTimeout
			out.Elapsed = time.Since(start)
			return out, nil
		}
	}

	result, err := Poll(ctx, w.cfg.Interval, remaining, func(ctx context.Context) (bool, error) {
		snap, err := page.Snapshot(ctx)
		if err != nil {
			// The human may be mid-navigation; try again next tick.
			log.Debug("challenge: snapshot during wait failed", "error", err)
			return false, nil
		}
		if !w.resolved(snap) {
			log.Debug("challenge: still on verification page",
				"elapsed", time.Since(start).Round(time.Second), "url", snap.URL)
			return false, nil
		}
		out.FinalURL = snap.URL
		out.FinalTitle = snap.Title
		return true, nil
	})

	out.Elapsed = time.Since(start)
	if err != nil {
		out.State = StateTimeout
		return out, err
	}

	if result == PollResolved {
		out.Resolved = true
		out.State = StateResolved
		log.Info("challenge: verification completed",
			"elapsed", out.Elapsed.Round(time.Second), "url", out.FinalURL)
	} else {
		out.State = StateTimeout
		log.Warn("challenge: verification wait timed out",
			"elapsed", out.Elapsed.Round(time.Second))
	}
	return out, nil
}

// remediate performs the single automatic recovery attempt: reload, then an
// extended wait for the page to settle.
func (w *Waiter) remediate(ctx context.Context, page Page, deadline time.Duration) {
	if err := page.Reload(ctx); err != nil {
		w.cfg.Logger.Debug("challenge: remediation reload failed", "error", err)
		return
	}
	wait := w.cfg.RemediationWait
	if deadline > 0 && deadline < wait {
		wait = deadline
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// resolved decides whether a snapshot shows real content. All three
// conditions must hold: no challenge markers, a positive navigation or
// content signal, and a minimum amount of visible text.
func (w *Waiter) resolved(snap *Snapshot) bool {
	if det := w.detector.Detect(snap); det.Present {
		return false
	}
	for _, frag := range w.cfg.ChallengeURLFragments {
		if strings.Contains(snap.URL, frag) {
			return false
		}
	}

	text := VisibleText(snap)
	if len([]rune(text)) < w.cfg.MinContentLength {
		return false
	}

	for _, frag := range w.cfg.ResolvedURLFragments {
		if strings.Contains(snap.URL, frag) {
			return true
		}
	}
	for _, marker := range w.cfg.ContentMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
