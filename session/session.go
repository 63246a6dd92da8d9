package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"

	"github.com/hazyhaar/moisson/challenge"
	"github.com/hazyhaar/moisson/stealth"
)

// ErrClosed is returned by operations on a session that has been shut
// down. Callers treat it as fatal for the whole batch: the browser behind
// the session is gone.
var ErrClosed = errors.New("session: closed")

// Session is one live browser page with a pinned fingerprint and persisted
// identity. All operations are serialized: a Session runs one operation at
// a time, and concurrent callers queue on its lock.
type Session struct {
	key     Key
	mgr     *Manager
	profile *stealth.Profile
	log     *slog.Logger

	mu        sync.Mutex
	page      *rod.Page
	restored  *State // storage to replay once an origin exists
	navigated bool
	closed    bool
}

func newSession(ctx context.Context, m *Manager, key Key, prof *stealth.Profile, st *State) (*Session, error) {
	page, err := rodstealth.Page(m.browser)
	if err != nil {
		return nil, fmt.Errorf("session: create stealth page: %w", err)
	}

	s := &Session{
		key:      key,
		mgr:      m,
		profile:  prof,
		log:      m.cfg.Logger.With("session", key.String()),
		page:     page,
		restored: st,
	}

	if err := s.applyProfile(ctx); err != nil {
		page.Close()
		return nil, err
	}
	if st != nil && len(st.Cookies) > 0 {
		if err := s.applyCookies(st.Cookies); err != nil {
			s.log.Warn("session: cookie restore failed", "error", err)
		}
	}
	return s, nil
}

// applyProfile imposes the fingerprint before any navigation. The page must
// never be seen by the portal with default automation signals.
func (s *Session) applyProfile(ctx context.Context) error {
	page := s.page.Context(ctx)
	prof := s.profile

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      prof.UserAgent,
		AcceptLanguage: prof.AcceptLanguage,
	}); err != nil {
		return fmt.Errorf("session: set user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             prof.ViewportWidth,
		Height:            prof.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("session: set viewport: %w", err)
	}

	if prof.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: prof.Timezone}).Call(page); err != nil {
			s.log.Warn("session: timezone override failed", "error", err)
		}
	}
	if prof.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: prof.Locale}).Call(page); err != nil {
			s.log.Warn("session: locale override failed", "error", err)
		}
	}

	if len(prof.Headers) > 0 {
		pairs := make([]string, 0, len(prof.Headers)*2)
		for k, v := range prof.Headers {
			pairs = append(pairs, k, v)
		}
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			s.log.Warn("session: extra headers failed", "error", err)
		}
	}
	return nil
}

func (s *Session) applyCookies(cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return s.page.SetCookies(params)
}

// Key returns the session's identity key.
func (s *Session) Key() Key { return s.key }

// Profile returns the pinned fingerprint profile.
func (s *Session) Profile() *stealth.Profile { return s.profile }

// Navigate loads a URL and waits for the load event. The first navigation
// also replays persisted web storage, which needs a live origin to exist.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	navCtx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavTimeout)
	defer cancel()

	page := s.page.Context(navCtx)
	if err := page.Navigate(pageURL); err != nil {
		return fmt.Errorf("session: navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		s.log.Warn("session: wait load timeout", "url", pageURL, "error", err)
	}

	if !s.navigated {
		s.navigated = true
		if s.restored != nil {
			s.replayStorage(navCtx, s.restored)
			s.restored = nil
		}
	}
	return nil
}

// replayStorage writes persisted local/session storage into the page.
// Best effort: a failure costs a warmer session, not the run.
func (s *Session) replayStorage(ctx context.Context, st *State) {
	page := s.page.Context(ctx)
	for storage, items := range map[string]map[string]string{
		"localStorage":   st.LocalStorage,
		"sessionStorage": st.SessionStorage,
	} {
		if len(items) == 0 {
			continue
		}
		js := fmt.Sprintf(`(items) => {
			for (const [k, v] of Object.entries(items)) %s.setItem(k, v);
		}`, storage)
		if _, err := page.Eval(js, items); err != nil {
			s.log.Warn("session: storage replay failed", "storage", storage, "error", err)
		}
	}
}

// Snapshot captures the page's URL, title, and full HTML.
func (s *Session) Snapshot(ctx context.Context) (*challenge.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	page := s.page.Context(ctx)
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("session: page info: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("session: page html: %w", err)
	}
	return &challenge.Snapshot{URL: info.URL, Title: info.Title, HTML: html}, nil
}

// Click clicks the first element matching the selector. It fails
// immediately when no element matches instead of waiting for one to appear.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	page := s.page.Context(ctx)
	el, err := page.Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return fmt.Errorf("session: element %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: click %q: %w", selector, err)
	}
	if err := page.WaitLoad(); err != nil {
		s.log.Debug("session: wait load after click", "error", err)
	}
	return nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	page := s.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("session: reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		s.log.Debug("session: wait load after reload", "error", err)
	}
	return nil
}

// ScrollBy scrolls the page by an offset using synthetic mouse wheel steps.
func (s *Session) ScrollBy(ctx context.Context, dx, dy float64, steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if steps < 1 {
		steps = 1
	}
	if err := s.page.Context(ctx).Mouse.Scroll(dx, dy, steps); err != nil {
		return fmt.Errorf("session: scroll: %w", err)
	}
	return nil
}

// MovePointer moves the mouse to a viewport coordinate.
func (s *Session) MovePointer(ctx context.Context, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("session: move pointer: %w", err)
	}
	return nil
}

// ScrollHeight returns document.body.scrollHeight.
func (s *Session) ScrollHeight(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	res, err := s.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, fmt.Errorf("session: scroll height: %w", err)
	}
	return res.Value.Num(), nil
}

// PrintPDF renders the current page to PDF bytes.
func (s *Session) PrintPDF(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	r, err := s.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("session: print pdf: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("session: read pdf stream: %w", err)
	}
	return data, nil
}

// Persist snapshots cookies and web storage into the session's state file.
func (s *Session) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx)
}

func (s *Session) persist(ctx context.Context) error {
	if s.closed || !*s.mgr.cfg.Persist {
		return nil
	}

	page := s.page.Context(ctx)
	st := &State{Profile: s.profile}

	cookies, err := page.Cookies(nil)
	if err != nil {
		return fmt.Errorf("session: read cookies: %w", err)
	}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	st.LocalStorage = s.readStorage(ctx, "localStorage")
	st.SessionStorage = s.readStorage(ctx, "sessionStorage")

	return s.mgr.store.Save(s.key, st)
}

func (s *Session) readStorage(ctx context.Context, storage string) map[string]string {
	js := fmt.Sprintf(`() => JSON.stringify(Object.fromEntries(Object.entries(%s)))`, storage)
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		s.log.Debug("session: storage read failed", "storage", storage, "error", err)
		return nil
	}
	var items map[string]string
	if err := json.Unmarshal([]byte(res.Value.Str()), &items); err != nil {
		s.log.Debug("session: storage decode failed", "storage", storage, "error", err)
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

// Close persists state and releases the page.
func (s *Session) Close() error {
	err := s.shutdown(context.Background())
	s.mgr.release(s.key)
	return err
}

func (s *Session) shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	perr := s.persist(ctx)
	if perr != nil {
		s.log.Warn("session: final persist failed", "error", perr)
	}
	s.closed = true
	if s.page != nil {
		s.page.Close()
		s.page = nil
	}
	return perr
}
