package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/hazyhaar/moisson/stealth"
)

// Config configures the session Manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`

	// Headless runs Chrome without a display. Default: true. Turn it off
	// when a human needs to see the page to solve verification challenges.
	Headless *bool `yaml:"headless"`

	// Persist saves session identity (cookies, storage, profile) across
	// runs. Default: true.
	Persist *bool `yaml:"persist"`

	// StateDir holds the per-session state files. Default: "sessions".
	StateDir string `yaml:"state_dir"`

	// NavTimeout bounds each navigation. Default: 30s.
	NavTimeout time.Duration `yaml:"nav_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.Persist == nil {
		t := true
		c.Persist = &t
	}
	if c.StateDir == "" {
		c.StateDir = "sessions"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process and hands out Sessions. One live Session
// per key: opening a key that is already open returns the existing Session.
type Manager struct {
	cfg      Config
	profiles *stealth.Provider
	store    *Store

	mu       sync.Mutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	sessions map[Key]*Session
	closed   bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(profiles *stealth.Provider, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:      cfg,
		profiles: profiles,
		store:    NewStore(cfg.StateDir, cfg.Logger),
		sessions: make(map[Key]*Session),
	}
}

// Store exposes the state store, mainly for inspection tooling.
func (m *Manager) Store() *Store { return m.store }

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("session: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("session: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(*m.cfg.Headless)
		for name, value := range stealth.LaunchFlags() {
			if value == "" {
				l = l.Set(flags.Flag(name))
			} else {
				l = l.Set(flags.Flag(name), value)
			}
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("session: launch chrome: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("session: launched local chrome", "headless", *m.cfg.Headless)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("session: ignore cert errors failed", "error", err)
	}

	m.browser = b
	return nil
}

// Open returns the Session for a key, creating it on first use. Creation
// restores the persisted identity: the fingerprint profile is pinned before
// the page exists, cookies are applied before the first navigation, web
// storage right after it.
func (m *Manager) Open(ctx context.Context, key Key) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("session: manager is closed")
	}
	if m.browser == nil {
		return nil, fmt.Errorf("session: manager not started")
	}
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	var st *State
	if *m.cfg.Persist {
		st = m.store.Load(key)
	}
	if st != nil && st.Profile != nil {
		m.profiles.Restore(key.String(), st.Profile)
		m.cfg.Logger.Info("session: restored persisted identity",
			"session", key.String(), "cookies", len(st.Cookies), "saved_at", st.SavedAt)
	}
	prof := m.profiles.ProfileFor(key.String())

	s, err := newSession(ctx, m, key, prof, st)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = s
	return s, nil
}

// release drops a closed session from the table.
func (m *Manager) release(key Key) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

// Close persists every open session's state and shuts Chrome down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	for key, s := range m.sessions {
		if err := s.shutdown(context.Background()); err != nil {
			m.cfg.Logger.Warn("session: shutdown failed", "session", key.String(), "error", err)
		}
	}
	m.sessions = nil

	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}
