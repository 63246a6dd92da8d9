// Package stealth supplies per-session browser fingerprint profiles.
//
// A profile is the set of client-visible signals a session presents: user
// agent, viewport, locale, accept-language, extra headers. Profiles are
// sampled once per session key and held fixed for that session's lifetime —
// an inconsistent fingerprint across requests is itself a detection signal,
// so re-sampling mid-session is never allowed.
//
// Usage:
//
//	p := stealth.NewProvider(stealth.Config{})
//	prof := p.ProfileFor("wechat")   // same Profile on every later call
package stealth

import (
	"math/rand"
	"sync"
)

// Profile is a fixed fingerprint presented by one browser session.
type Profile struct {
	UserAgent      string            `json:"user_agent"`
	ViewportWidth  int               `json:"viewport_width"`
	ViewportHeight int               `json:"viewport_height"`
	Locale         string            `json:"locale"`
	Timezone       string            `json:"timezone"`
	AcceptLanguage string            `json:"accept_language"`
	Headers        map[string]string `json:"headers"`
}

// Config configures the Provider. Empty slices fall back to the built-in
// tables.
type Config struct {
	UserAgents      []string   `yaml:"user_agents"`
	Viewports       []Viewport `yaml:"viewports"`
	AcceptLanguages []string   `yaml:"accept_languages"`
	Locale          string     `yaml:"locale"`
	Timezone        string     `yaml:"timezone"`
	// Seed fixes the sampling RNG. Zero = random seed.
	Seed int64 `yaml:"seed"`
}

// Viewport is a candidate screen size.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (c *Config) defaults() {
	if len(c.UserAgents) == 0 {
		c.UserAgents = defaultUserAgents
	}
	if len(c.Viewports) == 0 {
		c.Viewports = defaultViewports
	}
	if len(c.AcceptLanguages) == 0 {
		c.AcceptLanguages = defaultAcceptLanguages
	}
	if c.Locale == "" {
		c.Locale = "zh-CN"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
}

// Provider samples profiles from immutable tables. Safe for concurrent use.
type Provider struct {
	cfg Config

	mu       sync.Mutex
	rng      *rand.Rand
	profiles map[string]*Profile
}

// NewProvider creates a Provider with the given tables.
func NewProvider(cfg Config) *Provider {
	cfg.defaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Provider{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		profiles: make(map[string]*Profile),
	}
}

// ProfileFor returns the profile for a session key, sampling it on first use.
// Every later call with the same key returns the identical profile.
func (p *Provider) ProfileFor(sessionKey string) *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prof, ok := p.profiles[sessionKey]; ok {
		return prof
	}

	vp := p.cfg.Viewports[p.rng.Intn(len(p.cfg.Viewports))]
	prof := &Profile{
		UserAgent:      p.cfg.UserAgents[p.rng.Intn(len(p.cfg.UserAgents))],
		ViewportWidth:  vp.Width,
		ViewportHeight: vp.Height,
		Locale:         p.cfg.Locale,
		Timezone:       p.cfg.Timezone,
		AcceptLanguage: p.cfg.AcceptLanguages[p.rng.Intn(len(p.cfg.AcceptLanguages))],
		Headers:        navigationHeaders(),
	}
	p.profiles[sessionKey] = prof
	return prof
}

// Restore pins an already-sampled profile to a session key, e.g. one loaded
// from a persisted session state file. It overrides any future sampling for
// that key.
func (p *Provider) Restore(sessionKey string, prof *Profile) {
	if prof == nil {
		return
	}
	p.mu.Lock()
	p.profiles[sessionKey] = prof
	p.mu.Unlock()
}

// navigationHeaders returns the fixed header set sent with top-level
// navigations. Kept identical across sessions: these values are what a real
// Chrome sends and varying them is more suspicious than repeating them.
func navigationHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		"Accept-Encoding":           "gzip, deflate, br",
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"Cache-Control":             "max-age=0",
	}
}

// LaunchFlags returns the Chrome switches applied to every stealth launch.
// The list mirrors what survived trial and error against portal detection;
// flag name → value ("" = boolean switch).
func LaunchFlags() map[string]string {
	return map[string]string{
		"disable-blink-features":       "AutomationControlled",
		"no-first-run":                 "",
		"no-default-browser-check":     "",
		"disable-sync":                 "",
		"disable-default-apps":         "",
		"disable-extensions":           "",
		"disable-background-networking": "",
		"disable-breakpad":             "",
		"disable-domain-reliability":   "",
		"disable-hang-monitor":         "",
		"disable-prompt-on-repost":     "",
		"disable-client-side-phishing-detection": "",
		"disable-ipc-flooding-protection":        "",
		"disable-renderer-backgrounding":         "",
		"disable-backgrounding-occluded-windows": "",
		"force-color-profile":          "srgb",
		"metrics-recording-only":       "",
		"password-store":               "basic",
		"use-mock-keychain":            "",
		"mute-audio":                   "",
		"no-pings":                     "",
	}
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
}

var defaultViewports = []Viewport{
	{1920, 1080},
	{1366, 768},
	{1440, 900},
	{1536, 864},
	{1280, 720},
}

var defaultAcceptLanguages = []string{
	"zh-CN,zh;q=0.9,en;q=0.8",
	"zh-CN,zh;q=0.8,en;q=0.7",
	"zh-CN,zh;q=0.9",
	"en-US,en;q=0.9,zh;q=0.8",
}
