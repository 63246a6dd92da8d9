package challenge

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Kind identifies how a challenge was recognised.
type Kind string

const (
	KindSelector Kind = "selector-match"
	KindTitle    Kind = "title-keyword"
	KindContent  Kind = "content-keyword"
)

// Marker pairs a CSS selector with a human-readable label.
type Marker struct {
	Selector string `yaml:"selector" json:"selector"`
	Label    string `yaml:"label" json:"label"`
}

// Detection is the result of classifying one snapshot. Ephemeral: recomputed
// on every call, never persisted.
type Detection struct {
	Present    bool
	Kind       Kind
	Evidence   string
	ObservedAt time.Time
}

// Config configures a Detector. Empty lists fall back to the built-in
// tables, which cover the captcha variants the portal is known to serve.
type Config struct {
	Markers         []Marker `yaml:"markers"`
	TitleKeywords   []string `yaml:"title_keywords"`
	ContentKeywords []string `yaml:"content_keywords"`
}

func (c *Config) defaults() {
	if len(c.Markers) == 0 {
		c.Markers = defaultMarkers
	}
	if len(c.TitleKeywords) == 0 {
		c.TitleKeywords = defaultTitleKeywords
	}
	if len(c.ContentKeywords) == 0 {
		c.ContentKeywords = defaultContentKeywords
	}
}

// Detector classifies snapshots against an ordered marker table.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	cfg.defaults()
	return &Detector{cfg: cfg}
}

// Detect classifies a snapshot. Checks run in order — selectors, then title
// keywords, then body-text keywords — and the first match wins. Deterministic
// for fixed content; never mutates page state.
func (d *Detector) Detect(snap *Snapshot) Detection {
	now := time.Now()

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML)); err == nil {
		for _, m := range d.cfg.Markers {
			if doc.Find(m.Selector).Length() > 0 {
				return Detection{Present: true, Kind: KindSelector, Evidence: m.Selector, ObservedAt: now}
			}
		}
	}

	titleLower := strings.ToLower(snap.Title)
	for _, kw := range d.cfg.TitleKeywords {
		if strings.Contains(titleLower, strings.ToLower(kw)) {
			return Detection{Present: true, Kind: KindTitle, Evidence: kw, ObservedAt: now}
		}
	}

	body := strings.ToLower(VisibleText(snap))
	for _, kw := range d.cfg.ContentKeywords {
		if strings.Contains(body, strings.ToLower(kw)) {
			return Detection{Present: true, Kind: KindContent, Evidence: kw, ObservedAt: now}
		}
	}

	return Detection{ObservedAt: now}
}

// The marker table consolidates every selector the portal has been seen
// using. Order matters: most specific first, catch-all class fragments last.
var defaultMarkers = []Marker{
	{Selector: ".sogou-captcha", Label: "sogou captcha"},
	{Selector: ".sogou-verify", Label: "sogou verification"},
	{Selector: ".geetest", Label: "geetest puzzle"},
	{Selector: ".nc-container", Label: "aliyun captcha"},
	{Selector: "#captcha", Label: "captcha element"},
	{Selector: ".captcha", Label: "image captcha"},
	{Selector: ".captcha-container", Label: "captcha container"},
	{Selector: ".verify-code", Label: "verification code"},
	{Selector: ".slider", Label: "slider puzzle"},
	{Selector: "[class*=captcha]", Label: "captcha class fragment"},
	{Selector: "[class*=verify]", Label: "verify class fragment"},
}

// The bare "验证" comes last: the more specific variants win as evidence
// when both appear.
var defaultTitleKeywords = []string{"验证码", "captcha", "安全验证", "搜狗搜索", "验证"}

var defaultContentKeywords = []string{"验证码", "captcha", "请依次点击", "安全验证"}
