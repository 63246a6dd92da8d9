// Package session owns browser sessions and their persisted identity.
//
// A session is keyed by (platform, site). Its identity — cookies, web
// storage, and the fingerprint profile it was sampled with — survives
// process restarts through a per-key JSON state file, so the portal sees
// one consistent returning visitor instead of a fresh browser every run.
package session

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/moisson/stealth"
)

// Key identifies one persisted session.
type Key struct {
	Platform string // e.g. "wechat"
	Site     string // e.g. "weixin.sogou.com"
}

func (k Key) String() string {
	return k.Platform + "/" + k.Site
}

// fileName is `<platform>_<hash>_state.json` where hash is the first 8 hex
// chars of md5(site). The hash keeps the name filesystem-safe for any site
// string while staying recognizable.
func (k Key) fileName() string {
	sum := md5.Sum([]byte(k.Site))
	return fmt.Sprintf("%s_%x_state.json", k.Platform, sum[:4])
}

// State is the persisted identity of one session.
type State struct {
	Platform       string            `json:"platform"`
	Site           string            `json:"site"`
	Cookies        []Cookie          `json:"cookies,omitempty"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
	Profile        *stealth.Profile  `json:"profile,omitempty"`
	SavedAt        time.Time         `json:"saved_at"`
}

// Cookie is the persisted form of a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds; 0 = session cookie
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Store reads and writes session state files under one directory.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore creates a Store rooted at dir. The directory is created on first
// Save.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, log: logger}
}

// Path returns the state file path for a key.
func (s *Store) Path(key Key) string {
	return filepath.Join(s.dir, key.fileName())
}

// Load reads the persisted state for a key. A missing or unreadable file is
// not an error: the session simply starts fresh. Corruption is logged so an
// operator can notice a recurring reset.
func (s *Store) Load(key Key) *State {
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("session: state unreadable, starting fresh", "path", path, "error", err)
		}
		return nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("session: state corrupt, starting fresh", "path", path, "error", err)
		return nil
	}
	return &st
}

// Save writes state atomically: temp file in the same directory, then
// rename. A crash mid-write never leaves a truncated state file behind.
func (s *Store) Save(key Key, st *State) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session: create state dir: %w", err)
	}

	st.Platform = key.Platform
	st.Site = key.Site
	st.SavedAt = time.Now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}

	path := s.Path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: commit state: %w", err)
	}
	return nil
}
