// Package config loads the tool's YAML configuration, with defaults that
// make the zero config usable against the default portal.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/moisson/batch"
	"github.com/hazyhaar/moisson/capture"
	"github.com/hazyhaar/moisson/challenge"
	"github.com/hazyhaar/moisson/search"
	"github.com/hazyhaar/moisson/session"
	"github.com/hazyhaar/moisson/stealth"
)

// Config is the top-level configuration.
type Config struct {
	// Platform and Site identify the persisted session.
	Platform string `yaml:"platform"`
	Site     string `yaml:"site"`

	Browser   session.Config         `yaml:"browser"`
	Stealth   stealth.Config         `yaml:"stealth"`
	Detector  challenge.Config       `yaml:"detector"`
	Waiter    challenge.WaiterConfig `yaml:"waiter"`
	Search    search.Config          `yaml:"search"`
	Capture   capture.Config         `yaml:"capture"`
	Batch     batch.Config           `yaml:"batch"`

	// LedgerPath is the progress mapping file. Default:
	// <capture.out_dir>/file_mapping.json.
	LedgerPath string `yaml:"ledger_path"`
	// ArchivePath is the SQLite archive. Empty disables archiving.
	ArchivePath string `yaml:"archive_path"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the zero configuration with defaults applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills the top-level defaults. Component configs apply
// their own defaults in their constructors; only cross-component defaults
// live here.
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = "wechat"
	}
	if c.Site == "" {
		c.Site = "weixin.sogou.com"
	}
	if c.Capture.OutDir == "" {
		c.Capture.OutDir = "downloads"
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.Capture.OutDir, "file_mapping.json")
	}
	// The capture verify deadline defaults to the search one so a single
	// setting governs both, unless overridden.
	if c.Capture.VerifyDeadline == 0 {
		c.Capture.VerifyDeadline = c.Search.VerifyDeadline
	}
}

// SessionKey returns the session identity this config addresses.
func (c *Config) SessionKey() session.Key {
	return session.Key{Platform: c.Platform, Site: c.Site}
}
