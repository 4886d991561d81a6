// CLAUDE:SUMMARY YAML configuration for the docsync binaries with defaults and adapters to each package's Config.
// Package config loads docsync configuration from YAML.
//
//	provenance: Playground
//	markdown:
//	  preserve_new_lines: false
//	collab:
//	  enabled: true
//	  strategy: factory
//	  doc_id: notes
//	  relay_url: wss://relay.example.com/ws
//	authority:
//	  url: https://authority.example.com
//	relay:
//	  addr: :1234
//	  db: data/relay.db
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docsync/authority"
	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/collab"
	"github.com/hazyhaar/docsync/sharelink"
	"github.com/hazyhaar/docsync/snapshot"
)

// Config is the top-level configuration.
type Config struct {
	Provenance string          `yaml:"provenance"`
	LogLevel   string          `yaml:"log_level"`
	Editor     EditorConfig    `yaml:"editor"`
	Markdown   MarkdownConfig  `yaml:"markdown"`
	Share      ShareConfig     `yaml:"share"`
	Collab     CollabConfig    `yaml:"collab"`
	Authority  AuthorityConfig `yaml:"authority"`
	Relay      RelayConfig     `yaml:"relay"`
}

// EditorConfig controls the local document.
type EditorConfig struct {
	ReadOnly     bool  `yaml:"read_only"`
	HistoryLimit int   `yaml:"history_limit"`
	Prepopulate  *bool `yaml:"prepopulate"` // default: true
}

// MarkdownConfig controls the Markdown codec.
type MarkdownConfig struct {
	PreserveNewLines bool `yaml:"preserve_new_lines"`
}

// ShareConfig controls share links.
type ShareConfig struct {
	MaxLinkBytes int `yaml:"max_link_bytes"`
}

// CollabConfig controls the collaboration session.
type CollabConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Strategy        string        `yaml:"strategy"` // factory | explicit
	DocID           string        `yaml:"doc_id"`
	RelayURL        string        `yaml:"relay_url"`
	ShouldBootstrap *bool         `yaml:"should_bootstrap"` // default: true
	AllowPrivate    bool          `yaml:"allow_private"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	DialAttempts    int           `yaml:"dial_attempts"`
}

// Bootstrap reports whether this session seeds an empty shared document.
func (c CollabConfig) Bootstrap() bool { return c.ShouldBootstrap == nil || *c.ShouldBootstrap }

// AuthorityConfig points at the validation authority.
type AuthorityConfig struct {
	URL              string        `yaml:"url"`
	Doc              string        `yaml:"doc"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	AllowPrivate     bool          `yaml:"allow_private"`
}

// RelayConfig configures the collabd daemon.
type RelayConfig struct {
	Addr        string  `yaml:"addr"`
	DB          string  `yaml:"db"`
	Rate        float64 `yaml:"rate"` // op messages per second per connection
	Burst       int     `yaml:"burst"`
	StrictPeers bool    `yaml:"strict_peers"`
	IPRate      float64 `yaml:"ip_rate"` // HTTP requests per second per IP, 0 disables
	IPBurst     int     `yaml:"ip_burst"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file. Environment variables in the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provenance == "" {
		c.Provenance = snapshot.DefaultProvenance
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Editor.HistoryLimit <= 0 {
		c.Editor.HistoryLimit = 100
	}
	if c.Share.MaxLinkBytes <= 0 {
		c.Share.MaxLinkBytes = sharelink.DefaultMaxLinkBytes
	}
	if c.Collab.Strategy == "" {
		c.Collab.Strategy = collab.StrategyFactory
	}
	if c.Collab.DocID == "" {
		c.Collab.DocID = "main"
	}
	if c.Collab.DialTimeout <= 0 {
		c.Collab.DialTimeout = 10 * time.Second
	}
	if c.Collab.DialAttempts <= 0 {
		c.Collab.DialAttempts = 5
	}
	if c.Authority.Doc == "" {
		c.Authority.Doc = authority.DefaultDoc
	}
	if c.Authority.Timeout <= 0 {
		c.Authority.Timeout = 5 * time.Second
	}
	if c.Relay.Addr == "" {
		c.Relay.Addr = ":1234"
	}
	if c.Relay.DB == "" {
		c.Relay.DB = "data/collabd.db"
	}
	if c.Relay.Rate <= 0 {
		c.Relay.Rate = 50
	}
	if c.Relay.Burst <= 0 {
		c.Relay.Burst = 100
	}
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	switch c.Collab.Strategy {
	case collab.StrategyFactory, collab.StrategyExplicit:
	default:
		return fmt.Errorf("config: collab.strategy %q (want factory or explicit)", c.Collab.Strategy)
	}
	if c.Collab.Enabled && c.Collab.RelayURL == "" {
		return fmt.Errorf("config: collab.relay_url is required when collab is enabled")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Prepopulate reports whether a fresh local session gets the welcome document.
func (c *Config) Prepopulate() bool {
	return !c.Collab.Enabled && (c.Editor.Prepopulate == nil || *c.Editor.Prepopulate)
}

// Level returns the slog level named by log_level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: log_level %q", s)
}

// Codec returns the codec registry configuration.
func (c *Config) Codec(logger *slog.Logger) codec.Config {
	return codec.Config{Provenance: c.Provenance, PreserveNewLines: c.Markdown.PreserveNewLines, Logger: logger}
}

// ShareLink returns the share-link codec configuration.
func (c *Config) ShareLink(logger *slog.Logger) sharelink.Config {
	return sharelink.Config{Provenance: c.Provenance, MaxLinkBytes: c.Share.MaxLinkBytes, Logger: logger}
}

// WebSocket returns the relay transport configuration.
func (c *Config) WebSocket(logger *slog.Logger) collab.WebSocketConfig {
	return collab.WebSocketConfig{
		URL:          c.Collab.RelayURL,
		AllowPrivate: c.Collab.AllowPrivate,
		DialTimeout:  c.Collab.DialTimeout,
		DialAttempts: c.Collab.DialAttempts,
		Logger:       logger,
	}
}

// AuthorityRoutes returns the connectivity route settings for the authority.
func (c *Config) AuthorityRoutes() authority.RouteConfig {
	return authority.RouteConfig{
		TimeoutMs:        c.Authority.Timeout.Milliseconds(),
		MaxRetries:       c.Authority.MaxRetries,
		BreakerThreshold: c.Authority.BreakerThreshold,
	}
}

// RelayRate returns the per-connection inbound limit.
func (c *Config) RelayRate() rate.Limit { return rate.Limit(c.Relay.Rate) }
