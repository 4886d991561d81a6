// CLAUDE:SUMMARY Configuration struct and defaults for the codec registry.
package codec

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/docsync/snapshot"
)

// Config configures the codec registry.
type Config struct {
	// Provenance is written into JSON exports (default: snapshot.DefaultProvenance).
	Provenance string `json:"provenance" yaml:"provenance"`

	// PreserveNewLines keeps Markdown soft line breaks as line breaks instead
	// of collapsing them into paragraph breaks.
	PreserveNewLines bool `json:"preserve_new_lines" yaml:"preserve_new_lines"`

	// MaxInputSize is the maximum input size accepted by Decode (default: 100 MB).
	MaxInputSize int64 `json:"max_input_size" yaml:"max_input_size"`

	// Now stamps lastSaved in JSON exports (default: time.Now).
	Now func() time.Time `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provenance == "" {
		c.Provenance = snapshot.DefaultProvenance
	}
	if c.MaxInputSize <= 0 {
		c.MaxInputSize = 100 * 1024 * 1024
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
