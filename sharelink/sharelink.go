// CLAUDE:SUMMARY Encodes a snapshot into a "#doc=<provenance>.<payload>" URL fragment (gzip + base64url) and back, checking provenance first.
// Package sharelink turns a document snapshot into a self-contained URL
// fragment and back, so a document can be shared without a server.
//
// Link layout:
//
//	#doc=<url-escaped provenance>.<base64url(gzip(JSON content))>
//
// The provenance travels in clear text ahead of the payload so a link made
// by another producer is ignored before its payload is decoded.
package sharelink

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/safe"
	"github.com/hazyhaar/docsync/snapshot"
)

// Param is the fragment parameter holding the document.
const Param = "doc"

// DefaultMaxLinkBytes bounds encoded fragments when Config leaves it unset.
const DefaultMaxLinkBytes = 2 << 20

// ErrLinkTooLarge is returned when a link or its decoded payload exceeds the
// configured bounds.
var ErrLinkTooLarge = errors.New("sharelink: link too large")

// Config configures a Codec.
type Config struct {
	// Provenance is this application's tag (default: snapshot.DefaultProvenance).
	Provenance string `yaml:"provenance"`

	// MaxLinkBytes bounds the encoded fragment (default: 2 MiB).
	MaxLinkBytes int `yaml:"max_link_bytes"`

	// MaxContentBytes bounds the decompressed JSON (default: 32 MiB).
	MaxContentBytes int64 `yaml:"max_content_bytes"`

	// Level is the gzip level (default: gzip.BestCompression).
	Level int `yaml:"level"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Provenance == "" {
		c.Provenance = snapshot.DefaultProvenance
	}
	if c.MaxLinkBytes <= 0 {
		c.MaxLinkBytes = DefaultMaxLinkBytes
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = 32 << 20
	}
	if c.Level == 0 {
		c.Level = gzip.BestCompression
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Codec encodes and decodes share links.
type Codec struct {
	cfg Config
}

// New creates a Codec.
func New(cfg Config) *Codec {
	cfg.defaults()
	return &Codec{cfg: cfg}
}

// Provenance returns the tag this codec trusts.
func (c *Codec) Provenance() string { return c.cfg.Provenance }

// ToLink encodes the snapshot content into a fragment starting with "#".
// A snapshot without provenance is tagged with the codec's own.
func (c *Codec) ToLink(ctx context.Context, s snapshot.Snapshot) (string, error) {
	data, err := snapshot.Marshal(s.Content)
	if err != nil {
		return "", fmt.Errorf("sharelink: marshal: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.cfg.Level)
	if err != nil {
		return "", fmt.Errorf("sharelink: gzip: %w", err)
	}
	if _, err := io.Copy(zw, &ctxReader{ctx: ctx, r: bytes.NewReader(data)}); err != nil {
		zw.Close()
		return "", fmt.Errorf("sharelink: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("sharelink: compress: %w", err)
	}

	prov := s.Provenance
	if prov == "" {
		prov = c.cfg.Provenance
	}
	link := "#" + Param + "=" + url.QueryEscape(prov) + "." + base64.RawURLEncoding.EncodeToString(buf.Bytes())
	if len(link) > c.cfg.MaxLinkBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrLinkTooLarge, len(link), c.cfg.MaxLinkBytes)
	}
	c.cfg.Logger.Debug("share link encoded", "content_bytes", len(data), "link_bytes", len(link))
	return link, nil
}

// FromLink decodes a link produced by ToLink. raw may be a full URL, a
// fragment ("#doc=...") or the bare fragment body. It returns nil, nil when
// the link carries no document or was produced under another provenance.
func (c *Codec) FromLink(ctx context.Context, raw string) (*snapshot.Snapshot, error) {
	value, ok := fragmentValue(raw)
	if !ok {
		return nil, nil
	}
	dot := strings.LastIndexByte(value, '.')
	if dot < 0 {
		return nil, nil
	}
	prov, err := url.QueryUnescape(value[:dot])
	if err != nil || prov != c.cfg.Provenance {
		c.cfg.Logger.Debug("share link ignored", "provenance", value[:dot])
		return nil, nil
	}
	if len(value) > c.cfg.MaxLinkBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrLinkTooLarge, len(value), c.cfg.MaxLinkBytes)
	}

	compressed, err := base64.RawURLEncoding.DecodeString(value[dot+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: share link payload: %v", codec.ErrMalformedInput, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: share link payload: %v", codec.ErrMalformedInput, err)
	}
	defer zr.Close()

	data, err := safe.LimitedReadAll(&ctxReader{ctx: ctx, r: zr}, c.cfg.MaxContentBytes)
	switch {
	case errors.Is(err, safe.ErrTooLarge):
		return nil, fmt.Errorf("%w: %v", ErrLinkTooLarge, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, fmt.Errorf("%w: share link payload: %v", codec.ErrMalformedInput, err)
	}

	content, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: share link content: %v", codec.ErrMalformedInput, err)
	}
	return &snapshot.Snapshot{
		Version:    snapshot.CurrentVersion,
		Content:    content,
		Provenance: prov,
		TakenAt:    time.Now().UnixMilli(),
	}, nil
}

// HasLink reports whether raw carries a document parameter.
func HasLink(raw string) bool {
	_, ok := fragmentValue(raw)
	return ok
}

// WithFragment replaces the fragment of base with frag (as built by ToLink).
func WithFragment(base, frag string) (string, error) {
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("sharelink: base url: %w", err)
	}
	return base + "#" + strings.TrimPrefix(frag, "#"), nil
}

// fragmentValue extracts the doc parameter from the fragment of raw.
func fragmentValue(raw string) (string, bool) {
	frag := raw
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		frag = raw[i+1:]
	}
	for _, part := range strings.Split(frag, "&") {
		if v, ok := strings.CutPrefix(part, Param+"="); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// ctxReader fails reads once ctx is done, so long (de)compressions stop.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
