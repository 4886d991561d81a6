// CLAUDE:SUMMARY Format codec registry: encodes and decodes document content per Kind, sniffs import files by extension.
// Package codec converts document content to and from external formats.
//
// Supported formats:
//   - JSON      lossless export envelope (encode + decode)
//   - Markdown  block and inline rules, optional newline preservation (encode + decode)
//   - HTML      sanitized markup, also served as .doc (encode only)
//   - Rich doc  .docx text import (decode only)
//
// Usage:
//
//	reg := codec.New(codec.Config{})
//	md, err := reg.Encode(content, codec.KindMarkdown)
//	content, err := reg.Import(ctx, "notes.md", r)
package codec

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docsync/snapshot"
)

// Registry dispatches encode/decode by Kind.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	policy  *bluemonday.Policy
	flatten *bluemonday.Policy
	ugc     *bluemonday.Policy
	paste   *converter.Converter
}

// New creates a Registry with the given configuration.
func New(cfg Config) *Registry {
	cfg.defaults()
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger,
		policy:  exportPolicy(),
		flatten: flattenPolicy(),
		ugc:     bluemonday.UGCPolicy(),
		paste:   newPasteConverter(),
	}
}

// Provenance returns the provenance tag written into JSON exports.
func (r *Registry) Provenance() string { return r.cfg.Provenance }

func (r *Registry) markdown() Markdown {
	return Markdown{PreserveNewLines: r.cfg.PreserveNewLines}
}

// Descriptors returns all descriptors in declaration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor registered under name ("json", "doc", ...).
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Sniff returns the first descriptor whose extensions match the file name.
// Matching is case-insensitive.
func (r *Registry) Sniff(name string) (Descriptor, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return Descriptor{}, false
	}
	for _, d := range descriptors {
		for _, e := range d.Extensions {
			if e == ext {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}

// Encode renders content in the given kind. Kinds without an encoder
// return ErrUnsupportedFormat.
func (r *Registry) Encode(c snapshot.Content, kind Kind) ([]byte, error) {
	if !canEncode(kind) {
		return nil, unsupported("no encoder for %q", kind)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	switch kind {
	case KindJSON:
		return r.encodeJSON(c)
	case KindMarkdown:
		return []byte(r.markdown().Encode(c)), nil
	default:
		return r.encodeHTML(c)
	}
}

// Decode parses input of the given kind. It returns either complete content
// or an error, never partial content.
func (r *Registry) Decode(kind Kind, input []byte) (snapshot.Content, error) {
	if !canDecode(kind) {
		return snapshot.Content{}, unsupported("no decoder for %q", kind)
	}
	if int64(len(input)) > r.cfg.MaxInputSize {
		return snapshot.Content{}, malformed("input too large: %d bytes (max %d)", len(input), r.cfg.MaxInputSize)
	}
	switch kind {
	case KindJSON:
		return decodeJSON(input)
	case KindMarkdown:
		return r.markdown().Decode(string(input)), nil
	default:
		return r.decodeRichDoc(input)
	}
}

// Import sniffs the file name and decodes the contents of rd. A name that
// matches no decodable descriptor returns ErrUnsupportedFormat.
func (r *Registry) Import(ctx context.Context, name string, rd io.Reader) (snapshot.Content, error) {
	d, ok := r.Sniff(name)
	if !ok || !canDecode(d.Kind) {
		return snapshot.Content{}, unsupported("file %q", name)
	}
	data, err := io.ReadAll(io.LimitReader(rd, r.cfg.MaxInputSize+1))
	if err != nil {
		return snapshot.Content{}, fmt.Errorf("read %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return snapshot.Content{}, err
	}
	r.logger.Debug("importing document", "name", name, "format", d.Name, "size", len(data))
	c, err := r.Decode(d.Kind, data)
	if err != nil {
		return snapshot.Content{}, fmt.Errorf("import %s (%s): %w", name, d.Name, err)
	}
	return c, nil
}

// Clipboard returns the HTML and plain-text renditions of content.
func (r *Registry) Clipboard(c snapshot.Content) (ClipboardData, error) {
	markup, err := r.Encode(c, KindHTML)
	if err != nil {
		return ClipboardData{}, err
	}
	return ClipboardData{HTML: string(markup), PlainText: c.TextContent()}, nil
}
