// CLAUDE:SUMMARY Immutable versioned document snapshot (content + provenance) with copy-on-read, validation and hashing.
// Package snapshot defines the opaque document value every other package
// operates on: exporters read it, importers produce it, the share link
// transports it and the collaboration layer diffs it.
//
// A Snapshot never aliases live document state. Take and Clone always deep
// copy, so a caller may keep a Snapshot after the document moved on.
package snapshot

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// CurrentVersion is the schema version stamped on new snapshots.
const CurrentVersion = 1

// DefaultProvenance tags documents produced by this application.
const DefaultProvenance = "Playground"

// Content is the document tree below the root.
type Content struct {
	Root Node `json:"root"`
}

// Snapshot is a point-in-time copy of a document plus the identity of the
// application that produced it.
type Snapshot struct {
	Version    int     `json:"version"`
	Content    Content `json:"content"`
	Provenance string  `json:"provenance"`
	TakenAt    int64   `json:"taken_at"` // epoch milliseconds
}

// New returns content holding the given blocks.
func New(blocks ...Node) Content {
	return Content{Root: Node{Type: TypeRoot, Children: blocks}}
}

// Empty returns the canonical empty document: one empty paragraph.
func Empty() Content { return New(Paragraph()) }

// Take copies c into a new Snapshot.
func Take(c Content, provenance string) Snapshot {
	return Snapshot{
		Version:    CurrentVersion,
		Content:    c.Clone(),
		Provenance: provenance,
		TakenAt:    time.Now().UnixMilli(),
	}
}

// Blocks returns the top-level blocks. The slice aliases c.
func (c Content) Blocks() []Node { return c.Root.Children }

// Clone deep-copies the content.
func (c Content) Clone() Content {
	root := c.Root.Clone()
	if root.Type == "" {
		root.Type = TypeRoot
	}
	return Content{Root: root}
}

// Equal compares two documents structurally.
func (c Content) Equal(o Content) bool { return c.Root.Equal(o.Root) }

// Normalize returns a copy with empty text runs removed and adjacent runs of
// the same format merged. List starts below 2 all mean "from 1" and become 0.
// Text codecs produce normalized content; JSON keeps content as is.
func (c Content) Normalize() Content {
	out := c.Clone()
	out.Root.Children = normalizeInline(out.Root.Children)
	return out
}

// IsEmpty reports whether the document has no blocks or a single empty paragraph.
func (c Content) IsEmpty() bool {
	blocks := c.Root.Children
	switch len(blocks) {
	case 0:
		return true
	case 1:
		return blocks[0].Type == TypeParagraph && len(blocks[0].Children) == 0
	}
	return false
}

// TextContent returns the plain text of the document, blocks separated by a blank line.
func (c Content) TextContent() string {
	parts := make([]string, len(c.Root.Children))
	for i, b := range c.Root.Children {
		parts[i] = b.TextContent()
	}
	return strings.Join(parts, "\n\n")
}

// Validate checks the structural rules of the tree. It never mutates c.
func (c Content) Validate() error {
	if c.Root.Type != TypeRoot {
		return fmt.Errorf("root node has type %q", c.Root.Type)
	}
	for i, b := range c.Root.Children {
		if err := validateBlock(b); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

func validateBlock(b Node) error {
	switch b.Type {
	case TypeParagraph, TypeQuote:
		return validateInline(b.Children)
	case TypeHeading:
		if b.HeadingLevel() == 0 {
			return fmt.Errorf("heading tag %q", b.Tag)
		}
		return validateInline(b.Children)
	case TypeCode:
		for _, c := range b.Children {
			if c.Type != TypeText && c.Type != TypeLineBreak {
				return fmt.Errorf("code block contains %q", c.Type)
			}
		}
		return nil
	case TypeList:
		switch b.Tag {
		case ListBullet, ListNumber, ListCheck:
		default:
			return fmt.Errorf("list tag %q", b.Tag)
		}
		for _, item := range b.Children {
			if item.Type != TypeListItem {
				return fmt.Errorf("list contains %q", item.Type)
			}
			if err := validateInline(item.Children); err != nil {
				return err
			}
		}
		return nil
	case TypeHorizontalRule:
		if len(b.Children) > 0 {
			return fmt.Errorf("horizontal rule has children")
		}
		return nil
	default:
		return fmt.Errorf("unknown block type %q", b.Type)
	}
}

func validateInline(children []Node) error {
	for _, c := range children {
		switch c.Type {
		case TypeText, TypeLineBreak:
			if len(c.Children) > 0 {
				return fmt.Errorf("%s node has children", c.Type)
			}
		case TypeLink:
			for _, lc := range c.Children {
				if lc.Type != TypeText {
					return fmt.Errorf("link contains %q", lc.Type)
				}
			}
		default:
			return fmt.Errorf("unexpected inline node %q", c.Type)
		}
	}
	return nil
}

// Marshal serialises content to JSON.
func Marshal(c Content) ([]byte, error) { return json.Marshal(c) }

// Unmarshal deserialises and validates content.
func Unmarshal(data []byte) (Content, error) {
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, err
	}
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON encoding.
func Hash(c Content) string {
	data, err := Marshal(c.Normalize())
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
