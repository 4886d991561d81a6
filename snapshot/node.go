// CLAUDE:SUMMARY Node tree types (blocks and inline runs) that make up the opaque document content.
package snapshot

import "strings"

// Node types.
const (
	TypeRoot           = "root"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeQuote          = "quote"
	TypeCode           = "code"
	TypeList           = "list"
	TypeListItem       = "listitem"
	TypeHorizontalRule = "horizontalrule"
	TypeText           = "text"
	TypeLineBreak      = "linebreak"
	TypeLink           = "link"
)

// List tags.
const (
	ListBullet = "bullet"
	ListNumber = "number"
	ListCheck  = "check"
)

// Format is the text format bitmask carried by text nodes.
type Format int

const (
	FormatBold          Format = 1
	FormatItalic        Format = 1 << 1
	FormatStrikethrough Format = 1 << 2
	FormatUnderline     Format = 1 << 3
	FormatCode          Format = 1 << 4
)

// Has reports whether every bit of flag is set.
func (f Format) Has(flag Format) bool { return f&flag == flag }

// Node is one element of the document tree. Block nodes live directly under
// the root; inline nodes (text, linebreak, link) live under blocks.
type Node struct {
	Type     string `json:"type"`
	Tag      string `json:"tag,omitempty"`      // h1..h6 for headings, bullet|number|check for lists
	Language string `json:"language,omitempty"` // code blocks
	Text     string `json:"text,omitempty"`
	Format   Format `json:"format,omitempty"`
	URL      string `json:"url,omitempty"`
	Checked  bool   `json:"checked,omitempty"`
	Start    int    `json:"start,omitempty"` // first number of an ordered list
	Children []Node `json:"children,omitempty"`
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	if len(n.Children) > 0 {
		out.Children = make([]Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	} else {
		out.Children = nil
	}
	return out
}

// Equal compares two nodes structurally. Nil and empty child lists are equal.
func (n Node) Equal(o Node) bool {
	if n.Type != o.Type || n.Tag != o.Tag || n.Language != o.Language ||
		n.Text != o.Text || n.Format != o.Format || n.URL != o.URL ||
		n.Checked != o.Checked || n.Start != o.Start {
		return false
	}
	if len(n.Children) != len(o.Children) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// IsBlock reports whether the node type may appear directly under the root.
func (n Node) IsBlock() bool {
	switch n.Type {
	case TypeParagraph, TypeHeading, TypeQuote, TypeCode, TypeList, TypeHorizontalRule:
		return true
	}
	return false
}

// HeadingLevel returns 1..6 for heading nodes, 0 otherwise.
func (n Node) HeadingLevel() int {
	if n.Type != TypeHeading || len(n.Tag) != 2 || n.Tag[0] != 'h' {
		return 0
	}
	if l := int(n.Tag[1] - '0'); l >= 1 && l <= 6 {
		return l
	}
	return 0
}

// TextContent returns the plain text of the subtree.
func (n Node) TextContent() string {
	switch n.Type {
	case TypeText:
		return n.Text
	case TypeLineBreak:
		return "\n"
	case TypeHorizontalRule:
		return ""
	case TypeList:
		items := make([]string, len(n.Children))
		for i, c := range n.Children {
			items[i] = c.TextContent()
		}
		return strings.Join(items, "\n")
	}
	var sb strings.Builder
	for _, c := range n.Children {
		sb.WriteString(c.TextContent())
	}
	return sb.String()
}

// normalizeInline drops empty text runs and merges adjacent runs sharing a
// format. A list start of 1 or less is stored as 0.
func normalizeInline(children []Node) []Node {
	var out []Node
	for _, c := range children {
		switch c.Type {
		case TypeText:
			if c.Text == "" {
				continue
			}
			if last := len(out) - 1; last >= 0 && out[last].Type == TypeText && out[last].Format == c.Format {
				out[last].Text += c.Text
				continue
			}
			c.Children = nil
		case TypeList:
			if c.Start <= 1 {
				c.Start = 0
			}
			c.Children = normalizeInline(c.Children)
		case TypeLink, TypeListItem, TypeParagraph, TypeHeading, TypeQuote:
			c.Children = normalizeInline(c.Children)
		case TypeCode:
			c.Children = normalizeInline(c.Children)
		default:
			c.Children = nil
		}
		out = append(out, c)
	}
	return out
}

// Constructors used by codecs and tests.

// Text returns a plain text run.
func Text(s string) Node { return Node{Type: TypeText, Text: s} }

// Styled returns a text run with the given format.
func Styled(s string, f Format) Node { return Node{Type: TypeText, Text: s, Format: f} }

// LineBreak returns a soft line break.
func LineBreak() Node { return Node{Type: TypeLineBreak} }

// Link returns a link wrapping the given runs.
func Link(url string, children ...Node) Node {
	return Node{Type: TypeLink, URL: url, Children: children}
}

// Paragraph returns a paragraph block.
func Paragraph(children ...Node) Node { return Node{Type: TypeParagraph, Children: children} }

// Heading returns a heading block of the given level (clamped to 1..6).
func Heading(level int, children ...Node) Node {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return Node{Type: TypeHeading, Tag: "h" + string(rune('0'+level)), Children: children}
}

// Quote returns a quote block.
func Quote(children ...Node) Node { return Node{Type: TypeQuote, Children: children} }

// Code returns a code block holding raw text.
func Code(language, text string) Node {
	n := Node{Type: TypeCode, Language: language}
	if text != "" {
		n.Children = []Node{Text(text)}
	}
	return n
}

// List returns a list block of the given kind.
func List(tag string, items ...Node) Node { return Node{Type: TypeList, Tag: tag, Children: items} }

// Item returns a list item.
func Item(children ...Node) Node { return Node{Type: TypeListItem, Children: children} }

// HorizontalRule returns a thematic break.
func HorizontalRule() Node { return Node{Type: TypeHorizontalRule} }
