// CLAUDE:SUMMARY HTML codec: renders content with x/net/html and sanitizes the output with a strict bluemonday policy.
package codec

import (
	"bytes"
	"regexp"
	"strconv"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/docsync/snapshot"
)

// ClipboardData is the dual payload written on copy.
type ClipboardData struct {
	HTML      string `json:"html"`
	PlainText string `json:"plain_text"`
}

// exportPolicy allows exactly the markup the HTML encoder produces.
func exportPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "code",
		"ul", "ol", "li", "hr", "br", "strong", "em", "s", "u", "a")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(false)
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^(language-[\w+#.-]+|checklist)$`)).OnElements("code", "ul")
	p.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")
	p.AllowAttrs("role").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("li")
	p.AllowAttrs("aria-checked").Matching(regexp.MustCompile(`^(true|false)$`)).OnElements("li")
	return p
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func textNode(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

// encodeHTML renders blocks to sanitized HTML.
func (r *Registry) encodeHTML(c snapshot.Content) ([]byte, error) {
	var buf bytes.Buffer
	for _, b := range c.Normalize().Blocks() {
		if err := html.Render(&buf, blockNode(b)); err != nil {
			return nil, err
		}
	}
	return r.policy.SanitizeBytes(buf.Bytes()), nil
}

func blockNode(b snapshot.Node) *html.Node {
	var n *html.Node
	switch b.Type {
	case snapshot.TypeHeading:
		n = element(atom.Lookup([]byte(b.Tag)))
		appendInline(n, b.Children)
	case snapshot.TypeQuote:
		n = element(atom.Blockquote)
		appendInline(n, b.Children)
	case snapshot.TypeCode:
		n = element(atom.Pre)
		code := element(atom.Code)
		if b.Language != "" {
			code.Attr = []html.Attribute{{Key: "class", Val: "language-" + b.Language}}
		}
		code.AppendChild(textNode(b.TextContent()))
		n.AppendChild(code)
	case snapshot.TypeHorizontalRule:
		n = element(atom.Hr)
	case snapshot.TypeList:
		n = listNode(b)
	default:
		n = element(atom.P)
		if len(b.Children) == 0 {
			n.AppendChild(element(atom.Br))
		}
		appendInline(n, b.Children)
	}
	return n
}

func listNode(b snapshot.Node) *html.Node {
	var n *html.Node
	switch b.Tag {
	case snapshot.ListNumber:
		n = element(atom.Ol)
		if b.Start > 1 {
			n.Attr = []html.Attribute{{Key: "start", Val: strconv.Itoa(b.Start)}}
		}
	case snapshot.ListCheck:
		n = element(atom.Ul, html.Attribute{Key: "class", Val: "checklist"})
	default:
		n = element(atom.Ul)
	}
	for _, item := range b.Children {
		li := element(atom.Li)
		if b.Tag == snapshot.ListCheck {
			li.Attr = []html.Attribute{
				{Key: "role", Val: "checkbox"},
				{Key: "aria-checked", Val: strconv.FormatBool(item.Checked)},
			}
		}
		appendInline(li, item.Children)
		n.AppendChild(li)
	}
	return n
}

func appendInline(parent *html.Node, children []snapshot.Node) {
	for _, c := range children {
		switch c.Type {
		case snapshot.TypeText:
			parent.AppendChild(runNode(c.Text, c.Format))
		case snapshot.TypeLineBreak:
			parent.AppendChild(element(atom.Br))
		case snapshot.TypeLink:
			a := element(atom.A, html.Attribute{Key: "href", Val: c.URL})
			appendInline(a, c.Children)
			parent.AppendChild(a)
		}
	}
}

// runNode wraps a text run in one element per format bit, outermost first.
func runNode(text string, f snapshot.Format) *html.Node {
	wrappers := []struct {
		flag snapshot.Format
		tag  atom.Atom
	}{
		{snapshot.FormatBold, atom.Strong},
		{snapshot.FormatItalic, atom.Em},
		{snapshot.FormatStrikethrough, atom.S},
		{snapshot.FormatUnderline, atom.U},
		{snapshot.FormatCode, atom.Code},
	}
	var root, leaf *html.Node
	for _, w := range wrappers {
		if !f.Has(w.flag) {
			continue
		}
		el := element(w.tag)
		if leaf == nil {
			root = el
		} else {
			leaf.AppendChild(el)
		}
		leaf = el
	}
	t := textNode(text)
	if leaf == nil {
		return t
	}
	leaf.AppendChild(t)
	return root
}
