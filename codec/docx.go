// CLAUDE:SUMMARY Rich-document (.docx) import: word/document.xml to HTML, sanitized and flattened to one paragraph per non-empty line.
package codec

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/docsync/snapshot"
)

// flattenPolicy keeps only block structure: the import takes text content,
// so inline formatting and attributes are discarded.
func flattenPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "div")
	return p
}

// decodeRichDoc converts a .docx archive into paragraphs of plain text.
func (r *Registry) decodeRichDoc(data []byte) (snapshot.Content, error) {
	markup, err := docxToHTML(data)
	if err != nil {
		return snapshot.Content{}, err
	}
	text, err := flattenHTML(r.flatten.Sanitize(markup))
	if err != nil {
		return snapshot.Content{}, malformed("docx: %v", err)
	}

	var blocks []snapshot.Node
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			blocks = append(blocks, snapshot.Paragraph(snapshot.Text(line)))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, snapshot.Paragraph())
	}
	return snapshot.New(blocks...), nil
}

// docxToHTML reads word/document.xml and renders each w:p as a block element.
func docxToHTML(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", malformed("docx: open zip: %v", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", malformed("docx: word/document.xml not found in archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", malformed("docx: open document.xml: %v", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var (
		out            strings.Builder
		para           strings.Builder
		inParagraph    bool
		inText         bool
		paragraphStyle string
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", malformed("docx: document.xml: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "p":
				inParagraph = true
				para.Reset()
				paragraphStyle = ""
			case t.Name.Local == "pStyle" && inParagraph:
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						paragraphStyle = attr.Value
					}
				}
			case t.Name.Local == "t" && inParagraph:
				inText = true
			case (t.Name.Local == "br" || t.Name.Local == "cr") && inParagraph:
				para.WriteString("<br>")
			case t.Name.Local == "tab" && inParagraph:
				para.WriteByte('\t')
			}

		case xml.CharData:
			if inText {
				para.WriteString(html.EscapeString(string(t)))
			}

		case xml.EndElement:
			switch {
			case t.Name.Local == "t":
				inText = false
			case t.Name.Local == "p" && inParagraph:
				inParagraph = false
				tag := "p"
				if level := docxHeadingLevel(paragraphStyle); level > 0 {
					tag = fmt.Sprintf("h%d", level)
				}
				fmt.Fprintf(&out, "<%s>%s</%s>", tag, para.String(), tag)
			}
		}
	}
	return out.String(), nil
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Title" → 1, "Subtitle" → 2.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)
	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

// flattenHTML returns the text content of markup with a newline at every
// block boundary and line break.
func flattenHTML(markup string) (string, error) {
	doc, err := nethtml.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(n *nethtml.Node)
	walk = func(n *nethtml.Node) {
		switch n.Type {
		case nethtml.TextNode:
			sb.WriteString(n.Data)
			return
		case nethtml.ElementNode:
			if n.DataAtom == atom.Br {
				sb.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == nethtml.ElementNode && isFlattenBlock(n.DataAtom) {
			sb.WriteByte('\n')
		}
	}
	walk(doc)
	return sb.String(), nil
}

func isFlattenBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li, atom.Div:
		return true
	}
	return false
}
