// CLAUDE:SUMMARY Markdown codec: line-oriented block rules (fence, heading, quote, rule, lists) with inline formatting and link rules.
package codec

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/docsync/snapshot"
)

// Markdown converts content to and from Markdown text.
//
// With PreserveNewLines off, every line break in the input starts a new
// paragraph. With it on, single newlines inside a paragraph become line
// breaks and runs of blank lines beyond the block separator become empty
// paragraphs, so empty paragraphs survive a round trip.
type Markdown struct {
	PreserveNewLines bool
}

var (
	reHeading  = regexp.MustCompile(`^(#{1,6}) (.*)$`)
	reQuote    = regexp.MustCompile(`^> ?(.*)$`)
	reCheck    = regexp.MustCompile(`^[-*+] \[( |x|X)\] (.*)$`)
	reBullet   = regexp.MustCompile(`^[-*+] (.*)$`)
	reOrdered  = regexp.MustCompile(`^(\d{1,9})\. (.*)$`)
	reFenceTop = regexp.MustCompile("^(`{3,})([\\w+#.-]*)\\s*$")
)

// blockRule recognizes one block kind. parse consumes lines starting at i and
// returns the block and the index of the first unconsumed line.
type blockRule struct {
	name  string
	match func(line string) bool
	parse func(md Markdown, lines []string, i int) (snapshot.Node, int)
}

// blockRules are tried in order; paragraph is the fallback.
var blockRules = []blockRule{
	{name: "code", match: isFence, parse: parseFence},
	{name: "heading", match: reHeading.MatchString, parse: parseHeading},
	{name: "quote", match: reQuote.MatchString, parse: parseQuote},
	{name: "rule", match: isRule, parse: parseRule},
	{name: "check", match: reCheck.MatchString, parse: parseCheckList},
	{name: "bullet", match: reBullet.MatchString, parse: parseBulletList},
	{name: "ordered", match: reOrdered.MatchString, parse: parseOrderedList},
}

func isFence(line string) bool { return reFenceTop.MatchString(line) }

func isRule(line string) bool {
	switch strings.TrimSpace(line) {
	case "---", "***", "___":
		return true
	}
	return false
}

func isBlank(line string) bool { return strings.TrimSpace(line) == "" }

// startsBlock reports whether line would be claimed by a non-paragraph rule.
func startsBlock(line string) bool {
	for _, r := range blockRules {
		if r.match(line) {
			return true
		}
	}
	return false
}

// Decode parses Markdown into content. It never fails: any text is a valid
// Markdown document. An input with no blocks yields one empty paragraph.
func (md Markdown) Decode(input string) snapshot.Content {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	input = strings.ReplaceAll(input, "\r", "\n")
	lines := strings.Split(input, "\n")

	var blocks []snapshot.Node
	blank := 0
	flushBlank := func(last bool) {
		if md.PreserveNewLines && blank > 0 {
			n := (blank - 1) / 2
			switch {
			case len(blocks) == 0 && last:
				n = (blank + 1) / 2
			case len(blocks) == 0 || last:
				n = blank / 2
			}
			for range n {
				blocks = append(blocks, snapshot.Paragraph())
			}
		}
		blank = 0
	}

	for i := 0; i < len(lines); {
		line := lines[i]
		if isBlank(line) {
			blank++
			i++
			continue
		}
		flushBlank(false)

		var (
			block snapshot.Node
			next  int
		)
		matched := false
		for _, r := range blockRules {
			if r.match(line) {
				block, next = r.parse(md, lines, i)
				matched = true
				break
			}
		}
		if !matched {
			block, next = parseParagraph(md, lines, i)
		}
		blocks = append(blocks, block)
		i = next
	}
	flushBlank(true)

	if len(blocks) == 0 {
		blocks = append(blocks, snapshot.Paragraph())
	}
	return snapshot.New(blocks...).Normalize()
}

func parseFence(_ Markdown, lines []string, i int) (snapshot.Node, int) {
	m := reFenceTop.FindStringSubmatch(lines[i])
	fence, lang := len(m[1]), m[2]
	var body []string
	j := i + 1
	for ; j < len(lines); j++ {
		if n := fenceLen(lines[j]); n >= fence {
			j++
			break
		}
		body = append(body, lines[j])
	}
	return snapshot.Code(lang, strings.Join(body, "\n")), j
}

// fenceLen returns the length of a line made only of backticks (trailing
// blanks ignored), or 0.
func fenceLen(line string) int {
	t := strings.TrimRight(line, " \t")
	if t == "" || strings.Trim(t, "`") != "" {
		return 0
	}
	return len(t)
}

// codeFence returns a backtick fence longer than any fence-like line in body.
func codeFence(body string) string {
	n := 3
	for _, line := range strings.Split(body, "\n") {
		if l := fenceLen(line); l >= n {
			n = l + 1
		}
	}
	return strings.Repeat("`", n)
}

func parseHeading(_ Markdown, lines []string, i int) (snapshot.Node, int) {
	m := reHeading.FindStringSubmatch(lines[i])
	return snapshot.Heading(len(m[1]), parseInline(m[2], 0)...), i + 1
}

func parseQuote(_ Markdown, lines []string, i int) (snapshot.Node, int) {
	var children []snapshot.Node
	j := i
	for ; j < len(lines); j++ {
		m := reQuote.FindStringSubmatch(lines[j])
		if m == nil {
			break
		}
		if j > i {
			children = append(children, snapshot.LineBreak())
		}
		children = append(children, parseInline(m[1], 0)...)
	}
	return snapshot.Quote(children...), j
}

func parseRule(_ Markdown, _ []string, i int) (snapshot.Node, int) {
	return snapshot.HorizontalRule(), i + 1
}

func parseCheckList(_ Markdown, lines []string, i int) (snapshot.Node, int) {
	var items []snapshot.Node
	j := i
	for ; j < len(lines); j++ {
		m := reCheck.FindStringSubmatch(lines[j])
		if m == nil {
			break
		}
		item := snapshot.Item(parseInline(m[2], 0)...)
		item.Checked = m[1] != " "
		items = append(items, item)
	}
	return snapshot.List(snapshot.ListCheck, items...), j
}

func parseBulletList(_ Markdown, lines []string, i int) (snapshot.Node, int) {
	var items []snapshot.Node
	j := i
	for ; j < len(lines); j++ {
		if reCheck.MatchString(lines[j]) {
			break
		}
		m := reBullet.FindStringSubmatch(lines[j])
		if m == nil {
			break
		}
		items = append(items, snapshot.Item(parseInline(m[1], 0)...))
	}
	return snapshot.List(snapshot.ListBullet, items...), j
}

func parseOrderedList(_ Markdown, lines []string, i int) (snapshot.Node, int) {
	var items []snapshot.Node
	start := 0
	j := i
	for ; j < len(lines); j++ {
		m := reOrdered.FindStringSubmatch(lines[j])
		if m == nil {
			break
		}
		if j == i {
			if n, err := strconv.Atoi(m[1]); err == nil && n != 1 {
				start = n
			}
		}
		items = append(items, snapshot.Item(parseInline(m[2], 0)...))
	}
	list := snapshot.List(snapshot.ListNumber, items...)
	list.Start = start
	return list, j
}

// parseParagraph consumes one line, or with PreserveNewLines every line up to
// the next blank line or block start, joined by line breaks.
func parseParagraph(md Markdown, lines []string, i int) (snapshot.Node, int) {
	children := parseInline(lines[i], 0)
	j := i + 1
	if md.PreserveNewLines {
		for ; j < len(lines); j++ {
			if isBlank(lines[j]) || startsBlock(lines[j]) {
				break
			}
			children = append(children, snapshot.LineBreak())
			children = append(children, parseInline(lines[j], 0)...)
		}
	}
	return snapshot.Paragraph(children...), j
}

// Encode renders content as Markdown. Blocks are separated by a blank line.
func (md Markdown) Encode(c snapshot.Content) string {
	blocks := c.Normalize().Blocks()
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = md.encodeBlock(b)
	}
	return strings.Join(parts, "\n\n")
}

func (md Markdown) encodeBlock(b snapshot.Node) string {
	switch b.Type {
	case snapshot.TypeHeading:
		return strings.Repeat("#", b.HeadingLevel()) + " " + encodeInline(b.Children)
	case snapshot.TypeQuote:
		lines := splitLines(b.Children)
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = "> " + encodeInline(l)
		}
		return strings.Join(out, "\n")
	case snapshot.TypeCode:
		text := b.TextContent()
		fence := codeFence(text)
		return fence + b.Language + "\n" + text + "\n" + fence
	case snapshot.TypeHorizontalRule:
		return "---"
	case snapshot.TypeList:
		return encodeList(b)
	default:
		lines := splitLines(b.Children)
		out := make([]string, len(lines))
		for i, l := range lines {
			s := encodeInline(l)
			if startsBlock(s) {
				at := len(s) - len(strings.TrimLeft(s, " \t"))
				s = s[:at] + `\` + s[at:]
			}
			out[i] = s
		}
		return strings.Join(out, "\n")
	}
}

func encodeList(b snapshot.Node) string {
	start := b.Start
	if start < 1 {
		start = 1
	}
	lines := make([]string, len(b.Children))
	for i, item := range b.Children {
		text := encodeInline(item.Children)
		switch b.Tag {
		case snapshot.ListNumber:
			lines[i] = strconv.Itoa(start+i) + ". " + text
		case snapshot.ListCheck:
			mark := " "
			if item.Checked {
				mark = "x"
			}
			lines[i] = "- [" + mark + "] " + text
		default:
			lines[i] = "- " + text
		}
	}
	return strings.Join(lines, "\n")
}

// splitLines splits inline children at line breaks. It always returns at
// least one (possibly empty) line.
func splitLines(children []snapshot.Node) [][]snapshot.Node {
	lines := [][]snapshot.Node{nil}
	for _, c := range children {
		if c.Type == snapshot.TypeLineBreak {
			lines = append(lines, nil)
			continue
		}
		lines[len(lines)-1] = append(lines[len(lines)-1], c)
	}
	return lines
}
