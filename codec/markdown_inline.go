package codec

import (
	"strings"

	"github.com/hazyhaar/docsync/snapshot"
)

// inlineMarkers are tried longest first so "***" wins over "**" and "*".
var inlineMarkers = []struct {
	marker string
	format snapshot.Format
}{
	{"***", snapshot.FormatBold | snapshot.FormatItalic},
	{"**", snapshot.FormatBold},
	{"~~", snapshot.FormatStrikethrough},
	{"*", snapshot.FormatItalic},
}

func isEscapable(b byte) bool {
	return (b >= '!' && b <= '/') || (b >= ':' && b <= '@') ||
		(b >= '[' && b <= '`') || (b >= '{' && b <= '~') || (b >= '0' && b <= '9')
}

// findClose returns the index of the first unescaped occurrence of marker in
// s at or after from, or -1. Code spans are skipped whole.
func findClose(s string, from int, marker string) int {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
			continue
		case '`':
			if _, end, ok := codeSpan(s, j); ok {
				j = end - 1
			} else {
				j += tickRun(s, j) - 1
			}
			continue
		}
		if strings.HasPrefix(s[j:], marker) {
			return j
		}
	}
	return -1
}

// tickRun returns the number of backticks starting at s[i].
func tickRun(s string, i int) int {
	n := 0
	for i+n < len(s) && s[i+n] == '`' {
		n++
	}
	return n
}

// codeSpan parses a code span opening at s[i]: a run of n backticks closed by
// the next run of exactly n. One padding space is stripped from each side
// when both are present and the body is not all spaces.
func codeSpan(s string, i int) (text string, end int, ok bool) {
	n := tickRun(s, i)
	for j := i + n; j < len(s); {
		if s[j] != '`' {
			j++
			continue
		}
		m := tickRun(s, j)
		if m == n {
			text = s[i+n : j]
			if len(text) >= 2 && text[0] == ' ' && text[len(text)-1] == ' ' && strings.Trim(text, " ") != "" {
				text = text[1 : len(text)-1]
			}
			return text, j + m, true
		}
		j += m
	}
	return "", 0, false
}

// parseInline parses one line of inline Markdown under the inherited format.
func parseInline(s string, f snapshot.Format) []snapshot.Node {
	var (
		out []snapshot.Node
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, snapshot.Styled(buf.String(), f))
			buf.Reset()
		}
	}

	for i := 0; i < len(s); {
		c := s[i]
		if c == '\\' && i+1 < len(s) && isEscapable(s[i+1]) {
			buf.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '`' {
			if text, end, ok := codeSpan(s, i); ok {
				flush()
				out = append(out, snapshot.Styled(text, f|snapshot.FormatCode))
				i = end
				continue
			}
			n := tickRun(s, i)
			buf.WriteString(s[i : i+n])
			i += n
			continue
		}
		if c == '[' {
			if node, next, ok := parseLink(s, i, f); ok {
				flush()
				out = append(out, node)
				i = next
				continue
			}
		}
		if c == '*' || c == '~' {
			if nodes, next, ok := parseEmphasis(s, i, f); ok {
				flush()
				out = append(out, nodes...)
				i = next
				continue
			}
		}
		buf.WriteByte(c)
		i++
	}
	flush()
	return out
}

func parseEmphasis(s string, i int, f snapshot.Format) ([]snapshot.Node, int, bool) {
	for _, m := range inlineMarkers {
		if !strings.HasPrefix(s[i:], m.marker) {
			continue
		}
		inner := i + len(m.marker)
		j := findClose(s, inner, m.marker)
		if j < 0 || j == inner {
			continue
		}
		return parseInline(s[inner:j], f|m.format), j + len(m.marker), true
	}
	return nil, 0, false
}

func parseLink(s string, i int, f snapshot.Format) (snapshot.Node, int, bool) {
	j := findClose(s, i+1, "]")
	if j < 0 || j+1 >= len(s) || s[j+1] != '(' {
		return snapshot.Node{}, 0, false
	}
	var url strings.Builder
	for k := j + 2; k < len(s); k++ {
		switch {
		case s[k] == '\\' && k+1 < len(s) && isEscapable(s[k+1]):
			k++
			url.WriteByte(s[k])
		case s[k] == ')':
			return snapshot.Link(url.String(), parseInline(s[i+1:j], f)...), k + 1, true
		default:
			url.WriteByte(s[k])
		}
	}
	return snapshot.Node{}, 0, false
}

// escapeText escapes every character the inline parser treats as syntax.
func escapeText(s string) string { return escape(s, "\\*~`[]") }

// escapeURL also escapes parentheses so the destination ends at the first
// bare ")".
func escapeURL(s string) string { return escape(s, "\\*~`[]()") }

func escape(s, special string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(special, s[i]) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func encodeInline(children []snapshot.Node) string {
	var sb strings.Builder
	for _, c := range children {
		switch c.Type {
		case snapshot.TypeText:
			sb.WriteString(encodeRun(c.Text, c.Format))
		case snapshot.TypeLink:
			sb.WriteString("[" + encodeInline(c.Children) + "](" + escapeURL(c.URL) + ")")
		case snapshot.TypeLineBreak:
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func encodeRun(text string, f snapshot.Format) string {
	var s string
	if f.Has(snapshot.FormatCode) {
		s = encodeCodeSpan(text)
	} else {
		s = escapeText(text)
	}
	switch {
	case f.Has(snapshot.FormatBold | snapshot.FormatItalic):
		s = "***" + s + "***"
	case f.Has(snapshot.FormatBold):
		s = "**" + s + "**"
	case f.Has(snapshot.FormatItalic):
		s = "*" + s + "*"
	}
	if f.Has(snapshot.FormatStrikethrough) {
		s = "~~" + s + "~~"
	}
	return s
}

// encodeCodeSpan fences text with one backtick more than its longest run and
// pads it when the body would otherwise be misread.
func encodeCodeSpan(text string) string {
	if text == "" {
		return ""
	}
	longest := 0
	for i := 0; i < len(text); {
		if text[i] != '`' {
			i++
			continue
		}
		n := tickRun(text, i)
		longest = max(longest, n)
		i += n
	}
	fence := strings.Repeat("`", longest+1)
	pad := text[0] == '`' || text[len(text)-1] == '`' ||
		(text[0] == ' ' && text[len(text)-1] == ' ' && strings.Trim(text, " ") != "")
	if pad {
		text = " " + text + " "
	}
	return fence + text + fence
}
