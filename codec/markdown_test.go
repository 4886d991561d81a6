package codec

import (
	"testing"

	"github.com/hazyhaar/docsync/snapshot"
)

func richDoc() snapshot.Content {
	check := snapshot.List(snapshot.ListCheck,
		snapshot.Item(snapshot.Text("done")),
		snapshot.Item(snapshot.Text("todo")),
	)
	check.Children[0].Checked = true
	ordered := snapshot.List(snapshot.ListNumber,
		snapshot.Item(snapshot.Text("three")),
		snapshot.Item(snapshot.Text("four")),
	)
	ordered.Start = 3

	return snapshot.New(
		snapshot.Heading(1, snapshot.Text("Title")),
		snapshot.Paragraph(
			snapshot.Text("plain "),
			snapshot.Styled("bold", snapshot.FormatBold),
			snapshot.Text(" and "),
			snapshot.Styled("it", snapshot.FormatItalic),
			snapshot.Text(" "),
			snapshot.Styled("both", snapshot.FormatBold|snapshot.FormatItalic),
			snapshot.Text(" "),
			snapshot.Styled("gone", snapshot.FormatStrikethrough),
			snapshot.Text(" "),
			snapshot.Styled("x := 1", snapshot.FormatCode),
			snapshot.Text(" see "),
			snapshot.Link("https://example.com", snapshot.Text("site")),
		),
		snapshot.Quote(snapshot.Text("quoted"), snapshot.LineBreak(), snapshot.Text("second")),
		snapshot.Code("go", "func main() {\n}\n"),
		snapshot.HorizontalRule(),
		snapshot.List(snapshot.ListBullet, snapshot.Item(snapshot.Text("one")), snapshot.Item(snapshot.Text("two"))),
		ordered,
		check,
		snapshot.Paragraph(snapshot.Text(`# not a heading * star [x] \ back`)),
		snapshot.Paragraph(snapshot.Text("1. not a list")),
		snapshot.Paragraph(snapshot.Text("---")),
		snapshot.Heading(3, snapshot.Styled("bold", snapshot.FormatBold), snapshot.Styled("strong", snapshot.FormatBold|snapshot.FormatStrikethrough)),
	)
}

func TestMarkdownRoundTrip(t *testing.T) {
	for _, preserve := range []bool{false, true} {
		md := Markdown{PreserveNewLines: preserve}
		doc := richDoc()

		text := md.Encode(doc)
		got := md.Decode(text)
		if !got.Equal(doc.Normalize()) {
			t.Fatalf("preserve=%v: decode(encode(doc)) differs\nmarkdown:\n%s\ngot: %+v", preserve, text, got.Blocks())
		}
		if again := md.Encode(got); again != text {
			t.Errorf("preserve=%v: encode not a fixed point\nfirst:\n%s\nsecond:\n%s", preserve, text, again)
		}
	}
}

func TestMarkdownRoundTripSyntaxInContent(t *testing.T) {
	numbered := snapshot.List(snapshot.ListNumber, snapshot.Item(snapshot.Text("first")))
	numbered.Start = 1

	cases := []struct {
		name string
		doc  snapshot.Content
	}{
		{"backtick in code run", snapshot.New(snapshot.Paragraph(snapshot.Text("run "), snapshot.Styled("a`b", snapshot.FormatCode)))},
		{"code run is a backtick", snapshot.New(snapshot.Paragraph(snapshot.Styled("`", snapshot.FormatCode)))},
		{"padded code run", snapshot.New(snapshot.Paragraph(snapshot.Styled(" x ", snapshot.FormatCode)))},
		{"bold code run", snapshot.New(snapshot.Paragraph(snapshot.Styled("x", snapshot.FormatBold|snapshot.FormatCode)))},
		{"link with paren", snapshot.New(snapshot.Paragraph(snapshot.Link("http://x/(y)", snapshot.Text("t"))))},
		{"link with star", snapshot.New(snapshot.Paragraph(snapshot.Styled("a ", snapshot.FormatItalic), snapshot.Link("http://x/*", snapshot.Text("t"))))},
		{"fence inside code block", snapshot.New(snapshot.Code("md", "before\n```\nafter"), snapshot.Paragraph(snapshot.Text("tail")))},
		{"numbered list from one", snapshot.New(numbered)},
	}
	for _, tc := range cases {
		for _, preserve := range []bool{false, true} {
			md := Markdown{PreserveNewLines: preserve}
			text := md.Encode(tc.doc)
			got := md.Decode(text)
			if !got.Equal(tc.doc.Normalize()) {
				t.Errorf("%s preserve=%v: %q decoded to %+v", tc.name, preserve, text, got.Blocks())
				continue
			}
			if again := md.Encode(got); again != text {
				t.Errorf("%s preserve=%v: encode not a fixed point: %q then %q", tc.name, preserve, text, again)
			}
		}
	}
}

func TestMarkdownEncode(t *testing.T) {
	md := Markdown{}
	got := md.Encode(snapshot.New(
		snapshot.Heading(2, snapshot.Text("Sub")),
		snapshot.Paragraph(snapshot.Text("a "), snapshot.Styled("b", snapshot.FormatBold)),
		snapshot.List(snapshot.ListBullet, snapshot.Item(snapshot.Text("x"))),
	))
	want := "## Sub\n\na **b**\n\n- x"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestMarkdownDecodeRules(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  snapshot.Content
	}{
		{"empty", "", snapshot.Empty()},
		{"whitespace only", "  \n\n \t", snapshot.Empty()},
		{"heading levels", "###### six", snapshot.New(snapshot.Heading(6, snapshot.Text("six")))},
		{"seven hashes is text", "####### x", snapshot.New(snapshot.Paragraph(snapshot.Text("####### x")))},
		{"hashtag is text", "#tag", snapshot.New(snapshot.Paragraph(snapshot.Text("#tag")))},
		{"unclosed fence", "```\ncode", snapshot.New(snapshot.Code("", "code"))},
		{"fence keeps blank lines", "```sh\na\n\nb\n```", snapshot.New(snapshot.Code("sh", "a\n\nb"))},
		{"star bullets", "* a\n+ b", snapshot.New(snapshot.List(snapshot.ListBullet, snapshot.Item(snapshot.Text("a")), snapshot.Item(snapshot.Text("b"))))},
		{"blank line splits lists", "- a\n\n- b", snapshot.New(
			snapshot.List(snapshot.ListBullet, snapshot.Item(snapshot.Text("a"))),
			snapshot.List(snapshot.ListBullet, snapshot.Item(snapshot.Text("b"))),
		)},
		{"unclosed emphasis is literal", "**bold", snapshot.New(snapshot.Paragraph(snapshot.Text("**bold")))},
		{"crlf", "a\r\n\r\nb", snapshot.New(snapshot.Paragraph(snapshot.Text("a")), snapshot.Paragraph(snapshot.Text("b")))},
		{"rule", "***", snapshot.New(snapshot.HorizontalRule())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Markdown{}.Decode(tc.input)
			if !got.Equal(tc.want) {
				t.Errorf("Decode(%q) = %+v, want %+v", tc.input, got.Blocks(), tc.want.Blocks())
			}
		})
	}
}

func TestMarkdownNewLines(t *testing.T) {
	input := "a\nb\n\n\n\nc"

	collapsed := Markdown{}.Decode(input)
	want := snapshot.New(
		snapshot.Paragraph(snapshot.Text("a")),
		snapshot.Paragraph(snapshot.Text("b")),
		snapshot.Paragraph(snapshot.Text("c")),
	)
	if !collapsed.Equal(want) {
		t.Errorf("collapsed = %+v", collapsed.Blocks())
	}

	preserved := Markdown{PreserveNewLines: true}.Decode(input)
	want = snapshot.New(
		snapshot.Paragraph(snapshot.Text("a"), snapshot.LineBreak(), snapshot.Text("b")),
		snapshot.Paragraph(),
		snapshot.Paragraph(snapshot.Text("c")),
	)
	if !preserved.Equal(want) {
		t.Errorf("preserved = %+v", preserved.Blocks())
	}
}

func TestMarkdownEmptyParagraphsSurvive(t *testing.T) {
	md := Markdown{PreserveNewLines: true}
	docs := []snapshot.Content{
		snapshot.New(snapshot.Paragraph(), snapshot.Paragraph(snapshot.Text("a"))),
		snapshot.New(snapshot.Paragraph(snapshot.Text("a")), snapshot.Paragraph(), snapshot.Paragraph(), snapshot.Paragraph(snapshot.Text("b"))),
		snapshot.New(snapshot.Paragraph(snapshot.Text("a")), snapshot.Paragraph()),
		snapshot.New(snapshot.Paragraph(), snapshot.Paragraph()),
		snapshot.Empty(),
	}
	for i, doc := range docs {
		text := md.Encode(doc)
		if got := md.Decode(text); !got.Equal(doc) {
			t.Errorf("doc %d: %q decoded to %+v", i, text, got.Blocks())
		}
	}
}
