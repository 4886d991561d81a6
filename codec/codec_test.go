package codec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/snapshot"
)

func testRegistry() *Registry {
	return New(Config{Now: func() time.Time { return time.UnixMilli(1700000000000) }})
}

func TestSniff(t *testing.T) {
	reg := testRegistry()
	cases := []struct {
		name     string
		wantOK   bool
		wantName string
	}{
		{"report.docx", true, "docx"},
		{"README.MD", true, "markdown"},
		{"notes.markdown", true, "markdown"},
		{"state.json", true, "json"},
		{"page.htm", true, "html"},
		{"legacy.doc", true, "doc"},
		{"archive.tar.gz", false, ""},
		{"Makefile", false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := reg.Sniff(tc.name)
			if ok != tc.wantOK {
				t.Fatalf("Sniff(%q) ok = %v, want %v", tc.name, ok, tc.wantOK)
			}
			if ok && d.Name != tc.wantName {
				t.Errorf("Sniff(%q) = %q, want %q", tc.name, d.Name, tc.wantName)
			}
		})
	}
}

func TestDescriptorsOrder(t *testing.T) {
	got := testRegistry().Descriptors()
	want := []string{"docx", "markdown", "json", "html", "doc"}
	if len(got) != len(want) {
		t.Fatalf("got %d descriptors, want %d", len(got), len(want))
	}
	for i, d := range got {
		if d.Name != want[i] {
			t.Errorf("descriptor %d = %q, want %q", i, d.Name, want[i])
		}
	}
	if d, _ := testRegistry().Lookup("doc"); d.MIMEType != "application/msword" || d.DefaultExtension() != ".doc" {
		t.Errorf("doc descriptor = %+v", d)
	}
}

func TestUnsupportedDirections(t *testing.T) {
	reg := testRegistry()
	if _, err := reg.Encode(snapshot.Empty(), KindRichDoc); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("encode richdoc: got %v, want ErrUnsupportedFormat", err)
	}
	if _, err := reg.Decode(KindHTML, []byte("<p>x</p>")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("decode html: got %v, want ErrUnsupportedFormat", err)
	}
	if _, err := reg.Import(context.Background(), "legacy.doc", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("import .doc: got %v, want ErrUnsupportedFormat", err)
	}
	if _, err := reg.Import(context.Background(), "image.png", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("import .png: got %v, want ErrUnsupportedFormat", err)
	}
}

func TestJSONEnvelope(t *testing.T) {
	reg := testRegistry()
	c := snapshot.New(snapshot.Heading(1, snapshot.Text("Title")))

	data, err := reg.Encode(c, KindJSON)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if doc.Source != snapshot.DefaultProvenance {
		t.Errorf("source = %q", doc.Source)
	}
	if doc.LastSaved != 1700000000000 {
		t.Errorf("lastSaved = %d", doc.LastSaved)
	}
	if doc.Version != snapshot.CurrentVersion {
		t.Errorf("version = %d", doc.Version)
	}
	if !doc.Content().Equal(c) {
		t.Errorf("content mismatch")
	}
}

func TestJSONRoundTripKeepsRuns(t *testing.T) {
	reg := testRegistry()
	c := snapshot.New(
		snapshot.Paragraph(snapshot.Text("Hello "), snapshot.Text("world"), snapshot.Text("")),
		snapshot.List(snapshot.ListNumber, snapshot.Item(snapshot.Text("one"))),
	)
	c.Root.Children[1].Start = 1

	data, err := reg.Encode(c, KindJSON)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := reg.Decode(KindJSON, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(c) {
		t.Fatalf("round trip not exact: got %+v", got.Blocks())
	}
	if n := len(got.Blocks()[0].Children); n != 3 {
		t.Errorf("runs = %d, want 3", n)
	}
}

func TestJSONMalformed(t *testing.T) {
	reg := testRegistry()
	cases := map[string]string{
		"not json":     "{nope",
		"missing root": `{"editorState":{},"source":"Playground"}`,
		"bad root":     `{"editorState":{"root":{"type":"paragraph"}}}`,
		"bad block":    `{"editorState":{"root":{"type":"root","children":[{"type":"text","text":"x"}]}}}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := reg.Decode(KindJSON, []byte(input))
			if !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("got %v, want ErrMalformedInput", err)
			}
			if len(c.Blocks()) != 0 {
				t.Errorf("partial content returned: %+v", c)
			}
		})
	}
}

func TestMarkdownToJSONAndBack(t *testing.T) {
	reg := testRegistry()
	ctx := context.Background()

	c, err := reg.Import(ctx, "doc.md", strings.NewReader("# Title\n\nSome text"))
	if err != nil {
		t.Fatalf("import md: %v", err)
	}
	want := snapshot.New(
		snapshot.Heading(1, snapshot.Text("Title")),
		snapshot.Paragraph(snapshot.Text("Some text")),
	)
	if !c.Equal(want) {
		t.Fatalf("markdown import mismatch: %+v", c)
	}

	data, err := reg.Encode(c, KindJSON)
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	back, err := reg.Import(ctx, "export.json", strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("import json: %v", err)
	}
	if !back.Equal(c) {
		t.Errorf("json reimport differs from original")
	}
}

func TestClipboard(t *testing.T) {
	reg := testRegistry()
	c := snapshot.New(
		snapshot.Heading(2, snapshot.Text("Hello")),
		snapshot.Paragraph(snapshot.Styled("world", snapshot.FormatBold)),
	)
	clip, err := reg.Clipboard(c)
	if err != nil {
		t.Fatalf("clipboard: %v", err)
	}
	if clip.HTML != "<h2>Hello</h2><p><strong>world</strong></p>" {
		t.Errorf("html = %q", clip.HTML)
	}
	if clip.PlainText != "Hello\n\nworld" {
		t.Errorf("plain = %q", clip.PlainText)
	}
}

func TestDecodeTooLarge(t *testing.T) {
	reg := New(Config{MaxInputSize: 8})
	if _, err := reg.Decode(KindMarkdown, []byte("0123456789")); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("got %v, want ErrMalformedInput", err)
	}
}

func TestConnectivityPayloadShapes(t *testing.T) {
	reg := testRegistry()
	ctx := context.Background()

	out, err := reg.handleSniff(ctx, []byte(`{"name":"x.md"}`))
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	var d Descriptor
	if err := json.Unmarshal(out, &d); err != nil || d.Kind != KindMarkdown {
		t.Fatalf("sniff response %s (%v)", out, err)
	}

	root := snapshot.New(snapshot.Paragraph(snapshot.Text("hi"))).Root
	payload, _ := json.Marshal(encodeReq{Kind: KindMarkdown, Content: root})
	out, err = reg.handleEncode(ctx, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var enc struct {
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(out, &enc); err != nil || string(enc.Data) != "hi" {
		t.Fatalf("encode response %s (%v)", out, err)
	}

	payload, _ = json.Marshal(decodeReq{Kind: KindMarkdown, Data: []byte("# T")})
	out, err = reg.handleDecode(ctx, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var dec struct {
		Content snapshot.Node `json:"content"`
	}
	if err := json.Unmarshal(out, &dec); err != nil {
		t.Fatal(err)
	}
	if got := (snapshot.Content{Root: dec.Content}); !got.Equal(snapshot.New(snapshot.Heading(1, snapshot.Text("T")))) {
		t.Errorf("decode response %s", out)
	}
}
