// CLAUDE:SUMMARY Defines Kind and Descriptor types plus the ordered descriptor table used for encoding and import sniffing.
package codec

// Kind identifies a codec.
type Kind string

const (
	KindJSON     Kind = "json"
	KindMarkdown Kind = "markdown"
	KindHTML     Kind = "html"
	KindRichDoc  Kind = "richdoc"
)

// Descriptor names a concrete file format handled by a codec.
type Descriptor struct {
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	MIMEType   string   `json:"mime_type"`
	Extensions []string `json:"extensions"` // lower case, with leading dot
}

// DefaultExtension returns the first extension of the descriptor.
func (d Descriptor) DefaultExtension() string {
	if len(d.Extensions) == 0 {
		return ""
	}
	return d.Extensions[0]
}

// descriptors is the declaration order used by Sniff. First match wins.
var descriptors = []Descriptor{
	{Name: "docx", Kind: KindRichDoc, MIMEType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Extensions: []string{".docx"}},
	{Name: "markdown", Kind: KindMarkdown, MIMEType: "text/markdown", Extensions: []string{".md", ".markdown"}},
	{Name: "json", Kind: KindJSON, MIMEType: "application/json", Extensions: []string{".json"}},
	{Name: "html", Kind: KindHTML, MIMEType: "text/html", Extensions: []string{".html", ".htm"}},
	{Name: "doc", Kind: KindHTML, MIMEType: "application/msword", Extensions: []string{".doc"}},
}

// ImportAccept lists the extensions offered by the import file picker.
func ImportAccept() []string {
	return []string{".docx", ".md", ".markdown", ".json"}
}

// canDecode reports whether a kind has a decoder.
func canDecode(k Kind) bool {
	switch k {
	case KindJSON, KindMarkdown, KindRichDoc:
		return true
	}
	return false
}

// canEncode reports whether a kind has an encoder.
func canEncode(k Kind) bool {
	switch k {
	case KindJSON, KindMarkdown, KindHTML:
		return true
	}
	return false
}
