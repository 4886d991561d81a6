// CLAUDE:SUMMARY JSON codec: the lossless export envelope {editorState, lastSaved, source, version}. Content is written as is, never normalized.
package codec

import (
	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/snapshot"
)

// Document is the JSON export envelope.
type Document struct {
	EditorState editorState `json:"editorState"`
	LastSaved   int64       `json:"lastSaved"` // unix milliseconds
	Source      string      `json:"source"`
	Version     int         `json:"version"`
}

type editorState struct {
	Root *snapshot.Node `json:"root"`
}

// Content returns the document content carried by the envelope.
func (d Document) Content() snapshot.Content {
	if d.EditorState.Root == nil {
		return snapshot.Content{}
	}
	return snapshot.Content{Root: d.EditorState.Root.Clone()}
}

func (r *Registry) encodeJSON(c snapshot.Content) ([]byte, error) {
	root := c.Clone().Root
	doc := Document{
		EditorState: editorState{Root: &root},
		LastSaved:   r.cfg.Now().UnixMilli(),
		Source:      r.cfg.Provenance,
		Version:     snapshot.CurrentVersion,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeDocument parses a JSON export and validates its content.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, malformed("json: %v", err)
	}
	if doc.EditorState.Root == nil {
		return Document{}, malformed("json: missing editorState.root")
	}
	if err := doc.Content().Validate(); err != nil {
		return Document{}, malformed("json: %v", err)
	}
	return doc, nil
}

func decodeJSON(data []byte) (snapshot.Content, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return snapshot.Content{}, err
	}
	return doc.Content(), nil
}
