// CLAUDE:SUMMARY SQLite store of the last accepted editor state per document; validation compares content hashes.
package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/connectivity"
	"github.com/hazyhaar/docsync/dbopen"
	"github.com/hazyhaar/docsync/snapshot"
)

// Schema creates the editor state table.
const Schema = `
CREATE TABLE IF NOT EXISTS editor_states (
	doc_id     TEXT PRIMARY KEY,
	provenance TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	hash       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// DefaultDoc is used when a request names no document.
const DefaultDoc = "default"

// ErrNotFound is returned by Get for unknown documents.
var ErrNotFound = errors.New("authority: no state stored")

// State is a stored editor state.
type State struct {
	Doc        string           `json:"doc"`
	Provenance string           `json:"provenance"`
	Content    snapshot.Content `json:"content"`
	Hash       string           `json:"hash"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Store persists editor states.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps db. Call Init before use.
func NewStore(db *sql.DB) *Store { return &Store{db: db, now: time.Now} }

// Init creates the schema.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// parseState accepts a snapshot envelope, an exported JSON document or a
// bare content tree.
func parseState(data []byte) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("%w: %v", codec.ErrMalformedInput, err)
	}
	if snap.Content.Root.Type == "" {
		if doc, err := codec.DecodeDocument(data); err == nil {
			snap.Content = doc.Content()
			snap.Provenance = doc.Source
			return snap, nil
		}
		content, err := snapshot.Unmarshal(data)
		if err != nil {
			return snap, fmt.Errorf("%w: %v", codec.ErrMalformedInput, err)
		}
		snap.Content = content
	}
	if err := snap.Content.Validate(); err != nil {
		return snap, fmt.Errorf("%w: %v", codec.ErrMalformedInput, err)
	}
	return snap, nil
}

// Set stores the state carried by data for doc.
func (s *Store) Set(ctx context.Context, doc string, data []byte) (State, error) {
	snap, err := parseState(data)
	if err != nil {
		return State{}, err
	}
	content := snap.Content.Normalize()
	raw, err := snapshot.Marshal(content)
	if err != nil {
		return State{}, err
	}
	st := State{
		Doc:        doc,
		Provenance: snap.Provenance,
		Content:    content,
		Hash:       snapshot.Hash(content),
		UpdatedAt:  s.now().UnixMilli(),
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO editor_states (doc_id, provenance, content, hash, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			provenance = excluded.provenance,
			content = excluded.content,
			hash = excluded.hash,
			updated_at = excluded.updated_at`,
		st.Doc, st.Provenance, string(raw), st.Hash, st.UpdatedAt)
	if err != nil {
		return State{}, fmt.Errorf("authority: store %s: %w", doc, err)
	}
	return st, nil
}

// Get loads the state of doc.
func (s *Store) Get(ctx context.Context, doc string) (State, error) {
	var st State
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, provenance, content, hash, updated_at FROM editor_states WHERE doc_id = ?`, doc,
	).Scan(&st.Doc, &st.Provenance, &raw, &st.Hash, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("authority: load %s: %w", doc, err)
	}
	if st.Content, err = snapshot.Unmarshal([]byte(raw)); err != nil {
		return State{}, fmt.Errorf("authority: stored state %s: %w", doc, err)
	}
	return st, nil
}

// Check reports whether data matches the stored state of doc. With nothing
// stored every state is accepted.
func (s *Store) Check(ctx context.Context, doc string, data []byte) (bool, error) {
	snap, err := parseState(data)
	if err != nil {
		return false, err
	}
	st, err := s.Get(ctx, doc)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return snapshot.Hash(snap.Content) == st.Hash, nil
}

// LocalHandlers returns in-process connectivity handlers for doc, with the
// same error contract as the HTTP server (403 on mismatch).
func (s *Store) LocalHandlers(doc string) (set, check connectivity.Handler) {
	set = func(ctx context.Context, payload []byte) ([]byte, error) {
		st, err := s.Set(ctx, doc, payload)
		if err != nil {
			return nil, &connectivity.StatusError{Code: 400, Body: err.Error()}
		}
		return json.Marshal(map[string]string{"hash": st.Hash})
	}
	check = func(ctx context.Context, payload []byte) ([]byte, error) {
		ok, err := s.Check(ctx, doc, payload)
		switch {
		case err != nil:
			return nil, &connectivity.StatusError{Code: 400, Body: err.Error()}
		case !ok:
			return nil, &connectivity.StatusError{Code: 403, Body: "state differs from authority"}
		}
		return []byte(`{"valid":true}`), nil
	}
	return set, check
}
