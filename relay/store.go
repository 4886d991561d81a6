// CLAUDE:SUMMARY SQLite op log of the relay: one row per replicated op, replayed in arrival order to rebuild a room.
package relay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/crdt"
	"github.com/hazyhaar/docsync/dbopen"
)

// Schema creates the op log.
const Schema = `
CREATE TABLE IF NOT EXISTS relay_ops (
	doc_id TEXT NOT NULL,
	peer   TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	body   TEXT NOT NULL,
	PRIMARY KEY (doc_id, peer, seq)
);`

// Store is the persistent op log shared by all rooms.
type Store struct {
	db *sql.DB
}

// NewStore wraps db. Call Init before use.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Init creates the schema.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Append records ops for doc. Ops already logged are ignored.
func (s *Store) Append(ctx context.Context, doc string, ops []crdt.Op) error {
	if len(ops) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO relay_ops (doc_id, peer, seq, body) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, op := range ops {
			body, err := json.Marshal(op)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, doc, op.ID.Peer, op.ID.Seq, string(body)); err != nil {
				return fmt.Errorf("relay: log %s: %w", op.ID, err)
			}
		}
		return nil
	})
}

// Load returns the ops of doc in arrival order.
func (s *Store) Load(ctx context.Context, doc string) ([]crdt.Op, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM relay_ops WHERE doc_id = ? ORDER BY rowid`, doc)
	if err != nil {
		return nil, fmt.Errorf("relay: load %s: %w", doc, err)
	}
	defer rows.Close()

	var ops []crdt.Op
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var op crdt.Op
		if err := json.Unmarshal([]byte(body), &op); err != nil {
			return nil, fmt.Errorf("relay: decode logged op: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Docs lists the documents with at least one logged op.
func (s *Store) Docs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT doc_id FROM relay_ops ORDER BY doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
