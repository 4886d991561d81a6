// CLAUDE:SUMMARY Replicated operation types: per-peer op IDs, Lamport stamps, insert/update/delete ops and state vectors.
package crdt

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/docsync/snapshot"
)

// ErrInvalidOp is returned for ops that can never be integrated.
var ErrInvalidOp = errors.New("crdt: invalid op")

// ErrUnknownBlock is returned when a local op targets a block this replica
// has never seen.
var ErrUnknownBlock = errors.New("crdt: unknown block")

// ID identifies an op: the producing peer and its per-peer sequence number.
// Sequence numbers are contiguous from 1, which keeps state vectors exact.
// A block is identified by the ID of the op that inserted it.
type ID struct {
	Peer string `json:"p"`
	Seq  uint64 `json:"s"`
}

// Head is the zero ID, the virtual origin before the first block.
var Head = ID{}

// IsHead reports whether id is the document head.
func (id ID) IsHead() bool { return id.Peer == "" && id.Seq == 0 }

func (id ID) String() string { return fmt.Sprintf("%s:%d", id.Peer, id.Seq) }

// Kind enumerates op kinds.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Op is one replicated mutation.
//   - insert: Ref is the left origin (Head for the first position), Block the new block.
//   - update: Ref is the target block, Block its new content (last writer wins).
//   - delete: Ref is the target block (tombstone).
type Op struct {
	ID    ID             `json:"id"`
	Clock uint64         `json:"clock"` // Lamport stamp
	Kind  Kind           `json:"kind"`
	Ref   ID             `json:"ref"`
	Block *snapshot.Node `json:"block,omitempty"`
}

// Validate checks the op shape without looking at any document.
func (o Op) Validate() error {
	if o.ID.Peer == "" || o.ID.Seq == 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidOp)
	}
	if o.Clock == 0 {
		return fmt.Errorf("%w: %s has no clock", ErrInvalidOp, o.ID)
	}
	switch o.Kind {
	case KindInsert:
		if o.Block == nil || !o.Block.IsBlock() {
			return fmt.Errorf("%w: insert %s without block", ErrInvalidOp, o.ID)
		}
	case KindUpdate:
		if o.Block == nil || !o.Block.IsBlock() {
			return fmt.Errorf("%w: update %s without block", ErrInvalidOp, o.ID)
		}
		if o.Ref.IsHead() {
			return fmt.Errorf("%w: update %s targets head", ErrInvalidOp, o.ID)
		}
	case KindDelete:
		if o.Ref.IsHead() {
			return fmt.Errorf("%w: delete %s targets head", ErrInvalidOp, o.ID)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidOp, o.Kind)
	}
	return nil
}

// stamp orders writes: Lamport clock first, peer id breaks ties.
type stamp struct {
	clock uint64
	peer  string
}

func (s stamp) after(o stamp) bool {
	if s.clock != o.clock {
		return s.clock > o.clock
	}
	return s.peer > o.peer
}

func (o Op) stamp() stamp { return stamp{clock: o.Clock, peer: o.ID.Peer} }

// Vector maps each peer to the highest contiguous sequence number integrated.
type Vector map[string]uint64

// Clone copies the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Has reports whether the op with id is covered by v.
func (v Vector) Has(id ID) bool { return id.Seq <= v[id.Peer] }

// Merge raises v to cover o.
func (v Vector) Merge(o Vector) {
	for k, n := range o {
		if n > v[k] {
			v[k] = n
		}
	}
}
