// CLAUDE:SUMMARY RGA block sequence: idempotent causal integrate with pending buffer, local ops, Reconcile diff, state-vector sync.
// Package crdt implements the replicated document shared by collaboration
// sessions: an RGA sequence of top-level blocks.
//
// Blocks form a tree on their left origin; siblings are ordered newest
// stamp first and the document order is the preorder walk. Block content is
// last-writer-wins on the Lamport stamp, deletes leave tombstones. Ops whose
// dependencies (previous op of the same peer, referenced block) have not
// arrived wait in a pending buffer. Integrating the same op twice is a no-op,
// so any delivery order of the same op set converges.
package crdt

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hazyhaar/docsync/snapshot"
)

type element struct {
	id       ID
	stamp    stamp // insert stamp, orders siblings
	origin   ID
	children []ID
	content  snapshot.Node
	written  stamp // stamp of the winning content write
	deleted  bool
}

// Block is a visible block with its identity.
type Block struct {
	ID   ID
	Node snapshot.Node
}

// Document is a replica. It is safe for concurrent use.
type Document struct {
	mu       sync.Mutex
	peer     string
	clock    uint64
	seq      uint64
	elements map[ID]*element
	roots    []ID // children of Head
	vector   Vector
	log      []Op // integration order, causally sorted
	pending  []Op
}

// New creates an empty replica owned by peer.
func New(peer string) *Document {
	return &Document{
		peer:     peer,
		elements: make(map[ID]*element),
		vector:   make(Vector),
	}
}

// Peer returns the replica owner.
func (d *Document) Peer() string { return d.peer }

// Integrate applies remote ops. Ops already covered are skipped, ops with
// missing dependencies are buffered until they can apply. It returns the
// number of ops newly applied, including buffered ones released by this call.
// Invalid ops are dropped and reported through the joined error; valid ops in
// the same batch are still applied.
func (d *Document) Integrate(ops ...Op) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if d.vector.Has(op.ID) || d.isPending(op.ID) {
			continue
		}
		d.pending = append(d.pending, cloneOp(op))
	}
	return d.drain(), errors.Join(errs...)
}

// drain applies every pending op whose dependencies are met, repeating
// until no progress is made.
func (d *Document) drain() int {
	applied := 0
	for progress := true; progress; {
		progress = false
		rest := d.pending[:0]
		for _, op := range d.pending {
			switch {
			case d.vector.Has(op.ID):
			case d.ready(op):
				d.apply(op)
				applied++
				progress = true
			default:
				rest = append(rest, op)
			}
		}
		clear(d.pending[len(rest):])
		d.pending = rest
	}
	return applied
}

func (d *Document) isPending(id ID) bool {
	for _, p := range d.pending {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (d *Document) ready(op Op) bool {
	if d.vector[op.ID.Peer] != op.ID.Seq-1 {
		return false
	}
	if op.Ref.IsHead() {
		return true
	}
	_, ok := d.elements[op.Ref]
	return ok
}

// apply integrates a ready op. Caller holds d.mu.
func (d *Document) apply(op Op) {
	st := op.stamp()
	switch op.Kind {
	case KindInsert:
		el := &element{id: op.ID, stamp: st, origin: op.Ref, content: op.Block.Clone(), written: st}
		d.elements[op.ID] = el
		if op.Ref.IsHead() {
			d.roots = d.insertChild(d.roots, op.ID)
		} else {
			parent := d.elements[op.Ref]
			parent.children = d.insertChild(parent.children, op.ID)
		}
	case KindUpdate:
		el := d.elements[op.Ref]
		if st.after(el.written) {
			el.content = op.Block.Clone()
			el.written = st
		}
	case KindDelete:
		d.elements[op.Ref].deleted = true
	}
	d.vector[op.ID.Peer] = op.ID.Seq
	if op.Clock > d.clock {
		d.clock = op.Clock
	}
	d.log = append(d.log, op)
}

// insertChild keeps siblings ordered newest stamp first.
func (d *Document) insertChild(siblings []ID, id ID) []ID {
	st := d.elements[id].stamp
	i := 0
	for i < len(siblings) && d.elements[siblings[i]].stamp.after(st) {
		i++
	}
	return slices.Insert(siblings, i, id)
}

// next assigns the identity of a new local op. Caller holds d.mu.
func (d *Document) next() (ID, uint64) {
	d.seq = max(d.seq, d.vector[d.peer]) + 1
	d.clock++
	return ID{Peer: d.peer, Seq: d.seq}, d.clock
}

// Insert adds block after the block with id after (Head for the front).
func (d *Document) Insert(after ID, block snapshot.Node) (Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.local(KindInsert, after, &block)
}

// Update replaces the content of block id.
func (d *Document) Update(id ID, block snapshot.Node) (Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.local(KindUpdate, id, &block)
}

// Delete tombstones block id.
func (d *Document) Delete(id ID) (Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.local(KindDelete, id, nil)
}

func (d *Document) local(kind Kind, ref ID, block *snapshot.Node) (Op, error) {
	if !ref.IsHead() {
		if _, ok := d.elements[ref]; !ok {
			return Op{}, fmt.Errorf("%w: %s", ErrUnknownBlock, ref)
		}
	}
	id, clock := d.next()
	op := Op{ID: id, Clock: clock, Kind: kind, Ref: ref}
	if block != nil {
		b := block.Clone()
		op.Block = &b
	}
	if err := op.Validate(); err != nil {
		d.seq--
		return Op{}, err
	}
	d.apply(op)
	return cloneOp(op), nil
}

// Reconcile emits and applies the local ops that turn the visible sequence
// into target: common prefix and suffix are kept, the changed window is
// updated pairwise, then extended with inserts or shrunk with deletes.
func (d *Document) Reconcile(target []snapshot.Node) ([]Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.visible()
	p := 0
	for p < len(cur) && p < len(target) && cur[p].Node.Equal(target[p]) {
		p++
	}
	s := 0
	for s < len(cur)-p && s < len(target)-p && cur[len(cur)-1-s].Node.Equal(target[len(target)-1-s]) {
		s++
	}
	oldW := cur[p : len(cur)-s]
	newW := target[p : len(target)-s]

	var ops []Op
	emit := func(kind Kind, ref ID, block *snapshot.Node) (Op, error) {
		op, err := d.local(kind, ref, block)
		if err == nil {
			ops = append(ops, op)
		}
		return op, err
	}

	n := min(len(oldW), len(newW))
	for i := 0; i < n; i++ {
		if oldW[i].Node.Equal(newW[i]) {
			continue
		}
		if _, err := emit(KindUpdate, oldW[i].ID, &newW[i]); err != nil {
			return ops, err
		}
	}
	after := Head
	switch {
	case n > 0:
		after = oldW[n-1].ID
	case p > 0:
		after = cur[p-1].ID
	}
	for i := n; i < len(newW); i++ {
		op, err := emit(KindInsert, after, &newW[i])
		if err != nil {
			return ops, err
		}
		after = op.ID
	}
	for i := n; i < len(oldW); i++ {
		if _, err := emit(KindDelete, oldW[i].ID, nil); err != nil {
			return ops, err
		}
	}
	return ops, nil
}

// Visible returns the live blocks in document order.
func (d *Document) Visible() []Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible()
}

func (d *Document) visible() []Block {
	var out []Block
	var walk func(ids []ID)
	walk = func(ids []ID) {
		for _, id := range ids {
			el := d.elements[id]
			if !el.deleted {
				out = append(out, Block{ID: id, Node: el.content.Clone()})
			}
			walk(el.children)
		}
	}
	walk(d.roots)
	return out
}

// Content returns the visible blocks as document content.
func (d *Document) Content() snapshot.Content {
	blocks := d.Visible()
	nodes := make([]snapshot.Node, len(blocks))
	for i, b := range blocks {
		nodes[i] = b.Node
	}
	return snapshot.New(nodes...)
}

// IsEmpty reports whether no block is visible.
func (d *Document) IsEmpty() bool { return len(d.Visible()) == 0 }

// Vector returns a copy of the state vector.
func (d *Document) Vector() Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vector.Clone()
}

// Missing returns the integrated ops not covered by remote, in causal order.
func (d *Document) Missing(remote Vector) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Op
	for _, op := range d.log {
		if !remote.Has(op.ID) {
			out = append(out, cloneOp(op))
		}
	}
	return out
}

// Len returns the number of integrated ops.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.log)
}

// Pending returns the number of buffered ops waiting on dependencies.
func (d *Document) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func cloneOp(op Op) Op {
	if op.Block != nil {
		b := op.Block.Clone()
		op.Block = &b
	}
	return op
}
