// CLAUDE:SUMMARY In-process room hub whose transports queue deliveries until flushed, giving tests full control of delivery order.
package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/docsync/crdt"
)

// MemoryHub is an in-process relay. Sends are integrated into the room
// replica at once; deliveries to the other members wait in per-transport
// inboxes until Flush. Also used for sessions sharing one host process.
type MemoryHub struct {
	mu      sync.Mutex
	rooms   map[string]*memoryRoom
	members []*MemoryTransport // creation order, fixes Flush order
}

type memoryRoom struct {
	doc     *crdt.Document
	members map[*MemoryTransport]bool
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{rooms: make(map[string]*memoryRoom)}
}

// Factory returns a ProviderFactory creating hub transports.
func (h *MemoryHub) Factory() ProviderFactory {
	return func(id string, doc *crdt.Document) (Transport, error) {
		return h.Transport(id, doc.Peer()), nil
	}
}

// Transport creates a transport for peer in room id.
func (h *MemoryHub) Transport(id, peer string) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &MemoryTransport{hub: h, room: id, peer: peer}
	h.members = append(h.members, t)
	return t
}

// Room returns the hub-side replica of room id, creating it when absent.
func (h *MemoryHub) Room(id string) *crdt.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomLocked(id).doc
}

func (h *MemoryHub) roomLocked(id string) *memoryRoom {
	r, ok := h.rooms[id]
	if !ok {
		r = &memoryRoom{doc: crdt.New("hub"), members: make(map[*MemoryTransport]bool)}
		h.rooms[id] = r
	}
	return r
}

// Flush delivers queued messages transport by transport, in creation
// order, until every inbox is empty. It returns the number delivered.
func (h *MemoryHub) Flush() int {
	total := 0
	for {
		h.mu.Lock()
		members := append([]*MemoryTransport(nil), h.members...)
		h.mu.Unlock()
		n := 0
		for _, t := range members {
			n += t.Flush()
		}
		if n == 0 {
			return total
		}
		total += n
	}
}

type delivery struct {
	sync   bool
	vector crdt.Vector
	ops    []crdt.Op
}

// MemoryTransport is one member of a MemoryHub room.
type MemoryTransport struct {
	hub  *MemoryHub
	room string
	peer string

	mu        sync.Mutex
	events    Events
	connected bool
	inbox     []delivery
	failNext  error
}

// SetEvents implements Transport.
func (t *MemoryTransport) SetEvents(ev Events) {
	t.mu.Lock()
	t.events = ev
	t.mu.Unlock()
}

// FailNextConnect makes the next Connect return err.
func (t *MemoryTransport) FailNextConnect(err error) {
	t.mu.Lock()
	t.failNext = err
	t.mu.Unlock()
}

// Connect joins the room and queues the sync answer.
func (t *MemoryTransport) Connect(ctx context.Context, local crdt.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if err := t.failNext; err != nil {
		t.failNext = nil
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.hub.mu.Lock()
	r := t.hub.roomLocked(t.room)
	r.members[t] = true
	msg := delivery{sync: true, vector: r.doc.Vector(), ops: r.doc.Missing(local)}
	t.hub.mu.Unlock()

	t.mu.Lock()
	t.connected = true
	t.inbox = append(t.inbox, msg)
	t.mu.Unlock()
	return nil
}

// Disconnect leaves the room and drops undelivered messages.
func (t *MemoryTransport) Disconnect() error {
	t.hub.mu.Lock()
	if r, ok := t.hub.rooms[t.room]; ok {
		delete(r.members, t)
	}
	t.hub.mu.Unlock()

	t.mu.Lock()
	t.connected = false
	t.inbox = nil
	t.mu.Unlock()
	return nil
}

// Drop simulates a network failure: the transport leaves the room and
// raises OnError.
func (t *MemoryTransport) Drop(err error) {
	t.Disconnect()
	t.mu.Lock()
	onError := t.events.OnError
	t.mu.Unlock()
	if onError != nil {
		onError(fmt.Errorf("%w: %v", ErrTransport, err))
	}
}

// Send integrates ops into the room and queues them for the other members.
func (t *MemoryTransport) Send(ops []crdt.Op) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}

	t.hub.mu.Lock()
	r := t.hub.roomLocked(t.room)
	if _, err := r.doc.Integrate(ops...); err != nil {
		t.hub.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var peers []*MemoryTransport
	for m := range r.members {
		if m != t {
			peers = append(peers, m)
		}
	}
	t.hub.mu.Unlock()

	for _, p := range peers {
		p.enqueue(delivery{ops: append([]crdt.Op(nil), ops...)})
	}
	return nil
}

func (t *MemoryTransport) enqueue(d delivery) {
	t.mu.Lock()
	if t.connected {
		t.inbox = append(t.inbox, d)
	}
	t.mu.Unlock()
}

// Pending returns the number of queued deliveries.
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inbox)
}

// Flush delivers this transport's inbox in FIFO order.
func (t *MemoryTransport) Flush() int { return t.flush(false) }

// FlushReverse delivers this transport's inbox newest first, so ops arrive
// ahead of their dependencies.
func (t *MemoryTransport) FlushReverse() int { return t.flush(true) }

func (t *MemoryTransport) flush(reverse bool) int {
	t.mu.Lock()
	inbox := t.inbox
	t.inbox = nil
	ev := t.events
	t.mu.Unlock()

	if reverse {
		for i, j := 0, len(inbox)-1; i < j; i, j = i+1, j-1 {
			inbox[i], inbox[j] = inbox[j], inbox[i]
		}
	}
	for _, d := range inbox {
		switch {
		case d.sync:
			if ev.OnOpen != nil {
				ev.OnOpen(d.vector)
			}
			if ev.OnSync != nil {
				ev.OnSync(d.ops)
			}
		case ev.OnOps != nil:
			ev.OnOps(d.ops)
		}
	}
	return len(inbox)
}
