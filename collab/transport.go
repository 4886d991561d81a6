// CLAUDE:SUMMARY Connection state enum, Transport contract with event callbacks, and wire messages shared with the relay.
package collab

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/crdt"
)

// ErrTransport wraps every transport-level failure. It is non-fatal: the
// manager logs it and falls back to StateDisconnected.
var ErrTransport = errors.New("collab: transport failure")

// ConnectionState is the lifecycle of one collaboration session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Events are the callbacks a transport raises. Any of them may be nil.
// Callbacks run on the transport's goroutine and must not block on it.
type Events struct {
	// OnOpen fires once the remote side answered the hello, with its vector.
	OnOpen func(remote crdt.Vector)
	// OnSync delivers the ops the remote side had and this replica lacked.
	OnSync func(ops []crdt.Op)
	// OnOps delivers live ops from other peers.
	OnOps func(ops []crdt.Op)
	// OnError reports a fatal failure of the current connection.
	OnError func(err error)
	// OnClose fires when the remote side closed the connection.
	OnClose func()
}

// Transport moves ops between one replica and a shared room.
//
// Connect opens a connection and announces the local state vector; the
// remote side answers with its own vector and the ops the local side is
// missing. Disconnect closes the connection without raising events.
// The same Transport may be connected again after Disconnect.
type Transport interface {
	Connect(ctx context.Context, local crdt.Vector) error
	Disconnect() error
	Send(ops []crdt.Op) error
	SetEvents(ev Events)
}

// MessageType enumerates wire message kinds.
type MessageType string

const (
	MsgHello MessageType = "hello" // client → relay: peer id + vector
	MsgSync  MessageType = "sync"  // relay → client: relay vector + missing ops
	MsgOps   MessageType = "ops"   // both ways: live ops
	MsgError MessageType = "error" // relay → client: fatal error
)

// Message is the wire envelope between clients and the relay.
type Message struct {
	Type   MessageType `json:"type"`
	Doc    string      `json:"doc,omitempty"`
	Peer   string      `json:"peer,omitempty"`
	Vector crdt.Vector `json:"vector,omitempty"`
	Ops    []crdt.Op   `json:"ops,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EncodeMessage serialises m.
func EncodeMessage(m Message) ([]byte, error) { return json.Marshal(m) }

// DecodeMessage parses a wire message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, errors.New("collab: message without type")
	}
	return m, nil
}
