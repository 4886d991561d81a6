// CLAUDE:SUMMARY WebSocket client transport: SSRF-checked URL, dial retried with exponential backoff, buffered writer, goccy wire codec.
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/hazyhaar/docsync/crdt"
	"github.com/hazyhaar/docsync/safe"
)

const (
	defaultDialAttempts = 5
	defaultReadLimit    = 8 << 20
	defaultSendBuffer   = 256
	writeTimeout        = 10 * time.Second
)

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	// URL of the relay endpoint (ws:// or wss://). The room id is added as
	// the "doc" query parameter.
	URL  string `yaml:"url"`
	Doc  string `yaml:"-"`
	Peer string `yaml:"-"`

	// AllowPrivate permits loopback and private relay addresses.
	AllowPrivate bool `yaml:"allow_private"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`  // per attempt (default: 10s)
	DialAttempts int           `yaml:"dial_attempts"` // default: 5
	MaxBackoff   time.Duration `yaml:"max_backoff"`   // default: 5s
	ReadLimit    int64         `yaml:"read_limit"`    // default: 8 MiB
	SendBuffer   int           `yaml:"send_buffer"`   // queued outbound messages (default: 256)

	Logger *slog.Logger `yaml:"-"`
}

func (c *WebSocketConfig) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = defaultDialAttempts
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WebSocketTransport speaks the relay protocol over one websocket.
type WebSocketTransport struct {
	cfg      WebSocketConfig
	endpoint string

	mu      sync.Mutex
	events  Events
	gen     uint64             // bumped by Disconnect; a dial from an older generation is dropped
	abort   context.CancelFunc // cancels the dial in flight
	conn    *websocket.Conn
	out     chan Message
	flushed chan struct{} // closed when the writer has drained out
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWebSocketTransport validates the relay URL.
func NewWebSocketTransport(cfg WebSocketConfig) (*WebSocketTransport, error) {
	cfg.defaults()
	u, err := safe.ValidateEndpoint(cfg.URL, safe.WebSocketSchemes, cfg.AllowPrivate)
	if err != nil {
		return nil, fmt.Errorf("collab: relay url: %w", err)
	}
	if cfg.Doc != "" {
		q := u.Query()
		q.Set("doc", cfg.Doc)
		u.RawQuery = q.Encode()
	}
	return &WebSocketTransport{cfg: cfg, endpoint: u.String()}, nil
}

// WebSocketFactory returns a ProviderFactory dialing the relay in cfg.
func WebSocketFactory(cfg WebSocketConfig) ProviderFactory {
	return func(id string, doc *crdt.Document) (Transport, error) {
		c := cfg
		c.Doc = id
		c.Peer = doc.Peer()
		return NewWebSocketTransport(c)
	}
}

// Endpoint returns the URL dialed, room parameter included.
func (t *WebSocketTransport) Endpoint() string { return t.endpoint }

// SetEvents implements Transport.
func (t *WebSocketTransport) SetEvents(ev Events) {
	t.mu.Lock()
	t.events = ev
	t.mu.Unlock()
}

func (t *WebSocketTransport) currentEvents() Events {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Connect dials the relay, retrying with exponential backoff, then sends
// the hello carrying local. A Disconnect during the dial aborts it and the
// connection, if one was made, is closed unused.
func (t *WebSocketTransport) Connect(ctx context.Context, local crdt.Vector) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	gen := t.gen
	dialCtx, abort := context.WithCancel(ctx)
	t.abort = abort
	t.mu.Unlock()
	defer abort()

	conn, err := t.dial(dialCtx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	out := make(chan Message, t.cfg.SendBuffer)
	out <- Message{Type: MsgHello, Doc: t.cfg.Doc, Peer: t.cfg.Peer, Vector: local}
	flushed := make(chan struct{})

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("%w: disconnected while dialing", ErrTransport)
	}
	t.abort = nil
	t.conn = conn
	t.out = out
	t.flushed = flushed
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		defer close(flushed)
		t.writeLoop(connCtx, conn, out)
	}()
	go func() {
		defer t.wg.Done()
		t.readLoop(connCtx, conn)
	}()
	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = t.cfg.MaxBackoff

	var lastErr error
	for attempt := 1; attempt <= t.cfg.DialAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
		conn, _, err := websocket.Dial(dialCtx, t.endpoint, nil)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		t.cfg.Logger.Debug("collab: dial failed", "endpoint", t.endpoint, "attempt", attempt, "error", err)
		if attempt == t.cfg.DialAttempts {
			break
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("dial %s: %w", t.endpoint, lastErr)
}

// Disconnect flushes queued messages, closes the connection and waits for
// its goroutines.
func (t *WebSocketTransport) Disconnect() error {
	t.mu.Lock()
	t.gen++
	if t.abort != nil {
		t.abort()
		t.abort = nil
	}
	conn, cancel, out, flushed := t.conn, t.cancel, t.out, t.flushed
	t.conn, t.out, t.flushed, t.cancel = nil, nil, nil, nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(out)
	select {
	case <-flushed:
	case <-time.After(writeTimeout):
		t.cfg.Logger.Debug("collab: flush timed out", "endpoint", t.endpoint)
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.cfg.Logger.Debug("collab: close websocket", "error", err)
	}
	cancel()
	t.wg.Wait()
	return nil
}

// Send queues ops for the writer. It never blocks: a full buffer fails.
func (t *WebSocketTransport) Send(ops []crdt.Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}
	select {
	case t.out <- Message{Type: MsgOps, Ops: ops}:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", ErrTransport)
	}
}

func (t *WebSocketTransport) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			data, err := EncodeMessage(msg)
			if err != nil {
				t.cfg.Logger.Warn("collab: encode message", "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				t.fail(conn, fmt.Errorf("write websocket: %w", err))
				return
			}
		}
	}
}

func (t *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				t.closed(conn)
				return
			}
			t.fail(conn, fmt.Errorf("read websocket: %w", err))
			return
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			t.cfg.Logger.Warn("collab: decode message", "error", err)
			continue
		}
		ev := t.currentEvents()
		switch msg.Type {
		case MsgSync:
			if ev.OnOpen != nil {
				ev.OnOpen(msg.Vector)
			}
			if ev.OnSync != nil {
				ev.OnSync(msg.Ops)
			}
		case MsgOps:
			if ev.OnOps != nil {
				ev.OnOps(msg.Ops)
			}
		case MsgError:
			t.fail(conn, fmt.Errorf("relay: %s", msg.Error))
			return
		}
	}
}

// fail reports err unless conn was already released by Disconnect.
func (t *WebSocketTransport) fail(conn *websocket.Conn, err error) {
	if !t.detach(conn) {
		return
	}
	if ev := t.currentEvents(); ev.OnError != nil {
		ev.OnError(fmt.Errorf("%w: %v", ErrTransport, err))
	}
}

func (t *WebSocketTransport) closed(conn *websocket.Conn) {
	if !t.detach(conn) {
		return
	}
	if ev := t.currentEvents(); ev.OnClose != nil {
		ev.OnClose()
	}
}

// detach forgets conn after a remote failure so the next Connect dials
// again. It reports false when conn is no longer the current connection.
func (t *WebSocketTransport) detach(conn *websocket.Conn) bool {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return false
	}
	cancel := t.cancel
	t.conn, t.out, t.flushed, t.cancel = nil, nil, nil, nil
	t.mu.Unlock()
	cancel()
	_ = conn.Close(websocket.StatusGoingAway, "")
	return true
}
