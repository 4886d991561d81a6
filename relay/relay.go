// CLAUDE:SUMMARY Reference realtime relay: websocket rooms keyed by doc id, state-vector sync on hello, persisted op log, fan-out to members.
// Package relay is the reference server for collab.WebSocketTransport.
//
// Each room holds a crdt.Document rebuilt from the op log. A client opens
// with a hello carrying its state vector and receives a sync with the room
// vector and every op it lacks; after that ops flow both ways. The relay
// integrates and logs each op before forwarding it to the other members,
// so a room survives restarts and late joiners catch up from the log.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/docsync/collab"
	"github.com/hazyhaar/docsync/crdt"
	"github.com/hazyhaar/docsync/kit"
	"github.com/hazyhaar/docsync/safe"
	"github.com/hazyhaar/docsync/shield"
)

// DefaultDoc is the room used when a client names none.
const DefaultDoc = "default"

// relayPeer owns the relay-side replicas. It never authors ops.
const relayPeer = "relay"

var (
	errSlowConsumer = errors.New("relay: slow consumer")
	errForeignOp    = errors.New("relay: op authored by another peer")
)

// Config configures a Server.
type Config struct {
	Store *Store

	// Rate and Burst bound inbound op messages per connection
	// (default: 50/s, burst 100).
	Rate  rate.Limit
	Burst int

	// StrictPeers rejects ops not authored by the sending peer. Off by
	// default so a replica can re-seed a relay that lost its log.
	StrictPeers bool

	ReadLimit    int64         // default: 8 MiB
	SendBuffer   int           // queued outbound messages per member (default: 256)
	HelloTimeout time.Duration // default: 10s

	// OriginPatterns is passed to websocket.Accept for browser clients.
	OriginPatterns []string

	Limiter *shield.RateLimiter
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Rate <= 0 {
		c.Rate = 50
	}
	if c.Burst <= 0 {
		c.Burst = 100
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 8 << 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RoomInfo describes a loaded room.
type RoomInfo struct {
	Doc     string      `json:"doc"`
	Members int         `json:"members"`
	Ops     int         `json:"ops"`
	Vector  crdt.Vector `json:"vector"`
}

// Server hosts the rooms.
type Server struct {
	cfg    Config
	logger *slog.Logger
	mux    chi.Router

	ctx    context.Context
	cancel context.CancelFunc
	conns  conc.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// New builds a relay. cfg.Store must be initialised.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
	}

	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.StackConfig{Limiter: cfg.Limiter, Logger: cfg.Logger}) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Rooms())
	})
	r.Get("/ws", s.handleWS)
	s.mux = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Mount adds the relay routes under prefix of an existing router.
func (s *Server) Mount(r chi.Router, prefix string) { r.Mount(prefix, s.mux) }

// Rooms lists the loaded rooms sorted by doc id.
func (s *Server) Rooms() []RoomInfo {
	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Doc < out[j].Doc })
	return out
}

// Close disconnects every client with StatusGoingAway and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.conns.Wait()
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	doc := r.URL.Query().Get("doc")
	if doc == "" {
		doc = DefaultDoc
	}
	if err := safe.ValidateIdentifier(doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return
	}
	done := make(chan struct{})
	s.conns.Go(func() {
		defer close(done)
		s.serve(w, r, doc)
	})
	s.mu.Unlock()
	<-done
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, doc string) {
	ctx := kit.WithRoom(kit.WithTransport(r.Context(), "ws"), doc)
	logger := shield.GetLogger(ctx).With("room", doc)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		logger.Debug("relay: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.ReadLimit)
	stop := context.AfterFunc(s.ctx, func() {
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
	})
	defer stop()

	hello, err := s.readHello(ctx, conn)
	if err != nil {
		logger.Debug("relay: bad hello", "error", err)
		reject(ctx, conn, err)
		return
	}
	ctx = kit.WithPeer(ctx, hello.Peer)
	logger = logger.With("peer", hello.Peer)

	c := &client{
		peer:   hello.Peer,
		out:    make(chan collab.Message, s.cfg.SendBuffer),
		kicked: make(chan struct{}),
	}
	rm, err := s.join(ctx, doc, c, hello.Vector)
	if err != nil {
		logger.Error("relay: load room", "error", err)
		reject(ctx, conn, errors.New("room unavailable"))
		return
	}
	defer s.leave(doc, rm, c)
	logger.Info("relay: peer joined", "members", rm.members())

	writeCtx, stopWriter := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := c.writeLoop(writeCtx, conn); err != nil {
			logger.Warn("relay: dropping peer", "error", err)
			_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		}
	})

	perr := s.readLoop(ctx, conn, rm, c)
	stopWriter()
	wg.Wait()
	if perr != nil {
		logger.Warn("relay: protocol error", "error", perr)
		reject(ctx, conn, perr)
		return
	}
	logger.Info("relay: peer left")
}

func (s *Server) readHello(ctx context.Context, conn *websocket.Conn) (collab.Message, error) {
	helloCtx, cancel := context.WithTimeout(ctx, s.cfg.HelloTimeout)
	defer cancel()
	_, data, err := conn.Read(helloCtx)
	if err != nil {
		return collab.Message{}, err
	}
	msg, err := collab.DecodeMessage(data)
	if err != nil {
		return collab.Message{}, err
	}
	if msg.Type != collab.MsgHello {
		return collab.Message{}, fmt.Errorf("relay: expected hello, got %q", msg.Type)
	}
	if err := safe.ValidateIdentifier(msg.Peer); err != nil {
		return collab.Message{}, fmt.Errorf("relay: peer: %w", err)
	}
	return msg, nil
}

// readLoop returns a non-nil error only for protocol violations; a closed
// connection ends it quietly.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, rm *room, c *client) error {
	logger := shield.GetLogger(ctx).With(kit.LogAttrs(ctx)...)
	limiter := rate.NewLimiter(s.cfg.Rate, s.cfg.Burst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("relay: read ended", "status", websocket.CloseStatus(err), "error", err)
			return nil
		}
		msg, err := collab.DecodeMessage(data)
		if err != nil {
			return err
		}
		if msg.Type != collab.MsgOps {
			return fmt.Errorf("relay: unexpected %q message", msg.Type)
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		for _, op := range msg.Ops {
			if err := op.Validate(); err != nil {
				return err
			}
			if s.cfg.StrictPeers && op.ID.Peer != c.peer {
				return fmt.Errorf("%w: %s", errForeignOp, op.ID)
			}
		}
		if err := rm.apply(ctx, s.cfg.Store, c, msg.Ops); err != nil {
			logger.Error("relay: apply ops", "error", err)
			return errors.New("relay: storage failure")
		}
	}
}

func (s *Server) join(ctx context.Context, doc string, c *client, remote crdt.Vector) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[doc]
	if !ok {
		ops, err := s.cfg.Store.Load(ctx, doc)
		if err != nil {
			return nil, err
		}
		rm = newRoom(doc)
		if _, err := rm.doc.Integrate(ops...); err != nil {
			s.logger.Warn("relay: skipped invalid logged ops", "doc", doc, "error", err)
		}
		s.rooms[doc] = rm
	}
	rm.join(c, remote)
	return rm, nil
}

// leave drops c and unloads the room once empty; the log keeps its state.
func (s *Server) leave(doc string, rm *room, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm.leave(c) == 0 && s.rooms[doc] == rm {
		delete(s.rooms, doc)
	}
}

type room struct {
	id  string
	doc *crdt.Document

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newRoom(id string) *room {
	return &room{id: id, doc: crdt.New(relayPeer), clients: make(map[*client]struct{})}
}

// join registers c and queues its sync under the room lock, so no op
// broadcast in between is lost.
func (rm *room) join(c *client, remote crdt.Vector) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.clients[c] = struct{}{}
	c.enqueue(collab.Message{
		Type:   collab.MsgSync,
		Doc:    rm.id,
		Vector: rm.doc.Vector(),
		Ops:    rm.doc.Missing(remote),
	})
}

func (rm *room) leave(c *client) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.clients, c)
	return len(rm.clients)
}

func (rm *room) members() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}

func (rm *room) info() RoomInfo {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return RoomInfo{Doc: rm.id, Members: len(rm.clients), Ops: rm.doc.Len(), Vector: rm.doc.Vector()}
}

// apply logs ops, integrates them and forwards them to every other member.
func (rm *room) apply(ctx context.Context, store *Store, from *client, ops []crdt.Op) error {
	if len(ops) == 0 {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if err := store.Append(ctx, rm.id, ops); err != nil {
		return err
	}
	if _, err := rm.doc.Integrate(ops...); err != nil {
		return err
	}
	msg := collab.Message{Type: collab.MsgOps, Ops: ops}
	for c := range rm.clients {
		if c != from {
			c.enqueue(msg)
		}
	}
	return nil
}

type client struct {
	peer   string
	out    chan collab.Message
	kicked chan struct{}
	once   sync.Once
}

// enqueue never blocks; a member whose buffer is full is kicked.
func (c *client) enqueue(msg collab.Message) {
	select {
	case c.out <- msg:
	default:
		c.once.Do(func() { close(c.kicked) })
	}
}

func (c *client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kicked:
			return errSlowConsumer
		case msg := <-c.out:
			if err := write(ctx, conn, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg collab.Message) error {
	data, err := collab.EncodeMessage(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// reject tells the client why it is being dropped, then closes.
func reject(ctx context.Context, conn *websocket.Conn, err error) {
	if e := write(ctx, conn, collab.Message{Type: collab.MsgError, Error: err.Error()}); e == nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "protocol error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
