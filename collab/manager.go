// CLAUDE:SUMMARY Session manager: connection state machine, TOGGLE_CONNECT/CONNECTED commands, two-way editor ↔ replica binding, bootstrap.
// Package collab keeps a live editor document in sync with a replicated
// crdt.Document over a Transport.
//
// Local updates (user edits and history replay) are reconciled into the
// replica and sent; inbound ops are integrated and committed to the editor
// in one update tagged collaboration-inbound, which is how the validation
// listener tells them apart. Reconnecting reuses the same replica: the state
// vector exchange on open closes any gap, no resend queue is kept.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/hazyhaar/docsync/bus"
	"github.com/hazyhaar/docsync/crdt"
	"github.com/hazyhaar/docsync/editor"
	"github.com/hazyhaar/docsync/snapshot"
)

// Bus commands.
const (
	// ToggleConnect carries a bool: true connects, false disconnects.
	ToggleConnect bus.Command = "TOGGLE_CONNECT"
	// Connected is published with a bool on every state change.
	Connected bus.Command = "CONNECTED"
)

var errNoChange = errors.New("collab: no change")

// Config configures a Manager.
type Config struct {
	// ID is the session (room) identifier.
	ID       string
	Editor   *editor.Editor
	Strategy Strategy
	Logger   *slog.Logger
}

// Manager owns one collaboration session.
type Manager struct {
	id        string
	editor    *editor.Editor
	bus       *bus.Bus
	doc       *crdt.Document
	transport Transport
	bootstrap bool
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup

	inbound sync.RWMutex // held shared while an inbound commit runs; Close takes it exclusively
	connect sync.Mutex   // one Connect at a time

	mu     sync.Mutex
	state  ConnectionState
	synced bool
	closed bool

	unregister func()
}

// New binds the editor to the strategy's replica and registers the
// connect commands. It does not connect.
func New(cfg Config) (*Manager, error) {
	if cfg.Editor == nil || cfg.Strategy == nil {
		return nil, errors.New("collab: editor and strategy are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	doc, t, err := cfg.Strategy.Open(cfg.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		id:        cfg.ID,
		editor:    cfg.Editor,
		bus:       cfg.Editor.Bus(),
		doc:       doc,
		transport: t,
		bootstrap: cfg.Strategy.Bootstrap(),
		logger:    cfg.Logger.With("room", cfg.ID, "peer", doc.Peer()),
		ctx:       ctx,
		cancel:    cancel,
	}
	t.SetEvents(Events{
		OnOpen:  m.onOpen,
		OnSync:  m.onSync,
		OnOps:   m.onOps,
		OnError: m.onError,
		OnClose: m.onClose,
	})
	m.unregister = bus.Merge(
		m.editor.RegisterUpdateListener(m.onLocalUpdate),
		m.bus.Register(ToggleConnect, bus.PriorityEditor, m.onToggle),
	)
	return m, nil
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Synced reports whether the first sync with the room completed.
func (m *Manager) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced
}

// Doc returns the replica bound to the editor.
func (m *Manager) Doc() *crdt.Document { return m.doc }

// Connect opens the transport. It returns once the connection is
// established; the state becomes Connected when the room answers.
func (m *Manager) Connect(ctx context.Context) error {
	m.connect.Lock()
	defer m.connect.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("collab: manager closed")
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.publish(false)

	if err := m.transport.Connect(ctx, m.doc.Vector()); err != nil {
		if m.State() == StateDisconnected {
			m.logger.Debug("collab: connect abandoned", "error", err)
		} else {
			m.logger.Warn("collab: connect failed", "error", err)
			m.setState(StateDisconnected)
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if m.State() == StateDisconnected {
		// Disconnect ran before the transport had a connection to close.
		if err := m.transport.Disconnect(); err != nil {
			m.logger.Debug("collab: disconnect", "error", err)
		}
		return fmt.Errorf("%w: disconnected while connecting", ErrTransport)
	}
	m.logger.Debug("collab: transport connected")
	return nil
}

// Disconnect closes the transport, abandoning a dial still in flight. The
// replica and binding stay, so a later Connect resumes from the same state.
// Inbound messages are ignored from the moment it is called.
func (m *Manager) Disconnect() {
	if m.State() == StateDisconnected {
		return
	}
	m.setState(StateDisconnected)
	if err := m.transport.Disconnect(); err != nil {
		m.logger.Debug("collab: disconnect", "error", err)
	}
}

// Wait blocks until connect tasks started by TOGGLE_CONNECT finish.
func (m *Manager) Wait() { m.tasks.Wait() }

// Close tears the session down. When it returns the listener and commands
// are unregistered, the transport is closed and no inbound op will be
// committed to the editor.
func (m *Manager) Close() error {
	m.inbound.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.inbound.Unlock()
		return nil
	}
	m.closed = true
	wasConnected := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()
	m.inbound.Unlock()

	m.unregister()
	m.cancel()
	err := m.transport.Disconnect()
	m.tasks.Wait()
	if wasConnected {
		m.publish(false)
	}
	return err
}

func (m *Manager) onToggle(payload any) bool {
	connect, ok := payload.(bool)
	if !ok {
		return false
	}
	if !connect {
		m.Disconnect()
		return true
	}
	m.tasks.Go(func() {
		_ = m.Connect(m.ctx)
	})
	return true
}

func (m *Manager) setState(s ConnectionState) {
	m.mu.Lock()
	if m.closed || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.logger.Info("collab: state", "state", s.String())
	m.publish(s == StateConnected)
}

func (m *Manager) publish(connected bool) {
	m.bus.Dispatch(Connected, connected)
}

func (m *Manager) onOpen(remote crdt.Vector) {
	m.mu.Lock()
	if m.closed || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.setState(StateConnected)
	if ops := m.doc.Missing(remote); len(ops) > 0 {
		m.send(ops)
	}
}

func (m *Manager) onSync(ops []crdt.Op) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	first := !m.synced && !m.closed
	m.mu.Unlock()

	m.commitInbound(ops, first)
	if !first {
		return
	}
	m.mu.Lock()
	m.synced = true
	m.mu.Unlock()

	if m.bootstrap && m.doc.IsEmpty() {
		m.seed()
	}
}

// seed fills an empty shared document from the local one.
func (m *Manager) seed() {
	local := m.editor.Read()
	blocks := local.Blocks()
	if local.IsEmpty() {
		blocks = []snapshot.Node{snapshot.Paragraph()}
	}
	ops, err := m.doc.Reconcile(blocks)
	if err != nil {
		m.logger.Warn("collab: bootstrap", "error", err)
		return
	}
	m.logger.Info("collab: bootstrapped shared document", "blocks", len(blocks))
	m.send(ops)
}

func (m *Manager) onOps(ops []crdt.Op) { m.commitInbound(ops, false) }

func (m *Manager) onError(err error) {
	m.logger.Warn("collab: transport error", "error", err)
	m.setState(StateDisconnected)
}

func (m *Manager) onClose() { m.setState(StateDisconnected) }

// commitInbound integrates ops and mirrors the replica into the editor in
// one update. force mirrors even when nothing new was integrated.
func (m *Manager) commitInbound(ops []crdt.Op, force bool) {
	m.inbound.RLock()
	defer m.inbound.RUnlock()
	m.mu.Lock()
	live := !m.closed && m.state == StateConnected
	m.mu.Unlock()
	if !live {
		return
	}

	err := m.editor.Update(editor.CauseCollaborationInbound, func(c *snapshot.Content) error {
		n, err := m.doc.Integrate(ops...)
		if err != nil {
			m.logger.Warn("collab: dropped invalid ops", "error", err)
		}
		if n == 0 && (!force || m.doc.IsEmpty()) {
			return errNoChange
		}
		*c = m.doc.Content()
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		m.logger.Warn("collab: inbound commit", "error", err)
	}
}

// onLocalUpdate runs inside the editor update cycle.
func (m *Manager) onLocalUpdate(ev editor.UpdateEvent) {
	if ev.Dirty.Cause == editor.CauseCollaborationInbound || ev.Dirty.Empty() {
		return
	}
	m.mu.Lock()
	active := m.synced && !m.closed
	m.mu.Unlock()
	if !active {
		return
	}
	ops, err := m.doc.Reconcile(ev.Next.Blocks())
	if err != nil {
		m.logger.Warn("collab: reconcile", "error", err)
	}
	if len(ops) > 0 {
		m.send(ops)
	}
}

// send forwards ops when connected. Offline ops stay in the replica and
// reach the room through the vector exchange of the next connection.
func (m *Manager) send(ops []crdt.Op) {
	if m.State() != StateConnected {
		return
	}
	if err := m.transport.Send(ops); err != nil {
		m.logger.Warn("collab: send failed", "error", err, "ops", len(ops))
	}
}
