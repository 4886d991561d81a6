// CLAUDE:SUMMARY In-memory live document: atomic updates on a clone, ordered listeners, editable flag, undo history, bus commands.
// Package editor is the live document model the interchange and
// collaboration layers consume. It is deliberately small: a block tree, an
// editable flag, an undo stack and an ordered list of update listeners.
//
// Every mutation goes through Update, which runs the caller's function on a
// private clone and commits only if the function succeeds and the result
// validates. A failed update leaves the document untouched.
//
// Updates are serialised. Listeners run in registration order, synchronously,
// after the commit and before the next update starts; they may call Read but
// must not call Update (use a goroutine for follow-up mutations).
package editor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/docsync/bus"
	"github.com/hazyhaar/docsync/snapshot"
)

// Commands registered on the editor's bus.
const (
	ClearEditor  bus.Command = "CLEAR_EDITOR"
	ClearHistory bus.Command = "CLEAR_HISTORY"
)

// ErrInvalidContent is returned when an update produces a tree that fails validation.
var ErrInvalidContent = errors.New("editor: invalid content")

// Config configures an Editor.
type Config struct {
	// Initial is the starting content (default: one empty paragraph).
	Initial *snapshot.Content

	// ReadOnly starts the editor in non-editable mode.
	ReadOnly bool

	// HistoryLimit caps the undo stack (default: 100).
	HistoryLimit int

	// Bus is the command registry; a new one is created when nil.
	Bus *bus.Bus

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Bus == nil {
		c.Bus = bus.New(bus.WithLogger(c.Logger))
	}
}

type listenerEntry struct {
	id uint64
	fn UpdateListener
}

// Editor holds one live document.
type Editor struct {
	updateMu sync.Mutex // serialises Update + listener dispatch

	mu        sync.RWMutex // guards the fields below
	content   snapshot.Content
	editable  bool
	seq       uint64
	nextID    uint64
	listeners []listenerEntry
	onEdit    []listenerEditable
	undo      []snapshot.Content
	redo      []snapshot.Content

	cfg        Config
	bus        *bus.Bus
	logger     *slog.Logger
	unregister func()
}

type listenerEditable struct {
	id uint64
	fn func(bool)
}

// New creates an Editor and registers its commands on the bus.
func New(cfg Config) *Editor {
	cfg.defaults()
	initial := snapshot.Empty()
	if cfg.Initial != nil {
		initial = cfg.Initial.Clone()
	}
	e := &Editor{
		content:  initial,
		editable: !cfg.ReadOnly,
		cfg:      cfg,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
	}
	e.unregister = bus.Merge(
		e.bus.Register(ClearEditor, bus.PriorityEditor, func(any) bool {
			if err := e.Replace(CauseUserEdit, snapshot.Empty()); err != nil {
				e.logger.Warn("editor: clear failed", "error", err)
			}
			return true
		}),
		e.bus.Register(ClearHistory, bus.PriorityEditor, func(any) bool {
			e.ClearHistory()
			return true
		}),
	)
	return e
}

// Close removes the editor's command handlers from the bus.
func (e *Editor) Close() { e.unregister() }

// Bus returns the command registry owned by this editor context.
func (e *Editor) Bus() *bus.Bus { return e.bus }

// Read returns a copy of the current content.
func (e *Editor) Read() snapshot.Content {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.content.Clone()
}

// Snapshot takes a point-in-time snapshot tagged with provenance.
func (e *Editor) Snapshot(provenance string) snapshot.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot.Take(e.content, provenance)
}

// Seq returns the sequence number of the last committed update.
func (e *Editor) Seq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// Update applies fn to a copy of the document and commits it atomically.
// Nothing is committed when fn returns an error or the result is invalid.
// An update that leaves the content unchanged commits nothing and notifies nobody.
func (e *Editor) Update(cause Cause, fn func(c *snapshot.Content) error) error {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	e.mu.RLock()
	prev := e.content.Clone()
	e.mu.RUnlock()

	next := prev.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if len(next.Root.Children) == 0 {
		next.Root.Children = []snapshot.Node{snapshot.Paragraph()}
	}

	dirty, removed := diffBlocks(prev.Blocks(), next.Blocks())
	if len(dirty) == 0 && removed == 0 {
		return nil
	}

	e.mu.Lock()
	e.content = next.Clone()
	e.seq++
	seq := e.seq
	switch cause {
	case CauseUserEdit:
		e.undo = append(e.undo, prev.Clone())
		if over := len(e.undo) - e.cfg.HistoryLimit; over > 0 {
			e.undo = e.undo[over:]
		}
		e.redo = nil
	}
	listeners := make([]listenerEntry, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	ev := UpdateEvent{
		Seq:   seq,
		Prev:  prev,
		Next:  next,
		Dirty: DirtySet{Blocks: dirty, Removed: removed, Cause: cause},
	}
	for _, l := range listeners {
		l.fn(ev)
	}
	return nil
}

// Replace swaps the whole document in one update.
func (e *Editor) Replace(cause Cause, c snapshot.Content) error {
	return e.Update(cause, func(doc *snapshot.Content) error {
		*doc = c.Clone()
		return nil
	})
}

// RegisterUpdateListener adds fn after the existing listeners and returns
// its unregister function.
func (e *Editor) RegisterUpdateListener(fn UpdateListener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Editable reports whether the user may edit the document.
func (e *Editor) Editable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.editable
}

// SetEditable toggles edit mode and notifies editable listeners on change.
func (e *Editor) SetEditable(v bool) {
	e.mu.Lock()
	if e.editable == v {
		e.mu.Unlock()
		return
	}
	e.editable = v
	ls := make([]listenerEditable, len(e.onEdit))
	copy(ls, e.onEdit)
	e.mu.Unlock()
	for _, l := range ls {
		l.fn(v)
	}
}

// RegisterEditableListener observes edit-mode changes.
func (e *Editor) RegisterEditableListener(fn func(editable bool)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.onEdit = append(e.onEdit, listenerEditable{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.onEdit {
			if l.id == id {
				e.onEdit = append(e.onEdit[:i:i], e.onEdit[i+1:]...)
				return
			}
		}
	}
}

// CanUndo reports whether Undo has something to restore.
func (e *Editor) CanUndo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.undo) > 0
}

// Undo restores the content before the last user edit.
func (e *Editor) Undo() error {
	e.mu.Lock()
	if len(e.undo) == 0 {
		e.mu.Unlock()
		return nil
	}
	target := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	e.redo = append(e.redo, e.content.Clone())
	e.mu.Unlock()
	return e.Replace(CauseHistoryReplay, target)
}

// Redo re-applies the last undone edit.
func (e *Editor) Redo() error {
	e.mu.Lock()
	if len(e.redo) == 0 {
		e.mu.Unlock()
		return nil
	}
	target := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	e.undo = append(e.undo, e.content.Clone())
	e.mu.Unlock()
	return e.Replace(CauseHistoryReplay, target)
}

// ClearHistory drops undo and redo stacks.
func (e *Editor) ClearHistory() {
	e.mu.Lock()
	e.undo = nil
	e.redo = nil
	e.mu.Unlock()
}
