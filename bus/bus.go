// CLAUDE:SUMMARY Priority-ordered, claimable command registry owned by an editor context.
// Package bus is the command/listener registry components use to talk to each
// other without importing each other. One Bus belongs to one editor context
// and is passed by reference; there is no package-level instance.
//
//	unregister := b.Register(collab.ToggleConnect, bus.PriorityEditor, func(p any) bool {
//		return false // pass through
//	})
//	defer unregister()
//	b.Dispatch(collab.ToggleConnect, true)
package bus

import (
	"log/slog"
	"sort"
	"sync"
)

// Command names a message dispatched through the bus.
type Command string

// Priority orders handlers for one command. Higher runs first.
type Priority int

const (
	PriorityEditor Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Handler receives a command payload. Returning true claims the command and
// stops propagation to lower-priority handlers.
type Handler func(payload any) bool

type entry struct {
	id       uint64
	priority Priority
	handler  Handler
}

// Bus holds the handler registry. Safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Command][]entry
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New returns an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[Command][]entry),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register adds a handler and returns the function that removes it.
// Handlers of equal priority run in registration order.
func (b *Bus) Register(cmd Command, p Priority, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	list := append(b.handlers[cmd], entry{id: id, priority: p, handler: h})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].id < list[j].id
	})
	b.handlers[cmd] = list
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(cmd, id) })
	}
}

func (b *Bus) remove(cmd Command, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[cmd]
	for i, e := range list {
		if e.id == id {
			b.handlers[cmd] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.handlers[cmd]) == 0 {
		delete(b.handlers, cmd)
	}
}

// Dispatch delivers payload to the handlers of cmd in priority order and
// reports whether one of them claimed it. Handlers run outside the registry
// lock, so they may register, unregister or dispatch.
func (b *Bus) Dispatch(cmd Command, payload any) bool {
	b.mu.Lock()
	list := make([]entry, len(b.handlers[cmd]))
	copy(list, b.handlers[cmd])
	b.mu.Unlock()

	for _, e := range list {
		if e.handler(payload) {
			b.logger.Debug("bus: command claimed", "command", string(cmd), "priority", int(e.priority))
			return true
		}
	}
	return false
}

// Len returns the number of handlers registered for cmd.
func (b *Bus) Len(cmd Command) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[cmd])
}

// Merge combines unregister functions into one, called in reverse order.
func Merge(fns ...func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			if fns[i] != nil {
				fns[i]()
			}
		}
	}
}
