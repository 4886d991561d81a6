// CLAUDE:SUMMARY Read-only validation round-trip: user-edit dirt in a non-editable editor is posted to the authority; 403 surfaces as rejection.
// Package validate asks a remote authority to accept changes observed while
// the editor is read-only.
//
// Only updates caused by user-edit count: history replay and collaboration
// traffic are never submitted. Each qualifying update produces exactly one
// request; requests are not coalesced. An explicit rejection is reported
// through OnRejected and the document is left as it is. Any other outcome,
// transport failure included, counts as acceptance.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/hazyhaar/docsync/editor"
	"github.com/hazyhaar/docsync/snapshot"
)

// ErrValidationRejected is returned by an Authority that explicitly refused
// the submitted state.
var ErrValidationRejected = errors.New("validate: rejected by authority")

// Authority judges a submitted snapshot (JSON encoded).
type Authority interface {
	Validate(ctx context.Context, snapshotJSON []byte) error
}

// Rejection describes one refused update.
type Rejection struct {
	Seq      uint64
	Snapshot snapshot.Snapshot
	Err      error
}

// Config configures a Validator.
type Config struct {
	Editor    *editor.Editor
	Authority Authority

	// Provenance tags submitted snapshots (default: snapshot.DefaultProvenance).
	Provenance string

	// Timeout bounds each request (default: 10s).
	Timeout time.Duration

	// OnRejected is called from a request goroutine for each rejection.
	OnRejected func(Rejection)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Provenance == "" {
		c.Provenance = snapshot.DefaultProvenance
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validator watches one editor.
type Validator struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup

	mu       sync.Mutex
	listener func() // unregisters the update listener while read-only
	closed   bool
	stop     func()

	submitted atomic.Int64
	rejected  atomic.Int64
}

// New starts watching cfg.Editor. The update listener is only registered
// while the editor is not editable.
func New(cfg Config) (*Validator, error) {
	if cfg.Editor == nil || cfg.Authority == nil {
		return nil, errors.New("validate: editor and authority are required")
	}
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	v := &Validator{cfg: cfg, ctx: ctx, cancel: cancel}
	v.stop = cfg.Editor.RegisterEditableListener(v.onEditable)
	v.onEditable(cfg.Editor.Editable())
	return v, nil
}

func (v *Validator) onEditable(editable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	switch {
	case !editable && v.listener == nil:
		v.listener = v.cfg.Editor.RegisterUpdateListener(v.onUpdate)
	case editable && v.listener != nil:
		v.listener()
		v.listener = nil
	}
}

// Active reports whether the update listener is registered.
func (v *Validator) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listener != nil
}

func (v *Validator) onUpdate(ev editor.UpdateEvent) {
	if ev.Dirty.Empty() || ev.Dirty.Cause != editor.CauseUserEdit {
		return
	}
	snap := snapshot.Take(ev.Next, v.cfg.Provenance)
	data, err := json.Marshal(snap)
	if err != nil {
		v.cfg.Logger.Warn("validate: marshal snapshot", "error", err)
		return
	}
	v.submitted.Add(1)
	v.tasks.Go(func() {
		v.submit(ev.Seq, snap, data)
	})
}

func (v *Validator) submit(seq uint64, snap snapshot.Snapshot, data []byte) {
	ctx, cancel := context.WithTimeout(v.ctx, v.cfg.Timeout)
	defer cancel()
	err := v.cfg.Authority.Validate(ctx, data)
	switch {
	case err == nil:
		v.cfg.Logger.Debug("validate: accepted", "seq", seq)
	case errors.Is(err, ErrValidationRejected):
		v.rejected.Add(1)
		v.cfg.Logger.Warn("validate: rejected", "seq", seq)
		if v.cfg.OnRejected != nil {
			v.cfg.OnRejected(Rejection{Seq: seq, Snapshot: snap, Err: fmt.Errorf("update %d: %w", seq, err)})
		}
	default:
		v.cfg.Logger.Debug("validate: authority unreachable, accepting", "seq", seq, "error", err)
	}
}

// Submitted returns the number of requests issued.
func (v *Validator) Submitted() int64 { return v.submitted.Load() }

// Rejected returns the number of rejections received.
func (v *Validator) Rejected() int64 { return v.rejected.Load() }

// Wait blocks until in-flight requests finish.
func (v *Validator) Wait() { v.tasks.Wait() }

// Close unregisters the listeners, cancels in-flight requests and waits for them.
func (v *Validator) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	if v.listener != nil {
		v.listener()
		v.listener = nil
	}
	v.mu.Unlock()
	v.stop()
	v.cancel()
	v.tasks.Wait()
}
