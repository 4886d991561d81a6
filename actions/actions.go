// CLAUDE:SUMMARY User-facing document actions: timestamped exports, clipboard, import by file name, share link, link load, markdown toggle.
// Package actions is the action surface an editor shell exposes: export and
// import, share links, the markdown toggle, clear and connect. Every
// document mutation goes through one editor update, so a failed action
// never leaves the document half changed.
package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/bus"
	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/collab"
	"github.com/hazyhaar/docsync/editor"
	"github.com/hazyhaar/docsync/sharelink"
	"github.com/hazyhaar/docsync/snapshot"
)

// ErrShareDisabled is returned by Share while collaboration is on.
var ErrShareDisabled = errors.New("actions: sharing is disabled during collaboration")

// MarkdownLanguage tags the code block produced by ToggleMarkdown.
const MarkdownLanguage = "markdown"

// Pusher receives fire-and-forget state pushes. authority.Client implements it.
type Pusher interface {
	Push(ctx context.Context, snapshotJSON []byte)
}

// Config configures the action surface.
type Config struct {
	Editor *editor.Editor
	Codecs *codec.Registry
	Links  *sharelink.Codec

	// Pusher is optional; Push is a no-op without it.
	Pusher Pusher

	// CollabMode marks a session started for collaboration: share is
	// disabled and link loading skipped from the start.
	CollabMode bool

	// Prepopulate loads the welcome document into an empty editor when
	// not in collaboration mode.
	Prepopulate bool

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Codecs == nil {
		c.Codecs = codec.New(codec.Config{Logger: c.Logger})
	}
	if c.Links == nil {
		c.Links = sharelink.New(sharelink.Config{Provenance: c.Codecs.Provenance(), Logger: c.Logger})
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// File is one export ready to be written or downloaded.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Actions binds the action surface to one editor.
type Actions struct {
	cfg    Config
	ed     *editor.Editor
	logger *slog.Logger

	mu         sync.Mutex
	connected  bool
	collabOn   bool
	unregister func()
}

// New wires the actions to cfg.Editor. It tracks the CONNECTED command so
// ToggleConnect flips the current state.
func New(cfg Config) (*Actions, error) {
	if cfg.Editor == nil {
		return nil, errors.New("actions: editor is required")
	}
	cfg.defaults()
	a := &Actions{cfg: cfg, ed: cfg.Editor, logger: cfg.Logger, collabOn: cfg.CollabMode}
	a.unregister = cfg.Editor.Bus().Register(collab.Connected, bus.PriorityEditor, func(p any) bool {
		if v, ok := p.(bool); ok {
			a.mu.Lock()
			a.connected = v
			a.mu.Unlock()
		}
		return false
	})
	if cfg.Prepopulate && !cfg.CollabMode && a.IsEmpty() {
		if err := a.ed.Replace(editor.CauseUserEdit, Welcome()); err != nil {
			a.unregister()
			return nil, err
		}
		a.ed.Bus().Dispatch(editor.ClearHistory, nil)
	}
	return a, nil
}

// Close stops tracking the connection state.
func (a *Actions) Close() { a.unregister() }

// SetCollabActive records whether a collaboration session is bound.
func (a *Actions) SetCollabActive(on bool) {
	a.mu.Lock()
	a.collabOn = on || a.cfg.CollabMode
	a.mu.Unlock()
}

// CollabActive reports whether share and link loading are disabled.
func (a *Actions) CollabActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collabOn
}

// Connected reports the last CONNECTED state seen on the bus.
func (a *Actions) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// IsEmpty reports whether the document is a single empty paragraph.
func (a *Actions) IsEmpty() bool { return a.ed.Read().IsEmpty() }

// FileName builds "<provenance> <RFC3339 timestamp><ext>".
func (a *Actions) FileName(ext string) string {
	return fmt.Sprintf("%s %s%s", a.cfg.Codecs.Provenance(), a.cfg.Now().UTC().Format(time.RFC3339), ext)
}

// Export renders the document in the named format ("json", "markdown",
// "html", "doc").
func (a *Actions) Export(format string) (File, error) {
	d, ok := a.cfg.Codecs.Lookup(format)
	if !ok {
		return File{}, fmt.Errorf("%w: export %q", codec.ErrUnsupportedFormat, format)
	}
	data, err := a.cfg.Codecs.Encode(a.ed.Read(), d.Kind)
	if err != nil {
		return File{}, err
	}
	return File{Name: a.FileName(d.DefaultExtension()), MIMEType: d.MIMEType, Data: data}, nil
}

// Clipboard returns the HTML and plain-text views for one clipboard write.
func (a *Actions) Clipboard() (codec.ClipboardData, error) {
	return a.cfg.Codecs.Clipboard(a.ed.Read())
}

// ImportFile replaces the document with the contents of the named file.
// A name matching no importable format is ignored: it returns false and
// no error. A decode failure leaves the document untouched.
func (a *Actions) ImportFile(ctx context.Context, name string, r io.Reader) (bool, error) {
	content, err := a.cfg.Codecs.Import(ctx, name, r)
	if errors.Is(err, codec.ErrUnsupportedFormat) {
		a.logger.Debug("actions: import ignored", "name", name)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := a.ed.Replace(editor.CauseUserEdit, content); err != nil {
		return false, err
	}
	a.logger.Info("actions: imported", "name", name, "blocks", len(content.Blocks()))
	return true, nil
}

// Share returns the "#doc=..." fragment for the current document.
func (a *Actions) Share(ctx context.Context) (string, error) {
	if a.CollabActive() {
		return "", ErrShareDisabled
	}
	return a.cfg.Links.ToLink(ctx, a.ed.Snapshot(a.cfg.Links.Provenance()))
}

// ShareURL returns base with the share fragment as its hash.
func (a *Actions) ShareURL(ctx context.Context, base string) (string, error) {
	frag, err := a.Share(ctx)
	if err != nil {
		return "", err
	}
	return sharelink.WithFragment(base, frag)
}

// LoadFromLink replaces the document with the one carried by link and clears
// the undo history. It reports false when the link carries no document of
// ours or the session is collaborative.
func (a *Actions) LoadFromLink(ctx context.Context, link string) (bool, error) {
	if a.CollabActive() {
		return false, nil
	}
	snap, err := a.cfg.Links.FromLink(ctx, link)
	if err != nil || snap == nil {
		return false, err
	}
	if err := a.ed.Replace(editor.CauseUserEdit, snap.Content); err != nil {
		return false, err
	}
	a.ed.Bus().Dispatch(editor.ClearHistory, nil)
	return true, nil
}

// ToggleMarkdown turns the document into one markdown code block holding
// its Markdown source, or parses that block back into rich content.
func (a *Actions) ToggleMarkdown() error {
	return a.ed.Update(editor.CauseUserEdit, func(c *snapshot.Content) error {
		blocks := c.Blocks()
		if len(blocks) > 0 && blocks[0].Type == snapshot.TypeCode && blocks[0].Language == MarkdownLanguage {
			parsed, err := a.cfg.Codecs.Decode(codec.KindMarkdown, []byte(blocks[0].TextContent()))
			if err != nil {
				return err
			}
			*c = parsed
			return nil
		}
		md, err := a.cfg.Codecs.Encode(*c, codec.KindMarkdown)
		if err != nil {
			return err
		}
		*c = snapshot.New(snapshot.Code(MarkdownLanguage, string(md)))
		return nil
	})
}

// Clear empties the document through the CLEAR_EDITOR command.
func (a *Actions) Clear() bool { return a.ed.Bus().Dispatch(editor.ClearEditor, nil) }

// ToggleConnect asks the collaboration manager to flip the connection.
func (a *Actions) ToggleConnect() bool {
	return a.ed.Bus().Dispatch(collab.ToggleConnect, !a.Connected())
}

// Push sends the current state to the authority, if one is configured.
func (a *Actions) Push(ctx context.Context) {
	if a.cfg.Pusher == nil {
		return
	}
	data, err := json.Marshal(a.ed.Snapshot(a.cfg.Codecs.Provenance()))
	if err != nil {
		a.logger.Warn("actions: marshal snapshot", "error", err)
		return
	}
	a.cfg.Pusher.Push(ctx, data)
}
