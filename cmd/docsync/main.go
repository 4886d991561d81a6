// CLAUDE:SUMMARY docsync CLI (docopt): convert, sniff, share/unshare links, markdown toggle, authority push/validate, relay join, MCP stdio server.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docsync/actions"
	"github.com/hazyhaar/docsync/authority"
	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/collab"
	"github.com/hazyhaar/docsync/config"
	"github.com/hazyhaar/docsync/connectivity"
	"github.com/hazyhaar/docsync/editor"
	"github.com/hazyhaar/docsync/sharelink"
	"github.com/hazyhaar/docsync/validate"
)

const version = "0.3.0"

const usage = `docsync converts, shares and synchronises documents.

Usage:
    docsync convert <input> [--to=<format>] [--out=<file>] [--config=<path>]
    docsync sniff <name>...
    docsync share <input> [--base=<url>] [--config=<path>]
    docsync unshare <link> [--to=<format>] [--out=<file>] [--config=<path>]
    docsync toggle-markdown <input> [--out=<file>] [--config=<path>]
    docsync push <input> [--config=<path>]
    docsync validate <input> [--config=<path>]
    docsync join <room> [<input>] [--to=<format>] [--wait=<duration>] [--config=<path>]
    docsync mcp [--config=<path>]
    docsync -h | --help
    docsync --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --to=<format>        Output format: json, markdown, html, doc [default: json].
    --out=<file>         Write to a file named after the export instead of stdout.
                         Use "auto" for "<provenance> <timestamp>.<ext>".
    --base=<url>         Page URL the share fragment is appended to.
    --wait=<duration>    How long join waits for the room [default: 10s].
    --config=<path>      YAML configuration file.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Default()
	if path, _ := opts.String("--config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli{cfg: cfg, logger: logger, opts: opts, out: os.Stdout}
	if err := app.run(ctx); err != nil {
		logger.Error("docsync", "error", err)
		os.Exit(1)
	}
}

type cli struct {
	cfg    *config.Config
	logger *slog.Logger
	opts   docopt.Opts
	out    io.Writer
}

func (c *cli) run(ctx context.Context) error {
	commands := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"convert", c.convert},
		{"sniff", c.sniff},
		{"share", c.share},
		{"unshare", c.unshare},
		{"toggle-markdown", c.toggleMarkdown},
		{"push", c.push},
		{"validate", c.validate},
		{"join", c.join},
		{"mcp", c.mcp},
	}
	for _, cmd := range commands {
		if on, _ := c.opts.Bool(cmd.name); on {
			return cmd.fn(ctx)
		}
	}
	return errors.New("no command")
}

// session builds an editor plus action surface, optionally loading input.
func (c *cli) session(ctx context.Context, input string, ecfg editor.Config) (*actions.Actions, *editor.Editor, error) {
	ecfg.Logger = c.logger
	ecfg.HistoryLimit = c.cfg.Editor.HistoryLimit
	ed := editor.New(ecfg)
	a, err := actions.New(actions.Config{
		Editor: ed,
		Codecs: codec.New(c.cfg.Codec(c.logger)),
		Links:  sharelink.New(c.cfg.ShareLink(c.logger)),
		Logger: c.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if input == "" {
		return a, ed, nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	ok, err := a.ImportFile(ctx, filepath.Base(input), f)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", input, codec.ErrUnsupportedFormat)
	}
	return a, ed, nil
}

func (c *cli) emit(a *actions.Actions) error {
	format, _ := c.opts.String("--to")
	if format == "" {
		format = "json"
	}
	f, err := a.Export(format)
	if err != nil {
		return err
	}
	out, _ := c.opts.String("--out")
	switch out {
	case "":
		data := f.Data
		if format == "json" {
			data = prettyJSON(data)
		}
		_, err = c.out.Write(data)
		return err
	case "auto":
		out = f.Name
	}
	if err := os.WriteFile(out, f.Data, 0o644); err != nil {
		return err
	}
	c.logger.Info("written", "file", out, "mime", f.MIMEType, "bytes", len(f.Data))
	return nil
}

func (c *cli) convert(ctx context.Context) error {
	input, _ := c.opts.String("<input>")
	a, _, err := c.session(ctx, input, editor.Config{})
	if err != nil {
		return err
	}
	return c.emit(a)
}

func (c *cli) sniff(context.Context) error {
	reg := codec.New(c.cfg.Codec(c.logger))
	names, _ := c.opts["<name>"].([]string)
	for _, name := range names {
		d, ok := reg.Sniff(name)
		if !ok {
			fmt.Fprintf(c.out, "%s\t-\n", name)
			continue
		}
		fmt.Fprintf(c.out, "%s\t%s\t%s\n", name, d.Name, d.MIMEType)
	}
	return nil
}

func (c *cli) share(ctx context.Context) error {
	input, _ := c.opts.String("<input>")
	a, _, err := c.session(ctx, input, editor.Config{})
	if err != nil {
		return err
	}
	base, _ := c.opts.String("--base")
	var link string
	if base != "" {
		link, err = a.ShareURL(ctx, base)
	} else {
		link, err = a.Share(ctx)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, link)
	return err
}

func (c *cli) unshare(ctx context.Context) error {
	link, _ := c.opts.String("<link>")
	a, _, err := c.session(ctx, "", editor.Config{})
	if err != nil {
		return err
	}
	ok, err := a.LoadFromLink(ctx, link)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("link carries no %s document", c.cfg.Provenance)
	}
	return c.emit(a)
}

func (c *cli) toggleMarkdown(ctx context.Context) error {
	input, _ := c.opts.String("<input>")
	a, _, err := c.session(ctx, input, editor.Config{})
	if err != nil {
		return err
	}
	if err := a.ToggleMarkdown(); err != nil {
		return err
	}
	return c.emit(a)
}

func (c *cli) authorityClient() (*authority.Client, func(), error) {
	if c.cfg.Authority.URL == "" {
		return nil, nil, errors.New("authority.url is not configured")
	}
	var fopts []connectivity.HTTPOption
	if c.cfg.Authority.AllowPrivate {
		fopts = append(fopts, connectivity.AllowPrivateEndpoints())
	}
	router := connectivity.New(connectivity.WithLogger(c.logger))
	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory(fopts...))
	routes, err := authority.Routes(c.cfg.Authority.URL, c.cfg.Authority.Doc, c.cfg.AuthorityRoutes())
	if err != nil {
		return nil, nil, err
	}
	if err := router.Apply(routes); err != nil {
		return nil, nil, err
	}
	return authority.NewClient(router, c.logger), func() { router.Close() }, nil
}

func (c *cli) push(ctx context.Context) error {
	input, _ := c.opts.String("<input>")
	client, done, err := c.authorityClient()
	if err != nil {
		return err
	}
	defer done()
	ed := editor.New(editor.Config{Logger: c.logger})
	a, err := actions.New(actions.Config{Editor: ed, Codecs: codec.New(c.cfg.Codec(c.logger)), Pusher: client, Logger: c.logger})
	if err != nil {
		return err
	}
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := a.ImportFile(ctx, filepath.Base(input), f); err != nil {
		return err
	}
	a.Push(ctx)
	return nil
}

// validate replays input as a programmatic edit on a read-only editor and
// reports the authority's verdict.
func (c *cli) validate(ctx context.Context) error {
	input, _ := c.opts.String("<input>")
	client, done, err := c.authorityClient()
	if err != nil {
		return err
	}
	defer done()

	reg := codec.New(c.cfg.Codec(c.logger))
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	content, err := reg.Import(ctx, filepath.Base(input), f)
	f.Close()
	if err != nil {
		return err
	}

	ed := editor.New(editor.Config{ReadOnly: true, Logger: c.logger})
	var rejected error
	v, err := validate.New(validate.Config{
		Editor:     ed,
		Authority:  client,
		Provenance: c.cfg.Provenance,
		Timeout:    c.cfg.Authority.Timeout,
		OnRejected: func(r validate.Rejection) { rejected = r.Err },
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	defer v.Close()
	if err := ed.Replace(editor.CauseUserEdit, content); err != nil {
		return err
	}
	v.Wait()
	if rejected != nil {
		return rejected
	}
	fmt.Fprintln(c.out, "accepted")
	return nil
}

// join connects to a relay room, seeds it with input when it is empty, and
// prints the shared document.
func (c *cli) join(ctx context.Context) error {
	room, _ := c.opts.String("<room>")
	input, _ := c.opts.String("<input>")
	wait := 10 * time.Second
	if s, _ := c.opts.String("--wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("--wait: %w", err)
		}
		wait = d
	}
	if c.cfg.Collab.RelayURL == "" {
		return errors.New("collab.relay_url is not configured")
	}

	a, ed, err := c.session(ctx, input, editor.Config{})
	if err != nil {
		return err
	}
	a.SetCollabActive(true)
	strategy, err := collab.NewStrategy(c.cfg.Collab.Strategy, room,
		collab.WebSocketFactory(c.cfg.WebSocket(c.logger)), c.cfg.Collab.Bootstrap() && input != "")
	if err != nil {
		return err
	}
	m, err := collab.New(collab.Config{ID: room, Editor: ed, Strategy: strategy, Logger: c.logger})
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Connect(ctx); err != nil {
		return err
	}
	deadline := time.Now().Add(wait)
	for !m.Synced() {
		if time.Now().After(deadline) {
			return fmt.Errorf("room %s did not answer within %s", room, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	c.logger.Info("joined", "room", room, "blocks", len(ed.Read().Blocks()))
	return c.emit(a)
}

func (c *cli) mcp(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docsync", Version: version}, nil)
	codec.New(c.cfg.Codec(c.logger)).RegisterMCP(srv)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// prettyJSON re-indents JSON for terminals; other data passes through.
func prettyJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	return buf.Bytes()
}
