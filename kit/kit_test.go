package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	ctx = WithPeer(ctx, "peer_1")
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithRemoteAddr(ctx, "10.0.0.1:1234")
	ctx = WithRoom(ctx, "main")

	checks := map[string][2]string{
		"peer":    {GetPeer(ctx), "peer_1"},
		"request": {GetRequestID(ctx), "req_1"},
		"remote":  {GetRemoteAddr(ctx), "10.0.0.1:1234"},
		"room":    {GetRoom(ctx), "main"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: got %q, want %q", name, c[0], c[1])
		}
	}
}

func TestContext_Transport_Default(t *testing.T) {
	if v := GetTransport(context.Background()); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	if v := GetTransport(WithTransport(context.Background(), "ws")); v != "ws" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestLogAttrs(t *testing.T) {
	if attrs := LogAttrs(context.Background()); len(attrs) != 0 {
		t.Fatalf("empty context: %v", attrs)
	}
	ctx := WithPeer(WithRoom(context.Background(), "notes"), "p1")
	attrs := LogAttrs(ctx)
	want := []any{"room", "notes", "peer", "p1"}
	if len(attrs) != len(want) {
		t.Fatalf("attrs = %v", attrs)
	}
	for i := range want {
		if attrs[i] != want[i] {
			t.Fatalf("attrs = %v", attrs)
		}
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ep := Logging(logger, "echo")(func(_ context.Context, req any) (any, error) {
		if req == "boom" {
			return nil, errors.New("boom")
		}
		return req, nil
	})
	ctx := WithRoom(context.Background(), "notes")
	if _, err := ep(ctx, "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := ep(ctx, "boom"); err == nil {
		t.Fatal("expected error")
	}
	out := buf.String()
	for _, want := range []string{"endpoint served", "endpoint failed", "endpoint=echo", "room=notes"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestRegisterTool(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)

	type echoReq struct {
		Text string `json:"text"`
	}
	var sawTransport string
	RegisterTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Echo text.",
		InputSchema: map[string]any{"type": "object"},
	}, nil, func(ctx context.Context, req *echoReq) (any, error) {
		sawTransport = GetTransport(ctx)
		if req.Text == "" {
			return nil, errors.New("empty text")
		}
		return map[string]string{"echo": req.Text}, nil
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error")
	}
	if tc := res.Content[0].(*mcp.TextContent); tc.Text != `{"echo":"hi"}` {
		t.Errorf("result = %q", tc.Text)
	}
	if sawTransport != "mcp" {
		t.Errorf("transport = %q, want mcp", sawTransport)
	}

	for _, args := range []any{map[string]any{}, map[string]any{"text": 3}} {
		res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: args})
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}
