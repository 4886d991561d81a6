package authority

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/connectivity"
	"github.com/hazyhaar/docsync/dbopen"
	"github.com/hazyhaar/docsync/editor"
	"github.com/hazyhaar/docsync/snapshot"
	"github.com/hazyhaar/docsync/validate"
)

func para(s string) snapshot.Node { return snapshot.Paragraph(snapshot.Text(s)) }

func stateJSON(t *testing.T, blocks ...snapshot.Node) []byte {
	t.Helper()
	data, err := json.Marshal(snapshot.Take(snapshot.New(blocks...), snapshot.DefaultProvenance))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(dbopen.OpenMemory(t))
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_SetGetCheck(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.Check(ctx, "doc", stateJSON(t, para("anything")))
	if err != nil || !ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if _, err := s.Get(ctx, "doc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}

	if _, err := s.Set(ctx, "doc", stateJSON(t, para("hello"))); err != nil {
		t.Fatal(err)
	}
	st, err := s.Get(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if st.Content.TextContent() != "hello" || st.Provenance != snapshot.DefaultProvenance {
		t.Fatalf("state = %+v", st)
	}

	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"same envelope", stateJSON(t, para("hello")), true},
		{"split runs normalise equal", stateJSON(t, snapshot.Paragraph(snapshot.Text("hel"), snapshot.Text("lo"))), true},
		{"bare content", []byte(`{"root":{"type":"root","children":[{"type":"paragraph","children":[{"type":"text","text":"hello"}]}]}}`), true},
		{"different", stateJSON(t, para("tampered")), false},
	}
	for _, tc := range cases {
		got, err := s.Check(ctx, "doc", tc.data)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: valid = %v, want %v", tc.name, got, tc.want)
		}
	}

	if _, err := s.Set(ctx, "doc", []byte(`{"root":{"type":"paragraph"}}`)); !errors.Is(err, codec.ErrMalformedInput) {
		t.Fatalf("malformed err = %v", err)
	}
}

func TestStore_AcceptsExportedDocument(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	reg := codec.New(codec.Config{})
	exported, err := reg.Encode(snapshot.New(para("exported")), codec.KindJSON)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "doc", exported); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Check(ctx, "doc", stateJSON(t, para("exported")))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestServer(t *testing.T) {
	srv := httptest.NewServer(NewServer(ServerConfig{Store: newStore(t)}).Handler())
	defer srv.Close()

	post := func(path string, body []byte) int {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/setEditorState?doc=d1", stateJSON(t, para("v1"))); code != 200 {
		t.Fatalf("set = %d", code)
	}
	if code := post("/validateEditorState?doc=d1", stateJSON(t, para("v1"))); code != 200 {
		t.Fatalf("validate same = %d", code)
	}
	if code := post("/validateEditorState?doc=d1", stateJSON(t, para("v2"))); code != http.StatusForbidden {
		t.Fatalf("validate different = %d", code)
	}
	if code := post("/validateEditorState?doc=other", stateJSON(t, para("v2"))); code != 200 {
		t.Fatalf("validate unknown doc = %d", code)
	}
	if code := post("/setEditorState?doc=d1", []byte("not json")); code != 400 {
		t.Fatalf("malformed = %d", code)
	}
	if code := post("/setEditorState?doc=../etc", stateJSON(t, para("x"))); code != 400 {
		t.Fatalf("bad doc id = %d", code)
	}

	resp, err := http.Get(srv.URL + "/editorState?doc=d1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Content.TextContent() != "v1" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("state = %+v", st)
	}
}

func TestServer_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(NewServer(ServerConfig{Store: newStore(t), MaxBody: 16}).Handler())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/setEditorState", "application/json", bytes.NewReader(stateJSON(t, para("too long for the limit"))))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func httpClient(t *testing.T, baseURL, doc string) *Client {
	t.Helper()
	router := connectivity.New()
	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory(connectivity.AllowPrivateEndpoints()))
	routes, err := Routes(baseURL, doc, RouteConfig{TimeoutMs: 2000, MaxRetries: 2, BackoffMs: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := router.Apply(routes); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { router.Close() })
	return NewClient(router, nil)
}

func TestClient_OverHTTP(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	srv := httptest.NewServer(NewServer(ServerConfig{Store: store}).Handler())
	defer srv.Close()
	c := httpClient(t, srv.URL, "d1")

	c.Push(ctx, stateJSON(t, para("pushed")))
	if st, err := store.Get(ctx, "d1"); err != nil || st.Content.TextContent() != "pushed" {
		t.Fatalf("state = %+v err = %v", st, err)
	}
	if err := c.Validate(ctx, stateJSON(t, para("pushed"))); err != nil {
		t.Fatalf("validate same: %v", err)
	}
	if err := c.Validate(ctx, stateJSON(t, para("other"))); !errors.Is(err, validate.ErrValidationRejected) {
		t.Fatalf("validate different: %v", err)
	}
}

func TestClient_NonForbiddenOutcomesAccept(t *testing.T) {
	ctx := context.Background()
	var calls int
	var mu sync.Mutex
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	if err := httpClient(t, failing.URL, "").Validate(ctx, stateJSON(t, para("x"))); err != nil {
		t.Fatalf("5xx: %v", err)
	}
	mu.Lock()
	if calls != 1 {
		t.Fatalf("validation retried: %d calls", calls)
	}
	mu.Unlock()

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	c := httpClient(t, url, "")
	if err := c.Validate(ctx, stateJSON(t, para("x"))); err != nil {
		t.Fatalf("transport failure: %v", err)
	}
	c.Push(ctx, stateJSON(t, para("x"))) // logged, never returned
}

func TestClient_LocalHandlers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	set, check := store.LocalHandlers("local")
	router := connectivity.New()
	router.RegisterLocal(ServiceSetState, set)
	router.RegisterLocal(ServiceValidateState, check)
	c := NewClient(router, nil)

	c.Push(ctx, stateJSON(t, para("a")))
	if err := c.Validate(ctx, stateJSON(t, para("b"))); !errors.Is(err, validate.ErrValidationRejected) {
		t.Fatalf("err = %v", err)
	}
}

func TestReadOnlyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	srv := httptest.NewServer(NewServer(ServerConfig{Store: store}).Handler())
	defer srv.Close()
	c := httpClient(t, srv.URL, "")

	ed := editor.New(editor.Config{ReadOnly: true})
	c.Push(ctx, stateJSON(t, ed.Read().Blocks()...))

	var mu sync.Mutex
	var rejected []validate.Rejection
	v, err := validate.New(validate.Config{
		Editor:    ed,
		Authority: c,
		OnRejected: func(r validate.Rejection) {
			mu.Lock()
			rejected = append(rejected, r)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	ed.Replace(editor.CauseUserEdit, snapshot.New(para("programmatic change")))
	v.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(rejected) != 1 {
		t.Fatalf("rejections = %d", len(rejected))
	}
	if ed.Read().TextContent() != "programmatic change" {
		t.Fatal("document rolled back")
	}
}
