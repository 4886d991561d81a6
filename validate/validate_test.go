package validate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/editor"
	"github.com/hazyhaar/docsync/snapshot"
)

type fakeAuthority struct {
	mu    sync.Mutex
	calls [][]byte
	err   error
}

func (f *fakeAuthority) Validate(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, data)
	return f.err
}

func (f *fakeAuthority) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func para(s string) snapshot.Node { return snapshot.Paragraph(snapshot.Text(s)) }

func setup(t *testing.T, auth Authority, readOnly bool) (*editor.Editor, *Validator, *[]Rejection) {
	t.Helper()
	ed := editor.New(editor.Config{ReadOnly: readOnly})
	var mu sync.Mutex
	var rejections []Rejection
	v, err := New(Config{
		Editor:    ed,
		Authority: auth,
		OnRejected: func(r Rejection) {
			mu.Lock()
			rejections = append(rejections, r)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(v.Close)
	return ed, v, &rejections
}

func TestRejection(t *testing.T) {
	auth := &fakeAuthority{err: ErrValidationRejected}
	ed, v, rejections := setup(t, auth, true)

	if err := ed.Replace(editor.CauseUserEdit, snapshot.New(para("tampered"))); err != nil {
		t.Fatal(err)
	}
	v.Wait()
	if len(*rejections) != 1 {
		t.Fatalf("rejections = %d", len(*rejections))
	}
	r := (*rejections)[0]
	if !errors.Is(r.Err, ErrValidationRejected) {
		t.Fatalf("err = %v", r.Err)
	}
	if r.Snapshot.Content.TextContent() != "tampered" {
		t.Fatalf("snapshot = %+v", r.Snapshot)
	}
	if ed.Read().TextContent() != "tampered" {
		t.Fatal("document must be left as-is")
	}

	var sent snapshot.Snapshot
	if err := json.Unmarshal(auth.calls[0], &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Provenance != snapshot.DefaultProvenance || !sent.Content.Equal(ed.Read()) {
		t.Fatalf("submitted = %+v", sent)
	}
}

func TestTransportFailureIsAcceptance(t *testing.T) {
	auth := &fakeAuthority{err: errors.New("connection refused")}
	ed, v, rejections := setup(t, auth, true)
	ed.Replace(editor.CauseUserEdit, snapshot.New(para("x")))
	v.Wait()
	if auth.count() != 1 {
		t.Fatalf("calls = %d", auth.count())
	}
	if len(*rejections) != 0 || v.Rejected() != 0 {
		t.Fatal("transport failure must not reject")
	}
}

func TestOnlyUserEditsInReadOnlyMode(t *testing.T) {
	cases := []struct {
		name     string
		readOnly bool
		cause    editor.Cause
		want     int
	}{
		{"read-only user edit", true, editor.CauseUserEdit, 1},
		{"read-only history replay", true, editor.CauseHistoryReplay, 0},
		{"read-only collaboration", true, editor.CauseCollaborationInbound, 0},
		{"editable user edit", false, editor.CauseUserEdit, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &fakeAuthority{}
			ed, v, _ := setup(t, auth, tc.readOnly)
			ed.Replace(tc.cause, snapshot.New(para("changed")))
			v.Wait()
			if auth.count() != tc.want {
				t.Fatalf("calls = %d, want %d", auth.count(), tc.want)
			}
		})
	}
}

func TestOneRequestPerEvent(t *testing.T) {
	auth := &fakeAuthority{}
	ed, v, _ := setup(t, auth, true)
	for _, s := range []string{"a", "b", "c"} {
		ed.Replace(editor.CauseUserEdit, snapshot.New(para(s)))
	}
	// no-op update: nothing dirty, nothing sent
	ed.Replace(editor.CauseUserEdit, snapshot.New(para("c")))
	v.Wait()
	if auth.count() != 3 || v.Submitted() != 3 {
		t.Fatalf("calls = %d submitted = %d", auth.count(), v.Submitted())
	}
}

func TestFollowsEditableMode(t *testing.T) {
	auth := &fakeAuthority{}
	ed, v, _ := setup(t, auth, false)
	if v.Active() {
		t.Fatal("listener active in editable mode")
	}
	ed.SetEditable(false)
	if !v.Active() {
		t.Fatal("listener inactive in read-only mode")
	}
	ed.Replace(editor.CauseUserEdit, snapshot.New(para("x")))
	ed.SetEditable(true)
	ed.Replace(editor.CauseUserEdit, snapshot.New(para("y")))
	v.Wait()
	if auth.count() != 1 {
		t.Fatalf("calls = %d", auth.count())
	}
}

func TestCloseUnregisters(t *testing.T) {
	auth := &fakeAuthority{}
	ed, v, _ := setup(t, auth, true)
	v.Close()
	ed.Replace(editor.CauseUserEdit, snapshot.New(para("x")))
	if auth.count() != 0 || v.Active() {
		t.Fatal("closed validator still listening")
	}
}
