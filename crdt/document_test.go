package crdt

import (
	"errors"
	"testing"

	"github.com/hazyhaar/docsync/snapshot"
)

func para(s string) snapshot.Node { return snapshot.Paragraph(snapshot.Text(s)) }

func texts(d *Document) []string {
	var out []string
	for _, b := range d.Visible() {
		out = append(out, b.Node.TextContent())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func permutations(ops []Op) [][]Op {
	if len(ops) <= 1 {
		return [][]Op{append([]Op(nil), ops...)}
	}
	var out [][]Op
	for i := range ops {
		rest := make([]Op, 0, len(ops)-1)
		rest = append(rest, ops[:i]...)
		rest = append(rest, ops[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Op{ops[i]}, p...))
		}
	}
	return out
}

// mustOp wraps a local op call: mustOp(t)(d.Insert(...)).
func mustOp(t *testing.T) func(Op, error) Op {
	return func(op Op, err error) Op {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return op
	}
}

func TestLocalOps(t *testing.T) {
	d := New("a")
	first := mustOp(t)(d.Insert(Head, para("one")))
	second := mustOp(t)(d.Insert(first.ID, para("three")))
	mustOp(t)(d.Insert(first.ID, para("two")))
	if got := texts(d); !equalStrings(got, []string{"one", "two", "three"}) {
		t.Fatalf("visible = %v", got)
	}
	mustOp(t)(d.Update(second.ID, para("THREE")))
	mustOp(t)(d.Delete(first.ID))
	if got := texts(d); !equalStrings(got, []string{"two", "THREE"}) {
		t.Fatalf("visible = %v", got)
	}
	if v := d.Vector(); v["a"] != 5 {
		t.Fatalf("vector = %v", v)
	}
	if _, err := d.Update(ID{Peer: "z", Seq: 9}, para("x")); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvergesUnderAnyDeliveryOrder(t *testing.T) {
	seed := New("seed")
	base := mustOp(t)(seed.Insert(Head, para("base")))

	a := New("a")
	b := New("b")
	a.Integrate(base)
	b.Integrate(base)

	var ops []Op
	ops = append(ops, mustOp(t)(a.Insert(base.ID, para("from a"))))
	ops = append(ops, mustOp(t)(a.Update(base.ID, para("base edited by a"))))
	ops = append(ops, mustOp(t)(b.Insert(base.ID, para("from b"))))
	ops = append(ops, mustOp(t)(b.Insert(Head, para("b at front"))))

	var want []string
	for i, perm := range permutations(ops) {
		r := New("r")
		r.Integrate(base)
		for _, op := range perm {
			if _, err := r.Integrate(op); err != nil {
				t.Fatal(err)
			}
		}
		if r.Pending() != 0 {
			t.Fatalf("perm %d left %d pending", i, r.Pending())
		}
		got := texts(r)
		if i == 0 {
			want = got
			continue
		}
		if !equalStrings(got, want) {
			t.Fatalf("perm %d = %v, want %v", i, got, want)
		}
	}
	if len(want) != 4 || want[0] != "b at front" {
		t.Fatalf("converged = %v", want)
	}
}

func TestIntegrateIsIdempotent(t *testing.T) {
	src := New("a")
	op1 := mustOp(t)(src.Insert(Head, para("x")))
	op2 := mustOp(t)(src.Update(op1.ID, para("y")))

	d := New("b")
	if n, _ := d.Integrate(op1, op2); n != 2 {
		t.Fatalf("applied = %d", n)
	}
	if n, _ := d.Integrate(op1, op2, op1); n != 0 {
		t.Fatalf("reapplied = %d", n)
	}
	if d.Len() != 2 {
		t.Fatalf("log len = %d", d.Len())
	}
	if got := texts(d); !equalStrings(got, []string{"y"}) {
		t.Fatalf("visible = %v", got)
	}
}

func TestPendingUntilDependenciesArrive(t *testing.T) {
	a := New("a")
	ins := mustOp(t)(a.Insert(Head, para("x")))
	upd := mustOp(t)(a.Update(ins.ID, para("y")))

	b := New("b")
	b.Integrate(ins)
	later := mustOp(t)(b.Insert(ins.ID, para("z")))

	r := New("r")
	if n, _ := r.Integrate(upd, later); n != 0 {
		t.Fatalf("applied = %d before dependencies", n)
	}
	if r.Pending() != 2 {
		t.Fatalf("pending = %d", r.Pending())
	}
	if n, _ := r.Integrate(ins); n != 3 {
		t.Fatalf("applied = %d after dependency", n)
	}
	if got := texts(r); !equalStrings(got, []string{"y", "z"}) {
		t.Fatalf("visible = %v", got)
	}
}

func TestConcurrentUpdatesLastWriterWins(t *testing.T) {
	seed := New("seed")
	base := mustOp(t)(seed.Insert(Head, para("base")))

	a, b := New("a"), New("b")
	a.Integrate(base)
	b.Integrate(base)
	ua := mustOp(t)(a.Update(base.ID, para("a")))
	ub := mustOp(t)(b.Update(base.ID, para("b")))
	if ua.Clock != ub.Clock {
		t.Fatalf("clocks differ: %d vs %d", ua.Clock, ub.Clock)
	}

	a.Integrate(ub)
	b.Integrate(ua)
	// equal clocks: higher peer id wins
	for _, d := range []*Document{a, b} {
		if got := texts(d); !equalStrings(got, []string{"b"}) {
			t.Fatalf("%s visible = %v", d.Peer(), got)
		}
	}
}

func TestDeleteIsPermanent(t *testing.T) {
	seed := New("seed")
	base := mustOp(t)(seed.Insert(Head, para("base")))
	a, b := New("a"), New("b")
	a.Integrate(base)
	b.Integrate(base)
	del := mustOp(t)(a.Delete(base.ID))
	upd := mustOp(t)(b.Update(base.ID, para("late")))
	a.Integrate(upd)
	b.Integrate(del)
	if !a.IsEmpty() || !b.IsEmpty() {
		t.Fatalf("a=%v b=%v", texts(a), texts(b))
	}
}

func TestMissing(t *testing.T) {
	a := New("a")
	op1 := mustOp(t)(a.Insert(Head, para("1")))
	mustOp(t)(a.Insert(op1.ID, para("2")))
	mustOp(t)(a.Insert(Head, para("0")))

	missing := a.Missing(Vector{"a": 1})
	if len(missing) != 2 || missing[0].ID.Seq != 2 || missing[1].ID.Seq != 3 {
		t.Fatalf("missing = %+v", missing)
	}
	if len(a.Missing(a.Vector())) != 0 {
		t.Fatal("nothing should be missing from own vector")
	}

	b := New("b")
	b.Integrate(a.Missing(nil)...)
	if got, want := texts(b), texts(a); !equalStrings(got, want) {
		t.Fatalf("b = %v, a = %v", got, want)
	}
}

func TestReconcile(t *testing.T) {
	d := New("a")
	cases := []struct {
		name   string
		target []string
	}{
		{"seed", []string{"a", "b", "c"}},
		{"edit middle", []string{"a", "B", "c"}},
		{"append", []string{"a", "B", "c", "d"}},
		{"insert front", []string{"z", "a", "B", "c", "d"}},
		{"delete window", []string{"z", "d"}},
		{"replace all", []string{"x"}},
		{"empty", nil},
	}
	for _, tc := range cases {
		var target []snapshot.Node
		for _, s := range tc.target {
			target = append(target, para(s))
		}
		if _, err := d.Reconcile(target); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := texts(d); !equalStrings(got, tc.target) {
			t.Fatalf("%s: visible = %v", tc.name, got)
		}
	}

	mirror := New("m")
	mirror.Integrate(d.Missing(nil)...)
	if !mirror.IsEmpty() {
		t.Fatalf("mirror = %v", texts(mirror))
	}
}

func TestReconcileNoChange(t *testing.T) {
	d := New("a")
	d.Reconcile([]snapshot.Node{para("x")})
	ops, err := d.Reconcile([]snapshot.Node{para("x")})
	if err != nil || len(ops) != 0 {
		t.Fatalf("ops = %v, err = %v", ops, err)
	}
}

func TestInvalidOps(t *testing.T) {
	d := New("a")
	bad := []Op{
		{},
		{ID: ID{Peer: "x", Seq: 1}, Clock: 1, Kind: KindInsert},
		{ID: ID{Peer: "x", Seq: 1}, Clock: 1, Kind: KindDelete},
		{ID: ID{Peer: "x", Seq: 1}, Clock: 1, Kind: "move", Ref: ID{Peer: "y", Seq: 1}},
	}
	good := Op{ID: ID{Peer: "x", Seq: 1}, Clock: 1, Kind: KindInsert, Block: ptr(para("ok"))}
	n, err := d.Integrate(append(bad, good)...)
	if !errors.Is(err, ErrInvalidOp) {
		t.Fatalf("err = %v", err)
	}
	if n != 1 {
		t.Fatalf("applied = %d", n)
	}
}

func ptr[T any](v T) *T { return &v }
