package target

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/open-power/pdbg/pkg/devicetree"
)

type node struct {
	name     string
	props    map[string][]byte
	children []node
}

func n(name string, children ...node) node {
	return node{name: name, children: children}
}

func (nd node) with(key string, value []byte) node {
	if nd.props == nil {
		nd.props = map[string][]byte{}
	}
	nd.props[key] = value
	return nd
}

func stream(root node) func(devicetree.Visitor) error {
	var visit func(nd node, parent devicetree.Handle, v devicetree.Visitor) error
	visit = func(nd node, parent devicetree.Handle, v devicetree.Visitor) error {
		h, err := v.VisitNode(nd.name, parent)
		if err != nil {
			return err
		}
		for k, val := range nd.props {
			if err := v.VisitProperty(h, k, val); err != nil {
				return err
			}
		}
		for _, c := range nd.children {
			if err := visit(c, h, v); err != nil {
				return err
			}
		}
		return nil
	}
	return func(v devicetree.Visitor) error {
		return visit(root, devicetree.NoHandle, v)
	}
}

// fakeProber fails the probe of every target whose path is in fail.
type fakeProber struct {
	fail     map[string]bool
	probes   int
	released map[string]int
}

func (p *fakeProber) Probe(t *Target) error {
	p.probes++
	if p.fail[t.Path()] {
		return errors.New("no response")
	}
	return nil
}

func (p *fakeProber) Release(t *Target) error {
	if p.released == nil {
		p.released = map[string]int{}
	}
	p.released[t.Path()]++
	return nil
}

func machine() node {
	return n("",
		n("pib@0",
			n("core@10", n("thread@0"), n("thread@1")),
			n("core@20", n("thread@0")),
		).with("compatible", devicetree.Strings("ibm,power9-pib")),
		n("pib@1",
			n("core@10", n("thread@0"), n("thread@1")),
		).with("compatible", devicetree.Strings("ibm,power9-pib")),
		n("adu@0"),
	)
}

func mustBuild(t *testing.T, root node, p Prober) *Tree {
	t.Helper()
	tr, err := Build(stream(root), p)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func paths(tr *Tree, class string, iter func(string, VisitFunc) Result) []string {
	var r []string
	iter(class, func(t *Target, index int) Action {
		r = append(r, fmt.Sprintf("%s#%d", t.Path(), index))
		return Continue
	})
	return r
}

func TestTreeInvariants(t *testing.T) {
	tr := mustBuild(t, machine(), nil)
	if tr.Len() != 12 {
		t.Fatalf("expected 12 targets, got %d", tr.Len())
	}

	parentOf := map[*Target]int{}
	tr.Walk(func(x *Target, _ int) Action {
		for _, c := range x.Children() {
			parentOf[c]++
			if c.Parent() != x {
				t.Errorf("%s: parent link does not match children", c)
			}
		}
		return Continue
	})
	for _, x := range tr.Targets() {
		if x == tr.Root() {
			if parentOf[x] != 0 || x.Parent() != nil {
				t.Errorf("root has a parent")
			}
			continue
		}
		if parentOf[x] != 1 {
			t.Errorf("%s appears in %d children lists", x, parentOf[x])
		}
		seen := map[*Target]bool{x: true}
		for a := x.Parent(); a != nil; a = a.Parent() {
			if seen[a] {
				t.Fatalf("cycle through %s", x)
			}
			seen[a] = true
		}
	}

	type key struct {
		p     *Target
		class string
		idx   int
	}
	uniq := map[key]bool{}
	for _, x := range tr.Targets() {
		k := key{x.Parent(), x.Class(), x.Index()}
		if uniq[k] {
			t.Errorf("duplicate index %d for %s", x.Index(), x)
		}
		uniq[k] = true
	}
}

func TestWalkConstructionOrder(t *testing.T) {
	tr := mustBuild(t, machine(), nil)
	var visited []*Target
	r := tr.Walk(func(x *Target, _ int) Action {
		visited = append(visited, x)
		return Continue
	})
	if !reflect.DeepEqual(visited, tr.Targets()) {
		t.Fatalf("walk order differs from construction order")
	}
	if r.Visited != tr.Len() || r.Stopped {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestClassAndIndex(t *testing.T) {
	tr := mustBuild(t, machine(), nil)
	var got []string
	for _, x := range tr.Targets() {
		got = append(got, x.Path())
	}
	want := []string{
		"/",
		"/pib0",
		"/pib0/core0", "/pib0/core0/thread0", "/pib0/core0/thread1",
		"/pib0/core1", "/pib0/core1/thread0",
		"/pib1",
		"/pib1/core0", "/pib1/core0/thread0", "/pib1/core0/thread1",
		"/adu0",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("target %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestExplicitIndex(t *testing.T) {
	root := n("",
		n("core@a").with("index", devicetree.Cells(0)),
		n("core@b"),
		n("core@c").with("index", devicetree.Cells(1)),
		n("x").with("class", devicetree.Strings("thread")),
		n("y").with("compatible", devicetree.Strings("ibm,power8-adu")),
	)
	tr := mustBuild(t, root, nil)
	got := map[string]string{}
	for _, x := range tr.Targets()[1:] {
		got[x.Name()] = fmt.Sprintf("%s%d", x.Class(), x.Index())
	}
	want := map[string]string{
		"core@a": "core0",
		"core@b": "core2",
		"core@c": "core1",
		"x":      "thread0",
		"y":      "adu0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	dup := n("",
		n("core@a").with("index", devicetree.Cells(3)),
		n("core@b").with("index", devicetree.Cells(3)),
	)
	if _, err := Build(stream(dup), nil); err == nil {
		t.Fatal("duplicate index accepted")
	}
}

func TestBuilderErrors(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Tree(nil); err == nil {
		t.Fatal("empty tree accepted")
	}
	if _, err := b.VisitNode("a", devicetree.NoHandle); err != nil {
		t.Fatal(err)
	}
	if _, err := b.VisitNode("b", devicetree.NoHandle); err == nil {
		t.Fatal("second root accepted")
	}
	if _, err := b.VisitNode("c", devicetree.Handle(7)); err == nil {
		t.Fatal("unknown parent accepted")
	}
	if err := b.VisitProperty(devicetree.Handle(7), "p", nil); err == nil {
		t.Fatal("property on unknown node accepted")
	}
}

func TestForEachOfClassGatesOnStatus(t *testing.T) {
	p := &fakeProber{fail: map[string]bool{"/pib0/core0/thread1": true, "/pib1/core0/thread0": true}}
	tr := mustBuild(t, machine(), p)

	if r := tr.ForEachOfClass(ClassThread, func(*Target, int) Action { return Continue }); r.Visited != 0 {
		t.Fatalf("unprobed targets visited: %+v", r)
	}

	tr.ProbeAll()
	got := paths(tr, ClassThread, tr.ForEachOfClass)
	want := []string{"/pib0/core0/thread0#0", "/pib0/core1/thread0#0", "/pib1/core0/thread1#1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestTraversalStop(t *testing.T) {
	tr := mustBuild(t, machine(), nil)
	tr.ProbeAll()
	calls := 0
	r := tr.ForEachOfClass(ClassThread, func(*Target, int) Action {
		calls++
		if calls == 2 {
			return Stop
		}
		return Continue
	})
	if calls != 2 || r.Visited != 2 || !r.Stopped || r.Completed() {
		t.Fatalf("calls=%d result=%+v", calls, r)
	}

	r = tr.ForEachOfClass(ClassThread, func(*Target, int) Action { return Continue })
	if r.Visited != 5 || !r.Completed() {
		t.Fatalf("full traversal result=%+v", r)
	}
}

func TestForEachDescendantOfClass(t *testing.T) {
	tr := mustBuild(t, machine(), nil)
	tr.ProbeAll()
	pib0 := tr.Targets()[1]

	got := paths(tr, ClassThread, func(class string, fn VisitFunc) Result {
		return tr.ForEachDescendantOfClass(class, pib0, fn)
	})
	want := []string{"/pib0/core0/thread0#0", "/pib0/core0/thread1#1", "/pib0/core1/thread0#0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if r := tr.ForEachDescendantOfClass(ClassPIB, pib0, func(*Target, int) Action { return Continue }); r.Visited != 0 {
		t.Fatalf("parent itself visited: %+v", r)
	}

	calls := 0
	r := tr.ForEachDescendantOfClass(ClassThread, pib0, func(*Target, int) Action {
		calls++
		return Stop
	})
	if calls != 1 || !r.Stopped {
		t.Fatalf("stop not honoured across children: calls=%d %+v", calls, r)
	}

	if r := tr.ForEachDescendantOfClass(ClassThread, nil, func(*Target, int) Action { return Continue }); r.Visited != 0 || r.Stopped {
		t.Fatalf("nil parent visited targets: %+v", r)
	}
}

func TestProbe(t *testing.T) {
	p := &fakeProber{fail: map[string]bool{"/pib1": true}}
	root := machine()
	root.children[0].children[1] = root.children[0].children[1].with("status", devicetree.Strings("disabled"))
	tr := mustBuild(t, root, p)

	byPath := map[string]*Target{}
	for _, x := range tr.Targets() {
		byPath[x.Path()] = x
	}

	if st, err := tr.Probe(byPath["/pib1/core0/thread1"]); st != StatusDisabled || err != ErrTargetUnavailable {
		t.Fatalf("child of failed parent: %v %v", st, err)
	}
	if st, _ := tr.Probe(byPath["/pib0/core1/thread0"]); st != StatusDisabled {
		t.Fatalf("child of device-tree disabled core: %v", st)
	}
	if st, err := tr.Probe(byPath["/pib0/core0/thread0"]); st != StatusEnabled || err != nil {
		t.Fatalf("healthy thread: %v %v", st, err)
	}

	probes := p.probes
	tr.Probe(byPath["/pib0/core0/thread0"])
	if p.probes != probes {
		t.Fatal("cached status not used")
	}

	delete(p.fail, "/pib1")
	if st, _ := tr.Reprobe(byPath["/pib1"]); st != StatusEnabled {
		t.Fatalf("reprobe: %v", st)
	}
	if byPath["/pib1/core0/thread1"].Status() != StatusUnprobed {
		t.Fatal("reprobe did not reset the subtree")
	}

	if adu := tr.Find(ClassADU); adu == nil || adu.Path() != "/adu0" {
		t.Fatalf("Find(adu) = %v", adu)
	}
}

func TestSelect(t *testing.T) {
	tr := mustBuild(t, machine(), nil)

	active := func() []string {
		return paths(tr, ClassThread, tr.ForEachOnActivePath)
	}

	if n, err := tr.Select("pib1/core*/thread1"); err != nil || n != 1 {
		t.Fatalf("select: %d %v", n, err)
	}
	if got := active(); !reflect.DeepEqual(got, []string{"/pib1/core0/thread1#1"}) {
		t.Fatalf("got %v", got)
	}
	if !tr.Targets()[7].Selected() || !tr.Root().Selected() {
		t.Fatal("ancestors of a selected target are on the path")
	}

	tr.ClearSelection()
	if _, err := tr.Select("/pib0/core1"); err != nil {
		t.Fatal(err)
	}
	if got := active(); !reflect.DeepEqual(got, []string{"/pib0/core1/thread0#0"}) {
		t.Fatalf("got %v", got)
	}

	tr.ClearSelection()
	if _, err := tr.Select("core0/thread0-1"); err != nil {
		t.Fatal(err)
	}
	want := []string{"/pib0/core0/thread0#0", "/pib0/core0/thread1#1", "/pib1/core0/thread0#0", "/pib1/core0/thread1#1"}
	if got := active(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}

	tr.SelectAll()
	if got := active(); len(got) != 5 {
		t.Fatalf("select all: %v", got)
	}

	for _, bad := range []string{"", "/", "12", "core3-1", "core1,,2"} {
		if _, err := tr.Select(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestPathSpec(t *testing.T) {
	for _, tc := range []struct{ p, c, th, want string }{
		{"", "", "", "pib*"},
		{"0", "", "", "pib0"},
		{"0", "1-2", "", "pib0/core1-2"},
		{"", "", "3", "pib*/core*/thread3"},
	} {
		if got := PathSpec(tc.p, tc.c, tc.th); got != tc.want {
			t.Errorf("PathSpec(%q, %q, %q) = %q, want %q", tc.p, tc.c, tc.th, got, tc.want)
		}
	}
}

func TestLeaseReleasedOnce(t *testing.T) {
	p := &fakeProber{fail: map[string]bool{"/pib1/core0/thread1": true}}
	tr := mustBuild(t, machine(), p)
	tr.ProbeAll()

	l := tr.Acquire(ClassThread)
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	l.Release()

	if len(p.released) != 4 {
		t.Fatalf("released %v", p.released)
	}
	for path, count := range p.released {
		if count != 1 {
			t.Errorf("%s released %d times", path, count)
		}
	}
}

func TestPrint(t *testing.T) {
	p := &fakeProber{fail: map[string]bool{"/pib1": true}}
	root := n("",
		n("pib@0", n("core@10", n("thread@0"))),
		n("pib@1", n("core@10")),
	)
	tr := mustBuild(t, root, p)

	var buf bytes.Buffer
	if err := tr.Print(&buf); err != nil {
		t.Fatal(err)
	}
	const want = "pib0: pib@0 (enabled)\n" +
		"  core0: core@10 (enabled)\n" +
		"    thread0: thread@0 (enabled)\n" +
		"pib1: pib@1 (disabled)\n" +
		"  core0: core@10 (disabled)\n"
	if buf.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
