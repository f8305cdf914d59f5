package target

import (
	"github.com/open-power/pdbg/pkg/logflags"
)

// Prober decides whether a target is present and usable.
// A nil error enables the target, any error disables it.
type Prober interface {
	Probe(t *Target) error
}

// Releaser is implemented by probers that hold per-target state that must
// be given back when a command is done with a class of targets.
type Releaser interface {
	Release(t *Target) error
}

// Action is returned by a VisitFunc to continue or stop a traversal.
type Action int

const (
	Continue Action = iota
	Stop
)

// VisitFunc is called for every visited target along with the target's
// per-class index.
type VisitFunc func(t *Target, index int) Action

// Result describes how a traversal ended.
type Result struct {
	// Visited is the number of targets the callback was invoked on.
	Visited int
	// Stopped is true when a callback returned Stop.
	Stopped bool
}

// Completed reports whether every matching target was visited.
func (r Result) Completed() bool { return !r.Stopped }

// Tree is the hardware target tree. It is built once by a Builder and is
// not structurally modified afterwards; only probe status and path
// selection change.
type Tree struct {
	root    *Target
	targets []*Target // construction order
	prober  Prober
	log     logflags.Logger
}

// Root returns the root target.
func (tr *Tree) Root() *Target { return tr.root }

// Len returns the number of targets, root included.
func (tr *Tree) Len() int { return len(tr.targets) }

// Targets returns every target in construction order.
func (tr *Tree) Targets() []*Target { return tr.targets }

// SetProber replaces the prober used by Probe. Cached statuses are kept.
func (tr *Tree) SetProber(p Prober) { tr.prober = p }

// Walk visits every target of the tree in pre-order, root included,
// regardless of class or status.
func (tr *Tree) Walk(fn VisitFunc) Result {
	var r Result
	walk(tr.root, &r, func(t *Target) bool { return true }, fn)
	return r
}

// ForEachOfClass visits every enabled target of the given class in the
// whole tree, in pre-order.
func (tr *Tree) ForEachOfClass(class string, fn VisitFunc) Result {
	var r Result
	walk(tr.root, &r, enabledOfClass(class), fn)
	return r
}

// ForEachDescendantOfClass searches the entire subtree below parent, not
// only its direct children, and visits every enabled target of the given
// class. The parent itself is never visited, and a nil parent has no
// descendants.
func (tr *Tree) ForEachDescendantOfClass(class string, parent *Target, fn VisitFunc) Result {
	var r Result
	if parent == nil {
		return r
	}
	match := enabledOfClass(class)
	for _, c := range parent.children {
		if !walk(c, &r, match, fn) {
			break
		}
	}
	return r
}

// ForEachOnActivePath visits the targets of the given class that are on
// the selected path, whatever their status. Callers driving hardware
// state changes must check Status themselves.
func (tr *Tree) ForEachOnActivePath(class string, fn VisitFunc) Result {
	var r Result
	walk(tr.root, &r, func(t *Target) bool { return t.selected && t.class == class }, fn)
	return r
}

func enabledOfClass(class string) func(*Target) bool {
	return func(t *Target) bool {
		return t.class == class && t.status == StatusEnabled
	}
}

// walk returns false when the traversal was stopped.
func walk(t *Target, r *Result, match func(*Target) bool, fn VisitFunc) bool {
	if match(t) {
		r.Visited++
		if fn(t, t.index) == Stop {
			r.Stopped = true
			return false
		}
	}
	for _, c := range t.children {
		if !walk(c, r, match, fn) {
			return false
		}
	}
	return true
}

// Find returns the first target of the given class in pre-order whose
// status is enabled, probing candidates as needed.
func (tr *Tree) Find(class string) *Target {
	var found *Target
	tr.Walk(func(t *Target, _ int) Action {
		if t.class != class {
			return Continue
		}
		if st, _ := tr.Probe(t); st == StatusEnabled {
			found = t
			return Stop
		}
		return Continue
	})
	return found
}

// Probe returns the status of t, probing it and its parents first if they
// have not been probed yet. The root is always enabled. A target is
// disabled when any parent is disabled, when its "status" property is
// "disabled", or when the prober fails on it.
func (tr *Tree) Probe(t *Target) (Status, error) {
	if t.status != StatusUnprobed {
		return t.status, statusErr(t.status)
	}
	if t.parent == nil {
		t.status = StatusEnabled
		return t.status, nil
	}
	if st, _ := tr.Probe(t.parent); st != StatusEnabled {
		t.status = StatusDisabled
		return t.status, ErrTargetUnavailable
	}
	if s, ok := t.PropertyString("status"); ok && s == "disabled" {
		tr.log.Debugf("%s disabled by device tree", t)
		t.status = StatusDisabled
		return t.status, ErrTargetUnavailable
	}
	if tr.prober != nil {
		if err := tr.prober.Probe(t); err != nil {
			tr.log.WithTarget(t).WithError(err).Debugf("probe failed")
			t.status = StatusDisabled
			return t.status, ErrTargetUnavailable
		}
	}
	tr.log.Debugf("probe %s: enabled", t)
	t.status = StatusEnabled
	return t.status, nil
}

func statusErr(s Status) error {
	if s == StatusEnabled {
		return nil
	}
	return ErrTargetUnavailable
}

// ProbeAll probes every target of the tree.
func (tr *Tree) ProbeAll() {
	for _, t := range tr.targets {
		tr.Probe(t)
	}
}

// ProbeSelected probes every target on the active path.
func (tr *Tree) ProbeSelected() {
	for _, t := range tr.targets {
		if t.selected {
			tr.Probe(t)
		}
	}
}

// Reprobe forgets the cached status of t and of its whole subtree, then
// probes t again.
func (tr *Tree) Reprobe(t *Target) (Status, error) {
	var reset func(*Target)
	reset = func(x *Target) {
		x.status = StatusUnprobed
		for _, c := range x.children {
			reset(c)
		}
	}
	reset(t)
	return tr.Probe(t)
}
