package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/open-power/pdbg/pkg/devicetree"
	"github.com/open-power/pdbg/pkg/logflags"
)

// ClassRoot is the class of the root target.
const ClassRoot = "root"

var knownClasses = map[string]bool{
	ClassPIB:    true,
	ClassCore:   true,
	ClassThread: true,
	ClassADU:    true,
	ClassFSI:    true,
	"chiplet":   true,
	"proc":      true,
	"htm":       true,
	"i2cbus":    true,
	"sbefifo":   true,
}

// Builder constructs a Tree from a device-tree stream. It implements
// devicetree.Visitor.
type Builder struct {
	nodes []*Target
	built bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) lookup(h devicetree.Handle) (*Target, error) {
	i := int(h) - 1
	if i < 0 || i >= len(b.nodes) {
		return nil, fmt.Errorf("unknown node handle %d", h)
	}
	return b.nodes[i], nil
}

// VisitNode implements devicetree.Visitor.
func (b *Builder) VisitNode(name string, parent devicetree.Handle) (devicetree.Handle, error) {
	if b.built {
		return devicetree.NoHandle, errors.New("tree already built")
	}
	t := &Target{name: name, props: map[string][]byte{}}
	if parent == devicetree.NoHandle {
		if len(b.nodes) > 0 {
			return devicetree.NoHandle, fmt.Errorf("second root node %q", name)
		}
	} else {
		p, err := b.lookup(parent)
		if err != nil {
			return devicetree.NoHandle, err
		}
		t.parent = p
		p.children = append(p.children, t)
	}
	b.nodes = append(b.nodes, t)
	return devicetree.Handle(len(b.nodes)), nil
}

// VisitProperty implements devicetree.Visitor. A repeated property replaces
// the previous value.
func (b *Builder) VisitProperty(node devicetree.Handle, name string, value []byte) error {
	t, err := b.lookup(node)
	if err != nil {
		return err
	}
	if _, dup := t.props[name]; !dup {
		t.propKeys = append(t.propKeys, name)
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.props[name] = v
	return nil
}

type indexKey struct {
	parent *Target
	class  string
}

// Tree finishes construction: every target gets its class and index, in
// construction order. Targets carrying an "index" property keep it, the
// others are numbered from zero among the siblings of the same class.
func (b *Builder) Tree(p Prober) (*Tree, error) {
	if len(b.nodes) == 0 {
		return nil, errors.New("empty device tree")
	}
	if b.built {
		return nil, errors.New("tree already built")
	}
	b.built = true

	log := logflags.TargetLogger()
	next := map[indexKey]int{}
	used := map[indexKey]map[int]*Target{}

	for _, t := range b.nodes {
		if t.parent == nil {
			t.class = ClassRoot
			continue
		}
		t.class = classOf(t)
	}
	// Explicit indices first so that implicit numbering skips them.
	for _, t := range b.nodes {
		if t.parent == nil {
			continue
		}
		idx, ok := t.PropertyUint32("index")
		if !ok {
			continue
		}
		k := indexKey{t.parent, t.class}
		if used[k] == nil {
			used[k] = map[int]*Target{}
		}
		if other := used[k][int(idx)]; other != nil {
			return nil, fmt.Errorf("nodes %q and %q both have %s index %d", other.name, t.name, t.class, idx)
		}
		t.index = int(idx)
		used[k][t.index] = t
	}
	for _, t := range b.nodes {
		if t.parent == nil {
			continue
		}
		if _, ok := t.PropertyUint32("index"); ok {
			continue
		}
		k := indexKey{t.parent, t.class}
		n := next[k]
		for used[k][n] != nil {
			n++
		}
		t.index = n
		next[k] = n + 1
		if used[k] == nil {
			used[k] = map[int]*Target{}
		}
		used[k][n] = t
	}

	tr := &Tree{root: b.nodes[0], targets: b.nodes, prober: p, log: log}
	if logflags.Target() {
		for _, t := range tr.targets {
			log.Debugf("built %s (%s)", t, t.name)
		}
	}
	return tr, nil
}

// classOf picks the class of a node from, in order, its "class" property,
// a known class suffix of one of its "compatible" strings, or its node
// name with the unit address and trailing digits removed.
func classOf(t *Target) string {
	if c, ok := t.PropertyString("class"); ok && c != "" {
		return c
	}
	if v, ok := t.props["compatible"]; ok {
		for _, compat := range devicetree.StringsOf(v) {
			if i := strings.LastIndexAny(compat, ",-"); i >= 0 && knownClasses[compat[i+1:]] {
				return compat[i+1:]
			}
		}
	}
	name := t.name
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimRight(name, "0123456789")
}

// Build streams a device tree into a new builder and returns the result.
func Build(read func(devicetree.Visitor) error, p Prober) (*Tree, error) {
	b := NewBuilder()
	if err := read(b); err != nil {
		return nil, err
	}
	return b.Tree(p)
}
