package target

import (
	"fmt"
	"strconv"
	"strings"
)

// pathComponent is one element of a selection path such as "core1-3,7".
type pathComponent struct {
	class string
	all   bool
	index map[int]bool
}

func (c pathComponent) match(t *Target) bool {
	return t.class == c.class && (c.all || c.index[t.index])
}

func parseComponent(s string) (pathComponent, error) {
	class := strings.TrimRight(s, "0123456789,-*")
	if class == "" {
		return pathComponent{}, fmt.Errorf("missing class in %q", s)
	}
	c := pathComponent{class: class}
	rest := s[len(class):]
	if rest == "" || rest == "*" {
		c.all = true
		return c, nil
	}
	idx, err := ParseIndexList(rest)
	if err != nil {
		return pathComponent{}, fmt.Errorf("bad index list in %q: %v", s, err)
	}
	c.index = idx
	return c, nil
}

// ParseIndexList parses lists such as "0", "1-3" or "0,2,4-6".
func ParseIndexList(s string) (map[int]bool, error) {
	idx := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			return nil, fmt.Errorf("empty element")
		}
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		b, err := strconv.Atoi(hi)
		if err != nil {
			return nil, err
		}
		if b < a {
			return nil, fmt.Errorf("range %d-%d is reversed", a, b)
		}
		for i := a; i <= b; i++ {
			idx[i] = true
		}
	}
	return idx, nil
}

// Select adds the targets named by spec, their whole subtrees and all
// their ancestors to the active path. Spec is a "/" separated list of
// components "<class><indices>", where indices is empty or "*" for every
// index, or a list accepted by ParseIndexList. Components only constrain
// ancestors of the listed classes, so "core*/thread0" selects thread 0 of
// every core of every chip. Select returns the number of targets that
// matched the last component.
func (tr *Tree) Select(spec string) (int, error) {
	var comps []pathComponent
	for _, s := range strings.Split(spec, "/") {
		if s == "" {
			continue
		}
		c, err := parseComponent(s)
		if err != nil {
			return 0, err
		}
		comps = append(comps, c)
	}
	if len(comps) == 0 {
		return 0, fmt.Errorf("empty path %q", spec)
	}
	classes := map[string]bool{}
	for _, c := range comps {
		classes[c.class] = true
	}
	last := comps[len(comps)-1]

	n := 0
	for _, t := range tr.targets {
		if !last.match(t) {
			continue
		}
		var chain []*Target
		for a := t; a != nil; a = a.parent {
			if classes[a.class] {
				chain = append(chain, a)
			}
		}
		if len(chain) != len(comps) {
			continue
		}
		ok := true
		for i, c := range comps {
			if !c.match(chain[len(chain)-1-i]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		n++
		selectSubtree(t)
		for a := t.parent; a != nil; a = a.parent {
			a.selected = true
		}
	}
	tr.log.Debugf("path %q selected %d targets", spec, n)
	return n, nil
}

func selectSubtree(t *Target) {
	t.selected = true
	for _, c := range t.children {
		selectSubtree(c)
	}
}

// SelectAll puts every target on the active path.
func (tr *Tree) SelectAll() {
	for _, t := range tr.targets {
		t.selected = true
	}
}

// ClearSelection empties the active path.
func (tr *Tree) ClearSelection() {
	for _, t := range tr.targets {
		t.selected = false
	}
}

// PathSpec builds a selection path out of processor, core and thread
// index lists as given on the command line. Empty lists match every index.
func PathSpec(procs, cores, threads string) string {
	comp := func(class, idx string) string {
		if idx == "" {
			return class + "*"
		}
		return class + idx
	}
	switch {
	case threads != "":
		return comp(ClassPIB, procs) + "/" + comp(ClassCore, cores) + "/" + comp(ClassThread, threads)
	case cores != "":
		return comp(ClassPIB, procs) + "/" + comp(ClassCore, cores)
	default:
		return comp(ClassPIB, procs)
	}
}
