package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/open-power/pdbg/pkg/devicetree"
)

// Status is the probe state of a target.
type Status uint8

const (
	// StatusUnprobed means Probe has not been called on the target yet.
	StatusUnprobed Status = iota
	StatusEnabled
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusUnprobed:
		return "unprobed"
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Well known target classes.
const (
	ClassPIB    = "pib"
	ClassCore   = "core"
	ClassThread = "thread"
	ClassADU    = "adu"
	ClassFSI    = "fsi"
)

// ErrTargetUnavailable is returned by Probe for a target that is disabled,
// either because its backend probe failed or because a parent is disabled.
var ErrTargetUnavailable = errors.New("target unavailable")

// Target is an addressable hardware element: a processor, core, hardware
// thread or bus adapter.
type Target struct {
	name     string
	class    string
	index    int
	status   Status
	selected bool

	parent   *Target
	children []*Target
	props    map[string][]byte
	propKeys []string

	// Backend-private data, see SetPrivate.
	priv interface{}
}

// Name returns the device-tree node name.
func (t *Target) Name() string { return t.name }

// Class returns the class tag.
func (t *Target) Class() string { return t.class }

// Index returns the ordinal of the target among its siblings of the same
// class.
func (t *Target) Index() int { return t.index }

// Status returns the cached probe status. It never probes.
func (t *Target) Status() Status { return t.status }

// Parent returns the parent target, nil for the root.
func (t *Target) Parent() *Target { return t.parent }

// Children returns the children in construction order. The returned slice
// must not be modified.
func (t *Target) Children() []*Target { return t.children }

// Selected reports whether the target is on the active path.
func (t *Target) Selected() bool { return t.selected }

// Property returns the raw value of the named property.
func (t *Target) Property(name string) ([]byte, bool) {
	v, ok := t.props[name]
	return v, ok
}

// PropertyNames returns the property names in stream order.
func (t *Target) PropertyNames() []string { return t.propKeys }

// PropertyString returns the first string of a string-list property.
func (t *Target) PropertyString(name string) (string, bool) {
	v, ok := t.props[name]
	if !ok {
		return "", false
	}
	strs := devicetree.StringsOf(v)
	if len(strs) == 0 {
		return "", true
	}
	return strs[0], true
}

// PropertyUint32 returns the first cell of the named property.
func (t *Target) PropertyUint32(name string) (uint32, bool) {
	v, ok := t.props[name]
	if !ok {
		return 0, false
	}
	return devicetree.Uint32Of(v)
}

// Private returns the value stored with SetPrivate.
func (t *Target) Private() interface{} { return t.priv }

// SetPrivate attaches backend data to the target.
func (t *Target) SetPrivate(v interface{}) { t.priv = v }

// Ancestor returns the closest ancestor of the given class, or nil.
func (t *Target) Ancestor(class string) *Target {
	for p := t.parent; p != nil; p = p.parent {
		if p.class == class {
			return p
		}
	}
	return nil
}

// IsDescendantOf reports whether t lies strictly below p.
func (t *Target) IsDescendantOf(p *Target) bool {
	for a := t.parent; a != nil; a = a.parent {
		if a == p {
			return true
		}
	}
	return false
}

// Path returns the class/index path of the target from the root, for
// example "/pib0/core3/thread1". The root's path is "/".
func (t *Target) Path() string {
	var parts []string
	for c := t; c != nil && c.parent != nil; c = c.parent {
		parts = append(parts, fmt.Sprintf("%s%d", c.class, c.index))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func (t *Target) String() string {
	return t.Path()
}
