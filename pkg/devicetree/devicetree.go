// Package devicetree defines the node/property stream the target tree is
// built from, and a YAML source for it.
//
// A source walks its description in pre-order and calls VisitNode once per
// node, followed by VisitProperty once per property of that node, before
// descending into its children.
package devicetree

import (
	"encoding/binary"
	"strings"
)

// Handle identifies a node previously returned by VisitNode. NoHandle is
// the parent of the root node.
type Handle int

const NoHandle Handle = 0

// Visitor consumes a device-tree stream.
type Visitor interface {
	// VisitNode is called for every node. The returned handle is passed
	// back as the parent of the node's children and to VisitProperty.
	VisitNode(name string, parent Handle) (Handle, error)
	// VisitProperty is called for every property of node. Value is the raw
	// property value as it would appear in a flattened device tree.
	VisitProperty(node Handle, name string, value []byte) error
}

// Cells encodes values as big-endian 32-bit cells.
func Cells(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(b[4*i:], v)
	}
	return b
}

// Strings encodes a string list, each entry NUL terminated.
func Strings(vals ...string) []byte {
	var sb strings.Builder
	for _, s := range vals {
		sb.WriteString(s)
		sb.WriteByte(0)
	}
	return []byte(sb.String())
}

// StringsOf decodes a property written by Strings. A trailing entry without
// terminator is returned as is.
func StringsOf(value []byte) []string {
	s := string(value)
	s = strings.TrimSuffix(s, "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}

// Uint32Of decodes the first cell of a property.
func Uint32Of(value []byte) (uint32, bool) {
	if len(value) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(value), true
}
