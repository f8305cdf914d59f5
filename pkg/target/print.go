package target

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Print probes every target and writes the tree to w, one target per line
// indented by depth:
//
//	pib0: pib@0 (enabled)
//	  core0: core@10 (enabled)
//
// The root is not printed.
func (tr *Tree) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var print func(t *Target, depth int)
	print = func(t *Target, depth int) {
		tr.Probe(t)
		fmt.Fprintf(bw, "%s%s%d: %s (%s)\n", strings.Repeat("  ", depth), t.class, t.index, t.name, t.status)
		for _, c := range t.children {
			print(c, depth+1)
		}
	}
	for _, c := range tr.root.children {
		print(c, 0)
	}
	return bw.Flush()
}
