package proc

import (
	"bufio"
	"fmt"
	"io"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/target"
)

// StatusCode renders a thread state as three characters: 'A' for an
// active thread, a sleep state letter (D, N, Z or S), 'Q' for a quiesced
// thread, with '.' for each one that does not apply.
func StatusCode(st backend.ThreadState) string {
	b := []byte("...")
	if st.Active {
		b[0] = 'A'
	}
	switch st.Sleep {
	case backend.SleepDoze:
		b[1] = 'D'
	case backend.SleepNap:
		b[1] = 'N'
	case backend.SleepSleep:
		b[1] = 'Z'
	case backend.SleepStop:
		b[1] = 'S'
	}
	if st.Quiesced {
		b[2] = 'Q'
	}
	return string(b)
}

const emptySlot = "    "

// ThreadStatus prints a table of thread states for every enabled
// processor: a header of thread slot numbers, then one row per core with
// one column per slot. Slots without a thread under that core are left
// blank. It returns the number of processors printed.
func (c *Controller) ThreadStatus(out io.Writer) (int, error) {
	w := bufio.NewWriter(out)
	r := c.tree.ForEachOfClass(target.ClassPIB, func(pib *target.Target, index int) target.Action {
		maxIndex := 0
		c.tree.ForEachDescendantOfClass(target.ClassCore, pib, func(core *target.Target, _ int) target.Action {
			c.tree.ForEachDescendantOfClass(target.ClassThread, core, func(_ *target.Target, tidx int) target.Action {
				if tidx > maxIndex {
					maxIndex = tidx
				}
				return target.Continue
			})
			return target.Continue
		})

		fmt.Fprintf(w, "\np%01dt:", index)
		for i := 0; i <= maxIndex; i++ {
			fmt.Fprintf(w, "   %d", i)
		}
		fmt.Fprintln(w)

		c.tree.ForEachDescendantOfClass(target.ClassCore, pib, func(core *target.Target, cidx int) target.Action {
			c.printCoreThreadStatus(w, core, cidx, maxIndex)
			return target.Continue
		})
		return target.Continue
	})
	return r.Visited, w.Flush()
}

func (c *Controller) printCoreThreadStatus(w io.Writer, core *target.Target, index, maxIndex int) {
	states := make(map[int]backend.ThreadState, maxIndex+1)
	c.tree.ForEachDescendantOfClass(target.ClassThread, core, func(t *target.Target, tidx int) target.Action {
		st, err := c.bknd.ThreadStatus(t)
		if err != nil {
			c.log.WithTarget(t).WithError(err).Warnf("reading thread status")
			return target.Continue
		}
		states[tidx] = st
		return target.Continue
	})

	fmt.Fprintf(w, "c%02d:  ", index)
	for i := 0; i <= maxIndex; i++ {
		st, ok := states[i]
		if !ok {
			io.WriteString(w, emptySlot)
			continue
		}
		io.WriteString(w, StatusCode(st))
		io.WriteString(w, " ")
	}
	fmt.Fprintln(w)
}
