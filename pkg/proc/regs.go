package proc

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/target"
)

var errNoADU = errors.New("no ADU found")

// RegsOptions are the flags of the regs command.
type RegsOptions struct {
	// Backtrace unwinds the stack of every thread after its registers.
	Backtrace bool
	// Disasm decodes the instruction at NIA.
	Disasm bool
}

// Regs captures and prints the registers of every enabled thread of the
// tree. Threads whose registers cannot be captured are logged and
// skipped. It returns the number of threads printed.
func (c *Controller) Regs(w io.Writer, opts RegsOptions) (n int, err error) {
	lease := c.tree.Acquire(target.ClassThread)
	var result *multierror.Error
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			result = multierror.Append(result, rerr)
		}
		err = result.ErrorOrNil()
	}()

	c.tree.ForEachOfClass(target.ClassThread, func(t *target.Target, _ int) target.Action {
		regs, cerr := c.bknd.CaptureRegisters(t)
		if cerr != nil {
			c.log.WithTarget(t).WithError(cerr).Warnf("capturing registers")
			result = multierror.Append(result, fmt.Errorf("%s: %w", t, cerr))
			return target.Continue
		}
		n++
		fmt.Fprintf(w, "%s:\n", threadLabel(t))
		PrintRegisters(w, regs)
		if opts.Disasm {
			if derr := c.Disassemble(w, regs); derr != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", t, derr))
			}
		}
		if opts.Backtrace {
			if serr := c.DumpStack(w, regs); serr != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", t, serr))
			}
		}
		return target.Continue
	})
	return n, nil
}

// threadLabel names a thread by its processor, core and thread indices.
func threadLabel(t *target.Target) string {
	idx := func(class string) int {
		if a := t.Ancestor(class); a != nil {
			return a.Index()
		}
		return 0
	}
	return fmt.Sprintf("p%d:c%d:t%d", idx(target.ClassPIB), idx(target.ClassCore), t.Index())
}

// PrintRegisters writes a register dump to w.
func PrintRegisters(w io.Writer, r *backend.Registers) {
	reg := func(name string, v uint64) {
		fmt.Fprintf(w, "%-6s: 0x%016x\n", name, v)
	}
	reg("NIA", r.NIA)
	reg("MSR", r.MSR)
	reg("CFAR", r.CFAR)
	reg("LR", r.LR)
	reg("CTR", r.CTR)
	reg("TAR", r.TAR)
	fmt.Fprintf(w, "%-6s: 0x%08x\n", "CR", r.CR)
	fmt.Fprintf(w, "%-6s: 0x%08x\n", "XER", r.XER)

	fmt.Fprintf(w, "%-6s:\n", "GPRS")
	for i, v := range r.GPRs {
		fmt.Fprintf(w, " 0x%016x", v)
		if i%4 == 3 {
			fmt.Fprintln(w)
		}
	}

	reg("LPCR", r.LPCR)
	reg("PTCR", r.PTCR)
	reg("LPIDR", r.LPIDR)
	reg("PIDR", r.PIDR)
	reg("HFSCR", r.HFSCR)
	reg("HID0", r.HID)
	reg("HSRR0", r.HSRR0)
	reg("HSRR1", r.HSRR1)
	reg("HDEC", r.HDEC)
	reg("HEIR", r.HEIR)
	for i, v := range r.HSPRG {
		reg(fmt.Sprintf("HSPRG%d", i), v)
	}
	for i, v := range r.SPRG {
		reg(fmt.Sprintf("SPRG%d", i), v)
	}
	reg("SRR0", r.SRR0)
	reg("SRR1", r.SRR1)
	reg("DAR", r.DAR)
	fmt.Fprintf(w, "%-6s: 0x%08x\n", "DSISR", r.DSISR)
}
