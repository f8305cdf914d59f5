package proc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/target"
)

const (
	opalStackStart = 0x30000000
	opalStackEnd   = 0x40000000

	// maxFrameSize bounds the distance between a frame and the one above
	// it for the back chain to be believed.
	maxFrameSize = 0xffffffff

	kernelNibble = 0xc
)

// StackPolicy configures the stack unwinder.
type StackPolicy struct {
	// StrictAddress rejects stack pointers outside the kernel linear
	// mapping (top nibble 0xC).
	StrictAddress bool
	// ByteOrder is the byte order frames are assumed to be in before
	// detection. Nil means the byte order of the host.
	ByteOrder binary.ByteOrder
}

func (p StackPolicy) plausible(addr uint64) bool {
	if !p.StrictAddress {
		return true
	}
	return addr>>60 == kernelNibble
}

func (p StackPolicy) defaultBigEndian() bool {
	order := p.ByteOrder
	if order == nil {
		order = binary.NativeEndian
	}
	var b [2]byte
	order.PutUint16(b[:], 1)
	return b[0] == 0
}

// Stackframe is one frame of an unwound stack.
type Stackframe struct {
	SP uint64
	// PC is the saved link register word of the frame, as read at SP+16.
	PC uint64
	// BigEndian is the byte order the frame was decoded in.
	BigEndian bool
}

// ByteOrder returns the byte order the frame was decoded in.
func (f Stackframe) ByteOrder() binary.ByteOrder {
	if f.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (f Stackframe) String() string {
	order := "little-endian"
	if f.BigEndian {
		order = "big-endian"
	}
	return fmt.Sprintf(" 0x%016x 0x%016x (%s)", f.SP, f.PC, order)
}

// MemoryReader reads target memory words in host byte order.
type MemoryReader interface {
	Read64(addr uint64) (uint64, error)
}

type aduMemory struct {
	mem backend.Memory
	adu *target.Target
}

func (m aduMemory) Read64(addr uint64) (uint64, error) {
	if m.adu == nil {
		return 0, errNoADU
	}
	return m.mem.Read64(m.adu, addr)
}

// NotAStackError is returned when the initial stack pointer is rejected.
type NotAStackError struct {
	SP uint64
}

func (e *NotAStackError) Error() string {
	return fmt.Sprintf("SP:0x%016x does not appear to be a stack", e.SP)
}

// MemoryReadError is returned when a stack word cannot be read.
type MemoryReadError struct {
	Addr uint64
	Err  error
}

func (e *MemoryReadError) Error() string {
	return fmt.Sprintf("Unable to read memory address=%016x.", e.Addr)
}

func (e *MemoryReadError) Unwrap() error { return e.Err }

// chooseBackChain decides which interpretation of the back chain word
// read at sp is the next stack pointer. flip is set when the byte swapped
// value was chosen, last when no frame should be decoded after this one.
func chooseBackChain(sp, natural uint64) (next uint64, flip, last bool) {
	if natural == 0 {
		return 0, false, true
	}
	swapped := bits.ReverseBytes64(natural)

	inOpal := func(a uint64) bool { return a >= opalStackStart && a < opalStackEnd }
	if inOpal(sp) && !inOpal(natural) {
		if natural>>60 == kernelNibble {
			return natural, false, false
		}
		if swapped>>60 == kernelNibble {
			return swapped, true, false
		}
	}

	if sp>>60 == kernelNibble && natural>>60 != kernelNibble {
		// Userspace frames are never decoded.
		last = true
		if natural>>60 == 0 {
			return natural, false, last
		}
		if swapped>>60 == 0 {
			return swapped, true, last
		}
	}

	sane := func(a uint64) bool { return a >= sp && a-sp <= maxFrameSize }
	if !sane(natural) {
		if !sane(swapped) {
			return natural, false, true
		}
		return swapped, true, last
	}
	return natural, false, last
}

// StackIterator walks the back chain of a stack one frame at a time.
//
//	it := NewStackIterator(mem, regs, policy)
//	for it.Next() {
//		frame := it.Frame()
//	}
//	if err := it.Err(); err != nil { ... }
type StackIterator struct {
	mem    MemoryReader
	policy StackPolicy

	nextSP   uint64
	frame    Stackframe
	finished bool
	err      error
}

// NewStackIterator returns an iterator over the stack of a thread whose
// registers are regs. The iterator yields nothing and Err returns a
// *NotAStackError when the stack pointer is zero or not plausible.
func NewStackIterator(mem MemoryReader, regs *backend.Registers, policy StackPolicy) *StackIterator {
	it := &StackIterator{mem: mem, policy: policy, nextSP: regs.SP()}
	if it.nextSP == 0 || !policy.plausible(it.nextSP) {
		it.err = &NotAStackError{SP: it.nextSP}
		it.finished = true
	}
	return it
}

// Next decodes the next frame. It returns false once the walk is over,
// either because the last frame was reached or because of an error.
func (it *StackIterator) Next() bool {
	if it.finished || it.err != nil {
		return false
	}
	sp := it.nextSP
	if !it.policy.plausible(sp) {
		it.finished = true
		return false
	}

	natural, err := it.mem.Read64(sp)
	if err != nil {
		it.err = &MemoryReadError{Addr: sp, Err: err}
		return false
	}
	pc, err := it.mem.Read64(sp + 16)
	if err != nil {
		it.err = &MemoryReadError{Addr: sp + 16, Err: err}
		return false
	}

	next, flip, last := chooseBackChain(sp, natural)
	be := it.policy.defaultBigEndian()
	if flip {
		be = !be
		pc = bits.ReverseBytes64(pc)
	}
	it.nextSP = next
	it.finished = last
	it.frame = Stackframe{SP: sp, PC: pc, BigEndian: be}
	return true
}

// Frame returns the frame decoded by the last call to Next.
func (it *StackIterator) Frame() Stackframe { return it.frame }

// Err returns the error that ended the walk, if any.
func (it *StackIterator) Err() error { return it.err }

// Terminal returns the back chain value the walk ended on.
func (it *StackIterator) Terminal() uint64 { return it.nextSP }

const stackHeader = "STACK:           SP                NIA"

// PrintStack writes the unwound stack of a thread to w. A stack pointer
// that does not look like a stack is reported in the output and is not an
// error; a failed memory read ends the output and is returned.
func PrintStack(w io.Writer, mem MemoryReader, regs *backend.Registers, policy StackPolicy) error {
	fmt.Fprintln(w, stackHeader)
	it := NewStackIterator(mem, regs, policy)
	for it.Next() {
		fmt.Fprintln(w, it.Frame())
	}
	switch err := it.Err().(type) {
	case nil:
	case *NotAStackError:
		fmt.Fprintln(w, err)
		return nil
	default:
		return err
	}
	fmt.Fprintf(w, " 0x%016x\n", it.Terminal())
	return nil
}

// DumpStack unwinds the stack of a thread through the first enabled memory
// access engine of the tree.
func (c *Controller) DumpStack(w io.Writer, regs *backend.Registers) error {
	adu := c.tree.Find(target.ClassADU)
	if adu == nil {
		c.log.Error("Unable to read memory (no ADU found)")
	}
	err := PrintStack(w, aduMemory{mem: c.bknd, adu: adu}, regs, c.policy)
	if err != nil {
		c.log.Error(err.Error())
	}
	return err
}
