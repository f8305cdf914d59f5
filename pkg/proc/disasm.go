package proc

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/arch/ppc64/ppc64asm"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/target"
)

// InstructionKind classifies a decoded instruction.
type InstructionKind uint8

const (
	OtherInstruction InstructionKind = iota
	CallInstruction
	RetInstruction
	JmpInstruction
	TrapInstruction
)

// AsmInstruction is an instruction decoded from target memory.
type AsmInstruction struct {
	PC    uint64
	Bytes []byte
	Kind  InstructionKind
	Inst  ppc64asm.Inst
}

// Text returns the instruction in GNU syntax.
func (inst *AsmInstruction) Text() string {
	return ppc64asm.GNUSyntax(inst.Inst, inst.PC)
}

// Decode decodes the 4 byte instruction at the start of mem.
func Decode(mem []byte, pc uint64, order binary.ByteOrder) (*AsmInstruction, error) {
	if len(mem) < 4 {
		return nil, fmt.Errorf("short instruction at %#x", pc)
	}
	inst, err := ppc64asm.Decode(mem, order)
	if err != nil {
		return nil, err
	}
	asm := &AsmInstruction{PC: pc, Bytes: mem[:4], Inst: inst}
	switch inst.Op {
	case ppc64asm.BL, ppc64asm.BLA, ppc64asm.BCL, ppc64asm.BCLA, ppc64asm.BCLRL, ppc64asm.BCCTRL, ppc64asm.BCTARL:
		asm.Kind = CallInstruction
	case ppc64asm.RFEBB, ppc64asm.RFID, ppc64asm.HRFID, ppc64asm.BCLR:
		asm.Kind = RetInstruction
	case ppc64asm.B, ppc64asm.BA, ppc64asm.BC, ppc64asm.BCA, ppc64asm.BCCTR, ppc64asm.BCTAR:
		asm.Kind = JmpInstruction
	case ppc64asm.TD, ppc64asm.TDI, ppc64asm.TW, ppc64asm.TWI:
		asm.Kind = TrapInstruction
	}
	return asm, nil
}

// readInstruction fetches the instruction at pc. Memory is read a word at
// a time, so the containing aligned word is read and split again in host
// byte order.
func readInstruction(mem MemoryReader, pc uint64) ([]byte, error) {
	aligned := pc &^ 7
	v, err := mem.Read64(aligned)
	if err != nil {
		return nil, &MemoryReadError{Addr: aligned, Err: err}
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], v)
	off := pc - aligned
	if off > 4 {
		return nil, fmt.Errorf("unaligned instruction address %#x", pc)
	}
	return buf[off : off+4], nil
}

// Disassemble prints the instruction at NIA, decoded in the byte order
// selected by MSR[LE].
func (c *Controller) Disassemble(w io.Writer, regs *backend.Registers) error {
	adu := c.tree.Find(target.ClassADU)
	if adu == nil {
		c.log.Error("Unable to read memory (no ADU found)")
		return errNoADU
	}
	mem, err := readInstruction(aduMemory{mem: c.bknd, adu: adu}, regs.NIA)
	if err != nil {
		return err
	}
	var order binary.ByteOrder = binary.BigEndian
	if regs.LittleEndian() {
		order = binary.LittleEndian
	}
	inst, err := Decode(mem, regs.NIA, order)
	if err != nil {
		fmt.Fprintf(w, "0x%016x: % x (bad)\n", regs.NIA, mem)
		return nil
	}
	fmt.Fprintf(w, "0x%016x: % x %s\n", regs.NIA, inst.Bytes, inst.Text())
	return nil
}
