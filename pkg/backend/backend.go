// Package backend defines the hardware access primitives the probe core
// drives. Implementations talk to a physical bus (FSI, I2C, JTAG, ...) or
// simulate one; this package only describes what they provide.
package backend

import (
	"fmt"

	"github.com/open-power/pdbg/pkg/target"
)

// SleepState is the power saving state of a hardware thread.
type SleepState uint8

const (
	SleepNone SleepState = iota
	SleepDoze
	SleepNap
	SleepSleep
	SleepStop
)

var sleepStateNames = map[SleepState]string{
	SleepNone:  "none",
	SleepDoze:  "doze",
	SleepNap:   "nap",
	SleepSleep: "sleep",
	SleepStop:  "stop",
}

func (s SleepState) String() string {
	if n, ok := sleepStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SleepState(%d)", uint8(s))
}

// ParseSleepState is the inverse of SleepState.String.
func ParseSleepState(s string) (SleepState, error) {
	if s == "" {
		return SleepNone, nil
	}
	for k, v := range sleepStateNames {
		if v == s {
			return k, nil
		}
	}
	return SleepNone, fmt.Errorf("unknown sleep state %q", s)
}

// ThreadState is the decoded view of a thread's status register.
type ThreadState struct {
	Active   bool
	Sleep    SleepState
	Quiesced bool
}

// Registers is a snapshot of a thread's register file, captured while the
// thread is quiesced.
type Registers struct {
	NIA  uint64
	MSR  uint64
	CFAR uint64
	LR   uint64
	CTR  uint64
	TAR  uint64
	CR   uint32
	XER  uint64
	GPRs [32]uint64

	LPCR  uint64
	PTCR  uint64
	LPIDR uint64
	PIDR  uint64
	HFSCR uint64
	HID   uint64
	HSRR0 uint64
	HSRR1 uint64
	HDEC  uint64
	HEIR  uint64
	HSPRG [2]uint64
	SPRG  [4]uint64
	SRR0  uint64
	SRR1  uint64
	DAR   uint64
	DSISR uint32
}

// SP returns the stack pointer (r1).
func (r *Registers) SP() uint64 { return r.GPRs[1] }

// PC returns the next instruction address.
func (r *Registers) PC() uint64 { return r.NIA }

// LittleEndian reports whether MSR[LE] is set.
func (r *Registers) LittleEndian() bool { return r.MSR&1 != 0 }

// Memory reads target memory through a memory access engine (ADU) target.
type Memory interface {
	// Read64 returns the eight bytes at addr interpreted in the byte order
	// of the host running the probe.
	Read64(adu *target.Target, addr uint64) (uint64, error)
}

// ThreadControl is the run control interface of hardware thread targets.
type ThreadControl interface {
	StartThread(t *target.Target) error
	StopThread(t *target.Target) error
	// StepThread executes count instructions on a stopped thread.
	StepThread(t *target.Target, count int) error
	SResetThread(t *target.Target) error
	ThreadStatus(t *target.Target) (ThreadState, error)
	// CaptureRegisters returns the register file of a stopped thread.
	CaptureRegisters(t *target.Target) (*Registers, error)
}

// Backend is a complete hardware access method.
type Backend interface {
	target.Prober
	Memory
	ThreadControl
}
