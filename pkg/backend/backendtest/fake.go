// Package backendtest provides an in-memory backend.Backend for tests.
package backendtest

import (
	"fmt"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/target"
)

// Fake is a scripted backend. Targets are identified by their path.
// Every call is recorded in Calls as "<op> <path>".
type Fake struct {
	// ProbeFail lists targets whose probe fails.
	ProbeFail map[string]bool
	// Fail lists targets on which every thread operation fails.
	Fail map[string]bool
	// States is returned by ThreadStatus.
	States map[string]backend.ThreadState
	// Regs is returned by CaptureRegisters, a missing entry is a capture
	// failure.
	Regs map[string]*backend.Registers
	// Mem is the memory image served by Read64, a missing word is a read
	// failure.
	Mem map[uint64]uint64

	Calls    []string
	Reads    int
	Released map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		ProbeFail: map[string]bool{},
		Fail:      map[string]bool{},
		States:    map[string]backend.ThreadState{},
		Regs:      map[string]*backend.Registers{},
		Mem:       map[uint64]uint64{},
		Released:  map[string]int{},
	}
}

func (f *Fake) record(op string, t *target.Target) error {
	f.Calls = append(f.Calls, op+" "+t.Path())
	if f.Fail[t.Path()] {
		return fmt.Errorf("%s %s: injected failure", op, t.Path())
	}
	return nil
}

func (f *Fake) Probe(t *target.Target) error {
	if f.ProbeFail[t.Path()] {
		return fmt.Errorf("probe %s: injected failure", t.Path())
	}
	return nil
}

func (f *Fake) Release(t *target.Target) error {
	f.Released[t.Path()]++
	return nil
}

func (f *Fake) Read64(adu *target.Target, addr uint64) (uint64, error) {
	f.Reads++
	v, ok := f.Mem[addr]
	if !ok {
		return 0, fmt.Errorf("no memory at %#x", addr)
	}
	return v, nil
}

func (f *Fake) StartThread(t *target.Target) error  { return f.record("start", t) }
func (f *Fake) StopThread(t *target.Target) error   { return f.record("stop", t) }
func (f *Fake) SResetThread(t *target.Target) error { return f.record("sreset", t) }

func (f *Fake) StepThread(t *target.Target, count int) error {
	return f.record(fmt.Sprintf("step(%d)", count), t)
}

func (f *Fake) ThreadStatus(t *target.Target) (backend.ThreadState, error) {
	if err := f.record("status", t); err != nil {
		return backend.ThreadState{}, err
	}
	return f.States[t.Path()], nil
}

func (f *Fake) CaptureRegisters(t *target.Target) (*backend.Registers, error) {
	if err := f.record("regs", t); err != nil {
		return nil, err
	}
	r, ok := f.Regs[t.Path()]
	if !ok {
		return nil, fmt.Errorf("%s: thread not quiesced", t.Path())
	}
	return r, nil
}
