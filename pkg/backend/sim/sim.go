// Package sim implements a simulated hardware backend driven by a YAML
// machine image.
//
//	targets:
//	  /pib1:
//	    absent: true
//	  /pib0/core0/thread0:
//	    active: true
//	    sleep: nap
//	    registers:
//	      nia: 0xc000000000001234
//	      gprs: [0, 0xc000000001f0fe00]
//	memory:
//	  0xc000000001f0fe00: 0
//
// Targets are identified by their path in the target tree. A target
// missing from the image is present; a thread missing from the image is
// running with all registers zero. Memory words are stored as the host
// would read them.
package sim

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/logflags"
	"github.com/open-power/pdbg/pkg/target"
)

// SResetVector is the address a thread resumes at after a system reset.
const SResetVector = 0x100

// ErrNotQuiesced is returned by operations that need a stopped thread.
var ErrNotQuiesced = errors.New("thread not quiesced")

// Image is the YAML form of a simulated machine.
type Image struct {
	Targets map[string]*TargetImage `yaml:"targets"`
	Memory  map[uint64]uint64       `yaml:"memory"`
}

// TargetImage describes one target of the machine.
type TargetImage struct {
	Absent    bool           `yaml:"absent"`
	Active    bool           `yaml:"active"`
	Sleep     string         `yaml:"sleep"`
	Quiesced  bool           `yaml:"quiesced"`
	Registers *RegisterImage `yaml:"registers"`
}

// RegisterImage is the YAML form of backend.Registers.
type RegisterImage struct {
	NIA   uint64   `yaml:"nia"`
	MSR   uint64   `yaml:"msr"`
	CFAR  uint64   `yaml:"cfar"`
	LR    uint64   `yaml:"lr"`
	CTR   uint64   `yaml:"ctr"`
	TAR   uint64   `yaml:"tar"`
	CR    uint32   `yaml:"cr"`
	XER   uint64   `yaml:"xer"`
	GPRs  []uint64 `yaml:"gprs"`
	LPCR  uint64   `yaml:"lpcr"`
	HSRR0 uint64   `yaml:"hsrr0"`
	HSRR1 uint64   `yaml:"hsrr1"`
	SRR0  uint64   `yaml:"srr0"`
	SRR1  uint64   `yaml:"srr1"`
	DAR   uint64   `yaml:"dar"`
	DSISR uint32   `yaml:"dsisr"`
}

func (ri *RegisterImage) registers() (*backend.Registers, error) {
	if len(ri.GPRs) > 32 {
		return nil, fmt.Errorf("%d GPRs, at most 32 allowed", len(ri.GPRs))
	}
	r := &backend.Registers{
		NIA:   ri.NIA,
		MSR:   ri.MSR,
		CFAR:  ri.CFAR,
		LR:    ri.LR,
		CTR:   ri.CTR,
		TAR:   ri.TAR,
		CR:    ri.CR,
		XER:   ri.XER,
		LPCR:  ri.LPCR,
		HSRR0: ri.HSRR0,
		HSRR1: ri.HSRR1,
		SRR0:  ri.SRR0,
		SRR1:  ri.SRR1,
		DAR:   ri.DAR,
		DSISR: ri.DSISR,
	}
	copy(r.GPRs[:], ri.GPRs)
	return r, nil
}

type thread struct {
	state backend.ThreadState
	regs  backend.Registers
}

// Machine is a simulated machine. It implements backend.Backend and
// target.Releaser.
type Machine struct {
	absent  map[string]bool
	threads map[string]*thread
	memory  map[uint64]uint64
	log     logflags.Logger
}

// LoadFile reads a machine image from path.
func LoadFile(path string) (*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Load(f)
	return m, errors.Wrapf(err, "loading machine image %s", path)
}

// Load decodes a machine image.
func Load(r io.Reader) (*Machine, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var img Image
	if err := yaml.UnmarshalStrict(data, &img); err != nil {
		return nil, errors.Wrap(err, "decoding machine image")
	}
	return New(&img)
}

// New builds a machine from a decoded image.
func New(img *Image) (*Machine, error) {
	m := &Machine{
		absent:  map[string]bool{},
		threads: map[string]*thread{},
		memory:  map[uint64]uint64{},
		log:     logflags.BackendLogger(),
	}
	for addr, v := range img.Memory {
		m.memory[addr] = v
	}
	for path, ti := range img.Targets {
		if ti == nil {
			continue
		}
		if ti.Absent {
			m.absent[path] = true
		}
		sleep, err := backend.ParseSleepState(ti.Sleep)
		if err != nil {
			return nil, errors.Wrapf(err, "target %s", path)
		}
		th := &thread{state: backend.ThreadState{Active: ti.Active, Sleep: sleep, Quiesced: ti.Quiesced}}
		if ti.Registers != nil {
			regs, err := ti.Registers.registers()
			if err != nil {
				return nil, errors.Wrapf(err, "target %s", path)
			}
			th.regs = *regs
		}
		m.threads[path] = th
	}
	return m, nil
}

func (m *Machine) Probe(t *target.Target) error {
	if m.absent[t.Path()] {
		return fmt.Errorf("%s: no such target", t.Path())
	}
	if t.Class() == target.ClassThread {
		t.SetPrivate(m.thread(t))
	}
	return nil
}

// Release drops the per-command state of t.
func (m *Machine) Release(t *target.Target) error {
	m.log.Debugf("release %s", t)
	return nil
}

// thread returns the simulated state of t, creating a running thread
// when the image does not describe it.
func (m *Machine) thread(t *target.Target) *thread {
	if th, ok := t.Private().(*thread); ok {
		return th
	}
	th, ok := m.threads[t.Path()]
	if !ok {
		th = &thread{state: backend.ThreadState{Active: true}}
		m.threads[t.Path()] = th
	}
	return th
}

func (m *Machine) threadOf(t *target.Target) (*thread, error) {
	if t.Class() != target.ClassThread {
		return nil, fmt.Errorf("%s is not a thread", t)
	}
	return m.thread(t), nil
}

func (m *Machine) Read64(adu *target.Target, addr uint64) (uint64, error) {
	if adu == nil || adu.Class() != target.ClassADU {
		return 0, fmt.Errorf("%v is not a memory access engine", adu)
	}
	v, ok := m.memory[addr]
	if !ok {
		return 0, fmt.Errorf("address %#x not mapped", addr)
	}
	return v, nil
}

// Write64 stores a memory word.
func (m *Machine) Write64(addr, v uint64) { m.memory[addr] = v }

func (m *Machine) StartThread(t *target.Target) error {
	th, err := m.threadOf(t)
	if err != nil {
		return err
	}
	th.state = backend.ThreadState{Active: true}
	m.log.Debugf("%s started at %#x", t, th.regs.NIA)
	return nil
}

func (m *Machine) StopThread(t *target.Target) error {
	th, err := m.threadOf(t)
	if err != nil {
		return err
	}
	th.state = backend.ThreadState{Quiesced: true}
	m.log.Debugf("%s stopped at %#x", t, th.regs.NIA)
	return nil
}

func (m *Machine) StepThread(t *target.Target, count int) error {
	th, err := m.threadOf(t)
	if err != nil {
		return err
	}
	if !th.state.Quiesced {
		return ErrNotQuiesced
	}
	th.regs.NIA += 4 * uint64(count)
	return nil
}

func (m *Machine) SResetThread(t *target.Target) error {
	th, err := m.threadOf(t)
	if err != nil {
		return err
	}
	th.regs.SRR0 = th.regs.NIA
	th.regs.SRR1 = th.regs.MSR
	th.regs.NIA = SResetVector
	th.state = backend.ThreadState{Active: true}
	return nil
}

func (m *Machine) ThreadStatus(t *target.Target) (backend.ThreadState, error) {
	th, err := m.threadOf(t)
	if err != nil {
		return backend.ThreadState{}, err
	}
	return th.state, nil
}

func (m *Machine) CaptureRegisters(t *target.Target) (*backend.Registers, error) {
	th, err := m.threadOf(t)
	if err != nil {
		return nil, err
	}
	if !th.state.Quiesced {
		return nil, ErrNotQuiesced
	}
	regs := th.regs
	return &regs, nil
}
