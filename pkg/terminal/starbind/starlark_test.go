package starbind

import (
	"bytes"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/backend/backendtest"
	"github.com/open-power/pdbg/pkg/devicetree"
	"github.com/open-power/pdbg/pkg/proc"
	"github.com/open-power/pdbg/pkg/target"
)

type fakeContext struct {
	ctrl     *proc.Controller
	commands map[string]func(string) error
	called   []string
}

func (c *fakeContext) Controller() *proc.Controller { return c.ctrl }

func (c *fakeContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	c.commands[name] = fn
}

func (c *fakeContext) CallCommand(cmdstr string) error {
	c.called = append(c.called, cmdstr)
	return nil
}

func newEnv(t *testing.T) (*Env, *fakeContext, *backendtest.Fake, *bytes.Buffer) {
	fake := backendtest.New()
	b := target.NewBuilder()
	root, _ := b.VisitNode("", devicetree.NoHandle)
	pib, _ := b.VisitNode("pib@0", root)
	core, _ := b.VisitNode("core@0", pib)
	b.VisitNode("thread@0", core)
	b.VisitNode("thread@1", core)
	tr, err := b.Tree(fake)
	if err != nil {
		t.Fatal(err)
	}
	tr.SelectAll()
	tr.ProbeAll()

	ctx := &fakeContext{ctrl: proc.New(tr, fake, proc.StackPolicy{}), commands: map[string]func(string) error{}}
	var out bytes.Buffer
	return New(ctx, &out), ctx, fake, &out
}

func TestExecuteBuiltins(t *testing.T) {
	env, ctx, fake, _ := newEnv(t)
	const script = `
started = start()
stepped = step(3)
command("threadstatus")
Total = started + stepped

def main():
    return sreset()
`
	v, err := env.Execute("test.star", script, "main")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "2" {
		t.Fatalf("main returned %v", v)
	}
	if got := env.env["Total"]; got == nil || got.String() != "4" {
		t.Fatalf("Total = %v", got)
	}
	want := []string{
		"start /pib0/core0/thread0", "start /pib0/core0/thread1",
		"step(3) /pib0/core0/thread0", "step(3) /pib0/core0/thread1",
		"sreset /pib0/core0/thread0", "sreset /pib0/core0/thread1",
	}
	if strings.Join(fake.Calls, ";") != strings.Join(want, ";") {
		t.Fatalf("calls %v", fake.Calls)
	}
	if len(ctx.called) != 1 || ctx.called[0] != "threadstatus" {
		t.Fatalf("commands %v", ctx.called)
	}
}

func TestExecuteNoTargets(t *testing.T) {
	env, _, _, _ := newEnv(t)
	env.ctx.Controller().Tree().ClearSelection()
	v, err := env.Execute("test.star", "def main():\n    return stop()\n", "main")
	if err != nil {
		t.Fatal(err)
	}
	if v != starlark.None {
		t.Fatalf("expected None, got %v", v)
	}
}

func TestRegsBuiltin(t *testing.T) {
	env, _, fake, out := newEnv(t)
	fake.Regs["/pib0/core0/thread1"] = &backend.Registers{NIA: 0x700}
	v, err := env.Execute("test.star", "def main():\n    return regs(backtrace=False)\n", "main")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "1" {
		t.Fatalf("regs returned %v", v)
	}
	if !strings.Contains(out.String(), "NIA   : 0x0000000000000700") {
		t.Fatalf("register dump missing:\n%s", out.String())
	}

	delete(fake.Regs, "/pib0/core0/thread1")
	if _, err := env.Execute("test.star", "regs()\n", ""); err == nil {
		t.Fatal("expected an error when no registers could be read")
	}
}

func TestCreateCommand(t *testing.T) {
	env, ctx, fake, _ := newEnv(t)
	const script = `
def command_burst(n):
    "steps n times"
    for i in range(n):
        step(1)

def command_echo(args):
    print(args)
`
	if _, err := env.Execute("test.star", script, ""); err != nil {
		t.Fatal(err)
	}
	burst, ok := ctx.commands["burst"]
	if !ok {
		t.Fatalf("command not registered: %v", ctx.commands)
	}
	if err := burst("2"); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls) != 4 {
		t.Fatalf("calls %v", fake.Calls)
	}
	if err := ctx.commands["echo"]("hello world"); err != nil {
		t.Fatal(err)
	}
}

func TestStepArguments(t *testing.T) {
	env, _, _, _ := newEnv(t)
	if _, err := env.Execute("test.star", "step()\n", ""); err == nil {
		t.Fatal("step without count accepted")
	}
	if _, err := env.Execute("test.star", "step(-1)\n", ""); err == nil {
		t.Fatal("negative step accepted")
	}
}
