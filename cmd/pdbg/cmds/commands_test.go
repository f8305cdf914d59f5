package cmds

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-power/pdbg/pkg/proc"
)

// useMachine points the command line state at the testdata machine.
func useMachine(t *testing.T) {
	t.Helper()
	conf = nil
	log, logOutput, logDest = false, "", ""
	backendName = ""
	deviceTree = filepath.Join("testdata", "system.yml")
	machineImage = filepath.Join("testdata", "machine.yml")
	procs, cores, threads, path = "", "", "", ""
	all = false
	regsOpts = proc.RegsOptions{}
}

func counting(n *int, fn controlFunc) controlFunc {
	return func(ctrl *proc.Controller, out io.Writer) (int, error) {
		c, err := fn(ctrl, out)
		*n = c
		return c, err
	}
}

func TestExecuteSelection(t *testing.T) {
	for _, tc := range []struct {
		name                  string
		procs, cores, threads string
		path                  string
		all                   bool
		want, status          int
	}{
		{name: "default", want: 3},
		{name: "all", all: true, want: 3},
		{name: "core", procs: "0", cores: "1", want: 1},
		{name: "threads", threads: "1", want: 1},
		{name: "path", path: "pib0/core0/thread0-1", want: 2},
		{name: "absent chip", procs: "1", want: 0, status: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			useMachine(t)
			procs, cores, threads, path, all = tc.procs, tc.cores, tc.threads, tc.path, tc.all
			var n int
			status := execute(ioutil.Discard, counting(&n, stopThreads))
			if n != tc.want || status != tc.status {
				t.Fatalf("affected %d status %d, want %d and %d", n, status, tc.want, tc.status)
			}
		})
	}
}

func TestExecuteErrors(t *testing.T) {
	useMachine(t)
	path = "/"
	if status := execute(ioutil.Discard, stopThreads); status != 1 {
		t.Fatalf("bad path: status %d", status)
	}

	useMachine(t)
	deviceTree = ""
	if status := execute(ioutil.Discard, stopThreads); status != 1 {
		t.Fatalf("missing device tree: status %d", status)
	}

	useMachine(t)
	backendName = "jtag"
	if status := execute(ioutil.Discard, stopThreads); status != 1 {
		t.Fatalf("unknown backend: status %d", status)
	}

	useMachine(t)
	logOutput = "proc"
	if status := execute(ioutil.Discard, stopThreads); status != 1 {
		t.Fatalf("--log-output without --log: status %d", status)
	}
}

func TestThreadStatus(t *testing.T) {
	useMachine(t)
	var out bytes.Buffer
	if status := execute(&out, threadStatus); status != 0 {
		t.Fatalf("status %d", status)
	}
	const want = "\np0t:   0   1\nc00:  ..Q AN. \nc01:  A..     \n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}

func TestStepRunningThreads(t *testing.T) {
	useMachine(t)
	// Step fails on running threads but they still count as affected.
	var n int
	if status := execute(ioutil.Discard, counting(&n, stepThreads(1))); status != 0 || n != 3 {
		t.Fatalf("status %d affected %d", status, n)
	}
}

func TestRegs(t *testing.T) {
	useMachine(t)
	regsOpts.Backtrace = true
	var out bytes.Buffer
	if status := execute(&out, dumpRegs); status != 0 {
		t.Fatalf("status %d", status)
	}
	for _, s := range []string{"p0:c0:t0:\n", "NIA   : 0x0000000000001000", "STACK:"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("regs output does not contain %q:\n%s", s, out.String())
		}
	}
	if strings.Contains(out.String(), "p0:c0:t1:") {
		t.Errorf("running thread dumped:\n%s", out.String())
	}
}

func TestProbe(t *testing.T) {
	useMachine(t)
	var out bytes.Buffer
	if status := probe(&out); status != 0 {
		t.Fatalf("status %d", status)
	}
	const want = "pib0: pib@0 (enabled)\n" +
		"  core0: core@10 (enabled)\n" +
		"    thread0: thread@0 (enabled)\n" +
		"    thread1: thread@1 (enabled)\n" +
		"  core1: core@20 (enabled)\n" +
		"    thread0: thread@0 (enabled)\n" +
		"pib1: pib@1 (disabled)\n" +
		"  core0: core@10 (disabled)\n" +
		"    thread0: thread@0 (disabled)\n" +
		"adu0: adu@0 (enabled)\n"
	if out.String() != want {
		t.Fatalf("got:\n%s", out.String())
	}
}

func TestScript(t *testing.T) {
	for _, file := range []string{"stop.star", "commands"} {
		useMachine(t)
		if status := script(ioutil.Discard, filepath.Join("testdata", file)); status != 0 {
			t.Errorf("%s: status %d", file, status)
		}
	}
	useMachine(t)
	if status := script(ioutil.Discard, filepath.Join("testdata", "missing.star")); status != 1 {
		t.Errorf("missing script: status %d", status)
	}
}

func TestCommandTree(t *testing.T) {
	dir, err := ioutil.TempDir("", "pdbg-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	old := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", dir)
	defer os.Setenv("XDG_CONFIG_HOME", old)

	root := New(true)
	for _, name := range []string{"start", "stop", "step", "sreset", "threadstatus", "regs", "probe", "shell", "script", "version", "log", "backend"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not found", name)
		}
	}
	regs, _, _ := root.Find([]string{"regs"})
	for _, f := range []string{"backtrace", "disasm"} {
		if regs.Flags().Lookup(f) == nil {
			t.Errorf("regs has no --%s flag", f)
		}
	}
	for _, f := range []string{"p", "c", "t", "a", "P"} {
		if root.PersistentFlags().ShorthandLookup(f) == nil {
			t.Errorf("no -%s flag", f)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "pdbg Version: ") {
		t.Fatalf("version output %q", out.String())
	}
}
