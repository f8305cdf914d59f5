// Package terminal implements the interactive pdbg shell.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/spf13/pflag"

	"github.com/open-power/pdbg/pkg/proc"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the pdbg shell.
type Commands struct {
	cmds  []command
	names *trie.Trie
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"start"}, cmdFn: start, helpMsg: `Starts the selected threads.`},
		{aliases: []string{"stop"}, cmdFn: stop, helpMsg: `Stops the selected threads.`},
		{aliases: []string{"step", "s"}, cmdFn: step, helpMsg: `Executes instructions on the selected threads.

	step <count>

The count is decimal, or hexadecimal with a 0x prefix. Threads must be stopped.`},
		{aliases: []string{"sreset"}, cmdFn: sreset, helpMsg: `Sends a system reset to the selected threads.`},
		{aliases: []string{"threadstatus", "ts"}, cmdFn: threadstatus, helpMsg: `Prints the state of every thread.

Each thread is shown as three characters: A when active, then the sleep
state (D doze, N nap, Z sleep, S stop), then Q when quiesced.`},
		{aliases: []string{"regs"}, cmdFn: regs, helpMsg: `Prints the registers of every stopped thread.

	regs [--backtrace] [--disasm]

--backtrace	also unwinds the stack of each thread
--disasm	also decodes the instruction at NIA`},
		{aliases: []string{"probe"}, cmdFn: probe, helpMsg: `Probes and prints the target tree.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of pdbg commands or a starlark script.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.
If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the shell.`},
	}

	c.rebuildNames()
	return c
}

func (c *Commands) rebuildNames() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, nil)
		}
	}
}

// Complete returns the command names starting with prefix.
func (c *Commands) Complete(prefix string) []string {
	return c.names.PrefixSearch(strings.ToLower(prefix))
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.names.Add(cmdstr, nil)
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.rebuildNames()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

// ExitRequestError is returned by the exit command.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command argument string the way a shell would.
func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// affected reports a command that acted on no target.
func affected(n int, err error) error {
	if n == 0 {
		if err != nil {
			return err
		}
		return proc.ErrNoTargets
	}
	return err
}

func noArgs(name, args string) error {
	if args != "" {
		return fmt.Errorf("%s does not take arguments", name)
	}
	return nil
}

func start(t *Term, args string) error {
	if err := noArgs("start", args); err != nil {
		return err
	}
	return affected(t.ctrl.Start())
}

func stop(t *Term, args string) error {
	if err := noArgs("stop", args); err != nil {
		return err
	}
	return affected(t.ctrl.Stop())
}

func sreset(t *Term, args string) error {
	if err := noArgs("sreset", args); err != nil {
		return err
	}
	return affected(t.ctrl.SReset())
}

// ParseCount parses an instruction count given in decimal, octal with a
// leading 0, or hexadecimal with a leading 0x.
func ParseCount(s string) (int, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return int(n), nil
}

func step(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return errors.New("step requires an instruction count")
	}
	count, err := ParseCount(v[0])
	if err != nil {
		return err
	}
	return affected(t.ctrl.Step(proc.StepOptions{Count: count}))
}

func threadstatus(t *Term, args string) error {
	if err := noArgs("threadstatus", args); err != nil {
		return err
	}
	return affected(t.ctrl.ThreadStatus(t.stdout))
}

// RegsFlags returns a flag set for the options of the regs command.
func RegsFlags(opts *proc.RegsOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet("regs", pflag.ContinueOnError)
	fs.BoolVar(&opts.Backtrace, "backtrace", false, "unwind the stack of each thread")
	fs.BoolVar(&opts.Disasm, "disasm", false, "decode the instruction at NIA")
	return fs
}

func regs(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	var opts proc.RegsOptions
	fs := RegsFlags(&opts)
	fs.SetOutput(t.stdout)
	if err := fs.Parse(v); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	n, err := t.ctrl.Regs(t.stdout, opts)
	if n > 0 {
		// Individual failures have been logged.
		return nil
	}
	return affected(n, err)
}

func probe(t *Term, args string) error {
	if err := noArgs("probe", args); err != nil {
		return err
	}
	return t.ctrl.Tree().Print(t.stdout)
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	if strings.HasSuffix(args, ".star") {
		_, err := t.starlarkEnv.Execute(args, nil, "main")
		return err
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
