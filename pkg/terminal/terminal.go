package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/open-power/pdbg/pkg/config"
	"github.com/open-power/pdbg/pkg/proc"
	"github.com/open-power/pdbg/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".pdbg_history"
	defaultPrompt               string = "(pdbg) "
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	ansiRed = 31
)

// Term represents the terminal running pdbg.
type Term struct {
	ctrl     *proc.Controller
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term.
func New(ctrl *proc.Controller, conf *config.Config) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	var w io.Writer = os.Stdout
	if !dumb {
		w = colorable.NewColorableStdout()
	}
	t := newTerm(ctrl, conf, w, dumb)
	t.line = liner.NewLiner()
	return t
}

func newTerm(ctrl *proc.Controller, conf *config.Config, w io.Writer, dumb bool) *Term {
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	prompt := conf.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}
	t := &Term{
		ctrl:   ctrl,
		conf:   conf,
		prompt: prompt,
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, w)
	return t
}

// ExecFile runs a command file, or a starlark script when path ends in
// .star, without starting the line editor.
func ExecFile(ctrl *proc.Controller, conf *config.Config, path string, w io.Writer) error {
	if conf == nil {
		conf = &config.Config{}
	}
	return newTerm(ctrl, conf, w, true).Exec("source " + path)
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
	}
}

// Run reads and executes commands until exit or end of input.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Cancel running scripts on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.Complete)
	t.line.SetCtrlCAborts(true)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.Exec(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.printError(err)
		}
	}
}

// Exec runs a single command line.
func (t *Term) Exec(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}

func (t *Term) printError(err error) {
	prefix := "Command failed: "
	if !t.dumb {
		prefix = fmt.Sprintf(terminalHighlightEscapeCode, ansiRed) + prefix + terminalResetEscapeCode
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, err)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
		_, err = t.line.WriteHistory(f)
		if err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}
	return 0, nil
}
