// Package starbind exposes the run control commands to starlark scripts.
package starbind

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/open-power/pdbg/pkg/proc"
)

const (
	commandBuiltinName   = "command"
	readFileBuiltinName  = "read_file"
	writeFileBuiltinName = "write_file"
	helpBuiltinName      = "help"
	commandPrefix        = "command_"
	contextName          = "pdbg_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Controller() *proc.Controller
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out io.Writer
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	env.builtin("start", "()", "starts all selected threads and returns how many were started.", env.countBuiltin("start", func(c *proc.Controller) (int, error) { return c.Start() }))
	env.builtin("stop", "()", "stops all selected threads and returns how many were stopped.", env.countBuiltin("stop", func(c *proc.Controller) (int, error) { return c.Stop() }))
	env.builtin("sreset", "()", "system resets all selected threads and returns how many were reset.", env.countBuiltin("sreset", func(c *proc.Controller) (int, error) { return c.SReset() }))

	env.builtin("step", "(Count)", "executes Count instructions on all selected threads and returns how many were stepped.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		var count int
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "count", &count); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		n, err := env.ctx.Controller().Step(proc.StepOptions{Count: count})
		return countResult(thread, n, err)
	})

	env.builtin("threadstatus", "()", "prints the state of every thread and returns the number of processors.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		n, err := env.ctx.Controller().ThreadStatus(env.out)
		return countResult(thread, n, err)
	})

	env.builtin("regs", "(backtrace=False, disasm=False)", "prints the registers of every thread and returns how many were printed.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var opts proc.RegsOptions
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "backtrace?", &opts.Backtrace, "disasm?", &opts.Disasm); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		n, err := env.ctx.Controller().Regs(env.out, opts)
		if err != nil && n > 0 {
			// Some threads were printed, the failures are already logged.
			err = nil
		}
		return countResult(thread, n, err)
	})

	env.builtin(commandBuiltinName, "(Command)", "runs a terminal command.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of command is not a string")
			}
			argstrs[i] = string(a)
		}
		return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(argstrs, " ")))
	})

	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
			return nil, decorateError(thread, err)
		}
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.String(string(buf)), nil
	})

	env.builtin(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 2 {
			return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
		}
		path, ok := args[0].(starlark.String)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("first argument of write_file was not a string"))
		}
		err := ioutil.WriteFile(string(path), []byte(args[1].String()), 0640)
		return starlark.None, decorateError(thread, err)
	})

	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func (env *Env) countBuiltin(name string, fn func(*proc.Controller) (int, error)) builtinFn {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		if err := starlark.UnpackArgs(name, args, kwargs); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		n, err := fn(env.ctx.Controller())
		return countResult(thread, n, err)
	}
}

// countResult returns the number of targets a command acted on, or None
// when it acted on none.
func countResult(thread *starlark.Thread, n int, err error) (starlark.Value, error) {
	if err != nil && n == 0 {
		return starlark.None, decorateError(thread, err)
	}
	if n == 0 {
		return starlark.None, nil
	}
	return starlark.MakeInt(n), nil
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it is
// called without arguments.
func (env *Env) Execute(path string, source interface{}, mainFnName string) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			if fn := runtime.FuncForPC(pc); fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	if err := env.exportGlobals(globals); err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_".
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			if err := env.createCommand(name, val); err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(contextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		var argtuple starlark.Tuple
		if strings.TrimSpace(args) != "" {
			argval, err := starlark.Eval(thread, "<input>", "("+args+",)", env.env)
			if err != nil {
				return err
			}
			argtuple, _ = argval.(starlark.Tuple)
		}
		_, err := starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != 0 {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	return starlark.Call(thread, mainfn, nil, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(contextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
