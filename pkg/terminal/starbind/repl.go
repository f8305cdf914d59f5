package starbind

// The read, eval, print loop follows go.starlark.net/repl/repl.go,
// Copyright (c) 2017 The Bazel Authors, BSD 3-Clause license.

import (
	"fmt"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
)

// REPL executes a read, eval, print loop until exit or end of input.
// Globals defined in the loop are exported as by Execute.
func (env *Env) REPL() error {
	thread := env.newThread()
	globals := starlark.StringDict{}
	for k, v := range env.env {
		globals[k] = v
	}

	rl := liner.NewLiner()
	defer rl.Close()
	for {
		if err := isCancelled(thread); err != nil {
			return err
		}
		if err := env.rep(rl, thread, globals); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(globals)
}

// rep reads, evaluates, and prints one item. Starlark errors are printed,
// only a failure to read input is returned.
func (env *Env) rep(rl *liner.State, thread *starlark.Thread, globals starlark.StringDict) error {
	eof := false

	prompt := normalPrompt
	readline := func() ([]byte, error) {
		line, err := rl.Prompt(prompt)
		if line == exitCommand {
			eof = true
			return nil, io.EOF
		}
		rl.AppendHistory(line)
		prompt = extraPrompt
		if err != nil {
			if err == io.EOF {
				eof = true
			}
			return nil, err
		}
		return []byte(line + "\n"), nil
	}

	f, err := syntax.ParseCompoundStmt("<stdin>", readline)
	if err != nil {
		if eof {
			return io.EOF
		}
		env.printError(err)
		return nil
	}

	if expr := soleExpr(f); expr != nil {
		v, err := starlark.EvalExpr(thread, expr, globals)
		if err != nil {
			env.printError(err)
			return nil
		}
		if v != starlark.None {
			fmt.Fprintln(env.out, v)
		}
		return nil
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		env.printError(err)
		return nil
	}
	res, err := prog.Init(thread, globals)
	if err != nil {
		env.printError(err)
	}
	// Globals of this statement are predeclared in the next one, even
	// when execution failed halfway.
	for k, v := range res {
		globals[k] = v
	}
	return nil
}

func soleExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			return stmt.X
		}
	}
	return nil
}

// printError prints err, or its backtrace for a starlark evaluation error.
func (env *Env) printError(err error) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(env.out, evalErr.Backtrace())
	} else {
		fmt.Fprintln(env.out, err)
	}
}
