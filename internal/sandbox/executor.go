// Package sandbox runs generated analysis code inside a restricted
// interpreter. Only a small set of helper functions and a few standard
// library packages are reachable from interpreted code; everything else,
// including the host process state, is out of scope.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ErrTimeout is returned when generated code exceeds the wall-clock limit.
var ErrTimeout = errors.New("execution timed out")

// stdlibAllowed lists the standard library packages interpreted code may
// import. Anything not listed here is invisible to the interpreter.
var stdlibAllowed = []string{
	"math/math",
	"sort/sort",
	"strings/strings",
}

// Executor evaluates code snippets with a fresh interpreter per call, so no
// state leaks between executions.
type Executor struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Executor with the given wall-clock timeout per execution.
func New(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout, logger: slog.Default()}
}

type evalOutcome struct {
	result any
	err    error
}

// Run evaluates code and returns the value it bound to the variable named
// result, or nil if the code never bound one. Runtime errors and panics
// return a non-nil error carrying the trace. On timeout the worker goroutine
// is abandoned and ErrTimeout is returned; the Executor remains usable.
func (e *Executor) Run(ctx context.Context, code string) (any, error) {
	code = stripImports(stripFences(code))
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("empty code")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan evalOutcome, 1)
	go func() {
		done <- e.eval(runCtx, code)
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-runCtx.Done():
		e.logger.Warn("abandoning execution worker", "timeout", e.timeout)
		return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
}

// eval builds a restricted interpreter, runs the code, and extracts the
// result binding. Panics inside interpreted code are recovered into errors
// with a full trace.
func (e *Executor) eval(ctx context.Context, code string) (out evalOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = evalOutcome{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(restrictedSymbols()); err != nil {
		return evalOutcome{err: fmt.Errorf("configuring interpreter: %w", err)}
	}
	for _, stmt := range prelude() {
		if _, err := i.EvalWithContext(ctx, stmt); err != nil {
			return evalOutcome{err: fmt.Errorf("loading prelude: %w", err)}
		}
	}

	if _, err := i.EvalWithContext(ctx, code); err != nil {
		if ctx.Err() != nil {
			return evalOutcome{err: ErrTimeout}
		}
		return evalOutcome{err: fmt.Errorf("execution failed: %w", err)}
	}

	v, err := i.Eval("result")
	if err != nil {
		// The code ran but never bound a result. Not an error.
		return evalOutcome{}
	}
	if !v.IsValid() {
		return evalOutcome{}
	}
	return evalOutcome{result: v.Interface()}
}

// restrictedSymbols assembles the interpreter's whole visible world: the
// sandbox helper exports plus the allowed standard library packages.
func restrictedSymbols() interp.Exports {
	exports := interp.Exports{
		"sandbox/sandbox": {
			"ScrapeTable": reflect.ValueOf(ScrapeTable),
			"RunQuery":    reflect.ValueOf(RunQuery),
			"RenderPNG":   reflect.ValueOf(RenderPNG),
			"NewFigure":   reflect.ValueOf(NewFigure),
			"Figure":      reflect.ValueOf((*Figure)(nil)),
		},
	}
	for _, pkg := range stdlibAllowed {
		if syms, ok := stdlib.Symbols[pkg]; ok {
			exports[pkg] = syms
		}
	}
	return exports
}

// prelude returns the import statements evaluated before every snippet: the
// helper package, dot-imported so generated code calls ScrapeTable and
// friends unqualified, plus each allowed standard library package.
func prelude() []string {
	stmts := []string{`import . "sandbox"`}
	for _, pkg := range stdlibAllowed {
		name := pkg[strings.LastIndex(pkg, "/")+1:]
		stmts = append(stmts, fmt.Sprintf("import %q", name))
	}
	return stmts
}

// stripImports drops import declarations from a snippet. Everything
// interpreted code may import is already loaded by the prelude, and a
// leading import declaration switches the interpreter into file-level
// parsing, which rejects the plain statements that follow it.
func stripImports(code string) string {
	lines := strings.Split(code, "\n")
	kept := make([]string, 0, len(lines))
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			if strings.HasSuffix(trimmed, ")") {
				inBlock = false
			}
		case strings.HasPrefix(trimmed, "import (") || strings.HasPrefix(trimmed, "import("):
			inBlock = !strings.HasSuffix(trimmed, ")")
		case strings.HasPrefix(trimmed, "import "):
			// single-line import
		default:
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// stripFences removes markdown code fences that models tend to wrap their
// answers in despite instructions.
func stripFences(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return code
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return code
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
