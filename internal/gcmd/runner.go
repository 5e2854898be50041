// Package gcmd runs external GIS module processes on behalf of the
// workstation's command facility.
package gcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"
)

// Result is the outcome of one module run. A nonzero Code is a domain
// failure, not an error: the process ran and reported it.
type Result struct {
	Code     int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// OSRunner executes the module as a local process with separate stdout and
// stderr capture.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Code = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

type Executor struct {
	timeout time.Duration
	runner  Runner
}

func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout, runner: OSRunner{}}
}

func NewExecutorWithRunner(timeout time.Duration, runner Runner) *Executor {
	e := NewExecutor(timeout)
	e.runner = runner
	return e
}

// Run executes a GIS module with its option map rendered as key=value
// arguments. Modules are never retried; the caller owns retry policy.
func (e *Executor) Run(ctx context.Context, name string, options map[string]string) (Result, error) {
	if name == "" {
		return Result{}, fmt.Errorf("empty module name")
	}
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := e.runner.Run(runCtx, name, BuildModuleArgs(options)...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("module %s timed out: %w", name, err)
		}
		return Result{}, fmt.Errorf("run module %s: %w", name, err)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// BuildModuleArgs renders an option map as module arguments in deterministic
// order. The "flags" option carries single-letter switches and becomes one
// -xyz argument; everything else is passed as key=value.
func BuildModuleArgs(options map[string]string) []string {
	if len(options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "flags" {
			if options[k] != "" {
				args = append(args, "-"+options[k])
			}
			continue
		}
		args = append(args, fmt.Sprintf("%s=%s", k, options[k]))
	}
	return args
}
