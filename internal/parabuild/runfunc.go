package parabuild

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// RunFunc is the injection point described in spec.md §9: "a user-defined
// callable that is passed the workspace path, script text, binding, and
// shared stop flag." Go has no first-class function-pointer configuration
// field the way the Rust original does, so this is modeled as an interface
// with one method, exactly as §9 recommends.
type RunFunc interface {
	Run(ctx context.Context, workspacePath, script string, env map[string]string, data Binding, stop *StopFlag) (any, error)
}

// RunFuncFunc adapts a plain function to RunFunc.
type RunFuncFunc func(ctx context.Context, workspacePath, script string, env map[string]string, data Binding, stop *StopFlag) (any, error)

func (f RunFuncFunc) Run(ctx context.Context, workspacePath, script string, env map[string]string, data Binding, stop *StopFlag) (any, error) {
	return f(ctx, workspacePath, script, env, data, stop)
}

// execScript spawns a shell executing script with cwd=workspacePath,
// propagating env on top of the current process environment, and captures
// stdout/stderr. Mirrors the RunFunc contract in spec.md §4.4.
func execScript(ctx context.Context, workspacePath, script string, env map[string]string) (ResultRecord, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = workspacePath
	cmd.Env = mergeEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	rec := ResultRecord{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		rec.Status = 0
		return rec, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if sysWs, ok := exitErr.Sys().(syscall.WaitStatus); ok && unix.WaitStatus(sysWs).Signaled() {
			rec.Status = -1
		} else {
			rec.Status = exitErr.ExitCode()
		}
		return rec, newError(RunFailed, "run script exited non-zero", err)
	}
	return rec, newError(RunFailed, "run script could not be spawned", err)
}

// panicOnErrorRunFunc runs run_bash_script and fails the run if the child
// returns nonzero.
type panicOnErrorRunFunc struct{}

func (panicOnErrorRunFunc) Run(ctx context.Context, workspacePath, script string, env map[string]string, data Binding, stop *StopFlag) (any, error) {
	rec, err := execScript(ctx, workspacePath, script, env)
	rec.Data = data
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ignoreOnErrorRunFunc records the record regardless of exit code.
type ignoreOnErrorRunFunc struct{}

func (ignoreOnErrorRunFunc) Run(ctx context.Context, workspacePath, script string, env map[string]string, data Binding, stop *StopFlag) (any, error) {
	rec, _ := execScript(ctx, workspacePath, script, env)
	rec.Data = data
	return rec, nil
}

// PanicOnError is the default RunFunc: fails the run if the child returns
// nonzero.
func PanicOnError() RunFunc { return panicOnErrorRunFunc{} }

// IgnoreOnError always records the ResultRecord, regardless of exit code.
func IgnoreOnError() RunFunc { return ignoreOnErrorRunFunc{} }

// mergeEnv layers extra on top of the current process environment, the way
// the init/compile/run scripts expect to see PARABUILD_ID and friends
// alongside the caller's PATH and toolchain variables.
func mergeEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
