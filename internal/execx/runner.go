// Package execx runs external tools as child processes with per-invocation
// environment configuration. The orchestrator never exports variables into
// its own environment; every override travels with the invocation it belongs
// to.
package execx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Invocation describes a single child-process run.
type Invocation struct {
	// Path is the program to execute, resolved via PATH if not absolute.
	Path string

	// Args are the program arguments, excluding the program name itself.
	Args []string

	// Dir is the working directory. Empty means the orchestrator's own.
	Dir string

	// Env holds per-invocation overrides layered onto a copy of the
	// inherited environment. The parent process environment is never
	// mutated.
	Env map[string]string

	// Stdout and Stderr receive the child's output. Nil streams to the
	// orchestrator's own stdout/stderr so tool diagnostics pass through
	// untouched.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the invocation the way an operator would type it.
func (inv Invocation) String() string {
	return strings.Join(append([]string{inv.Path}, inv.Args...), " ")
}

// Runner executes invocations. The pipeline depends on this interface so
// step ordering and fail-fast behavior are testable with a recording fake.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// ExitError reports a child that started but exited non-zero.
type ExitError struct {
	Invocation string
	Code       int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.Invocation, e.Code)
}

// ExitCode extracts the child exit code from an error returned by a Runner.
// Returns -1 and false when the error does not carry one (spawn failure,
// cancellation).
func ExitCode(err error) (int, bool) {
	var xerr *ExitError
	if errors.As(err, &xerr) {
		return xerr.Code, true
	}
	return -1, false
}

// OSRunner executes invocations as real operating-system processes. Children
// are placed in their own process group; cancelling the context kills the
// whole group, so tool-spawned grandchildren do not outlive an aborted run.
type OSRunner struct{}

var _ Runner = OSRunner{}

// Run blocks until the child terminates and reports its exit status.
func (OSRunner) Run(ctx context.Context, inv Invocation) error {
	if inv.Path == "" {
		return fmt.Errorf("execx: empty program path")
	}

	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = mergedEnv(os.Environ(), inv.Env)
	cmd.Stdout = inv.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = inv.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", inv.Path, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return fmt.Errorf("%s: %w", inv.String(), ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Invocation: inv.String(), Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("%s: %w", inv.String(), err)
	}
}

// mergedEnv layers overrides onto the base environment. Later entries win in
// os/exec, but we replace in place to keep the child environment free of
// duplicate keys. Override keys are applied in sorted order so the result is
// deterministic.
func mergedEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, len(base))
	copy(env, base)

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		entry := k + "=" + overrides[k]
		replaced := false
		prefix := k + "="
		for i, kv := range env {
			if strings.HasPrefix(kv, prefix) {
				env[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			env = append(env, entry)
		}
	}
	return env
}
