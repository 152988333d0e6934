// Package toolchain wraps the external collaborators of a coverage run:
// the cargo build driver, the lcov capture/merge/extract tool, and the
// genhtml report generator. Each wrapper only assembles command lines and
// interprets exit statuses; tool output passes through to the operator.
package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesabox/mesacov/internal/artifacts"
	"github.com/mesabox/mesacov/internal/execx"
)

// Instrumentation flag values attached to every cargo invocation of an
// instrumented run. Profiling counters, a single codegen unit, a fixed
// optimization level, no dead-code pruning, no exception landing pads.
const (
	instrumentationRustflags = "-Zprofile -Ccodegen-units=1 -Copt-level=0 -Clink-dead-code -Zno-landing-pads"
)

// Cargo drives the build tool for an instrumented project.
type Cargo struct {
	Path   string // cargo executable
	Dir    string // project root, the working directory of every invocation
	Runner execx.Runner

	// Wrapper, when non-empty, routes compiler calls through a wrapper
	// executable via RUSTC_WRAPPER.
	Wrapper string
}

// env returns the per-invocation environment overrides for instrumented
// builds. A fresh map per call; the orchestrator's own environment is never
// touched.
func (c *Cargo) env() map[string]string {
	env := map[string]string{
		"CARGO_INCREMENTAL": "0",
		"RUSTFLAGS":         instrumentationRustflags,
	}
	if c.Wrapper != "" {
		env["RUSTC_WRAPPER"] = c.Wrapper
	}
	return env
}

// Clean resets the build cache so instrumentation counters start fresh.
func (c *Cargo) Clean(ctx context.Context) error {
	inv := execx.Invocation{
		Path: c.Path,
		Args: []string{"clean"},
		Dir:  c.Dir,
	}
	if err := c.Runner.Run(ctx, inv); err != nil {
		return fmt.Errorf("cargo clean: %w", err)
	}
	return nil
}

// TestTarget names a cargo test binary to build and run.
type TestTarget struct {
	// Flag selects the target set: "--lib" for the library's unit tests,
	// "--tests" for the integration test binaries.
	Flag string

	// BinPrefix is the name prefix of the produced binary under
	// target/debug, used only when structured build output does not
	// identify the executable.
	BinPrefix string
}

// BuildTestBinary compiles the target's test binary under instrumentation
// without running it and returns the path of the produced executable.
//
// The binary is resolved from cargo's --message-format=json artifact
// records; matching target/debug/<prefix>-* by glob is kept only as a
// fallback for toolchains that predate stable JSON messages.
func (c *Cargo) BuildTestBinary(ctx context.Context, target TestTarget) (string, error) {
	var stdout bytes.Buffer
	inv := execx.Invocation{
		Path:   c.Path,
		Args:   []string{"test", "--no-run", target.Flag, "--message-format=json"},
		Dir:    c.Dir,
		Env:    c.env(),
		Stdout: &stdout,
	}
	if err := c.Runner.Run(ctx, inv); err != nil {
		return "", fmt.Errorf("cargo test --no-run %s: %w", target.Flag, err)
	}

	if bin := findExecutable(stdout.Bytes(), target.BinPrefix); bin != "" {
		return bin, nil
	}

	bin, err := artifacts.NewestWithPrefix(filepath.Join(c.Dir, "target", "debug"), target.BinPrefix)
	if err != nil {
		return "", fmt.Errorf("locate %s test binary: %w", target.BinPrefix, err)
	}
	return bin, nil
}

// cargoMessage is the subset of cargo's JSON message stream the orchestrator
// cares about: compiler-artifact records announcing produced executables.
type cargoMessage struct {
	Reason     string `json:"reason"`
	Executable string `json:"executable"`
	Profile    struct {
		Test bool `json:"test"`
	} `json:"profile"`
	Target struct {
		Name string   `json:"name"`
		Kind []string `json:"kind"`
	} `json:"target"`
}

// findExecutable scans cargo JSON messages for a test executable whose base
// name carries the wanted prefix. Non-JSON lines (mixed tool chatter) are
// skipped. Returns "" when no record matches.
func findExecutable(output []byte, prefix string) string {
	scan := bufio.NewScanner(bytes.NewReader(output))
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-artifact" || !msg.Profile.Test || msg.Executable == "" {
			continue
		}
		base := filepath.Base(msg.Executable)
		if base == prefix || strings.HasPrefix(base, prefix+"-") {
			return msg.Executable
		}
	}
	return ""
}

// RunTestBinary strips the binary's dep-info file and executes it with no
// arguments in the project root, with the same instrumentation environment
// the build saw. A non-zero test exit aborts the run.
func (c *Cargo) RunTestBinary(ctx context.Context, binPath string) error {
	if err := artifacts.RemoveDepInfo(binPath); err != nil {
		return err
	}
	if _, err := os.Stat(binPath); err != nil {
		return fmt.Errorf("test binary %s: %w", binPath, err)
	}
	inv := execx.Invocation{
		Path: binPath,
		Dir:  c.Dir,
		Env:  c.env(),
	}
	if err := c.Runner.Run(ctx, inv); err != nil {
		return fmt.Errorf("run %s: %w", filepath.Base(binPath), err)
	}
	return nil
}
