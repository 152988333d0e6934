package toolchain

import (
	"context"
	"fmt"

	"github.com/mesabox/mesacov/internal/execx"
)

// Lcov wraps the coverage capture/merge/extract tool.
type Lcov struct {
	Path   string // lcov executable
	Dir    string // project root, working directory and capture root
	Runner execx.Runner

	// GcovTool, when non-empty, is passed as --gcov-tool so lcov reads
	// counters through a custom low-level reader (llvm-gcov wrapper and
	// the like).
	GcovTool string
}

// rcArgs holds the option set shared by every lcov invocation: branch
// coverage accounting on, assertion lines excluded from accounting.
func (l *Lcov) rcArgs() []string {
	args := []string{
		"--rc", "lcov_branch_coverage=1",
		"--rc", "lcov_excl_line=assert",
	}
	if l.GcovTool != "" {
		args = append(args, "--gcov-tool", l.GcovTool)
	}
	return args
}

// Capture reads the raw coverage counters under the project tree into the
// tracefile at outputPath, overwriting any previous capture.
func (l *Lcov) Capture(ctx context.Context, outputPath string) error {
	args := append(l.rcArgs(),
		"--capture",
		"--directory", ".",
		"--base-directory", ".",
		"--output-file", outputPath,
	)
	inv := execx.Invocation{Path: l.Path, Args: args, Dir: l.Dir}
	if err := l.Runner.Run(ctx, inv); err != nil {
		return fmt.Errorf("lcov capture into %s: %w", outputPath, err)
	}
	return nil
}

// Merge combines multiple tracefiles into one at outputPath.
func (l *Lcov) Merge(ctx context.Context, inputs []string, outputPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("lcov merge: no input tracefiles")
	}
	args := l.rcArgs()
	for _, in := range inputs {
		args = append(args, "--add-tracefile", in)
	}
	args = append(args, "--output-file", outputPath)
	inv := execx.Invocation{Path: l.Path, Args: args, Dir: l.Dir}
	if err := l.Runner.Run(ctx, inv); err != nil {
		return fmt.Errorf("lcov merge into %s: %w", outputPath, err)
	}
	return nil
}

// Extract restricts a tracefile to entries under includeRoot, writing the
// result to outputPath. includeRoot must already be an absolute path; lcov
// matches the recorded source file paths literally.
func (l *Lcov) Extract(ctx context.Context, inputPath, outputPath, includeRoot string) error {
	args := append(l.rcArgs(),
		"--extract", inputPath, includeRoot+"/*",
		"--output-file", outputPath,
	)
	inv := execx.Invocation{Path: l.Path, Args: args, Dir: l.Dir}
	if err := l.Runner.Run(ctx, inv); err != nil {
		return fmt.Errorf("lcov extract into %s: %w", outputPath, err)
	}
	return nil
}
