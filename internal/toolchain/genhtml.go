package toolchain

import (
	"context"
	"fmt"

	"github.com/mesabox/mesacov/internal/execx"
)

// Genhtml wraps the HTML report generator.
type Genhtml struct {
	Path   string // genhtml executable
	Dir    string // project root, working directory
	Runner execx.Runner
}

// Render generates the HTML report for a tracefile into outputDir. Branch
// coverage display, C++ name demangling, and the legend are on. Unreadable
// source files are tolerated (--ignore-errors source): genhtml skips them
// and still renders what it can; every other failure is fatal.
func (g *Genhtml) Render(ctx context.Context, inputPath, outputDir string) error {
	inv := execx.Invocation{
		Path: g.Path,
		Args: []string{
			"--branch-coverage",
			"--demangle-cpp",
			"--legend",
			"--ignore-errors", "source",
			"--output-directory", outputDir,
			inputPath,
		},
		Dir: g.Dir,
	}
	if err := g.Runner.Run(ctx, inv); err != nil {
		return fmt.Errorf("genhtml into %s: %w", outputDir, err)
	}
	return nil
}
