// Package pipeline sequences the external tools of a coverage run: clean,
// build and run the instrumented test binaries, capture per phase, merge,
// filter to the project's own sources, render HTML. Strictly sequential and
// fail-fast; the first failing step aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mesabox/mesacov/internal/artifacts"
	"github.com/mesabox/mesacov/internal/config"
	"github.com/mesabox/mesacov/internal/execx"
	"github.com/mesabox/mesacov/internal/observability"
	"github.com/mesabox/mesacov/internal/toolchain"
	"github.com/mesabox/mesacov/internal/tracefile"
)

// Merged and filtered tracefile names. The per-phase capture names derive
// from the configured binary prefixes (mesabox.info and tests.info by
// default); these two are fixed.
const (
	MergedTracefile = "coverage.info"
	FinalTracefile  = "final.info"
)

// Step is one external-tool stage of the run. Completing it moves the state
// machine to To.
type Step struct {
	Name string
	To   State
	Run  func(ctx context.Context) error
}

// Pipeline wires the toolchain against one project checkout.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger

	cargo   *toolchain.Cargo
	lcov    *toolchain.Lcov
	genhtml *toolchain.Genhtml
}

// New builds a pipeline that spawns tools through runner. Tests substitute a
// recording runner; production passes execx.OSRunner.
func New(cfg *config.Config, logger *zap.Logger, runner execx.Runner) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		cargo: &toolchain.Cargo{
			Path:    cfg.CargoPath,
			Dir:     cfg.ProjectRoot,
			Wrapper: cfg.CompilerWrapper,
			Runner:  runner,
		},
		lcov: &toolchain.Lcov{
			Path:     cfg.LcovPath,
			Dir:      cfg.ProjectRoot,
			GcovTool: cfg.GcovTool,
			Runner:   runner,
		},
		genhtml: &toolchain.Genhtml{
			Path:   cfg.GenhtmlPath,
			Dir:    cfg.ProjectRoot,
			Runner: runner,
		},
	}
}

// UnitTracefile is the capture output of the unit test phase.
func (p *Pipeline) UnitTracefile() string {
	return p.cfg.LibBinPrefix + ".info"
}

// IntegrationTracefile is the capture output of the integration test phase.
func (p *Pipeline) IntegrationTracefile() string {
	return p.cfg.TestsBinPrefix + ".info"
}

// Steps returns the run's stages in execution order. The slice is rebuilt
// per call; steps close over the pipeline, not over each other.
func (p *Pipeline) Steps() []Step {
	return []Step{
		{Name: "cleanup", To: StateCleaned, Run: p.cleanup},
		{Name: "unit_build_run", To: StateUnitBuilt, Run: func(ctx context.Context) error {
			return p.buildAndRun(ctx, toolchain.TestTarget{Flag: "--lib", BinPrefix: p.cfg.LibBinPrefix})
		}},
		{Name: "unit_capture", To: StateUnitCaptured, Run: func(ctx context.Context) error {
			return p.lcov.Capture(ctx, p.UnitTracefile())
		}},
		{Name: "cache_reset", To: StateCacheReset, Run: p.cargo.Clean},
		{Name: "integration_capture", To: StateIntegrationCaptured, Run: func(ctx context.Context) error {
			if err := p.buildAndRun(ctx, toolchain.TestTarget{Flag: "--tests", BinPrefix: p.cfg.TestsBinPrefix}); err != nil {
				return err
			}
			return p.lcov.Capture(ctx, p.IntegrationTracefile())
		}},
		{Name: "merge", To: StateMerged, Run: func(ctx context.Context) error {
			return p.lcov.Merge(ctx, []string{p.UnitTracefile(), p.IntegrationTracefile()}, MergedTracefile)
		}},
		{Name: "filter", To: StateFiltered, Run: p.filter},
		{Name: "render", To: StateRendered, Run: func(ctx context.Context) error {
			return p.genhtml.Render(ctx, FinalTracefile, p.cfg.ReportDir)
		}},
	}
}

// Run executes all steps in order. It returns the terminal state together
// with the first step's error, if any. Each step may be bounded by the
// configured step timeout; zero leaves steps unbounded.
func (p *Pipeline) Run(ctx context.Context) (State, error) {
	machine := NewMachine()
	for _, step := range p.Steps() {
		stepCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.cfg.StepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, p.cfg.StepTimeout)
		}

		p.logger.Info("step starting", zap.String("step", step.Name))
		start := time.Now()
		err := step.Run(stepCtx)
		cancel()
		elapsed := time.Since(start)
		observability.ObserveStep(step.Name, elapsed, err)

		if err != nil {
			p.logger.Error("step failed",
				zap.String("step", step.Name),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			if abortErr := machine.Abort(); abortErr != nil {
				return machine.Current(), abortErr
			}
			observability.RecordRunOutcome("aborted")
			return StateAborted, fmt.Errorf("step %s: %w", step.Name, err)
		}

		if err := machine.Advance(step.To); err != nil {
			// A mis-ordered step table is a programming error, not a tool
			// failure.
			return machine.Current(), err
		}
		p.logger.Info("step done",
			zap.String("step", step.Name),
			zap.Duration("elapsed", elapsed),
			zap.String("state", string(machine.Current())))
	}

	observability.RecordRunOutcome("rendered")
	p.reportSummary()
	return machine.Current(), nil
}

// CleanOnly runs just the artifact cleanup stage.
func (p *Pipeline) CleanOnly(ctx context.Context) error {
	return p.cleanup(ctx)
}

func (p *Pipeline) cleanup(ctx context.Context) error {
	targetDir := filepath.Join(p.cfg.ProjectRoot, p.cfg.TargetDir)
	if err := artifacts.RemoveStaleCoverage(p.cfg.ProjectRoot, targetDir); err != nil {
		return err
	}
	return p.cargo.Clean(ctx)
}

func (p *Pipeline) buildAndRun(ctx context.Context, target toolchain.TestTarget) error {
	bin, err := p.cargo.BuildTestBinary(ctx, target)
	if err != nil {
		return err
	}
	p.logger.Info("test binary built",
		zap.String("target", target.BinPrefix),
		zap.String("binary", bin))
	return p.cargo.RunTestBinary(ctx, bin)
}

// filter restricts the merged data to files under the project's own source
// tree. The source root is resolved to an absolute path at run time because
// lcov matches recorded paths literally.
func (p *Pipeline) filter(ctx context.Context) error {
	srcRoot, err := filepath.Abs(filepath.Join(p.cfg.ProjectRoot, p.cfg.SrcDir))
	if err != nil {
		return fmt.Errorf("resolve source root: %w", err)
	}
	return p.lcov.Extract(ctx, MergedTracefile, FinalTracefile, srcRoot)
}

// reportSummary logs the rendered report's totals and publishes the
// coverage gauges. The run already succeeded; a summary failure is only
// worth a warning.
func (p *Pipeline) reportSummary() {
	sum, err := tracefile.ParseFile(filepath.Join(p.cfg.ProjectRoot, FinalTracefile))
	if err != nil {
		p.logger.Warn("coverage summary unavailable", zap.Error(err))
		return
	}
	observability.SetCoverage(sum.LineRate(), sum.BranchRate())
	p.logger.Info("coverage summary",
		zap.Int("files", len(sum.Files)),
		zap.Int("lines_hit", sum.LinesHit),
		zap.Int("lines_found", sum.LinesFound),
		zap.Float64("line_pct", sum.LineRate()),
		zap.Int("branches_hit", sum.BranchesHit),
		zap.Int("branches_found", sum.BranchesFound),
		zap.Float64("branch_pct", sum.BranchRate()),
		zap.String("report", p.cfg.ReportDir))
}
