package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mesabox/mesacov/internal/config"
	"github.com/mesabox/mesacov/internal/execx"
	"github.com/mesabox/mesacov/internal/observability"
	"github.com/mesabox/mesacov/internal/pipeline"
	"github.com/mesabox/mesacov/internal/report"
	"github.com/mesabox/mesacov/internal/tracefile"
)

var version = "dev"

const usage = `mesacov drives the mesabox coverage workflow.

Usage:
  mesacov [run]                run the full coverage pipeline (default)
  mesacov clean                delete stale coverage artifacts and reset the build cache
  mesacov summary [tracefile]  print totals of an LCOV tracefile (default final.info)
  mesacov serve                serve the rendered HTML report over HTTP
  mesacov version              print the version
`

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cmd, args := splitCommand(os.Args[1:])
	code := dispatch(cmd, args, logger)

	_ = observability.FlushTelemetry(context.Background(), logger)
	os.Exit(code)
}

// splitCommand separates the subcommand from its arguments. No arguments
// means the default full run.
func splitCommand(argv []string) (string, []string) {
	if len(argv) == 0 {
		return "run", nil
	}
	return argv[0], argv[1:]
}

func dispatch(cmd string, args []string, logger *zap.Logger) int {
	switch cmd {
	case "run":
		return runCoverage(logger)
	case "clean":
		return cleanArtifacts(logger)
	case "summary":
		path := pipeline.FinalTracefile
		if len(args) > 0 {
			path = args[0]
		}
		return printSummary(path)
	case "serve":
		return serveReport(logger)
	case "version":
		fmt.Println("mesacov " + version)
		return 0
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func runCoverage(logger *zap.Logger) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return 1
	}

	logger, runID := observability.WithRunID(logger)
	logger.Info("coverage run starting",
		zap.String("version", version),
		zap.String("project_root", cfg.ProjectRoot))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, logger, execx.OSRunner{})
	state, err := p.Run(ctx)
	if err != nil {
		logger.Error("coverage run aborted",
			zap.String("state", string(state)),
			zap.Error(err))
		// Inherit the failing tool's exit indication where there is one.
		if code, ok := execx.ExitCode(err); ok && code > 0 {
			return code
		}
		return 1
	}

	logger.Info("coverage run complete",
		zap.String("state", string(state)),
		zap.String("run_id", runID),
		zap.String("report", filepath.Join(cfg.ProjectRoot, cfg.ReportDir)))
	return 0
}

func cleanArtifacts(logger *zap.Logger) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, logger, execx.OSRunner{})
	if err := p.CleanOnly(ctx); err != nil {
		logger.Error("clean", zap.Error(err))
		return 1
	}
	logger.Info("artifacts cleaned")
	return 0
}

func printSummary(path string) int {
	sum, err := tracefile.ParseFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Printf("%s: %d source files\n", path, len(sum.Files))
	fmt.Printf("  lines:     %6d of %6d  (%5.1f%%)\n", sum.LinesHit, sum.LinesFound, sum.LineRate())
	fmt.Printf("  functions: %6d of %6d\n", sum.FunctionsHit, sum.FunctionsFound)
	fmt.Printf("  branches:  %6d of %6d  (%5.1f%%)\n", sum.BranchesHit, sum.BranchesFound, sum.BranchRate())
	return 0
}

func serveReport(logger *zap.Logger) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return 1
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	reportDir := filepath.Join(cfg.ProjectRoot, cfg.ReportDir)
	srv := &http.Server{
		Addr:         cfg.ServeAddr,
		Handler:      report.NewServer(reportDir, logger, limiter).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("report server starting",
			zap.String("addr", cfg.ServeAddr),
			zap.String("report", reportDir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("report server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("report server shutdown", zap.Error(err))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
