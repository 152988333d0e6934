package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdirTemp switches the working directory to a fresh temp dir for the test
// so Load reads only the fixtures the test writes.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
	return dir
}

// writeConfig writes a config/dev.yaml fixture under the current directory.
func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "dev.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestLoad_Defaults verifies that a missing config file yields a fully
// defaulted, valid configuration.
func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ProjectRoot != "." {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, ".")
	}
	if cfg.SrcDir != "src" {
		t.Errorf("SrcDir = %q, want %q", cfg.SrcDir, "src")
	}
	if cfg.CargoPath != "cargo" || cfg.LcovPath != "lcov" || cfg.GenhtmlPath != "genhtml" {
		t.Errorf("tool paths = %q/%q/%q, want cargo/lcov/genhtml", cfg.CargoPath, cfg.LcovPath, cfg.GenhtmlPath)
	}
	if cfg.LibBinPrefix != "mesabox" || cfg.TestsBinPrefix != "tests" {
		t.Errorf("prefixes = %q/%q, want mesabox/tests", cfg.LibBinPrefix, cfg.TestsBinPrefix)
	}
	if cfg.StepTimeout != 0 {
		t.Errorf("StepTimeout = %v, want 0 (unbounded)", cfg.StepTimeout)
	}
	if cfg.ReportDir != filepath.Join("target", "coverage") {
		t.Errorf("ReportDir = %q", cfg.ReportDir)
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 250 {
		t.Errorf("rate limit = %d/%d, want 100/250", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

// TestLoad_FromFile verifies YAML fields land in the right config slots.
func TestLoad_FromFile(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, `
project:
  root: /work/mesabox
  src_dir: sources
  report_dir: out/html
tools:
  lcov: /opt/lcov/bin/lcov
  gcov_tool: ./ci/llvm-gcov
  compiler_wrapper: /usr/local/bin/sccache
binaries:
  lib_prefix: mesabox
  tests_prefix: integration
run:
  step_timeout: 45m
serve:
  addr: ":9090"
  rate_limit_rps: 10
  rate_limit_burst: 20
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProjectRoot != "/work/mesabox" {
		t.Errorf("ProjectRoot = %q", cfg.ProjectRoot)
	}
	if cfg.SrcDir != "sources" {
		t.Errorf("SrcDir = %q", cfg.SrcDir)
	}
	if cfg.ReportDir != "out/html" {
		t.Errorf("ReportDir = %q", cfg.ReportDir)
	}
	if cfg.LcovPath != "/opt/lcov/bin/lcov" {
		t.Errorf("LcovPath = %q", cfg.LcovPath)
	}
	if cfg.GcovTool != "./ci/llvm-gcov" {
		t.Errorf("GcovTool = %q", cfg.GcovTool)
	}
	if cfg.CompilerWrapper != "/usr/local/bin/sccache" {
		t.Errorf("CompilerWrapper = %q", cfg.CompilerWrapper)
	}
	if cfg.TestsBinPrefix != "integration" {
		t.Errorf("TestsBinPrefix = %q", cfg.TestsBinPrefix)
	}
	if cfg.StepTimeout != 45*time.Minute {
		t.Errorf("StepTimeout = %v, want 45m", cfg.StepTimeout)
	}
	if cfg.ServeAddr != ":9090" || cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 20 {
		t.Errorf("serve = %q/%d/%d", cfg.ServeAddr, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

// TestLoad_EnvOverridesFile verifies env vars win over YAML values.
func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, `
tools:
  cargo: /from/file/cargo
run:
  step_timeout: 1h
`)
	t.Setenv("MESACOV_CARGO", "/from/env/cargo")
	t.Setenv("MESACOV_STEP_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CargoPath != "/from/env/cargo" {
		t.Errorf("CargoPath = %q, env should override file", cfg.CargoPath)
	}
	if cfg.StepTimeout != 90*time.Second {
		t.Errorf("StepTimeout = %v, want 90s", cfg.StepTimeout)
	}
}

// TestLoad_RejectsEqualPrefixes verifies validation catches binary prefixes
// that cannot disambiguate the two build targets.
func TestLoad_RejectsEqualPrefixes(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, `
binaries:
  lib_prefix: same
  tests_prefix: same
`)
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want prefix validation error")
	}
}

// TestLoad_BadYAML verifies a malformed config file is an error rather than
// a silent fallback to defaults.
func TestLoad_BadYAML(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, "project: [not: a: mapping")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

// TestParseDuration verifies fallback behavior for empty, invalid, and
// negative durations.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		in     string
		def    time.Duration
		expect time.Duration
	}{
		{"", 0, 0},
		{"30s", 0, 30 * time.Second},
		{"  10m  ", 0, 10 * time.Minute},
		{"bogus", time.Minute, time.Minute},
		{"-5s", time.Minute, time.Minute},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.expect {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.expect)
		}
	}
}
