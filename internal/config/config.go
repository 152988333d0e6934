package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds orchestrator configuration loaded from YAML and env.
type Config struct {
	// ProjectRoot is the directory the whole run executes in.
	ProjectRoot string

	SrcDir    string // project source tree, filter root for final.info
	TargetDir string // build tree holding binaries and gcov counters
	ReportDir string // genhtml output directory

	CargoPath   string
	LcovPath    string
	GenhtmlPath string
	GcovTool    string // passed to lcov --gcov-tool; empty means lcov's default

	// CompilerWrapper, when set, is attached to cargo invocations as
	// RUSTC_WRAPPER so every compiler call goes through the wrapper.
	CompilerWrapper string

	LibBinPrefix   string // name prefix of the library test binary
	TestsBinPrefix string // name prefix of the integration test binary

	// StepTimeout bounds each pipeline step. Zero means unbounded, which
	// matches the original workflow where a hung tool hangs the run.
	StepTimeout time.Duration

	ServeAddr      string
	RateLimitRPS   int
	RateLimitBurst int
}

type fileConfig struct {
	Project struct {
		Root      string `yaml:"root"`
		SrcDir    string `yaml:"src_dir"`
		TargetDir string `yaml:"target_dir"`
		ReportDir string `yaml:"report_dir"`
	} `yaml:"project"`

	Tools struct {
		Cargo           string `yaml:"cargo"`
		Lcov            string `yaml:"lcov"`
		Genhtml         string `yaml:"genhtml"`
		GcovTool        string `yaml:"gcov_tool"`
		CompilerWrapper string `yaml:"compiler_wrapper"`
	} `yaml:"tools"`

	Binaries struct {
		LibPrefix   string `yaml:"lib_prefix"`
		TestsPrefix string `yaml:"tests_prefix"`
	} `yaml:"binaries"`

	Run struct {
		StepTimeout string `yaml:"step_timeout"`
	} `yaml:"run"`

	Serve struct {
		Addr           string `yaml:"addr"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"serve"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) under
// the current directory. A missing file is not an error: every field has a
// working default so a plain checkout runs without any setup. Env overrides:
// MESACOV_ROOT, MESACOV_CARGO, MESACOV_LCOV, MESACOV_GENHTML,
// MESACOV_GCOV_TOOL, MESACOV_RUSTC_WRAPPER, MESACOV_STEP_TIMEOUT.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	configPath := filepath.Join("config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
	}

	cfg := &Config{}

	cfg.ProjectRoot = firstOf(os.Getenv("MESACOV_ROOT"), fc.Project.Root, ".")
	cfg.SrcDir = firstOf(fc.Project.SrcDir, "src")
	cfg.TargetDir = firstOf(fc.Project.TargetDir, "target")
	cfg.ReportDir = firstOf(fc.Project.ReportDir, filepath.Join("target", "coverage"))

	cfg.CargoPath = firstOf(os.Getenv("MESACOV_CARGO"), fc.Tools.Cargo, "cargo")
	cfg.LcovPath = firstOf(os.Getenv("MESACOV_LCOV"), fc.Tools.Lcov, "lcov")
	cfg.GenhtmlPath = firstOf(os.Getenv("MESACOV_GENHTML"), fc.Tools.Genhtml, "genhtml")
	cfg.GcovTool = firstOf(os.Getenv("MESACOV_GCOV_TOOL"), fc.Tools.GcovTool, "")
	cfg.CompilerWrapper = firstOf(os.Getenv("MESACOV_RUSTC_WRAPPER"), fc.Tools.CompilerWrapper, "")

	cfg.LibBinPrefix = firstOf(fc.Binaries.LibPrefix, "mesabox")
	cfg.TestsBinPrefix = firstOf(fc.Binaries.TestsPrefix, "tests")

	cfg.StepTimeout = parseDuration(firstOf(os.Getenv("MESACOV_STEP_TIMEOUT"), fc.Run.StepTimeout), 0)

	cfg.ServeAddr = firstOf(fc.Serve.Addr, ":8080")
	cfg.RateLimitRPS = fc.Serve.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Serve.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// firstOf returns the first non-empty trimmed value.
func firstOf(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// parseDuration parses a duration string, returning defaultVal on empty
// string, parse error, or negative result.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.LibBinPrefix == "" || cfg.TestsBinPrefix == "" {
		return fmt.Errorf("binary name prefixes must not be empty")
	}
	if cfg.LibBinPrefix == cfg.TestsBinPrefix {
		return fmt.Errorf("lib_prefix and tests_prefix must differ, both are %q", cfg.LibBinPrefix)
	}
	if cfg.SrcDir == "" {
		return fmt.Errorf("src_dir must not be empty")
	}
	return nil
}
