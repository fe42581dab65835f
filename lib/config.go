package lib

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
)

// Config is the resolved configuration for one coverage run. It is resolved
// exactly once per run and is immutable afterwards; every pipeline stage
// reads it, none mutate it.
type Config struct {
	// Enabled is the environment gate for the whole pipeline. When false,
	// nothing is registered and zero overhead is imposed on the test run.
	Enabled null.Bool `json:"enabled" envconfig:"CYCOV_ENABLED"`

	// CoverageDir is the absolute output directory for intermediate and
	// final coverage artifacts. Created on demand.
	CoverageDir null.String `json:"coverageDir" envconfig:"CYCOV_COVERAGE_DIR"`

	// BaseURLs identify "the application" among all scripts the browser
	// loads. A script participates only if its URL starts with one of them.
	BaseURLs []string `json:"baseUrls" envconfig:"CYCOV_BASE_URLS"`

	// SrcDir and BuildDir are the absolute original-source root and the
	// built-artifact root. Built files are expected at BuildDir+urlPath and
	// source map "sources" entries resolve relative to BuildDir.
	SrcDir   null.String `json:"srcDir" envconfig:"CYCOV_SRC_DIR"`
	BuildDir null.String `json:"buildDir" envconfig:"CYCOV_BUILD_DIR"`

	// IncludeUncovered controls synthesis of zero-coverage entries for
	// source files that were never loaded by the browser.
	IncludeUncovered null.Bool `json:"includeUncovered" envconfig:"CYCOV_INCLUDE_UNCOVERED"`

	// Include and Exclude select which original source files count toward
	// the application, relative to SrcDir.
	Include []string `json:"include" envconfig:"CYCOV_INCLUDE"`
	Exclude []string `json:"exclude" envconfig:"CYCOV_EXCLUDE"`

	// IncludeV8Patterns and ExcludeV8Patterns are applied to raw script URLs
	// before any sourcemap work, to bound processing cost.
	IncludeV8Patterns []string `json:"includeV8Patterns" envconfig:"CYCOV_INCLUDE_V8_PATTERNS"`
	ExcludeV8Patterns []string `json:"excludeV8Patterns" envconfig:"CYCOV_EXCLUDE_V8_PATTERNS"`

	// BrowserArgs are the launch arguments the runner started the browser
	// with. The debugging port is recovered from their
	// --remote-debugging-port flag unless DebugPort is set.
	BrowserArgs []string `json:"browserArgs" envconfig:"CYCOV_BROWSER_ARGS"`

	// DebugPort overrides the debugging port discovered from the browser
	// launch arguments.
	DebugPort null.Int `json:"debugPort" envconfig:"CYCOV_DEBUG_PORT"`

	// ConnectDelay is how long to wait after browser launch before the
	// first connection attempt, giving the browser time to finish starting.
	ConnectDelay NullDuration `json:"connectDelay" envconfig:"CYCOV_CONNECT_DELAY"`

	// ConnectRetryInterval is the fixed interval between connection and
	// reconnection attempts.
	ConnectRetryInterval NullDuration `json:"connectRetryInterval" envconfig:"CYCOV_CONNECT_RETRY_INTERVAL"`

	// ConnectRetryLimit caps the number of connection attempts. When unset,
	// retrying continues indefinitely.
	ConnectRetryLimit null.Int `json:"connectRetryLimit" envconfig:"CYCOV_CONNECT_RETRY_LIMIT"`

	// FinalizeTimeout bounds the after-hook coverage finalization, the
	// single highest-latency operation of the pipeline. It is deliberately
	// much longer than any per-test timeout.
	FinalizeTimeout NullDuration `json:"finalizeTimeout" envconfig:"CYCOV_FINALIZE_TIMEOUT"`

	// HookAddr is the listen address of the lifecycle hook HTTP server.
	HookAddr null.String `json:"hookAddr" envconfig:"CYCOV_HOOK_ADDR"`
}

// NewConfig creates a new Config instance with default values for some fields.
func NewConfig() Config {
	return Config{
		CoverageDir:          null.NewString("coverage", false),
		IncludeUncovered:     null.NewBool(true, false),
		Include:              []string{"**/*.{js,jsx,ts,tsx,vue,svelte}"},
		IncludeV8Patterns:    []string{"**"},
		ConnectDelay:         NewNullDuration(500*time.Millisecond, false),
		ConnectRetryInterval: NewNullDuration(time.Second, false),
		FinalizeTimeout:      NewNullDuration(5*time.Minute, false),
		HookAddr:             null.NewString("localhost:9321", false),
	}
}

// Apply saves non-zero config values from the passed config in the receiver.
func (c Config) Apply(cfg Config) Config {
	if cfg.Enabled.Valid {
		c.Enabled = cfg.Enabled
	}
	if cfg.CoverageDir.Valid && cfg.CoverageDir.String != "" {
		c.CoverageDir = cfg.CoverageDir
	}
	if len(cfg.BaseURLs) > 0 {
		c.BaseURLs = cfg.BaseURLs
	}
	if cfg.SrcDir.Valid && cfg.SrcDir.String != "" {
		c.SrcDir = cfg.SrcDir
	}
	if cfg.BuildDir.Valid && cfg.BuildDir.String != "" {
		c.BuildDir = cfg.BuildDir
	}
	if cfg.IncludeUncovered.Valid {
		c.IncludeUncovered = cfg.IncludeUncovered
	}
	if len(cfg.Include) > 0 {
		c.Include = cfg.Include
	}
	if len(cfg.Exclude) > 0 {
		c.Exclude = cfg.Exclude
	}
	if len(cfg.IncludeV8Patterns) > 0 {
		c.IncludeV8Patterns = cfg.IncludeV8Patterns
	}
	if len(cfg.ExcludeV8Patterns) > 0 {
		c.ExcludeV8Patterns = cfg.ExcludeV8Patterns
	}
	if len(cfg.BrowserArgs) > 0 {
		c.BrowserArgs = cfg.BrowserArgs
	}
	if cfg.DebugPort.Valid {
		c.DebugPort = cfg.DebugPort
	}
	if cfg.ConnectDelay.Valid {
		c.ConnectDelay = cfg.ConnectDelay
	}
	if cfg.ConnectRetryInterval.Valid {
		c.ConnectRetryInterval = cfg.ConnectRetryInterval
	}
	if cfg.ConnectRetryLimit.Valid {
		c.ConnectRetryLimit = cfg.ConnectRetryLimit
	}
	if cfg.FinalizeTimeout.Valid {
		c.FinalizeTimeout = cfg.FinalizeTimeout
	}
	if cfg.HookAddr.Valid && cfg.HookAddr.String != "" {
		c.HookAddr = cfg.HookAddr
	}
	return c
}

// GetConsolidatedConfig combines the default config, the optional JSON config
// file contents and the environment, in that priority order.
func GetConsolidatedConfig(jsonRawConf []byte) (Config, error) {
	result := NewConfig()

	if jsonRawConf != nil {
		jsonConf := Config{}
		if err := json.Unmarshal(jsonRawConf, &jsonConf); err != nil {
			return result, err
		}
		result = result.Apply(jsonConf)
	}

	envConf := Config{}
	if err := envconfig.Process("", &envConf); err != nil {
		return result, err
	}
	result = result.Apply(envConf)

	return result, nil
}

// Validate reports operator configuration problems as warnings. Per the
// propagation policy nothing here fails the run; the caller surfaces the
// warnings and the pipeline degrades instead.
func (c Config) Validate(fs afero.Fs) []string {
	var warnings []string

	for _, p := range c.allPatterns() {
		if !doublestar.ValidatePattern(p) {
			warnings = append(warnings, fmt.Sprintf("invalid glob pattern %q", p))
		}
	}

	if dir := c.CoverageDir.String; dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			warnings = append(warnings, fmt.Sprintf("coverage directory %q is not writable: %v", dir, err))
		}
	}

	if c.SrcDir.String != "" && !filepath.IsAbs(c.SrcDir.String) {
		warnings = append(warnings, fmt.Sprintf("srcDir %q is not absolute", c.SrcDir.String))
	}
	if c.BuildDir.String != "" && !filepath.IsAbs(c.BuildDir.String) {
		warnings = append(warnings, fmt.Sprintf("buildDir %q is not absolute", c.BuildDir.String))
	}

	return warnings
}

func (c Config) allPatterns() []string {
	all := make([]string, 0, len(c.Include)+len(c.Exclude)+len(c.IncludeV8Patterns)+len(c.ExcludeV8Patterns))
	all = append(all, c.Include...)
	all = append(all, c.Exclude...)
	all = append(all, c.IncludeV8Patterns...)
	all = append(all, c.ExcludeV8Patterns...)
	return all
}
