package capture

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/profiler"
	"github.com/spf13/afero"

	"github.com/parkuman/cypress-code-coverage-v8/convert"
	"github.com/parkuman/cypress-code-coverage-v8/coverage"
	"github.com/parkuman/cypress-code-coverage-v8/lib"
	"github.com/parkuman/cypress-code-coverage-v8/log"
	"github.com/parkuman/cypress-code-coverage-v8/resolve"
	"github.com/parkuman/cypress-code-coverage-v8/store"
)

type phase int

const (
	phaseIdle phase = iota
	phaseArmed
	phaseCapturing
	phaseCaptured
)

// Session is the slice of the debugger connection the controller needs.
// *cdp.Manager satisfies it.
type Session interface {
	EnableProfiling(ctx context.Context) error
	StartCapture(ctx context.Context, callCount, detailed bool) error
	StopCapture(ctx context.Context) (*coverage.RawReport, error)
}

// Controller sequences the four hooks of a spec run. Methods are safe for
// concurrent use, though hooks arrive serially in practice.
type Controller struct {
	conf      lib.Config
	fs        afero.Fs
	logger    *log.Logger
	session   Session
	store     store.Store
	filter    *coverage.ScriptFilter
	resolver  *resolve.Resolver
	converter *convert.Converter

	mu    sync.Mutex
	phase phase
	spec  string
}

func NewController(conf lib.Config, fs afero.Fs, logger *log.Logger, session Session) *Controller {
	return &Controller{
		conf:      conf,
		fs:        fs,
		logger:    logger,
		session:   session,
		store:     store.New(fs, conf.CoverageDir.String),
		filter:    coverage.NewScriptFilter(conf),
		resolver:  resolve.New(fs, conf.BuildDir.String, logger),
		converter: convert.New(logger),
	}
}

// BeforeSpec arms the controller for a spec run. Artifacts left by an earlier
// run of the same spec are purged so interrupted runs cannot leak stale
// counts into this one.
func (c *Controller) BeforeSpec(ctx context.Context, spec string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spec = spec
	c.phase = phaseArmed

	if err := c.store.DeleteRaw(spec); err != nil {
		c.logger.Warnf("cov:capture", "purging raw artifact for %q: %v", spec, err)
		return degraded(err.Error())
	}
	if err := c.store.DeleteCanonical(spec); err != nil {
		c.logger.Warnf("cov:capture", "purging artifact for %q: %v", spec, err)
		return degraded(err.Error())
	}
	c.logger.Debugf("cov:capture", "armed for spec %q", spec)
	return ok()
}

// BeforeTest starts precise coverage for one test. A missing debugger session
// degrades rather than fails: the test still runs, it just contributes no
// coverage.
func (c *Controller) BeforeTest(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spec == "" {
		return degraded("no active spec")
	}
	if err := c.session.EnableProfiling(ctx); err != nil {
		c.logger.Warnf("cov:capture", "enabling profiler: %v", err)
		return degraded(err.Error())
	}
	if err := c.session.StartCapture(ctx, true, true); err != nil {
		c.logger.Warnf("cov:capture", "starting capture: %v", err)
		return degraded(err.Error())
	}
	c.phase = phaseCapturing
	return ok()
}

// AfterTest collects the test's coverage, filters it to application scripts
// and folds it into the spec's accumulated raw artifact.
func (c *Controller) AfterTest(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spec == "" {
		return degraded("no active spec")
	}
	if c.phase != phaseCapturing {
		return degraded("no capture in progress")
	}
	c.phase = phaseCaptured

	raw, err := c.session.StopCapture(ctx)
	if err != nil {
		c.logger.Warnf("cov:capture", "collecting coverage: %v", err)
		return degraded(err.Error())
	}
	if raw == nil {
		return degraded("no debugger session, test contributed no coverage")
	}

	filtered := c.filter.Apply(raw)
	if filtered.Empty() {
		c.logger.Debugf("cov:capture", "no application scripts in capture for %q", c.spec)
		return ok()
	}
	if err := c.store.MergeAndSaveRaw(c.spec, filtered); err != nil {
		c.logger.Errorf("cov:capture", "saving raw coverage for %q: %v", c.spec, err)
		return degraded(err.Error())
	}
	return ok()
}

// AfterSpec finalizes the spec: the accumulated raw artifact is resolved and
// converted to canonical per-file records, untested sources are synthesized
// in, the result is merged into the spec's report and the raw artifact is
// removed.
func (c *Controller) AfterSpec(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spec == "" {
		return degraded("no active spec")
	}
	spec := c.spec
	c.phase = phaseIdle

	// A spec whose tests never ran leaves no raw artifact behind. That is
	// not the same as an artifact with zero counts: synthesizing a report
	// here would publish a 0% result for code the run never exercised.
	exists, err := c.store.RawExists(spec)
	if err != nil {
		c.logger.Errorf("cov:capture", "checking raw coverage for %q: %v", spec, err)
		return degraded(err.Error())
	}
	if !exists {
		c.logger.Debugf("cov:capture", "no coverage captured for %q, nothing to finalize", spec)
		return ok()
	}

	if c.conf.FinalizeTimeout.Valid {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.FinalizeTimeout.TimeDuration())
		defer cancel()
	}

	raw, err := c.store.LoadRaw(spec)
	if err != nil {
		c.logger.Errorf("cov:capture", "loading raw coverage for %q: %v", spec, err)
		return degraded(err.Error())
	}

	total := coverage.Map{}
	skipped := 0
	for _, sc := range raw.Result {
		if err := ctx.Err(); err != nil {
			c.logger.Errorf("cov:capture", "finalization for %q interrupted: %v", spec, err)
			return degraded(err.Error())
		}
		if sc == nil {
			continue
		}
		m, err := c.convertScript(sc)
		if err != nil {
			c.logger.Warnf("cov:capture", "skipping %s: %v", sc.URL, err)
			skipped++
			continue
		}
		total.Merge(m)
	}

	if c.conf.IncludeUncovered.Bool {
		if err := c.synthesizeUntested(total); err != nil {
			c.logger.Warnf("cov:capture", "synthesizing untested files: %v", err)
			skipped++
		}
	}

	if err := c.store.MergeAndSaveCanonical(spec, total); err != nil {
		c.logger.Errorf("cov:capture", "saving coverage for %q: %v", spec, err)
		return degraded(err.Error())
	}
	if err := c.store.DeleteRaw(spec); err != nil {
		c.logger.Warnf("cov:capture", "removing raw artifact for %q: %v", spec, err)
	}

	c.logger.Infof("cov:capture", "finalized coverage for %q (%d files)", spec, len(total))
	if skipped > 0 {
		return degraded(fmt.Sprintf("%d scripts could not be converted", skipped))
	}
	return ok()
}

func (c *Controller) convertScript(sc *profiler.ScriptCoverage) (coverage.Map, error) {
	built := c.resolver.BuiltPath(urlPath(sc.URL))
	src, err := c.resolver.Resolve(built)
	if err != nil {
		return nil, err
	}
	return c.converter.Convert(src, sc.Functions)
}

// urlPath extracts the path component of a script URL, tolerating bare paths.
func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
