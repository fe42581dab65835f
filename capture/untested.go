package capture

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/chromedp/cdproto/profiler"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
	"github.com/parkuman/cypress-code-coverage-v8/resolve"
)

// synthesizeUntested walks the source tree and adds a whole-file zero record
// for every matching source file the run never touched, so reports show the
// full surface of the application rather than only what tests reached.
func (c *Controller) synthesizeUntested(total coverage.Map) error {
	srcDir := c.conf.SrcDir.String
	if srcDir == "" {
		return nil
	}

	sentinel := []*profiler.FunctionCoverage{{FunctionName: coverage.EmptyReportName}}

	return afero.Walk(c.fs, srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if !c.matchesSourcePatterns(filepath.ToSlash(rel)) {
			return nil
		}
		if _, covered := total[path]; covered {
			return nil
		}

		text, err := afero.ReadFile(c.fs, path)
		if err != nil {
			c.logger.Warnf("cov:capture", "reading untested file %s: %v", path, err)
			return nil
		}
		m, err := c.converter.Convert(&resolve.Source{Path: path, Text: string(text)}, sentinel)
		if err != nil {
			return err
		}
		total.Merge(m)
		c.logger.Tracef("cov:capture", "synthesized empty record for %s", path)
		return nil
	})
}

func (c *Controller) matchesSourcePatterns(rel string) bool {
	included := false
	for _, p := range c.conf.Include {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range c.conf.Exclude {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return false
		}
	}
	return true
}
