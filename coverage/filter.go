package coverage

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/parkuman/cypress-code-coverage-v8/lib"
)

// ScriptFilter is a pure predicate deciding whether a reported script belongs
// to the application under test. It runs before any sourcemap work, so the
// expensive conversion path only ever sees relevant scripts.
type ScriptFilter struct {
	baseURLs []string
	include  []string
	exclude  []string
}

// NewScriptFilter builds a filter from the resolved configuration.
func NewScriptFilter(conf lib.Config) *ScriptFilter {
	return &ScriptFilter{
		baseURLs: conf.BaseURLs,
		include:  conf.IncludeV8Patterns,
		exclude:  conf.ExcludeV8Patterns,
	}
}

// Match reports whether the script's URL (a) starts with one of the
// configured base URLs, (b) does not reference a vendored dependency, and
// (c) passes the raw-URL include/exclude glob sets.
func (f *ScriptFilter) Match(url string) bool {
	if !f.matchesBase(url) {
		return false
	}
	if strings.Contains(url, "/node_modules/") {
		return false
	}

	included := false
	for _, p := range f.include {
		if ok, err := doublestar.Match(p, url); err == nil && ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range f.exclude {
		if ok, err := doublestar.Match(p, url); err == nil && ok {
			return false
		}
	}
	return true
}

// Apply returns a copy of the report holding only matching scripts.
func (f *ScriptFilter) Apply(r *RawReport) *RawReport {
	out := &RawReport{}
	if r.Empty() {
		return out
	}
	for _, sc := range r.Result {
		if f.Match(sc.URL) {
			out.Result = append(out.Result, sc)
		}
	}
	return out
}

func (f *ScriptFilter) matchesBase(url string) bool {
	for _, base := range f.baseURLs {
		if strings.HasPrefix(url, base) {
			return true
		}
	}
	return false
}
