package convert

import (
	"sort"
	"strings"

	"github.com/chromedp/cdproto/profiler"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
	"github.com/parkuman/cypress-code-coverage-v8/log"
	"github.com/parkuman/cypress-code-coverage-v8/resolve"
)

// Converter turns one script's engine coverage into canonical records, keyed
// by original source path when a source map is available.
type Converter struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Converter {
	return &Converter{logger: logger}
}

// hitRange is a flattened engine range. Offsets are half-open bytes into the
// built script.
type hitRange struct {
	start, end int
	count      int64
}

// Convert produces canonical coverage for a single resolved script. Functions
// may be nil or empty, in which case every structural location reports a zero
// count. A single function named with the empty-report sentinel short-circuits
// parsing entirely and yields one whole-file zero record.
func (c *Converter) Convert(src *resolve.Source, fns []*profiler.FunctionCoverage) (coverage.Map, error) {
	if len(fns) == 1 && fns[0].FunctionName == coverage.EmptyReportName {
		return emptyReport(src), nil
	}

	st, err := analyze(src.Path, src.Text)
	if err != nil {
		return nil, err
	}

	ranges := flatten(fns)
	out := coverage.Map{}
	get := func(path string) *coverage.FileCoverage {
		fc, ok := out[path]
		if !ok {
			fc = coverage.NewFileCoverage(path)
			out[path] = fc
		}
		return fc
	}

	for _, s := range st.statements {
		path, loc, ok := c.mapSpan(src, st, s)
		if !ok {
			continue
		}
		get(path).AddStatement(loc, hitCount(ranges, s.start))
	}

	for _, f := range st.functions {
		path, decl, ok := c.mapSpan(src, st, f.decl)
		if !ok {
			continue
		}
		_, loc, ok := c.mapSpan(src, st, f.loc)
		if !ok {
			loc = decl
		}
		get(path).AddFunction(f.name, decl, loc, hitCount(ranges, f.loc.start))
	}

	for _, b := range st.branches {
		path, loc, ok := c.mapSpan(src, st, b.loc)
		if !ok {
			continue
		}
		arms := make([]coverage.Loc, 0, len(b.arms))
		counts := make([]int64, 0, len(b.arms))
		for _, a := range b.arms {
			armPath, armLoc, ok := c.mapSpan(src, st, a)
			if !ok || armPath != path {
				armLoc = loc
			}
			arms = append(arms, armLoc)
			counts = append(counts, hitCount(ranges, a.start))
		}
		get(path).AddBranch(b.typ, loc, arms, counts)
	}

	return out, nil
}

// flatten collects every range of every function into one slice ordered by
// start offset ascending and, on ties, end offset descending, so an enclosing
// range always precedes the refinements nested inside it.
func flatten(fns []*profiler.FunctionCoverage) []hitRange {
	var out []hitRange
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		for _, r := range fn.Ranges {
			out = append(out, hitRange{start: int(r.StartOffset), end: int(r.EndOffset), count: r.Count})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].end > out[j].end
	})
	return out
}

// hitCount returns the count of the most specific range covering the offset.
// Among containing ranges the one with the greatest start wins, and on equal
// starts the later entry wins.
func hitCount(ranges []hitRange, offset int) int64 {
	var count int64
	found := false
	best := -1
	for _, r := range ranges {
		if r.start <= offset && offset < r.end && r.start >= best {
			best = r.start
			count = r.count
			found = true
		}
	}
	if !found {
		return 0
	}
	return count
}

// mapSpan re-expresses a byte span of the built script as a location in an
// original source file. Without a source map the built file is its own
// original. Spans that fall outside the map's coverage are dropped.
func (c *Converter) mapSpan(src *resolve.Source, st *structure, s span) (string, coverage.Loc, bool) {
	start := st.pos(s.start)
	end := st.pos(s.end)

	if !src.HasMap() {
		return src.Path, coverage.Loc{Start: start, End: end}, true
	}

	source, _, line, col, ok := src.Map.Source(start.Line, start.Column)
	if !ok || source == "" {
		c.logger.Tracef("cov:convert", "no mapping for %s:%d:%d", src.Path, start.Line, start.Column)
		return "", coverage.Loc{}, false
	}
	mapped := coverage.Loc{Start: coverage.Pos{Line: line, Column: col}}

	endSource, _, endLine, endCol, ok := src.Map.Source(end.Line, end.Column)
	if ok && endSource == source && !posBefore(endLine, endCol, line, col) {
		mapped.End = coverage.Pos{Line: endLine, Column: endCol}
	} else {
		// The end falls in another source or is unmapped. Approximate with
		// the generated span's extent past the mapped start.
		mapped.End = coverage.Pos{Line: line + (end.Line - start.Line), Column: end.Column}
		if end.Line == start.Line {
			mapped.End.Column = col + (end.Column - start.Column)
		}
	}

	return src.AbsSource(source), mapped, true
}

func posBefore(aLine, aCol, bLine, bCol int) bool {
	if aLine != bLine {
		return aLine < bLine
	}
	return aCol < bCol
}

// emptyReport builds the whole-file zero record for a source no test touched.
// The path is used as-is, so callers hand it original source paths directly.
func emptyReport(src *resolve.Source) coverage.Map {
	lines := strings.Split(src.Text, "\n")
	last := len(lines)
	lastLen := len(lines[last-1])
	if lastLen == 0 && last > 1 {
		last--
		lastLen = len(lines[last-1])
	}

	loc := coverage.Loc{
		Start: coverage.Pos{Line: 1, Column: 0},
		End:   coverage.Pos{Line: last, Column: lastLen},
	}
	fc := coverage.NewFileCoverage(src.Path)
	fc.AddStatement(loc, 0)
	fc.AddFunction(coverage.EmptyReportName, loc, loc, 0)
	return coverage.Map{src.Path: fc}
}
