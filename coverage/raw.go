// Package coverage holds the two coverage representations the pipeline moves
// between: the engine's raw per-script function/range report and the
// canonical per-file statement/branch/function map consumed by report
// generators, together with the merge operations for both.
package coverage

import (
	"encoding/json"
	"sort"

	"github.com/chromedp/cdproto/profiler"
)

// RawReport is one engine snapshot: a sequence of per-script records in the
// engine's native shape. It marshals to the exact JSON the profiler domain
// emits, wrapped in a "result" envelope.
type RawReport struct {
	Result []*profiler.ScriptCoverage `json:"result"`
}

// ParseRawReport decodes a raw coverage artifact.
func ParseRawReport(data []byte) (*RawReport, error) {
	var r RawReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal encodes the report in the on-disk artifact shape.
func (r *RawReport) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", " ")
}

// Empty reports whether the snapshot carries no script coverage at all.
func (r *RawReport) Empty() bool {
	return r == nil || len(r.Result) == 0
}

// Merge unions two raw reports per script URL. The operation is commutative
// and associative: for any given script, coverage ranges from both sides are
// combined with the same union-of-ranges semantics the engine itself uses for
// incremental coverage, so an arbitrary number of tests within one spec each
// contribute disjoint or overlapping coverage correctly.
func Merge(a, b *RawReport) *RawReport {
	if a.Empty() {
		return cloneReport(b)
	}
	if b.Empty() {
		return cloneReport(a)
	}

	byURL := make(map[string]*profiler.ScriptCoverage)
	var order []string
	add := func(sc *profiler.ScriptCoverage) {
		prev, ok := byURL[sc.URL]
		if !ok {
			byURL[sc.URL] = cloneScript(sc)
			order = append(order, sc.URL)
			return
		}
		byURL[sc.URL] = mergeScripts(prev, sc)
	}
	for _, sc := range a.Result {
		add(sc)
	}
	for _, sc := range b.Result {
		add(sc)
	}

	sort.Strings(order)
	merged := &RawReport{Result: make([]*profiler.ScriptCoverage, 0, len(order))}
	for _, url := range order {
		merged.Result = append(merged.Result, byURL[url])
	}
	return merged
}

// mergeScripts merges function coverage of the same script. Functions are
// identified by their outermost range plus name; ranges of matching functions
// are unioned with per-offset count summation.
func mergeScripts(a, b *profiler.ScriptCoverage) *profiler.ScriptCoverage {
	type fnKey struct {
		name       string
		start, end int64
	}
	keyOf := func(fn *profiler.FunctionCoverage) fnKey {
		k := fnKey{name: fn.FunctionName}
		if len(fn.Ranges) > 0 {
			k.start, k.end = fn.Ranges[0].StartOffset, fn.Ranges[0].EndOffset
		}
		return k
	}

	out := &profiler.ScriptCoverage{ScriptID: a.ScriptID, URL: a.URL}
	index := make(map[fnKey]int)
	for _, fn := range a.Functions {
		index[keyOf(fn)] = len(out.Functions)
		out.Functions = append(out.Functions, cloneFunction(fn))
	}
	for _, fn := range b.Functions {
		i, ok := index[keyOf(fn)]
		if !ok {
			index[keyOf(fn)] = len(out.Functions)
			out.Functions = append(out.Functions, cloneFunction(fn))
			continue
		}
		out.Functions[i] = mergeFunctions(out.Functions[i], fn)
	}
	return out
}

// mergeFunctions unions the range lists of two recordings of one function the
// way the engine folds refinements: both sides are flattened into disjoint
// segments, per-segment counts are summed, and the result is re-encoded as a
// root range over the function's extent plus refinement ranges wherever the
// count deviates from the root's. A refinement recorded by only one side then
// carries the other side's count too, instead of shadowing it.
func mergeFunctions(a, b *profiler.FunctionCoverage) *profiler.FunctionCoverage {
	out := &profiler.FunctionCoverage{
		FunctionName:    a.FunctionName,
		IsBlockCoverage: a.IsBlockCoverage || b.IsBlockCoverage,
	}

	var bounds []int64
	for _, fn := range []*profiler.FunctionCoverage{a, b} {
		for _, r := range fn.Ranges {
			bounds = append(bounds, r.StartOffset, r.EndOffset)
		}
	}
	if len(bounds) == 0 {
		return out
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })
	uniq := bounds[:1]
	for _, o := range bounds[1:] {
		if o != uniq[len(uniq)-1] {
			uniq = append(uniq, o)
		}
	}
	bounds = uniq

	type segment struct {
		start, end int64
		count      int64
	}
	var segments []segment
	for i := 0; i+1 < len(bounds); i++ {
		p := bounds[i]
		cnt := countAt(a.Ranges, p) + countAt(b.Ranges, p)
		if n := len(segments); n > 0 && segments[n-1].count == cnt {
			segments[n-1].end = bounds[i+1]
			continue
		}
		segments = append(segments, segment{start: p, end: bounds[i+1], count: cnt})
	}

	root := &profiler.CoverageRange{
		StartOffset: bounds[0],
		EndOffset:   bounds[len(bounds)-1],
		Count:       segments[0].count,
	}
	out.Ranges = append(out.Ranges, root)
	for _, s := range segments[1:] {
		if s.count != root.Count {
			out.Ranges = append(out.Ranges, &profiler.CoverageRange{
				StartOffset: s.start,
				EndOffset:   s.end,
				Count:       s.count,
			})
		}
	}
	return out
}

// countAt evaluates one side's count at an offset: the most specific range
// containing it wins, zero when none does.
func countAt(ranges []*profiler.CoverageRange, offset int64) int64 {
	var (
		found              bool
		bestStart, bestEnd int64
		count              int64
	)
	for _, r := range ranges {
		if r.StartOffset > offset || offset >= r.EndOffset {
			continue
		}
		if !found || r.StartOffset > bestStart ||
			(r.StartOffset == bestStart && r.EndOffset < bestEnd) {
			found = true
			bestStart, bestEnd, count = r.StartOffset, r.EndOffset, r.Count
		}
	}
	if !found {
		return 0
	}
	return count
}

func cloneReport(r *RawReport) *RawReport {
	if r.Empty() {
		return &RawReport{}
	}
	out := &RawReport{Result: make([]*profiler.ScriptCoverage, 0, len(r.Result))}
	for _, sc := range r.Result {
		out.Result = append(out.Result, cloneScript(sc))
	}
	return out
}

func cloneScript(sc *profiler.ScriptCoverage) *profiler.ScriptCoverage {
	out := &profiler.ScriptCoverage{ScriptID: sc.ScriptID, URL: sc.URL}
	for _, fn := range sc.Functions {
		out.Functions = append(out.Functions, cloneFunction(fn))
	}
	return out
}

func cloneFunction(fn *profiler.FunctionCoverage) *profiler.FunctionCoverage {
	out := &profiler.FunctionCoverage{
		FunctionName:    fn.FunctionName,
		IsBlockCoverage: fn.IsBlockCoverage,
	}
	for _, r := range fn.Ranges {
		cp := *r
		out.Ranges = append(out.Ranges, &cp)
	}
	return out
}
