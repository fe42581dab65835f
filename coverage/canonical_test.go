package coverage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loc(sl, sc, el, ec int) Loc {
	return Loc{Start: Pos{Line: sl, Column: sc}, End: Pos{Line: el, Column: ec}}
}

func TestFileCoverageMergeSumsByLocation(t *testing.T) {
	a := NewFileCoverage("/src/App.tsx")
	a.AddStatement(loc(1, 0, 1, 20), 2)
	a.AddFunction("render", loc(3, 0, 3, 15), loc(3, 0, 8, 1), 1)
	a.AddBranch("if", loc(4, 2, 6, 3), []Loc{loc(4, 10, 5, 3), loc(5, 10, 6, 3)}, []int64{1, 0})

	b := NewFileCoverage("/src/App.tsx")
	b.AddStatement(loc(1, 0, 1, 20), 3)
	b.AddStatement(loc(2, 0, 2, 10), 1)
	b.AddFunction("render", loc(3, 0, 3, 15), loc(3, 0, 8, 1), 4)
	b.AddBranch("if", loc(4, 2, 6, 3), []Loc{loc(4, 10, 5, 3), loc(5, 10, 6, 3)}, []int64{0, 2})

	a.Merge(b)

	require.Len(t, a.Statements, 2)
	assert.EqualValues(t, 5, a.Statements[0].Count)
	assert.EqualValues(t, 1, a.Statements[1].Count)
	require.Len(t, a.Functions, 1)
	assert.EqualValues(t, 5, a.Functions[0].Count)
	require.Len(t, a.Branches, 1)
	assert.Equal(t, []int64{1, 2}, a.Branches[0].Counts)
}

func TestMapMergeDoesNotAlias(t *testing.T) {
	src := Map{}
	rec := NewFileCoverage("/src/a.ts")
	rec.AddStatement(loc(1, 0, 1, 5), 1)
	src["/src/a.ts"] = rec

	dst := Map{}
	dst.Merge(src)
	dst["/src/a.ts"].AddStatement(loc(1, 0, 1, 5), 10)

	assert.EqualValues(t, 1, src["/src/a.ts"].Statements[0].Count)
	assert.EqualValues(t, 11, dst["/src/a.ts"].Statements[0].Count)
}

func TestFileCoverageJSONRoundTrip(t *testing.T) {
	fc := NewFileCoverage("/src/App.tsx")
	fc.AddStatement(loc(2, 0, 2, 30), 5)
	fc.AddStatement(loc(1, 0, 1, 20), 2)
	fc.AddFunction("App", loc(1, 0, 1, 12), loc(1, 0, 4, 1), 3)
	fc.AddBranch("cond-expr", loc(2, 5, 2, 28), []Loc{loc(2, 10, 2, 18), loc(2, 21, 2, 28)}, []int64{5, 0})

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	// istanbul shape with position-ordered numeric keys
	var shape map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &shape))
	for _, k := range []string{"path", "statementMap", "fnMap", "branchMap", "s", "f", "b"} {
		assert.Contains(t, shape, k)
	}

	var back FileCoverage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, fc.Path, back.Path)
	require.Len(t, back.Statements, 2)
	// sorted by position: line 1 statement first
	assert.Equal(t, 1, back.Statements[0].Loc.Start.Line)
	assert.EqualValues(t, 2, back.Statements[0].Count)
	require.Len(t, back.Branches, 1)
	assert.Equal(t, []int64{5, 0}, back.Branches[0].Counts)
}

func TestMapRoundTripAndMergeAcrossRuns(t *testing.T) {
	run1 := Map{}
	rec := NewFileCoverage("/src/App.tsx")
	rec.AddStatement(loc(1, 0, 1, 9), 1)
	run1["/src/App.tsx"] = rec

	data, err := run1.Marshal()
	require.NoError(t, err)
	prior, err := ParseMap(data)
	require.NoError(t, err)

	run2 := Map{}
	rec2 := NewFileCoverage("/src/App.tsx")
	rec2.AddStatement(loc(1, 0, 1, 9), 2)
	run2["/src/App.tsx"] = rec2

	prior.Merge(run2)
	assert.EqualValues(t, 3, prior["/src/App.tsx"].Statements[0].Count)
	assert.Equal(t, []string{"/src/App.tsx"}, prior.Paths())
}
