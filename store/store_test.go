package store

import (
	"testing"

	"github.com/chromedp/cdproto/profiler"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
)

func rawFor(url string, count int64) *coverage.RawReport {
	return &coverage.RawReport{Result: []*profiler.ScriptCoverage{{
		URL:      url,
		ScriptID: "1",
		Functions: []*profiler.FunctionCoverage{{
			FunctionName: "",
			Ranges:       []*profiler.CoverageRange{{StartOffset: 0, EndOffset: 100, Count: count}},
		}},
	}}}
}

func mapFor(path string, count int64) coverage.Map {
	fc := coverage.NewFileCoverage(path)
	fc.AddStatement(coverage.Loc{
		Start: coverage.Pos{Line: 1, Column: 0},
		End:   coverage.Pos{Line: 1, Column: 10},
	}, count)
	return coverage.Map{path: fc}
}

func TestSpecKey(t *testing.T) {
	t.Parallel()
	// The spec filename survives whole, extension included, so App.cy.ts and
	// App.cy.js never collide on one artifact.
	assert.Equal(t, "cypress_e2e_login.cy.ts", specKey("cypress/e2e/login.cy.ts"))
	assert.Equal(t, "login.js", specKey("login.js"))
	assert.Equal(t, "e2e_smoke_login.cy.ts", specKey(`e2e\smoke\login.cy.ts`))
}

func TestRawExists(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs(), "/coverage")

	ok, err := s.RawExists("login.cy.ts")
	require.NoError(t, err)
	assert.False(t, ok, "nothing stored yet")

	require.NoError(t, s.MergeAndSaveRaw("login.cy.ts", rawFor("http://localhost/app.js", 1)))

	ok, err = s.RawExists("login.cy.ts")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RawExists("other.cy.ts")
	require.NoError(t, err)
	assert.False(t, ok, "specs do not see each other's artifacts")
}

func TestLoadMissingArtifacts(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs(), "/coverage")

	raw, err := s.LoadRaw("login.cy.ts")
	require.NoError(t, err)
	assert.True(t, raw.Empty())

	m, err := s.LoadCanonical("login.cy.ts")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestMergeAndSaveRawAccumulates(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs(), "/coverage")

	require.NoError(t, s.MergeAndSaveRaw("login.cy.ts", rawFor("http://localhost/app.js", 2)))
	require.NoError(t, s.MergeAndSaveRaw("login.cy.ts", rawFor("http://localhost/app.js", 3)))

	got, err := s.LoadRaw("login.cy.ts")
	require.NoError(t, err)
	require.Len(t, got.Result, 1)
	require.Len(t, got.Result[0].Functions, 1)
	assert.EqualValues(t, 5, got.Result[0].Functions[0].Ranges[0].Count)
}

func TestMergeAndSaveCanonicalAccumulates(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs(), "/coverage")

	require.NoError(t, s.MergeAndSaveCanonical("login.cy.ts", mapFor("/src/App.tsx", 1)))
	require.NoError(t, s.MergeAndSaveCanonical("login.cy.ts", mapFor("/src/App.tsx", 4)))

	got, err := s.LoadCanonical("login.cy.ts")
	require.NoError(t, err)
	require.Contains(t, got, "/src/App.tsx")
	require.Len(t, got["/src/App.tsx"].Statements, 1)
	assert.EqualValues(t, 5, got["/src/App.tsx"].Statements[0].Count)
}

func TestSpecsAreIsolated(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs(), "/coverage")

	require.NoError(t, s.MergeAndSaveRaw("a.cy.ts", rawFor("http://localhost/a.js", 1)))
	require.NoError(t, s.MergeAndSaveRaw("b.cy.ts", rawFor("http://localhost/b.js", 1)))

	a, err := s.LoadRaw("a.cy.ts")
	require.NoError(t, err)
	require.Len(t, a.Result, 1)
	assert.Equal(t, "http://localhost/a.js", a.Result[0].URL)
}

func TestDeleteArtifacts(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := New(fs, "/coverage")

	require.NoError(t, s.MergeAndSaveRaw("login.cy.ts", rawFor("http://localhost/app.js", 1)))
	require.NoError(t, s.MergeAndSaveCanonical("login.cy.ts", mapFor("/src/App.tsx", 1)))

	require.NoError(t, s.DeleteRaw("login.cy.ts"))
	require.NoError(t, s.DeleteCanonical("login.cy.ts"))

	// Deleting again is a no-op.
	require.NoError(t, s.DeleteRaw("login.cy.ts"))

	raw, err := s.LoadRaw("login.cy.ts")
	require.NoError(t, err)
	assert.True(t, raw.Empty())
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	s := New(fs, "/coverage")

	require.NoError(t, s.MergeAndSaveRaw("login.cy.ts", rawFor("http://localhost/app.js", 1)))

	infos, err := afero.ReadDir(fs, "/coverage")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "login.cy.ts_v8.json", infos[0].Name())
}
