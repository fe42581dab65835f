package cmd

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
	"github.com/parkuman/cypress-code-coverage-v8/log"
)

func testRoot() *rootCommand {
	return &rootCommand{
		logger: log.NewNullLogger(),
		fs:     afero.NewMemMapFs(),
	}
}

func writeReport(t *testing.T, fs afero.Fs, path string, count int64) {
	t.Helper()
	fc := coverage.NewFileCoverage("/src/App.tsx")
	fc.AddStatement(coverage.Loc{
		Start: coverage.Pos{Line: 1, Column: 0},
		End:   coverage.Pos{Line: 1, Column: 10},
	}, count)
	data, err := coverage.Map{"/src/App.tsx": fc}.Marshal()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}

func TestMergeCommand(t *testing.T) {
	t.Parallel()

	c := testRoot()
	writeReport(t, c.fs, "/a.json", 2)
	writeReport(t, c.fs, "/b.json", 3)

	mergeCmd := getMergeCmd(c)
	mergeCmd.SetArgs([]string{"/out.json", "/a.json", "/b.json"})
	require.NoError(t, mergeCmd.Execute())

	data, err := afero.ReadFile(c.fs, "/out.json")
	require.NoError(t, err)
	m, err := coverage.ParseMap(data)
	require.NoError(t, err)
	require.Contains(t, m, "/src/App.tsx")
	require.Len(t, m["/src/App.tsx"].Statements, 1)
	assert.EqualValues(t, 5, m["/src/App.tsx"].Statements[0].Count)
}

func TestMergeCommandMissingInput(t *testing.T) {
	t.Parallel()

	mergeCmd := getMergeCmd(testRoot())
	mergeCmd.SetArgs([]string{"/out.json", "/missing.json"})
	assert.Error(t, mergeCmd.Execute())
}
