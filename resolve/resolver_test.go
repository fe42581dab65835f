package resolve

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkuman/cypress-code-coverage-v8/log"
)

const testMap = `{
	"version": 3,
	"sources": ["../src/App.tsx", "../src/util.ts"],
	"names": [],
	"mappings": "AAAA;AACA"
}`

func testResolver(t *testing.T) (*Resolver, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(fs, "/build", log.NewNullLogger()), fs
}

func TestResolveWithMap(t *testing.T) {
	t.Parallel()
	r, fs := testResolver(t)
	require.NoError(t, afero.WriteFile(fs, "/build/index.js", []byte("var a = 1;\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/build/index.js.map", []byte(testMap), 0o644))

	src, err := r.Resolve("/build/index.js")
	require.NoError(t, err)
	assert.True(t, src.HasMap())
	assert.Equal(t, "var a = 1;\n", src.Text)
	assert.Equal(t, []string{"/src/App.tsx", "/src/util.ts"}, src.OriginalSources)
}

func TestResolveMissingMapIsRecoverable(t *testing.T) {
	t.Parallel()
	r, fs := testResolver(t)
	require.NoError(t, afero.WriteFile(fs, "/build/index.js", []byte("var a = 1;\n"), 0o644))

	src, err := r.Resolve("/build/index.js")
	require.NoError(t, err)
	assert.False(t, src.HasMap())
	assert.Empty(t, src.OriginalSources)
}

func TestResolveBrokenMapIsRecoverable(t *testing.T) {
	t.Parallel()
	r, fs := testResolver(t)
	require.NoError(t, afero.WriteFile(fs, "/build/index.js", []byte("var a = 1;\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/build/index.js.map", []byte("{not json"), 0o644))

	src, err := r.Resolve("/build/index.js")
	require.NoError(t, err)
	assert.False(t, src.HasMap())
}

func TestResolveMissingFile(t *testing.T) {
	t.Parallel()
	r, _ := testResolver(t)
	_, err := r.Resolve("/build/nope.js")
	require.Error(t, err)
}

func TestAbsSource(t *testing.T) {
	t.Parallel()
	s := &Source{buildDir: "/build"}
	assert.Equal(t, "/src/App.tsx", s.AbsSource("../src/App.tsx"))
	assert.Equal(t, "/abs/file.ts", s.AbsSource("/abs/file.ts"))
}

func TestBuiltPath(t *testing.T) {
	t.Parallel()
	r, _ := testResolver(t)
	assert.Equal(t, "/build/assets/index.js", r.BuiltPath("/assets/index.js"))
}
