package lib

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestConfigDefaults(t *testing.T) {
	conf := NewConfig()
	assert.Equal(t, "coverage", conf.CoverageDir.String)
	assert.Equal(t, time.Second, conf.ConnectRetryInterval.TimeDuration())
	assert.Equal(t, 5*time.Minute, conf.FinalizeTimeout.TimeDuration())
	assert.False(t, conf.Enabled.Bool)
	assert.False(t, conf.ConnectRetryLimit.Valid, "retry should be unbounded by default")
}

func TestConfigApply(t *testing.T) {
	conf := NewConfig().Apply(Config{
		Enabled:     null.BoolFrom(true),
		CoverageDir: null.StringFrom("/tmp/cov"),
		BaseURLs:    []string{"http://localhost:5173/"},
		DebugPort:   null.IntFrom(9222),
	})
	assert.True(t, conf.Enabled.Bool)
	assert.Equal(t, "/tmp/cov", conf.CoverageDir.String)
	assert.Equal(t, []string{"http://localhost:5173/"}, conf.BaseURLs)
	assert.EqualValues(t, 9222, conf.DebugPort.Int64)
	// untouched defaults survive
	assert.Equal(t, []string{"**"}, conf.IncludeV8Patterns)
}

func TestGetConsolidatedConfigJSON(t *testing.T) {
	raw := []byte(`{
		"enabled": true,
		"coverageDir": "/work/coverage",
		"baseUrls": ["http://localhost:5173/"],
		"srcDir": "/work/src",
		"buildDir": "/work/dist",
		"connectRetryInterval": "250ms",
		"connectRetryLimit": 10
	}`)
	conf, err := GetConsolidatedConfig(raw)
	require.NoError(t, err)

	assert.True(t, conf.Enabled.Bool)
	assert.Equal(t, "/work/coverage", conf.CoverageDir.String)
	assert.Equal(t, 250*time.Millisecond, conf.ConnectRetryInterval.TimeDuration())
	assert.EqualValues(t, 10, conf.ConnectRetryLimit.Int64)
}

func TestGetConsolidatedConfigEnv(t *testing.T) {
	t.Setenv("CYCOV_ENABLED", "true")
	t.Setenv("CYCOV_COVERAGE_DIR", "/env/coverage")
	t.Setenv("CYCOV_CONNECT_DELAY", "50ms")

	conf, err := GetConsolidatedConfig(nil)
	require.NoError(t, err)
	assert.True(t, conf.Enabled.Bool)
	assert.Equal(t, "/env/coverage", conf.CoverageDir.String)
	assert.Equal(t, 50*time.Millisecond, conf.ConnectDelay.TimeDuration())
}

func TestConfigValidateWarnings(t *testing.T) {
	fs := afero.NewMemMapFs()

	conf := NewConfig().Apply(Config{
		CoverageDir: null.StringFrom("/cov"),
		SrcDir:      null.StringFrom("relative/src"),
		Include:     []string{"[invalid"},
	})
	warnings := conf.Validate(fs)

	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "invalid glob pattern")
	assert.Contains(t, warnings[1], "not absolute")
}

func TestNullDurationJSON(t *testing.T) {
	var d NullDuration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.TimeDuration())

	require.NoError(t, d.UnmarshalJSON([]byte(`500`)))
	assert.Equal(t, 500*time.Millisecond, d.TimeDuration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.False(t, d.Valid)
}
