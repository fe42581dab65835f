package cdp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/parkuman/cypress-code-coverage-v8/lib"
	"github.com/parkuman/cypress-code-coverage-v8/log"
	"github.com/parkuman/cypress-code-coverage-v8/tests/cdptest"
)

func testConfig() lib.Config {
	return lib.NewConfig().Apply(lib.Config{
		ConnectDelay:         lib.NullDurationFrom(time.Millisecond),
		ConnectRetryInterval: lib.NullDurationFrom(10 * time.Millisecond),
	})
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, 5*time.Second, 5*time.Millisecond, "manager never reached state %s", want)
}

func TestManagerConnectAndCapture(t *testing.T) {
	server := cdptest.NewServer(t)
	server.SetCoverage(json.RawMessage(`[
		{
			"scriptId": "42",
			"url": "http://localhost:5173/assets/index.js",
			"functions": [
				{
					"functionName": "run",
					"isBlockCoverage": true,
					"ranges": [{"startOffset": 0, "endOffset": 100, "count": 5}]
				}
			]
		}
	]`))

	ctx := context.Background()
	m := NewManager(testConfig(), log.NewNullLogger())
	defer m.Close()

	m.Connect(ctx, server.Port())
	waitForState(t, m, Connected)

	require.NoError(t, m.EnableProfiling(ctx))
	require.NoError(t, m.StartCapture(ctx, true, true))

	report, err := m.StopCapture(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Result, 1)
	assert.Equal(t, "http://localhost:5173/assets/index.js", report.Result[0].URL)
	assert.EqualValues(t, 5, report.Result[0].Functions[0].Ranges[0].Count)

	assert.Equal(t, []string{
		"Profiler.enable",
		"Profiler.startPreciseCoverage",
		"Profiler.takePreciseCoverage",
		"Profiler.stopPreciseCoverage",
	}, server.Commands())
}

func TestManagerNoSessionIsSoftFailure(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testConfig(), log.NewNullLogger())

	// never connected: every capture call reports the missing session so
	// callers can degrade instead of pretending capture started
	require.ErrorIs(t, m.EnableProfiling(ctx), ErrNoSession)
	require.ErrorIs(t, m.StartCapture(ctx, true, true), ErrNoSession)

	report, err := m.StopCapture(ctx)
	require.ErrorIs(t, err, ErrNoSession)
	assert.Nil(t, report)

	snap, err := m.TakeSnapshot(ctx)
	require.ErrorIs(t, err, ErrNoSession)
	assert.Nil(t, snap)
}

func TestManagerRetryLimit(t *testing.T) {
	conf := testConfig().Apply(lib.Config{ConnectRetryLimit: null.IntFrom(3)})
	m := NewManager(conf, log.NewNullLogger())
	defer m.Close()

	// nothing listens on this port
	m.Connect(context.Background(), 1)

	require.Eventually(t, func() bool {
		return m.State() == Disconnected
	}, 5*time.Second, 5*time.Millisecond)

	report, err := m.StopCapture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	server := cdptest.NewServer(t)
	ctx := context.Background()

	m := NewManager(testConfig(), log.NewNullLogger())
	defer m.Close()

	m.Connect(ctx, server.Port())
	waitForState(t, m, Connected)

	// browser goes away; the discovery endpoint stays up, so the manager
	// must re-establish the session on its own
	server.CloseConnections()
	require.Eventually(t, func() bool {
		return server.ActiveConnections() > 0 && m.State() == Connected
	}, 5*time.Second, 5*time.Millisecond, "manager did not reconnect")

	require.NoError(t, m.EnableProfiling(ctx))
}

func TestManagerCloseStopsRetrying(t *testing.T) {
	m := NewManager(testConfig(), log.NewNullLogger())
	m.Connect(context.Background(), 1)
	time.Sleep(20 * time.Millisecond)
	m.Close()

	assert.Equal(t, Disconnected, m.State())
}
