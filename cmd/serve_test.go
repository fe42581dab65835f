package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/guregu/null.v3"

	"github.com/parkuman/cypress-code-coverage-v8/lib"
)

func TestResolveDebugPort(t *testing.T) {
	t.Parallel()

	conf := lib.NewConfig()
	conf.BrowserArgs = []string{"--headless", "--remote-debugging-port=9222"}

	t.Run("flag wins", func(t *testing.T) {
		assert.Equal(t, 9333, resolveDebugPort(testRoot(), conf, 9333))
	})

	t.Run("config overrides launch args", func(t *testing.T) {
		c := conf
		c.DebugPort = null.IntFrom(9444)
		assert.Equal(t, 9444, resolveDebugPort(testRoot(), c, 0))
	})

	t.Run("recovered from launch args", func(t *testing.T) {
		assert.Equal(t, 9222, resolveDebugPort(testRoot(), conf, 0))
	})

	t.Run("separate-argument form", func(t *testing.T) {
		c := lib.NewConfig()
		c.BrowserArgs = []string{"--remote-debugging-port", "9555"}
		assert.Equal(t, 9555, resolveDebugPort(testRoot(), c, 0))
	})

	t.Run("launch args without the port flag", func(t *testing.T) {
		c := lib.NewConfig()
		c.BrowserArgs = []string{"--headless", "--disable-gpu"}
		assert.Equal(t, 0, resolveDebugPort(testRoot(), c, 0))
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.Equal(t, 0, resolveDebugPort(testRoot(), lib.NewConfig(), 0))
	})
}
