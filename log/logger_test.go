package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCategory(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	l := New(log, false, nil)
	l.Debugf("cov:cdp", "connected to %s", "ws://127.0.0.1:1234")

	assert.Contains(t, buf.String(), "cov:cdp")
	assert.Contains(t, buf.String(), "ws://127.0.0.1:1234")
}

func TestLoggerCategoryFilter(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	l := New(log, false, nil)
	require.NoError(t, l.SetCategoryFilter("cov:convert.*"))

	l.Debugf("cov:cdp", "should be filtered out")
	assert.Empty(t, buf.String())

	l.Debugf("cov:convert", "should pass")
	assert.Contains(t, buf.String(), "should pass")
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.WarnLevel)

	l := New(log, false, nil)
	l.Debugf("cov:store", "not at this level")
	assert.Empty(t, buf.String())

	l.Warnf("cov:store", "coverage dir is not writable")
	assert.Contains(t, buf.String(), "not writable")
}

func TestNullLoggerDiscards(t *testing.T) {
	l := NewNullLogger()
	// must not panic and must not write anywhere
	l.Errorf("cov:cdp", "dropped")
	assert.False(t, l.DebugMode())
}
