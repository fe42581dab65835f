package cdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDebugPort(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		port int
		err  bool
	}{
		{
			name: "equals form",
			args: []string{"--headless", "--remote-debugging-port=9222"},
			port: 9222,
		},
		{
			name: "separate argument form",
			args: []string{"--remote-debugging-port", "40123", "--no-sandbox"},
			port: 40123,
		},
		{
			name: "missing",
			args: []string{"--headless", "--disable-gpu"},
			err:  true,
		},
		{
			name: "empty args",
			args: nil,
			err:  true,
		},
		{
			name: "not a number",
			args: []string{"--remote-debugging-port=oops"},
			err:  true,
		},
		{
			name: "out of range",
			args: []string{"--remote-debugging-port=70000"},
			err:  true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			port, err := ParseDebugPort(tc.args)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.port, port)
		})
	}
}

func TestParseDebugPortMissingIsErrNoDebugPort(t *testing.T) {
	_, err := ParseDebugPort([]string{"--headless"})
	assert.ErrorIs(t, err, ErrNoDebugPort)
}
