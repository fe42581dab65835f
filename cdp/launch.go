package cdp

import (
	"errors"
	"strconv"
	"strings"
)

const debugPortFlag = "--remote-debugging-port"

// ErrNoDebugPort means the browser was launched without a remote debugging
// port, so no coverage can be collected for this run. This is fatal to
// coverage only, never to the test run.
var ErrNoDebugPort = errors.New("browser launch arguments carry no " + debugPortFlag)

// ParseDebugPort extracts the remote debugging port from browser launch
// arguments, accepting both the "--flag=value" and "--flag value" forms.
func ParseDebugPort(args []string) (int, error) {
	for i, arg := range args {
		switch {
		case strings.HasPrefix(arg, debugPortFlag+"="):
			return parsePort(strings.TrimPrefix(arg, debugPortFlag+"="))
		case arg == debugPortFlag && i+1 < len(args):
			return parsePort(args[i+1])
		}
	}
	return 0, ErrNoDebugPort
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.New("invalid " + debugPortFlag + " value " + strconv.Quote(s))
	}
	return port, nil
}
