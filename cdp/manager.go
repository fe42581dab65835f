package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/profiler"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
	"github.com/parkuman/cypress-code-coverage-v8/lib"
	"github.com/parkuman/cypress-code-coverage-v8/log"
)

// State is the connection state owned by the Manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Manager owns the process-wide debugger session. The rest of the pipeline
// never touches the raw connection; capture calls made with no session return
// ErrNoSession, which callers treat as "degrade, don't fail" because coverage
// is best-effort and must never fail the test run.
type Manager struct {
	conf   lib.Config
	logger *log.Logger

	mu    sync.RWMutex
	conn  *Connection
	state State

	// wsURL resolves the debugging port to a target websocket URL. Tests
	// override it to point at a fake CDP endpoint.
	wsURL func(ctx context.Context, port int) (string, error)

	// loopActive guards against a reconnect loop (triggered by a disconnect
	// event) racing a duplicate retry loop started by a failed connection
	// attempt: only one connect loop runs at a time.
	loopActive atomic.Bool

	cancel context.CancelFunc
}

// NewManager returns a manager in the Disconnected state.
func NewManager(conf lib.Config, logger *log.Logger) *Manager {
	return &Manager{
		conf:   conf,
		logger: logger,
		wsURL:  discoverTargetWSURL,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connect starts the background connection task for the given debugging
// port. It waits the configured delay so the freshly launched browser can
// finish starting, then retries on a fixed interval until connected, the
// retry limit is reached, or ctx is cancelled. Connect never blocks the
// caller.
func (m *Manager) Connect(ctx context.Context, port int) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		select {
		case <-time.After(m.conf.ConnectDelay.TimeDuration()):
		case <-ctx.Done():
			return
		}
		m.connectLoop(ctx, port, false)
	}()
}

// Close tears down the current session and stops any pending reconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// connectLoop attempts to establish the session. On the reconnect path
// failures are logged for diagnostics only: there is no way to tell "browser
// torn down at suite end" from a transient network blip except by not
// erroring here.
func (m *Manager) connectLoop(ctx context.Context, port int, reconnect bool) {
	if !m.loopActive.CompareAndSwap(false, true) {
		m.logger.Debugf("cov:cdp", "connect loop already running, not starting another")
		return
	}
	defer m.loopActive.Store(false)

	m.mu.Lock()
	m.state = Connecting
	m.mu.Unlock()

	interval := m.conf.ConnectRetryInterval.TimeDuration()
	var attempts int64
	for {
		select {
		case <-ctx.Done():
			m.setDisconnected()
			return
		default:
		}

		attempts++
		err := m.dial(ctx, port)
		if err == nil {
			m.logger.Infof("cov:cdp", "connected to browser debugger on port %d", port)
			return
		}

		if reconnect {
			m.logger.Debugf("cov:cdp", "reconnect attempt %d failed: %v", attempts, err)
		} else {
			m.logger.Infof("cov:cdp", "connection attempt %d failed, retrying in %s: %v", attempts, interval, err)
		}

		if limit := m.conf.ConnectRetryLimit; limit.Valid && attempts >= limit.Int64 {
			m.logger.Warnf("cov:cdp", "giving up connecting to the browser debugger after %d attempts; coverage will not be collected", attempts)
			m.setDisconnected()
			return
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			m.setDisconnected()
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, port int) error {
	wsURL, err := m.wsURL(ctx, port)
	if err != nil {
		return err
	}

	conn, err := NewConnection(ctx, wsURL, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()

	// Disconnect observer: transitions state and kicks off reconnection in
	// the background, never blocking capture callers.
	go func() {
		select {
		case <-conn.Closed():
		case <-ctx.Done():
			return
		}
		m.logger.Debugf("cov:cdp", "debugger session disconnected")
		m.setDisconnected()
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.connectLoop(ctx, port, true)
	}()

	return nil
}

func (m *Manager) setDisconnected() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected
	m.mu.Unlock()
}

// ErrNoSession is returned by capture calls made while no debugger session is
// established. Callers degrade on it rather than failing the test run.
var ErrNoSession = errors.New("no debugger session")

// session returns the current connection, or nil when there is none.
func (m *Manager) session() *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Connected {
		return nil
	}
	return m.conn
}

// EnableProfiling enables the Profiler domain on the current session.
func (m *Manager) EnableProfiling(ctx context.Context) error {
	conn := m.session()
	if conn == nil {
		m.logger.Warnf("cov:cdp", "no debugger session, cannot enable profiling")
		return ErrNoSession
	}
	return profiler.Enable().Do(cdp.WithExecutor(ctx, conn))
}

// StartCapture starts precise coverage collection.
func (m *Manager) StartCapture(ctx context.Context, callCount, detailed bool) error {
	conn := m.session()
	if conn == nil {
		m.logger.Warnf("cov:cdp", "no debugger session, coverage will not be captured for this test")
		return ErrNoSession
	}
	_, err := profiler.StartPreciseCoverage().
		WithCallCount(callCount).
		WithDetailed(detailed).
		Do(cdp.WithExecutor(ctx, conn))
	return err
}

// TakeSnapshot collects coverage accumulated since capture start without
// stopping collection.
func (m *Manager) TakeSnapshot(ctx context.Context) (*coverage.RawReport, error) {
	conn := m.session()
	if conn == nil {
		m.logger.Warnf("cov:cdp", "no debugger session, no coverage snapshot taken")
		return nil, ErrNoSession
	}
	result, _, err := profiler.TakePreciseCoverage().Do(cdp.WithExecutor(ctx, conn))
	if err != nil {
		return nil, err
	}
	return &coverage.RawReport{Result: result}, nil
}

// StopCapture takes a final snapshot and stops precise coverage collection.
// The protocol's stop call returns no data, so the snapshot is taken first.
func (m *Manager) StopCapture(ctx context.Context) (*coverage.RawReport, error) {
	conn := m.session()
	if conn == nil {
		m.logger.Warnf("cov:cdp", "no debugger session, no coverage collected for this test")
		return nil, ErrNoSession
	}

	ectx := cdp.WithExecutor(ctx, conn)
	result, _, err := profiler.TakePreciseCoverage().Do(ectx)
	if err != nil {
		return nil, err
	}
	if err := profiler.StopPreciseCoverage().Do(ectx); err != nil {
		m.logger.Debugf("cov:cdp", "stopping precise coverage: %v", err)
	}
	return &coverage.RawReport{Result: result}, nil
}

// devtoolsTarget is one entry of the DevTools /json/list endpoint.
type devtoolsTarget struct {
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// discoverTargetWSURL asks the browser's DevTools HTTP endpoint for the
// websocket debugger URL of the first page target.
func discoverTargetWSURL(ctx context.Context, port int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://127.0.0.1:%d/json/list", port), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var targets []devtoolsTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", errors.New("no debuggable page target found")
}
