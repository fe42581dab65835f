// Package cdptest provides a test alternative to a real CDP-compatible
// browser: an HTTP server exposing the DevTools /json/list discovery
// endpoint and a websocket page target that answers Profiler-domain
// commands.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type message struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Server is a fake browser debugging endpoint.
type Server struct {
	t          testing.TB
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server

	mu       sync.Mutex
	coverage json.RawMessage // result array for Profiler.takePreciseCoverage
	conns    []*websocket.Conn
	commands []string
}

// NewServer returns a fully configured and running fake CDP server.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{t: t, coverage: json.RawMessage(`[]`)}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.handleList)
	mux.HandleFunc("/devtools/page/1", s.handlePage)
	s.Mux = mux
	s.ServerHTTP = httptest.NewServer(mux)

	t.Cleanup(func() {
		s.CloseConnections()
		s.ServerHTTP.Close()
	})
	return s
}

// Port returns the TCP port the fake browser listens on.
func (s *Server) Port() int {
	u, err := url.Parse(s.ServerHTTP.URL)
	require.NoError(s.t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(s.t, err)
	return port
}

// SetCoverage sets the script coverage array returned by
// Profiler.takePreciseCoverage.
func (s *Server) SetCoverage(result json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coverage = result
}

// Commands returns the CDP methods received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// ActiveConnections returns the number of websocket connections accepted
// since the last CloseConnections call.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseConnections drops all active websocket connections, simulating the
// browser going away.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *Server) handleList(w http.ResponseWriter, req *http.Request) {
	wsURL := fmt.Sprintf("ws://%s/devtools/page/1", req.Host)
	targets := []map[string]string{
		{
			"type":                 "page",
			"url":                  "http://localhost:5173/",
			"webSocketDebuggerUrl": wsURL,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(targets)
}

func (s *Server) handlePage(w http.ResponseWriter, req *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, req, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, msg.Method)
		cov := s.coverage
		s.mu.Unlock()

		var result json.RawMessage
		switch msg.Method {
		case "Profiler.takePreciseCoverage":
			result = json.RawMessage(fmt.Sprintf(`{"result":%s,"timestamp":1}`, cov))
		case "Profiler.startPreciseCoverage":
			result = json.RawMessage(`{"timestamp":1}`)
		default:
			result = json.RawMessage(`{}`)
		}
		if err := conn.WriteJSON(reply{ID: msg.ID, Result: result}); err != nil {
			return
		}
	}
}
