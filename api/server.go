// Package api exposes the lifecycle hooks over a localhost HTTP surface so
// the test runner's plugin can drive capture with plain POST requests.
package api

import (
	"net/http"
	"time"

	"github.com/parkuman/cypress-code-coverage-v8/capture"
	"github.com/parkuman/cypress-code-coverage-v8/log"
)

func newHandler(logger *log.Logger, ctrl *capture.Controller) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/hooks/before", handleHook(logger, beforeHook(ctrl)))
	mux.Handle("/v1/hooks/before-each", handleHook(logger, beforeEachHook(ctrl)))
	mux.Handle("/v1/hooks/after-each", handleHook(logger, afterEachHook(ctrl)))
	mux.Handle("/v1/hooks/after", handleHook(logger, afterHook(ctrl)))
	mux.Handle("/ping", handlePing(logger))
	mux.Handle("/", handlePing(logger))
	return mux
}

// GetServer returns an http.Server serving the hook API on addr. The write
// timeout leaves room for the after hook, which does the conversion work.
func GetServer(addr string, logger *log.Logger, ctrl *capture.Controller) *http.Server {
	mux := withLoggingHandler(logger, newHandler(logger, ctrl))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}
}

type wrappedResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrappedResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withLoggingHandler returns the middleware which logs response status for request.
func withLoggingHandler(logger *log.Logger, next http.Handler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wrapped := &wrappedResponseWriter{ResponseWriter: rw, status: 200} // The default status code is 200 if it's not set
		next.ServeHTTP(wrapped, r)

		logger.Debugf("cov:api", "%s %s %d", r.Method, r.URL.Path, wrapped.status)
	}
}

func handlePing(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Add("Content-Type", "text/plain; charset=utf-8")
		if _, err := rw.Write([]byte("ok")); err != nil {
			logger.Errorf("cov:api", "writing ping response: %v", err)
		}
	})
}
