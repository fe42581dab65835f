package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/parkuman/cypress-code-coverage-v8/capture"
	"github.com/parkuman/cypress-code-coverage-v8/log"
)

// hookRequest is the body every hook accepts. Only the before hook requires a
// spec; the others run against the spec armed by it.
type hookRequest struct {
	Spec string `json:"spec"`
}

type hookFunc func(r *http.Request, req hookRequest) capture.Result

func beforeHook(ctrl *capture.Controller) hookFunc {
	return func(r *http.Request, req hookRequest) capture.Result {
		return ctrl.BeforeSpec(r.Context(), req.Spec)
	}
}

func beforeEachHook(ctrl *capture.Controller) hookFunc {
	return func(r *http.Request, _ hookRequest) capture.Result {
		return ctrl.BeforeTest(r.Context())
	}
}

func afterEachHook(ctrl *capture.Controller) hookFunc {
	return func(r *http.Request, _ hookRequest) capture.Result {
		return ctrl.AfterTest(r.Context())
	}
}

func afterHook(ctrl *capture.Controller) hookFunc {
	return func(r *http.Request, _ hookRequest) capture.Result {
		return ctrl.AfterSpec(r.Context())
	}
}

// handleHook decodes the request, runs the hook and always answers 200. A
// hook outcome is carried in the body; coverage problems must never fail the
// suite by way of an HTTP error.
func handleHook(logger *log.Logger, hook hookFunc) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Allow", http.MethodPost)
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req hookRequest
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				logger.Debugf("cov:api", "ignoring malformed hook body: %v", err)
			}
		}

		res := hook(r, req)

		rw.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(rw).Encode(res); err != nil {
			logger.Errorf("cov:api", "writing hook response: %v", err)
		}
	})
}
