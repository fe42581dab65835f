// Package capture drives coverage collection across the lifecycle of one spec
// file run: arm before the spec, record around each test, finalize after.
package capture

// Status reports whether a hook completed with full coverage fidelity.
type Status string

const (
	// StatusOK means the hook did everything it set out to do.
	StatusOK Status = "ok"
	// StatusDegraded means the hook completed but some coverage was lost,
	// typically because the browser session was gone. The run continues.
	StatusDegraded Status = "degraded"
)

// Result is the outcome of one hook invocation. Hooks never fail the test
// run; a lost session degrades the report instead.
type Result struct {
	Status Status `json:"status"`
	Detail string `json:"reason,omitempty"`
}

func ok() Result {
	return Result{Status: StatusOK}
}

func degraded(detail string) Result {
	return Result{Status: StatusDegraded, Detail: detail}
}
