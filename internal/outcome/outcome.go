// Package outcome carries the result of a pipeline stage that degrades
// instead of failing. A stage always yields a usable value; Reason records
// whether that value is the real output or a fallback, and why.
package outcome

import "fmt"

// Reason classifies how a stage produced its value.
type Reason int

const (
	// ReasonNone means the stage ran and produced real output.
	ReasonNone Reason = iota

	// ReasonSkipped means the stage was intentionally not run
	// (e.g. translation for an English target).
	ReasonSkipped

	// ReasonNotConfigured means credentials for the backing service are absent.
	ReasonNotConfigured

	// ReasonEmptyInput means there was nothing to process.
	ReasonEmptyInput

	// ReasonTransport means the service could not be reached or rejected the call.
	ReasonTransport

	// ReasonMalformed means the service answered with an unusable payload.
	ReasonMalformed

	// ReasonEmptyResult means the service answered with nothing.
	ReasonEmptyResult
)

// String returns a stable, lower-case label suitable for logs and metrics.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSkipped:
		return "skipped"
	case ReasonNotConfigured:
		return "not_configured"
	case ReasonEmptyInput:
		return "empty_input"
	case ReasonTransport:
		return "transport"
	case ReasonMalformed:
		return "malformed"
	case ReasonEmptyResult:
		return "empty_result"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Outcome is a stage value plus the reason it was produced.
type Outcome[T any] struct {
	// Value is always usable: the real output, or the stage's fallback.
	Value T

	// Reason is ReasonNone on success.
	Reason Reason

	// Err is the underlying failure, if any. Nil for ReasonNone, ReasonSkipped,
	// ReasonNotConfigured and ReasonEmptyInput.
	Err error
}

// OK wraps a successful stage value.
func OK[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Skipped wraps a pass-through value for a stage that was not run.
func Skipped[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Reason: ReasonSkipped}
}

// Fallback wraps a degraded value with the reason and optional cause.
func Fallback[T any](v T, r Reason, err error) Outcome[T] {
	return Outcome[T]{Value: v, Reason: r, Err: err}
}

// Degraded reports whether the value is a fallback rather than real output.
func (o Outcome[T]) Degraded() bool {
	return o.Reason != ReasonNone && o.Reason != ReasonSkipped
}
