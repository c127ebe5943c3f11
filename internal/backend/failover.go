package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var failoverTracer = otel.Tracer("clinicbooking.internal.backend")

// Attempt records one backend call made by WithFailover.
type Attempt struct {
	Backend  string
	Err      error
	Duration time.Duration
}

// Result is a successful failover run.
type Result[T any] struct {
	Value    T
	Backend  Adapter
	Attempts []Attempt
}

// ExhaustedError is returned when every backend failed.
type ExhaustedError struct {
	Op       string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed on every backend: %s", e.Op, strings.Join(e.Details(), "; "))
}

// Unwrap exposes every attempt error to errors.Is / errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Details renders one "backend: error" line per attempt.
func (e *ExhaustedError) Details() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, fmt.Sprintf("%s: %v", a.Backend, a.Err))
	}
	return out
}

// AllAbsent reports whether every attempt said the record is not on that backend.
func (e *ExhaustedError) AllAbsent() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if !IsAbsent(a.Err) {
			return false
		}
	}
	return true
}

// Observer receives one callback per attempt. Metrics implement it.
type Observer interface {
	ObserveAttempt(op, backend, outcome string, seconds float64)
}

// FailoverOptions tunes WithFailover.
type FailoverOptions struct {
	Op string
	// ShouldTryNext decides whether an error moves on to the next backend.
	// Nil means TryNext.
	ShouldTryNext func(error) bool
	Observer      Observer
}

// WithFailover runs op against each backend in order until one succeeds or an
// error is fatal. Context cancellation is always fatal.
func WithFailover[T any](ctx context.Context, backends []Adapter, opts FailoverOptions, op func(context.Context, Adapter) (T, error)) (Result[T], error) {
	var zero Result[T]
	shouldTryNext := opts.ShouldTryNext
	if shouldTryNext == nil {
		shouldTryNext = TryNext
	}
	opName := opts.Op
	if opName == "" {
		opName = "backend operation"
	}
	if len(backends) == 0 {
		return zero, Configurationf("%s: no backends to try", opName)
	}

	attempts := make([]Attempt, 0, len(backends))
	for _, b := range backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		name := b.Profile().Name
		spanCtx, span := failoverTracer.Start(ctx, opName, trace.WithAttributes(
			attribute.String("backend", name),
			attribute.Int("attempt", len(attempts)+1),
		))
		start := time.Now()
		value, err := op(spanCtx, b)
		elapsed := time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if opts.Observer != nil {
			opts.Observer.ObserveAttempt(opName, name, Outcome(err), elapsed.Seconds())
		}
		attempts = append(attempts, Attempt{Backend: name, Err: err, Duration: elapsed})
		if err == nil {
			return Result[T]{Value: value, Backend: b, Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			return zero, &ExhaustedError{Op: opName, Attempts: attempts}
		}
		if !shouldTryNext(err) {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Op: opName, Attempts: attempts}
}

// Outcome labels an attempt error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBackendIncompatible):
		return "incompatible"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrMissingDuration):
		return "missing_duration"
	default:
		return "error"
	}
}
