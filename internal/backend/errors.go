package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrConfiguration means a branch or professional cannot be mapped to a backend.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation means required input is missing or malformed.
	ErrValidation = errors.New("validation error")
	// ErrNotFound means the record does not exist on the backend that was asked.
	ErrNotFound = errors.New("not found")
	// ErrBackendIncompatible means the request was addressed to the wrong backend.
	ErrBackendIncompatible = errors.New("backend incompatible")
	// ErrTransient covers network errors, timeouts and 5xx responses.
	ErrTransient = errors.New("transient backend failure")
	// ErrMissingDuration means no appointment duration could be resolved.
	ErrMissingDuration = errors.New("appointment duration unknown")
	// ErrDuplicate means the backend reports the record already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrRejected is an unexpected 4xx answer. It is final and never failed over.
	ErrRejected = errors.New("request rejected by backend")
)

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Backend    string
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Backend, e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// NewStatusError classifies an HTTP status into the error taxonomy.
func NewStatusError(backendName, op string, status int, body string) *StatusError {
	return &StatusError{
		Backend:    backendName,
		Op:         op,
		StatusCode: status,
		Body:       Truncate(body, maxErrorBody),
		kind:       ClassifyStatus(status, body),
	}
}

const maxErrorBody = 300

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ClassifyStatus maps a backend status code onto a sentinel error.
func ClassifyStatus(status int, body string) error {
	switch {
	case status == http.StatusBadRequest && mentionsDuplicate(body):
		return ErrDuplicate
	case status == http.StatusBadRequest:
		return ErrBackendIncompatible
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}

func mentionsDuplicate(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "existe") || strings.Contains(lower, "already exist")
}

// Validationf builds an ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Configurationf builds an ErrConfiguration with a message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsAbsent reports whether err only says "not on this backend".
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackendIncompatible)
}

// TryNext is the default failover predicate.
func TryNext(err error) bool {
	return errors.Is(err, ErrBackendIncompatible) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrNotFound)
}
