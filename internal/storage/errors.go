package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies provider failures so callers can decide whether to retry.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAccessDenied
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound matches any *Error of KindNotFound via errors.Is.
	ErrNotFound = errors.New("object not found")
	// ErrAccessDenied matches any *Error of KindAccessDenied via errors.Is.
	ErrAccessDenied = errors.New("object access denied")
)

// Error is returned by every Storage implementation.
// Code carries the provider error code (e.g. "NoSuchKey") when one is available.
type Error struct {
	Op   string
	Key  string
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	code := e.Code
	if code == "" {
		code = "-"
	}
	return fmt.Sprintf("storage %s %q: %s (%s): %v", e.Op, e.Key, e.Kind, code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrAccessDenied:
		return e.Kind == KindAccessDenied
	}
	return false
}

// KindOf returns the Kind of err, or KindUnknown if err is not a *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// CodeOf returns the provider error code carried by err, if any.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func newError(op, key string, kind Kind, code string, err error) *Error {
	return &Error{Op: op, Key: key, Kind: kind, Code: code, Err: err}
}

var (
	notFoundCodes = map[string]bool{
		"NoSuchKey":    true,
		"NoSuchBucket": true,
		"NotFound":     true,
		"NoSuchUpload": true,
	}
	accessDeniedCodes = map[string]bool{
		"AccessDenied":          true,
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"AllAccessDisabled":     true,
		"Forbidden":             true,
		"ExpiredToken":          true,
	}
	transientCodes = map[string]bool{
		"InternalError":              true,
		"ServiceUnavailable":         true,
		"SlowDown":                   true,
		"RequestTimeout":             true,
		"Throttling":                 true,
		"XMinioServerNotInitialized": true,
	}
)

// classify maps a provider error code / HTTP status / transport error to a Kind.
func classify(code string, status int, err error) Kind {
	switch {
	case notFoundCodes[code] || status == http.StatusNotFound:
		return KindNotFound
	case accessDeniedCodes[code] || status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindAccessDenied
	case transientCodes[code] || status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return KindTransient
	}
	if isNetworkError(err) {
		return KindTransient
	}
	return KindUnknown
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation and deadlines are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
