package domain

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound indicates the server holds no progress for the key yet
	ErrNotFound = errors.New("no remote progress")

	// ErrServerOffline indicates the media server is unreachable
	ErrServerOffline = errors.New("media server is unreachable")

	// ErrAuthFailed indicates authentication failed
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrMalformedResponse indicates the server replied with an unexpected body
	ErrMalformedResponse = errors.New("malformed server response")

	// ErrCircuitOpen indicates calls are being short-circuited after repeated failures
	ErrCircuitOpen = errors.New("server circuit is open")

	// ErrOffline indicates no gateway is configured
	ErrOffline = errors.New("sync is offline")

	// ErrInvalidKey indicates a progress key without an item id
	ErrInvalidKey = errors.New("invalid progress key")

	// ErrNotDownloaded indicates the item has no local files
	ErrNotDownloaded = errors.New("item is not downloaded")
)

// ErrorKind buckets errors for the log-and-continue policy.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindTransient
	ErrorKindNotFound
	ErrorKindMalformed
	ErrorKindAuth
	ErrorKindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindTransient:
		return "transient"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindMalformed:
		return "malformed"
	case ErrorKindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify maps an error from a remote call to its kind. Malformed responses
// are retried on the next cycle like transient failures, but keep their own
// kind so they show up separately in logs and metrics.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrMalformedResponse):
		return ErrorKindMalformed
	case errors.Is(err, ErrAuthFailed):
		return ErrorKindAuth
	case errors.Is(err, ErrServerOffline),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrOffline),
		errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}
	return ErrorKindUnknown
}

// IsRetryable reports whether the next scheduled cycle may succeed.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorKindTransient, ErrorKindMalformed:
		return true
	default:
		return false
	}
}
