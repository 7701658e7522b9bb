package session

import (
	"strings"
)

// ErrorClass represents whether a sync error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the operation should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the operation should not be retried (permanent errors).
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	case ErrorClassUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// ClassifySyncError classifies connection and history errors into retryable
// vs fatal categories.
//
// Fatal errors (non-retryable):
// - Authentication/authorization failures (401/403, invalid or missing token)
// - Malformed configuration (bad URLs)
//
// Retryable errors (transient):
// - Network errors (connection reset, refused, timeouts, DNS failures)
// - Server errors (500, 502, 503, 504)
// - Rate limiting (429)
//
// Unknown errors are treated as retryable so the reconnect loop keeps going.
func ClassifySyncError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}

	lower := strings.ToLower(err.Error())

	// Server errors first so "service unavailable" isn't caught by broader patterns.
	serverPatterns := []string{
		"500", "502", "503", "504",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
	}
	for _, pattern := range serverPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassRetryable
		}
	}

	fatalPatterns := []string{
		"401", "403",
		"unauthorized",
		"access denied",
		"invalid token",
		"missing token",
		"authentication required",
		"malformed ws or wss url",
		"invalid url",
	}
	for _, pattern := range fatalPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}

	networkPatterns := []string{
		"connection reset",
		"connection refused",
		"connection timed out",
		"timeout",
		"temporary failure in name resolution",
		"no route to host",
		"network unreachable",
		"dns",
		"eof",
		"broken pipe",
		"429",
		"too many requests",
		"rate limit",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassRetryable
		}
	}

	// Unknown errors stay retryable to avoid giving up on a live session.
	return ErrorClassRetryable
}

// IsRetryableError checks if an error should leave the reconnect loop running.
func IsRetryableError(err error) bool {
	return ClassifySyncError(err) == ErrorClassRetryable
}

// IsFatalError checks if an error should stop the session.
func IsFatalError(err error) bool {
	return ClassifySyncError(err) == ErrorClassFatal
}
