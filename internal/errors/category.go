package errors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Category classifies an error for retry and propagation decisions.
// The string values are stable: they are emitted in logs and events.
type Category string

const (
	// CategoryTransient covers timeouts, connection failures, 429 and
	// 5xx responses. Recoverable through exponential backoff.
	CategoryTransient Category = "transient"
	// CategoryInput covers validation and type errors. Surfaced to the
	// model on the next turn, never retried.
	CategoryInput Category = "input"
	// CategoryPermission covers 401/403 and permission-denied failures.
	CategoryPermission Category = "permission"
	// CategoryResource covers 404, missing files, and missing modules.
	CategoryResource Category = "resource"
	// CategoryFatal covers OOM kills and open circuit breakers. Aborts
	// the surrounding loop.
	CategoryFatal Category = "fatal"
	// CategoryUnknown is everything else. Treated as fatal once the
	// consecutive-error limit is reached.
	CategoryUnknown Category = "unknown"
)

// Retryable reports whether the category qualifies for backoff retry.
func (c Category) Retryable() bool {
	return c == CategoryTransient
}

// Classify maps an arbitrary error onto the taxonomy. Explicitly tagged
// errors win; otherwise network conditions, HTTP status codes embedded
// in the message, syscall errnos, and message patterns are consulted.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged.Category
	}

	var open *CircuitOpenError
	if errors.As(err, &open) {
		return CategoryFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	if isNetworkError(err) || isTransientSyscall(err) {
		return CategoryTransient
	}

	if code := extractHTTPStatus(err); code > 0 {
		return classifyHTTPStatus(code)
	}

	return classifyMessage(err.Error())
}

func classifyHTTPStatus(code int) Category {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return CategoryTransient
	case http.StatusUnauthorized, http.StatusForbidden:
		return CategoryPermission
	case http.StatusNotFound, http.StatusGone:
		return CategoryResource
	case http.StatusBadRequest,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusUnprocessableEntity:
		return CategoryInput
	default:
		return CategoryUnknown
	}
}

func classifyMessage(msg string) Category {
	lower := strings.ToLower(msg)

	transientPatterns := []string{
		"timeout", "deadline exceeded", "connection refused",
		"connection reset", "broken pipe", "temporarily unavailable",
		"rate limit", "too many requests", "service unavailable",
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return CategoryTransient
		}
	}

	permissionPatterns := []string{
		"permission denied", "unauthorized", "forbidden", "access denied",
	}
	for _, p := range permissionPatterns {
		if strings.Contains(lower, p) {
			return CategoryPermission
		}
	}

	resourcePatterns := []string{
		"not found", "no such file", "no such directory",
		"module missing", "no module named", "does not exist",
	}
	for _, p := range resourcePatterns {
		if strings.Contains(lower, p) {
			return CategoryResource
		}
	}

	inputPatterns := []string{
		"validation", "invalid", "bad request", "type error",
		"missing required", "unknown parameter", "malformed",
	}
	for _, p := range inputPatterns {
		if strings.Contains(lower, p) {
			return CategoryInput
		}
	}

	fatalPatterns := []string{
		"out of memory", "oom", "killed", "circuit breaker open",
	}
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return CategoryFatal
		}
	}

	return CategoryUnknown
}

func isNetworkError(err error) bool {
	// OpError covers refused and reset connections, which never report
	// Timeout(), so the concrete types go before the net.Error check.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isTransientSyscall(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

// extractHTTPStatus pulls a status code out of error text produced by
// provider clients, e.g. "API error 429: ..." or "status 503".
func extractHTTPStatus(err error) int {
	lower := strings.ToLower(err.Error())
	codes := []int{429, 503, 502, 504, 500, 404, 403, 401, 400, 409, 410, 422}
	for _, code := range codes {
		needle := intToStatusText(code)
		if strings.Contains(lower, "status "+needle) ||
			strings.Contains(lower, "error "+needle) ||
			strings.Contains(lower, " "+needle+":") ||
			strings.Contains(lower, "http "+needle) {
			return code
		}
	}
	return 0
}

func intToStatusText(code int) string {
	const digits = "0123456789"
	return string([]byte{
		digits[code/100],
		digits[code/10%10],
		digits[code%10],
	})
}
