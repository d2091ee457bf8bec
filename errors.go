package restfetch

import (
	"errors"
	"fmt"
)

// Error type discriminators. Every failure funnels into *Error so callers
// handle exactly one shape regardless of where the attempt broke down.
const (
	// ErrorTypeTransport marks a network-level failure (DNS, refused connection,
	// aborted transport) where no HTTP response was obtained.
	ErrorTypeTransport = "Transport"
	// ErrorTypeHTTP marks a non-2xx HTTP response.
	ErrorTypeHTTP = "HttpStatus"
	// ErrorTypeParse marks a response body that did not parse as the declared
	// content type. May co-occur with a 2xx status and is an error regardless.
	ErrorTypeParse = "Parse"
	// ErrorTypeResolve marks a user resolve function that returned an error or panicked.
	ErrorTypeResolve = "Resolve"
	// ErrorTypeRateLimit marks an attempt denied by the client-side rate limiter.
	ErrorTypeRateLimit = "RateLimit"
	// ErrorTypeCircuitOpen marks an attempt denied by an open circuit breaker.
	ErrorTypeCircuitOpen = "CircuitOpen"
	// ErrorTypeValidation marks invalid client configuration.
	ErrorTypeValidation = "Validation"
)

// ResolveErrorMessage is the fixed message carried by resolve failures,
// distinguishing them from HTTP errors even though the transport succeeded.
const ResolveErrorMessage = "RESOLVE_ERROR"

// Sentinel errors for common failure scenarios
var (
	// ErrClosed is returned when an operation is invoked on a closed session.
	ErrClosed = errors.New("restfetch: session closed")

	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("restfetch: circuit open")

	// ErrRateLimited is returned when an attempt is denied due to rate limiting.
	ErrRateLimited = errors.New("restfetch: rate limited")
)

// Error is the normalized error shape produced by every failure path of an
// attempt: transport failure, non-2xx status, body-parse failure and resolve
// failure all surface as *Error.
type Error struct {
	Type    string
	Message string
	Data    interface{}
	Status  int
	Cause   error
}

// Error implements the error interface. The message alone identifies the
// failure ("Failed to fetch: ..." or "RESOLVE_ERROR"); structured context
// lives in the exported fields.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Type == targetErr.Type
	}
	switch target {
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Status > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.Status)
	}
	if e.Data != nil {
		info += fmt.Sprintf("Data: %v\n", e.Data)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient determines if an error represents a transient failure that might
// succeed on a later attempt. Long-polling already treats every error as
// transient; this classifier is for callers deciding whether to retry one-shot
// fetches and mutations.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		switch fetchErr.Type {
		case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeHTTP:
			return fetchErr.Status == 429 || fetchErr.Status >= 500
		default:
			return false
		}
	}

	return false
}

// newTransportError builds the normalized error for a failed network exchange.
func newTransportError(cause error) *Error {
	return &Error{
		Type:    ErrorTypeTransport,
		Message: fmt.Sprintf("Failed to fetch: %v", cause),
		Cause:   cause,
	}
}

// newHTTPError builds the normalized error for a non-2xx response or an
// unparsable body. data carries the parsed (or raw) response body.
func newHTTPError(status int, statusText, parseReason string, data interface{}, parseFailed bool) *Error {
	msg := fmt.Sprintf("Failed to fetch: %d %s", status, statusText)
	if parseFailed && parseReason != "" {
		msg += " - " + parseReason
	}
	errType := ErrorTypeHTTP
	if parseFailed && status >= 200 && status < 300 {
		errType = ErrorTypeParse
	}
	return &Error{
		Type:    errType,
		Message: msg,
		Data:    data,
		Status:  status,
	}
}

// newResolveError builds the normalized error for a failed resolve function.
func newResolveError(reason interface{}, cause error) *Error {
	return &Error{
		Type:    ErrorTypeResolve,
		Message: ResolveErrorMessage,
		Data:    fmt.Sprint(reason),
		Cause:   cause,
	}
}
