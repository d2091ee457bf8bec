package restfetch

import (
	"net/http"
)

// Middleware represents a middleware function wrapped around the transport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RequestOptions carries per-layer request customization. Headers merge
// shallowly across layers: provider < instance < call-time < retry-time,
// later layers winning per key.
type RequestOptions struct {
	Headers map[string]string
}

// RequestOptionsFunc computes request options lazily per attempt. It receives
// the resolved URL, the HTTP method and the serialized body, and is re-evaluated
// on every attempt, never cached.
type RequestOptionsFunc func(url, method string, body []byte) RequestOptions

// ResolveFunc transforms a successful response body before it is committed as
// session data. Returning an error (or panicking) converts the attempt into a
// resolve failure rather than a success.
type ResolveFunc func(data interface{}) (interface{}, error)

// PollResolveFunc is the polling variant of ResolveFunc; it additionally
// receives the previously resolved value so incremental responses can be folded
// into accumulated state.
type PollResolveFunc func(data, previous interface{}) (interface{}, error)

// RetryFunc re-issues the attempt that produced an error and resolves or fails
// exactly like the original call. Handed to the shared OnError collaborator.
type RetryFunc func() (interface{}, error)

// ErrorHook is the shared onError collaborator. It is invoked at most once per
// failed attempt, after local state has been committed, unless the session
// opted into LocalErrorOnly. resp is the raw response when one was obtained
// (body already drained); nil for transport-level failures.
type ErrorHook func(err *Error, retry RetryFunc, resp *http.Response)

// RequestHook observes each outgoing request. Fire-and-forget: it must not
// block and cannot alter the attempt.
type RequestHook func(req *http.Request)

// ResponseHook observes each response. The body has already been drained;
// read outcome data from session state instead.
type ResponseHook func(resp *http.Response)

// State is the observable lifecycle state of a Fetcher or Mutator session.
// Err and fresh Data are mutually exclusive outcomes of the same attempt, but
// stale Data from a prior success is preserved across a Loading transition
// until the new attempt settles.
type State struct {
	Data    interface{}
	Loading bool
	Err     *Error
}

// Mock bypasses the network entirely, substituting a fixed outcome. Intended
// for tests of code built on top of the engine.
type Mock struct {
	Data    interface{}
	Err     *Error
	Loading bool
}

// Option represents a configuration option applied to a Client or scope.
type Option func(*Client)
