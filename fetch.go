package restfetch

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// FetchOutcome is the unresolved result of one network exchange: the raw and
// parsed body, the status and whether the body parsed as the declared content
// type. It carries no verdict; normalizeOutcome turns it into data or *Error.
type FetchOutcome struct {
	Status      int
	StatusText  string
	Header      http.Header
	Body        []byte
	OK          bool
	Parsed      interface{}
	ParseFailed bool
	ParseReason string

	// Response is the raw response with a drained body, retained for the
	// shared hooks and the poll Until predicate.
	Response *http.Response
}

// execute dispatches one descriptor through the reliability layers and the
// middleware-wrapped transport, returning the outcome of the exchange. The
// caller still gates any commit on the descriptor's token.
func (c *Client) execute(desc *RequestDescriptor) (*FetchOutcome, *Error) {
	endpoint := endpointFromURL(desc.URL)
	requestID := c.requestID()
	start := time.Now()

	if c.limiter != nil && !c.limiter.Allow() {
		if c.debugEnabled() && c.debug.LogRequests {
			c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
		}
		c.metrics.RecordRateLimited(endpoint)
		c.metrics.RecordError(ErrorTypeRateLimit, desc.Method, endpoint)
		return nil, &Error{
			Type:    ErrorTypeRateLimit,
			Message: "Failed to fetch: rate limit exceeded",
			Cause:   ErrRateLimited,
		}
	}

	if c.breaker != nil && !c.breaker.Allow() {
		if c.debugEnabled() && c.debug.LogRequests {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint)
		}
		c.metrics.RecordError(ErrorTypeCircuitOpen, desc.Method, endpoint)
		return nil, &Error{
			Type:    ErrorTypeCircuitOpen,
			Message: "Failed to fetch: circuit breaker is open",
			Cause:   ErrCircuitOpen,
		}
	}

	c.metrics.RecordAttemptStart(desc.Method, endpoint)
	defer c.metrics.RecordAttemptEnd(desc.Method, endpoint)

	var out *FetchOutcome
	var fetchErr *Error

	if c.dedup != nil && desc.Method == http.MethodGet && !desc.noDedup {
		// Identical concurrent GETs share one exchange. The owning caller's
		// token drives the shared request; waiters whose own token dies
		// discard the result at their commit gate.
		key := desc.Method + ":" + desc.URL
		v, err, _ := c.dedup.Do(key, func() (interface{}, error) {
			o, e := c.doExchange(desc, endpoint, requestID)
			if e != nil {
				return nil, e
			}
			return o, nil
		})
		if err != nil {
			fetchErr, _ = err.(*Error)
			if fetchErr == nil {
				fetchErr = newTransportError(err)
			}
		} else {
			out = v.(*FetchOutcome)
		}
	} else {
		out, fetchErr = c.doExchange(desc, endpoint, requestID)
	}

	status := 0
	if out != nil {
		status = out.Status
	}
	c.metrics.RecordAttempt(desc.Method, endpoint, status, time.Since(start))

	return out, fetchErr
}

func (c *Client) doExchange(desc *RequestDescriptor, endpoint, requestID string) (*FetchOutcome, *Error) {
	var bodyReader io.Reader
	if desc.Body != nil {
		bodyReader = bytes.NewReader(desc.Body)
	}

	req, err := http.NewRequestWithContext(desc.token.Context(), desc.Method, desc.URL, bodyReader)
	if err != nil {
		c.metrics.RecordError(ErrorTypeTransport, desc.Method, endpoint)
		return nil, newTransportError(err)
	}
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent())
	}

	if c.debugEnabled() && c.debug.LogRequests {
		c.logger.Debug("Starting request", "requestID", requestID, "method", desc.Method, "url", desc.URL, "endpoint", endpoint)
	}
	if c.onRequest != nil {
		c.onRequest(req)
	}

	resp, err := c.transport().RoundTrip(req)
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
			c.metrics.RecordCircuitBreakerState("default", c.breaker.State())
		}
		c.metrics.RecordError(ErrorTypeTransport, desc.Method, endpoint)
		if c.debugEnabled() && c.debug.LogRequests {
			c.logger.Warn("Request failed", "requestID", requestID, "endpoint", endpoint, "error", err.Error())
		}
		return nil, newTransportError(err)
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		c.metrics.RecordError(ErrorTypeTransport, desc.Method, endpoint)
		return nil, newTransportError(readErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if c.onResponse != nil {
		c.onResponse(resp)
	}

	if c.breaker != nil {
		if resp.StatusCode >= 500 {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
		c.metrics.RecordCircuitBreakerState("default", c.breaker.State())
	}

	out := &FetchOutcome{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       body,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Response:   resp,
	}
	parseBody(out)

	if !out.OK {
		c.metrics.RecordError(ErrorTypeHTTP, desc.Method, endpoint)
	} else if out.ParseFailed {
		c.metrics.RecordError(ErrorTypeParse, desc.Method, endpoint)
	}

	return out, nil
}

// parseBody interprets the body as the declared content type: JSON by default,
// plain text for text/* responses. Empty bodies parse to nil (a 304 or 204 is
// a valid "nothing new" signal).
func parseBody(out *FetchOutcome) {
	if len(out.Body) == 0 {
		return
	}

	contentType := out.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/") {
		out.Parsed = string(out.Body)
		return
	}

	var parsed interface{}
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		out.ParseFailed = true
		out.ParseReason = err.Error()
		return
	}
	out.Parsed = parsed
}

// normalizeOutcome turns an exchange outcome into either resolved data or the
// single normalized error shape. A non-2xx status or a parse failure is an
// error carrying the parsed-or-raw body; a resolve failure is its own error
// class even though the transport succeeded.
func normalizeOutcome(out *FetchOutcome, resolve func(interface{}) (interface{}, error)) (interface{}, *Error) {
	if out.ParseFailed || !out.OK {
		data := out.Parsed
		if data == nil {
			data = string(out.Body)
		}
		return nil, newHTTPError(out.Status, out.StatusText, out.ParseReason, data, out.ParseFailed)
	}

	if resolve == nil {
		return out.Parsed, nil
	}
	return safeResolve(resolve, out.Parsed)
}

// safeResolve funnels both error returns and panics from the user transform
// into the resolve error class.
func safeResolve(fn func(interface{}) (interface{}, error), data interface{}) (result interface{}, ferr *Error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			ferr = newResolveError(r, nil)
		}
	}()

	v, err := fn(data)
	if err != nil {
		return nil, newResolveError(err.Error(), err)
	}
	return v, nil
}
