package restfetch

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequestDescriptor is one concrete attempt: method, absolute URL, merged
// headers, serialized body and the owning cancellation token. Built fresh per
// attempt and never mutated after dispatch.
type RequestDescriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	token *CancelToken
	// noDedup exempts the exchange from GET coalescing.
	noDedup bool
}

// requestSpec gathers the configuration layers of one attempt before they are
// flattened into a RequestDescriptor. Layer precedence, low to high:
// provider (Client) < instance < call-time < retry-time.
type requestSpec struct {
	method string
	path   string

	queryParams map[string]interface{}
	callQuery   map[string]interface{}
	queryOpts   *QueryOptions

	instanceOptions     RequestOptions
	instanceOptionsFunc RequestOptionsFunc
	callOptions         RequestOptions
	retryHeaders        map[string]string

	body interface{}
	// deleteID, when set on a DELETE, is appended as a final path segment
	// instead of being serialized as a body.
	deleteID string

	noDedup bool
}

// buildDescriptor flattens the provider scope plus the spec's layers into one
// descriptor. Computed request options are re-evaluated here on every call.
func (c *Client) buildDescriptor(spec *requestSpec, token *CancelToken) (*RequestDescriptor, *Error) {
	body, rawString, err := serializeBody(spec.body)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeValidation,
			Message: fmt.Sprintf("Failed to fetch: %v", err),
			Cause:   err,
		}
	}

	path := spec.path
	if spec.method == http.MethodDelete && spec.deleteID != "" {
		path = ComposePath(path, spec.deleteID)
		body = nil
		rawString = false
	}

	composed := ComposeURL(c.base, c.parentPath, path)

	merged := MergeQueryParams(c.queryParams, spec.queryParams, spec.callQuery)
	opts := c.queryOpts
	if spec.queryOpts != nil {
		opts = *spec.queryOpts
	}
	composed = appendQuery(composed, EncodeQuery(merged, opts))

	headers := map[string]string{}
	mergeHeaders(headers, c.requestOptions.Headers)
	if c.requestOptionsFunc != nil {
		mergeHeaders(headers, c.requestOptionsFunc(composed, spec.method, body).Headers)
	}
	mergeHeaders(headers, spec.instanceOptions.Headers)
	if spec.instanceOptionsFunc != nil {
		mergeHeaders(headers, spec.instanceOptionsFunc(composed, spec.method, body).Headers)
	}
	mergeHeaders(headers, spec.callOptions.Headers)
	mergeHeaders(headers, spec.retryHeaders)

	if body != nil {
		if _, ok := headers["Content-Type"]; !ok {
			if rawString {
				headers["Content-Type"] = "text/plain"
			} else {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	return &RequestDescriptor{
		Method:  spec.method,
		URL:     composed,
		Headers: headers,
		Body:    body,
		token:   token,
		noDedup: spec.noDedup,
	}, nil
}

// serializeBody renders the attempt body: raw for strings and byte slices,
// JSON for structured values, absent for nil.
func serializeBody(body interface{}) (data []byte, rawString bool, err error) {
	switch v := body.(type) {
	case nil:
		return nil, false, nil
	case string:
		return []byte(v), true, nil
	case []byte:
		return v, true, nil
	default:
		data, err = json.Marshal(v)
		return data, false, err
	}
}

// mergeHeaders overlays src onto dst with canonicalized keys so later layers
// win regardless of casing.
func mergeHeaders(dst map[string]string, src map[string]string) {
	for k, v := range src {
		dst[http.CanonicalHeaderKey(k)] = v
	}
}
