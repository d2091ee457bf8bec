package restfetch

import (
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Client is the outermost configuration scope of the engine: it owns the base
// URL, the accumulated parent path, provider-level query parameters and
// request options, shared collaborators (onError / onRequest / onResponse),
// transport middleware and the optional reliability layers. Sessions
// (Fetcher, Mutator, Poller) are created from a Client or any derived scope.
// A Client is immutable after construction and safe for concurrent use.
type Client struct {
	httpClient *http.Client

	base        string
	parentPath  string
	queryParams map[string]interface{}
	queryOpts   QueryOptions

	requestOptions     RequestOptions
	requestOptionsFunc RequestOptionsFunc

	middleware []Middleware

	onError    ErrorHook
	onRequest  RequestHook
	onResponse ResponseHook

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector

	breaker *CircuitBreaker
	limiter *rate.Limiter
	dedup   *singleflight.Group

	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		debug: DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Scope derives a nested configuration scope: the child inherits every setting
// of the parent, then applies the given options on top. Setting a new base in
// a scope discards the inherited parent path (a new composition root); query
// parameters merge with child keys winning.
func (c *Client) Scope(options ...Option) *Client {
	child := c.clone()
	for _, option := range options {
		option(child)
	}

	if err := child.ValidateConfiguration(); err != nil {
		child.validationError = err
	}

	return child
}

// Sub derives a scope whose parent path is extended by path, using the
// absolute-vs-relative composition rules of ComposePath.
func (c *Client) Sub(path string) *Client {
	return c.Scope(WithPath(path))
}

func (c *Client) clone() *Client {
	child := *c

	if c.queryParams != nil {
		child.queryParams = make(map[string]interface{}, len(c.queryParams))
		for k, v := range c.queryParams {
			child.queryParams[k] = v
		}
	}
	if c.middleware != nil {
		child.middleware = append([]Middleware(nil), c.middleware...)
	}

	return &child
}

// URL resolves a path against this scope's base and accumulated parent path.
func (c *Client) URL(path string) string {
	return ComposeURL(c.base, c.parentPath, path)
}

// Base returns the scope's composition root.
func (c *Client) Base() string {
	return c.base
}

// ParentPath returns the scope's accumulated parent path.
func (c *Client) ParentPath() string {
	return c.parentPath
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func (c *Client) transport() RoundTripper {
	if len(c.middleware) == 0 {
		return RoundTripperFunc(c.httpClient.Do)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current
}
