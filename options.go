package restfetch

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// WithBase sets the composition root for the scope. An explicit base override
// discards any inherited parent path.
func WithBase(base string) Option {
	return func(c *Client) {
		c.base = base
		c.parentPath = ""
	}
}

// WithPath extends the scope's parent path using the absolute-vs-relative
// composition rules.
func WithPath(path string) Option {
	return func(c *Client) {
		c.parentPath = ComposePath(c.parentPath, path)
	}
}

// WithQueryParams merges provider-level query parameters into the scope; keys
// set here override inherited keys and are themselves overridden by call-level
// parameters.
func WithQueryParams(params map[string]interface{}) Option {
	return func(c *Client) {
		c.queryParams = MergeQueryParams(c.queryParams, params)
	}
}

// WithQueryOptions sets the query-string serialization style.
func WithQueryOptions(opts QueryOptions) Option {
	return func(c *Client) {
		c.queryOpts = opts
	}
}

// WithRequestOptions sets static provider-level request options.
func WithRequestOptions(opts RequestOptions) Option {
	return func(c *Client) {
		c.requestOptions = opts
	}
}

// WithRequestOptionsFunc sets computed provider-level request options,
// re-evaluated on every attempt.
func WithRequestOptionsFunc(fn RequestOptionsFunc) Option {
	return func(c *Client) {
		c.requestOptionsFunc = fn
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMiddleware adds middleware to the transport chain.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithOnError registers the shared error collaborator invoked after each
// failed attempt (unless the session opted into LocalErrorOnly).
func WithOnError(hook ErrorHook) Option {
	return func(c *Client) {
		c.onError = hook
	}
}

// WithOnRequest registers a fire-and-forget observer of outgoing requests.
func WithOnRequest(hook RequestHook) Option {
	return func(c *Client) {
		c.onRequest = hook
	}
}

// WithOnResponse registers a fire-and-forget observer of responses.
func WithOnResponse(hook ResponseHook) Option {
	return func(c *Client) {
		c.onResponse = hook
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithCircuitBreaker guards every attempt with a circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breaker = NewCircuitBreaker(config)
	}
}

// WithRateLimiter caps the attempt rate across all sessions of the scope.
func WithRateLimiter(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithDeduplication merges identical concurrent GET exchanges into a single
// network round trip shared by all waiting sessions.
func WithDeduplication() Option {
	return func(c *Client) {
		c.dedup = &singleflight.Group{}
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error listing every problem found.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateBaseConfig()...)
	problems = append(problems, c.validateHTTPClientConfig()...)
	problems = append(problems, c.validateDebugConfig()...)
	problems = append(problems, c.validateQueryConfig()...)
	problems = append(problems, c.validateRateLimiterConfig()...)
	problems = append(problems, c.validateMiddlewareConfig()...)

	if len(problems) > 0 {
		return &Error{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}

	return nil
}

func (c *Client) validateBaseConfig() []string {
	var problems []string

	if c.base != "" {
		u, err := url.Parse(c.base)
		if err != nil {
			problems = append(problems, fmt.Sprintf("base is not a valid URL: %v", err))
		} else if u.Scheme == "" || u.Host == "" {
			problems = append(problems, "base must be absolute (scheme and host)")
		}
	}

	return problems
}

func (c *Client) validateHTTPClientConfig() []string {
	var problems []string

	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	}

	return problems
}

func (c *Client) validateDebugConfig() []string {
	var problems []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			problems = append(problems, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			problems = append(problems, "logger must be set when debug is enabled")
		}
	}

	return problems
}

func (c *Client) validateQueryConfig() []string {
	var problems []string

	if c.queryOpts.Format == ArrayDelimiter && c.queryOpts.Delimiter == "" {
		problems = append(problems, "query Delimiter must be set when Format is ArrayDelimiter")
	}

	return problems
}

func (c *Client) validateRateLimiterConfig() []string {
	var problems []string

	if c.limiter != nil {
		if c.limiter.Limit() <= 0 {
			problems = append(problems, "rate limiter limit must be positive")
		}
		if c.limiter.Burst() <= 0 {
			problems = append(problems, "rate limiter burst must be positive")
		}
	}

	return problems
}

func (c *Client) validateMiddlewareConfig() []string {
	var problems []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return problems
}
