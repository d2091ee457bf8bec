package restfetch

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
)

// FetcherConfig is the per-session configuration of a GET-style lifecycle.
// It is immutable per invocation; Reconfigure replaces it wholesale.
type FetcherConfig struct {
	Path         string
	QueryParams  map[string]interface{}
	QueryOptions *QueryOptions

	RequestOptions     RequestOptions
	RequestOptionsFunc RequestOptionsFunc

	Resolve ResolveFunc

	// Lazy suppresses the automatic attempt on Start.
	Lazy bool
	// Debounce coalesces rapid triggers (reconfigurations) into one attempt.
	Debounce *DebounceOptions
	// LocalErrorOnly suppresses propagation to the shared OnError collaborator.
	LocalErrorOnly bool
	// Mock bypasses the network with a fixed outcome.
	Mock *Mock
}

// CallOverride carries call-time overrides for a refetch or mutate call.
type CallOverride struct {
	Path           *string
	QueryParams    map[string]interface{}
	RequestOptions RequestOptions
}

// Fetcher is a per-session lifecycle controller: it owns the current
// {data, loading, error} state, applies the resolve transform and exposes
// refetch / cancel / reconfigure / close operations. One live cancellation
// token exists per Fetcher; a superseding attempt invalidates the previous
// token synchronously before dispatch, and a completion whose token died
// never commits.
type Fetcher struct {
	client *Client

	mu       sync.Mutex
	cfg      FetcherConfig
	state    State
	token    *CancelToken
	deb      *Debouncer
	onChange func(State)
	started  bool
	closed   bool
	lastKey  string
}

// NewFetcher creates a fetch session in the Idle state. Call Start to
// activate it.
func (c *Client) NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{client: c, cfg: cfg}
	if cfg.Debounce != nil {
		f.deb = f.newDebouncer(*cfg.Debounce, cfg.Path)
	}
	return f
}

// newDebouncer builds the session debouncer with its coalescing observer
// wired to the metrics collector.
func (f *Fetcher) newDebouncer(opts DebounceOptions, path string) *Debouncer {
	endpoint := endpointFromURL(f.client.URL(path))
	deb := NewDebouncer(opts)
	deb.coalesced = func() {
		f.client.metrics.RecordDebounceCoalesced(endpoint)
	}
	return deb
}

// OnChange registers the state observer. Set it before Start; the callback is
// invoked after every committed transition, outside the session lock.
func (f *Fetcher) OnChange(fn func(State)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Start activates the session. Unless the configuration is lazy, the initial
// attempt is dispatched immediately.
func (f *Fetcher) Start() {
	f.mu.Lock()
	if f.started || f.closed {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.lastKey = f.attemptKeyLocked()
	lazy := f.cfg.Lazy
	f.mu.Unlock()

	if !lazy {
		f.trigger()
	}
}

// Refetch cancels any in-flight attempt and re-enters Loading with a fresh
// descriptor, bypassing the debouncer.
func (f *Fetcher) Refetch() {
	f.dispatch(nil)
}

// RefetchWith refetches with call-time overrides (path and/or query params).
func (f *Fetcher) RefetchWith(over CallOverride) {
	f.dispatch(&over)
}

// Cancel invalidates the live token and forces loading=false without touching
// data or error. A no-op outcome, not a failure.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.token.Invalidate()
	wasLoading := f.state.Loading
	f.state.Loading = false
	st := f.state
	notify := f.onChange
	f.mu.Unlock()

	if wasLoading && notify != nil {
		notify(st)
	}
}

// Reconfigure replaces the session's effective configuration. A new attempt is
// dispatched only when the base, the composed absolute path, the resolve
// function identity or the query parameters changed since the last attempt;
// unrelated reconfigurations are idempotent.
func (f *Fetcher) Reconfigure(cfg FetcherConfig) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.cfg = cfg
	if cfg.Debounce != nil && f.deb == nil {
		f.deb = f.newDebouncer(*cfg.Debounce, cfg.Path)
	}
	newKey := f.attemptKeyLocked()
	should := f.started && !cfg.Lazy && newKey != f.lastKey
	f.mu.Unlock()

	if should {
		f.trigger()
	}
}

// Close destroys the session: the live token is invalidated, any pending
// debounced trigger is discarded and no state commit or collaborator call can
// happen afterwards.
func (f *Fetcher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.token.Invalidate()
	deb := f.deb
	f.mu.Unlock()

	if deb != nil {
		deb.Cancel()
	}
}

// State returns the current lifecycle state.
func (f *Fetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Data returns the last committed data, which may be stale during Loading.
func (f *Fetcher) Data() interface{} {
	return f.State().Data
}

// Loading reports whether an attempt is in flight.
func (f *Fetcher) Loading() bool {
	return f.State().Loading
}

// Err returns the error of the last settled attempt, if any.
func (f *Fetcher) Err() *Error {
	return f.State().Err
}

// trigger routes through the debouncer when one is configured.
func (f *Fetcher) trigger() {
	f.mu.Lock()
	deb := f.deb
	f.mu.Unlock()

	if deb != nil {
		deb.Trigger(func() { f.dispatch(nil) })
		return
	}
	f.dispatch(nil)
}

// dispatch begins a new attempt asynchronously.
func (f *Fetcher) dispatch(over *CallOverride) {
	token, cfg, ok := f.beginAttempt()
	if !ok {
		return
	}
	go f.run(token, cfg, over)
}

// refetchSync re-issues the attempt and blocks for its outcome; this is the
// retry path handed to the shared OnError collaborator.
func (f *Fetcher) refetchSync() (interface{}, error) {
	token, cfg, ok := f.beginAttempt()
	if !ok {
		return nil, ErrClosed
	}
	return f.run(token, cfg, nil)
}

// beginAttempt supersedes the previous token, transitions to Loading (stale
// data retained, error cleared) and snapshots the configuration the attempt
// will use.
func (f *Fetcher) beginAttempt() (*CancelToken, FetcherConfig, bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, FetcherConfig{}, false
	}
	f.token.Invalidate()
	token := newCancelToken(context.Background())
	f.token = token
	cfg := f.cfg
	f.lastKey = f.attemptKeyLocked()
	f.state = State{Data: f.state.Data, Loading: true}
	st := f.state
	notify := f.onChange
	f.mu.Unlock()

	if f.client.debugEnabled() && f.client.debug.LogState {
		f.client.logger.Debug("State transition", "loading", true, "path", cfg.Path)
	}
	if notify != nil {
		notify(st)
	}
	return token, cfg, true
}

// run executes one attempt end to end and returns the resolved value or error
// for callers using the synchronous path.
func (f *Fetcher) run(token *CancelToken, cfg FetcherConfig, over *CallOverride) (interface{}, error) {
	if cfg.Mock != nil {
		return f.commitMock(token, cfg.Mock)
	}

	spec := &requestSpec{
		method:              http.MethodGet,
		path:                cfg.Path,
		queryParams:         cfg.QueryParams,
		queryOpts:           cfg.QueryOptions,
		instanceOptions:     cfg.RequestOptions,
		instanceOptionsFunc: cfg.RequestOptionsFunc,
	}
	if over != nil {
		if over.Path != nil {
			spec.path = *over.Path
		}
		spec.callQuery = over.QueryParams
		spec.callOptions = over.RequestOptions
	}

	desc, buildErr := f.client.buildDescriptor(spec, token)
	if buildErr != nil {
		f.commit(token, nil, buildErr, nil, cfg.LocalErrorOnly)
		return nil, buildErr
	}

	out, fetchErr := f.client.execute(desc)
	var data interface{}
	var resp *http.Response
	if out != nil {
		resp = out.Response
	}
	if fetchErr == nil {
		data, fetchErr = normalizeOutcome(out, cfg.Resolve)
	}

	committed := f.commit(token, data, fetchErr, resp, cfg.LocalErrorOnly)
	if !committed {
		return nil, ErrClosed
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return data, nil
}

// commit applies the settled outcome, gated on token validity: a stale or
// closed session discards the result without invoking callbacks.
func (f *Fetcher) commit(token *CancelToken, data interface{}, ferr *Error, resp *http.Response, localOnly bool) bool {
	f.mu.Lock()
	if f.closed || !token.Valid() {
		f.mu.Unlock()
		f.client.metrics.RecordStaleDrop("fetch")
		return false
	}
	if ferr != nil {
		f.state = State{Loading: false, Err: ferr}
	} else {
		f.state = State{Data: data, Loading: false}
	}
	st := f.state
	notify := f.onChange
	f.mu.Unlock()

	if f.client.debugEnabled() && f.client.debug.LogState {
		f.client.logger.Debug("State transition", "loading", false, "error", ferr != nil)
	}
	if notify != nil {
		notify(st)
	}
	if ferr != nil && !localOnly && f.client.onError != nil {
		f.client.onError(ferr, f.refetchSync, resp)
	}
	return true
}

func (f *Fetcher) commitMock(token *CancelToken, mock *Mock) (interface{}, error) {
	if mock.Loading {
		// A loading mock never settles; the session stays in Loading.
		return nil, nil
	}
	f.commit(token, mock.Data, mock.Err, nil, true)
	if mock.Err != nil {
		return nil, mock.Err
	}
	return mock.Data, nil
}

// attemptKeyLocked fingerprints the inputs whose change warrants a new
// attempt: base, composed URL including serialized query, and the resolve
// function identity.
func (f *Fetcher) attemptKeyLocked() string {
	merged := MergeQueryParams(f.client.queryParams, f.cfg.QueryParams)
	opts := f.client.queryOpts
	if f.cfg.QueryOptions != nil {
		opts = *f.cfg.QueryOptions
	}
	composed := appendQuery(f.client.URL(f.cfg.Path), EncodeQuery(merged, opts))
	return f.client.base + "|" + composed + "|" + funcIdentity(f.cfg.Resolve)
}

func funcIdentity(fn ResolveFunc) string {
	if fn == nil {
		return "0"
	}
	return fmt.Sprint(reflect.ValueOf(fn).Pointer())
}
