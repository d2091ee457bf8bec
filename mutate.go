package restfetch

import (
	"context"
	"net/http"
	"sync"
)

// MutatorConfig is the per-session configuration of a mutating operation
// (POST / PUT / PATCH / DELETE).
type MutatorConfig struct {
	Method string
	Path   string

	QueryParams  map[string]interface{}
	QueryOptions *QueryOptions

	RequestOptions     RequestOptions
	RequestOptionsFunc RequestOptionsFunc

	Resolve ResolveFunc

	LocalErrorOnly bool
	Mock           *Mock
}

// Mutator is the lifecycle controller of a mutating operation. Call performs
// build → execute → state update and additionally returns the resolved value
// or error directly to the caller, so both the state-observation path and the
// call-result path observe the same outcome. A new Call supersedes a still
// in-flight previous call on the same Mutator.
type Mutator struct {
	client *Client

	mu       sync.Mutex
	cfg      MutatorConfig
	state    State
	token    *CancelToken
	onChange func(State)
	closed   bool
}

// NewMutator creates a mutate session. The method defaults to POST.
func (c *Client) NewMutator(cfg MutatorConfig) *Mutator {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	return &Mutator{client: c, cfg: cfg}
}

// OnChange registers the state observer.
func (m *Mutator) OnChange(fn func(State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Mutator) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cancel invalidates the live token and forces loading=false without touching
// data or error.
func (m *Mutator) Cancel() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.token.Invalidate()
	wasLoading := m.state.Loading
	m.state.Loading = false
	st := m.state
	notify := m.onChange
	m.mu.Unlock()

	if wasLoading && notify != nil {
		notify(st)
	}
}

// Close destroys the session; in-flight work is cancelled and its outcome
// discarded.
func (m *Mutator) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.token.Invalidate()
	m.mu.Unlock()
}

// Call performs the mutation with the given body and optional call-time
// overrides. For DELETE, a string body is appended to the path as a final
// identifier segment instead of being serialized. The outcome is committed to
// session state and returned; on failure the same *Error is both stored in
// state and returned.
func (m *Mutator) Call(body interface{}, overrides ...CallOverride) (interface{}, error) {
	token, cfg, ok := m.begin()
	if !ok {
		return nil, ErrClosed
	}

	var over *CallOverride
	if len(overrides) > 0 {
		over = &overrides[0]
	}
	return m.run(token, cfg, body, over)
}

func (m *Mutator) begin() (*CancelToken, MutatorConfig, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, MutatorConfig{}, false
	}
	m.token.Invalidate()
	token := newCancelToken(context.Background())
	m.token = token
	cfg := m.cfg
	m.state = State{Data: m.state.Data, Loading: true}
	st := m.state
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify(st)
	}
	return token, cfg, true
}

func (m *Mutator) run(token *CancelToken, cfg MutatorConfig, body interface{}, over *CallOverride) (interface{}, error) {
	if cfg.Mock != nil {
		if cfg.Mock.Loading {
			return nil, nil
		}
		m.commit(token, cfg.Mock.Data, cfg.Mock.Err, nil, true, nil)
		if cfg.Mock.Err != nil {
			return nil, cfg.Mock.Err
		}
		return cfg.Mock.Data, nil
	}

	spec := &requestSpec{
		method:              cfg.Method,
		path:                cfg.Path,
		queryParams:         cfg.QueryParams,
		queryOpts:           cfg.QueryOptions,
		instanceOptions:     cfg.RequestOptions,
		instanceOptionsFunc: cfg.RequestOptionsFunc,
		body:                body,
	}
	if cfg.Method == http.MethodDelete {
		if id, ok := body.(string); ok {
			spec.deleteID = id
			spec.body = nil
		}
	}
	if over != nil {
		if over.Path != nil {
			spec.path = *over.Path
		}
		spec.callQuery = over.QueryParams
		spec.callOptions = over.RequestOptions
	}

	retry := func() (interface{}, error) {
		t, c2, ok := m.begin()
		if !ok {
			return nil, ErrClosed
		}
		return m.run(t, c2, body, over)
	}

	desc, buildErr := m.client.buildDescriptor(spec, token)
	if buildErr != nil {
		m.commit(token, nil, buildErr, nil, cfg.LocalErrorOnly, retry)
		return nil, buildErr
	}

	out, fetchErr := m.client.execute(desc)
	var data interface{}
	var resp *http.Response
	if out != nil {
		resp = out.Response
	}
	if fetchErr == nil {
		data, fetchErr = normalizeOutcome(out, cfg.Resolve)
	}

	committed := m.commit(token, data, fetchErr, resp, cfg.LocalErrorOnly, retry)
	if !committed {
		return nil, ErrClosed
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return data, nil
}

func (m *Mutator) commit(token *CancelToken, data interface{}, ferr *Error, resp *http.Response, localOnly bool, retry RetryFunc) bool {
	m.mu.Lock()
	if m.closed || !token.Valid() {
		m.mu.Unlock()
		m.client.metrics.RecordStaleDrop("mutate")
		return false
	}
	if ferr != nil {
		m.state = State{Loading: false, Err: ferr}
	} else {
		m.state = State{Data: data, Loading: false}
	}
	st := m.state
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify(st)
	}
	if ferr != nil && !localOnly && m.client.onError != nil {
		m.client.onError(ferr, retry, resp)
	}
	return true
}
