package restfetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/restfetch/internal/backoff"
)

const (
	// PollingIndexHeader is the response header carrying the session index.
	// Its absence is the server's terminal signal.
	PollingIndexHeader = "x-polling-index"

	preferHeader = "Prefer"

	// DefaultPollWait is the server-side hold advertised in the Prefer header.
	DefaultPollWait = 60 * time.Second
	// DefaultPollInterval is the client-side floor between poll cycles.
	DefaultPollInterval = time.Second

	// pollWaitMargin is the headroom kept between the advertised wait and the
	// transport timeout, so a server holding the connection for the full wait
	// still answers before the client-side abort.
	pollWaitMargin = 5 * time.Second
)

// clampPollWait bounds the advertised wait below the transport timeout. A
// wait at or above the timeout would make every compliant long-poll exchange
// abort client-side before the server could answer.
func clampPollWait(wait, timeout time.Duration) time.Duration {
	if timeout <= 0 || wait+pollWaitMargin <= timeout {
		return wait
	}
	clamped := timeout - pollWaitMargin
	if clamped < time.Second {
		clamped = timeout / 2
	}
	return clamped
}

// PollerConfig is the per-session configuration of a long-poll protocol engine.
type PollerConfig struct {
	Path string

	QueryParams  map[string]interface{}
	QueryOptions *QueryOptions

	RequestOptions     RequestOptions
	RequestOptionsFunc RequestOptionsFunc

	// Resolve folds each response into the accumulated value; it receives the
	// previously resolved value alongside the fresh body.
	Resolve PollResolveFunc

	// Lazy marks the session as not-to-be-auto-started by hosts that start
	// sessions wholesale; Start/Stop remain the explicit controls either way.
	Lazy bool

	// Wait is the duration the server may hold the connection open, sent as
	// "Prefer: wait=<N>s;". Defaults to DefaultPollWait.
	Wait time.Duration
	// Interval is the minimum spacing between cycle starts: when the server
	// answered faster than this, the engine sleeps the difference. Defaults to
	// DefaultPollInterval.
	Interval time.Duration

	// Until stops polling once it evaluates true on a successful response,
	// even if the server returned a session index.
	Until func(data interface{}, resp *http.Response) bool

	LocalErrorOnly bool

	// ErrorBackoff grows the delay across consecutive failed cycles
	// (exponential + jitter, capped) instead of the fixed interval.
	ErrorBackoff bool

	Mock *Mock
}

// PollState extends State with the polling protocol's position. Once Finished
// is true the engine issues no further requests until explicitly restarted.
type PollState struct {
	State
	Polling      bool
	Finished     bool
	SessionIndex string
}

// Poller repeatedly issues requests carrying the session index returned by the
// prior response, committing each outcome like a lifecycle session. Errors are
// transient: the engine records them and keeps polling. A response
// without a session-index header, or a true Until predicate, finishes the
// session.
type Poller struct {
	client *Client

	mu       sync.Mutex
	cfg      PollerConfig
	state    PollState
	token    *CancelToken
	onChange func(PollState)
	closed   bool
	gen      int
	wake     chan struct{}
}

// NewPoller creates a poll session in the Idle state. Call Start to begin
// polling. The advertised wait is clamped against the client's transport
// timeout.
func (c *Client) NewPoller(cfg PollerConfig) *Poller {
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultPollWait
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if c.httpClient != nil {
		cfg.Wait = clampPollWait(cfg.Wait, c.httpClient.Timeout)
	}
	return &Poller{
		client: c,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// OnChange registers the state observer, invoked after every committed
// transition outside the session lock.
func (p *Poller) OnChange(fn func(PollState)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// State returns the current poll state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Data returns the accumulated resolved value.
func (p *Poller) Data() interface{} {
	return p.State().Data
}

// Err returns the error recorded by the most recent failed cycle, if any.
func (p *Poller) Err() *Error {
	return p.State().Err
}

// Start begins or resumes polling. Restarting a finished session clears the
// finished flag while keeping accumulated data and the session index.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.closed || p.state.Polling {
		p.mu.Unlock()
		return
	}
	if p.cfg.Mock != nil {
		mock := p.cfg.Mock
		p.state.Data = mock.Data
		p.state.Err = mock.Err
		p.state.Loading = mock.Loading
		p.state.Finished = !mock.Loading
		st := p.state
		notify := p.onChange
		p.mu.Unlock()
		if notify != nil {
			notify(st)
		}
		return
	}
	p.state.Polling = true
	p.state.Finished = false
	p.gen++
	gen := p.gen
	st := p.state
	notify := p.onChange
	p.mu.Unlock()

	p.client.metrics.RecordPollSessionStart()
	if notify != nil {
		notify(st)
	}
	go p.loop(gen)
}

// Stop pauses polling without discarding accumulated data or the session
// index; the in-flight cycle, if any, is cancelled.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.closed || !p.state.Polling {
		p.mu.Unlock()
		return
	}
	p.state.Polling = false
	p.state.Loading = false
	p.token.Invalidate()
	st := p.state
	notify := p.onChange
	p.mu.Unlock()

	p.wakeLoop()
	if notify != nil {
		notify(st)
	}
}

// Close destroys the session: polling halts, the live token is invalidated and
// no further state commit can occur.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.state.Polling = false
	p.token.Invalidate()
	p.mu.Unlock()

	p.wakeLoop()
}

func (p *Poller) wakeLoop() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(gen int) {
	defer p.client.metrics.RecordPollSessionEnd()

	consecutiveErrors := 0
	calc := backoff.Calculator{
		Initial:    p.cfg.Interval,
		Max:        30 * p.cfg.Interval,
		Multiplier: 2.0,
		Jitter:     0.1,
	}

	for {
		p.mu.Lock()
		if p.closed || !p.state.Polling || p.gen != gen {
			p.mu.Unlock()
			return
		}
		cfg := p.cfg
		index := p.state.SessionIndex
		previous := p.state.Data
		p.token.Invalidate()
		token := newCancelToken(context.Background())
		p.token = token
		p.state.Loading = true
		st := p.state
		notify := p.onChange
		p.mu.Unlock()

		if notify != nil {
			notify(st)
		}

		start := time.Now()
		cycleErr, finished := p.cycle(token, cfg, index, previous)
		elapsed := time.Since(start)

		if finished {
			return
		}

		var delay time.Duration
		if cycleErr != nil {
			consecutiveErrors++
			if cfg.ErrorBackoff {
				delay = calc.Delay(consecutiveErrors - 1)
			} else {
				delay = cfg.Interval
			}
		} else {
			consecutiveErrors = 0
			delay = cfg.Interval - elapsed
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-p.wake:
				timer.Stop()
			}
		}
	}
}

// cycle issues one long-poll exchange and commits its outcome. finished
// reports that the loop must exit (terminal signal, Until satisfied, or the
// session was superseded/stopped/closed).
func (p *Poller) cycle(token *CancelToken, cfg PollerConfig, index string, previous interface{}) (*Error, bool) {
	endpoint := endpointFromURL(p.client.URL(cfg.Path))

	prefer := fmt.Sprintf("wait=%ds;", int(cfg.Wait/time.Second))
	if index != "" {
		prefer += "index=" + index
	}

	spec := &requestSpec{
		method:              http.MethodGet,
		path:                cfg.Path,
		queryParams:         cfg.QueryParams,
		queryOpts:           cfg.QueryOptions,
		instanceOptions:     cfg.RequestOptions,
		instanceOptionsFunc: cfg.RequestOptionsFunc,
		retryHeaders:        map[string]string{preferHeader: prefer},
		// Poll exchanges are position-dependent and may block for the full
		// wait; they must never merge with an unrelated GET on the same URL.
		noDedup: true,
	}

	desc, buildErr := p.client.buildDescriptor(spec, token)
	if buildErr != nil {
		p.client.metrics.RecordPollCycle(endpoint, "error")
		return buildErr, !p.commitError(token, buildErr, nil, cfg.LocalErrorOnly)
	}

	out, fetchErr := p.client.execute(desc)
	if fetchErr != nil {
		p.client.metrics.RecordPollCycle(endpoint, "error")
		return fetchErr, !p.commitError(token, fetchErr, nil, cfg.LocalErrorOnly)
	}

	nextIndex := out.Header.Get(PollingIndexHeader)

	// 304 with no body: nothing new, existing data must survive.
	if out.Status == http.StatusNotModified {
		p.client.metrics.RecordPollCycle(endpoint, "empty")
		terminal := nextIndex == ""
		ok := p.commitCycle(token, previous, nextIndex, terminal, false)
		return nil, terminal || !ok
	}

	if out.ParseFailed || !out.OK {
		data := out.Parsed
		if data == nil {
			data = string(out.Body)
		}
		ferr := newHTTPError(out.Status, out.StatusText, out.ParseReason, data, out.ParseFailed)
		p.client.metrics.RecordPollCycle(endpoint, "error")
		return ferr, !p.commitError(token, ferr, out.Response, cfg.LocalErrorOnly)
	}

	data := out.Parsed
	if cfg.Resolve != nil {
		var resolveErr *Error
		data, resolveErr = safeResolve(func(d interface{}) (interface{}, error) {
			return cfg.Resolve(d, previous)
		}, out.Parsed)
		if resolveErr != nil {
			p.client.metrics.RecordPollCycle(endpoint, "error")
			return resolveErr, !p.commitError(token, resolveErr, out.Response, cfg.LocalErrorOnly)
		}
	}

	terminal := nextIndex == ""
	if !terminal && cfg.Until != nil && cfg.Until(data, out.Response) {
		terminal = true
	}

	if terminal {
		p.client.metrics.RecordPollCycle(endpoint, "finished")
	} else {
		p.client.metrics.RecordPollCycle(endpoint, "update")
	}

	ok := p.commitCycle(token, data, nextIndex, terminal, true)
	return nil, terminal || !ok
}

// commitCycle applies a successful cycle, gated on token validity. updateData
// is false for no-new-data cycles so stale data is preserved untouched.
func (p *Poller) commitCycle(token *CancelToken, data interface{}, nextIndex string, terminal, updateData bool) bool {
	p.mu.Lock()
	if p.closed || !token.Valid() {
		p.mu.Unlock()
		p.client.metrics.RecordStaleDrop("poll")
		return false
	}
	if updateData {
		p.state.Data = data
	}
	p.state.Err = nil
	p.state.Loading = false
	if nextIndex != "" {
		p.state.SessionIndex = nextIndex
	}
	if terminal {
		p.state.Finished = true
		p.state.Polling = false
	}
	st := p.state
	notify := p.onChange
	p.mu.Unlock()

	if p.client.debugEnabled() && p.client.debug.LogPolling {
		p.client.logger.Debug("Poll cycle committed", "index", nextIndex, "finished", terminal)
	}
	if notify != nil {
		notify(st)
	}
	return true
}

// commitError records a transient cycle failure. Accumulated data survives;
// polling continues.
func (p *Poller) commitError(token *CancelToken, ferr *Error, resp *http.Response, localOnly bool) bool {
	p.mu.Lock()
	if p.closed || !token.Valid() {
		p.mu.Unlock()
		p.client.metrics.RecordStaleDrop("poll")
		return false
	}
	p.state.Err = ferr
	p.state.Loading = false
	st := p.state
	notify := p.onChange
	p.mu.Unlock()

	if p.client.debugEnabled() && p.client.debug.LogPolling {
		p.client.logger.Warn("Poll cycle failed", "error", ferr.Message)
	}
	if notify != nil {
		notify(st)
	}
	if !localOnly && p.client.onError != nil {
		p.client.onError(ferr, nil, resp)
	}
	return true
}
