package restfetch

import (
	"sync"
	"time"
)

// DefaultDebounceWait is the wait window used when debouncing is enabled
// without explicit tuning.
const DefaultDebounceWait = 200 * time.Millisecond

// DebounceOptions tunes the coalescing scheduler. With neither edge selected,
// trailing-edge execution is assumed.
type DebounceOptions struct {
	Wait     time.Duration
	Leading  bool
	Trailing bool
	// MaxWait, when positive, bounds how long a burst can keep deferring the
	// trailing execution.
	MaxWait time.Duration
}

// DebounceDefaults is the tuning applied for "debounce: on" without options.
func DebounceDefaults() *DebounceOptions {
	return &DebounceOptions{Wait: DefaultDebounceWait, Trailing: true}
}

// Debouncer collapses bursts of trigger invocations into a single execution
// carrying the most recent function. It is a small explicit scheduler: one
// timer plus a pending slot, cancelled when the owning session closes.
type Debouncer struct {
	mu       sync.Mutex
	opts     DebounceOptions
	timer    *time.Timer
	maxTimer *time.Timer
	pending  func()
	// gen stamps the current wait window. A window timer whose callback lost
	// the race against a superseding Trigger carries a stale stamp and must
	// not execute.
	gen uint64
	// coalesced observes collapsed triggers, for metrics.
	coalesced func()
}

// NewDebouncer builds a debouncer, normalizing zero options to the defaults.
func NewDebouncer(opts DebounceOptions) *Debouncer {
	if opts.Wait <= 0 {
		opts.Wait = DefaultDebounceWait
	}
	if !opts.Leading && !opts.Trailing {
		opts.Trailing = true
	}
	return &Debouncer{opts: opts}
}

// Trigger schedules fn. Invocations within the wait window replace any pending
// execution so only the most recent fn runs; a leading-edge debouncer runs the
// first trigger of a burst immediately instead.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()

	first := d.timer == nil
	if !first {
		d.timer.Stop()
		if d.coalesced != nil {
			d.coalesced()
		}
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.opts.Wait, func() { d.fire(gen) })

	if first && d.opts.MaxWait > d.opts.Wait {
		// The max-wait timer fires unconditionally to bound a continuous
		// burst, so it carries no window stamp.
		d.maxTimer = time.AfterFunc(d.opts.MaxWait, func() { d.fire(0) })
	}

	if first && d.opts.Leading {
		// Leading edge: run now, leave nothing pending unless a later trigger
		// arrives inside the window.
		d.pending = nil
		d.mu.Unlock()
		fn()
		return
	}

	d.pending = fn
	d.mu.Unlock()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != 0 && gen != d.gen {
		// Superseded window: a fresh Trigger restarted the wait after this
		// timer had already expired.
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.stopTimersLocked()
	trailing := d.opts.Trailing
	d.mu.Unlock()

	if trailing && fn != nil {
		fn()
	}
}

// Cancel discards any pending scheduled execution before it fires.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.pending = nil
	d.stopTimersLocked()
	d.mu.Unlock()
}

func (d *Debouncer) stopTimersLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
}
