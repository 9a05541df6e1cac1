package vpn

import (
	"time"

	"github.com/yllada/vpn-state/common"
)

// DefaultGenericTimeout is the base timeout of error kinds that a RetryTable
// does not list, when the table has no ErrorGeneric entry either.
const DefaultGenericTimeout = 10 * time.Second

// RetryTable maps error kinds to their base reconnect timeout. A zero entry
// disables the automatic reconnect for that kind. Kinds without an entry use
// the ErrorGeneric entry.
type RetryTable map[ErrorState]time.Duration

// DefaultRetryTable returns the base timeouts used unless configured otherwise.
func DefaultRetryTable() RetryTable {
	return RetryTable{
		ErrorAuthFailed:     10 * time.Second,
		ErrorPeerAuthFailed: 5 * time.Second,
		ErrorLookupFailed:   5 * time.Second,
		ErrorUnreachable:    5 * time.Second,
		// needs the user to enter the password
		ErrorPasswordMissing: 0,
		// may resolve once the device is unlocked
		ErrorCertificateUnavailable: 5 * time.Second,
		ErrorGeneric:                DefaultGenericTimeout,
	}
}

// BaseTimeout returns the base timeout for the given error kind.
func (t RetryTable) BaseTimeout(e ErrorState) time.Duration {
	if d, ok := t[e]; ok {
		return d
	}
	if d, ok := t[ErrorGeneric]; ok {
		return d
	}
	return DefaultGenericTimeout
}

// Clone returns a copy of the table that may be modified freely.
func (t RetryTable) Clone() RetryTable {
	c := make(RetryTable, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// backoffTimeout doubles base once per attempt, rounds down to whole seconds
// and caps the result at max.
func backoffTimeout(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	raw := base
	for i := 0; i < attempt && raw < max; i++ {
		raw *= 2
	}
	raw = raw.Truncate(time.Second)
	if raw > max {
		raw = max
	}
	return raw
}

// tickResult is the outcome of applying one countdown tick.
type tickResult int

const (
	tickStale tickResult = iota
	tickCountdown
	tickExpired
)

// retryScheduler is the reconnect countdown. It is only touched from the
// service worker; timer callbacks reach it through enqueue.
type retryScheduler struct {
	clock    Clock
	table    RetryTable
	max      time.Duration
	interval time.Duration
	logger   common.Logger

	// enqueue posts a tick for the given generation to the worker queue.
	enqueue func(generation uint64)

	attempt    int
	total      time.Duration
	remaining  time.Duration
	generation uint64
	timer      Timer
}

func newRetryScheduler(clock Clock, table RetryTable, max time.Duration, logger common.Logger) *retryScheduler {
	return &retryScheduler{
		clock:    clock,
		table:    table,
		max:      max,
		interval: common.RetryTickInterval,
		logger:   logger,
	}
}

// computeTimeout returns the next timeout for e and advances the attempt
// counter, even when the kind is not retried.
func (r *retryScheduler) computeTimeout(e ErrorState) time.Duration {
	timeout := backoffTimeout(r.table.BaseTimeout(e), r.max, r.attempt)
	r.attempt++
	return timeout
}

// resetAttempts makes the next error start from the base timeout again.
func (r *retryScheduler) resetAttempts() {
	r.attempt = 0
}

// start begins a countdown sized for e. Kinds with a zero timeout leave the
// scheduler idle.
func (r *retryScheduler) start(e ErrorState) time.Duration {
	attempt := r.attempt
	timeout := r.computeTimeout(e)
	r.cancel()
	if timeout <= 0 {
		r.logger.Info("VPN: %s requires user intervention, no automatic retry", e)
		return 0
	}
	r.total = timeout
	r.remaining = timeout
	r.schedule(r.clock.Now().Add(r.interval))
	r.logger.Info("VPN: %s, retrying in %v (attempt %d)", e, timeout, attempt)
	return timeout
}

// cancel stops any running countdown. A tick that is already queued becomes
// stale because the generation moves on.
func (r *retryScheduler) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.total = 0
	r.remaining = 0
	r.generation++
}

// active reports whether a countdown is running.
func (r *retryScheduler) active() bool {
	return r.total > 0
}

func (r *retryScheduler) schedule(deadline time.Time) {
	generation := r.generation
	enqueue := r.enqueue
	r.timer = r.clock.AfterFunc(deadline.Sub(r.clock.Now()), func() {
		if enqueue != nil {
			enqueue(generation)
		}
	})
}

// tick applies one countdown step for the timer of the given generation.
func (r *retryScheduler) tick(generation uint64) tickResult {
	if generation != r.generation || r.total <= 0 {
		return tickStale
	}
	r.timer = nil
	r.remaining -= r.interval
	if r.remaining > 0 {
		r.logger.Debug("VPN: reconnecting in %v", r.remaining)
		// the next deadline is fixed before listeners run
		r.schedule(r.clock.Now().Add(r.interval))
		return tickCountdown
	}
	r.total = 0
	r.remaining = 0
	r.generation++
	return tickExpired
}
