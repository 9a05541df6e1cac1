package eventlog

import (
	"slices"
	"sync"
	"time"

	"github.com/yllada/vpn-state/vpn"
)

// Source is where a Recorder reads the state from.
type Source interface {
	Snapshot() vpn.Snapshot
}

// Recorder is a listener that turns each notification into events, one per
// field that changed since the previous notification.
type Recorder struct {
	source Source
	logger Logger
	now    func() time.Time

	mu   sync.Mutex
	last vpn.Snapshot
}

var _ vpn.Listener = (*Recorder)(nil)

// NewRecorder creates a Recorder. The initial state of source is the
// baseline; it is not logged.
func NewRecorder(source Source, logger Logger) *Recorder {
	return &Recorder{
		source: source,
		logger: logger,
		now:    time.Now,
		last:   source.Snapshot(),
	}
}

// StateChanged logs the differences to the previous state.
func (r *Recorder) StateChanged() error {
	snap := r.source.Snapshot()

	r.mu.Lock()
	prev := r.last
	r.last = snap
	r.mu.Unlock()

	for _, event := range diff(prev, snap, r.now()) {
		r.logger.Log(event)
	}
	return nil
}

func diff(prev, cur vpn.Snapshot, now time.Time) []Event {
	base := Event{Timestamp: now, ConnectionID: cur.ConnectionID}
	if cur.Profile != nil {
		base.Profile = cur.Profile.DisplayName()
	}

	var events []Event
	add := func(c Category, from, to string) {
		e := base
		e.Category = c
		e.OldValue = from
		e.NewValue = to
		events = append(events, e)
	}

	if cur.ConnectionID != prev.ConnectionID {
		add(CategoryConnection, "", cur.State.String())
	} else if cur.State != prev.State {
		add(CategoryState, prev.State.String(), cur.State.String())
	}
	if cur.Error != prev.Error {
		add(CategoryError, prev.Error.String(), cur.Error.String())
	}
	if cur.Imc != prev.Imc || !slices.EqualFunc(cur.RemediationInstructions, prev.RemediationInstructions, sameInstruction) {
		add(CategoryImc, prev.Imc.String(), cur.Imc.String())
		events[len(events)-1].Remediation = cur.RemediationInstructions
	}
	if cur.RetryIn != prev.RetryIn || cur.RetryTimeout != prev.RetryTimeout {
		e := base
		e.Category = CategoryRetry
		e.RetryIn = cur.RetryIn
		e.RetryTimeout = cur.RetryTimeout
		events = append(events, e)
	}
	return events
}

func sameInstruction(a, b vpn.RemediationInstruction) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Header == b.Header &&
		slices.Equal(a.Items, b.Items)
}
