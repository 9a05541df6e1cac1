package history

import (
	"sync"
	"time"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

// Source is where a Recorder reads the state from.
type Source interface {
	Snapshot() vpn.Snapshot
}

// Recorder is a listener that writes a transition whenever the connection
// id, state, error or integrity state changed. Countdown ticks are skipped.
// Entries are built when the change is seen and written in order by a
// background goroutine.
type Recorder struct {
	store  *Store
	source Source
	logger common.Logger
	now    func() time.Time
	writes *common.Serial

	mu   sync.Mutex
	last *vpn.Snapshot
}

var _ vpn.Listener = (*Recorder)(nil)

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store *Store, source Source, logger common.Logger) *Recorder {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Recorder{
		store:  store,
		source: source,
		logger: logger,
		now:    time.Now,
		writes: common.NewSerial(),
	}
}

// StateChanged queues the current state if it differs from the last one.
func (r *Recorder) StateChanged() error {
	snap := r.source.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil && sameTransition(*r.last, snap) {
		return nil
	}
	r.last = &snap

	entry := EntryFromSnapshot(snap, r.now())
	r.writes.Go(func() {
		if err := r.store.Record(&entry); err != nil {
			r.logger.Error("History: %v", err)
			return
		}
		r.logger.Debug("History: recorded %s/%s for connection %d", entry.State, entry.Error, entry.ConnectionID)
	})
	return nil
}

// Flush waits until queued entries are written. Call it before closing
// the store.
func (r *Recorder) Flush() {
	r.writes.Wait()
}

func sameTransition(a, b vpn.Snapshot) bool {
	return a.ConnectionID == b.ConnectionID &&
		a.State == b.State &&
		a.Error == b.Error &&
		a.Imc == b.Imc
}
