package vpn

import "github.com/google/uuid"

// Listener is notified whenever the observable state changes. Implementations
// read the new state through the service queries. A returned error is logged
// and does not affect other listeners.
type Listener interface {
	StateChanged() error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func() error

// StateChanged calls f.
func (f ListenerFunc) StateChanged() error {
	return f()
}

// ListenerHandle identifies a registered listener.
type ListenerHandle struct {
	id uuid.UUID
}

// String returns the handle's identifier.
func (h ListenerHandle) String() string {
	return h.id.String()
}

type listenerEntry struct {
	handle   ListenerHandle
	listener Listener
}

// listenerRegistry holds the registered listeners in registration order.
// It has a single writer, the service worker.
type listenerRegistry struct {
	entries []listenerEntry
}

func (r *listenerRegistry) add(handle ListenerHandle, l Listener) {
	r.entries = append(r.entries, listenerEntry{handle: handle, listener: l})
}

func (r *listenerRegistry) remove(handle ListenerHandle) bool {
	for i, e := range r.entries {
		if e.handle == handle {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy that stays stable while listeners run.
func (r *listenerRegistry) snapshot() []listenerEntry {
	out := make([]listenerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *listenerRegistry) len() int {
	return len(r.entries)
}

func newListenerHandle() ListenerHandle {
	return ListenerHandle{id: uuid.New()}
}
