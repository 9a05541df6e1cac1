package dbusnotify

import (
	"fmt"
	"sync"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

// Alerter is a listener that sends a notification when the connection is
// established or a new error is reported. Notifications are sent from a
// background goroutine in order; the listener itself never waits on the
// notification server.
type Alerter struct {
	notifier common.Notifier
	source   Source
	logger   common.Logger
	outbox   *common.Serial

	mu   sync.Mutex
	last vpn.Snapshot
}

var _ vpn.Listener = (*Alerter)(nil)

// NewAlerter creates an Alerter. The current state of source is the
// baseline.
func NewAlerter(notifier common.Notifier, source Source, logger common.Logger) *Alerter {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Alerter{
		notifier: notifier,
		source:   source,
		logger:   logger,
		outbox:   common.NewSerial(),
		last:     source.Snapshot(),
	}
}

// StateChanged queues a notification about the transition, if it is one
// worth a bubble.
func (a *Alerter) StateChanged() error {
	snap := a.source.Snapshot()

	a.mu.Lock()
	prev := a.last
	a.last = snap
	a.mu.Unlock()

	title, message, ok := alertFor(prev, snap)
	if !ok {
		return nil
	}
	a.outbox.Go(func() {
		if err := a.notifier.Notify(title, message); err != nil {
			a.logger.Warn("Notify: %v", err)
		}
	})
	return nil
}

// Flush waits until queued notifications are sent.
func (a *Alerter) Flush() {
	a.outbox.Wait()
}

func alertFor(prev, cur vpn.Snapshot) (title, message string, ok bool) {
	name := cur.Profile.DisplayName()

	if cur.Error != vpn.ErrorNone && cur.Error != prev.Error {
		message = cur.Error.Description()
		if cur.Retrying() {
			message = fmt.Sprintf("%s. Retrying in %d s.", message, cur.RetryInSeconds())
		}
		return "VPN error: " + name, message, true
	}
	if cur.State == vpn.StateConnected && prev.State != vpn.StateConnected {
		return "VPN connected", "Connected to " + name, true
	}
	if cur.State == vpn.StateDisabled && prev.State == vpn.StateConnected && cur.Error == vpn.ErrorNone {
		return "VPN disconnected", "Disconnected from " + name, true
	}
	return "", "", false
}
