package daemon

import (
	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

// Action is a request received by a Manual daemon.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Manual is a daemon that does not negotiate anything. It hands the start
// and stop requests to a callback, so a person or a script can play the
// daemon by reporting states by hand.
type Manual struct {
	logger    common.Logger
	onRequest func(Action, *vpn.Profile)
}

var _ vpn.Daemon = (*Manual)(nil)

// NewManual creates a Manual daemon. onRequest may be nil; it runs on the
// state service worker and must not block.
func NewManual(logger common.Logger, onRequest func(Action, *vpn.Profile)) *Manual {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Manual{logger: logger, onRequest: onRequest}
}

func (m *Manual) Start(profile *vpn.Profile) {
	m.logger.Info("Daemon: start requested for %s", profile.DisplayName())
	if m.onRequest != nil {
		m.onRequest(ActionStart, profile)
	}
}

func (m *Manual) Stop() {
	m.logger.Info("Daemon: stop requested")
	if m.onRequest != nil {
		m.onRequest(ActionStop, nil)
	}
}
