// Package dbusnotify exposes coordinator state on the D-Bus session bus and
// sends desktop notifications for important transitions.
package dbusnotify

import (
	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

// Source is where listeners read the state from.
type Source interface {
	Snapshot() vpn.Snapshot
}

// Emitter sends signals. *dbus.Conn implements it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// SignalName is the fully qualified name of the state signal.
const SignalName = common.DBusInterface + ".StateChanged"

// Publisher is a listener that emits a StateChanged signal with the new
// state on every notification. The signal carries
// (connection id, state, error, imc state, seconds until retry).
type Publisher struct {
	conn   Emitter
	source Source
	logger common.Logger
}

var _ vpn.Listener = (*Publisher)(nil)

// NewPublisher creates a Publisher emitting on conn.
func NewPublisher(conn Emitter, source Source, logger common.Logger) *Publisher {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Publisher{conn: conn, source: source, logger: logger}
}

// ConnectSessionBus connects to the session bus.
func ConnectSessionBus() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, common.WrapError(err, "failed to connect to session bus")
	}
	return conn, nil
}

// StateChanged emits the signal.
func (p *Publisher) StateChanged() error {
	snap := p.source.Snapshot()
	err := p.conn.Emit(dbus.ObjectPath(common.DBusObjectPath), SignalName,
		snap.ConnectionID,
		snap.State.String(),
		snap.Error.String(),
		snap.Imc.String(),
		uint32(snap.RetryInSeconds()),
	)
	if err != nil {
		return common.WrapError(err, "failed to emit state signal")
	}
	p.logger.Debug("DBus: emitted %s (%s/%s)", SignalName, snap.State, snap.Error)
	return nil
}
