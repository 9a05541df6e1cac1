package dbusnotify

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-state/common"
)

const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsMethod = notificationsName + ".Notify"

	notificationIcon    = "network-vpn"
	notificationTimeout = int32(5000)
)

// Caller invokes D-Bus methods. dbus.BusObject implements it.
type Caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Desktop sends notifications through org.freedesktop.Notifications. Each
// notification replaces the previous one, so a retry countdown does not
// pile up bubbles.
type Desktop struct {
	obj Caller

	mu     sync.Mutex
	lastID uint32
}

var _ common.Notifier = (*Desktop)(nil)

// NewDesktop creates a Desktop notifier on conn.
func NewDesktop(conn *dbus.Conn) *Desktop {
	return NewDesktopWithCaller(conn.Object(notificationsName, dbus.ObjectPath(notificationsPath)))
}

// NewDesktopWithCaller creates a Desktop notifier calling obj.
func NewDesktopWithCaller(obj Caller) *Desktop {
	return &Desktop{obj: obj}
}

// Notify shows a notification.
func (d *Desktop) Notify(title, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	call := d.obj.Call(notificationsMethod, 0,
		common.AppName,
		d.lastID,
		notificationIcon,
		title,
		message,
		[]string{},
		map[string]dbus.Variant{},
		notificationTimeout,
	)
	if call.Err != nil {
		return common.WrapError(call.Err, "failed to send notification")
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return common.WrapError(err, "unexpected notification reply")
	}
	d.lastID = id
	return nil
}
