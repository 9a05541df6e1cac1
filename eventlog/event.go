// Package eventlog records a compact binary trace of coordinator events.
// Events are CBOR encoded with integer keys and appended to a file, or
// mirrored to an slog.Logger while developing.
package eventlog

import (
	"time"

	"github.com/yllada/vpn-state/vpn"
)

// Event is one observed change of the coordinator state.
type Event struct {
	// Timestamp when the change was observed (nanosecond precision).
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID uint64    `cbor:"2,keyasint"`
	Category     Category  `cbor:"3,keyasint"`
	Profile      string    `cbor:"4,keyasint,omitempty"`

	// OldValue and NewValue are the names of the values before and after.
	OldValue string `cbor:"5,keyasint,omitempty"`
	NewValue string `cbor:"6,keyasint,omitempty"`

	// Retry countdown, set on retry events.
	RetryIn      time.Duration `cbor:"7,keyasint,omitempty"`
	RetryTimeout time.Duration `cbor:"8,keyasint,omitempty"`

	Remediation []vpn.RemediationInstruction `cbor:"9,keyasint,omitempty"`
}

// Category classifies the event.
type Category uint8

const (
	// CategoryConnection marks the start of a connection attempt.
	CategoryConnection Category = 0
	// CategoryState is a connection state change.
	CategoryState Category = 1
	// CategoryError is an error state change.
	CategoryError Category = 2
	// CategoryImc is an integrity state change.
	CategoryImc Category = 3
	// CategoryRetry is a step of the reconnect countdown.
	CategoryRetry Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "CONNECTION"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryImc:
		return "IMC"
	case CategoryRetry:
		return "RETRY"
	default:
		return "UNKNOWN"
	}
}

// Logger receives events. Implementations must be safe for concurrent use.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
