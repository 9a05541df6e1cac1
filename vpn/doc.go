// Package vpn tracks the state of a VPN connection and schedules automatic
// reconnects.
//
// # Architecture
//
// StateService is the coordinator. It owns:
//
//   - the connection record: id, profile, connection state, error state,
//     integrity state and remediation instructions
//   - the retry countdown, which backs off exponentially per error kind
//   - the set of registered listeners
//
// # Concurrency
//
// Mutators may be called from any goroutine. Each call is queued and applied
// by one worker goroutine in arrival order; countdown ticks go through the
// same queue. After applying a request the worker publishes an immutable
// Snapshot and, if observable state changed, calls every listener. Queries
// read the latest Snapshot without blocking.
//
// # Reconnect Flow
//
//  1. The daemon reports an error through SetError
//  2. The service sizes a countdown from the RetryTable and the attempt count
//  3. Listeners are notified once per second while the countdown runs
//  4. When it expires the service asks the daemon to start again
//
// Disconnect, StartConnection or clearing the error cancel the countdown.
package vpn
