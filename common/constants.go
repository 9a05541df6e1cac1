// Package common provides shared constants, types, and utilities
// used across the VPN State application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "org.vpnstate.app"
	// AppName is the display name of the application.
	AppName = "VPN State"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-state"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpn-state.log"
	HistoryFileName     = "history.db"
	EventLogFileName    = "events.vlog"
)

// Retry countdown timing.
const (
	// RetryTickInterval is the granularity of the reconnect countdown.
	RetryTickInterval = 1 * time.Second
	// MaxRetryTimeout caps the reconnect countdown.
	MaxRetryTimeout = 2 * time.Minute
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time the CLI waits for a connection.
	ConnectionTimeout = 30 * time.Second
	// DaemonStopTimeout is how long a stopped daemon gets before it is killed.
	DaemonStopTimeout = 5 * time.Second
)

// D-Bus names.
const (
	DBusInterface  = "org.vpnstate.State1"
	DBusObjectPath = "/org/vpnstate/State"
)
