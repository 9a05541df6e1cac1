// Package common provides shared constants, types, utilities, and interfaces
// used throughout the VPN State application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like retry timing and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage, notifications and logging
//   - Logger: Leveled logging with optional rotated file output
//   - Utils: Config and data directory helpers
//
// # Usage
//
//	// Use logger
//	common.LogInfo("Starting connection to %s", profileName)
//
//	// Check errors
//	if errors.Is(err, common.ErrProfileNotFound) {
//	    // Handle missing profile
//	}
package common
