package vpn

import (
	"fmt"
	"strings"

	"github.com/yllada/vpn-state/common"
)

// ConnectionState represents the lifecycle state of the VPN connection.
type ConnectionState int

const (
	// StateDisabled indicates no connection is active or being attempted.
	StateDisabled ConnectionState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates an established connection.
	StateConnected
	// StateDisconnecting indicates the connection is being torn down.
	StateDisconnecting
)

var connectionStateNames = map[ConnectionState]string{
	StateDisabled:      "Disabled",
	StateConnecting:    "Connecting",
	StateConnected:     "Connected",
	StateDisconnecting: "Disconnecting",
}

// String returns a human-readable representation of the connection state.
func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseConnectionState parses a state name, case-insensitively.
func ParseConnectionState(s string) (ConnectionState, error) {
	for state, name := range connectionStateNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return state, nil
		}
	}
	return StateDisabled, fmt.Errorf("%w: connection state %q", common.ErrUnknownName, s)
}

// ErrorState classifies why a connection attempt failed. ErrorNone means no
// failure is outstanding.
type ErrorState int

const (
	ErrorNone ErrorState = iota
	ErrorAuthFailed
	ErrorPeerAuthFailed
	ErrorLookupFailed
	ErrorUnreachable
	ErrorGeneric
	ErrorPasswordMissing
	ErrorCertificateUnavailable
)

var errorStateNames = map[ErrorState]string{
	ErrorNone:                   "None",
	ErrorAuthFailed:             "AuthFailed",
	ErrorPeerAuthFailed:         "PeerAuthFailed",
	ErrorLookupFailed:           "LookupFailed",
	ErrorUnreachable:            "Unreachable",
	ErrorGeneric:                "GenericError",
	ErrorPasswordMissing:        "PasswordMissing",
	ErrorCertificateUnavailable: "CertificateUnavailable",
}

// String returns the name of the error kind.
func (e ErrorState) String() string {
	if name, ok := errorStateNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ErrorState(%d)", int(e))
}

var errorDescriptions = map[ErrorState]string{
	ErrorAuthFailed:             "Authentication failed",
	ErrorPeerAuthFailed:         "The server could not be authenticated",
	ErrorLookupFailed:           "The server address could not be resolved",
	ErrorUnreachable:            "The server is unreachable",
	ErrorGeneric:                "The connection failed",
	ErrorPasswordMissing:        "A password is required",
	ErrorCertificateUnavailable: "The client certificate is not available",
}

// Description returns a short sentence describing the error for the user.
func (e ErrorState) Description() string {
	if msg, ok := errorDescriptions[e]; ok {
		return msg
	}
	return e.String()
}

// Retryable reports whether the error kind drives an automatic reconnect.
// PasswordMissing needs user input and is never retried.
func (e ErrorState) Retryable() bool {
	return e != ErrorNone && e != ErrorPasswordMissing
}

// ParseErrorState parses an error kind name. Both the display names
// ("AuthFailed") and snake case ("auth_failed") are accepted.
func ParseErrorState(s string) (ErrorState, error) {
	key := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	for kind, name := range errorStateNames {
		if strings.EqualFold(name, key) {
			return kind, nil
		}
	}
	if strings.EqualFold(key, "generic") {
		return ErrorGeneric, nil
	}
	return ErrorNone, fmt.Errorf("%w: error state %q", common.ErrUnknownName, s)
}

// ImcState is the result of the network access control integrity check.
// Only ImcUnknown has meaning to the coordinator: it clears the remediation
// instructions.
type ImcState int

const (
	ImcUnknown ImcState = iota
	ImcAllow
	ImcIsolate
	ImcBlock
)

var imcStateNames = map[ImcState]string{
	ImcUnknown: "Unknown",
	ImcAllow:   "Allow",
	ImcIsolate: "Isolate",
	ImcBlock:   "Block",
}

// String returns the name of the integrity state.
func (s ImcState) String() string {
	if name, ok := imcStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ImcState(%d)", int(s))
}

// ParseImcState parses an integrity state name, case-insensitively.
func ParseImcState(s string) (ImcState, error) {
	for state, name := range imcStateNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return state, nil
		}
	}
	return ImcUnknown, fmt.Errorf("%w: imc state %q", common.ErrUnknownName, s)
}

// RemediationInstruction describes how the client has to remediate to regain
// network access. The coordinator only stores and hands these out.
type RemediationInstruction struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Header      string   `json:"header,omitempty" yaml:"header,omitempty"`
	Items       []string `json:"items,omitempty" yaml:"items,omitempty"`
}
