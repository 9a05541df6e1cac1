package vpn

import (
	"errors"
	"testing"

	"github.com/yllada/vpn-state/common"
)

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisabled, "Disabled"},
		{StateConnecting, "Connecting"},
		{StateConnected, "Connected"},
		{StateDisconnecting, "Disconnecting"},
		{ConnectionState(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("ConnectionState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseErrorState(t *testing.T) {
	tests := []struct {
		input    string
		expected ErrorState
	}{
		{"None", ErrorNone},
		{"AuthFailed", ErrorAuthFailed},
		{"auth_failed", ErrorAuthFailed},
		{"peer_auth_failed", ErrorPeerAuthFailed},
		{" unreachable ", ErrorUnreachable},
		{"GenericError", ErrorGeneric},
		{"generic", ErrorGeneric},
		{"password_missing", ErrorPasswordMissing},
		{"certificate_unavailable", ErrorCertificateUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseErrorState(tt.input)
			if err != nil {
				t.Fatalf("ParseErrorState(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseErrorState(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}

	if _, err := ParseErrorState("exploded"); !errors.Is(err, common.ErrUnknownName) {
		t.Errorf("ParseErrorState(exploded) error = %v, want ErrUnknownName", err)
	}
}

func TestErrorState_Retryable(t *testing.T) {
	if ErrorNone.Retryable() {
		t.Error("ErrorNone should not be retryable")
	}
	if ErrorPasswordMissing.Retryable() {
		t.Error("ErrorPasswordMissing should not be retryable")
	}
	if !ErrorUnreachable.Retryable() {
		t.Error("ErrorUnreachable should be retryable")
	}
}

func TestParseImcState(t *testing.T) {
	for state, name := range imcStateNames {
		got, err := ParseImcState(name)
		if err != nil {
			t.Fatalf("ParseImcState(%q) error = %v", name, err)
		}
		if got != state {
			t.Errorf("ParseImcState(%q) = %v, want %v", name, got, state)
		}
	}
	if got := ImcState(42).String(); got != "ImcState(42)" {
		t.Errorf("ImcState(42).String() = %v", got)
	}
}

func TestParseConnectionState(t *testing.T) {
	got, err := ParseConnectionState("connected")
	if err != nil || got != StateConnected {
		t.Errorf("ParseConnectionState(connected) = %v, %v", got, err)
	}
	if _, err := ParseConnectionState("sleeping"); err == nil {
		t.Error("ParseConnectionState(sleeping) should fail")
	}
}

func TestErrorState_Description(t *testing.T) {
	if got := ErrorPasswordMissing.Description(); got != "A password is required" {
		t.Errorf("Description() = %v", got)
	}
	if got := ErrorState(42).Description(); got != "ErrorState(42)" {
		t.Errorf("Description() = %v, want ErrorState(42)", got)
	}
}
