package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

func newTestShell(t *testing.T) (*Shell, *vpn.StateService, *syncBuffer) {
	t.Helper()
	profiles, err := vpn.NewProfileManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, profiles.Add(&vpn.Profile{Name: "office", Gateway: "vpn.example.com"}))

	out := &syncBuffer{}
	shell := NewShell(profiles)
	shell.setWriter(out)

	svc := vpn.NewStateService(shell.Daemon(common.NopLogger{}), vpn.ServiceConfig{Logger: common.NopLogger{}})
	shell.Attach(svc)
	svc.Start()
	t.Cleanup(svc.Stop)
	return shell, svc, out
}

func run(t *testing.T, shell *Shell, svc *vpn.StateService, lines ...string) {
	t.Helper()
	for _, line := range lines {
		assert.False(t, shell.Execute(line), line)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Sync(ctx))
}

func TestShell_ReportsDriveTheService(t *testing.T) {
	shell, svc, out := newTestShell(t)

	run(t, shell, svc, "start office", "state connecting", "state CONNECTED")
	snap := svc.Snapshot()
	assert.Equal(t, uint64(1), snap.ConnectionID)
	assert.Equal(t, "office", snap.Profile.DisplayName())
	assert.Equal(t, vpn.StateConnected, snap.State)
	assert.Contains(t, out.String(), "connection #1 (office)")
	assert.Contains(t, out.String(), "• Connected")

	run(t, shell, svc, "imc isolate", "remediation Update antivirus: signatures, engine")
	snap = svc.Snapshot()
	assert.Equal(t, vpn.ImcIsolate, snap.Imc)
	require.Len(t, snap.RemediationInstructions, 1)
	assert.Equal(t, "Update antivirus", snap.RemediationInstructions[0].Title)
	assert.Equal(t, []string{"signatures", "engine"}, snap.RemediationInstructions[0].Items)
}

func TestShell_LogLines(t *testing.T) {
	shell, svc, out := newTestShell(t)

	run(t, shell, svc, "start", "log giving up after 5 tries")
	snap := svc.Snapshot()
	assert.Nil(t, snap.Profile)
	assert.Equal(t, vpn.ErrorUnreachable, snap.Error)
	assert.True(t, snap.Retrying())

	run(t, shell, svc, "log nothing interesting here")
	assert.Contains(t, out.String(), "(no state in that line)")

	run(t, shell, svc, "disconnect")
	assert.Equal(t, vpn.ErrorNone, svc.ErrorState())
	assert.False(t, svc.Snapshot().Retrying())
	assert.Contains(t, out.String(), "daemon: stop requested")
}

func TestShell_Connect(t *testing.T) {
	shell, svc, out := newTestShell(t)

	run(t, shell, svc, "start office", "connect")
	assert.Contains(t, out.String(), "daemon: start requested (office)")
}

func TestShell_Errors(t *testing.T) {
	shell, svc, out := newTestShell(t)

	run(t, shell, svc,
		"state",
		"state bogus",
		"error nope",
		"start missing",
		"frobnicate",
		"log",
	)

	text := out.String()
	assert.Contains(t, text, "Usage: state <name>")
	assert.Contains(t, text, "unknown name")
	assert.Contains(t, text, "profile not found")
	assert.Contains(t, text, "Unknown command: frobnicate")
	assert.Contains(t, text, "Usage: log")
	assert.Equal(t, vpn.StateDisabled, svc.State())
	assert.Zero(t, svc.ConnectionID())
}

func TestShell_Exit(t *testing.T) {
	shell, _, _ := newTestShell(t)

	assert.False(t, shell.Execute("   "))
	assert.True(t, shell.Execute("quit"))
	assert.True(t, shell.Execute("exit"))
}
