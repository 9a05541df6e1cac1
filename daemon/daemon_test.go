package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want Event
		ok   bool
	}{
		{"initiating IKE_SA vpn[1] to 192.0.2.1", Event{Kind: EventState, State: vpn.StateConnecting}, true},
		{"CHILD_SA vpn{1} established with SPIs c1e9a3f0_i", Event{Kind: EventState, State: vpn.StateConnected}, true},
		{"deleting IKE_SA vpn[1] between 10.0.0.2...192.0.2.1", Event{Kind: EventState, State: vpn.StateDisconnecting}, true},
		{"received AUTHENTICATION_FAILED notify error", Event{Kind: EventError, Error: vpn.ErrorAuthFailed}, true},
		{"EAP method EAP_MSCHAPV2 failed for peer 192.0.2.1", Event{Kind: EventError, Error: vpn.ErrorAuthFailed}, true},
		{"EAP method EAP_MSCHAPV2 succeeded, MSK established", Event{}, false},
		{"constraint check failed: identity 'vpn.example.com' required", Event{Kind: EventError, Error: vpn.ErrorPeerAuthFailed}, true},
		{"authentication of 'vpn.example.com' with RSA signature successful", Event{}, false},
		{"unable to resolve vpn.example.com, initiate aborted", Event{Kind: EventError, Error: vpn.ErrorLookupFailed}, true},
		{"giving up after 5 retransmits", Event{Kind: EventError, Error: vpn.ErrorUnreachable}, true},
		{"no private key found for 'CN=alice'", Event{Kind: EventError, Error: vpn.ErrorCertificateUnavailable}, true},
		{"TNC recommendation is 'isolate'", Event{Kind: EventImc, Imc: vpn.ImcIsolate}, true},
		{"TNC recommendation is 'no access'", Event{Kind: EventImc, Imc: vpn.ImcBlock}, true},
		{"sending packet: from 10.0.0.2[4500] to 192.0.2.1[4500]", Event{}, false},
		{"checking CHILD_SA rekeying", Event{}, false},
		{"remediation: Update antivirus", Event{Kind: EventRemediation, Remediation: vpn.RemediationInstruction{Title: "Update antivirus"}}, true},
		{"remediation: Install packages: openssl, libc6", Event{Kind: EventRemediation, Remediation: vpn.RemediationInstruction{
			Title: "Install packages",
			Items: []string{"openssl", "libc6"},
		}}, true},
		{"remediation:", Event{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ClassifyLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandArgs(t *testing.T) {
	profile := &vpn.Profile{Name: "office", Gateway: "vpn.example.com", Username: "alice"}

	got := expandArgs([]string{"--host", "{gateway}", "--identity", "{username}", "--remote-identity", "{remote_id}", "--profile", "{name}"}, profile, "")
	assert.Equal(t, []string{"--host", "vpn.example.com", "--identity", "alice", "--profile", "office"}, got)

	got = expandArgs([]string{"--secrets={password_file}"}, profile, "/tmp/cred")
	assert.Equal(t, []string{"--secrets=/tmp/cred"}, got)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) StartConnection(profile *vpn.Profile) { m.Called(profile) }
func (m *mockReporter) SetState(state vpn.ConnectionState)   { m.Called(state) }
func (m *mockReporter) SetError(e vpn.ErrorState)            { m.Called(e) }
func (m *mockReporter) SetImcState(state vpn.ImcState)       { m.Called(state) }
func (m *mockReporter) AddRemediationInstruction(instruction vpn.RemediationInstruction) {
	m.Called(instruction)
}

type memoryCreds struct {
	mu        sync.Mutex
	passwords map[string]string
}

func (c *memoryCreds) Store(id, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwords[id] = password
	return nil
}

func (c *memoryCreds) Get(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.passwords[id]; ok {
		return p, nil
	}
	return "", common.ErrCredentialsNotFound
}

func (c *memoryCreds) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.passwords, id)
	return nil
}

// disabledSignal returns a channel closed when the reporter sees Disabled.
func disabledSignal(r *mockReporter) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	r.On("SetState", vpn.StateDisabled).Run(func(mock.Arguments) {
		once.Do(func() { close(done) })
	}).Maybe()
	return done
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the daemon")
	}
}

func TestRunner_PasswordMissing(t *testing.T) {
	profile := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com", Username: "alice"}
	reporter := &mockReporter{}
	reporter.On("StartConnection", profile).Once()
	reporter.On("SetError", vpn.ErrorPasswordMissing).Once()
	done := disabledSignal(reporter)

	r := NewRunner(Config{Command: "charon-cmd"}, &memoryCreds{passwords: map[string]string{}}, common.NopLogger{})
	r.SetReporter(reporter)
	r.Start(profile)

	waitFor(t, done)
	reporter.AssertExpectations(t)
	assert.False(t, r.Running())
}

func TestRunner_MissingCommand(t *testing.T) {
	profile := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com"}
	reporter := &mockReporter{}
	reporter.On("StartConnection", profile).Once()
	reporter.On("SetError", vpn.ErrorGeneric).Once()
	done := disabledSignal(reporter)

	r := NewRunner(Config{Command: filepath.Join(t.TempDir(), "missing")}, nil, common.NopLogger{})
	r.SetReporter(reporter)
	r.Start(profile)

	waitFor(t, done)
	reporter.AssertExpectations(t)
}

func TestRunner_ClassifiesOutput(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	script := `read pw; [ "$pw" = "hunter2" ] || exit 3
echo "initiating IKE_SA vpn[1] to {gateway}"
echo "remediation: Enable firewall"
echo "giving up after 5 retransmits" >&2
exit 1`
	profile := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com", Username: "alice"}

	reporter := &mockReporter{}
	reporter.On("StartConnection", profile).Once()
	reporter.On("SetState", vpn.StateConnecting).Once()
	reporter.On("AddRemediationInstruction", vpn.RemediationInstruction{Title: "Enable firewall"}).Once()
	reporter.On("SetError", vpn.ErrorUnreachable).Once()
	done := disabledSignal(reporter)

	var lines []string
	var mu sync.Mutex
	r := NewRunner(Config{Command: sh, Args: []string{"-c", script}}, &memoryCreds{passwords: map[string]string{"p1": "hunter2"}}, common.NopLogger{})
	r.SetReporter(reporter)
	r.SetLogHandler(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	r.Start(profile)

	waitFor(t, done)
	reporter.AssertExpectations(t)
	reporter.AssertNotCalled(t, "SetError", vpn.ErrorGeneric)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, lines, "initiating IKE_SA vpn[1] to vpn.example.com")
}

func TestRunner_UnclassifiedExitIsGenericError(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	profile := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com"}
	reporter := &mockReporter{}
	reporter.On("StartConnection", profile).Once()
	reporter.On("SetError", vpn.ErrorGeneric).Once()
	done := disabledSignal(reporter)

	r := NewRunner(Config{Command: sh, Args: []string{"-c", "exit 2"}}, nil, common.NopLogger{})
	r.SetReporter(reporter)
	r.Start(profile)

	waitFor(t, done)
	reporter.AssertExpectations(t)
}

func TestRunner_StopIsNotAnError(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	profile := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com"}
	started := make(chan struct{})
	reporter := &mockReporter{}
	reporter.On("StartConnection", profile).Once()
	reporter.On("SetState", vpn.StateConnected).Run(func(mock.Arguments) { close(started) }).Once()
	reporter.On("SetState", vpn.StateDisconnecting).Once()
	done := disabledSignal(reporter)

	script := `echo "CHILD_SA vpn{1} established"; exec sleep 30`
	r := NewRunner(Config{Command: sh, Args: []string{"-c", script}}, nil, common.NopLogger{})
	r.SetReporter(reporter)
	r.Start(profile)
	waitFor(t, started)
	require.Eventually(t, r.Running, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	waitFor(t, done)
	reporter.AssertExpectations(t)
	reporter.AssertNotCalled(t, "SetError", mock.Anything)
}

// waitIdle waits until r handled every request made so far.
func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	idle := make(chan struct{})
	go func() {
		r.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for the runner")
	}
}

func TestRunner_StopRightAfterStart(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	for i := 0; i < 20; i++ {
		profile := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com"}
		reporter := &mockReporter{}
		reporter.On("StartConnection", profile).Once()
		reporter.On("SetState", vpn.StateDisconnecting).Once()
		reporter.On("SetState", vpn.StateDisabled).Once()

		r := NewRunner(Config{Command: sleep, Args: []string{"30"}}, nil, common.NopLogger{})
		r.SetReporter(reporter)
		r.Start(profile)
		r.Stop()

		waitIdle(t, r)
		require.False(t, r.Running(), "daemon left running after Start and Stop")
		reporter.AssertExpectations(t)
		reporter.AssertNotCalled(t, "SetError", mock.Anything)
	}
}

func TestRunner_RequestsRunInOrder(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	first := &vpn.Profile{ID: "p1", Name: "office", Gateway: "vpn.example.com"}
	second := &vpn.Profile{ID: "p2", Name: "home", Gateway: "home.example.com"}

	var mu sync.Mutex
	var started []string
	reporter := &mockReporter{}
	reporter.On("StartConnection", mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		started = append(started, args.Get(0).(*vpn.Profile).Name)
		mu.Unlock()
	})
	reporter.On("SetState", mock.Anything)

	r := NewRunner(Config{Command: sleep, Args: []string{"30"}}, nil, common.NopLogger{})
	r.SetReporter(reporter)
	r.Start(first)
	r.Start(second)
	r.Stop()

	waitIdle(t, r)
	assert.False(t, r.Running())
	reporter.AssertNotCalled(t, "SetError", mock.Anything)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"office", "home"}, started)
}

func TestRunner_DropsReportsOfReplacedAttempt(t *testing.T) {
	reporter := &mockReporter{}
	reporter.On("SetState", vpn.StateDisabled).Once()

	r := NewRunner(Config{}, nil, common.NopLogger{})
	r.SetReporter(reporter)
	r.mu.Lock()
	r.attempt = 2
	r.mu.Unlock()

	disable := func(reporter vpn.Reporter) { reporter.SetState(vpn.StateDisabled) }
	r.reportAs(1, disable)
	reporter.AssertNotCalled(t, "SetState", vpn.StateDisabled)

	r.reportAs(2, disable)
	reporter.AssertExpectations(t)
}

func TestCreateCredentialsFile(t *testing.T) {
	path, err := createCredentialsFile("alice", "hunter2")
	require.NoError(t, err)
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice\nhunter2\n", string(data))
}

func TestManual(t *testing.T) {
	var actions []Action
	m := NewManual(common.NopLogger{}, func(a Action, _ *vpn.Profile) {
		actions = append(actions, a)
	})

	m.Start(&vpn.Profile{Name: "office"})
	m.Stop()
	assert.Equal(t, []Action{ActionStart, ActionStop}, actions)
}
