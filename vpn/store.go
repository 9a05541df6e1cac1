package vpn

import "time"

// Snapshot is an immutable copy of the coordinator state, published after
// every request the service applies.
type Snapshot struct {
	ConnectionID            uint64
	Profile                 *Profile
	State                   ConnectionState
	Error                   ErrorState
	Imc                     ImcState
	RemediationInstructions []RemediationInstruction
	// RetryTimeout is the total length of the running reconnect countdown.
	RetryTimeout time.Duration
	// RetryIn is the time left until the reconnect.
	RetryIn time.Duration
}

// RetryTimeoutSeconds returns RetryTimeout in whole seconds.
func (s Snapshot) RetryTimeoutSeconds() int {
	return int(s.RetryTimeout / time.Second)
}

// RetryInSeconds returns RetryIn in whole seconds.
func (s Snapshot) RetryInSeconds() int {
	return int(s.RetryIn / time.Second)
}

// Retrying reports whether a reconnect countdown is running.
func (s Snapshot) Retrying() bool {
	return s.RetryTimeout > 0
}

// stateStore is the authoritative state. Only the service worker reads or
// writes it.
type stateStore struct {
	connectionID uint64
	profile      *Profile
	state        ConnectionState
	errorState   ErrorState
	imcState     ImcState
	remediation  []RemediationInstruction
}

// startConnection resets the store for a fresh attempt with profile.
func (s *stateStore) startConnection(profile *Profile) {
	s.connectionID++
	s.profile = profile
	s.state = StateConnecting
	s.errorState = ErrorNone
	s.imcState = ImcUnknown
	s.remediation = nil
}

func (s *stateStore) setState(state ConnectionState) bool {
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *stateStore) setError(e ErrorState) bool {
	if s.errorState == e {
		return false
	}
	s.errorState = e
	return true
}

func (s *stateStore) setImcState(state ImcState) bool {
	if state == ImcUnknown {
		s.remediation = nil
	}
	if s.imcState == state {
		return false
	}
	s.imcState = state
	return true
}

func (s *stateStore) addRemediationInstruction(instruction RemediationInstruction) {
	s.remediation = append(s.remediation, instruction)
}

func (s *stateStore) snapshot(retry *retryScheduler) Snapshot {
	snap := Snapshot{
		ConnectionID: s.connectionID,
		Profile:      s.profile,
		State:        s.state,
		Error:        s.errorState,
		Imc:          s.imcState,
		RetryTimeout: retry.total,
		RetryIn:      retry.remaining,
	}
	if len(s.remediation) > 0 {
		snap.RemediationInstructions = make([]RemediationInstruction, len(s.remediation))
		copy(snap.RemediationInstructions, s.remediation)
	}
	return snap
}
