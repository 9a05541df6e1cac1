package vpn

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yllada/vpn-state/common"
)

// ServiceConfig holds configuration for the state service.
type ServiceConfig struct {
	// RetryTable holds the base reconnect timeout per error kind.
	RetryTable RetryTable
	// MaxRetryTimeout caps the reconnect countdown.
	MaxRetryTimeout time.Duration
	// Clock drives the countdown. Tests substitute a manual clock.
	Clock Clock
	// Logger receives operational messages.
	Logger common.Logger
}

// DefaultServiceConfig returns the configuration used by the application.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RetryTable:      DefaultRetryTable(),
		MaxRetryTimeout: common.MaxRetryTimeout,
		Clock:           SystemClock(),
		Logger:          common.GetLogger(),
	}
}

// StateService tracks the connection attempt, drives the reconnect
// countdown and notifies listeners.
//
// All state is owned by a single worker goroutine. Every mutator, listener
// registration and countdown tick is queued and applied by that worker in
// arrival order, so mutations never interleave and listeners never see a
// partially applied change. Queries read the snapshot published after the
// last applied request.
type StateService struct {
	mu       sync.Mutex
	running  bool
	stopped  bool
	stopChan chan struct{}
	done     chan struct{}
	closed   chan struct{}

	queue   *workQueue
	daemon  Daemon
	logger  common.Logger
	current atomic.Pointer[Snapshot]

	// owned by the worker
	store     stateStore
	retry     *retryScheduler
	listeners listenerRegistry
}

// NewStateService creates a state service that controls daemon. Call Start
// to begin applying requests; requests made before are kept in order.
func NewStateService(daemon Daemon, config ServiceConfig) *StateService {
	defaults := DefaultServiceConfig()
	if config.RetryTable == nil {
		config.RetryTable = defaults.RetryTable
	}
	if config.MaxRetryTimeout <= 0 {
		config.MaxRetryTimeout = defaults.MaxRetryTimeout
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := &StateService{
		queue:  newWorkQueue(),
		daemon: daemon,
		logger: config.Logger,
		closed: make(chan struct{}),
	}
	s.retry = newRetryScheduler(config.Clock, config.RetryTable.Clone(), config.MaxRetryTimeout, config.Logger)
	s.retry.enqueue = func(generation uint64) {
		s.queue.push(func() { s.handleRetryTick(generation) })
	}
	s.publish()
	return s
}

// Start launches the worker goroutine.
func (s *StateService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.stopped {
		s.logger.Warn("VPN: state service cannot be restarted")
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopChan, s.done)
	s.logger.Debug("VPN: state service started")
}

// Stop terminates the worker. Pending requests are discarded, the countdown
// is cancelled and later requests are ignored.
func (s *StateService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.running
	s.running = false
	s.stopped = true
	s.queue.close()
	close(s.closed)
	if wasRunning {
		close(s.stopChan)
	}
	done := s.done
	s.mu.Unlock()

	if wasRunning {
		<-done
	}
	// the worker is gone, so the scheduler has no other user
	s.retry.cancel()
	s.logger.Debug("VPN: state service stopped")
}

// IsRunning returns whether the worker is running.
func (s *StateService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *StateService) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-s.queue.wake:
			for _, work := range s.queue.drain() {
				select {
				case <-stop:
					return
				default:
				}
				work()
			}
		}
	}
}

// Sync waits until every request queued before the call has been applied.
func (s *StateService) Sync(ctx context.Context) error {
	reply := make(chan struct{})
	if !s.queue.push(func() { close(reply) }) {
		return common.ErrServiceStopped
	}
	select {
	case <-reply:
		return nil
	case <-s.closed:
		return common.ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues a mutation. change runs on the worker and reports whether
// listeners have to be notified.
func (s *StateService) post(what string, change func() bool) {
	ok := s.queue.push(func() {
		changed := change()
		s.publish()
		if changed {
			s.notifyListeners()
		}
	})
	if !ok {
		s.logger.Debug("VPN: %s dropped, state service stopped", what)
	}
}

func (s *StateService) publish() {
	snap := s.store.snapshot(s.retry)
	s.current.Store(&snap)
}

func (s *StateService) notifyListeners() {
	for _, entry := range s.listeners.snapshot() {
		s.deliver(entry)
	}
}

// deliver calls one listener, isolating its failure from the others.
func (s *StateService) deliver(entry listenerEntry) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("VPN: listener %s panicked: %v\n%s", entry.handle, p, debug.Stack())
		}
	}()
	if err := entry.listener.StateChanged(); err != nil {
		s.logger.Warn("VPN: listener %s failed: %v", entry.handle, err)
	}
}

// RegisterListener adds l to the set of notified listeners, effective from
// the next notification.
func (s *StateService) RegisterListener(l Listener) ListenerHandle {
	handle := newListenerHandle()
	s.queue.push(func() {
		s.listeners.add(handle, l)
	})
	return handle
}

// UnregisterListener removes the listener registered under handle, effective
// from the next notification.
func (s *StateService) UnregisterListener(handle ListenerHandle) {
	s.queue.push(func() {
		if !s.listeners.remove(handle) {
			s.logger.Debug("VPN: listener %s was not registered", handle)
		}
	})
}

// StartConnection records that a new connection attempt with profile began.
// Listeners are always notified, even if nothing else changed.
func (s *StateService) StartConnection(profile *Profile) {
	s.post("start connection", func() bool {
		s.retry.cancel()
		s.store.startConnection(profile)
		s.logger.Info("VPN: connection %d started (%s)", s.store.connectionID, profile.DisplayName())
		return true
	})
}

// SetState updates the connection state.
func (s *StateService) SetState(state ConnectionState) {
	s.post("set state", func() bool {
		if state == StateConnected {
			s.retry.resetAttempts()
		}
		old := s.store.state
		if !s.store.setState(state) {
			return false
		}
		s.logger.Info("VPN: state %s -> %s", old, state)
		return true
	})
}

// SetError updates the error state. Entering an error starts the reconnect
// countdown; clearing it cancels the countdown.
func (s *StateService) SetError(e ErrorState) {
	s.post("set error", func() bool {
		return s.applyError(e)
	})
}

func (s *StateService) applyError(e ErrorState) bool {
	old := s.store.errorState
	if old == e {
		return false
	}
	if old == ErrorNone {
		s.retry.start(e)
	} else if e == ErrorNone {
		s.retry.cancel()
	}
	s.store.setError(e)
	s.logger.Info("VPN: error %s -> %s", old, e)
	return true
}

// SetImcState updates the integrity state. ImcUnknown always clears the
// remediation instructions.
func (s *StateService) SetImcState(state ImcState) {
	s.post("set imc state", func() bool {
		return s.store.setImcState(state)
	})
}

// AddRemediationInstruction appends an instruction. Listeners are not
// notified; they see it with the next change.
func (s *StateService) AddRemediationInstruction(instruction RemediationInstruction) {
	s.post("add remediation instruction", func() bool {
		s.store.addRemediationInstruction(instruction)
		return false
	})
}

// Disconnect cancels any pending reconnect, asks the daemon to stop and
// clears the error state.
func (s *StateService) Disconnect() {
	s.post("disconnect", func() bool {
		s.retry.cancel()
		if s.daemon != nil {
			s.daemon.Stop()
		}
		return s.applyError(ErrorNone)
	})
}

// Connect asks the daemon to start with the current profile. The daemon
// reports the outcome later.
func (s *StateService) Connect() {
	s.post("connect", func() bool {
		s.startDaemon()
		return false
	})
}

func (s *StateService) startDaemon() {
	if s.daemon == nil {
		s.logger.Warn("VPN: connect requested but %v", common.ErrNoDaemon)
		return
	}
	s.daemon.Start(s.store.profile)
}

func (s *StateService) handleRetryTick(generation uint64) {
	switch s.retry.tick(generation) {
	case tickCountdown:
		s.publish()
		s.notifyListeners()
	case tickExpired:
		s.publish()
		s.logger.Info("VPN: retry countdown expired, reconnecting")
		s.startDaemon()
	}
}

// Snapshot returns the state as of the last applied request.
func (s *StateService) Snapshot() Snapshot {
	return *s.current.Load()
}

// ConnectionID returns the id of the current connection attempt.
func (s *StateService) ConnectionID() uint64 {
	return s.Snapshot().ConnectionID
}

// Profile returns the profile of the current connection attempt.
func (s *StateService) Profile() *Profile {
	return s.Snapshot().Profile
}

// State returns the connection state.
func (s *StateService) State() ConnectionState {
	return s.Snapshot().State
}

// ErrorState returns the error state.
func (s *StateService) ErrorState() ErrorState {
	return s.Snapshot().Error
}

// ImcState returns the integrity state.
func (s *StateService) ImcState() ImcState {
	return s.Snapshot().Imc
}

// RemediationInstructions returns a copy of the remediation instructions.
func (s *StateService) RemediationInstructions() []RemediationInstruction {
	instructions := s.Snapshot().RemediationInstructions
	out := make([]RemediationInstruction, len(instructions))
	copy(out, instructions)
	return out
}

// RetryTimeout returns the total length of the running reconnect countdown.
func (s *StateService) RetryTimeout() time.Duration {
	return s.Snapshot().RetryTimeout
}

// RetryIn returns the time left until the automatic reconnect.
func (s *StateService) RetryIn() time.Duration {
	return s.Snapshot().RetryIn
}
