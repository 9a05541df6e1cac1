// Package daemon runs the program that negotiates the tunnel and turns its
// output into state reports.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

// Config describes the daemon command line. Args may contain the
// placeholders {gateway}, {username}, {remote_id}, {certificate}, {name}
// and {password_file}.
type Config struct {
	Command string
	Args    []string
}

// Runner starts one daemon process per connection attempt.
type Runner struct {
	config Config
	creds  common.CredentialStore
	logger common.Logger

	// requests runs Start and Stop requests in the order they were made
	requests *common.Serial

	mu         sync.Mutex
	reporter   vpn.Reporter
	current    *process
	logHandler func(string)
	// attempt counts started connections; reports of an older attempt
	// are dropped
	attempt uint64
}

var _ vpn.Daemon = (*Runner)(nil)

type process struct {
	attempt  uint64
	profile  *vpn.Profile
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	credFile string

	stopping   atomic.Bool
	classified atomic.Bool
	done       chan struct{}
}

// NewRunner creates a Runner. creds may be nil when no profile uses
// password authentication.
func NewRunner(config Config, creds common.CredentialStore, logger common.Logger) *Runner {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Runner{
		config:   config,
		creds:    creds,
		logger:   logger,
		reporter: nopReporter{},
		requests: common.NewSerial(),
	}
}

// SetReporter sets the receiver of state reports.
func (r *Runner) SetReporter(reporter vpn.Reporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reporter == nil {
		reporter = nopReporter{}
	}
	r.reporter = reporter
}

// SetLogHandler sets a function that receives every line of daemon output.
func (r *Runner) SetLogHandler(handler func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logHandler = handler
}

// reportAs forwards a report made on behalf of attempt. Reports of an
// attempt that a newer Start replaced are dropped.
func (r *Runner) reportAs(attempt uint64, report func(vpn.Reporter)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attempt != r.attempt {
		r.logger.Debug("Daemon: dropping report of replaced attempt %d", attempt)
		return
	}
	report(r.reporter)
}

// fail reports a failed attempt.
func (r *Runner) fail(attempt uint64, e vpn.ErrorState) {
	r.reportAs(attempt, func(reporter vpn.Reporter) {
		reporter.SetError(e)
		reporter.SetState(vpn.StateDisabled)
	})
}

// Running reports whether a daemon process is alive.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Start launches the daemon for profile in the background. A running
// daemon is stopped first.
func (r *Runner) Start(profile *vpn.Profile) {
	r.requests.Go(func() { r.start(profile) })
}

// Stop terminates the running daemon in the background. A Start made
// before Stop is always launched and then stopped.
func (r *Runner) Stop() {
	r.requests.Go(r.stopCurrent)
}

// Wait blocks until all Start and Stop requests made so far are handled.
func (r *Runner) Wait() {
	r.requests.Wait()
}

func (r *Runner) start(profile *vpn.Profile) {
	r.stopCurrent()

	r.mu.Lock()
	r.attempt++
	attempt := r.attempt
	r.reporter.StartConnection(profile)
	r.mu.Unlock()

	if profile == nil {
		r.logger.Error("Daemon: start requested without a profile")
		r.fail(attempt, vpn.ErrorGeneric)
		return
	}

	password, err := r.password(profile)
	if err != nil {
		if errors.Is(err, common.ErrCredentialsNotFound) {
			r.logger.Warn("Daemon: no password stored for %s", profile.DisplayName())
			r.fail(attempt, vpn.ErrorPasswordMissing)
		} else {
			r.logger.Error("Daemon: reading credentials: %v", err)
			r.fail(attempt, vpn.ErrorGeneric)
		}
		return
	}

	if err := r.launch(attempt, profile, password); err != nil {
		r.logger.Error("Daemon: %v", err)
		r.fail(attempt, vpn.ErrorGeneric)
	}
}

// password returns the stored password, or "" for profiles without a user
// name.
func (r *Runner) password(profile *vpn.Profile) (string, error) {
	if profile.Username == "" {
		return "", nil
	}
	if r.creds == nil {
		return "", common.ErrCredentialsNotFound
	}
	return r.creds.Get(profile.ID)
}

// launch starts the process and makes it current.
func (r *Runner) launch(attempt uint64, profile *vpn.Profile, password string) error {
	if r.config.Command == "" {
		return common.ErrNoDaemon
	}

	p := &process{attempt: attempt, profile: profile, done: make(chan struct{})}
	if password != "" && needsPasswordFile(r.config.Args) {
		file, err := createCredentialsFile(profile.Username, password)
		if err != nil {
			return fmt.Errorf("%w: credentials file: %v", common.ErrDaemonFailed, err)
		}
		p.credFile = file
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	args := expandArgs(r.config.Args, profile, p.credFile)
	cmd := exec.CommandContext(ctx, r.config.Command, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = common.DaemonStopTimeout
	if password != "" {
		cmd.Stdin = strings.NewReader(password + "\n")
	}
	p.cmd = cmd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.cleanup()
		return fmt.Errorf("%w: %v", common.ErrDaemonFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.cleanup()
		return fmt.Errorf("%w: %v", common.ErrDaemonFailed, err)
	}

	r.logger.Info("Daemon: starting %s for %s", r.config.Command, profile.DisplayName())
	if err := cmd.Start(); err != nil {
		p.cleanup()
		return fmt.Errorf("%w: %v", common.ErrDaemonFailed, err)
	}
	r.logger.Debug("Daemon: process started with PID %d", cmd.Process.Pid)

	// current is set before wait can clear it
	r.mu.Lock()
	r.current = p
	r.mu.Unlock()

	var output sync.WaitGroup
	output.Add(2)
	go r.monitorOutput(p, stdout, &output)
	go r.monitorOutput(p, stderr, &output)
	go r.wait(p, &output)
	return nil
}

// monitorOutput classifies each line of output into a state report.
func (r *Runner) monitorOutput(p *process, pipe io.Reader, output *sync.WaitGroup) {
	defer output.Done()

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		r.logger.Debug("Daemon: %s", line)

		r.mu.Lock()
		handler := r.logHandler
		r.mu.Unlock()
		if handler != nil {
			handler(line)
		}

		event, ok := ClassifyLine(line)
		if !ok {
			continue
		}
		if event.Kind == EventError {
			p.classified.Store(true)
		}
		r.reportAs(p.attempt, event.Apply)
	}
}

func (r *Runner) wait(p *process, output *sync.WaitGroup) {
	// the pipes must be drained before Wait closes them
	output.Wait()
	err := p.cmd.Wait()
	p.cleanup()

	r.mu.Lock()
	if r.current == p {
		r.current = nil
	}
	r.mu.Unlock()

	unexpected := false
	switch {
	case p.stopping.Load():
		r.logger.Info("Daemon: stopped")
	case p.classified.Load():
		r.logger.Info("Daemon: exited after reporting an error")
	default:
		r.logger.Warn("Daemon: exited unexpectedly: %v", exitReason(err))
		unexpected = true
	}
	r.reportAs(p.attempt, func(reporter vpn.Reporter) {
		if unexpected {
			reporter.SetError(vpn.ErrorGeneric)
		}
		reporter.SetState(vpn.StateDisabled)
	})
	close(p.done)
}

// stopCurrent terminates the running process and waits for it to exit.
// It only runs on the request queue.
func (r *Runner) stopCurrent() {
	r.mu.Lock()
	p := r.current
	r.mu.Unlock()
	if p == nil {
		return
	}

	r.logger.Info("Daemon: stopping %s", p.profile.DisplayName())
	p.stopping.Store(true)
	r.reportAs(p.attempt, func(reporter vpn.Reporter) {
		reporter.SetState(vpn.StateDisconnecting)
	})
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(2 * common.DaemonStopTimeout):
		// its late reports are dropped once the next attempt starts
		r.logger.Error("Daemon: process did not exit")
		r.mu.Lock()
		if r.current == p {
			r.current = nil
		}
		r.mu.Unlock()
	}
}

func (p *process) cleanup() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.credFile != "" {
		os.Remove(p.credFile)
		p.credFile = ""
	}
}

func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

func needsPasswordFile(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, "{password_file}") {
			return true
		}
	}
	return false
}

// expandArgs substitutes the profile placeholders in args.
func expandArgs(args []string, profile *vpn.Profile, passwordFile string) []string {
	replacer := strings.NewReplacer(
		"{gateway}", profile.Gateway,
		"{username}", profile.Username,
		"{remote_id}", profile.RemoteID,
		"{certificate}", profile.CertificateAlias,
		"{name}", profile.Name,
		"{password_file}", passwordFile,
	)

	out := make([]string, 0, len(args))
	for _, arg := range args {
		expanded := replacer.Replace(arg)
		// options whose placeholder expanded to nothing are dropped along
		// with their flag
		if expanded == "" && arg != "" {
			if n := len(out); n > 0 && strings.HasPrefix(out[n-1], "-") {
				out = out[:n-1]
			}
			continue
		}
		out = append(out, expanded)
	}
	return out
}

// createCredentialsFile writes user name and password to a private
// temporary file.
func createCredentialsFile(username, password string) (string, error) {
	dir := filepath.Join(os.TempDir(), common.ConfigDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "cred-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Chmod(0600); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", username, password); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

type nopReporter struct{}

func (nopReporter) StartConnection(*vpn.Profile)                        {}
func (nopReporter) SetState(vpn.ConnectionState)                        {}
func (nopReporter) SetError(vpn.ErrorState)                             {}
func (nopReporter) SetImcState(vpn.ImcState)                            {}
func (nopReporter) AddRemediationInstruction(vpn.RemediationInstruction) {}
