package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/daemon"
	"github.com/yllada/vpn-state/vpn"
)

// Shell is an interactive prompt that plays the daemon by hand. Start and
// stop requests of the state service are printed, and the user reports
// states, errors and daemon output lines back.
type Shell struct {
	profiles *vpn.ProfileManager
	svc      *vpn.StateService

	mu  sync.Mutex
	out io.Writer

	// last is only touched by the state listener.
	last vpn.Snapshot
}

// NewShell creates a shell. Output goes to os.Stdout until Run starts.
func NewShell(profiles *vpn.ProfileManager) *Shell {
	return &Shell{profiles: profiles, out: os.Stdout}
}

// Daemon returns the daemon the state service should drive. Its requests
// are printed by the shell.
func (s *Shell) Daemon(logger common.Logger) *daemon.Manual {
	return daemon.NewManual(logger, func(action daemon.Action, profile *vpn.Profile) {
		switch action {
		case daemon.ActionStart:
			s.printf("daemon: start requested (%s), report with 'start', 'state', 'error' or 'log'\n", profile.DisplayName())
		case daemon.ActionStop:
			s.printf("daemon: stop requested, report with 'state disabled'\n")
		}
	})
}

// Attach connects the shell to svc and prints every notified change.
func (s *Shell) Attach(svc *vpn.StateService) vpn.ListenerHandle {
	s.svc = svc
	s.last = svc.Snapshot()
	return svc.RegisterListener(vpn.ListenerFunc(func() error {
		snap := svc.Snapshot()
		if snap.ConnectionID != s.last.ConnectionID {
			s.printf("connection #%d (%s)\n", snap.ConnectionID, snap.Profile.DisplayName())
		} else if line, ok := transitionLine(s.last, snap); ok {
			s.printf("%s\n", line)
		} else if snap.Retrying() {
			s.printf("  retrying in %s\n", formatDuration(snap.RetryIn))
		}
		s.last = snap
		return nil
	}))
}

func (s *Shell) writer() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

func (s *Shell) setWriter(w io.Writer) {
	s.mu.Lock()
	s.out = w
	s.mu.Unlock()
}

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.writer(), format, args...)
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vpn> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	s.setWriter(rl.Stdout())
	defer s.setWriter(os.Stdout)

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			s.printf("Exiting...\n")
			cancel()
			return nil
		}

		if s.Execute(line) {
			cancel()
			return nil
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "status", "s":
		printSnapshot(s.writer(), s.svc.Snapshot())

	case "profiles", "ls":
		for _, p := range s.profiles.List() {
			s.printf("  %s (%s)\n", p.Name, p.Gateway)
		}

	case "start":
		s.cmdStart(rest)

	case "state":
		s.cmdParse(args, "state", func(name string) error {
			state, err := vpn.ParseConnectionState(name)
			if err == nil {
				s.svc.SetState(state)
			}
			return err
		})

	case "error":
		s.cmdParse(args, "error", func(name string) error {
			e, err := vpn.ParseErrorState(name)
			if err == nil {
				s.svc.SetError(e)
			}
			return err
		})

	case "imc":
		s.cmdParse(args, "imc", func(name string) error {
			state, err := vpn.ParseImcState(name)
			if err == nil {
				s.svc.SetImcState(state)
			}
			return err
		})

	case "remediation":
		if rest == "" {
			s.printf("Usage: remediation <title>[: item1, item2]\n")
			return false
		}
		s.cmdLog("remediation: " + rest)

	case "log":
		if rest == "" {
			s.printf("Usage: log <daemon output line>\n")
			return false
		}
		s.cmdLog(rest)

	case "connect":
		s.svc.Connect()

	case "disconnect":
		s.svc.Disconnect()

	case "quit", "exit", "q":
		s.printf("Exiting...\n")
		return true

	default:
		s.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) cmdStart(ref string) {
	if ref == "" {
		s.svc.StartConnection(s.svc.Profile())
		return
	}
	profile, err := s.profiles.Find(ref)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.svc.StartConnection(profile)
}

func (s *Shell) cmdParse(args []string, what string, apply func(string) error) {
	if len(args) != 1 {
		s.printf("Usage: %s <name>\n", what)
		return
	}
	if err := apply(args[0]); err != nil {
		s.printf("Error: %v\n", err)
	}
}

func (s *Shell) cmdLog(line string) {
	event, ok := daemon.ClassifyLine(line)
	if !ok {
		s.printf("(no state in that line)\n")
		return
	}
	event.Apply(s.svc)
}

func (s *Shell) printHelp() {
	s.printf(`
VPN State Shell:
  Daemon reports:
    start [profile]                - A connection attempt began
    state <name>                   - Disabled, Connecting, Connected, Disconnecting
    error <name>                   - None, AuthFailed, PeerAuthFailed, LookupFailed,
                                     Unreachable, GenericError, PasswordMissing,
                                     CertificateUnavailable
    imc <name>                     - Unknown, Allow, Block or Isolate
    remediation <title>[: a, b]    - Add a remediation instruction
    log <line>                     - Classify a daemon output line

  Control:
    connect                        - Ask the daemon to start
    disconnect                     - Cancel retries and stop the daemon

  General:
    status                         - Show the current state
    profiles                       - List profiles
    help                           - Show this help
    quit                           - Exit
`)
}
