// Package cli provides the command-line interface of VPN State: profile
// management, foreground connections, a live status view and an
// interactive shell.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/eventlog"
	"github.com/yllada/vpn-state/history"
	"github.com/yllada/vpn-state/vpn"
)

// Options holds the collaborators of a CLI.
type Options struct {
	Profiles    *vpn.ProfileManager
	Service     *vpn.StateService
	Daemon      vpn.Daemon
	Credentials common.CredentialStore
	// History may be nil when the history is disabled.
	History *history.Store
	// Out defaults to os.Stdout.
	Out io.Writer
	// ReadPassword defaults to reading from the terminal without echo.
	ReadPassword func(prompt string) (string, error)
}

// CLI represents the command-line interface.
type CLI struct {
	profiles     *vpn.ProfileManager
	service      *vpn.StateService
	daemon       vpn.Daemon
	creds        common.CredentialStore
	history      *history.Store
	out          io.Writer
	readPassword func(prompt string) (string, error)
}

// New creates a new CLI instance.
func New(opts Options) *CLI {
	c := &CLI{
		profiles:     opts.Profiles,
		service:      opts.Service,
		daemon:       opts.Daemon,
		creds:        opts.Credentials,
		history:      opts.History,
		out:          opts.Out,
		readPassword: opts.ReadPassword,
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.readPassword == nil {
		c.readPassword = c.terminalPassword
	}
	return c
}

func (c *CLI) terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password required but stdin is not a terminal")
	}
	fmt.Fprint(c.out, prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListProfiles lists all configured VPN profiles.
func (c *CLI) ListProfiles() error {
	profiles := c.profiles.List()
	if len(profiles) == 0 {
		fmt.Fprintln(c.out, "No VPN profiles configured.")
		fmt.Fprintln(c.out, "Add one with: vpn-state --add-profile NAME --gateway HOST")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGATEWAY\tUSER\tAUTO-CONNECT\tLAST USED")
	fmt.Fprintln(w, "--\t----\t-------\t----\t------------\t---------")

	for _, profile := range profiles {
		autoConnect := "No"
		if profile.AutoConnect {
			autoConnect = "Yes"
		}
		user := profile.Username
		if user == "" {
			user = "-"
		}
		lastUsed := "never"
		if !profile.LastUsed.IsZero() {
			lastUsed = profile.LastUsed.Format("2006-01-02 15:04")
		}

		// Truncate ID for display
		shortID := profile.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID, profile.Name, profile.Gateway, user, autoConnect, lastUsed)
	}
	return w.Flush()
}

// AddProfile stores a new profile. For profiles with a user name and
// SavePassword set, the password is asked for and saved in the keyring.
func (c *CLI) AddProfile(profile *vpn.Profile) error {
	if err := c.profiles.Add(profile); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Added profile %s (%s)\n", profile.Name, profile.ID)

	if profile.Username == "" || !profile.SavePassword {
		return nil
	}
	password, err := c.readPassword(fmt.Sprintf("Password for %s@%s: ", profile.Username, profile.Gateway))
	if err != nil {
		return err
	}
	if err := c.creds.Store(profile.ID, password); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}
	fmt.Fprintln(c.out, "✓ Password saved")
	return nil
}

// ensurePassword makes sure the daemon finds a password for profile. A
// password that should not be saved is removed again by the returned
// function.
func (c *CLI) ensurePassword(profile *vpn.Profile) (func(), error) {
	noop := func() {}
	if profile.Username == "" || c.creds == nil {
		return noop, nil
	}
	if _, err := c.creds.Get(profile.ID); err == nil {
		return noop, nil
	} else if !errors.Is(err, common.ErrCredentialsNotFound) {
		return noop, err
	}

	password, err := c.readPassword(fmt.Sprintf("Password for %s@%s: ", profile.Username, profile.Gateway))
	if err != nil {
		return noop, err
	}
	if err := c.creds.Store(profile.ID, password); err != nil {
		return noop, err
	}
	if profile.SavePassword {
		return noop, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := c.creds.Delete(profile.ID); err != nil {
				common.LogWarn("CLI: could not remove temporary password: %v", err)
			}
		})
	}, nil
}

// Connect connects to a VPN profile by name or ID and stays in the
// foreground until ctx is cancelled, then disconnects.
func (c *CLI) Connect(ctx context.Context, nameOrID string) error {
	profile, err := c.profiles.Find(strings.TrimSpace(nameOrID))
	if err != nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}

	snap := c.service.Snapshot()
	if snap.State == vpn.StateConnected && snap.Profile != nil && snap.Profile.ID == profile.ID {
		return fmt.Errorf("already connected to %s", profile.Name)
	}

	forget, err := c.ensurePassword(profile)
	if err != nil {
		return err
	}
	defer forget()

	changed := make(chan struct{}, 1)
	handle := c.service.RegisterListener(vpn.ListenerFunc(func() error {
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	}))
	defer c.service.UnregisterListener(handle)

	before := c.service.ConnectionID()
	fmt.Fprintf(c.out, "Connecting to %s...\n", profile.Name)
	c.daemon.Start(profile)
	if err := c.profiles.MarkUsed(profile.ID); err != nil {
		common.LogWarn("CLI: could not update profile: %v", err)
	}

	if err := c.waitConnected(ctx, before, changed); err != nil {
		c.disconnect(changed)
		return err
	}
	forget()
	fmt.Fprintf(c.out, "✓ Connected to %s\n", profile.Name)
	fmt.Fprintln(c.out, "Press Ctrl+C to disconnect.")

	c.follow(ctx, changed)
	c.disconnect(changed)
	fmt.Fprintf(c.out, "✓ Disconnected from %s\n", profile.Name)
	return nil
}

func (c *CLI) waitConnected(ctx context.Context, before uint64, changed <-chan struct{}) error {
	timeout := time.NewTimer(common.ConnectionTimeout)
	defer timeout.Stop()

	var reported vpn.ErrorState
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("connection %w", common.ErrTimeout)
		case <-changed:
		}

		snap := c.service.Snapshot()
		if snap.ConnectionID <= before {
			continue
		}
		switch {
		case snap.State == vpn.StateConnected:
			return nil
		case snap.Error == vpn.ErrorNone:
		case !snap.Error.Retryable():
			return fmt.Errorf("connection failed: %s", snap.Error.Description())
		case snap.Error != reported && snap.Retrying():
			reported = snap.Error
			fmt.Fprintf(c.out, "  %s, retrying in %s\n", snap.Error.Description(), formatDuration(snap.RetryIn))
		}
	}
}

// follow prints transitions until ctx is done.
func (c *CLI) follow(ctx context.Context, changed <-chan struct{}) {
	last := c.service.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
		snap := c.service.Snapshot()
		if line, ok := transitionLine(last, snap); ok {
			fmt.Fprintln(c.out, line)
		}
		last = snap
	}
}

// disconnect asks the service to disconnect and waits until the daemon
// reports Disabled.
func (c *CLI) disconnect(changed <-chan struct{}) {
	c.service.Disconnect()

	deadline := time.NewTimer(2 * common.DaemonStopTimeout)
	defer deadline.Stop()
	for c.service.State() != vpn.StateDisabled {
		select {
		case <-changed:
		case <-deadline.C:
			common.LogWarn("CLI: daemon did not report the disconnect")
			return
		}
	}
}

// transitionLine describes the change from prev to cur in one line.
func transitionLine(prev, cur vpn.Snapshot) (string, bool) {
	switch {
	case cur.Error != prev.Error && cur.Error != vpn.ErrorNone:
		if cur.Retrying() {
			return fmt.Sprintf("✗ %s, retrying in %s", cur.Error.Description(), formatDuration(cur.RetryIn)), true
		}
		return fmt.Sprintf("✗ %s", cur.Error.Description()), true
	case cur.State != prev.State:
		return fmt.Sprintf("• %s", cur.State), true
	case cur.Imc != prev.Imc:
		return fmt.Sprintf("• Integrity check: %s", cur.Imc), true
	}
	return "", false
}

// PrintStatus shows the current connection state.
func (c *CLI) PrintStatus() {
	printSnapshot(c.out, c.service.Snapshot())
}

func printSnapshot(out io.Writer, snap vpn.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Profile:\t%s\n", snap.Profile.DisplayName())
	fmt.Fprintf(w, "Connection:\t#%d\n", snap.ConnectionID)
	fmt.Fprintf(w, "State:\t%s\n", snap.State)
	if snap.Error != vpn.ErrorNone {
		fmt.Fprintf(w, "Error:\t%s (%s)\n", snap.Error, snap.Error.Description())
	}
	if snap.Retrying() {
		fmt.Fprintf(w, "Retry:\tin %s of %s\n", formatDuration(snap.RetryIn), formatDuration(snap.RetryTimeout))
	}
	fmt.Fprintf(w, "Integrity:\t%s\n", snap.Imc)
	w.Flush()

	for i, instr := range snap.RemediationInstructions {
		fmt.Fprintf(out, "  %d. %s\n", i+1, instr.Title)
		if instr.Description != "" {
			fmt.Fprintf(out, "     %s\n", instr.Description)
		}
		for _, item := range instr.Items {
			fmt.Fprintf(out, "     - %s\n", item)
		}
	}
}

// History prints the last n recorded transitions.
func (c *CLI) History(n int) error {
	if c.history == nil {
		return errors.New("history is disabled in the configuration")
	}
	entries, err := c.history.Recent(n)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No history recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCONN\tPROFILE\tSTATE\tERROR\tIMC")
	fmt.Fprintln(w, "----\t----\t-------\t-----\t-----\t---")
	for _, e := range entries {
		profile := e.Profile
		if profile == "" {
			profile = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Time.Format("2006-01-02 15:04:05"), e.ConnectionID, profile, e.State, e.Error, e.Imc)
	}
	return w.Flush()
}

// PrintEvents dumps an event trace file.
func PrintEvents(out io.Writer, path string) error {
	r, err := eventlog.OpenTrace(path, eventlog.Filter{})
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		detail := fmt.Sprintf("%s -> %s", e.OldValue, e.NewValue)
		switch e.Category {
		case eventlog.CategoryConnection:
			detail = fmt.Sprintf("started (%s)", e.Profile)
		case eventlog.CategoryRetry:
			detail = fmt.Sprintf("%s of %s", formatDuration(e.RetryIn), formatDuration(e.RetryTimeout))
		}
		fmt.Fprintf(out, "%s #%d %-10s %s\n", e.Timestamp.Format("15:04:05.000"), e.ConnectionID, e.Category, detail)
	}
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`VPN State - Command Line Interface

Usage:
  vpn-state [OPTIONS]

Options:
  --version            Show version and exit
  --verbose            Enable verbose logging
  --config FILE        Use FILE instead of ~/.config/vpn-state/config.yaml
  --list               List all VPN profiles
  --add-profile NAME   Add a profile (with --gateway, --username, --remote-id)
  --connect NAME       Connect and stay in the foreground until Ctrl+C
  --watch NAME         Connect and show a live status view
  --shell              Interactive shell that plays the daemon by hand
  --history N          Show the last N recorded transitions
  --events FILE        Print an event trace file
  --help               Show this help message

Examples:
  vpn-state --add-profile Work --gateway vpn.example.com --username alice
  vpn-state --connect Work
  vpn-state --watch Work
  vpn-state --history 20

Notes:
  - Passwords are kept in the system keyring when the profile saves them
  - After a failure the connection is retried with growing delays`)
}
