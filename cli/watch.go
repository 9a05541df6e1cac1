package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

type snapshotMsg vpn.Snapshot

// watchModel is the live status view.
type watchModel struct {
	snap       vpn.Snapshot
	progress   progress.Model
	connect    func()
	disconnect func()
	width      int
}

func newWatchModel(snap vpn.Snapshot, connect, disconnect func()) watchModel {
	return watchModel{
		snap:       snap,
		progress:   progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		connect:    connect,
		disconnect: disconnect,
	}
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "d":
			m.disconnect()
		case "r":
			m.connect()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-16, 10), 60)
	case snapshotMsg:
		m.snap = vpn.Snapshot(msg)
	}
	return m, nil
}

// retryPercent is the elapsed share of the reconnect countdown.
func retryPercent(snap vpn.Snapshot) float64 {
	if !snap.Retrying() {
		return 0
	}
	return 1 - float64(snap.RetryIn)/float64(snap.RetryTimeout)
}

func (m watchModel) View() string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	row("Profile", m.snap.Profile.DisplayName())
	row("Connection", fmt.Sprintf("#%d", m.snap.ConnectionID))
	row("State", stateStyle(m.snap.State).Render(m.snap.State.String()))
	if m.snap.Error != vpn.ErrorNone {
		row("Error", errorStyle.Render(m.snap.Error.Description()))
	}
	if m.snap.Retrying() {
		row("Retry", m.progress.ViewAs(retryPercent(m.snap))+" "+formatDuration(m.snap.RetryIn))
	}
	row("Integrity", imcStyle(m.snap.Imc).Render(m.snap.Imc.String()))
	for _, instr := range m.snap.RemediationInstructions {
		b.WriteString("  • " + instr.Title + "\n")
		for _, item := range instr.Items {
			b.WriteString("    - " + item + "\n")
		}
	}

	body := strings.TrimRight(b.String(), "\n")
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("VPN State"),
		boxStyle.Render(body),
		helpStyle.Render("r reconnect • d disconnect • q quit"),
	) + "\n"
}

// Watch connects to a profile and shows a live status view until the user
// quits or ctx is cancelled. The connection is closed on exit.
func (c *CLI) Watch(ctx context.Context, nameOrID string) error {
	profile, err := c.profiles.Find(strings.TrimSpace(nameOrID))
	if err != nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
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

	connect := func() { c.daemon.Start(profile) }
	model := newWatchModel(c.service.Snapshot(), connect, c.service.Disconnect)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(c.out))

	forwardCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()
	go func() {
		for {
			select {
			case <-forwardCtx.Done():
				return
			case <-changed:
				program.Send(snapshotMsg(c.service.Snapshot()))
			}
		}
	}()

	connect()
	if err := c.profiles.MarkUsed(profile.ID); err != nil {
		common.LogWarn("CLI: could not update profile: %v", err)
	}

	_, runErr := program.Run()
	stopForward()
	c.disconnect(changed)

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}
