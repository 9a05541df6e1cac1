package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpn-state/vpn"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).
			Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("245"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// stateStyle colors a connection state.
func stateStyle(s vpn.ConnectionState) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case vpn.StateConnected:
		return base.Foreground(lipgloss.Color("42"))
	case vpn.StateConnecting, vpn.StateDisconnecting:
		return base.Foreground(lipgloss.Color("214"))
	default:
		return base.Foreground(lipgloss.Color("245"))
	}
}

// imcStyle colors an integrity state.
func imcStyle(s vpn.ImcState) lipgloss.Style {
	switch s {
	case vpn.ImcAllow:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	case vpn.ImcIsolate:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	case vpn.ImcBlock:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
}
