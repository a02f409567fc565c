package monitor

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/sn/internal/events"
)

var (
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	kindStyles = map[events.Kind]lipgloss.Style{
		events.KindSynced:           lipgloss.NewStyle().Foreground(successColor),
		events.KindPulled:           lipgloss.NewStyle().Foreground(successColor),
		events.KindConflict:         lipgloss.NewStyle().Foreground(warningColor),
		events.KindPermanentFailure: lipgloss.NewStyle().Foreground(errorColor),
		events.KindQuarantined:      lipgloss.NewStyle().Foreground(errorColor),
		events.KindUnauthenticated:  lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("255")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

// formatKind renders an activity kind with color
func formatKind(kind string) string {
	if style, ok := kindStyles[events.Kind(kind)]; ok {
		return style.Render(kind)
	}
	return subtleStyle.Render(kind)
}
