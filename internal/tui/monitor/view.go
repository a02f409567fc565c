package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/sn/internal/models"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}
	if m.Err != nil {
		return m.renderError()
	}
	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	avail := m.Height - lipgloss.Height(header) - 2
	outboxHeight := avail / 2
	activityHeight := avail - outboxHeight

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.renderOutboxPanel(outboxHeight),
		m.renderActivityPanel(activityHeight),
		m.renderFooter(),
	)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder
	s.WriteString("sn monitor (resize for full view)\n\n")
	fmt.Fprintf(&s, "Outbox: %d (%d due, %d blocked)\n", m.Stats.Total, m.Stats.Due, m.Stats.Blocked)
	fmt.Fprintf(&s, "Records: %d synced | %d pending | %d failed\n",
		m.Counts[models.SyncSynced], m.Counts[models.SyncPending], m.Counts[models.SyncFailed])
	if m.State != nil && m.State.AuthRequired {
		s.WriteString(errorStyle.Render("Login required") + "\n")
	}
	s.WriteString("\nq:quit r:refresh ?:help")
	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderHeader renders the engine and record summary
func (m Model) renderHeader() string {
	var lines []string

	status := "idle"
	if m.Syncing {
		status = m.spinner.View() + " syncing"
	}
	line := titleStyle.Render("sn monitor") + "  " + status
	if m.State != nil && m.State.LastDrainAt != nil {
		line += subtleStyle.Render(fmt.Sprintf("  last drain %s: %d ok, %d failed, %d conflicts",
			m.State.LastDrainAt.Local().Format("15:04:05"),
			m.State.LastSucceeded, m.State.LastFailed, m.State.LastConflicts))
	}
	lines = append(lines, line)

	lines = append(lines, fmt.Sprintf("records: %d synced  %d pending  %d failed   outbox: %d total  %d due  %d waiting  %d blocked  %d quarantined",
		m.Counts[models.SyncSynced], m.Counts[models.SyncPending], m.Counts[models.SyncFailed],
		m.Stats.Total, m.Stats.Due, m.Stats.Waiting, m.Stats.Blocked, m.Stats.Quarantined))

	if m.State != nil && m.State.AuthRequired {
		lines = append(lines, errorStyle.Render("Login required: "+m.State.AuthRequiredMsg+" (run sn login)"))
	}
	if m.LastErr != nil {
		lines = append(lines, errorStyle.Render("Sync failed: "+m.LastErr.Error()))
	} else if m.LastReport != nil {
		r := m.LastReport
		lines = append(lines, subtleStyle.Render(fmt.Sprintf("manual sync: %d attempted, %d ok, %d failed, %d conflicts in %d pass(es)",
			r.Attempted, r.Succeeded, r.Failed, r.Conflicts, r.Passes)))
	}
	return strings.Join(lines, "\n")
}

// renderOutboxPanel renders the outbox table (Panel 1)
func (m Model) renderOutboxPanel(height int) string {
	if len(m.Outbox) == 0 {
		return m.wrapPanel("OUTBOX", subtleStyle.Render("Outbox empty"), height, PanelOutbox)
	}
	return m.wrapPanel("OUTBOX", m.outboxTable.View(), height, PanelOutbox)
}

// renderActivityPanel renders the activity feed, newest first (Panel 2)
func (m Model) renderActivityPanel(height int) string {
	if len(m.Activity) == 0 {
		return m.wrapPanel("ACTIVITY", subtleStyle.Render("No activity yet"), height, PanelActivity)
	}

	visible := max(height-3, 1)
	offset := m.ScrollOffset[PanelActivity]
	var content strings.Builder
	shown := 0
	for i := len(m.Activity) - 1 - offset; i >= 0 && shown < visible; i-- {
		a := m.Activity[i]
		target := string(a.Table)
		if a.EntityID != "" {
			target += "/" + a.EntityID
		}
		line := fmt.Sprintf("%s %s %s",
			timestampStyle.Render(a.CreatedAt.Local().Format("15:04:05")),
			formatKind(a.Kind),
			target)
		if w := m.Width - 6; w > 0 {
			line = ansi.Truncate(line, w, "…")
		}
		content.WriteString(line + "\n")
		shown++
	}
	return m.wrapPanel("ACTIVITY", strings.TrimRight(content.String(), "\n"), height, PanelActivity)
}

// wrapPanel wraps content in a bordered panel with title
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}
	body := panelTitleStyle.Render(title) + "\n" + content
	return style.Width(m.Width - 2).Height(max(height-2, 1)).Render(body)
}

// renderFooter renders the key hints and refresh time
func (m Model) renderFooter() string {
	keys := "q:quit  tab:switch panel  j/k:scroll  r:refresh  ?:help"
	if m.Drainer != nil {
		keys = "q:quit  tab:switch panel  j/k:scroll  r:refresh  s:sync now  ?:help"
	}
	refresh := ""
	if !m.LastRefresh.IsZero() {
		refresh = "  updated " + m.LastRefresh.Local().Format("15:04:05")
	}
	return helpStyle.Render(keys + refresh)
}

// renderHelp renders the help screen
func (m Model) renderHelp() string {
	help := `
sn monitor

NAVIGATION:
  tab / 1 / 2   Switch between outbox and activity
  j / k         Scroll the active panel
  r             Refresh now
  s             Drain the outbox now
  ?             Toggle help
  q             Quit

OUTBOX STATES:
  due           Will be sent on the next drain
  retry <t>     Waiting out a backoff
  in flight     Being sent right now
  blocked       Needs 'sn outbox retry'
`
	return panelStyle.Width(m.Width - 2).Render(help)
}
