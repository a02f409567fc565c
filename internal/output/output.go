// Package output provides styled terminal output helpers for sn: messages,
// sync badges and record formatting, rendered with lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/sn/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	syncStyles   = map[models.SyncStatus]lipgloss.Style{
		models.SyncSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncPending: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// SyncBadge renders a record's sync status with a symbol, e.g. "✓ synced",
// "↻ pending", "✗ failed".
func SyncBadge(s models.SyncStatus) string {
	symbol := "?"
	switch s {
	case models.SyncSynced:
		symbol = "✓"
	case models.SyncPending:
		symbol = "↻"
	case models.SyncFailed:
		symbol = "✗"
	}
	label := fmt.Sprintf("%s %s", symbol, s)
	if style, ok := syncStyles[s]; ok {
		return style.Render(label)
	}
	return label
}

// Summary returns the one-line human label of a record: a note's title, a
// card's front, a deck's name or a preference's key=value.
func Summary(rec *models.Record) string {
	p, err := rec.Decode()
	if err != nil {
		return subtleStyle.Render("(undecodable)")
	}
	switch v := p.(type) {
	case models.NotePayload:
		if v.Title != "" {
			return v.Title
		}
		return Truncate(firstLine(v.Body), 60)
	case models.FlashcardPayload:
		return Truncate(v.Front, 60)
	case models.DeckPayload:
		return v.Name
	case models.PreferencePayload:
		return v.Key + "=" + v.Value
	}
	return ""
}

// FormatRecordShort formats a record on one line.
func FormatRecordShort(rec *models.Record) string {
	parts := []string{
		titleStyle.Render(rec.ID),
		Summary(rec),
		SyncBadge(rec.SyncStatus),
	}
	if rec.Deleted {
		parts = append(parts, errorStyle.Render("[deleted]"))
	}
	return strings.Join(parts, "  ")
}

// FormatRecordLong formats a record with its sync metadata. Note bodies are
// passed through body, already rendered by the caller.
func FormatRecordLong(rec *models.Record, entry *models.OutboxEntry, body string) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", rec.ID, Summary(rec))))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Table: %s | Sync: %s", rec.Table, SyncBadge(rec.SyncStatus))
	if rec.RemoteVersion > 0 {
		fmt.Fprintf(&sb, " | Remote v%d", rec.RemoteVersion)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Updated: %s\n", FormatTimeAgo(rec.UpdatedAt))

	if p, err := rec.Decode(); err == nil {
		switch v := p.(type) {
		case models.NotePayload:
			if v.DeckID != "" {
				fmt.Fprintf(&sb, "Deck: %s\n", v.DeckID)
			}
			if len(v.Tags) > 0 {
				fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(v.Tags, ", "))
			}
		case models.FlashcardPayload:
			fmt.Fprintf(&sb, "Deck: %s\n", v.DeckID)
			fmt.Fprintf(&sb, "\n%s\n%s\n", subtleStyle.Render("Back:"), v.Back)
			if v.Hint != "" {
				fmt.Fprintf(&sb, "%s %s\n", subtleStyle.Render("Hint:"), v.Hint)
			}
			if v.DueAt != nil {
				fmt.Fprintf(&sb, "Due: %s\n", v.DueAt.Local().Format("2006-01-02"))
			}
		case models.DeckPayload:
			if v.Description != "" {
				fmt.Fprintf(&sb, "\n%s\n", v.Description)
			}
		}
	}

	if body != "" {
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n")
	}

	if rec.LastError != "" {
		sb.WriteString("\n")
		sb.WriteString(errorStyle.Render("Last error: " + rec.LastError))
		sb.WriteString("\n")
	}
	if entry != nil {
		sb.WriteString(SectionHeader("outbox"))
		sb.WriteString("  " + FormatOutboxEntry(entry, time.Now()) + "\n")
	}

	return sb.String()
}

// FormatOutboxEntry formats an outbox entry on one line, relative to now.
func FormatOutboxEntry(e *models.OutboxEntry, now time.Time) string {
	parts := []string{
		subtleStyle.Render(fmt.Sprintf("#%d", e.ID)),
		string(e.Operation),
		fmt.Sprintf("%s/%s", e.Table, e.EntityID),
	}
	switch {
	case e.Blocked:
		parts = append(parts, errorStyle.Render("[blocked]"))
	case e.Attempting:
		parts = append(parts, warningStyle.Render("[in flight]"))
	case e.NextAttemptAt != nil && e.NextAttemptAt.After(now):
		parts = append(parts, warningStyle.Render(fmt.Sprintf("[retry in %s]", FormatDuration(e.NextAttemptAt.Sub(now)))))
	default:
		parts = append(parts, successStyle.Render("[due]"))
	}
	if e.RetryCount > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("attempts=%d", e.RetryCount)))
	}
	if e.LastError != nil && *e.LastError != "" {
		parts = append(parts, subtleStyle.Render(Truncate(*e.LastError, 80)))
	}
	return strings.Join(parts, "  ")
}

// FormatActivity formats one activity log row.
func FormatActivity(a *models.ActivityEntry) string {
	target := ""
	if a.Table != "" {
		target = string(a.Table)
		if a.EntityID != "" {
			target += "/" + a.EntityID
		}
	}
	line := fmt.Sprintf("%s  %-16s %s", subtleStyle.Render(a.CreatedAt.Local().Format("2006-01-02 15:04:05")), a.Kind, target)
	if len(a.Metadata) > 0 && string(a.Metadata) != "null" {
		line += "  " + subtleStyle.Render(Truncate(string(a.Metadata), 100))
	}
	return line
}

// FormatDuration renders d compactly: "45s", "3m", "2h".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nOUTBOX:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 1 {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
