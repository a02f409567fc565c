package monitor

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
)

// FetchData retrieves everything the monitor displays. The first error
// aborts the refresh.
func FetchData(store Source) RefreshDataMsg {
	now := store.Now()
	msg := RefreshDataMsg{Timestamp: now}

	var err error
	if msg.Outbox, err = store.ListOutbox(); err != nil {
		msg.Err = fmt.Errorf("list outbox: %w", err)
		return msg
	}
	if msg.Stats, err = store.OutboxStats(now); err != nil {
		msg.Err = fmt.Errorf("outbox stats: %w", err)
		return msg
	}
	if msg.Counts, err = store.StatusCounts(); err != nil {
		msg.Err = fmt.Errorf("status counts: %w", err)
		return msg
	}
	if msg.State, err = store.GetSyncState(); err != nil {
		msg.Err = fmt.Errorf("sync state: %w", err)
		return msg
	}
	if msg.Activity, err = store.ActivityTail(activityLimit, "", nil); err != nil {
		msg.Err = fmt.Errorf("activity: %w", err)
		return msg
	}
	return msg
}

func outboxColumns(width int) []table.Column {
	fixed := 6 + 8 + 12 + 14
	target := max(width-fixed-8, 12)
	return []table.Column{
		{Title: "#", Width: 6},
		{Title: "OP", Width: 8},
		{Title: "RECORD", Width: target},
		{Title: "STATE", Width: 12},
		{Title: "ATTEMPTS", Width: 14},
	}
}

func outboxRows(entries []models.OutboxEntry, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", e.ID),
			string(e.Operation),
			fmt.Sprintf("%s/%s", e.Table, e.EntityID),
			entryState(e, now),
			fmt.Sprintf("%d", e.RetryCount),
		})
	}
	return rows
}

// entryState is the short label of an entry's position in the retry cycle.
func entryState(e *models.OutboxEntry, now time.Time) string {
	switch {
	case e.Blocked:
		return "blocked"
	case e.Attempting:
		return "in flight"
	case e.NextAttemptAt != nil && e.NextAttemptAt.After(now):
		return "retry " + output.FormatDuration(e.NextAttemptAt.Sub(now))
	default:
		return "due"
	}
}
