// Package monitor is the live TUI behind `sn monitor`: engine state, the
// outbox and the recent activity feed, refreshed on a timer.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	snsync "github.com/marcus/sn/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelOutbox Panel = iota
	PanelActivity
)

// Source is the read side of the local store the monitor polls.
type Source interface {
	Now() time.Time
	ListOutbox() ([]models.OutboxEntry, error)
	OutboxStats(now time.Time) (models.OutboxStats, error)
	StatusCounts() (models.StatusCounts, error)
	GetSyncState() (*models.SyncState, error)
	ActivityTail(limit int, kind events.Kind, since *time.Time) ([]models.ActivityEntry, error)
}

// Drainer runs a drain on demand. *sync.Engine implements it.
type Drainer interface {
	Drain(ctx context.Context, trigger snsync.Trigger) (snsync.DrainReport, error)
}

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	Store   Source
	Drainer Drainer // nil hides the sync key

	Width  int
	Height int

	Outbox   []models.OutboxEntry
	Stats    models.OutboxStats
	Counts   models.StatusCounts
	State    *models.SyncState
	Activity []models.ActivityEntry

	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Err          error

	Syncing    bool
	LastReport *snsync.DrainReport
	LastErr    error

	outboxTable table.Model
	spinner     spinner.Model

	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for the full layout
const MinWidth = 50

// MinHeight is the minimum terminal height for the full layout
const MinHeight = 15

const activityLimit = 50

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Outbox    []models.OutboxEntry
	Stats     models.OutboxStats
	Counts    models.StatusCounts
	State     *models.SyncState
	Activity  []models.ActivityEntry
	Timestamp time.Time
	Err       error
}

// SyncDoneMsg reports a drain started from the monitor.
type SyncDoneMsg struct {
	Report snsync.DrainReport
	Err    error
}

// NewModel creates a new monitor model
func NewModel(store Source, drainer Drainer, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(
		table.WithColumns(outboxColumns(MinWidth)),
		table.WithFocused(true),
		table.WithStyles(tableStyles()),
	)
	return Model{
		Store:           store,
		Drainer:         drainer,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelOutbox,
		outboxTable:     t,
		spinner:         spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.scheduleTick(), m.spinner.Tick)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.layoutTable()
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Outbox = msg.Outbox
			m.Stats = msg.Stats
			m.Counts = msg.Counts
			m.State = msg.State
			m.Activity = msg.Activity
			m.outboxTable.SetRows(outboxRows(m.Outbox, msg.Timestamp))
		}
		m.LastRefresh = msg.Timestamp
		return m, nil

	case SyncDoneMsg:
		m.Syncing = false
		m.LastErr = msg.Err
		if msg.Err == nil {
			r := msg.Report
			m.LastReport = &r
		}
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab", "shift+tab":
		m.ActivePanel = (m.ActivePanel + 1) % 2
		if m.ActivePanel == PanelOutbox {
			m.outboxTable.Focus()
		} else {
			m.outboxTable.Blur()
		}
		return m, nil

	case "1":
		m.ActivePanel = PanelOutbox
		m.outboxTable.Focus()
		return m, nil

	case "2":
		m.ActivePanel = PanelActivity
		m.outboxTable.Blur()
		return m, nil

	case "r":
		return m, m.fetchData()

	case "s":
		if m.Drainer == nil || m.Syncing {
			return m, nil
		}
		m.Syncing = true
		return m, m.runSync()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	if m.ActivePanel == PanelOutbox {
		var cmd tea.Cmd
		m.outboxTable, cmd = m.outboxTable.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "j", "down":
		if m.ScrollOffset[PanelActivity] < len(m.Activity)-1 {
			m.ScrollOffset[PanelActivity]++
		}
	case "k", "up":
		if m.ScrollOffset[PanelActivity] > 0 {
			m.ScrollOffset[PanelActivity]--
		}
	}
	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that polls the store
func (m Model) fetchData() tea.Cmd {
	store := m.Store
	return func() tea.Msg {
		return FetchData(store)
	}
}

func (m Model) runSync() tea.Cmd {
	d := m.Drainer
	return func() tea.Msg {
		r, err := d.Drain(context.Background(), snsync.TriggerManual)
		return SyncDoneMsg{Report: r, Err: err}
	}
}

func (m *Model) layoutTable() {
	w := max(m.Width-4, MinWidth)
	m.outboxTable.SetColumns(outboxColumns(w))
	m.outboxTable.SetWidth(w)
	m.outboxTable.SetHeight(max((m.Height-10)/2, 3))
}
