package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	conflicts    atomic.Int64
	writes       atomic.Int64
	lists        atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds  float64        `json:"uptime_seconds"`
	Requests       int64          `json:"requests"`
	ServerErrors   int64          `json:"server_errors"`
	ClientErrors   int64          `json:"client_errors"`
	Conflicts      int64          `json:"conflicts"`
	WritesAccepted int64          `json:"writes_accepted"`
	ListRequests   int64          `json:"list_requests"`
	Records        map[string]int `json:"records,omitempty"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordRequest()     { m.requests.Add(1) }
func (m *Metrics) RecordError()       { m.serverErrors.Add(1) }
func (m *Metrics) RecordClientError() { m.clientErrors.Add(1) }
func (m *Metrics) RecordConflict()    { m.conflicts.Add(1) }
func (m *Metrics) RecordWrite()       { m.writes.Add(1) }
func (m *Metrics) RecordList()        { m.lists.Add(1) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
		Requests:       m.requests.Load(),
		ServerErrors:   m.serverErrors.Load(),
		ClientErrors:   m.clientErrors.Load(),
		Conflicts:      m.conflicts.Load(),
		WritesAccepted: m.writes.Load(),
		ListRequests:   m.lists.Load(),
	}
}
