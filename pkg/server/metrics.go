package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TLS connections accepted
	ActiveConnections atomic.Int64 // current open connections (admitted or authenticating)
	FailedAuths       atomic.Int64 // failed authentication attempts (incl. refused admissions)
	SuccessfulAuths   atomic.Int64 // successful admissions
	TotalDisconnects  atomic.Int64 // admitted sessions torn down (clean + unclean)

	// Routing counters
	BroadcastsRelayed     atomic.Int64 // broadcast lines relayed
	DirectMessagesRelayed atomic.Int64 // addressed messages delivered
	RosterRequests        atomic.Int64 // -list requests served
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	BroadcastsRelayed     int64 `json:"broadcasts_relayed"`
	DirectMessagesRelayed int64 `json:"direct_messages_relayed"`
	RosterRequests        int64 `json:"roster_requests"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:                uptime.Truncate(time.Second).String(),
		UptimeSeconds:         int64(uptime.Seconds()),
		ActiveConnections:     m.ActiveConnections.Load(),
		TotalConnections:      m.TotalConnections.Load(),
		SuccessfulAuths:       m.SuccessfulAuths.Load(),
		FailedAuths:           m.FailedAuths.Load(),
		TotalDisconnects:      m.TotalDisconnects.Load(),
		BroadcastsRelayed:     m.BroadcastsRelayed.Load(),
		DirectMessagesRelayed: m.DirectMessagesRelayed.Load(),
		RosterRequests:        m.RosterRequests.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"broadcasts", s.BroadcastsRelayed,
		"direct_messages", s.DirectMessagesRelayed,
		"roster_requests", s.RosterRequests,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
