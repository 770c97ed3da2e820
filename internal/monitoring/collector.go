package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of router health.
type MetricsSnapshot struct {
	// Decision memory.
	UniqueNames    int     `json:"unique_names"`
	TotalDecisions int     `json:"total_decisions"`
	ConfirmedCount int     `json:"confirmed_count"`
	RejectedCount  int     `json:"rejected_count"`
	AvgScore       float64 `json:"avg_score"`
	StoreError     string  `json:"store_error,omitempty"`
	CircuitState   string  `json:"circuit_state,omitempty"`

	// Review sessions.
	ActiveSessions   int `json:"active_sessions"`
	PendingQuestions int `json:"pending_questions"`

	CollectedAt time.Time `json:"collected_at"`
}

// StoreAvailable reports whether the last collection reached the store.
func (s *MetricsSnapshot) StoreAvailable() bool {
	return s.StoreError == ""
}

// SessionCounter reports open review work.
type SessionCounter interface {
	Active() int
	PendingQuestions() int
}

// BreakerStater exposes a circuit breaker's state.
type BreakerStater interface {
	State() resilience.CircuitState
}

// Collector gathers metrics from the decision memory and the session registry.
type Collector struct {
	store    memory.Store
	sessions SessionCounter
	breaker  BreakerStater
}

// NewCollector creates a new metrics collector. sessions and breaker may be nil.
func NewCollector(st memory.Store, sessions SessionCounter, breaker BreakerStater) *Collector {
	return &Collector{store: st, sessions: sessions, breaker: breaker}
}

// Collect gathers a snapshot. A store failure is recorded on the snapshot
// rather than returned, since it is itself an alert condition.
func (c *Collector) Collect(ctx context.Context) *MetricsSnapshot {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	if c.store != nil {
		st, err := c.store.Stats(ctx)
		if err != nil {
			snap.StoreError = err.Error()
		} else {
			snap.UniqueNames = st.UniqueNames
			snap.TotalDecisions = st.TotalDecisions
			snap.ConfirmedCount = st.ConfirmedCount
			snap.RejectedCount = st.RejectedCount
			snap.AvgScore = st.AvgScore
		}
	}

	if c.breaker != nil {
		snap.CircuitState = c.breaker.State().String()
	}

	if c.sessions != nil {
		snap.ActiveSessions = c.sessions.Active()
		snap.PendingQuestions = c.sessions.PendingQuestions()
	}

	return snap
}
