package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/wildfire-cli/internal/model"
)

// Snapshot is a point-in-time view of ingestion health.
type Snapshot struct {
	Running         bool              `json:"running"`
	Runs            int               `json:"runs"`
	LastStartedAt   *time.Time        `json:"last_started_at,omitempty"`
	LastFinishedAt  *time.Time        `json:"last_finished_at,omitempty"`
	LastCenters     int               `json:"last_centers"`
	LastIncomplete  []string          `json:"last_incomplete,omitempty"`
	LastIncidents   int               `json:"last_incidents"`
	LastError       string            `json:"last_error,omitempty"`
	LastStateCounts []model.StateCount `json:"last_state_counts,omitempty"`
}

// Health records run lifecycle events. It is safe for concurrent use.
type Health struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewHealth returns an empty Health.
func NewHealth() *Health { return &Health{} }

// RunStarted marks a run as active.
func (h *Health) RunStarted(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Running = true
	h.snap.LastStartedAt = &at
}

// RunFinished records a run's summary and error, if any.
func (h *Health) RunFinished(sum model.RunSummary, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	finished := sum.FinishedAt
	h.snap.Running = false
	h.snap.Runs++
	h.snap.LastFinishedAt = &finished
	h.snap.LastCenters = sum.CentersFound
	h.snap.LastIncidents = sum.IncidentsStored()
	h.snap.LastStateCounts = sum.States
	h.snap.LastIncomplete = nil
	for _, c := range sum.Centers {
		if !c.Complete {
			h.snap.LastIncomplete = append(h.snap.LastIncomplete, c.Code)
		}
	}
	h.snap.LastError = ""
	if err != nil {
		h.snap.LastError = err.Error()
	}
}

// Snapshot returns a copy of the current state.
func (h *Health) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.snap
	s.LastIncomplete = append([]string(nil), h.snap.LastIncomplete...)
	s.LastStateCounts = append([]model.StateCount(nil), h.snap.LastStateCounts...)
	return s
}
