// Package ingest runs ingestion: it resolves dispatch centers, extracts each
// center's incidents with retries, reconciles and stores them, and reports
// a run summary.
package ingest

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/events"
	"github.com/sells-group/wildfire-cli/internal/monitoring"
	"github.com/sells-group/wildfire-cli/internal/store"
)

// Env is the explicit execution context shared by a run's components.
type Env struct {
	Logger    *zap.Logger
	Store     store.Store
	Clock     clockwork.Clock
	Metrics   *monitoring.Metrics
	Health    *monitoring.Health
	Publisher events.Publisher
	Config    *config.Config
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	if e.Metrics == nil {
		e.Metrics, _ = monitoring.NewMetricsForTesting()
	}
	if e.Health == nil {
		e.Health = monitoring.NewHealth()
	}
	if e.Publisher == nil {
		e.Publisher = events.Noop{}
	}
	return e
}
