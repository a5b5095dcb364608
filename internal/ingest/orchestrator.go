package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/extract"
	"github.com/sells-group/wildfire-cli/internal/model"
	"github.com/sells-group/wildfire-cli/internal/monitoring"
	"github.com/sells-group/wildfire-cli/internal/resilience"
)

// Outcome is the result of fetching one center with retries.
type Outcome struct {
	// Result is the successful attempt, or the best attempt seen when
	// retries were exhausted. It is never nil.
	Result   *extract.Result
	Attempts int
	Complete bool
	// Err is the last extraction error, if any attempt failed outright.
	Err error
}

// incompleteError marks an attempt that returned but did not pass the
// completeness gate.
type incompleteError struct {
	processed, expected, rows int
}

func (e *incompleteError) Error() string {
	return fmt.Sprintf("incomplete extraction: %d rows, processed %d of %d", e.rows, e.processed, e.expected)
}

// Orchestrator retries a center's extraction until it is complete.
type Orchestrator struct {
	strategy    extract.Strategy
	maxAttempts int
	baseDelay   time.Duration
	clock       clockwork.Clock
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewOrchestrator creates an Orchestrator around strategy.
func NewOrchestrator(strategy extract.Strategy, cfg config.RetryConfig, clk clockwork.Clock, metrics *monitoring.Metrics, log *zap.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	return &Orchestrator{
		strategy:    strategy,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		clock:       clk,
		metrics:     metrics,
		log:         log.With(zap.String("component", "orchestrator")),
	}
}

// FetchWithRetry extracts center until an attempt returns at least one row
// and accounts for every expected row, waiting attempt × base delay between
// tries. A failed attempt counts as zero rows. On exhaustion the attempt with
// the most processed rows is returned, later attempts winning ties.
func (o *Orchestrator) FetchWithRetry(ctx context.Context, center model.DispatchCenter) Outcome {
	log := o.log.With(zap.String("center", center.Code), zap.String("strategy", o.strategy.Name()))
	var (
		best     *extract.Result
		lastErr  error
		attempts int
	)

	res, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: o.maxAttempts,
		Backoff:     resilience.LinearBackoff(o.baseDelay),
		Clock:       o.clock,
		ShouldRetry: resilience.RetryAll,
		OnRetry:     resilience.RetryLogger(log, "extract center"),
	}, func(ctx context.Context) (*extract.Result, error) {
		attempts++
		res, err := o.strategy.Extract(ctx, center)
		if err != nil {
			lastErr = err
			log.Warn("extraction attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		}
		if res == nil {
			res = &extract.Result{Strategy: o.strategy.Name(), Reason: extract.Failed}
		}
		if best == nil || res.Processed >= best.Processed {
			best = res
		}

		outcome := "incomplete"
		switch {
		case err != nil:
			outcome = "error"
		case res.Complete():
			outcome = "complete"
		}
		o.metrics.ExtractionAttempts.WithLabelValues(strategyLabel(res, o.strategy), outcome).Inc()

		if res.Complete() {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, &incompleteError{processed: res.Processed, expected: res.Expected, rows: len(res.Rows)}
	})

	if err == nil {
		log.Info("center extraction complete",
			zap.Int("attempt", attempts),
			zap.Int("rows", len(res.Rows)),
			zap.String("reason", string(res.Reason)),
		)
		return Outcome{Result: res, Attempts: attempts, Complete: true}
	}

	if best == nil {
		best = &extract.Result{Strategy: o.strategy.Name(), Reason: extract.Failed}
	}
	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	log.Warn("center extraction incomplete, keeping best attempt",
		zap.Int("attempts", attempts),
		zap.Int("rows", len(best.Rows)),
		zap.Int("processed", best.Processed),
		zap.Int("expected", best.Expected),
		zap.Error(err),
	)
	return Outcome{Result: best, Attempts: attempts, Complete: false, Err: lastErr}
}

func strategyLabel(res *extract.Result, s extract.Strategy) string {
	if res.Strategy != "" {
		return res.Strategy
	}
	return s.Name()
}
