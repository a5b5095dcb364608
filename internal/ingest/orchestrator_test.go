package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/extract"
	"github.com/sells-group/wildfire-cli/internal/model"
	"github.com/sells-group/wildfire-cli/internal/monitoring"
)

var alpha = model.NewDispatchCenter("CAANCC", "Alpha", "Active", "", time.Date(2025, 7, 14, 18, 0, 0, 0, time.UTC))

type step struct {
	res *extract.Result
	err error
}

// scriptedStrategy replays steps in order, repeating the last one.
type scriptedStrategy struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedStrategy) Name() string { return "grid" }

func (s *scriptedStrategy) Extract(context.Context, model.DispatchCenter) (*extract.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].res, s.steps[i].err
}

func rows(n, processed, expected int) *extract.Result {
	res := &extract.Result{Strategy: "grid", Processed: processed, Expected: expected, Reason: extract.Stagnant}
	for i := 0; i < n; i++ {
		res.Rows = append(res.Rows, model.RawIncident{RowIndex: i, Number: "n", Name: "x"})
	}
	return res
}

func newTestOrchestrator(s extract.Strategy, clk clockwork.Clock) (*Orchestrator, *monitoring.Metrics) {
	m, _ := monitoring.NewMetricsForTesting()
	o := NewOrchestrator(s, config.RetryConfig{MaxAttempts: 5, BaseDelay: 5 * time.Second}, clk, m, zap.NewNop())
	return o, m
}

// drive runs FetchWithRetry in the background, advancing the fake clock by
// the linear backoff each time a retry sleep starts.
func drive(t *testing.T, o *Orchestrator, clk *clockwork.FakeClock, sleeps int) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() { done <- o.FetchWithRetry(ctx, alpha) }()

	for n := 1; n <= sleeps; n++ {
		require.NoError(t, clk.BlockUntilContext(ctx, 1))
		clk.Advance(time.Duration(n) * 5 * time.Second)
	}

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		t.Fatal("FetchWithRetry did not return")
		return Outcome{}
	}
}

func TestFetchWithRetry_ZeroRowsThenComplete(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s := &scriptedStrategy{steps: []step{
		{res: rows(0, 0, 249)},
		{res: rows(12, 12, 12)},
	}}
	o, m := newTestOrchestrator(s, clk)

	out := drive(t, o, clk, 1)

	assert.True(t, out.Complete)
	assert.Equal(t, 2, out.Attempts)
	assert.Len(t, out.Result.Rows, 12)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionAttempts.WithLabelValues("grid", "incomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionAttempts.WithLabelValues("grid", "complete")))
}

func TestFetchWithRetry_FirstAttemptComplete(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s := &scriptedStrategy{steps: []step{{res: rows(3, 3, 3)}}}
	o, _ := newTestOrchestrator(s, clk)

	out := drive(t, o, clk, 0)
	assert.True(t, out.Complete)
	assert.Equal(t, 1, out.Attempts)
}

func TestFetchWithRetry_RowsButShortIsRetried(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s := &scriptedStrategy{steps: []step{
		{res: rows(3, 3, 8)},
		{res: rows(8, 8, 8)},
	}}
	o, _ := newTestOrchestrator(s, clk)

	out := drive(t, o, clk, 1)
	assert.True(t, out.Complete)
	assert.Equal(t, 2, out.Attempts)
}

func TestFetchWithRetry_ExhaustionKeepsBest(t *testing.T) {
	clk := clockwork.NewFakeClock()
	best := rows(8, 8, 12)
	tie := rows(8, 8, 12)
	tie.Reason = extract.HardCap
	s := &scriptedStrategy{steps: []step{
		{res: rows(3, 3, 12)},
		{res: best},
		{res: tie},
		{res: rows(5, 5, 12)},
		{res: rows(2, 2, 12)},
	}}
	o, _ := newTestOrchestrator(s, clk)

	out := drive(t, o, clk, 4)

	assert.False(t, out.Complete)
	assert.Equal(t, 5, out.Attempts)
	assert.Same(t, tie, out.Result)
	assert.NoError(t, out.Err)
}

func TestFetchWithRetry_ExtractionErrorsCountAsZeroRows(t *testing.T) {
	clk := clockwork.NewFakeClock()
	failure := &extract.ExtractionError{Strategy: "grid", Center: "CAANCC", Op: "launch", Err: errors.New("chrome not found")}
	s := &scriptedStrategy{steps: []step{{err: failure}}}
	o, m := newTestOrchestrator(s, clk)

	out := drive(t, o, clk, 4)

	assert.False(t, out.Complete)
	assert.Equal(t, 5, out.Attempts)
	require.NotNil(t, out.Result)
	assert.Empty(t, out.Result.Rows)
	assert.Equal(t, extract.Failed, out.Result.Reason)
	var ee *extract.ExtractionError
	assert.ErrorAs(t, out.Err, &ee)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ExtractionAttempts.WithLabelValues("grid", "error")))
}

func TestFetchWithRetry_CancelDuringBackoff(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s := &scriptedStrategy{steps: []step{{res: rows(0, 0, 249)}}}
	o, _ := newTestOrchestrator(s, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- o.FetchWithRetry(ctx, alpha) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clk.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case out := <-done:
		assert.False(t, out.Complete)
		assert.Equal(t, 1, out.Attempts)
		assert.ErrorIs(t, out.Err, context.Canceled)
	case <-waitCtx.Done():
		t.Fatal("FetchWithRetry did not return after cancel")
	}
}
