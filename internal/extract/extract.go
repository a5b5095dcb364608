// Package extract pulls raw incident rows for one dispatch center out of the
// upstream incident UI.
//
// Two strategies are provided. GridWalker scrolls the virtualized data grid
// in a headless browser and reads rendered rows. APISniffer uses the browser
// only to observe the page's backend data call and its auth headers, then
// replays that call over plain HTTP. Chain runs strategies in order.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/wildfire-cli/internal/model"
)

// Strategy extracts raw incident rows for a center.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, center model.DispatchCenter) (*Result, error)
}

// Termination explains why an extraction stopped.
type Termination string

const (
	TargetMet   Termination = "target-met"
	Stagnant    Termination = "stagnant"
	HardCap     Termination = "hard-cap"
	ZeroRows    Termination = "zero-rows"
	APIComplete Termination = "api-complete"
	Failed      Termination = "failed"
)

// Result is the outcome of one extraction attempt.
type Result struct {
	Strategy  string
	Rows      []model.RawIncident
	Processed int
	Expected  int
	Reason    Termination
}

// Complete reports whether the attempt returned rows and accounted for every
// expected one.
func (r *Result) Complete() bool {
	return r != nil && len(r.Rows) > 0 && r.Processed == r.Expected
}

// ExtractionError reports a failed extraction attempt: browser launch,
// navigation, render timeout or an upstream error response.
type ExtractionError struct {
	Strategy string
	Center   string
	Op       string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s %s: %v", e.Strategy, e.Center, e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RenderTimeoutError reports that the page never rendered the element an
// extraction waits on.
type RenderTimeoutError struct {
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("%q not rendered within %s", e.Selector, e.Timeout)
}

func (e *RenderTimeoutError) Unwrap() error { return e.Err }
