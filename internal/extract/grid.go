package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/model"
	"github.com/sells-group/wildfire-cli/internal/resilience"
)

// NavKey is a keyboard action used to nudge a stuck grid.
type NavKey int

const (
	KeyEnd NavKey = iota
	KeyPageDown
	KeyArrowDown10
)

var recoveryKeys = []NavKey{KeyEnd, KeyPageDown, KeyArrowDown10}

// GridRow is one rendered row of the data grid.
type GridRow struct {
	Index  string
	Header bool
	Cells  []string
}

// GridDriver is the browser surface the grid walker needs.
type GridDriver interface {
	// Open loads the page and waits for the grid to render.
	Open(ctx context.Context, pageURL string) error
	// RowCount returns the advertised row count, if any.
	RowCount(ctx context.Context) (int, bool, error)
	Headers(ctx context.Context) ([]string, error)
	ScrollPage(ctx context.Context) error
	VisibleRows(ctx context.Context) ([]GridRow, error)
	// JumpTo sets the scroller position to a fraction of its height.
	JumpTo(ctx context.Context, fraction float64) error
	PressKey(ctx context.Context, key NavKey) error
	ConsoleLog() []string
	Close()
}

// DriverFactory starts a fresh GridDriver for one extraction attempt.
type DriverFactory func(ctx context.Context) (GridDriver, error)

// GridOptions tunes the walker.
type GridOptions struct {
	BaseURL         string
	DefaultTarget   int
	MaxScrolls      int
	TargetStep      int
	RecoverAfter    int
	NearTargetStall int
	MaxStall        int
	ScrollPause     time.Duration
	RecoveryPause   time.Duration
}

func (o GridOptions) withDefaults() GridOptions {
	if o.DefaultTarget <= 0 {
		o.DefaultTarget = 250
	}
	if o.MaxScrolls <= 0 {
		o.MaxScrolls = 100
	}
	if o.TargetStep <= 0 {
		o.TargetStep = 50
	}
	if o.RecoverAfter <= 0 {
		o.RecoverAfter = 3
	}
	if o.NearTargetStall <= 0 {
		o.NearTargetStall = 15
	}
	if o.MaxStall <= 0 {
		o.MaxStall = 20
	}
	return o
}

// GridWalker extracts rows by scrolling the virtualized incident grid.
type GridWalker struct {
	opts      GridOptions
	newDriver DriverFactory
	clock     clockwork.Clock
	log       *zap.Logger
}

// NewGridWalker creates a GridWalker.
func NewGridWalker(opts GridOptions, newDriver DriverFactory, clk clockwork.Clock, log *zap.Logger) *GridWalker {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &GridWalker{
		opts:      opts.withDefaults(),
		newDriver: newDriver,
		clock:     clk,
		log:       log.With(zap.String("strategy", "grid")),
	}
}

// Name implements Strategy.
func (w *GridWalker) Name() string { return "grid" }

// IncidentsURL is the grid page for a center.
func IncidentsURL(base, code string) string {
	return fmt.Sprintf("%s/incidents?dc_Name=%s", base, url.QueryEscape(code))
}

// Extract implements Strategy.
func (w *GridWalker) Extract(ctx context.Context, center model.DispatchCenter) (*Result, error) {
	log := w.log.With(zap.String("center", center.Code))
	fail := func(op string, err error) error {
		return &ExtractionError{Strategy: w.Name(), Center: center.Code, Op: op, Err: err}
	}

	drv, err := w.newDriver(ctx)
	if err != nil {
		return nil, fail("launch", err)
	}
	defer drv.Close()

	if err := drv.Open(ctx, IncidentsURL(w.opts.BaseURL, center.Code)); err != nil {
		return nil, fail("render", err)
	}

	target := w.opts.DefaultTarget
	advertised := 0
	if n, ok, err := drv.RowCount(ctx); err != nil {
		log.Warn("reading advertised row count", zap.Error(err))
	} else if ok && n > 0 {
		target, advertised = n, n
		log.Info("advertised row count", zap.Int("rows", n-1))
	} else {
		log.Info("no advertised row count, using default target", zap.Int("target", target))
	}

	headers, err := drv.Headers(ctx)
	if err != nil {
		log.Warn("reading grid headers", zap.Error(err))
	}
	columns := MapColumns(headers)

	walk := &gridWalk{
		w:       w,
		drv:     drv,
		log:     log,
		columns: columns,
		seen:    make(map[string]struct{}),
		target:  target,
	}
	reason, err := walk.run(ctx)
	if err != nil {
		return nil, fail("scroll", err)
	}

	if advertised > 0 && len(walk.seen) < advertised-1 {
		log.Warn("grid rows missing",
			zap.Int("processed", len(walk.seen)),
			zap.Int("advertised", advertised-1),
			zap.Ints("missing", missingIndices(walk.seen, advertised-1)),
		)
	}
	if reason == ZeroRows {
		for _, line := range drv.ConsoleLog() {
			log.Error("browser console", zap.String("line", line))
		}
	}

	log.Info("grid walk finished",
		zap.String("reason", string(reason)),
		zap.Int("scrolls", walk.attempts),
		zap.Int("rows", len(walk.rows)),
		zap.Int("processed", len(walk.seen)),
		zap.Int("expected", walk.target-1),
	)
	return &Result{
		Strategy:  w.Name(),
		Rows:      walk.rows,
		Processed: len(walk.seen),
		Expected:  walk.target - 1,
		Reason:    reason,
	}, nil
}

type gridWalk struct {
	w        *GridWalker
	drv      GridDriver
	log      *zap.Logger
	columns  ColumnMap
	seen     map[string]struct{}
	rows     []model.RawIncident
	target   int
	attempts int
	stagnant int
	recovery int
}

func (g *gridWalk) run(ctx context.Context) (Termination, error) {
	opts := g.w.opts
	for len(g.seen) < g.target {
		if g.attempts >= opts.MaxScrolls {
			return HardCap, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := g.drv.ScrollPage(ctx); err != nil {
			g.log.Debug("page down", zap.Error(err))
		}
		before := len(g.seen)
		if err := resilience.Sleep(ctx, g.w.clock, opts.ScrollPause); err != nil {
			return "", err
		}
		g.collect(ctx)

		if len(g.seen) > before {
			g.stagnant = 0
		} else {
			g.stagnant++
			if g.stagnant >= opts.RecoverAfter {
				if err := g.recover(ctx); err != nil {
					return "", err
				}
			}
		}

		g.attempts++
		if g.attempts%10 == 0 {
			g.log.Info("scroll progress", zap.Int("scrolls", g.attempts), zap.Int("processed", len(g.seen)))
		}

		seen := len(g.seen)
		if seen >= g.target {
			g.target += opts.TargetStep
			g.log.Info("target reached, raising", zap.Int("processed", seen), zap.Int("target", g.target))
		}
		if (float64(seen) > float64(g.target)*0.9 && g.stagnant >= opts.NearTargetStall) || g.stagnant >= opts.MaxStall {
			return Stagnant, nil
		}
		if seen == 0 && g.stagnant >= opts.NearTargetStall {
			return ZeroRows, nil
		}
	}
	return TargetMet, nil
}

// recover alternates scroller jumps with keyboard navigation.
func (g *gridWalk) recover(ctx context.Context) error {
	g.recovery++
	var err error
	if g.recovery%2 == 1 {
		fraction := float64(g.attempts%10) / 10
		err = g.drv.JumpTo(ctx, fraction)
	} else {
		key := recoveryKeys[(g.recovery/2)%len(recoveryKeys)]
		err = g.drv.PressKey(ctx, key)
	}
	if err != nil {
		g.log.Debug("grid recovery", zap.Error(err))
	}
	return resilience.Sleep(ctx, g.w.clock, g.w.opts.RecoveryPause)
}

func (g *gridWalk) collect(ctx context.Context) {
	visible, err := g.drv.VisibleRows(ctx)
	if err != nil {
		g.log.Debug("reading visible rows", zap.Error(err))
		return
	}
	for _, r := range visible {
		if r.Header || r.Index == "" {
			continue
		}
		if _, ok := g.seen[r.Index]; ok {
			continue
		}
		g.seen[r.Index] = struct{}{}
		if len(r.Cells) == 0 {
			continue
		}
		raw, ok := g.toRaw(r)
		if !ok {
			g.log.Debug("skipping row without number or name", zap.String("row", r.Index))
			continue
		}
		g.rows = append(g.rows, raw)
	}
}

// unmappedStatus stands in for the status of grids without a status column,
// keeping incident identities stable with earlier ingests.
const unmappedStatus = "none"

func (g *gridWalk) toRaw(r GridRow) (model.RawIncident, bool) {
	vals := g.columns.values(r.Cells)
	raw := model.RawIncident{
		Number:    vals[FieldNumber],
		Fiscal:    vals[FieldFiscal],
		Name:      vals[FieldName],
		Type:      vals[FieldType],
		Status:    vals[FieldStatus],
		Date:      vals[FieldDate],
		Location:  vals[FieldLocation],
		LatLong:   vals[FieldLatLong],
		Resources: vals[FieldResources],
		Acres:     vals[FieldAcres],
		Comments:  vals[FieldComments],
	}
	if _, ok := g.columns[FieldStatus]; !ok {
		raw.Status = unmappedStatus
	}
	raw.RowIndex, _ = strconv.Atoi(r.Index)
	if !raw.HasKey() {
		return raw, false
	}
	payload := make(map[string]string, len(vals))
	for f, v := range vals {
		payload[f.String()] = v
	}
	raw.Payload, _ = json.Marshal(payload)
	return raw, true
}

func missingIndices(seen map[string]struct{}, total int) []int {
	var missing []int
	for i := range total {
		if _, ok := seen[strconv.Itoa(i)]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}
