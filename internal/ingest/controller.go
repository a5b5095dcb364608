package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/directory"
	"github.com/sells-group/wildfire-cli/internal/fetcher"
	"github.com/sells-group/wildfire-cli/internal/model"
	"github.com/sells-group/wildfire-cli/internal/reconcile"
	"github.com/sells-group/wildfire-cli/internal/resilience"
)

// CenterSource lists dispatch centers from the live directory or a saved page.
type CenterSource interface {
	Resolve(ctx context.Context) ([]model.DispatchCenter, error)
	ResolveFile(path string) ([]model.DispatchCenter, error)
}

// CenterFetcher extracts one center's rows with retries.
type CenterFetcher interface {
	FetchWithRetry(ctx context.Context, center model.DispatchCenter) Outcome
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// HTMLPath, when set, reads the directory from a saved page.
	HTMLPath      string
	Workers       int
	CourtesyDelay time.Duration
}

// Controller drives ingestion runs.
type Controller struct {
	env     Env
	centers CenterSource
	fetch   CenterFetcher
	recon   *reconcile.Reconciler
	log     *zap.Logger
}

// NewController wires the live directory resolver and the configured
// extraction strategy.
func NewController(env Env) (*Controller, error) {
	env = env.withDefaults()
	if env.Config == nil {
		return nil, eris.New("ingest: config is required")
	}
	cfg := env.Config

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Source.UserAgent,
		Timeout:      cfg.Source.HTTPTimeout,
		RateLimiters: hostLimiters(cfg.Source.RateLimits),
		Logger:       env.Logger,
	})
	cache := NewEndpointCache(env.Store, env.Clock, env.Logger)
	strategy, err := NewStrategy(cfg, f, cache, env.Clock, env.Logger)
	if err != nil {
		return nil, err
	}

	resolver := directory.NewResolver(f, cfg.Source.DirectoryURL, env.Clock, env.Logger)
	orch := NewOrchestrator(strategy, cfg.Retry, env.Clock, env.Metrics, env.Logger)
	return newController(env, resolver, orch), nil
}

// hostLimiters builds the fixed per-host limiters from config.
func hostLimiters(limits []config.HostRateLimit) map[string]*rate.Limiter {
	out := make(map[string]*rate.Limiter, len(limits))
	for _, l := range limits {
		out[l.Host] = rate.NewLimiter(rate.Limit(l.RPS), max(l.Burst, 1))
	}
	return out
}

func newController(env Env, centers CenterSource, fetch CenterFetcher) *Controller {
	env = env.withDefaults()
	return &Controller{
		env:     env,
		centers: centers,
		fetch:   fetch,
		recon:   reconcile.New(env.Clock, env.Logger),
		log:     env.Logger.With(zap.String("component", "controller")),
	}
}

// DefaultRunOptions returns run options from the controller's config.
func (c *Controller) DefaultRunOptions() RunOptions {
	if c.env.Config == nil {
		return RunOptions{Workers: 1}
	}
	return RunOptions{
		Workers:       c.env.Config.Ingest.Workers,
		CourtesyDelay: c.env.Config.Ingest.CourtesyDelay,
	}
}

// Run performs one ingestion run. Per-center failures are logged and
// recorded in the summary; the returned error is non-nil only when the run
// was cancelled.
func (c *Controller) Run(ctx context.Context, opts RunOptions) (model.RunSummary, error) {
	m := c.env.Metrics
	sum := model.RunSummary{StartedAt: c.env.Clock.Now().UTC()}
	m.RunInProgress.Set(1)
	c.env.Health.RunStarted(sum.StartedAt)
	c.log.Info("ingestion run started", zap.String("html", opts.HTMLPath), zap.Int("workers", opts.Workers))

	centers, discoveryErr := c.discover(ctx, opts.HTMLPath)
	sum.CentersFound = len(centers)
	m.CentersDiscovered.Set(float64(len(centers)))

	targets := c.targets(ctx, centers)
	sum.Centers = c.processAll(ctx, targets, opts)

	runErr := ctx.Err()
	sum.States = c.report(ctx, &sum)
	sum.FinishedAt = c.env.Clock.Now().UTC()

	outcome := "complete"
	switch {
	case runErr != nil || (discoveryErr != nil && len(targets) == 0):
		outcome = "failed"
	case discoveryErr != nil || !allComplete(sum.Centers) || len(sum.Centers) < len(targets):
		outcome = "partial"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunInProgress.Set(0)

	if runErr == nil {
		runErr = discoveryErr
	}
	c.env.Health.RunFinished(sum, runErr)
	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, nil
}

// discover resolves and stores the center directory. Discovery failures
// degrade to zero newly discovered centers.
func (c *Controller) discover(ctx context.Context, htmlPath string) ([]model.DispatchCenter, error) {
	var (
		centers []model.DispatchCenter
		err     error
	)
	if htmlPath != "" {
		centers, err = c.centers.ResolveFile(htmlPath)
	} else {
		centers, err = c.centers.Resolve(ctx)
	}
	if err != nil {
		var de *directory.DiscoveryError
		if errors.As(err, &de) {
			c.log.Error("center directory has no table", zap.String("source", de.Source), zap.Error(err))
		} else {
			c.log.Error("center discovery failed", zap.Error(err))
		}
		return nil, err
	}

	if err := c.env.Store.UpsertCenters(ctx, centers); err != nil {
		c.env.Metrics.StoreErrors.Inc()
		c.log.Error("failed to store centers", zap.Int("centers", len(centers)), zap.Error(err))
	}
	return centers, nil
}

// targets returns every known center, falling back to the freshly
// discovered list when the store cannot be read.
func (c *Controller) targets(ctx context.Context, discovered []model.DispatchCenter) []model.DispatchCenter {
	known, err := c.env.Store.ListCenters(ctx)
	if err != nil {
		c.log.Error("failed to list centers, using discovered list", zap.Error(err))
		return discovered
	}
	return known
}

func (c *Controller) processAll(ctx context.Context, centers []model.DispatchCenter, opts RunOptions) []model.CenterOutcome {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(centers) {
		workers = len(centers)
	}

	results := make([]model.CenterOutcome, len(centers))
	done := make([]bool, len(centers))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			// Courtesy pause between this worker's centers.
			var pause time.Duration
			for i := range jobs {
				if err := resilience.Sleep(gctx, c.env.Clock, pause); err != nil {
					return nil
				}
				pause = opts.CourtesyDelay
				results[i] = c.processCenter(gctx, centers[i])
				done[i] = true
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range centers {
			select {
			case jobs <- i:
			case <-gctx.Done():
				c.log.Warn("run cancelled between centers", zap.Int("remaining", len(centers)-i))
				return nil
			}
		}
		return nil
	})
	_ = g.Wait()

	out := make([]model.CenterOutcome, 0, len(centers))
	for i, ok := range done {
		if ok {
			out = append(out, results[i])
		}
	}
	return out
}

func (c *Controller) processCenter(ctx context.Context, center model.DispatchCenter) model.CenterOutcome {
	log := c.log.With(zap.String("center", center.Code))
	start := c.env.Clock.Now()
	out := c.fetch.FetchWithRetry(ctx, center)
	c.env.Metrics.CenterFetchSeconds.Observe(c.env.Clock.Since(start).Seconds())

	res := out.Result
	oc := model.CenterOutcome{
		Code:      center.Code,
		Strategy:  res.Strategy,
		Rows:      len(res.Rows),
		Processed: res.Processed,
		Expected:  res.Expected,
		Attempts:  out.Attempts,
		Complete:  out.Complete,
	}
	if out.Err != nil {
		oc.Error = out.Err.Error()
	}
	if len(res.Rows) == 0 {
		log.Warn("no incidents extracted", zap.Int("attempts", out.Attempts))
		return oc
	}

	incidents := c.recon.Reconcile(center, res.Rows)
	if err := c.env.Store.UpsertIncidents(ctx, incidents); err != nil {
		c.env.Metrics.StoreErrors.Inc()
		oc.Error = err.Error()
		log.Error("failed to store incidents", zap.Int("incidents", len(incidents)), zap.Error(err))
		return oc
	}
	oc.Stored = len(incidents)
	c.env.Metrics.IncidentsUpserted.Add(float64(len(incidents)))
	log.Info("stored incidents",
		zap.Int("incidents", len(incidents)),
		zap.Bool("complete", out.Complete),
		zap.String("strategy", res.Strategy),
	)

	if err := c.env.Publisher.Publish(ctx, incidents); err != nil {
		log.Warn("failed to publish incidents", zap.Error(err))
	}
	return oc
}

// report logs the run summary and returns the per-state center tally.
func (c *Controller) report(ctx context.Context, sum *model.RunSummary) []model.StateCount {
	// Reporting runs even after cancellation.
	ctx = context.WithoutCancel(ctx)

	states, err := c.env.Store.StateSummary(ctx)
	if err != nil {
		c.log.Error("failed to load state summary", zap.Error(err))
	}
	for _, s := range states {
		c.log.Info("state summary", zap.String("state", s.State), zap.Int("centers", s.Centers))
	}

	if counts, err := c.env.Store.CenterIncidentCounts(ctx); err != nil {
		c.log.Error("failed to load center incident counts", zap.Error(err))
	} else {
		for _, cc := range counts {
			c.log.Debug("center incidents", zap.String("center", cc.Code), zap.Int("incidents", cc.Incidents))
		}
	}

	var incomplete []string
	for _, oc := range sum.Centers {
		if !oc.Complete {
			incomplete = append(incomplete, oc.Code)
		}
	}
	c.log.Info("ingestion run finished",
		zap.Int("centers_found", sum.CentersFound),
		zap.Int("centers_processed", len(sum.Centers)),
		zap.Int("incidents_stored", sum.IncidentsStored()),
		zap.Strings("incomplete", incomplete),
		zap.Duration("elapsed", c.env.Clock.Since(sum.StartedAt)),
	)
	return states
}

func allComplete(outcomes []model.CenterOutcome) bool {
	for _, o := range outcomes {
		if !o.Complete {
			return false
		}
	}
	return true
}
