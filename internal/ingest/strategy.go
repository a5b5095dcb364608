package ingest

import (
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/browser"
	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/extract"
	"github.com/sells-group/wildfire-cli/internal/fetcher"
)

// NewStrategy builds the extraction strategy selected by cfg.Extract.Strategy:
// "api", "grid", or "auto" (API first, grid as fallback).
func NewStrategy(cfg *config.Config, f fetcher.Fetcher, cache extract.EndpointCache, clk clockwork.Clock, log *zap.Logger) (extract.Strategy, error) {
	opts := browser.Options{
		ExecPath: cfg.Browser.ExecPath,
		Headless: cfg.Browser.Headless,
		Width:    cfg.Browser.WindowWidth,
		Height:   cfg.Browser.WindowHeight,
	}

	grid := extract.NewGridWalker(extract.GridOptions{
		BaseURL:         cfg.Source.IncidentBaseURL,
		DefaultTarget:   cfg.Grid.DefaultTarget,
		MaxScrolls:      cfg.Grid.MaxScrolls,
		TargetStep:      cfg.Grid.TargetStep,
		RecoverAfter:    cfg.Grid.RecoverAfter,
		NearTargetStall: cfg.Grid.NearTargetStall,
		MaxStall:        cfg.Grid.MaxStall,
		ScrollPause:     cfg.Grid.ScrollPause,
	}, extract.BrowserGridFactory(extract.BrowserGridOptions{
		Browser:       opts,
		RenderTimeout: cfg.Browser.RenderTimeout,
		SettleDelay:   cfg.Browser.SettleDelay,
	}, log), clk, log)

	api := extract.NewAPISniffer(extract.SnifferOptions{
		BaseURL:     cfg.Source.IncidentBaseURL,
		HostPattern: cfg.Source.APIHostPattern,
		PathPattern: cfg.Source.APIPathPattern,
	}, &extract.BrowserBootstrapper{
		Options:       opts,
		RenderTimeout: cfg.Browser.RenderTimeout,
		Log:           log,
	}, f, cache, log)

	switch cfg.Extract.Strategy {
	case "api":
		return api, nil
	case "grid":
		return grid, nil
	case "auto", "":
		return extract.NewChain(log, api, grid), nil
	default:
		return nil, eris.Errorf("ingest: unknown strategy %q", cfg.Extract.Strategy)
	}
}
