package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/events"
	"github.com/sells-group/wildfire-cli/internal/ingest"
	"github.com/sells-group/wildfire-cli/internal/monitoring"
	"github.com/sells-group/wildfire-cli/internal/store"
)

// appEnv holds the long-lived dependencies shared by the commands. Callers
// should defer env.Close().
type appEnv struct {
	Store      store.Store
	Metrics    *monitoring.Metrics
	Health     *monitoring.Health
	Publisher  events.Publisher
	Controller *ingest.Controller
}

func (e *appEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv opens the store and builds the ingestion controller.
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		Store:     st,
		Metrics:   monitoring.NewMetrics(prometheus.DefaultRegisterer),
		Health:    monitoring.NewHealth(),
		Publisher: events.New(cfg.Kafka),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		zap.L().Info("publishing incidents to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	ctl, err := ingest.NewController(ingest.Env{
		Logger:    zap.L(),
		Store:     st,
		Metrics:   env.Metrics,
		Health:    env.Health,
		Publisher: env.Publisher,
		Config:    cfg,
	})
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "build controller")
	}
	env.Controller = ctl
	return env, nil
}
