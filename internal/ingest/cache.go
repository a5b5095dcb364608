package ingest

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/model"
	"github.com/sells-group/wildfire-cli/internal/store"
)

// EndpointCache remembers API endpoints in process and in the store. It is
// shared across workers.
type EndpointCache struct {
	store store.Store
	clock clockwork.Clock
	log   *zap.Logger

	mu sync.Mutex
	m  map[string]string
}

// NewEndpointCache creates an EndpointCache backed by st.
func NewEndpointCache(st store.Store, clk clockwork.Clock, log *zap.Logger) *EndpointCache {
	return &EndpointCache{store: st, clock: clk, log: log, m: make(map[string]string)}
}

// Endpoint implements extract.EndpointCache.
func (c *EndpointCache) Endpoint(ctx context.Context, centerCode string) (string, bool) {
	c.mu.Lock()
	u, ok := c.m[centerCode]
	c.mu.Unlock()
	if ok {
		return u, true
	}

	ep, err := c.store.GetEndpoint(ctx, centerCode)
	if err != nil {
		c.log.Warn("endpoint lookup failed", zap.String("center", centerCode), zap.Error(err))
		return "", false
	}
	if ep == nil {
		return "", false
	}

	c.mu.Lock()
	c.m[centerCode] = ep.URL
	c.mu.Unlock()
	return ep.URL, true
}

// RememberEndpoint implements extract.EndpointCache.
func (c *EndpointCache) RememberEndpoint(ctx context.Context, centerCode, endpoint string) {
	c.mu.Lock()
	c.m[centerCode] = endpoint
	c.mu.Unlock()

	err := c.store.PutEndpoint(ctx, model.Endpoint{
		CenterCode:  centerCode,
		URL:         endpoint,
		LastSuccess: c.clock.Now().UTC(),
	})
	if err != nil {
		c.log.Warn("failed to persist endpoint", zap.String("center", centerCode), zap.Error(err))
	}
}
