package extract

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/model"
)

// Chain tries strategies in order and returns the first complete result.
type Chain struct {
	strategies []Strategy
	log        *zap.Logger
}

// NewChain creates a Chain over strategies.
func NewChain(log *zap.Logger, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, log: log}
}

// Name implements Strategy.
func (c *Chain) Name() string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return strings.Join(names, ">")
}

// Extract implements Strategy. The first complete result wins. Otherwise the
// result with the most processed rows is returned, and when no strategy
// produced a result the joined errors are.
func (c *Chain) Extract(ctx context.Context, center model.DispatchCenter) (*Result, error) {
	var best *Result
	var errs []error
	for _, s := range c.strategies {
		res, err := s.Extract(ctx, center)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			c.log.Info("strategy failed, trying next",
				zap.String("center", center.Code),
				zap.String("strategy", s.Name()),
				zap.Error(err),
			)
			continue
		}
		if res.Complete() {
			return res, nil
		}
		if len(res.Rows) > 0 {
			c.log.Info("strategy incomplete, trying next",
				zap.String("center", center.Code),
				zap.String("strategy", s.Name()),
				zap.Int("processed", res.Processed),
				zap.Int("expected", res.Expected),
			)
		}
		if best == nil || res.Processed > best.Processed || (len(best.Rows) == 0 && len(res.Rows) > 0) {
			best = res
		}
		if ctx.Err() != nil {
			break
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, errors.Join(errs...)
}
