package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"LegSentinel/internal/broker"
	"LegSentinel/internal/metrics"
)

// spotLoop keeps the cached underlying price fresh.
func (e *Engine) spotLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Engine.SpotInterval)
	defer ticker.Stop()
	for {
		if _, err := e.refreshSpot(e.ctx); err != nil {
			log.WithError(err).Debug("spot refresh failed")
		}
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) refreshSpot(ctx context.Context) (float64, error) {
	price, err := e.quotes.LastPrice(ctx, e.cfg.Strategy.Underlying)
	if err != nil {
		metrics.QuoteFailures.Inc()
		return 0, err
	}
	e.mu.Lock()
	e.spot = price
	e.spotAt = e.now()
	e.mu.Unlock()
	return price, nil
}

// currentSpot returns a spot no older than two feed intervals, fetching one
// if the cache is stale.
func (e *Engine) currentSpot(ctx context.Context) (float64, error) {
	e.mu.Lock()
	spot, at := e.spot, e.spotAt
	e.mu.Unlock()
	if spot > 0 && e.now().Sub(at) <= 2*e.cfg.Engine.SpotInterval {
		return spot, nil
	}
	return e.refreshSpot(ctx)
}

// waitForSpot retries currentSpot a bounded number of times.
func (e *Engine) waitForSpot(ctx context.Context) (float64, error) {
	attempts := e.cfg.Engine.SpotWaitAttempts
	for i := 0; i < attempts; i++ {
		if spot, err := e.currentSpot(ctx); err == nil {
			return spot, nil
		}
		log.WithField("attempt", i+1).Info("waiting for spot price")
		if i < attempts-1 && !e.sleep(ctx, e.cfg.Engine.SpotInterval) {
			break
		}
	}
	return 0, errors.Wrapf(broker.ErrQuoteUnavailable, "spot %s", e.cfg.Strategy.Underlying)
}
