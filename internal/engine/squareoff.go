package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/metrics"
	"LegSentinel/internal/model"
	"LegSentinel/internal/recorder"
)

// SquareOff closes every open leg as CLOSED_EXPIRY, abandons pending
// recoveries and halts the session. reason is reported in the summary.
func (e *Engine) SquareOff(ctx context.Context, reason string) error {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return ErrHalted
	}
	if e.ledger.Len() == 0 && len(e.tradeHistory) == 0 {
		e.mu.Unlock()
		log.Info("nothing traded, no square-off needed")
		return nil
	}
	if !e.halted {
		e.halted = true
		e.haltReason = reason
	}
	var abandoned []string
	for origin, p := range e.pending {
		if p {
			e.pending[origin] = false
			abandoned = append(abandoned, origin)
		}
	}
	e.persistLocked()
	e.mu.Unlock()

	for _, origin := range abandoned {
		metrics.Recoveries.WithLabelValues("skipped").Inc()
		e.journal(recorder.TradeEvent{Type: recorder.EventRecoverySkipped, LegID: model.RecoveryID(origin), Note: "square-off"})
	}
	log.WithFields(logrus.Fields{"reason": reason, "abandoned": len(abandoned)}).Info("squaring off")

	failed := e.closeAll(ctx)
	e.checkCompletion()
	if failed > 0 {
		return errors.Errorf("%d legs could not be closed", failed)
	}
	return nil
}

// closeAll covers every open leg at its current price, falling back to the
// last seen price and then to entry. It returns how many exits failed.
func (e *Engine) closeAll(ctx context.Context) int {
	e.mu.Lock()
	legs := e.ledger.OpenLegs()
	last := make(map[string]float64, len(e.lastPrice))
	for k, v := range e.lastPrice {
		last[k] = v
	}
	e.mu.Unlock()

	failed := 0
	for _, leg := range legs {
		price, err := e.quotes.LastPrice(ctx, leg.Symbol)
		if err != nil {
			metrics.QuoteFailures.Inc()
			price = last[leg.ID]
			if price <= 0 {
				price = leg.EntryPrice
			}
			log.WithError(err).WithFields(logrus.Fields{"leg": leg.ID, "price": price}).Warn("no quote for square-off, using fallback price")
		}
		if err := e.exitLeg(ctx, leg, price, model.StatusClosedExpiry); err != nil {
			failed++
		}
	}
	return failed
}
