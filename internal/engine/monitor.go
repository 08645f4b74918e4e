package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"LegSentinel/internal/metrics"
	"LegSentinel/internal/model"
	"LegSentinel/internal/notifier"
	"LegSentinel/internal/recorder"
	"LegSentinel/internal/risk"
)

func (e *Engine) monitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Engine.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(e.ctx)
		}
	}
}

// RunCycle evaluates every open leg once, then updates the profit lock and
// checks whether the session is complete.
func (e *Engine) RunCycle(ctx context.Context) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	halted := e.halted
	legs := e.ledger.OpenLegs()
	e.mu.Unlock()

	if halted {
		// Only liquidation work remains.
		if len(legs) > 0 {
			e.closeAll(ctx)
		}
		e.checkCompletion()
		return
	}

	for _, leg := range legs {
		price, err := e.quotes.LastPrice(ctx, leg.Symbol)
		if err != nil {
			metrics.QuoteFailures.Inc()
			log.WithError(err).WithField("leg", leg.ID).Warn("skipping leg, no price")
			continue
		}
		e.mu.Lock()
		e.lastPrice[leg.ID] = price
		e.mu.Unlock()

		d := risk.Evaluate(leg, price)
		if d.Action == risk.Hold {
			continue
		}
		log.WithFields(logrus.Fields{
			"leg": leg.ID, "price": price, "sl": d.StopLoss, "target": d.Target, "action": d.Action,
		}).Info("exit triggered")
		if err := e.exitLeg(ctx, leg, price, d.Action.Status()); err != nil {
			log.WithError(err).WithField("leg", leg.ID).Error("exit failed, leg stays open")
		}
	}

	e.updateLock(ctx)
	e.checkCompletion()
}

// exitLeg covers an open leg and records the close as one transition.
// The leg is claimed first so no other path can place a second exit order.
func (e *Engine) exitLeg(ctx context.Context, leg model.Leg, price float64, status model.LegStatus) error {
	e.mu.Lock()
	if !e.ledger.IsOpen(leg.ID) || e.exiting[leg.ID] {
		e.mu.Unlock()
		return nil
	}
	e.exiting[leg.ID] = true
	e.mu.Unlock()

	res, err := e.submit(ctx, leg.ID, leg.Symbol, model.SideBuy, leg.Quantity)
	if err != nil {
		e.mu.Lock()
		delete(e.exiting, leg.ID)
		e.mu.Unlock()
		return err
	}

	now := e.now()
	e.mu.Lock()
	delete(e.exiting, leg.ID)
	closed, err := e.ledger.Close(leg.ID, status)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	pnl := closed.PnLAt(price)
	e.ledger.Settle(leg.ID, price, pnl, now)
	e.lock.Book(pnl)
	delete(e.lastPrice, leg.ID)
	record := model.ExitRecord{
		LegID:      closed.ID,
		Symbol:     closed.Symbol,
		Status:     status,
		EntryPrice: closed.EntryPrice,
		ExitPrice:  price,
		Quantity:   closed.Quantity,
		PnL:        pnl,
		ClosedAt:   now,
	}
	e.exits = append(e.exits, record)
	needRecovery := status == model.StatusClosedSL && model.IsInitialID(closed.ID) && !e.halted
	if needRecovery {
		e.pending[closed.ID] = true
	}
	e.persistLocked()
	e.mu.Unlock()

	metrics.Exits.WithLabelValues(string(status)).Inc()
	log.WithFields(logrus.Fields{"leg": closed.ID, "status": status, "price": price, "pnl": pnl}).Info("leg closed")
	e.journal(recorder.TradeEvent{
		Type:     recorder.EventExit,
		LegID:    closed.ID,
		Symbol:   closed.Symbol,
		Side:     model.SideBuy,
		Quantity: closed.Quantity,
		Price:    price,
		PnL:      pnl,
		OrderID:  res.OrderID,
		Note:     string(status),
	})
	e.notify("Leg exit: "+closed.ID, notifier.FormatExit(record))

	if needRecovery {
		if err := e.dispatchRecovery(closed.ID, closed.Symbol); err != nil {
			log.WithError(err).WithField("origin", closed.ID).Warn("recovery not dispatched")
		}
	}
	return nil
}

// updateLock marks the book to market and ratchets the profit lock. A breach
// liquidates everything.
func (e *Engine) updateLock(ctx context.Context) {
	e.mu.Lock()
	u := e.lock.Update(e.unrealizedLocked())
	if u.Raised || e.ledger.Len() > 0 {
		e.persistLocked()
	}
	e.mu.Unlock()

	metrics.MTM.Set(u.MTM)
	if u.Raised {
		log.WithFields(logrus.Fields{"mtm": u.MTM, "lock": u.Level}).Info("profit lock raised")
		e.journal(recorder.TradeEvent{Type: recorder.EventLockRaised, Price: u.Level, PnL: u.MTM})
		e.notify("Profit lock raised", fmt.Sprintf("Lock: %.0f\nMTM: %+.2f", u.Level, u.MTM))
	}
	if u.Breached {
		e.liquidate(ctx, u)
	}
}

// liquidate force-closes every open leg, abandons pending recoveries and
// halts the session.
func (e *Engine) liquidate(ctx context.Context, u risk.LockUpdate) {
	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return
	}
	e.halted = true
	e.haltReason = model.ReasonProfitLock
	for origin, p := range e.pending {
		if p {
			e.pending[origin] = false
		}
	}
	e.persistLocked()
	e.mu.Unlock()

	log.WithFields(logrus.Fields{"mtm": u.MTM, "lock": u.Level}).Warn("MTM fell below profit lock, liquidating")
	e.journal(recorder.TradeEvent{Type: recorder.EventLiquidation, Price: u.Level, PnL: u.MTM})
	e.notify("Profit lock breached", fmt.Sprintf("MTM %+.2f fell below lock %.0f\nClosing all legs.", u.MTM, u.Level))

	e.closeAll(ctx)
	e.checkCompletion()
}
