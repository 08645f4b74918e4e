package engine

import (
	"context"
	"html"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/broker"
	"LegSentinel/internal/instrument"
	"LegSentinel/internal/metrics"
	"LegSentinel/internal/model"
	"LegSentinel/internal/notifier"
	"LegSentinel/internal/recorder"
)

const entryPriceRetryDelay = 500 * time.Millisecond

// EnterInitialLegs sells the call (L1) and put (L2) around the current ATM
// strike. Legs already entered this session are skipped, so a restart after
// entry does not double up.
func (e *Engine) EnterInitialLegs(ctx context.Context) error {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()

	now := e.clock()
	if !e.cal.IsTradingDay(now) {
		log.WithField("date", now.Format("2006-01-02")).Info("market closed, skipping entry")
		return ErrMarketClosed
	}

	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return ErrHalted
	}
	var todo []string
	for _, id := range model.InitialLegs {
		if !e.ledger.Known(id) && !e.enteredLocked(id) {
			todo = append(todo, id)
		}
	}
	e.mu.Unlock()
	if len(todo) == 0 {
		log.Info("initial legs already entered")
		return nil
	}

	spot, err := e.waitForSpot(ctx)
	if err != nil {
		e.notify("Entry failed", "No spot price for "+e.cfg.Strategy.Underlying)
		return err
	}

	st := e.cfg.Strategy
	atm := instrument.RoundToStep(spot, st.StrikeStep)
	expiry := e.cal.NextExpiry(now, e.expiryDay)
	log.WithFields(logrus.Fields{"spot": spot, "atm": atm, "expiry": expiry.Format("2006-01-02")}).Info("entering initial legs")

	var failed int
	for _, id := range todo {
		optType := model.InitialOptionType(id)
		strike := instrument.OffsetStrike(atm, *st.InitialATMOffsetPercent, st.StrikeStep, optType)
		leg := model.Leg{
			ID:            id,
			Kind:          model.KindInitial,
			Symbol:        instrument.Symbol(st.SymbolPrefix, expiry, strike, optType),
			OptionType:    optType,
			Side:          model.SideSell,
			Quantity:      st.Quantity,
			SLPercent:     st.InitialLeg.SLPercent,
			TargetPercent: st.InitialLeg.TargetPercent,
			TrailingSteps: append([]model.TrailingStep(nil), st.InitialLeg.TrailingSteps...),
		}
		if _, err := e.openPosition(ctx, leg); err != nil {
			failed++
			log.WithError(err).WithField("leg", id).Error("initial entry failed")
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d initial entries failed", failed, len(todo))
	}
	return nil
}

func (e *Engine) enteredLocked(id string) bool {
	for _, v := range e.tradeHistory {
		if v == id {
			return true
		}
	}
	return false
}

// openPosition quotes, sells and registers leg, then confirms the fill in
// the background. The registered leg carries the post-order price as entry.
func (e *Engine) openPosition(ctx context.Context, leg model.Leg) (model.Leg, error) {
	quote, err := e.quotes.LastPrice(ctx, leg.Symbol)
	if err != nil {
		metrics.QuoteFailures.Inc()
		return leg, errors.Wrapf(err, "quote %s", leg.Symbol)
	}

	res, err := e.submit(ctx, leg.ID, leg.Symbol, model.SideSell, leg.Quantity)
	if err != nil {
		return leg, err
	}

	leg.EntryPrice = e.fetchEntryPrice(ctx, leg.Symbol, quote)
	leg.OrderID = res.OrderID
	leg.OpenedAt = e.now()

	e.mu.Lock()
	if err := e.ledger.Open(leg); err != nil {
		e.mu.Unlock()
		return leg, err
	}
	e.tradeHistory = append(e.tradeHistory, leg.ID)
	e.persistLocked()
	e.mu.Unlock()

	e.afterEntry(leg)
	return leg, nil
}

func (e *Engine) afterEntry(leg model.Leg) {
	log.WithFields(logrus.Fields{"leg": leg.ID, "symbol": leg.Symbol, "price": leg.EntryPrice, "qty": leg.Quantity}).Info("leg opened")
	e.journal(recorder.TradeEvent{
		Type:     recorder.EventEntry,
		LegID:    leg.ID,
		Symbol:   leg.Symbol,
		Side:     model.SideSell,
		Quantity: leg.Quantity,
		Price:    leg.EntryPrice,
		OrderID:  leg.OrderID,
	})
	e.notify("Leg entered: "+leg.ID, notifier.FormatEntry(leg))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.confirmFill(e.ctx, leg.ID, leg.Symbol, leg.Quantity, leg.OrderID)
	}()
}

// submit places an order and accounts for the outcome. Failures are journaled
// and notified; the caller leaves its state untouched.
func (e *Engine) submit(ctx context.Context, legID, symbol string, side model.Side, qty int) (*broker.OrderResult, error) {
	res, err := broker.Submit(ctx, e.orders, symbol, side, qty)
	if err != nil {
		metrics.Orders.WithLabelValues(string(side), "error").Inc()
		log.WithError(err).WithFields(logrus.Fields{"leg": legID, "symbol": symbol, "side": side}).Warn("order failed")
		e.journal(recorder.TradeEvent{
			Type:     recorder.EventOrderFailed,
			LegID:    legID,
			Symbol:   symbol,
			Side:     side,
			Quantity: qty,
			Note:     err.Error(),
		})
		e.notify("Order failed: "+legID, string(side)+" "+symbol+": "+html.EscapeString(err.Error()))
		return nil, err
	}
	metrics.Orders.WithLabelValues(string(side), "accepted").Inc()
	return res, nil
}

// fetchEntryPrice reads the price right after an order, retrying briefly and
// falling back to the pre-order quote.
func (e *Engine) fetchEntryPrice(ctx context.Context, symbol string, fallback float64) float64 {
	for i := 0; i < 3; i++ {
		if p, err := e.quotes.LastPrice(ctx, symbol); err == nil {
			return p
		}
		metrics.QuoteFailures.Inc()
		if !e.sleep(ctx, entryPriceRetryDelay) {
			break
		}
	}
	log.WithField("symbol", symbol).Warn("no post-order price, using pre-order quote as entry")
	return fallback
}

// confirmFill polls the gateway for a fill. An unfilled order is placed again
// up to the retry limit; exhausting the limit is logged and never treated as
// a fill.
func (e *Engine) confirmFill(ctx context.Context, legID, symbol string, qty int, orderID string) {
	limit := e.cfg.Engine.FillRetryLimit
	for attempt := 1; attempt <= limit; attempt++ {
		if !e.sleep(ctx, e.cfg.Engine.FillRetryDelay) {
			return
		}
		fields := logrus.Fields{"leg": legID, "order": orderID, "attempt": attempt, "limit": limit}

		e.mu.Lock()
		open := e.ledger.IsOpen(legID)
		e.mu.Unlock()
		if !open {
			return
		}

		filled, err := e.orders.IsFilled(ctx, orderID)
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("fill status unavailable")
			continue
		}
		if filled {
			log.WithFields(fields).Info("order filled")
			return
		}

		log.WithFields(fields).Warn("order not filled, placing again")
		res, err := e.submit(ctx, legID, symbol, model.SideSell, qty)
		if err != nil {
			continue
		}
		orderID = res.OrderID
		e.mu.Lock()
		if err := e.ledger.SetOrderID(legID, orderID); err == nil {
			e.persistLocked()
		}
		e.mu.Unlock()
	}
	log.WithFields(logrus.Fields{"leg": legID, "order": orderID}).Error("fill not confirmed after retries")
	e.notify("Fill unconfirmed: "+legID, "Order "+orderID+" on "+symbol+" not confirmed filled")
}
