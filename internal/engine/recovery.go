package engine

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/broker"
	"LegSentinel/internal/config"
	"LegSentinel/internal/instrument"
	"LegSentinel/internal/metrics"
	"LegSentinel/internal/model"
	"LegSentinel/internal/recorder"
)

// recoveryRequest is the wait state of one recovery coordinator.
type recoveryRequest struct {
	origin    string
	optType   model.OptionType
	symbol    string
	trigger   float64
	sampled   bool
	triggered bool
	deadline  time.Time
}

// dispatchRecovery starts the coordinator for origin. The pending flag must
// already be set; at most one coordinator runs per origin.
func (e *Engine) dispatchRecovery(origin, originSymbol string) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	switch {
	case e.halted:
		e.mu.Unlock()
		return ErrHalted
	case e.isRecoveringLocked(origin):
		e.mu.Unlock()
		return ErrRecoveryActive
	case !e.pending[origin]:
		e.mu.Unlock()
		return errors.Errorf("no recovery pending for %s", origin)
	case e.ledger.Known(model.RecoveryID(origin)):
		e.pending[origin] = false
		e.persistLocked()
		e.mu.Unlock()
		return errors.Errorf("recovery leg %s already exists", model.RecoveryID(origin))
	}
	optType, ok := instrument.TypeOf(originSymbol)
	if !ok {
		optType = model.InitialOptionType(origin)
	}
	req := &recoveryRequest{
		origin:   origin,
		optType:  optType.Opposite(),
		deadline: e.deadline(),
	}
	e.recovering[origin] = req.view()
	e.mu.Unlock()

	metrics.Recoveries.WithLabelValues("dispatched").Inc()
	log.WithFields(logrus.Fields{"origin": origin, "type": req.optType, "deadline": req.deadline.Format("15:04:05")}).Info("recovery dispatched")
	e.journal(recorder.TradeEvent{Type: recorder.EventRecoveryDispatched, LegID: model.RecoveryID(origin), Note: string(req.optType)})
	e.notify("Recovery dispatched: "+model.RecoveryID(origin),
		fmt.Sprintf("Waiting for a %.2f point drop on the %s side", *e.cfg.Strategy.WaitPoints, req.optType))

	e.wg.Add(1)
	go e.runRecovery(req)
	return nil
}

func (r *recoveryRequest) view() model.RecoveryView {
	return model.RecoveryView{
		Origin:   r.origin,
		Symbol:   r.symbol,
		Trigger:  r.trigger,
		Sampled:  r.sampled,
		Deadline: r.deadline,
	}
}

func (e *Engine) isRecoveringLocked(origin string) bool {
	_, ok := e.recovering[origin]
	return ok
}

// publishRecovery refreshes the view of req shown in Status.
func (e *Engine) publishRecovery(req *recoveryRequest) {
	e.mu.Lock()
	e.recovering[req.origin] = req.view()
	e.mu.Unlock()
}

// runRecovery polls until the entry condition holds or the square-off
// deadline passes.
func (e *Engine) runRecovery(req *recoveryRequest) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.recovering, req.origin)
		e.mu.Unlock()
	}()

	ctx := e.ctx
	ticker := time.NewTicker(e.cfg.Engine.RecoveryPollInterval)
	defer ticker.Stop()
	wait := req.deadline.Sub(e.now())
	if wait < 0 {
		wait = 0
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		if e.recoveryStep(ctx, req) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			e.abandonRecovery(req, "square-off deadline reached")
			return
		case <-ticker.C:
		}
	}
}

// recoveryStep runs one poll. It reports true when the coordinator is done.
func (e *Engine) recoveryStep(ctx context.Context, req *recoveryRequest) bool {
	fields := logrus.Fields{"origin": req.origin}

	e.mu.Lock()
	active := !e.halted && e.pending[req.origin]
	e.mu.Unlock()
	if !active {
		log.WithFields(fields).Info("recovery no longer pending")
		return true
	}
	if !e.now().Before(req.deadline) {
		e.abandonRecovery(req, "square-off deadline reached")
		return true
	}

	if req.symbol == "" {
		spot, err := e.currentSpot(ctx)
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("recovery waiting for spot")
			return false
		}
		st := e.cfg.Strategy
		atm := instrument.RoundToStep(spot, st.StrikeStep)
		strike := instrument.RecoveryStrike(atm, *st.RecoveryATMOffsetPercent, st.StrikeStep, req.optType)
		expiry := e.cal.NextExpiry(e.clock(), e.expiryDay)
		req.symbol = instrument.Symbol(st.SymbolPrefix, expiry, strike, req.optType)
		e.publishRecovery(req)
		log.WithFields(fields).WithFields(logrus.Fields{"symbol": req.symbol, "spot": spot, "strike": strike}).Info("recovery symbol selected")
	}

	points := *e.cfg.Strategy.WaitPoints
	if points > 0 && !req.triggered {
		price, err := e.triggerPrice(ctx, req.symbol)
		if err != nil {
			metrics.QuoteFailures.Inc()
			log.WithError(err).WithFields(fields).Warn("recovery trigger price unavailable")
			return false
		}
		if !req.sampled {
			req.trigger, req.sampled = price, true
			e.publishRecovery(req)
			log.WithFields(fields).WithFields(logrus.Fields{"trigger": price, "points": points, "source": e.cfg.Strategy.TriggerSource}).Info("recovery trigger sampled")
			return false
		}
		if price > req.trigger-points {
			return false
		}
		req.triggered = true
		log.WithFields(fields).WithFields(logrus.Fields{"trigger": req.trigger, "price": price}).Info("recovery drop condition met")
	}

	return e.enterRecovery(ctx, req)
}

func (e *Engine) triggerPrice(ctx context.Context, symbol string) (float64, error) {
	if e.cfg.Strategy.TriggerSource == config.TriggerUnderlying {
		return e.currentSpot(ctx)
	}
	return e.quotes.LastPrice(ctx, symbol)
}

// enterRecovery sells the recovery leg. A rejected order leaves the request
// waiting for the next poll; any other order error may hide an accepted
// order, so the recovery is dropped instead of placed again. Clearing the
// pending flag and opening the leg happen in one transition so the session
// can never look complete between them.
func (e *Engine) enterRecovery(ctx context.Context, req *recoveryRequest) bool {
	st := e.cfg.Strategy
	leg := model.Leg{
		ID:            model.RecoveryID(req.origin),
		Kind:          model.KindRecovery,
		Origin:        req.origin,
		Symbol:        req.symbol,
		OptionType:    req.optType,
		Side:          model.SideSell,
		Quantity:      2 * st.Quantity,
		SLPercent:     st.RecoveryLeg.SLPercent,
		TargetPercent: st.RecoveryLeg.TargetPercent,
		TrailingSteps: append([]model.TrailingStep(nil), st.RecoveryLeg.TrailingSteps...),
	}

	quote, err := e.quotes.LastPrice(ctx, leg.Symbol)
	if err != nil {
		metrics.QuoteFailures.Inc()
		log.WithError(err).WithField("leg", leg.ID).Warn("recovery entry waiting for quote")
		return false
	}
	res, err := e.submit(ctx, leg.ID, leg.Symbol, model.SideSell, leg.Quantity)
	switch {
	case err == nil:
	case errors.Is(err, broker.ErrOrderRejected):
		return false
	case ctx.Err() != nil:
		return true
	default:
		e.orphanRecovery(req, err)
		return true
	}
	leg.EntryPrice = e.fetchEntryPrice(ctx, leg.Symbol, quote)
	leg.OrderID = res.OrderID
	leg.OpenedAt = e.now()

	e.mu.Lock()
	e.pending[req.origin] = false
	if err := e.ledger.Open(leg); err != nil {
		e.persistLocked()
		e.mu.Unlock()
		log.WithError(err).WithField("leg", leg.ID).Error("recovery leg could not be registered")
		return true
	}
	e.tradeHistory = append(e.tradeHistory, leg.ID)
	halted := e.halted
	e.persistLocked()
	e.mu.Unlock()

	metrics.Recoveries.WithLabelValues("opened").Inc()
	e.afterEntry(leg)

	if halted {
		price, err := e.quotes.LastPrice(ctx, leg.Symbol)
		if err != nil {
			metrics.QuoteFailures.Inc()
			price = leg.EntryPrice
		}
		log.WithFields(logrus.Fields{"leg": leg.ID, "price": price}).Warn("session halted during recovery entry, squaring off")
		if err := e.exitLeg(ctx, leg, price, model.StatusClosedExpiry); err != nil {
			log.WithError(err).WithField("leg", leg.ID).Error("square-off of late recovery leg failed")
		}
		e.checkCompletion()
	}
	return true
}

// abandonRecovery clears the pending flag without opening a leg.
func (e *Engine) abandonRecovery(req *recoveryRequest, why string) {
	e.mu.Lock()
	was := e.pending[req.origin]
	e.pending[req.origin] = false
	e.persistLocked()
	e.mu.Unlock()
	if !was {
		return
	}

	metrics.Recoveries.WithLabelValues("skipped").Inc()
	log.WithFields(logrus.Fields{"origin": req.origin, "symbol": req.symbol, "reason": why}).Info("recovery skipped")
	e.journal(recorder.TradeEvent{
		Type:   recorder.EventRecoverySkipped,
		LegID:  model.RecoveryID(req.origin),
		Symbol: req.symbol,
		Price:  req.trigger,
		Note:   why,
	})
	e.notify("Recovery skipped: "+model.RecoveryID(req.origin), why)
	e.checkCompletion()
}

// orphanRecovery stops a recovery whose order may or may not have reached
// the market. The leg is not tracked and never placed again.
func (e *Engine) orphanRecovery(req *recoveryRequest, cause error) {
	e.mu.Lock()
	e.pending[req.origin] = false
	e.persistLocked()
	e.mu.Unlock()

	id := model.RecoveryID(req.origin)
	metrics.Recoveries.WithLabelValues("unknown").Inc()
	log.WithError(cause).WithFields(logrus.Fields{"origin": req.origin, "symbol": req.symbol}).Error("recovery order outcome unknown, not retrying")
	e.journal(recorder.TradeEvent{
		Type:     recorder.EventRecoveryUnknown,
		LegID:    id,
		Symbol:   req.symbol,
		Side:     model.SideSell,
		Quantity: 2 * e.cfg.Strategy.Quantity,
		Note:     cause.Error(),
	})
	e.notify("Recovery outcome unknown: "+id,
		fmt.Sprintf("SELL %s may have been placed (%s). Check the broker; the position is not tracked.", req.symbol, html.EscapeString(cause.Error())))
	e.checkCompletion()
}

// originSymbol finds the symbol the origin leg traded, if it is known.
func (e *Engine) originSymbol(origin string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, leg := range e.ledger.Completed() {
		if leg.ID == origin {
			return leg.Symbol
		}
	}
	return ""
}
