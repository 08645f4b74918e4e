package engine

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/instrument"
	"LegSentinel/internal/ledger"
	"LegSentinel/internal/model"
	"LegSentinel/internal/store"
)

// Restore loads the persisted session. A snapshot from an earlier day is
// discarded; open positions without any entry history are treated as
// corrupt and cleared. Pending recoveries resume when Start is called.
func (e *Engine) Restore() error {
	snap, err := e.store.Load()
	e.mu.Lock()
	defer e.mu.Unlock()

	today := e.today()
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.WithField("date", today).Info("no saved state, starting fresh session")
		e.resetLocked(today)
		e.persistLocked()
		return nil
	case err != nil:
		return errors.Wrap(err, "load session state")
	}

	if snap.Date != today {
		log.WithFields(logrus.Fields{"saved": snap.Date, "today": today}).Info("saved state is from another day, resetting")
		e.resetLocked(today)
		e.persistLocked()
		return nil
	}

	if len(snap.Positions) > 0 && len(snap.TradeHistory) == 0 {
		log.WithField("positions", len(snap.Positions)).Warn("open positions without trade history, clearing them")
		snap.Positions = map[string]model.PositionRecord{}
	}

	exits := map[string]model.ExitRecord{}
	for _, x := range snap.Exits {
		exits[x.LegID] = x
	}
	var completed []model.Leg
	for _, id := range snap.CompletedLegs {
		leg := model.Leg{ID: id, Kind: model.KindOf(id), Status: model.StatusClosedExpiry}
		if x, ok := exits[id]; ok {
			leg.Symbol = x.Symbol
			leg.Status = x.Status
			leg.EntryPrice = x.EntryPrice
			leg.ExitPrice = x.ExitPrice
			leg.Quantity = x.Quantity
			leg.RealizedPnL = x.PnL
			leg.ClosedAt = x.ClosedAt
		}
		completed = append(completed, leg)
	}

	var open []model.Leg
	for _, id := range orderedPositionIDs(snap) {
		open = append(open, e.legFromRecord(id, snap.Positions[id]))
	}

	restored := ledger.New()
	if err := restored.Restore(open, completed); err != nil {
		return errors.Wrap(err, "restore ledger")
	}
	e.resetLocked(today)
	e.ledger = restored
	e.lock.Restore(snap.BookedPnL, snap.LockLevel)
	e.tradeHistory = append(e.tradeHistory, snap.TradeHistory...)
	for k, v := range snap.RecoveryPending {
		e.pending[k] = v
	}
	e.exits = append(e.exits, snap.Exits...)
	e.persistLocked()

	log.WithFields(logrus.Fields{
		"open":      e.ledger.Len(),
		"completed": len(completed),
		"booked":    snap.BookedPnL,
		"lock":      snap.LockLevel,
	}).Info("session state restored")
	return nil
}

// orderedPositionIDs lists restored positions in trade-history order, then
// any stragglers by id.
func orderedPositionIDs(snap *model.Snapshot) []string {
	seen := map[string]bool{}
	var ids []string
	for _, id := range snap.TradeHistory {
		if _, ok := snap.Positions[id]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	for _, id := range []string{model.LegCall, model.LegPut, model.RecoveryID(model.LegCall), model.RecoveryID(model.LegPut)} {
		if _, ok := snap.Positions[id]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	for id := range snap.Positions {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) legFromRecord(id string, rec model.PositionRecord) model.Leg {
	kind := model.KindOf(id)
	params := e.cfg.Strategy.InitialLeg
	qty := e.cfg.Strategy.Quantity
	if kind == model.KindRecovery {
		params = e.cfg.Strategy.RecoveryLeg
		qty *= 2
	}
	if rec.Quantity > 0 {
		qty = rec.Quantity
	}
	optType := rec.OptionType
	if optType == "" {
		if t, ok := instrument.TypeOf(rec.Symbol); ok {
			optType = t
		}
	}
	leg := model.Leg{
		ID:            id,
		Kind:          kind,
		Symbol:        rec.Symbol,
		OptionType:    optType,
		Side:          model.SideSell,
		Quantity:      qty,
		EntryPrice:    rec.EntryPrice,
		SLPercent:     rec.SLPercent,
		TargetPercent: rec.TargetPercent,
		TrailingSteps: append([]model.TrailingStep(nil), params.TrailingSteps...),
		Status:        model.StatusOpen,
		OrderID:       rec.OrderID,
		OpenedAt:      rec.OpenedAt,
	}
	if leg.SLPercent == 0 {
		leg.SLPercent = params.SLPercent
	}
	if leg.TargetPercent == 0 {
		leg.TargetPercent = params.TargetPercent
	}
	if kind == model.KindRecovery {
		leg.Origin = model.OriginOf(id)
	}
	return leg
}
