package engine

import (
	"LegSentinel/internal/metrics"
	"LegSentinel/internal/model"
	"LegSentinel/internal/notifier"
)

// terminalCombos are the completed-leg sets that end a session.
var terminalCombos = [][]string{
	{model.LegCall, model.LegPut},
	{model.LegCall, model.LegPut, model.RecoveryID(model.LegCall)},
	{model.LegCall, model.LegPut, model.RecoveryID(model.LegPut)},
	{model.LegCall, model.LegPut, model.RecoveryID(model.LegCall), model.RecoveryID(model.LegPut)},
}

// SessionComplete reports whether completed covers a terminal combination
// and no recovery is still pending.
func SessionComplete(completed []string, pending map[string]bool) bool {
	for _, p := range pending {
		if p {
			return false
		}
	}
	set := make(map[string]bool, len(completed))
	for _, id := range completed {
		set[id] = true
	}
	for _, combo := range terminalCombos {
		matched := true
		for _, id := range combo {
			if !set[id] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// checkCompletion finishes the session once no leg is open and either the
// session was halted or a terminal combination has been reached.
func (e *Engine) checkCompletion() {
	e.mu.Lock()
	if e.finished || e.ledger.Len() > 0 {
		e.mu.Unlock()
		return
	}
	var reason string
	switch {
	case e.halted:
		reason = e.haltReason
	case SessionComplete(e.ledger.CompletedIDs(), e.pending):
		reason = model.ReasonCycleDone
	default:
		e.mu.Unlock()
		return
	}
	sum := e.finishLocked(reason)
	e.mu.Unlock()

	e.announce(sum)
}

// finishLocked marks the session finished and builds its summary.
func (e *Engine) finishLocked(reason string) *model.Summary {
	e.finished = true
	e.halted = true
	if e.haltReason == "" {
		e.haltReason = reason
	}

	sum := &model.Summary{
		Date:         e.date,
		Reason:       reason,
		BookedPnL:    e.lock.Booked(),
		LockLevel:    e.lock.Level(),
		TradeHistory: append([]string(nil), e.tradeHistory...),
		Exits:        append([]model.ExitRecord(nil), e.exits...),
		FinishedAt:   e.now(),
	}
	for _, leg := range e.ledger.Completed() {
		if model.IsInitialID(leg.ID) && leg.Status == model.StatusClosedSL {
			sum.RecoveriesStarted++
		}
	}
	for _, id := range e.tradeHistory {
		if model.IsRecoveryID(id) {
			sum.RecoveriesOpened++
		}
	}
	if skipped := sum.RecoveriesStarted - sum.RecoveriesOpened; skipped > 0 {
		sum.RecoveriesSkipped = skipped
	}
	e.summary = sum
	e.persistLocked()
	return sum
}

func (e *Engine) announce(sum *model.Summary) {
	log.WithField("reason", sum.Reason).WithField("booked", sum.BookedPnL).Info("session finished")
	metrics.OpenLegs.Set(0)
	if err := e.rec.RecordSession(sum); err != nil {
		log.WithError(err).Error("failed to record session summary")
	}
	e.notify("Session summary", notifier.FormatSummary(sum))
	e.doneOnce.Do(func() { close(e.done) })
	e.cancel()
}
