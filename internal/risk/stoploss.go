// Package risk holds the exit and profit-lock arithmetic for short legs.
package risk

import "LegSentinel/internal/model"

// Action is the outcome of evaluating a leg against a price.
type Action int

const (
	Hold Action = iota
	ExitStopLoss
	ExitTarget
)

func (a Action) String() string {
	switch a {
	case ExitStopLoss:
		return "EXIT_STOP_LOSS"
	case ExitTarget:
		return "EXIT_TARGET"
	}
	return "HOLD"
}

// Status maps an exit action to the closing leg status.
func (a Action) Status() model.LegStatus {
	switch a {
	case ExitStopLoss:
		return model.StatusClosedSL
	case ExitTarget:
		return model.StatusClosedTarget
	}
	return model.StatusOpen
}

// Decision is the result of Evaluate.
type Decision struct {
	Action    Action
	Price     float64
	SLPercent float64
	StopLoss  float64
	Target    float64
	PnL       float64
}

// EffectiveSLPercent walks steps in list order starting from base. Every
// step whose threshold the price has fallen under replaces the current value,
// so a later matching step always wins over an earlier one.
func EffectiveSLPercent(entry, price, base float64, steps []model.TrailingStep) float64 {
	sl := base
	for _, s := range steps {
		if price < entry*s.ThresholdPercent/100 {
			sl = s.SLPercent
		}
	}
	return sl
}

// StopLossPrice is the cover price that triggers a stop-loss for a short leg.
func StopLossPrice(entry, slPercent float64) float64 {
	return entry * (1 + slPercent/100)
}

// TargetPrice is the cover price that books the target.
func TargetPrice(entry, targetPercent float64) float64 {
	return entry * (1 - targetPercent/100)
}

// Evaluate decides whether leg should be covered at price. Stop-loss is
// checked before target.
func Evaluate(leg model.Leg, price float64) Decision {
	sl := EffectiveSLPercent(leg.EntryPrice, price, leg.SLPercent, leg.TrailingSteps)
	d := Decision{
		Action:    Hold,
		Price:     price,
		SLPercent: sl,
		StopLoss:  StopLossPrice(leg.EntryPrice, sl),
		Target:    TargetPrice(leg.EntryPrice, leg.TargetPercent),
	}
	switch {
	case price >= d.StopLoss:
		d.Action = ExitStopLoss
	case price <= d.Target:
		d.Action = ExitTarget
	}
	if d.Action != Hold {
		d.PnL = leg.PnLAt(price)
	}
	return d
}
