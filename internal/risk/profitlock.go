package risk

import "github.com/shopspring/decimal"

// LockUpdate reports one profit-lock evaluation.
type LockUpdate struct {
	MTM      float64
	Level    float64
	Raised   bool
	Breached bool
}

// ProfitLock tracks booked PnL and a ratcheting floor on mark-to-market.
// The level only moves up; it is reset by creating a new tracker.
type ProfitLock struct {
	base      decimal.Decimal
	increment decimal.Decimal
	booked    decimal.Decimal
	level     decimal.Decimal
}

// NewProfitLock creates a tracker that starts locking at base and raises the
// floor in whole multiples of increment.
func NewProfitLock(base, increment float64) *ProfitLock {
	return &ProfitLock{
		base:      decimal.NewFromFloat(base),
		increment: decimal.NewFromFloat(increment),
	}
}

// Book adds realized PnL from an exit.
func (p *ProfitLock) Book(pnl float64) {
	p.booked = p.booked.Add(decimal.NewFromFloat(pnl))
}

// Booked returns realized PnL.
func (p *ProfitLock) Booked() float64 { return p.booked.InexactFloat64() }

// Level returns the current lock floor.
func (p *ProfitLock) Level() float64 { return p.level.InexactFloat64() }

// Restore seeds the tracker from persisted values.
func (p *ProfitLock) Restore(booked, level float64) {
	p.booked = decimal.NewFromFloat(booked)
	p.level = decimal.NewFromFloat(level)
}

// MTM is booked plus the given unrealized PnL.
func (p *ProfitLock) MTM(unrealized float64) float64 {
	return p.booked.Add(decimal.NewFromFloat(unrealized)).InexactFloat64()
}

// Update recomputes MTM, ratchets the lock and reports a breach.
func (p *ProfitLock) Update(unrealized float64) LockUpdate {
	mtm := p.booked.Add(decimal.NewFromFloat(unrealized))
	u := LockUpdate{}

	if mtm.GreaterThanOrEqual(p.base) && p.increment.IsPositive() {
		steps := mtm.Sub(p.base).Div(p.increment).Floor()
		candidate := steps.Mul(p.increment)
		if candidate.GreaterThan(p.level) {
			p.level = candidate
			u.Raised = true
		}
	}

	u.MTM = mtm.InexactFloat64()
	u.Level = p.level.InexactFloat64()
	u.Breached = p.level.IsPositive() && mtm.LessThan(p.level)
	return u
}
