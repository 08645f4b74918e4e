package model

import (
	"strings"
	"time"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OptionType is the option right encoded in an exchange symbol.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Opposite returns the other option right.
func (t OptionType) Opposite() OptionType {
	if t == Call {
		return Put
	}
	return Call
}

// LegKind distinguishes the two opening legs from the recovery legs.
type LegKind string

const (
	KindInitial  LegKind = "INITIAL"
	KindRecovery LegKind = "RECOVERY"
)

// LegStatus is the lifecycle state of a leg. A leg leaves OPEN exactly once.
type LegStatus string

const (
	StatusOpen         LegStatus = "OPEN"
	StatusClosedSL     LegStatus = "CLOSED_SL"
	StatusClosedTarget LegStatus = "CLOSED_TARGET"
	StatusClosedExpiry LegStatus = "CLOSED_EXPIRY"
)

// Closed reports whether s is one of the terminal statuses.
func (s LegStatus) Closed() bool {
	switch s {
	case StatusClosedSL, StatusClosedTarget, StatusClosedExpiry:
		return true
	}
	return false
}

// Initial leg ids. L1 is always the call, L2 the put.
const (
	LegCall = "L1"
	LegPut  = "L2"
)

// InitialLegs lists the origin legs in entry order.
var InitialLegs = []string{LegCall, LegPut}

const recoverySuffix = ".1"

// RecoveryID returns the id of the recovery leg tied to origin.
func RecoveryID(origin string) string { return origin + recoverySuffix }

// IsRecoveryID reports whether id names a recovery leg.
func IsRecoveryID(id string) bool { return strings.HasSuffix(id, recoverySuffix) }

// OriginOf returns the origin leg id of a recovery leg id.
func OriginOf(id string) string { return strings.TrimSuffix(id, recoverySuffix) }

// IsInitialID reports whether id is one of the origin legs.
func IsInitialID(id string) bool { return id == LegCall || id == LegPut }

// KindOf derives the leg kind from its id.
func KindOf(id string) LegKind {
	if IsRecoveryID(id) {
		return KindRecovery
	}
	return KindInitial
}

// InitialOptionType returns the option right an origin leg was opened with.
func InitialOptionType(origin string) OptionType {
	if origin == LegPut {
		return Put
	}
	return Call
}

// TrailingStep tightens the stop-loss once the premium falls below
// ThresholdPercent of entry.
type TrailingStep struct {
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`
	SLPercent        float64 `json:"sl_percent" yaml:"sl_percent"`
}

// Leg is one tracked short option position.
type Leg struct {
	ID            string
	Kind          LegKind
	Origin        string
	Symbol        string
	OptionType    OptionType
	Side          Side
	Quantity      int
	EntryPrice    float64
	SLPercent     float64
	TargetPercent float64
	TrailingSteps []TrailingStep
	Status        LegStatus
	OrderID       string
	OpenedAt      time.Time

	ExitPrice   float64
	RealizedPnL float64
	ClosedAt    time.Time
}

// Clone returns a deep copy of the leg.
func (l Leg) Clone() Leg {
	if l.TrailingSteps != nil {
		steps := make([]TrailingStep, len(l.TrailingSteps))
		copy(steps, l.TrailingSteps)
		l.TrailingSteps = steps
	}
	return l
}

// PnLAt is the short-side profit of the leg if covered at price.
func (l Leg) PnLAt(price float64) float64 {
	return (l.EntryPrice - price) * float64(l.Quantity)
}
