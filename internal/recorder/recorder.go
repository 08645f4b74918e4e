package recorder

import (
	"time"

	"LegSentinel/internal/model"
)

// Trade event types.
const (
	EventEntry              = "ENTRY"
	EventExit               = "EXIT"
	EventRecoveryDispatched = "RECOVERY_DISPATCHED"
	EventRecoverySkipped    = "RECOVERY_SKIPPED"
	EventRecoveryUnknown    = "RECOVERY_UNKNOWN"
	EventLockRaised         = "LOCK_RAISED"
	EventLiquidation        = "LIQUIDATION"
	EventOrderFailed        = "ORDER_FAILED"
)

// TradeEvent is one journal line for a leg or the session.
type TradeEvent struct {
	Time     time.Time
	Date     string
	Type     string
	LegID    string
	Symbol   string
	Side     model.Side
	Quantity int
	Price    float64
	PnL      float64
	OrderID  string
	Note     string
}

// Recorder journals trades and session outcomes for later analysis.
type Recorder interface {
	RecordTrade(evt *TradeEvent) error
	RecordSession(sum *model.Summary) error
	Close() error
}
