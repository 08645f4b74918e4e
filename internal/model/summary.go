package model

import "time"

// Completion reasons reported in a session summary.
const (
	ReasonCycleDone  = "CYCLE_DONE"
	ReasonProfitLock = "PROFIT_LOCK"
	ReasonSquareOff  = "SQUARE_OFF"
	ReasonManual     = "MANUAL"
)

// Summary is emitted once a session finishes.
type Summary struct {
	Date              string
	Reason            string
	BookedPnL         float64
	LockLevel         float64
	TradeHistory      []string
	Exits             []ExitRecord
	RecoveriesStarted int
	RecoveriesOpened  int
	RecoveriesSkipped int
	FinishedAt        time.Time
}

// Status is a read-only view of the running engine.
type Status struct {
	Date            string          `json:"date"`
	Spot            float64         `json:"spot"`
	BookedPnL       float64         `json:"booked_pnl"`
	MTM             float64         `json:"mtm"`
	LockLevel       float64         `json:"lock_level"`
	OpenLegs        []LegView       `json:"open_legs"`
	CompletedLegs   []string        `json:"completed_legs"`
	TradeHistory    []string        `json:"trade_history"`
	RecoveryPending map[string]bool `json:"recovery_pending"`
	Recoveries      []RecoveryView  `json:"recoveries,omitempty"`
	Halted          bool            `json:"halted"`
	Finished        bool            `json:"finished"`
}

// LegView is the status projection of an open leg.
type LegView struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Quantity   int     `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	LastPrice  float64 `json:"last_price"`
	StopLoss   float64 `json:"stop_loss"`
	Target     float64 `json:"target"`
}

// RecoveryView describes a recovery that is waiting to enter.
type RecoveryView struct {
	Origin   string    `json:"origin"`
	Symbol   string    `json:"symbol,omitempty"`
	Trigger  float64   `json:"trigger,omitempty"`
	Sampled  bool      `json:"sampled"`
	Deadline time.Time `json:"deadline"`
}
