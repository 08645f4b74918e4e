package model

import "time"

// SnapshotVersion is bumped when the persisted layout changes incompatibly.
const SnapshotVersion = 1

// PositionRecord is the persisted form of an open leg.
type PositionRecord struct {
	Symbol        string     `json:"symbol"`
	EntryPrice    float64    `json:"entry_price"`
	SLPercent     float64    `json:"sl_percent"`
	TargetPercent float64    `json:"target_percent"`
	Quantity      int        `json:"quantity,omitempty"`
	OptionType    OptionType `json:"option_type,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	OpenedAt      time.Time  `json:"opened_at,omitempty"`
}

// ExitRecord keeps the outcome of a completed leg for reporting.
type ExitRecord struct {
	LegID      string    `json:"leg_id"`
	Symbol     string    `json:"symbol"`
	Status     LegStatus `json:"status"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int       `json:"quantity"`
	PnL        float64   `json:"pnl"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Snapshot is the durable session state.
type Snapshot struct {
	Version         int                       `json:"version"`
	Date            string                    `json:"date"`
	Positions       map[string]PositionRecord `json:"positions"`
	BookedPnL       float64                   `json:"booked_pnl"`
	LockLevel       float64                   `json:"lock_level"`
	TradeHistory    []string                  `json:"trade_history"`
	CompletedLegs   []string                  `json:"completed_legs"`
	RecoveryPending map[string]bool           `json:"recovery_pending"`
	Exits           []ExitRecord              `json:"exits"`
	SavedAt         time.Time                 `json:"saved_at"`
}

// NewSnapshot returns an empty snapshot for date.
func NewSnapshot(date string) *Snapshot {
	s := &Snapshot{Version: SnapshotVersion, Date: date}
	s.Normalize()
	return s
}

// Normalize replaces missing collections with empty ones so older or
// hand-edited files load without special cases.
func (s *Snapshot) Normalize() {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	if s.Positions == nil {
		s.Positions = map[string]PositionRecord{}
	}
	if s.TradeHistory == nil {
		s.TradeHistory = []string{}
	}
	if s.CompletedLegs == nil {
		s.CompletedLegs = []string{}
	}
	if s.RecoveryPending == nil {
		s.RecoveryPending = map[string]bool{}
	}
	if s.Exits == nil {
		s.Exits = []ExitRecord{}
	}
}
