// Package ledger tracks the open and completed legs of one session.
package ledger

import (
	"fmt"
	"time"

	"LegSentinel/internal/model"
)

// DuplicateLegError is returned when a leg id was already used this session.
type DuplicateLegError struct {
	ID string
}

func (e *DuplicateLegError) Error() string {
	return fmt.Sprintf("leg %s already exists", e.ID)
}

// UnknownLegError is returned when closing a leg that is not open.
type UnknownLegError struct {
	ID string
}

func (e *UnknownLegError) Error() string {
	return fmt.Sprintf("leg %s is not open", e.ID)
}

// Ledger holds open legs by id and the ordered set of completed legs.
// It is not safe for concurrent use; the owner serializes access.
type Ledger struct {
	open      map[string]*model.Leg
	order     []string
	completed []model.Leg
	done      map[string]int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		open: make(map[string]*model.Leg),
		done: make(map[string]int),
	}
}

// Open registers a new OPEN leg.
func (l *Ledger) Open(leg model.Leg) error {
	if _, ok := l.open[leg.ID]; ok {
		return &DuplicateLegError{ID: leg.ID}
	}
	if _, ok := l.done[leg.ID]; ok {
		return &DuplicateLegError{ID: leg.ID}
	}
	leg = leg.Clone()
	leg.Status = model.StatusOpen
	if leg.Kind == "" {
		leg.Kind = model.KindOf(leg.ID)
	}
	l.open[leg.ID] = &leg
	l.order = append(l.order, leg.ID)
	return nil
}

// Close moves an open leg to the completed set with status and returns it.
func (l *Ledger) Close(id string, status model.LegStatus) (model.Leg, error) {
	leg, ok := l.open[id]
	if !ok {
		return model.Leg{}, &UnknownLegError{ID: id}
	}
	if !status.Closed() {
		return model.Leg{}, fmt.Errorf("leg %s: %s is not a closing status", id, status)
	}
	delete(l.open, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	leg.Status = status
	l.done[id] = len(l.completed)
	l.completed = append(l.completed, *leg)
	return leg.Clone(), nil
}

// Settle records exit details on a completed leg.
func (l *Ledger) Settle(id string, exitPrice, pnl float64, at time.Time) error {
	i, ok := l.done[id]
	if !ok {
		return &UnknownLegError{ID: id}
	}
	c := &l.completed[i]
	c.ExitPrice = exitPrice
	c.RealizedPnL = pnl
	c.ClosedAt = at
	return nil
}

// SetOrderID records a replacement order for an open leg.
func (l *Ledger) SetOrderID(id, orderID string) error {
	leg, ok := l.open[id]
	if !ok {
		return &UnknownLegError{ID: id}
	}
	leg.OrderID = orderID
	return nil
}

// Get returns a copy of the open leg with id.
func (l *Ledger) Get(id string) (model.Leg, bool) {
	leg, ok := l.open[id]
	if !ok {
		return model.Leg{}, false
	}
	return leg.Clone(), true
}

// IsOpen reports whether id is currently open.
func (l *Ledger) IsOpen(id string) bool {
	_, ok := l.open[id]
	return ok
}

// IsCompleted reports whether id has been closed this session.
func (l *Ledger) IsCompleted(id string) bool {
	_, ok := l.done[id]
	return ok
}

// Known reports whether id is open or completed.
func (l *Ledger) Known(id string) bool {
	return l.IsOpen(id) || l.IsCompleted(id)
}

// OpenLegs returns copies of the open legs in the order they were opened.
func (l *Ledger) OpenLegs() []model.Leg {
	out := make([]model.Leg, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.open[id].Clone())
	}
	return out
}

// Completed returns copies of the completed legs in closing order.
func (l *Ledger) Completed() []model.Leg {
	out := make([]model.Leg, len(l.completed))
	for i, leg := range l.completed {
		out[i] = leg.Clone()
	}
	return out
}

// CompletedIDs returns the completed leg ids in closing order.
func (l *Ledger) CompletedIDs() []string {
	out := make([]string, len(l.completed))
	for i, leg := range l.completed {
		out[i] = leg.ID
	}
	return out
}

// Len is the number of open legs.
func (l *Ledger) Len() int { return len(l.open) }

// Snapshot is an immutable copy of the ledger contents.
type Snapshot struct {
	Open      []model.Leg
	Completed []model.Leg
}

// Snapshot copies the ledger. Nothing in the result aliases ledger memory.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{Open: l.OpenLegs(), Completed: l.Completed()}
}

// Restore replaces the ledger contents. Ids must be unique across both lists.
func (l *Ledger) Restore(open []model.Leg, completed []model.Leg) error {
	fresh := New()
	for _, leg := range completed {
		if fresh.Known(leg.ID) {
			return &DuplicateLegError{ID: leg.ID}
		}
		leg = leg.Clone()
		if leg.Kind == "" {
			leg.Kind = model.KindOf(leg.ID)
		}
		fresh.done[leg.ID] = len(fresh.completed)
		fresh.completed = append(fresh.completed, leg)
	}
	for _, leg := range open {
		if err := fresh.Open(leg); err != nil {
			return err
		}
	}
	*l = *fresh
	return nil
}
