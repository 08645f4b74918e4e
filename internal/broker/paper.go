package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"LegSentinel/internal/model"
)

// PaperOrder is an order accepted by the paper broker.
type PaperOrder struct {
	ID     string
	Symbol string
	Side   model.Side
	Qty    int
	Price  float64
}

// PaperBroker simulates a venue in memory. Orders fill immediately at the
// last set price.
type PaperBroker struct {
	mu       sync.Mutex
	prices   map[string]float64
	failures map[string]int
	rejects  map[string]int
	holdNext map[string]bool
	unfilled map[string]bool
	orders   []PaperOrder
}

// NewPaperBroker creates an empty paper broker.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		prices:   make(map[string]float64),
		failures: make(map[string]int),
		rejects:  make(map[string]int),
		holdNext: make(map[string]bool),
		unfilled: make(map[string]bool),
	}
}

// SetPrice sets the last traded price of symbol.
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// FailQuotes makes the next n quotes for symbol fail.
func (p *PaperBroker) FailQuotes(symbol string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[symbol] = n
}

// RejectOrders makes the next n orders for symbol be refused.
func (p *PaperBroker) RejectOrders(symbol string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejects[symbol] = n
}

// HoldFills leaves the next order for symbol unfilled.
func (p *PaperBroker) HoldFills(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdNext[symbol] = true
}

// LastPrice implements QuoteSource.
func (p *PaperBroker) LastPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures[symbol] > 0 {
		p.failures[symbol]--
		return 0, fmt.Errorf("%s: %w", symbol, ErrQuoteUnavailable)
	}
	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%s: %w", symbol, ErrQuoteUnavailable)
	}
	return price, nil
}

// PlaceOrder implements OrderGateway.
func (p *PaperBroker) PlaceOrder(_ context.Context, symbol string, side model.Side, qty int) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejects[symbol] > 0 {
		p.rejects[symbol]--
		return &OrderResult{Accepted: false, Message: "rejected by paper broker"}, nil
	}
	id := uuid.NewString()
	p.orders = append(p.orders, PaperOrder{ID: id, Symbol: symbol, Side: side, Qty: qty, Price: p.prices[symbol]})
	if p.holdNext[symbol] {
		delete(p.holdNext, symbol)
		p.unfilled[id] = true
	}
	return &OrderResult{OrderID: id, Accepted: true}, nil
}

// IsFilled implements OrderGateway.
func (p *PaperBroker) IsFilled(_ context.Context, orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.orders {
		if o.ID == orderID {
			return !p.unfilled[orderID], nil
		}
	}
	return false, fmt.Errorf("unknown order %s", orderID)
}

// Orders returns every accepted order in submission order.
func (p *PaperBroker) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperOrder, len(p.orders))
	copy(out, p.orders)
	return out
}

// OrdersFor returns accepted orders for symbol.
func (p *PaperBroker) OrdersFor(symbol string) []PaperOrder {
	var out []PaperOrder
	for _, o := range p.Orders() {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}
