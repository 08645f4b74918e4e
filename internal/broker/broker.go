// Package broker defines the market data and order capabilities the engine
// consumes, with a paper implementation and an HTTP bridge client.
package broker

import (
	"context"

	"github.com/pkg/errors"

	"LegSentinel/internal/model"
)

var (
	// ErrQuoteUnavailable means no usable price could be obtained.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrOrderRejected means the gateway refused the order.
	ErrOrderRejected = errors.New("order rejected")
)

// QuoteSource supplies last traded prices.
type QuoteSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// OrderResult is the gateway's answer to a market order.
type OrderResult struct {
	OrderID  string `json:"order_id"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// OrderGateway places market orders and reports fills.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, symbol string, side model.Side, qty int) (*OrderResult, error)
	IsFilled(ctx context.Context, orderID string) (bool, error)
}

// Broker is both a quote source and an order gateway.
type Broker interface {
	QuoteSource
	OrderGateway
}

// Submit places an order and turns a refusal into ErrOrderRejected.
func Submit(ctx context.Context, gw OrderGateway, symbol string, side model.Side, qty int) (*OrderResult, error) {
	res, err := gw.PlaceOrder(ctx, symbol, side, qty)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Accepted {
		msg := ""
		if res != nil {
			msg = res.Message
		}
		return res, errors.Wrapf(ErrOrderRejected, "%s %d %s: %s", side, qty, symbol, msg)
	}
	return res, nil
}
