package broker

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"LegSentinel/internal/model"
)

// BridgeClient talks to a broker sidecar that owns authentication and the
// raw order transport.
type BridgeClient struct {
	query  *resty.Client
	orders *resty.Client
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
}

type orderRequest struct {
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Quantity int        `json:"quantity"`
	Type     string     `json:"type"`
}

type orderStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Filled  bool   `json:"filled"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// NewBridgeClient creates a client for the sidecar at baseURL. Reads are
// retried; order submission never is, so a timeout cannot double an order.
func NewBridgeClient(baseURL, apiKey, proxy string, timeout time.Duration) *BridgeClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	build := func() *resty.Client {
		c := resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json")
		if apiKey != "" {
			c.SetAuthToken(apiKey)
		}
		if proxy != "" {
			c.SetProxy(proxy)
		}
		return c
	}
	query := build().
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	return &BridgeClient{query: query, orders: build()}
}

// LastPrice implements QuoteSource.
func (b *BridgeClient) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var out quoteResponse
	resp, err := b.query.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/quote")
	if err != nil {
		return 0, errors.Wrapf(ErrQuoteUnavailable, "%s: %v", symbol, err)
	}
	if resp.IsError() {
		return 0, errors.Wrapf(ErrQuoteUnavailable, "%s: status %d", symbol, resp.StatusCode())
	}
	if out.LTP <= 0 {
		return 0, errors.Wrapf(ErrQuoteUnavailable, "%s: no ltp", symbol)
	}
	return out.LTP, nil
}

// PlaceOrder implements OrderGateway with a market order.
func (b *BridgeClient) PlaceOrder(ctx context.Context, symbol string, side model.Side, qty int) (*OrderResult, error) {
	var out OrderResult
	var fail errorResponse
	resp, err := b.orders.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(orderRequest{Symbol: symbol, Side: side, Quantity: qty, Type: "MARKET"}).
		SetResult(&out).
		SetError(&fail).
		Post("/orders")
	if err != nil {
		return nil, errors.Wrap(err, "place order")
	}
	switch {
	case resp.StatusCode() == http.StatusUnprocessableEntity || resp.StatusCode() == http.StatusConflict:
		return &OrderResult{Accepted: false, Message: fail.Message}, nil
	case resp.IsError():
		return nil, errors.Errorf("place order: status %d: %s", resp.StatusCode(), fail.Message)
	}
	return &out, nil
}

// IsFilled implements OrderGateway.
func (b *BridgeClient) IsFilled(ctx context.Context, orderID string) (bool, error) {
	var out orderStatusResponse
	resp, err := b.query.R().
		SetContext(ctx).
		SetPathParam("id", orderID).
		SetResult(&out).
		Get("/orders/{id}")
	if err != nil {
		return false, errors.Wrap(err, "order status")
	}
	if resp.IsError() {
		return false, errors.Errorf("order status %s: status %d", orderID, resp.StatusCode())
	}
	return out.Filled || strings.EqualFold(out.Status, "FILLED"), nil
}
