package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegSentinel/internal/broker"
	"LegSentinel/internal/config"
	"LegSentinel/internal/model"
	"LegSentinel/internal/recorder"
	"LegSentinel/internal/store"
)

const (
	spotSym    = "NSE:NIFTY50-INDEX"
	callSym    = "NSE:NIFTY26O2225100CE"
	putSym     = "NSE:NIFTY26O2223900PE"
	recPutSym  = "NSE:NIFTY26O2223850PE"
	recCallSym = "NSE:NIFTY26O2225150CE"
)

var sessionDay = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Notify(subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

// body returns the body of the first alert whose subject starts with prefix.
func (f *fakeNotifier) body(prefix string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subjects {
		if strings.HasPrefix(s, prefix) {
			return f.bodies[i], true
		}
	}
	return "", false
}

func (f *fakeNotifier) has(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subjects {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type fakeRecorder struct {
	mu       sync.Mutex
	events   []recorder.TradeEvent
	sessions []model.Summary
}

func (f *fakeRecorder) RecordTrade(evt *recorder.TradeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *evt)
	return nil
}

func (f *fakeRecorder) RecordSession(sum *model.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, *sum)
	return nil
}

func (f *fakeRecorder) Close() error { return nil }

func (f *fakeRecorder) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeRecorder) find(typ, legID string) (recorder.TradeEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.Type == typ && e.LegID == legID {
			return e, true
		}
	}
	return recorder.TradeEvent{}, false
}

func (f *fakeRecorder) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// hookedGateway passes orders to the paper broker and runs after once, on
// the first accepted order for symbol and side. A non-nil error from after
// replaces the broker's answer.
type hookedGateway struct {
	*broker.PaperBroker
	symbol string
	side   model.Side
	after  func() error
	once   sync.Once
}

func (g *hookedGateway) PlaceOrder(ctx context.Context, symbol string, side model.Side, qty int) (*broker.OrderResult, error) {
	res, err := g.PaperBroker.PlaceOrder(ctx, symbol, side, qty)
	if err != nil || symbol != g.symbol || side != g.side {
		return res, err
	}
	var hookErr error
	g.once.Do(func() { hookErr = g.after() })
	if hookErr != nil {
		return nil, hookErr
	}
	return res, nil
}

// scriptedQuotes serves queued prices before falling back to the paper book.
type scriptedQuotes struct {
	*broker.PaperBroker
	mu   sync.Mutex
	next map[string][]float64
}

func (q *scriptedQuotes) queue(symbol string, prices ...float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next == nil {
		q.next = make(map[string][]float64)
	}
	q.next[symbol] = append(q.next[symbol], prices...)
}

func (q *scriptedQuotes) LastPrice(ctx context.Context, symbol string) (float64, error) {
	q.mu.Lock()
	if p := q.next[symbol]; len(p) > 0 {
		q.next[symbol] = p[1:]
		q.mu.Unlock()
		return p[0], nil
	}
	q.mu.Unlock()
	return q.PaperBroker.LastPrice(ctx, symbol)
}

type harness struct {
	t      *testing.T
	cfg    *config.Config
	clock  *fakeClock
	paper  *broker.PaperBroker
	quotes broker.QuoteSource
	orders broker.OrderGateway
	store  *store.FileStore
	rec    *fakeRecorder
	notes  *fakeNotifier
	eng    *Engine
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Session.Timezone = "UTC"
	config.ApplyDefaults(cfg)
	cfg.Engine.MonitorInterval = time.Hour
	cfg.Engine.SpotInterval = 10 * time.Millisecond
	cfg.Engine.RecoveryPollInterval = 5 * time.Millisecond
	cfg.Engine.FillRetryDelay = time.Millisecond
	cfg.Engine.FillRetryLimit = 2
	cfg.Engine.SpotWaitAttempts = 3
	return cfg
}

// newHarness builds an engine over a paper broker priced for a 24510 spot.
func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	fs, err := store.NewFileStore(t.TempDir() + "/state.json")
	require.NoError(t, err)

	h := &harness{
		t:     t,
		cfg:   cfg,
		clock: &fakeClock{t: sessionDay},
		paper: broker.NewPaperBroker(),
		store: fs,
		rec:   &fakeRecorder{},
		notes: &fakeNotifier{},
	}
	h.paper.SetPrice(spotSym, 24510)
	h.paper.SetPrice(callSym, 90)
	h.paper.SetPrice(putSym, 80)

	h.eng = h.newEngine()
	return h
}

func (h *harness) newEngine() *Engine {
	h.t.Helper()
	var quotes broker.QuoteSource = h.paper
	if h.quotes != nil {
		quotes = h.quotes
	}
	var orders broker.OrderGateway = h.paper
	if h.orders != nil {
		orders = h.orders
	}
	eng, err := New(h.cfg, Deps{
		Quotes:   quotes,
		Orders:   orders,
		Store:    h.store,
		Recorder: h.rec,
		Notifier: h.notes,
		Now:      h.clock.Now,
	})
	require.NoError(h.t, err)
	h.t.Cleanup(eng.Stop)
	return eng
}

// rewire rebuilds the engine over different quote and order collaborators.
// A nil argument keeps the paper broker.
func (h *harness) rewire(quotes broker.QuoteSource, orders broker.OrderGateway) {
	h.t.Helper()
	h.eng.Stop()
	h.quotes, h.orders = quotes, orders
	h.eng = h.newEngine()
}

func (h *harness) enter() {
	h.t.Helper()
	require.NoError(h.t, h.eng.EnterInitialLegs(context.Background()))
}

func (h *harness) cycle() {
	h.eng.RunCycle(context.Background())
}

func (h *harness) openIDs() []string {
	var ids []string
	for _, l := range h.eng.Status().OpenLegs {
		ids = append(ids, l.ID)
	}
	return ids
}

func (h *harness) openLeg(id string) (model.LegView, bool) {
	for _, l := range h.eng.Status().OpenLegs {
		if l.ID == id {
			return l, true
		}
	}
	return model.LegView{}, false
}

// sampled waits until the recovery for origin has taken its trigger price.
func (h *harness) sampled(origin string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, r := range h.eng.Status().Recoveries {
			if r.Origin == origin && r.Sampled {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) finished() bool {
	select {
	case <-h.eng.Done():
		return true
	default:
		return false
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestEnterInitialLegs(t *testing.T) {
	h := newHarness(t, nil)
	h.enter()

	st := h.eng.Status()
	assert.Equal(t, "2026-10-15", st.Date)
	assert.Equal(t, []string{model.LegCall, model.LegPut}, st.TradeHistory)
	require.Len(t, st.OpenLegs, 2)

	call, ok := h.openLeg(model.LegCall)
	require.True(t, ok)
	assert.Equal(t, callSym, call.Symbol)
	assert.Equal(t, 75, call.Quantity)
	assert.Equal(t, 90.0, call.EntryPrice)
	assert.InDelta(t, 126.0, call.StopLoss, 1e-9)
	assert.InDelta(t, 4.5, call.Target, 1e-9)

	put, ok := h.openLeg(model.LegPut)
	require.True(t, ok)
	assert.Equal(t, putSym, put.Symbol)
	assert.Equal(t, 80.0, put.EntryPrice)

	orders := h.paper.Orders()
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, model.SideSell, o.Side)
		assert.Equal(t, 75, o.Qty)
	}

	snap, err := h.store.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Positions, 2)
	assert.Equal(t, 90.0, snap.Positions[model.LegCall].EntryPrice)
	assert.Equal(t, 2, h.rec.count(recorder.EventEntry))
	assert.Eventually(t, func() bool { return h.notes.has("Leg entered: L2") }, time.Second, 5*time.Millisecond)
}

func TestEnterInitialLegsIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.enter()
	h.enter()
	assert.Len(t, h.paper.Orders(), 2)
}

func TestEnterInitialLegsConcurrent(t *testing.T) {
	h := newHarness(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.eng.EnterInitialLegs(context.Background())
		}()
	}
	wg.Wait()
	assert.Len(t, h.paper.Orders(), 2)
}

func TestEnterSkipsClosedDays(t *testing.T) {
	h := newHarness(t, nil)
	h.clock.Set(time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, h.eng.EnterInitialLegs(context.Background()), ErrMarketClosed)

	h = newHarness(t, func(c *config.Config) { c.Session.Holidays = []string{"2026-10-15"} })
	assert.ErrorIs(t, h.eng.EnterInitialLegs(context.Background()), ErrMarketClosed)
	assert.Empty(t, h.paper.Orders())
}

func TestEnterWithoutSpotFails(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetPrice(spotSym, 0)
	err := h.eng.EnterInitialLegs(context.Background())
	assert.ErrorIs(t, err, broker.ErrQuoteUnavailable)
	assert.Empty(t, h.paper.Orders())
}

func TestEnterRetriesOnlyMissingLeg(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.RejectOrders(putSym, 1)
	assert.Error(t, h.eng.EnterInitialLegs(context.Background()))
	assert.Equal(t, []string{model.LegCall}, h.openIDs())

	h.enter()
	assert.Equal(t, []string{model.LegCall, model.LegPut}, h.openIDs())
	assert.Len(t, h.paper.OrdersFor(callSym), 1)
}

func TestUnfilledOrderIsPlacedAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.HoldFills(callSym)
	h.enter()

	require.Eventually(t, func() bool {
		orders := h.paper.OrdersFor(callSym)
		if len(orders) != 2 {
			return false
		}
		snap, err := h.store.Load()
		return err == nil && snap.Positions[model.LegCall].OrderID == orders[1].ID
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, h.paper.OrdersFor(putSym), 1)
}

func TestStatusUsesLastPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.enter()
	h.paper.SetPrice(callSym, 70)
	h.paper.SetPrice(putSym, 60)
	h.cycle()

	st := h.eng.Status()
	// (90-70)*75 + (80-60)*75
	assert.InDelta(t, 3000.0, st.MTM, 1e-9)
	call, _ := h.openLeg(model.LegCall)
	assert.Equal(t, 70.0, call.LastPrice)
	assert.False(t, st.Halted)
}
