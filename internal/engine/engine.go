// Package engine runs one trading session: initial entries, per-leg risk
// monitoring, recovery legs, the profit lock and session completion.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"LegSentinel/internal/broker"
	"LegSentinel/internal/config"
	"LegSentinel/internal/instrument"
	"LegSentinel/internal/ledger"
	"LegSentinel/internal/metrics"
	"LegSentinel/internal/model"
	"LegSentinel/internal/notifier"
	"LegSentinel/internal/recorder"
	"LegSentinel/internal/risk"
	"LegSentinel/internal/store"
)

var log = logrus.WithField("component", "engine")

var (
	// ErrHalted is returned once the session has been liquidated or finished.
	ErrHalted = errors.New("session halted")
	// ErrRecoveryActive is returned when a recovery is already running for an origin leg.
	ErrRecoveryActive = errors.New("recovery already active")
	// ErrMarketClosed is returned when entering on a weekend or holiday.
	ErrMarketClosed = errors.New("market closed today")
)

// Deps are the collaborators the engine drives.
type Deps struct {
	Quotes   broker.QuoteSource
	Orders   broker.OrderGateway
	Store    store.Store
	Recorder recorder.Recorder
	Notifier notifier.Notifier
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the ledger, session state and profit lock. Every mutation of
// that state happens under mu; broker and store I/O happens outside it
// except for the snapshot write that closes each transition.
type Engine struct {
	cfg       *config.Config
	loc       *time.Location
	cal       *instrument.Calendar
	expiryDay time.Weekday
	entryAt   time.Duration
	cutoffAt  time.Duration

	quotes broker.QuoteSource
	orders broker.OrderGateway
	store  store.Store
	rec    recorder.Recorder
	notif  notifier.Notifier
	now    func() time.Time

	entryMu      sync.Mutex
	mu           sync.Mutex
	ledger       *ledger.Ledger
	lock         *risk.ProfitLock
	date         string
	tradeHistory []string
	pending      map[string]bool
	exits        []model.ExitRecord
	lastPrice    map[string]float64
	exiting      map[string]bool
	recovering   map[string]model.RecoveryView
	spot         float64
	spotAt       time.Time
	halted       bool
	haltReason   string
	finished     bool
	started      bool
	summary      *model.Summary

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once

	notesMu     sync.RWMutex
	notesClosed bool
	notes       chan note
	notesDone   chan struct{}
}

type note struct {
	subject string
	body    string
}

// New builds an engine for a fresh session dated today.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Quotes == nil || deps.Orders == nil || deps.Store == nil {
		return nil, errors.New("engine: quotes, orders and store are required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	weekday, err := config.ParseWeekday(cfg.Strategy.ExpiryWeekday)
	if err != nil {
		return nil, err
	}
	entryAt, err := config.ParseClock(cfg.Session.EntryTime)
	if err != nil {
		return nil, errors.Wrap(err, "entry time")
	}
	cutoffAt, err := config.ParseClock(cfg.Session.SquareOffTime)
	if err != nil {
		return nil, errors.Wrap(err, "square-off time")
	}

	e := &Engine{
		cfg:       cfg,
		loc:       loc,
		cal:       instrument.NewCalendar(cfg.Session.Holidays, loc),
		expiryDay: weekday,
		entryAt:   entryAt,
		cutoffAt:  cutoffAt,
		quotes:    deps.Quotes,
		orders:    deps.Orders,
		store:     deps.Store,
		rec:       deps.Recorder,
		notif:     deps.Notifier,
		now:       deps.Now,
		done:      make(chan struct{}),
		notes:     make(chan note, 64),
		notesDone: make(chan struct{}),
	}
	if e.rec == nil {
		e.rec = recorder.NewNoopRecorder()
	}
	if e.notif == nil {
		e.notif = notifier.LogNotifier{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.resetLocked(e.today())

	go e.deliver()
	return e, nil
}

func (e *Engine) resetLocked(date string) {
	e.ledger = ledger.New()
	e.lock = risk.NewProfitLock(e.cfg.Strategy.LockBase, e.cfg.Strategy.LockIncrement)
	e.date = date
	e.tradeHistory = []string{}
	e.pending = map[string]bool{}
	e.exits = []model.ExitRecord{}
	e.lastPrice = map[string]float64{}
	e.exiting = map[string]bool{}
	e.recovering = map[string]model.RecoveryView{}
	e.halted = false
	e.haltReason = ""
	e.finished = false
	e.summary = nil
}

// Start launches the monitor and spot feed and resumes pending recoveries.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	var resume []string
	for _, origin := range model.InitialLegs {
		if e.pending[origin] {
			resume = append(resume, origin)
		}
	}
	e.mu.Unlock()

	e.wg.Add(2)
	go e.monitorLoop()
	go e.spotLoop()

	for _, origin := range resume {
		log.WithField("origin", origin).Info("resuming pending recovery")
		if err := e.dispatchRecovery(origin, e.originSymbol(origin)); err != nil {
			log.WithError(err).WithField("origin", origin).Warn("could not resume recovery")
		}
	}
	log.WithField("date", e.Date()).Info("engine started")
}

// Stop cancels background work, waits for it and writes a final snapshot.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()

		e.mu.Lock()
		e.persistLocked()
		e.mu.Unlock()

		e.notesMu.Lock()
		e.notesClosed = true
		close(e.notes)
		e.notesMu.Unlock()
		<-e.notesDone
		log.Info("engine stopped")
	})
}

// Done is closed when the session finishes.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Date is the session date.
func (e *Engine) Date() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.date
}

// Summary returns the final report once the session has finished.
func (e *Engine) Summary() (*model.Summary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.summary == nil {
		return nil, false
	}
	s := *e.summary
	return &s, true
}

// Status is a read-only view of the session.
func (e *Engine) Status() model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := model.Status{
		Date:            e.date,
		Spot:            e.spot,
		BookedPnL:       e.lock.Booked(),
		MTM:             e.lock.MTM(e.unrealizedLocked()),
		LockLevel:       e.lock.Level(),
		CompletedLegs:   e.ledger.CompletedIDs(),
		TradeHistory:    append([]string(nil), e.tradeHistory...),
		RecoveryPending: make(map[string]bool, len(e.pending)),
		Halted:          e.halted,
		Finished:        e.finished,
	}
	for k, v := range e.pending {
		st.RecoveryPending[k] = v
	}
	for _, origin := range model.InitialLegs {
		if v, ok := e.recovering[origin]; ok {
			st.Recoveries = append(st.Recoveries, v)
		}
	}
	for _, leg := range e.ledger.OpenLegs() {
		last := e.lastPrice[leg.ID]
		price := last
		if price == 0 {
			price = leg.EntryPrice
		}
		d := risk.Evaluate(leg, price)
		st.OpenLegs = append(st.OpenLegs, model.LegView{
			ID:         leg.ID,
			Symbol:     leg.Symbol,
			Quantity:   leg.Quantity,
			EntryPrice: leg.EntryPrice,
			LastPrice:  last,
			StopLoss:   d.StopLoss,
			Target:     d.Target,
		})
	}
	return st
}

// unrealizedLocked marks open legs at their last known price. A leg with no
// price yet contributes nothing.
func (e *Engine) unrealizedLocked() float64 {
	total := 0.0
	for _, leg := range e.ledger.OpenLegs() {
		if p, ok := e.lastPrice[leg.ID]; ok && p > 0 {
			total += leg.PnLAt(p)
		}
	}
	return total
}

func (e *Engine) today() string {
	return e.now().In(e.loc).Format("2006-01-02")
}

func (e *Engine) clock() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) deadline() time.Time {
	return config.Clock(e.clock(), e.cutoffAt)
}

// snapshotLocked renders the durable state.
func (e *Engine) snapshotLocked() *model.Snapshot {
	s := model.NewSnapshot(e.date)
	view := e.ledger.Snapshot()
	for _, leg := range view.Open {
		s.Positions[leg.ID] = model.PositionRecord{
			Symbol:        leg.Symbol,
			EntryPrice:    leg.EntryPrice,
			SLPercent:     leg.SLPercent,
			TargetPercent: leg.TargetPercent,
			Quantity:      leg.Quantity,
			OptionType:    leg.OptionType,
			OrderID:       leg.OrderID,
			OpenedAt:      leg.OpenedAt,
		}
	}
	s.BookedPnL = e.lock.Booked()
	s.LockLevel = e.lock.Level()
	s.TradeHistory = append(s.TradeHistory, e.tradeHistory...)
	for _, leg := range view.Completed {
		s.CompletedLegs = append(s.CompletedLegs, leg.ID)
	}
	for k, v := range e.pending {
		s.RecoveryPending[k] = v
	}
	s.Exits = append(s.Exits, e.exits...)
	s.SavedAt = e.now()
	return s
}

// persistLocked saves the snapshot. A failed save is logged and the session
// carries on in memory.
func (e *Engine) persistLocked() {
	metrics.OpenLegs.Set(float64(e.ledger.Len()))
	metrics.BookedPnL.Set(e.lock.Booked())
	metrics.LockLevel.Set(e.lock.Level())
	if err := e.store.Save(e.snapshotLocked()); err != nil {
		log.WithError(err).Error("failed to save session state")
	}
}

func (e *Engine) journal(evt recorder.TradeEvent) {
	if evt.Time.IsZero() {
		evt.Time = e.now()
	}
	if evt.Date == "" {
		evt.Date = e.Date()
	}
	if err := e.rec.RecordTrade(&evt); err != nil {
		log.WithError(err).WithField("event", evt.Type).Error("failed to record trade")
	}
}

// notify queues an alert; delivery happens on a separate goroutine so a slow
// chat API never stalls the monitor.
func (e *Engine) notify(subject, body string) {
	e.notesMu.RLock()
	defer e.notesMu.RUnlock()
	if e.notesClosed {
		log.WithField("subject", subject).Warn("notification dropped after stop")
		return
	}
	select {
	case e.notes <- note{subject: subject, body: body}:
	default:
		log.WithField("subject", subject).Warn("notification queue full, dropping")
	}
}

func (e *Engine) deliver() {
	defer close(e.notesDone)
	for n := range e.notes {
		if err := e.notif.Notify(n.subject, n.body); err != nil {
			log.WithError(err).WithField("subject", n.subject).Error("failed to send notification")
		}
	}
}

// sleep waits for d or until the engine context ends.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
