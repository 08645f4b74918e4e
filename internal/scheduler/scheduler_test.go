package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegSentinel/internal/config"
	"LegSentinel/internal/engine"
	"LegSentinel/internal/model"
)

type fakeSession struct {
	mu        sync.Mutex
	entries   int
	squareOff []string
	entryErr  error
	squareErr error
	status    model.Status
	summary   *model.Summary
}

func (f *fakeSession) EnterInitialLegs(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries++
	return f.entryErr
}

func (f *fakeSession) SquareOff(_ context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.squareOff = append(f.squareOff, reason)
	return f.squareErr
}

func (f *fakeSession) Status() model.Status { return f.status }

func (f *fakeSession) Summary() (*model.Summary, bool) { return f.summary, f.summary != nil }

type fakeNotifier struct {
	subjects []string
}

func (f *fakeNotifier) Notify(subject, _ string) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func newTestScheduler(t *testing.T, mutate func(*config.Config)) (*Scheduler, *fakeSession, *fakeNotifier) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Session.Timezone = "UTC"
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(cfg)
	}
	sess := &fakeSession{}
	n := &fakeNotifier{}
	s, err := NewScheduler(context.Background(), cfg, sess, n, nil)
	require.NoError(t, err)
	return s, sess, n
}

func TestWeekdaySpec(t *testing.T) {
	assert.Equal(t, "0 16 9 * * 1-5", weekdaySpec(9*time.Hour+16*time.Minute))
	assert.Equal(t, "30 49 16 * * 1-5", weekdaySpec(16*time.Hour+49*time.Minute+30*time.Second))
}

func TestRegisterAll(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	require.NoError(t, s.RegisterAll())
	assert.Len(t, s.Cron.Entries(), 4)
}

func TestNewSchedulerRejectsBadTimes(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.Timezone = "UTC"
	config.ApplyDefaults(cfg)
	cfg.Session.ShutdownTime = "late"
	_, err := NewScheduler(context.Background(), cfg, &fakeSession{}, nil, nil)
	assert.Error(t, err)
}

func TestCatchUp(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 10, 15, h, m, 0, 0, time.UTC) }

	s, sess, _ := newTestScheduler(t, nil)
	s.CatchUp(day(8, 0))
	assert.Zero(t, sess.entries)
	assert.Empty(t, sess.squareOff)

	s.CatchUp(day(11, 30))
	assert.Equal(t, 1, sess.entries)

	s.CatchUp(day(15, 30))
	assert.Equal(t, []string{model.ReasonSquareOff}, sess.squareOff)

	s.CatchUp(day(17, 0))
	assert.Equal(t, 1, sess.entries)
	assert.Len(t, sess.squareOff, 1)
}

func TestEntryTaskNotifiesFailures(t *testing.T) {
	s, sess, n := newTestScheduler(t, nil)
	sess.entryErr = engine.ErrMarketClosed
	s.entryTask()
	assert.Empty(t, n.subjects)

	sess.entryErr = errors.New("broker down")
	s.entryTask()
	assert.Equal(t, []string{"Entry failed"}, n.subjects)
}

func TestShutdownTask(t *testing.T) {
	called := false
	cfg := &config.Config{}
	cfg.Session.Timezone = "UTC"
	config.ApplyDefaults(cfg)
	s, err := NewScheduler(context.Background(), cfg, &fakeSession{}, nil, func() { called = true })
	require.NoError(t, err)
	s.shutdownTask()
	assert.True(t, called)
}

func TestHandleCommand(t *testing.T) {
	s, sess, _ := newTestScheduler(t, nil)
	sess.status = model.Status{
		Date:      "2026-10-15",
		BookedPnL: -3000,
		MTM:       1500,
		OpenLegs:  []model.LegView{{ID: "L2", Symbol: "NSE:NIFTY26O2223900PE", Quantity: 75, EntryPrice: 80}},
	}

	assert.Contains(t, s.HandleCommand("/status"), "Open legs: 1")
	assert.Contains(t, s.HandleCommand("/legs@LegSentinelBot"), "NSE:NIFTY26O2223900PE")
	assert.Contains(t, s.HandleCommand(" /PNL "), "Booked: -3000.00")
	assert.Equal(t, "Session still running.", s.HandleCommand("/summary"))
	assert.Contains(t, s.HandleCommand("hello"), "/status")

	sess.summary = &model.Summary{Date: "2026-10-15", Reason: model.ReasonCycleDone}
	assert.Contains(t, s.HandleCommand("/summary"), "CYCLE_DONE")
}

func TestManualSquareOff(t *testing.T) {
	s, sess, _ := newTestScheduler(t, nil)
	assert.Equal(t, "Manual square-off is disabled.", s.HandleCommand("/squareoff"))
	assert.Empty(t, sess.squareOff)

	s, sess, _ = newTestScheduler(t, func(c *config.Config) { c.Session.ManualOverride = true })
	assert.Equal(t, "Square-off complete.", s.HandleCommand("/squareoff"))
	assert.Equal(t, []string{model.ReasonManual}, sess.squareOff)

	sess.squareErr = engine.ErrHalted
	assert.Equal(t, "Session already finished.", s.HandleCommand("/squareoff"))
}
