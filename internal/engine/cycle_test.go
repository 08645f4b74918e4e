package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegSentinel/internal/config"
	"LegSentinel/internal/model"
)

func TestSessionComplete(t *testing.T) {
	tests := []struct {
		name      string
		completed []string
		pending   map[string]bool
		want      bool
	}{
		{"nothing", nil, nil, false},
		{"one leg", []string{"L1"}, nil, false},
		{"both initial", []string{"L1", "L2"}, nil, true},
		{"order does not matter", []string{"L2", "L1"}, nil, true},
		{"with call recovery", []string{"L1", "L2", "L1.1"}, nil, true},
		{"with put recovery", []string{"L1", "L2", "L2.1"}, nil, true},
		{"with both recoveries", []string{"L1", "L2", "L1.1", "L2.1"}, nil, true},
		{"recovery without put", []string{"L1", "L1.1"}, nil, false},
		{"pending blocks", []string{"L1", "L2"}, map[string]bool{"L1": true}, false},
		{"cleared pending", []string{"L1", "L2"}, map[string]bool{"L1": false}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionComplete(tt.completed, tt.pending))
		})
	}
}

func TestSessionCompletesAfterTargets(t *testing.T) {
	h := newHarness(t, nil)
	h.enter()
	h.paper.SetPrice(callSym, 3.5)
	h.paper.SetPrice(putSym, 3.5)
	h.cycle()

	require.True(t, h.finished())
	sum, ok := h.eng.Summary()
	require.True(t, ok)
	assert.Equal(t, model.ReasonCycleDone, sum.Reason)
	assert.InDelta(t, (90-3.5)*75+(80-3.5)*75, sum.BookedPnL, 1e-9)
	assert.Zero(t, sum.RecoveriesStarted)
	assert.Equal(t, 1, h.rec.sessionCount())
	assert.Eventually(t, func() bool { return h.notes.has("Session summary") }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.eng.EnterInitialLegs(context.Background()), ErrHalted)
	h.cycle()
	assert.Len(t, h.paper.Orders(), 4)
}

func TestSessionWaitsForPendingRecovery(t *testing.T) {
	h := newHarness(t, nil)
	h.enter()
	h.paper.SetPrice(recPutSym, 60)
	h.paper.SetPrice(callSym, 130)
	h.paper.SetPrice(putSym, 3.5)
	h.cycle()

	assert.Empty(t, h.openIDs())
	assert.False(t, h.finished())
	h.sampled(model.LegCall)

	h.clock.Set(time.Date(2026, 10, 15, 15, 1, 0, 0, time.UTC))
	require.Eventually(t, h.finished, 2*time.Second, 5*time.Millisecond)

	sum, _ := h.eng.Summary()
	assert.Equal(t, model.ReasonCycleDone, sum.Reason)
	assert.Equal(t, 1, sum.RecoveriesStarted)
	assert.Zero(t, sum.RecoveriesOpened)
	assert.Equal(t, 1, sum.RecoveriesSkipped)
	assert.InDelta(t, -3000+(80-3.5)*75, sum.BookedPnL, 1e-9)
}

func TestSessionCompletesWithRecoveryLeg(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Strategy.WaitPoints = config.Float(0) })
	h.enter()
	h.paper.SetPrice(recPutSym, 40)
	h.paper.SetPrice(callSym, 130)
	h.cycle()
	require.Eventually(t, func() bool {
		_, ok := h.openLeg("L1.1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.finished())

	h.paper.SetPrice(putSym, 3.5)
	h.paper.SetPrice(recPutSym, 1.5)
	h.cycle()

	require.True(t, h.finished())
	sum, _ := h.eng.Summary()
	assert.Equal(t, model.ReasonCycleDone, sum.Reason)
	assert.Equal(t, []string{model.LegCall, model.LegPut, "L1.1"}, sum.TradeHistory)
	assert.Equal(t, 1, sum.RecoveriesOpened)
	assert.Zero(t, sum.RecoveriesSkipped)
	statuses := map[string]model.LegStatus{}
	for _, x := range sum.Exits {
		statuses[x.LegID] = x.Status
	}
	assert.Equal(t, model.StatusClosedSL, statuses[model.LegCall])
	assert.Equal(t, model.StatusClosedTarget, statuses[model.LegPut])
	assert.Equal(t, model.StatusClosedTarget, statuses["L1.1"])
}
