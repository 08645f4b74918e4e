package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegSentinel/internal/model"
)

func midSessionSnapshot() *model.Snapshot {
	s := model.NewSnapshot("2026-10-15")
	s.Positions[model.LegPut] = model.PositionRecord{
		Symbol:        putSym,
		EntryPrice:    80,
		SLPercent:     40,
		TargetPercent: 95,
	}
	s.BookedPnL = -3000
	s.TradeHistory = []string{model.LegCall, model.LegPut}
	s.CompletedLegs = []string{model.LegCall}
	s.RecoveryPending[model.LegCall] = true
	s.Exits = []model.ExitRecord{{
		LegID:      model.LegCall,
		Symbol:     callSym,
		Status:     model.StatusClosedSL,
		EntryPrice: 90,
		ExitPrice:  130,
		Quantity:   75,
		PnL:        -3000,
	}}
	return s
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.eng.Restore())

	snap, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", snap.Date)
	assert.Empty(t, snap.Positions)
}

func TestRestoreResetsOnNewDay(t *testing.T) {
	h := newHarness(t, nil)
	old := midSessionSnapshot()
	old.Date = "2026-10-14"
	require.NoError(t, h.store.Save(old))

	require.NoError(t, h.eng.Restore())
	st := h.eng.Status()
	assert.Equal(t, "2026-10-15", st.Date)
	assert.Empty(t, st.OpenLegs)
	assert.Empty(t, st.TradeHistory)
	assert.Zero(t, st.BookedPnL)

	snap, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", snap.Date)
	assert.Empty(t, snap.RecoveryPending)
}

func TestRestoreClearsPositionsWithoutHistory(t *testing.T) {
	h := newHarness(t, nil)
	s := model.NewSnapshot("2026-10-15")
	s.Positions[model.LegCall] = model.PositionRecord{Symbol: callSym, EntryPrice: 90, SLPercent: 40, TargetPercent: 95}
	require.NoError(t, h.store.Save(s))

	require.NoError(t, h.eng.Restore())
	assert.Empty(t, h.openIDs())

	// Entry proceeds as if nothing had been traded.
	h.enter()
	assert.Len(t, h.openIDs(), 2)
}

func TestRestoreRebuildsSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(midSessionSnapshot()))
	require.NoError(t, h.eng.Restore())

	st := h.eng.Status()
	assert.Equal(t, []string{model.LegPut}, h.openIDs())
	assert.Equal(t, []string{model.LegCall}, st.CompletedLegs)
	assert.InDelta(t, -3000.0, st.BookedPnL, 1e-9)
	assert.True(t, st.RecoveryPending[model.LegCall])
	put, _ := h.openLeg(model.LegPut)
	assert.Equal(t, 75, put.Quantity)
	assert.InDelta(t, 112.0, put.StopLoss, 1e-9)

	// Restored legs are not entered again.
	h.enter()
	assert.Empty(t, h.paper.Orders())
}

func TestRestoreResumesPendingRecovery(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(midSessionSnapshot()))
	require.NoError(t, h.eng.Restore())

	h.paper.SetPrice(recPutSym, 60)
	h.eng.Start()
	h.sampled(model.LegCall)

	h.paper.SetPrice(recPutSym, 50)
	require.Eventually(t, func() bool {
		_, ok := h.openLeg("L1.1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	st := h.eng.Status()
	assert.Equal(t, []string{model.LegPut, "L1.1"}, h.openIDs())
	assert.Equal(t, []string{model.LegCall, model.LegPut, "L1.1"}, st.TradeHistory)
	assert.InDelta(t, -3000.0, st.BookedPnL, 1e-9)
}

func TestRestoredLegIsMonitored(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(midSessionSnapshot()))
	require.NoError(t, h.eng.Restore())

	h.paper.SetPrice(putSym, 115)
	h.cycle()

	st := h.eng.Status()
	assert.Equal(t, []string{model.LegCall, model.LegPut}, st.CompletedLegs)
	assert.True(t, st.RecoveryPending[model.LegPut])
	assert.InDelta(t, -3000+(80-115)*75, st.BookedPnL, 1e-9)
}
