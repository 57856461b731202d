package portfolio

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-guard/internal/errors"
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

func makePosition(id, symbol string, value float64) types.PositionInfo {
	return types.PositionInfo{
		ID:            id,
		Symbol:        symbol,
		Side:          types.SideLong,
		Quantity:      value / 100,
		EntryPrice:    100,
		Leverage:      10,
		PositionValue: value,
		StopLossPct:   0.02,
		OpenedAt:      time.Now().UTC(),
	}
}

// TestAddPosition_ExactSizeLimitPasses verifies a position sized exactly at
// the single-position limit is admitted.
func TestAddPosition_ExactSizeLimitPasses(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	err := m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 200)) // exactly 20%
	assert.NoError(t, err)
	assert.Equal(t, 1, m.OpenCount())
}

// TestAddPosition_OversizedRejected verifies a position just past the
// single-position limit is refused without mutating the set.
func TestAddPosition_OversizedRejected(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	err := m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 200.01))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortfolioLimitBreach)
	assert.Equal(t, 0, m.OpenCount())
}

// TestAddPosition_CountLimit verifies the fourth concurrent position is
// refused under the default three-position cap.
func TestAddPosition_CountLimit(t *testing.T) {
	m := NewManager(DefaultLimits(), 10000, nil)

	for i, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		require.NoError(t, m.AddPosition(makePosition(symbol, symbol, float64(100*(i+1)))))
	}

	err := m.AddPosition(makePosition("ADAUSDT", "ADAUSDT", 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortfolioLimitBreach)
	assert.Equal(t, 3, m.OpenCount())
}

// TestAddPosition_TotalExposureLimit verifies the projected-exposure check:
// filling the budget exactly passes, one dollar more fails.
func TestAddPosition_TotalExposureLimit(t *testing.T) {
	limits := Limits{MaxOpenPositions: 5, MaxSinglePositionPct: 0.30, MaxTotalExposurePct: 0.50}
	m := NewManager(limits, 1000, nil)

	require.NoError(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 250)))
	require.NoError(t, m.AddPosition(makePosition("ETHUSDT", "ETHUSDT", 250))) // exactly 50%

	err := m.AddPosition(makePosition("SOLUSDT", "SOLUSDT", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortfolioLimitBreach)
}

// TestAddPosition_DuplicateIDRejected verifies the same position cannot be
// admitted twice.
func TestAddPosition_DuplicateIDRejected(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	require.NoError(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 100)))

	err := m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 50))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicatePosition)
	assert.Equal(t, 1, m.OpenCount())
}

// TestAddPosition_InvalidInputRejected covers the structural guards.
func TestAddPosition_InvalidInputRejected(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	tests := []struct {
		name string
		pos  types.PositionInfo
	}{
		{"missing ID", types.PositionInfo{Symbol: "BTCUSDT", PositionValue: 100}},
		{"missing symbol", types.PositionInfo{ID: "p1", PositionValue: 100}},
		{"zero value", makePositionWithValue("p1", 0)},
		{"negative value", makePositionWithValue("p1", -10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, m.AddPosition(tt.pos))
			assert.Equal(t, 0, m.OpenCount())
		})
	}
}

func makePositionWithValue(id string, value float64) types.PositionInfo {
	pos := makePosition(id, "BTCUSDT", 100)
	pos.PositionValue = value
	return pos
}

// TestRemovePosition_UnknownIDBenign verifies removal of a missing position
// reports ErrPositionNotFound for racing close paths to swallow.
func TestRemovePosition_UnknownIDBenign(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	_, err := m.RemovePosition("nope")
	assert.ErrorIs(t, err, errors.ErrPositionNotFound)
}

// TestRemovePosition_FreesCapacity verifies removing a position frees both
// the count slot and the exposure budget.
func TestRemovePosition_FreesCapacity(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	require.NoError(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 200)))

	removed, err := m.RemovePosition("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", removed.Symbol)
	assert.InDelta(t, 200.0, removed.PositionValue, 1e-9)

	assert.NoError(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 200)))
}

// TestCheckPositionLimits_OrderAndAgreement verifies the advisory check
// list is ordered count, size, exposure and agrees with AddPosition.
func TestCheckPositionLimits_OrderAndAgreement(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	checks := m.CheckPositionLimits(150)
	require.Len(t, checks, 3)
	assert.Equal(t, CheckPositionCount, checks[0].Name)
	assert.Equal(t, CheckPositionSize, checks[1].Name)
	assert.Equal(t, CheckTotalExposure, checks[2].Name)
	for _, c := range checks {
		assert.Equal(t, types.CheckPassed, c.Status, c.Name)
	}

	oversized := m.CheckPositionLimits(300)
	assert.Equal(t, types.CheckFailed, oversized[1].Status)
	assert.Error(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 300)))
}

// TestCheckPositionLimits_ZeroEquityFailsClosed verifies percentage checks
// fail when the equity denominator is unknown.
func TestCheckPositionLimits_ZeroEquityFailsClosed(t *testing.T) {
	m := NewManager(DefaultLimits(), 0, nil)

	checks := m.CheckPositionLimits(100)
	require.Len(t, checks, 3)
	assert.Equal(t, types.CheckPassed, checks[0].Status)
	assert.Equal(t, types.CheckFailed, checks[1].Status)
	assert.Equal(t, types.CheckFailed, checks[2].Status)
}

// TestSnapshot_AggregatesExposure verifies the snapshot totals, per-symbol
// breakdown and exposure headroom.
func TestSnapshot_AggregatesExposure(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	p1 := makePosition("BTCUSDT", "BTCUSDT", 200)
	p1.OpenedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, m.AddPosition(p1))
	require.NoError(t, m.AddPosition(makePosition("ETHUSDT", "ETHUSDT", 100)))

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.OpenPositions)
	assert.Equal(t, 3, snap.MaxPositions)
	assert.InDelta(t, 300.0, snap.TotalExposure, 1e-9)
	assert.InDelta(t, 0.30, snap.TotalExposurePct, 1e-9)
	assert.InDelta(t, 500.0, snap.ExposureHeadroom, 1e-9) // 80% of 1000 minus 300
	assert.InDelta(t, 200.0, snap.BySymbol["BTCUSDT"], 1e-9)
	assert.InDelta(t, 100.0, snap.BySymbol["ETHUSDT"], 1e-9)

	// Oldest position first.
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, "BTCUSDT", snap.Positions[0].ID)
}

// TestRecordRealizedPnL_ShrinksEquityDenominator verifies realized losses
// tighten subsequent percentage checks.
func TestRecordRealizedPnL_ShrinksEquityDenominator(t *testing.T) {
	m := NewManager(DefaultLimits(), 1000, nil)

	m.RecordRealizedPnL(-500)
	assert.InDelta(t, 500.0, m.Equity(), 1e-9)

	// 150 was 15% of the original equity but is 30% of what remains.
	err := m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 150))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortfolioLimitBreach)

	snap := m.Snapshot()
	assert.InDelta(t, -500.0, snap.RealizedPnL, 1e-9)
}

// TestSetEquity_RebasesChecks verifies the equity setter feeds straight
// into limit evaluation.
func TestSetEquity_RebasesChecks(t *testing.T) {
	m := NewManager(DefaultLimits(), 100, nil)

	require.Error(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 200)))

	m.SetEquity(10000)
	assert.NoError(t, m.AddPosition(makePosition("BTCUSDT", "BTCUSDT", 200)))
}

func BenchmarkAddRemovePosition(b *testing.B) {
	m := NewManager(Limits{MaxOpenPositions: 1 << 30, MaxSinglePositionPct: 1, MaxTotalExposurePct: 1e12}, 1e9, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("p%d", i)
		pos := makePosition(id, "BTCUSDT", 100)
		if err := m.AddPosition(pos); err != nil {
			b.Fatal(err)
		}
		if _, err := m.RemovePosition(id); err != nil {
			b.Fatal(err)
		}
	}
}
