package sizing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// TestCalculate_KnownEdge tests the Kelly arithmetic against hand-computed
// values
func TestCalculate_KnownEdge(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	// W=0.6, payoff=2: kelly = 0.6 - 0.4/2 = 0.4; quarter-Kelly = 0.10
	rec := sizer.Calculate(0.6, 200, 100, 10000)

	assert.InDelta(t, 0.4, rec.KellyFraction, 1e-9)
	assert.InDelta(t, 0.10, rec.Fraction, 1e-9)
	assert.InDelta(t, 1000.0, rec.Quote, 1e-6)
}

// TestCalculate_NegativeEdge tests that a losing edge sizes to zero
func TestCalculate_NegativeEdge(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	// W=0.4, payoff=1: kelly = 0.4 - 0.6 = -0.2
	rec := sizer.Calculate(0.4, 100, 100, 10000)

	assert.Equal(t, 0.0, rec.Fraction)
	assert.Equal(t, 0.0, rec.Quote)
	assert.Less(t, rec.KellyFraction, 0.0)
}

// TestCalculate_DegenerateInputs tests the guard rails on invalid statistics
func TestCalculate_DegenerateInputs(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	tests := []struct {
		name    string
		winRate float64
		avgWin  float64
		avgLoss float64
	}{
		{"zero win rate", 0, 100, 50},
		{"full win rate", 1, 100, 50},
		{"negative win rate", -0.2, 100, 50},
		{"zero avg win", 0.6, 0, 50},
		{"zero avg loss", 0.6, 100, 0},
		{"negative avg loss", 0.6, 100, -50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sizer.Calculate(tt.winRate, tt.avgWin, tt.avgLoss, 10000)
			assert.Equal(t, 0.0, rec.Fraction)
			assert.Equal(t, 0.0, rec.Quote)
		})
	}
}

// TestCalculate_ClampsToMaxPosition tests the portfolio bound on a huge edge
func TestCalculate_ClampsToMaxPosition(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	// W=0.9, payoff=5: kelly = 0.9 - 0.1/5 = 0.88; quarter = 0.22 > 0.20 cap
	rec := sizer.Calculate(0.9, 500, 100, 10000)

	assert.InDelta(t, 0.20, rec.Fraction, 1e-9)
	assert.InDelta(t, 2000.0, rec.Quote, 1e-6)
}

// TestFromHistory_InsufficientSamples tests the refusal below the minimum
// sample size
func TestFromHistory_InsufficientSamples(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	trades := makeTrades(5, 4, 200, 100)
	rec := sizer.FromHistory(trades, 10000)

	assert.True(t, rec.InsufficientHistory)
	assert.Equal(t, 0.0, rec.Fraction)
	assert.Equal(t, 9, rec.SampleSize)
}

// TestFromHistory_ConfidenceDiscount tests the linear sample-size discount
func TestFromHistory_ConfidenceDiscount(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	// 25 trades, 15 wins of +200, 10 losses of -100:
	// W=0.6, payoff=2 -> quarter-Kelly 0.10, confidence 25/50 -> 0.05
	trades := makeTrades(15, 10, 200, 100)
	rec := sizer.FromHistory(trades, 10000)

	assert.False(t, rec.InsufficientHistory)
	assert.InDelta(t, 0.5, rec.Confidence, 1e-9)
	assert.InDelta(t, 0.05, rec.Fraction, 1e-9)
	assert.InDelta(t, 500.0, rec.Quote, 1e-6)
}

// TestFromHistory_FullConfidence tests that a deep history is not discounted
func TestFromHistory_FullConfidence(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	trades := makeTrades(36, 24, 200, 100)
	rec := sizer.FromHistory(trades, 10000)

	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	assert.InDelta(t, 0.10, rec.Fraction, 1e-9)
}

// TestFromHistory_OneSidedHistory tests that all-win and all-loss histories
// size to zero
func TestFromHistory_OneSidedHistory(t *testing.T) {
	sizer := NewSizer(DefaultConfig())

	allWins := sizer.FromHistory(makeTrades(20, 0, 200, 100), 10000)
	assert.Equal(t, 0.0, allWins.Fraction)
	assert.False(t, allWins.InsufficientHistory)

	allLosses := sizer.FromHistory(makeTrades(0, 20, 200, 100), 10000)
	assert.Equal(t, 0.0, allLosses.Fraction)
}

// TestNewSizer_ZeroConfigGetsDefaults tests the default fill-in
func TestNewSizer_ZeroConfigGetsDefaults(t *testing.T) {
	sizer := NewSizer(Config{})

	rec := sizer.Calculate(0.6, 200, 100, 10000)
	assert.InDelta(t, 0.10, rec.Fraction, 1e-9) // quarter-Kelly applied
}

func makeTrades(wins, losses int, winPnL, lossPnL float64) []types.TradeResult {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.TradeResult, 0, wins+losses)
	for i := 0; i < wins; i++ {
		out = append(out, types.TradeResult{Symbol: "BTCUSDT", PnL: winPnL, Win: true, ClosedAt: ts})
	}
	for i := 0; i < losses; i++ {
		out = append(out, types.TradeResult{Symbol: "BTCUSDT", PnL: -lossPnL, ClosedAt: ts})
	}
	return out
}
