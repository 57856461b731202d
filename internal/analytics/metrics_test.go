package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSharpeRatio_EmptySeries tests Sharpe ratio with no returns
func TestSharpeRatio_EmptySeries(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio(nil))
	assert.Equal(t, 0.0, SharpeRatio([]float64{}))
}

// TestSharpeRatio_SingleReturn tests Sharpe ratio with one return
func TestSharpeRatio_SingleReturn(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.05}))
}

// TestSharpeRatio_PositiveReturns tests Sharpe ratio over a winning series
func TestSharpeRatio_PositiveReturns(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.015, 0.005, 0.02}

	sharpe := SharpeRatio(returns)
	assert.Greater(t, sharpe, 0.0)
}

// TestSharpeRatio_NegativeReturns tests Sharpe ratio over a losing series
func TestSharpeRatio_NegativeReturns(t *testing.T) {
	returns := []float64{-0.01, -0.02, -0.015, -0.005}

	sharpe := SharpeRatio(returns)
	assert.Less(t, sharpe, 0.0)
}

// TestSharpeRatio_ZeroVolatility tests that constant returns have no Sharpe
func TestSharpeRatio_ZeroVolatility(t *testing.T) {
	returns := []float64{0.01, 0.01, 0.01, 0.01}

	// Zero volatility results in zero Sharpe ratio
	assert.Equal(t, 0.0, SharpeRatio(returns))
}

// TestSortinoRatio_AllPositive tests Sortino with no downside periods
func TestSortinoRatio_AllPositive(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.03}

	sortino := SortinoRatio(returns)
	assert.True(t, math.IsInf(sortino, 1)) // No downside -> +Inf
}

// TestSortinoRatio_MixedReturns tests that Sortino only penalizes losses
func TestSortinoRatio_MixedReturns(t *testing.T) {
	mixed := []float64{0.02, -0.01, 0.03, -0.01, 0.02}
	sortino := SortinoRatio(mixed)
	sharpe := SharpeRatio(mixed)

	assert.Greater(t, sortino, 0.0)
	// Downside deviation over this series is smaller than total deviation
	assert.Greater(t, sortino, sharpe)
}

// TestMaxDrawdown_EmptyCurve tests drawdown with no equity points
func TestMaxDrawdown_EmptyCurve(t *testing.T) {
	dd, periods := MaxDrawdown(nil)
	assert.Equal(t, 0.0, dd)
	assert.Equal(t, 0, periods)
}

// TestMaxDrawdown_MonotonicGrowth tests drawdown on an always-rising curve
func TestMaxDrawdown_MonotonicGrowth(t *testing.T) {
	dd, periods := MaxDrawdown([]float64{100, 110, 120, 130})
	assert.Equal(t, 0.0, dd)
	assert.Equal(t, 0, periods)
}

// TestMaxDrawdown_SingleDip tests drawdown depth and duration on one dip
func TestMaxDrawdown_SingleDip(t *testing.T) {
	// Peak 120, trough 90 -> 25% drawdown, 3 periods underwater
	equity := []float64{100, 120, 100, 90, 115, 130}

	dd, periods := MaxDrawdown(equity)
	assert.InDelta(t, 0.25, dd, 1e-9)
	assert.Equal(t, 3, periods)
}

// TestMaxDrawdown_RecoversBetweenDips tests that a new peak resets the run
func TestMaxDrawdown_RecoversBetweenDips(t *testing.T) {
	equity := []float64{100, 90, 110, 99, 120}

	dd, periods := MaxDrawdown(equity)
	assert.InDelta(t, 0.10, dd, 1e-9)
	assert.Equal(t, 1, periods)
}

// TestValueAtRisk_EmptySeries tests VaR neutral value on no data
func TestValueAtRisk_EmptySeries(t *testing.T) {
	assert.Equal(t, 0.0, ValueAtRisk(nil, 0.95))
}

// TestValueAtRisk_KnownDistribution tests historical VaR on a fixed series
func TestValueAtRisk_KnownDistribution(t *testing.T) {
	// 20 returns: the 5% tail index (1) lands on the second-worst return,
	// the worst one belongs to the CVaR tail
	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = 0.01
	}
	returns[7] = -0.10
	returns[12] = -0.04

	var95 := ValueAtRisk(returns, 0.95)
	cvar95 := ConditionalVaR(returns, 0.95)
	assert.InDelta(t, 0.04, var95, 1e-9)
	assert.InDelta(t, 0.10, cvar95, 1e-9)
}

// TestValueAtRisk_AllGains tests that a gain at the tail reports zero loss
func TestValueAtRisk_AllGains(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.03, 0.04}
	assert.Equal(t, 0.0, ValueAtRisk(returns, 0.95))
}

// TestConditionalVaR_DeeperThanVaR tests that CVaR is at least VaR
func TestConditionalVaR_DeeperThanVaR(t *testing.T) {
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.005
	}
	returns[0] = -0.20
	returns[1] = -0.08

	var95 := ValueAtRisk(returns, 0.95)
	cvar95 := ConditionalVaR(returns, 0.95)
	assert.GreaterOrEqual(t, cvar95, var95)
	// Tail of 2 observations: mean of -0.20 and -0.08
	assert.InDelta(t, 0.14, cvar95, 1e-9)
}

// TestConditionalVaR_99TighterTail tests that the 99 tail is at least the 95 loss
func TestConditionalVaR_99TighterTail(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = 0.002
	}
	returns[10] = -0.05
	returns[20] = -0.10
	returns[30] = -0.15
	returns[40] = -0.02
	returns[50] = -0.01

	cvar95 := ConditionalVaR(returns, 0.95)
	cvar99 := ConditionalVaR(returns, 0.99)
	assert.GreaterOrEqual(t, cvar99, cvar95)
}

// TestCalmarRatio_ZeroDrawdown tests Calmar with no drawdown
func TestCalmarRatio_ZeroDrawdown(t *testing.T) {
	assert.True(t, math.IsInf(CalmarRatio(0.30, 0), 1))
	assert.Equal(t, 0.0, CalmarRatio(-0.10, 0))
}

// TestCalmarRatio_TypicalValues tests the plain ratio
func TestCalmarRatio_TypicalValues(t *testing.T) {
	assert.InDelta(t, 2.0, CalmarRatio(0.50, 0.25), 1e-9)
}

// TestWinRate_MixedSeries tests win rate as a fraction of positive periods
func TestWinRate_MixedSeries(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, -0.01}
	assert.InDelta(t, 0.5, WinRate(returns), 1e-9)
}

// TestWinRate_EmptySeries tests win rate neutral value
func TestWinRate_EmptySeries(t *testing.T) {
	assert.Equal(t, 0.0, WinRate(nil))
}

// TestProfitFactor_AllWins tests profit factor with no losses
func TestProfitFactor_AllWins(t *testing.T) {
	assert.True(t, math.IsInf(ProfitFactor([]float64{0.01, 0.02}), 1))
}

// TestProfitFactor_AllLosses tests profit factor with no wins
func TestProfitFactor_AllLosses(t *testing.T) {
	assert.Equal(t, 0.0, ProfitFactor([]float64{-0.01, -0.02}))
}

// TestProfitFactor_MixedSeries tests the gains-over-losses ratio
func TestProfitFactor_MixedSeries(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, -0.005}

	expected := 0.05 / 0.015
	assert.InDelta(t, expected, ProfitFactor(returns), 0.01)
}

// TestTotalReturn_FlatAndGrowth tests total return over equity curves
func TestTotalReturn_FlatAndGrowth(t *testing.T) {
	assert.Equal(t, 0.0, TotalReturn([]float64{100}))
	assert.InDelta(t, 0.30, TotalReturn([]float64{100, 95, 130}), 1e-9)
}

// TestAnnualizedReturn_OneYearOfDays tests compounding over a full year
func TestAnnualizedReturn_OneYearOfDays(t *testing.T) {
	equity := make([]float64, 366)
	for i := range equity {
		equity[i] = 1000 * math.Pow(1.2, float64(i)/365.0)
	}

	ann := AnnualizedReturn(equity, 365)
	assert.InDelta(t, 0.20, ann, 1e-6)
}

// TestCompute_EmptyInputs tests that the full report degrades to neutral values
func TestCompute_EmptyInputs(t *testing.T) {
	report := Compute(nil, nil, 0)

	assert.Equal(t, 0.0, report.SharpeRatio)
	assert.Equal(t, 0.0, report.SortinoRatio)
	assert.Equal(t, 0.0, report.MaxDrawdown)
	assert.Equal(t, 0.0, report.VaR95)
	assert.Equal(t, 0.0, report.CVaR99)
	assert.Equal(t, 0.0, report.WinRate)
	assert.Equal(t, 0.0, report.ProfitFactor)
	assert.Equal(t, 0, report.SampleSize)
}

// TestCompute_ConsistentFields tests that the report agrees with the
// individual calculations it bundles
func TestCompute_ConsistentFields(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, -0.01, 0.015, 0.02, -0.005}
	equity := []float64{1000, 1010, 989.8, 1019.5, 1009.3, 1024.4, 1044.9, 1039.7}

	report := Compute(returns, equity, DefaultPeriodsPerYear)

	assert.InDelta(t, SharpeRatio(returns), report.SharpeRatio, 1e-12)
	assert.InDelta(t, SortinoRatio(returns), report.SortinoRatio, 1e-12)
	assert.InDelta(t, ValueAtRisk(returns, 0.95), report.VaR95, 1e-12)
	assert.Equal(t, len(returns), report.SampleSize)

	dd, periods := MaxDrawdown(equity)
	assert.InDelta(t, dd, report.MaxDrawdown, 1e-12)
	assert.Equal(t, periods, report.DrawdownPeriods)
}

// BenchmarkCompute benchmarks a full report over a year of daily data
func BenchmarkCompute(b *testing.B) {
	returns := make([]float64, 365)
	equity := make([]float64, 366)
	equity[0] = 10000
	for i := range returns {
		if i%3 == 0 {
			returns[i] = -0.01
		} else {
			returns[i] = 0.012
		}
		equity[i+1] = equity[i] * (1 + returns[i])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Compute(returns, equity, DefaultPeriodsPerYear)
	}
}
