package analytics

import (
	"math"
	"sort"
)

// DefaultPeriodsPerYear annualizes daily-period series. Crypto trades every
// day, so 365 rather than the equity-market 252.
const DefaultPeriodsPerYear = 365.0

// Report bundles all risk and performance metrics computed from one return
// and equity series. Ratios are per-period unless named otherwise; VaR and
// CVaR are reported as positive loss fractions.
type Report struct {
	SharpeRatio      float64 `json:"sharpe_ratio"`
	AnnualizedSharpe float64 `json:"annualized_sharpe"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	DrawdownPeriods  int     `json:"drawdown_periods"`
	VaR95            float64 `json:"var_95"`
	VaR99            float64 `json:"var_99"`
	CVaR95           float64 `json:"cvar_95"`
	CVaR99           float64 `json:"cvar_99"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	Volatility       float64 `json:"volatility"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SampleSize       int     `json:"sample_size"`
}

// Compute evaluates the full report. Degenerate inputs (empty or
// single-element series) produce neutral zero values, never panics.
func Compute(returns, equity []float64, periodsPerYear float64) Report {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}

	maxDD, ddPeriods := MaxDrawdown(equity)
	annReturn := AnnualizedReturn(equity, periodsPerYear)

	return Report{
		SharpeRatio:      SharpeRatio(returns),
		AnnualizedSharpe: SharpeRatio(returns) * math.Sqrt(periodsPerYear),
		SortinoRatio:     SortinoRatio(returns),
		MaxDrawdown:      maxDD,
		DrawdownPeriods:  ddPeriods,
		VaR95:            ValueAtRisk(returns, 0.95),
		VaR99:            ValueAtRisk(returns, 0.99),
		CVaR95:           ConditionalVaR(returns, 0.95),
		CVaR99:           ConditionalVaR(returns, 0.99),
		CalmarRatio:      CalmarRatio(annReturn, maxDD),
		WinRate:          WinRate(returns),
		ProfitFactor:     ProfitFactor(returns),
		Volatility:       StdDev(returns),
		TotalReturn:      TotalReturn(equity),
		AnnualizedReturn: annReturn,
		SampleSize:       len(returns),
	}
}

// Mean returns the arithmetic mean, 0 for an empty series.
func Mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// StdDev returns the population standard deviation, 0 for fewer than two
// samples.
func StdDev(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	avg := Mean(series)
	variance := 0.0
	for _, v := range series {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(series))
	return math.Sqrt(variance)
}

// SharpeRatio is mean return over standard deviation with a zero risk-free
// rate, per period.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	stdDev := StdDev(returns)
	if stdDev < 1e-10 {
		return 0
	}
	return Mean(returns) / stdDev
}

// SortinoRatio penalizes only downside deviation. All-positive return series
// yield +Inf.
func SortinoRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	avg := Mean(returns)
	downsideVariance := 0.0
	downsideCount := 0
	for _, r := range returns {
		if r < 0 {
			downsideVariance += r * r
			downsideCount++
		}
	}
	if downsideCount == 0 || downsideVariance == 0 {
		return math.Inf(1)
	}

	downsideStdDev := math.Sqrt(downsideVariance / float64(downsideCount))
	return avg / downsideStdDev
}

// MaxDrawdown returns the largest peak-to-trough equity decline as a
// positive fraction, along with the longest run of periods spent below a
// prior peak.
func MaxDrawdown(equity []float64) (float64, int) {
	if len(equity) < 2 {
		return 0, 0
	}

	maxDD := 0.0
	peak := equity[0]
	underwater := 0
	longest := 0
	for _, v := range equity[1:] {
		if v > peak {
			peak = v
			underwater = 0
			continue
		}
		underwater++
		if underwater > longest {
			longest = underwater
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, longest
}

// ValueAtRisk computes historical VaR at the given confidence level: the
// loss threshold that (1-confidence) of periods breach. Reported as a
// positive fraction; 0 when the tail return is a gain.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * (1 - confidence)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	loss := -sorted[idx]
	if loss < 0 {
		return 0
	}
	return loss
}

// ConditionalVaR (expected shortfall) averages the losses at or beyond the
// VaR threshold, answering "how bad is bad".
func ConditionalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	cut := int(math.Floor(float64(len(sorted)) * (1 - confidence)))
	if cut < 1 {
		cut = 1
	}
	sum := 0.0
	for _, r := range sorted[:cut] {
		sum += r
	}
	loss := -(sum / float64(cut))
	if loss < 0 {
		return 0
	}
	return loss
}

// CalmarRatio relates annualized return to max drawdown. Zero drawdown with
// positive return yields +Inf, matching the Sortino convention.
func CalmarRatio(annualizedReturn, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		if annualizedReturn > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return annualizedReturn / maxDrawdown
}

// WinRate is the fraction of periods with a positive return.
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

// ProfitFactor is gross gains over gross losses. Profitable series with zero
// losses yield +Inf; an empty or flat series yields 0.
func ProfitFactor(returns []float64) float64 {
	totalProfit := 0.0
	totalLoss := 0.0
	for _, r := range returns {
		if r > 0 {
			totalProfit += r
		} else {
			totalLoss += math.Abs(r)
		}
	}
	if totalLoss == 0 {
		if totalProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return totalProfit / totalLoss
}

// TotalReturn is the simple return over the whole equity series.
func TotalReturn(equity []float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return 0
	}
	return (equity[len(equity)-1] - equity[0]) / equity[0]
}

// AnnualizedReturn compounds the equity series growth to a yearly rate,
// assuming evenly spaced periods.
func AnnualizedReturn(equity []float64, periodsPerYear float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 || periodsPerYear <= 0 {
		return 0
	}
	last := equity[len(equity)-1]
	if last <= 0 {
		return -1
	}
	years := float64(len(equity)-1) / periodsPerYear
	if years <= 0 {
		return 0
	}
	return math.Pow(last/equity[0], 1.0/years) - 1.0
}
