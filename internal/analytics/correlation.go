package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// PriceSource supplies historical candles for correlation analysis. The
// exchange market-data client satisfies this.
type PriceSource interface {
	GetPriceHistory(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error)
}

// CorrelationConfig tunes the analyzer.
type CorrelationConfig struct {
	Threshold    float64 `json:"threshold"`     // |coefficient| above this flags a pair
	MinPoints    int     `json:"min_points"`    // minimum usable returns per symbol
	HistoryLimit int     `json:"history_limit"` // candles requested per symbol
}

// DefaultCorrelationConfig returns the standard analyzer settings.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Threshold:    0.7,
		MinPoints:    20,
		HistoryLimit: 100,
	}
}

// PairCorrelation is one symbol pair whose correlation crossed the
// configured threshold.
type PairCorrelation struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Coefficient float64 `json:"coefficient"`
}

// Matrix is the result of one portfolio correlation pass. Coefficients is
// dense and symmetric over Symbols; Skipped lists symbols excluded for
// missing or insufficient history.
type Matrix struct {
	Symbols              []string          `json:"symbols"`
	Coefficients         [][]float64       `json:"coefficients"`
	HighPairs            []PairCorrelation `json:"high_pairs"`
	DiversificationScore float64           `json:"diversification_score"`
	Skipped              []string          `json:"skipped,omitempty"`
	ComputedAt           time.Time         `json:"computed_at"`
}

// Analyzer measures pairwise return correlation across portfolio symbols so
// the coordinator can flag concentration hiding behind different tickers.
type Analyzer struct {
	source PriceSource
	cfg    CorrelationConfig
}

// NewAnalyzer builds a correlation analyzer over the given price source.
func NewAnalyzer(source PriceSource, cfg CorrelationConfig) *Analyzer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.7
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = 20
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Analyzer{source: source, cfg: cfg}
}

// AnalyzePortfolio fetches history for every symbol, computes the Pearson
// matrix over log returns, and scores diversification as one minus the mean
// absolute off-diagonal correlation. Symbols whose history cannot be
// fetched, or is too short, are excluded and reported in Skipped. Fewer than
// two usable symbols produce a degenerate matrix with score 1.
func (a *Analyzer) AnalyzePortfolio(ctx context.Context, symbols []string) (*Matrix, error) {
	m := &Matrix{ComputedAt: time.Now().UTC()}

	var fetchErr error
	series := make(map[string][]float64)
	for _, symbol := range dedup(symbols) {
		candles, err := a.source.GetPriceHistory(ctx, symbol, a.cfg.HistoryLimit)
		if err != nil {
			if fetchErr == nil {
				fetchErr = err
			}
			m.Skipped = append(m.Skipped, symbol)
			continue
		}
		returns := LogReturns(types.Closes(candles))
		if len(returns) < a.cfg.MinPoints {
			m.Skipped = append(m.Skipped, symbol)
			continue
		}
		series[symbol] = returns
		m.Symbols = append(m.Symbols, symbol)
	}

	if len(m.Symbols) < 2 {
		if len(m.Symbols) == 0 && fetchErr != nil {
			return nil, fmt.Errorf("correlation analysis: no usable price history: %w", fetchErr)
		}
		m.DiversificationScore = 1.0
		return m, nil
	}

	n := len(m.Symbols)
	m.Coefficients = make([][]float64, n)
	for i := range m.Coefficients {
		m.Coefficients[i] = make([]float64, n)
		m.Coefficients[i][i] = 1.0
	}

	sumAbs := 0.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			coef := Pearson(series[m.Symbols[i]], series[m.Symbols[j]])
			m.Coefficients[i][j] = coef
			m.Coefficients[j][i] = coef
			sumAbs += math.Abs(coef)
			pairs++
			if math.Abs(coef) > a.cfg.Threshold {
				m.HighPairs = append(m.HighPairs, PairCorrelation{
					SymbolA:     m.Symbols[i],
					SymbolB:     m.Symbols[j],
					Coefficient: coef,
				})
			}
		}
	}

	score := 1.0 - sumAbs/float64(pairs)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	m.DiversificationScore = score

	return m, nil
}

// LogReturns converts a close series to log returns, dropping non-positive
// prices that would poison the logarithm.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

// Pearson computes the correlation coefficient over the most recent common
// window of the two series. Zero-variance series correlate at 0.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	// Align on the latest n observations of each series.
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	meanA := Mean(a)
	meanB := Mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA < 1e-10 || varB < 1e-10 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func dedup(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
