package sizing

import (
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// Config controls the Kelly sizer. FractionalKelly dampens the raw Kelly
// fraction (full Kelly overbets badly when the edge estimate is noisy);
// MaxPositionPct is the same bound the portfolio limits enforce, applied
// here so a recommendation is always executable.
type Config struct {
	FractionalKelly float64 `json:"fractional_kelly"`
	MaxPositionPct  float64 `json:"max_position_pct"`
	MinSampleSize   int     `json:"min_sample_size"`
	FullSampleSize  int     `json:"full_sample_size"`
}

// DefaultConfig returns quarter-Kelly with the standard portfolio bound.
func DefaultConfig() Config {
	return Config{
		FractionalKelly: 0.25,
		MaxPositionPct:  0.20,
		MinSampleSize:   10,
		FullSampleSize:  50,
	}
}

// Recommendation is the sizer output. Fraction is the equity share to
// commit; Quote is that share in quote currency. A zero Fraction with
// InsufficientHistory set means the caller has no statistical basis to size
// from and should fall back to its fixed minimum, not treat it as "no edge".
type Recommendation struct {
	Fraction            float64 `json:"fraction"`
	Quote               float64 `json:"quote"`
	KellyFraction       float64 `json:"kelly_fraction"`
	Confidence          float64 `json:"confidence"`
	SampleSize          int     `json:"sample_size"`
	InsufficientHistory bool    `json:"insufficient_history"`
}

// Sizer computes fractional-Kelly position sizes from trade statistics.
type Sizer struct {
	cfg Config
}

// NewSizer builds a Kelly sizer, filling zero config fields with defaults.
func NewSizer(cfg Config) *Sizer {
	def := DefaultConfig()
	if cfg.FractionalKelly <= 0 {
		cfg.FractionalKelly = def.FractionalKelly
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = def.MaxPositionPct
	}
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = def.MinSampleSize
	}
	if cfg.FullSampleSize < cfg.MinSampleSize {
		cfg.FullSampleSize = def.FullSampleSize
	}
	return &Sizer{cfg: cfg}
}

// Calculate applies the Kelly criterion to explicit statistics:
//
//	kelly = W - (1-W) / (avgWin/avgLoss)
//
// then scales by FractionalKelly and clamps to [0, MaxPositionPct].
// Degenerate inputs (no wins, no losses, out-of-range win rate, negative
// kelly) size to zero rather than guessing.
func (s *Sizer) Calculate(winRate, avgWin, avgLoss, equity float64) Recommendation {
	rec := Recommendation{}
	if winRate <= 0 || winRate >= 1 || avgWin <= 0 || avgLoss <= 0 {
		return rec
	}

	payoff := avgWin / avgLoss
	kelly := winRate - (1-winRate)/payoff
	rec.KellyFraction = kelly
	if kelly <= 0 {
		return rec
	}

	fraction := kelly * s.cfg.FractionalKelly
	if fraction > s.cfg.MaxPositionPct {
		fraction = s.cfg.MaxPositionPct
	}
	rec.Fraction = fraction
	rec.Confidence = 1.0
	if equity > 0 {
		rec.Quote = fraction * equity
	}
	return rec
}

// FromHistory derives the Kelly statistics from closed trades. Below
// MinSampleSize it refuses to size (InsufficientHistory); between
// MinSampleSize and FullSampleSize the fraction is discounted linearly by
// sample confidence, so a thin but promising history still sizes small.
func (s *Sizer) FromHistory(trades []types.TradeResult, equity float64) Recommendation {
	rec := Recommendation{SampleSize: len(trades)}
	if len(trades) < s.cfg.MinSampleSize {
		rec.InsufficientHistory = true
		return rec
	}

	wins := 0
	grossWin := 0.0
	grossLoss := 0.0
	for _, tr := range trades {
		if tr.PnL > 0 {
			wins++
			grossWin += tr.PnL
		} else if tr.PnL < 0 {
			grossLoss += -tr.PnL
		}
	}
	if wins == 0 || wins == len(trades) || grossLoss == 0 {
		// One-sided history carries no payoff ratio to size from.
		return rec
	}

	winRate := float64(wins) / float64(len(trades))
	avgWin := grossWin / float64(wins)
	avgLoss := grossLoss / float64(len(trades)-wins)

	out := s.Calculate(winRate, avgWin, avgLoss, 0)
	out.SampleSize = len(trades)
	if out.Fraction <= 0 {
		return out
	}

	confidence := float64(len(trades)) / float64(s.cfg.FullSampleSize)
	if confidence > 1 {
		confidence = 1
	}
	out.Confidence = confidence
	out.Fraction *= confidence
	if equity > 0 {
		out.Quote = out.Fraction * equity
	}
	return out
}
