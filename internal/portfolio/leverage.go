package portfolio

import (
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// Tiers caps leverage per symbol. Majors tolerate more leverage than thin
// alts, so the cap follows liquidity rather than a single global number.
type Tiers struct {
	Min      float64            `json:"min"`
	Default  float64            `json:"default"`
	BySymbol map[string]float64 `json:"by_symbol"`
}

// DefaultTiers returns the built-in leverage schedule.
func DefaultTiers() Tiers {
	return Tiers{
		Min:     5.0,
		Default: 40.0,
		BySymbol: map[string]float64{
			"BTCUSDT":  40.0,
			"ETHUSDT":  40.0,
			"SOLUSDT":  25.0,
			"BNBUSDT":  25.0,
			"ADAUSDT":  20.0,
			"DOGEUSDT": 20.0,
		},
	}
}

// MaxFor returns the leverage cap for a symbol. Unknown symbols get the
// default cap.
func (t Tiers) MaxFor(symbol string) float64 {
	if max, ok := t.BySymbol[symbol]; ok && max > 0 {
		return max
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultTiers().Default
}

// MinLeverage returns the lower bound of the allowed leverage band.
func (t Tiers) MinLeverage() float64 {
	if t.Min > 0 {
		return t.Min
	}
	return DefaultTiers().Min
}

// RequiredMargin calculates the margin locked by a position
// Formula: Required Margin = Position Value / Leverage
//
// Example: $100 position with 10x leverage = $10 margin required
func RequiredMargin(positionValue, leverage float64) float64 {
	if leverage <= 0 {
		return positionValue
	}
	return positionValue / leverage
}

// MaxPositionSize calculates the largest position the given margin supports
// Formula: Max Position = Available Margin × Leverage
func MaxPositionSize(availableMargin, leverage float64) float64 {
	if availableMargin <= 0 || leverage <= 0 {
		return 0
	}
	return availableMargin * leverage
}

// EffectiveLeverage calculates actual leverage from position value and the
// margin backing it
func EffectiveLeverage(positionValue, margin float64) float64 {
	if margin <= 0 {
		return 1.0
	}
	return positionValue / margin
}

// LiquidationPrice approximates where the exchange would liquidate the
// position. The 0.9 factor leaves room for fees and funding; exchanges use
// more involved formulas, so this is a floor estimate for monitoring only.
func LiquidationPrice(entryPrice, leverage float64, side types.PositionSide) float64 {
	if leverage <= 1 {
		return 0
	}

	liquidationFactor := (1.0 / leverage) * 0.9
	if side == types.SideLong {
		return entryPrice * (1.0 - liquidationFactor)
	}
	return entryPrice * (1.0 + liquidationFactor)
}
