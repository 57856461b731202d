package portfolio

import (
	"testing"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

func TestTiersMaxFor(t *testing.T) {
	tiers := DefaultTiers()

	tests := []struct {
		name     string
		symbol   string
		expected float64
	}{
		{"BTC gets the major tier", "BTCUSDT", 40.0},
		{"ETH gets the major tier", "ETHUSDT", 40.0},
		{"SOL gets the mid tier", "SOLUSDT", 25.0},
		{"BNB gets the mid tier", "BNBUSDT", 25.0},
		{"ADA gets the low tier", "ADAUSDT", 20.0},
		{"DOGE gets the low tier", "DOGEUSDT", 20.0},
		{"Unknown symbol falls back to default", "XRPUSDT", 40.0},
		{"Empty symbol falls back to default", "", 40.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tiers.MaxFor(tt.symbol); got != tt.expected {
				t.Errorf("MaxFor(%q) = %.1f, want %.1f", tt.symbol, got, tt.expected)
			}
		})
	}
}

func TestTiersZeroValueFallsBack(t *testing.T) {
	var tiers Tiers

	if got := tiers.MaxFor("BTCUSDT"); got != 40.0 {
		t.Errorf("zero-value MaxFor() = %.1f, want 40.0", got)
	}
	if got := tiers.MinLeverage(); got != 5.0 {
		t.Errorf("zero-value MinLeverage() = %.1f, want 5.0", got)
	}
}

func TestRequiredMargin(t *testing.T) {
	tests := []struct {
		name           string
		positionValue  float64
		leverage       float64
		expectedMargin float64
	}{
		{"10x leverage on $100 position", 100.0, 10.0, 10.0},
		{"40x leverage on $1000 position", 1000.0, 40.0, 25.0},
		{"1x leverage requires full value", 500.0, 1.0, 500.0},
		{"Zero leverage requires full value", 200.0, 0.0, 200.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if margin := RequiredMargin(tt.positionValue, tt.leverage); margin != tt.expectedMargin {
				t.Errorf("RequiredMargin() = %.2f, want %.2f", margin, tt.expectedMargin)
			}
		})
	}
}

func TestMaxPositionSize(t *testing.T) {
	if got := MaxPositionSize(50.0, 10.0); got != 500.0 {
		t.Errorf("MaxPositionSize(50, 10) = %.2f, want 500.00", got)
	}
	if got := MaxPositionSize(0, 10.0); got != 0 {
		t.Errorf("MaxPositionSize with no margin = %.2f, want 0", got)
	}
	if got := MaxPositionSize(50.0, 0); got != 0 {
		t.Errorf("MaxPositionSize with no leverage = %.2f, want 0", got)
	}
}

func TestLiquidationPrice(t *testing.T) {
	// 10x long: liquidation factor = 0.1 * 0.9 = 0.09 below entry.
	long := LiquidationPrice(100.0, 10.0, types.SideLong)
	if long != 91.0 {
		t.Errorf("long liquidation = %.2f, want 91.00", long)
	}

	short := LiquidationPrice(100.0, 10.0, types.SideShort)
	if short != 109.0 {
		t.Errorf("short liquidation = %.2f, want 109.00", short)
	}

	if spot := LiquidationPrice(100.0, 1.0, types.SideLong); spot != 0 {
		t.Errorf("spot position liquidation = %.2f, want 0", spot)
	}
}

func TestEffectiveLeverage(t *testing.T) {
	if got := EffectiveLeverage(1000.0, 100.0); got != 10.0 {
		t.Errorf("EffectiveLeverage(1000, 100) = %.2f, want 10.00", got)
	}
	if got := EffectiveLeverage(1000.0, 0); got != 1.0 {
		t.Errorf("EffectiveLeverage with no margin = %.2f, want 1.00", got)
	}
}
