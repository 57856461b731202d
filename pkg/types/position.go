package types

import "time"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// PositionInfo describes one open leveraged position. PositionValue is the
// notional (quantity × entry price), not the margin posted for it.
type PositionInfo struct {
	ID            string       `json:"id"`
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	EntryPrice    float64      `json:"entry_price"`
	Leverage      float64      `json:"leverage"`
	PositionValue float64      `json:"position_value"`
	StopLossPct   float64      `json:"stop_loss_pct"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// StopPrice returns the side-aware stop-loss trigger price, or 0 when the
// position carries no stop.
func (p PositionInfo) StopPrice() float64 {
	if p.StopLossPct <= 0 {
		return 0
	}
	if p.Side == SideShort {
		return p.EntryPrice * (1 + p.StopLossPct)
	}
	return p.EntryPrice * (1 - p.StopLossPct)
}

// AdverseMovePct returns how far mark has moved against the position as a
// fraction of entry price. Positive values are losses.
func (p PositionInfo) AdverseMovePct(mark float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == SideShort {
		return (mark - p.EntryPrice) / p.EntryPrice
	}
	return (p.EntryPrice - mark) / p.EntryPrice
}

// UnrealizedPnL estimates the position PnL at the given mark price.
func (p PositionInfo) UnrealizedPnL(mark float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - mark) * p.Quantity
	}
	return (mark - p.EntryPrice) * p.Quantity
}
