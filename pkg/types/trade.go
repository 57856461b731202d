package types

import "time"

// TradeResult is one closed trade as reported by the trade-history
// collaborator. PnL is in quote currency, net of fees.
type TradeResult struct {
	Symbol   string    `json:"symbol"`
	PnL      float64   `json:"pnl"`
	Win      bool      `json:"win"`
	ClosedAt time.Time `json:"closed_at"`
}
