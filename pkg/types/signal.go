package types

import "time"

// Decision is the action a strategy wants to take on a symbol.
type Decision string

const (
	DecisionBuy   Decision = "BUY"
	DecisionSell  Decision = "SELL"
	DecisionHold  Decision = "HOLD"
	DecisionClose Decision = "CLOSE"
)

// IsEntry reports whether the decision opens new exposure.
func (d Decision) IsEntry() bool {
	return d == DecisionBuy || d == DecisionSell
}

// TradingSignal is a proposed trade as emitted by the strategy layer.
// SizePct and StopLossPct are fractions of account equity and entry price
// respectively. StopLossPct == 0 means the signal carries no stop-loss.
type TradingSignal struct {
	Symbol      string    `json:"symbol"`
	Decision    Decision  `json:"decision"`
	Confidence  float64   `json:"confidence"`
	SizePct     float64   `json:"size_pct"`
	StopLossPct float64   `json:"stop_loss_pct"`
	Leverage    float64   `json:"leverage"`
	Reason      string    `json:"reason,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}
