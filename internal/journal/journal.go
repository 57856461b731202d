// Package journal persists an audit trail of every risk decision and
// protective action so that a trading day can be reconstructed after the
// fact.
package journal

import (
	"time"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// Journal records risk events. Implementations must be safe for concurrent
// use; monitor goroutines and the validation path write from different
// goroutines.
type Journal interface {
	// RecordValidation stores one signal validation with its full check list.
	RecordValidation(v types.RiskValidation) error

	// RecordPositionOpened stores a position accepted into the portfolio.
	RecordPositionOpened(pos types.PositionInfo) error

	// RecordPositionClosed stores a close with the layer or reason that
	// triggered it and the realized PnL estimate.
	RecordPositionClosed(pos types.PositionInfo, trigger string, pnl float64) error

	// RecordBreakerEvent stores a circuit breaker transition (trip, reset,
	// rollover) with the daily loss at the time of the event.
	RecordBreakerEvent(event, reason string, dailyLossPct float64) error

	// ListClosesBetween returns closed trades with closed_at in [start, end),
	// oldest first. Used to seed the sizer's trade history on restart.
	ListClosesBetween(start, end time.Time) ([]types.TradeResult, error)

	Close() error
}

// Nop discards everything. Used when journaling is disabled and in tests.
type Nop struct{}

func (Nop) RecordValidation(types.RiskValidation) error { return nil }

func (Nop) RecordPositionOpened(types.PositionInfo) error { return nil }

func (Nop) RecordPositionClosed(types.PositionInfo, string, float64) error { return nil }

func (Nop) RecordBreakerEvent(string, string, float64) error { return nil }

func (Nop) ListClosesBetween(time.Time, time.Time) ([]types.TradeResult, error) {
	return nil, nil
}

func (Nop) Close() error { return nil }
