package exchange

import (
	"context"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// ExecutionClient is the position/execution collaborator. The risk core
// never talks to an exchange SDK directly; it goes through this interface so
// tests and paper setups can substitute their own.
type ExecutionClient interface {
	// OpenPosition opens a leveraged market position. The risk core itself
	// never opens positions; the embedding trading loop does, after its
	// signal passed validation.
	OpenPosition(ctx context.Context, req OpenRequest) (*types.PositionInfo, error)

	// ClosePosition closes the full position with a reduce-only market
	// order. Closing an already-closed position returns
	// ErrPositionNotFound, which callers treat as benign.
	ClosePosition(ctx context.Context, position types.PositionInfo, reason string) (string, error)

	// PlaceStopOrder attaches an exchange-native stop-loss to the position
	// and returns the exchange identifier for it.
	PlaceStopOrder(ctx context.Context, position types.PositionInfo, stopPrice float64) (string, error)

	// ListPositions returns all currently open positions.
	ListPositions(ctx context.Context) ([]types.PositionInfo, error)

	// AccountEquity returns total account equity in quote currency.
	AccountEquity(ctx context.Context) (float64, error)
}

// MarketDataClient supplies prices to the protection monitors and the
// correlation analyzer.
type MarketDataClient interface {
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetPriceHistory(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error)
}

// TradeHistoryClient supplies closed trades to the Kelly sizer.
type TradeHistoryClient interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]types.TradeResult, error)
}

// OpenRequest describes a position to open after validation approved it.
type OpenRequest struct {
	Symbol      string
	Side        types.PositionSide
	Quantity    float64
	Leverage    float64
	StopLossPct float64
}

// Config selects and configures the exchange backend.
type Config struct {
	Name  string       `json:"name"`
	Bybit *BybitConfig `json:"bybit,omitempty"`
}

// BybitConfig holds Bybit credentials and environment selection. Demo is the
// default elsewhere in the config pipeline: a risk subsystem pointed at a
// live account must be opted into explicitly.
type BybitConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
}

// ExchangeError is a standardized error surfaced by adapters.
type ExchangeError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
}

func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Common adapter errors. Adapters return these values (or wrap them) so
// callers can match with errors.Is.
var (
	ErrPositionNotFound = &ExchangeError{
		Code:    "POSITION_NOT_FOUND",
		Message: "Position not found or already closed",
	}

	ErrStopRejected = &ExchangeError{
		Code:    "STOP_REJECTED",
		Message: "Exchange rejected the stop order",
	}

	ErrAuthenticationFailed = &ExchangeError{
		Code:    "AUTHENTICATION_FAILED",
		Message: "API authentication failed",
	}

	ErrRateLimitExceeded = &ExchangeError{
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     "API rate limit exceeded",
		IsRetryable: true,
	}

	ErrConnectionFailed = &ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Failed to reach the exchange",
		IsRetryable: true,
	}
)
