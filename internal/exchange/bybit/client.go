package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange"
)

// Positions are managed in one-way mode on linear USDT perpetuals.
const (
	category    = "linear"
	positionIdx = 0
)

// Client implements the execution, market-data and trade-history
// collaborators on Bybit V5. All outbound calls pass through a shared token
// bucket so per-position monitors cannot starve the API quota. Idempotent
// calls additionally retry transient failures; opens never do.
type Client struct {
	httpClient *bybit_api.Client
	limiter    *exchange.RateLimiter
	retry      *exchange.Retrier
	testnet    bool
	demo       bool
}

// Interface compliance.
var (
	_ exchange.ExecutionClient    = (*Client)(nil)
	_ exchange.MarketDataClient   = (*Client)(nil)
	_ exchange.TradeHistoryClient = (*Client)(nil)
)

// NewClient creates a Bybit client for the configured environment.
func NewClient(cfg exchange.BybitConfig) *Client {
	var baseURL string
	if cfg.Demo {
		// Demo trading environment (paper trading)
		baseURL = "https://api-demo.bybit.com"
	} else if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient: httpClient,
		limiter:    exchange.NewRateLimiter(20, 10),
		retry:      exchange.NewRetrier(),
		testnet:    cfg.Testnet,
		demo:       cfg.Demo,
	}
}

// Environment describes which Bybit environment the client talks to.
func (c *Client) Environment() string {
	if c.demo {
		return "demo"
	}
	if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

// IsDemo reports whether the client trades paper money.
func (c *Client) IsDemo() bool {
	return c.demo
}
