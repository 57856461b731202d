package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// GetMarkPrice returns the current mark price for a linear symbol. Falls
// back to last price when the ticker carries no mark (spot-style payloads).
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	var price float64
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return transportError("get ticker", err)
		}

		serverResp, ok := interface{}(result).(*bybit_api.ServerResponse)
		if !ok {
			return fmt.Errorf("invalid response type")
		}
		if err := apiError(serverResp.RetCode, serverResp.RetMsg); err != nil {
			return err
		}

		resultBytes, err := json.Marshal(serverResp.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}

		var tickerResult struct {
			List []struct {
				Symbol    string `json:"symbol"`
				MarkPrice string `json:"markPrice"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		}
		if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
			return fmt.Errorf("failed to unmarshal ticker result: %w", err)
		}
		if len(tickerResult.List) == 0 {
			return fmt.Errorf("no ticker data for %s", symbol)
		}

		price = parseFloat64(tickerResult.List[0].MarkPrice)
		if price <= 0 {
			price = parseFloat64(tickerResult.List[0].LastPrice)
		}
		if price <= 0 {
			return fmt.Errorf("ticker for %s carries no usable price", symbol)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return price, nil
}

// GetPriceHistory fetches up to limit hourly candles, oldest first.
func (c *Client) GetPriceHistory(ctx context.Context, symbol string, limit int) ([]types.OHLCV, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"interval": "60",
		"limit":    limit,
	}

	var candles []types.OHLCV
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return transportError("get klines", err)
		}

		serverResp, ok := interface{}(result).(*bybit_api.ServerResponse)
		if !ok {
			return fmt.Errorf("invalid response type")
		}
		if err := apiError(serverResp.RetCode, serverResp.RetMsg); err != nil {
			return err
		}

		resultBytes, err := json.Marshal(serverResp.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}

		var klineResult struct {
			Symbol string     `json:"symbol"`
			List   [][]string `json:"list"`
		}
		if err := json.Unmarshal(resultBytes, &klineResult); err != nil {
			return fmt.Errorf("failed to unmarshal kline result: %w", err)
		}

		// Bybit kline rows: [startTime, open, high, low, close, volume, turnover],
		// newest first.
		candles = make([]types.OHLCV, 0, len(klineResult.List))
		for i := len(klineResult.List) - 1; i >= 0; i-- {
			row := klineResult.List[i]
			if len(row) < 7 {
				continue
			}
			candles = append(candles, types.OHLCV{
				Open:      parseFloat64(row[1]),
				High:      parseFloat64(row[2]),
				Low:       parseFloat64(row[3]),
				Close:     parseFloat64(row[4]),
				Volume:    parseFloat64(row[5]),
				Timestamp: time.UnixMilli(parseInt64(row[0])),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseTimestamp(ts string) time.Time {
	ms := parseInt64(ts)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
