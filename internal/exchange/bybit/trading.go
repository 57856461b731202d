package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// OpenPosition sets leverage and opens a market position, then reads the
// resulting position back so the caller gets exchange-confirmed entry data.
//
// Opens are never retried: after a transport failure the order state is
// unknown, and a blind resend could double the position. Callers must
// reconcile with ListPositions before reissuing.
func (c *Client) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*types.PositionInfo, error) {
	if req.Symbol == "" || req.Quantity <= 0 {
		return nil, fmt.Errorf("open request needs symbol and positive quantity")
	}

	if req.Leverage > 0 {
		if err := c.setLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return nil, err
		}
	}

	side := "Buy"
	if req.Side == types.SideShort {
		side = "Sell"
	}
	if _, err := c.placeMarketOrder(ctx, req.Symbol, side, req.Quantity, false); err != nil {
		return nil, err
	}

	pos, err := c.findPosition(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("order placed but position readback failed: %w", err)
	}
	pos.StopLossPct = req.StopLossPct
	return pos, nil
}

// ClosePosition closes the full position with a reduce-only market order.
// Returns the closing order ID; a position that is already gone maps to
// ErrPositionNotFound.
func (c *Client) ClosePosition(ctx context.Context, position types.PositionInfo, reason string) (string, error) {
	side := "Sell"
	if position.Side == types.SideShort {
		side = "Buy"
	}

	// A reduce-only close is safe to retry: repeating it against an already
	// flat position comes back as ErrPositionNotFound, which callers treat
	// as benign.
	var orderID string
	err := c.retry.Do(ctx, func() error {
		var err error
		orderID, err = c.placeMarketOrder(ctx, position.Symbol, side, position.Quantity, true)
		return err
	})
	return orderID, err
}

// PlaceStopOrder attaches a stop loss to the position itself, so it
// survives this process dying and is removed by the exchange together with
// the position. The returned reference is synthetic; trading stops have no
// order ID until they trigger.
func (c *Client) PlaceStopOrder(ctx context.Context, position types.PositionInfo, stopPrice float64) (string, error) {
	if stopPrice <= 0 {
		return "", fmt.Errorf("%w: stop price must be positive", exchange.ErrStopRejected)
	}

	params := map[string]interface{}{
		"category":    category,
		"symbol":      position.Symbol,
		"stopLoss":    formatFloat(stopPrice),
		"tpslMode":    "Full",
		"slTriggerBy": "MarkPrice",
		"positionIdx": positionIdx,
	}

	// Setting a trading stop is idempotent, so transient failures retry.
	// Only a definitive refusal surfaces as ErrStopRejected.
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
		if err != nil {
			return transportError("set trading stop", err)
		}

		serverResp, ok := interface{}(result).(*bybit_api.ServerResponse)
		if !ok {
			return fmt.Errorf("%w: invalid response type", exchange.ErrStopRejected)
		}
		if err := apiError(serverResp.RetCode, serverResp.RetMsg); err != nil {
			if exchange.IsRetryable(err) {
				return err
			}
			return fmt.Errorf("%w: %v", exchange.ErrStopRejected, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("trading-stop:%s@%s", position.Symbol, formatFloat(stopPrice)), nil
}

// ListPositions returns all open linear positions mapped into the risk
// domain model. Bybit in one-way mode holds one position per symbol, so the
// symbol doubles as the position ID.
func (c *Client) ListPositions(ctx context.Context) ([]types.PositionInfo, error) {
	params := map[string]interface{}{
		"category":   category,
		"settleCoin": "USDT",
	}

	var positions []types.PositionInfo
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return transportError("get positions", err)
		}

		positions, err = parsePositions(result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// AccountEquity returns unified account equity in USD terms.
func (c *Client) AccountEquity(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	var equity float64
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return transportError("get wallet balance", err)
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

		var walletResult struct {
			List []struct {
				TotalEquity string `json:"totalEquity"`
			} `json:"list"`
		}
		if err := json.Unmarshal(resultBytes, &walletResult); err != nil {
			return fmt.Errorf("failed to unmarshal wallet result: %w", err)
		}
		if len(walletResult.List) == 0 {
			return fmt.Errorf("no account data found")
		}
		equity = parseFloat64(walletResult.List[0].TotalEquity)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return equity, nil
}

// RecentTrades reconstructs closed round trips from filled order history,
// FIFO per symbol. Funding and fees are not included in the PnL.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.TradeResult, error) {
	params := map[string]interface{}{
		"category": category,
		"limit":    200,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}

	var fills []fill
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
		if err != nil {
			return transportError("get order history", err)
		}

		fills, err = parseFills(result)
		return err
	})
	if err != nil {
		return nil, err
	}

	trades := pairFills(fills)
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

func (c *Client) setLeverage(ctx context.Context, symbol string, leverage float64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	lv := formatFloat(leverage)
	params := map[string]interface{}{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lv,
		"sellLeverage": lv,
	}

	_, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return transportError("set leverage", err)
	}
	return nil
}

func (c *Client) placeMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := map[string]interface{}{
		"category":    category,
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         formatFloat(qty),
		"positionIdx": positionIdx,
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return "", transportError("place order", err)
	}
	return parseOrderID(result)
}

func (c *Client) findPosition(ctx context.Context, symbol string) (*types.PositionInfo, error) {
	positions, err := c.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return nil, exchange.ErrPositionNotFound
}

func parseOrderID(response interface{}) (string, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return "", fmt.Errorf("invalid response type")
	}
	if err := apiError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return "", err
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	var orderResult struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resultBytes, &orderResult); err != nil {
		return "", fmt.Errorf("failed to unmarshal order result: %w", err)
	}
	if orderResult.OrderID == "" {
		return "", fmt.Errorf("order response carries no order ID")
	}
	return orderResult.OrderID, nil
}

func parsePositions(response interface{}) ([]types.PositionInfo, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}
	if err := apiError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return nil, err
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			PositionValue string `json:"positionValue"`
			AvgPrice      string `json:"avgPrice"`
			Leverage      string `json:"leverage"`
			StopLoss      string `json:"stopLoss"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	var positions []types.PositionInfo
	for _, p := range positionResult.List {
		size := parseFloat64(p.Size)
		if size <= 0 || p.Side == "None" {
			continue
		}

		side := types.SideLong
		if p.Side == "Sell" {
			side = types.SideShort
		}

		entry := parseFloat64(p.AvgPrice)
		value := parseFloat64(p.PositionValue)
		if value == 0 {
			value = entry * size
		}

		pos := types.PositionInfo{
			ID:            p.Symbol,
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      size,
			EntryPrice:    entry,
			Leverage:      parseFloat64(p.Leverage),
			PositionValue: value,
			OpenedAt:      parseTimestamp(p.CreatedTime),
		}

		// Recover the stop distance so protection can be rebuilt after a
		// restart.
		if stop := parseFloat64(p.StopLoss); stop > 0 && entry > 0 {
			pos.StopLossPct = math.Abs(entry-stop) / entry
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

type fill struct {
	symbol string
	side   string
	qty    float64
	price  float64
	time   time.Time
}

func parseFills(response interface{}) ([]fill, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}
	if err := apiError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return nil, err
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var historyResult struct {
		List []struct {
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			AvgPrice    string `json:"avgPrice"`
			CumExecQty  string `json:"cumExecQty"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &historyResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order history: %w", err)
	}

	var fills []fill
	for _, o := range historyResult.List {
		if o.OrderStatus != "Filled" {
			continue
		}
		qty := parseFloat64(o.CumExecQty)
		price := parseFloat64(o.AvgPrice)
		if qty <= 0 || price <= 0 {
			continue
		}
		fills = append(fills, fill{
			symbol: o.Symbol,
			side:   o.Side,
			qty:    qty,
			price:  price,
			time:   parseTimestamp(o.UpdatedTime),
		})
	}

	// History arrives newest first; pairing needs chronological order.
	sort.Slice(fills, func(i, j int) bool { return fills[i].time.Before(fills[j].time) })
	return fills, nil
}

// pairFills walks fills chronologically and emits a TradeResult whenever a
// fill reduces an open book position, FIFO per symbol.
func pairFills(fills []fill) []types.TradeResult {
	type book struct {
		qty   float64 // positive long, negative short
		entry float64
	}

	books := make(map[string]*book)
	var trades []types.TradeResult
	for _, f := range fills {
		b := books[f.symbol]
		if b == nil {
			b = &book{}
			books[f.symbol] = b
		}

		signed := f.qty
		if f.side == "Sell" {
			signed = -f.qty
		}

		// Same direction (or flat): extend the position at weighted entry.
		if b.qty == 0 || (b.qty > 0) == (signed > 0) {
			total := b.qty + signed
			b.entry = (b.entry*math.Abs(b.qty) + f.price*f.qty) / math.Abs(total)
			b.qty = total
			continue
		}

		// Opposite direction: close up to the open quantity.
		matched := math.Min(f.qty, math.Abs(b.qty))
		direction := 1.0
		if b.qty < 0 {
			direction = -1.0
		}
		pnl := (f.price - b.entry) * matched * direction
		trades = append(trades, types.TradeResult{
			Symbol:   f.symbol,
			PnL:      pnl,
			Win:      pnl > 0,
			ClosedAt: f.time,
		})

		b.qty += signed
		if math.Abs(b.qty) < 1e-12 {
			b.qty = 0
			b.entry = 0
		} else if (b.qty > 0) != (direction > 0) {
			// Fill flipped through flat into a new position.
			b.entry = f.price
		}
	}
	return trades
}
