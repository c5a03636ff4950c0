package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
)

// Bybit V5 retCodes that indicate a transient condition worth retrying.
var transientRetCodes = map[int]bool{
	10002: true, // request timestamp outside recv window
	10006: true, // rate limit exceeded
	10016: true, // internal server error
	10018: true, // IP rate limit
}

// BybitAdapter implements domain.Exchange against the Bybit V5 linear
// perpetuals API. The client order ID is forwarded as orderLinkId, so a
// retried create with the same ID cannot double-fill.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	mu             sync.Mutex
	wsConn         *websocket.Conn
	tradeCallbacks []func(symbol string, side string, size float64, price float64)
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == "GET" {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &domain.TransientError{Op: method + " " + path, Err: fmt.Errorf("http %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.TerminalExchangeError{Code: strconv.Itoa(resp.StatusCode), Msg: string(respBody)}
	}

	return respBody, nil
}

// retError translates a non-zero Bybit retCode into the error taxonomy.
func retError(op string, retCode int, retMsg string) error {
	if transientRetCodes[retCode] {
		return &domain.TransientError{Op: op, Err: fmt.Errorf("retCode %d: %s", retCode, retMsg)}
	}
	return &domain.TerminalExchangeError{Code: strconv.Itoa(retCode), Msg: retMsg}
}

// CreateOrder places a market order with the stop loss and take profit
// attached, so the exchange manages the exits even if this process dies.
func (b *BybitAdapter) CreateOrder(ctx context.Context, order *domain.Order) (*domain.OrderResult, error) {
	side := "Buy"
	if order.Side == domain.SideSell {
		side = "Sell"
	}

	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      order.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(order.Size, 'f', -1, 64),
		"timeInForce": "GTC",
		"orderLinkId": order.ID,
	}
	if order.StopPrice > 0 {
		payload["stopLoss"] = strconv.FormatFloat(order.StopPrice, 'f', -1, 64)
	}
	if order.TargetPrice > 0 {
		payload["takeProfit"] = strconv.FormatFloat(order.TargetPrice, 'f', -1, 64)
	}

	start := time.Now()
	resp, err := b.sendRequest(ctx, "POST", "/v5/order/create", payload)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.TransientError{Op: "order create", Err: err}
	}
	if result.RetCode != 0 {
		return nil, retError("order create", result.RetCode, result.RetMsg)
	}

	return &domain.OrderResult{OrderID: result.Result.OrderID, Latency: latency}, nil
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	resp, err := b.sendRequest(ctx, "POST", "/v5/order/cancel", payload)
	if err != nil {
		return err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return &domain.TransientError{Op: "order cancel", Err: err}
	}
	if result.RetCode != 0 {
		return retError("order cancel", result.RetCode, result.RetMsg)
	}
	return nil
}

func (b *BybitAdapter) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	path := "/v5/position/list?category=linear&symbol=" + symbol
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				Leverage      string `json:"leverage"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.TransientError{Op: "position list", Err: err}
	}
	if result.RetCode != 0 {
		return nil, retError("position list", result.RetCode, result.RetMsg)
	}

	if len(result.Result.List) == 0 {
		return &domain.Position{Symbol: symbol}, nil
	}

	raw := result.Result.List[0]
	size, _ := strconv.ParseFloat(raw.Size, 64)
	entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	curr, _ := strconv.ParseFloat(raw.MarkPrice, 64)
	pnl, _ := strconv.ParseFloat(raw.UnrealisedPnl, 64)
	lev, _ := strconv.Atoi(raw.Leverage)

	side := domain.SideBuy
	if raw.Side == "Sell" {
		side = domain.SideSell
	}

	return &domain.Position{
		Symbol:        raw.Symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entry,
		CurrentPrice:  curr,
		UnrealizedPnL: pnl,
		Leverage:      lev,
	}, nil
}

// GetBalance returns the total equity of the unified USDT account.
func (b *BybitAdapter) GetBalance(ctx context.Context) (float64, error) {
	path := "/v5/account/wallet-balance?accountType=UNIFIED&coin=USDT"
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				TotalEquity string `json:"totalEquity"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, &domain.TransientError{Op: "wallet balance", Err: err}
	}
	if result.RetCode != 0 {
		return 0, retError("wallet balance", result.RetCode, result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return 0, &domain.TerminalExchangeError{Code: "no_account", Msg: "empty wallet balance list"}
	}

	return strconv.ParseFloat(result.Result.List[0].TotalEquity, 64)
}

// GetOHLCV fetches klines and returns them oldest-first with millisecond
// start times.
func (b *BybitAdapter) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	resp, err := b.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.TransientError{Op: "kline", Err: err}
	}
	if result.RetCode != 0 {
		return nil, retError("kline", result.RetCode, result.RetMsg)
	}

	var candles []domain.Candle
	for _, raw := range result.Result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	// Bybit returns newest first; reverse to chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// Ping measures round-trip latency against the public server-time endpoint.
func (b *BybitAdapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := b.sendRequest(ctx, "GET", "/v5/market/time", nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, &domain.TransientError{Op: "ping", Err: err}
	}
	if result.RetCode != 0 {
		return 0, retError("ping", result.RetCode, result.RetMsg)
	}
	return time.Since(start), nil
}

// --- WebSocket ---

// OnTradeUpdate registers a callback for the public trade stream.
func (b *BybitAdapter) OnTradeUpdate(callback func(symbol string, side string, size float64, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradeCallbacks = append(b.tradeCallbacks, callback)
}

// ConnectWS dials the public stream and subscribes to trades for the
// given symbols. Safe to call again to extend the subscription.
func (b *BybitAdapter) ConnectWS(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn != nil {
		return b.subscribe(symbols)
	}

	c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	if err != nil {
		return &domain.TransientError{Op: "ws dial", Err: err}
	}
	b.wsConn = c

	go b.readLoop(c)

	return b.subscribe(symbols)
}

func (b *BybitAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "publicTrade." + s
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return b.wsConn.WriteJSON(subMsg)
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("ws read error", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  []struct {
				Side  string `json:"S"`
				Size  string `json:"v"`
				Price string `json:"p"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.HasPrefix(event.Topic, "publicTrade.") {
			continue
		}
		symbol := strings.TrimPrefix(event.Topic, "publicTrade.")

		b.mu.Lock()
		callbacks := make([]func(string, string, float64, float64), len(b.tradeCallbacks))
		copy(callbacks, b.tradeCallbacks)
		b.mu.Unlock()

		for _, trade := range event.Data {
			size, _ := strconv.ParseFloat(trade.Size, 64)
			price, _ := strconv.ParseFloat(trade.Price, 64)
			for _, cb := range callbacks {
				cb(symbol, trade.Side, size, price)
			}
		}
	}
}
