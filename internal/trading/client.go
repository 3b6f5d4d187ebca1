// Package trading is the stateless REST trading client: place/cancel
// orders, query order status, balances and tickers. Each call is one
// signed request/response round trip; nothing here shares the websocket
// session's transport or state machine.
package trading

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
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultRecvWindow = "5000"

// Options configures the REST client.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Category  string // spot, linear, inverse
	Timeout   time.Duration
	Logger    *zerolog.Logger
}

// Client issues signed REST calls to the venue.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	category   string
	recvWindow string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Category == "" {
		opts.Category = "spot"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		category:   opts.Category,
		recvWindow: defaultRecvWindow,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        logger,
	}
}

// APIError is a venue-level rejection (retCode != 0).
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue API error %d: %s", e.Code, e.Message)
}

// apiResponse is the common envelope of every REST response.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// OrderRequest describes a new order. Price is required for limit orders.
type OrderRequest struct {
	Symbol        string
	Side          string // Buy, Sell
	OrderType     string // Limit, Market
	Qty           decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// OrderAck is the venue's acknowledgment of a place or cancel call.
type OrderAck struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"orderLinkId"`
}

// Order is the venue's view of one order.
type Order struct {
	OrderID       string          `json:"orderId"`
	ClientOrderID string          `json:"orderLinkId"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	OrderType     string          `json:"orderType"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"orderStatus"`
}

// CoinBalance is one coin's wallet balance.
type CoinBalance struct {
	Coin          string          `json:"coin"`
	WalletBalance decimal.Decimal `json:"walletBalance"`
	Free          decimal.Decimal `json:"free"`
	Locked        decimal.Decimal `json:"locked"`
}

// Ticker is a point-in-time market snapshot for one symbol.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Bid1Price decimal.Decimal `json:"bid1Price"`
	Ask1Price decimal.Decimal `json:"ask1Price"`
	Volume24h decimal.Decimal `json:"volume24h"`
}

// PlaceOrder submits a new order. The client order ID is generated when the
// request leaves it empty.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if req.OrderType == "Limit" && req.Price.IsZero() {
		return nil, fmt.Errorf("price is required for limit orders")
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	body := map[string]interface{}{
		"category":    c.category,
		"symbol":      req.Symbol,
		"side":        req.Side,
		"orderType":   req.OrderType,
		"qty":         req.Qty.String(),
		"orderLinkId": req.ClientOrderID,
	}
	if !req.Price.IsZero() {
		body["price"] = req.Price.String()
	}
	if req.TimeInForce != "" {
		body["timeInForce"] = req.TimeInForce
	}

	var ack OrderAck
	if err := c.post(ctx, "/v5/order/create", body, &ack); err != nil {
		return nil, err
	}
	c.log.Info().Str("order_id", ack.OrderID).Str("symbol", req.Symbol).
		Str("side", req.Side).Msg("Order placed")
	return &ack, nil
}

// CancelOrder cancels an open order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (*OrderAck, error) {
	body := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	var ack OrderAck
	if err := c.post(ctx, "/v5/order/cancel", body, &ack); err != nil {
		return nil, err
	}
	c.log.Info().Str("order_id", ack.OrderID).Msg("Order cancelled")
	return &ack, nil
}

// GetOrder fetches the current state of one order.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var result struct {
		List []Order `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/realtime", params, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &result.List[0], nil
}

// OpenOrders lists orders still working on the venue, optionally filtered
// by symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("category", c.category)
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var result struct {
		List []Order `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/realtime", params, &result); err != nil {
		return nil, err
	}
	return result.List, nil
}

// OrderHistory returns up to limit past orders, newest first, optionally
// filtered by symbol.
func (c *Client) OrderHistory(ctx context.Context, symbol string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("limit", strconv.Itoa(limit))
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var result struct {
		List []Order `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/history", params, &result); err != nil {
		return nil, err
	}
	return result.List, nil
}

// WalletBalance returns per-coin balances for the unified account.
func (c *Client) WalletBalance(ctx context.Context) ([]CoinBalance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var result struct {
		List []struct {
			Coin []CoinBalance `json:"coin"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/account/wallet-balance", params, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, nil
	}
	return result.List[0].Coin, nil
}

// GetTicker returns a market snapshot for one symbol. Public endpoint, no
// signature needed, but signing it is harmless.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var result struct {
		List []Ticker `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/tickers", params, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("ticker for %s not found", symbol)
	}
	return &result.List[0], nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(payload))
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	c.sign(req, query)
	return c.do(req, out)
}

// sign attaches the venue's v5 authentication headers. The signature is
// HMAC-SHA256 over timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(h.Sum(nil)))
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %d: %s", resp.StatusCode, string(data))
	}

	var env apiResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Message: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}
