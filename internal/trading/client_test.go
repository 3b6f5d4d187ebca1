package trading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		APISecret: "test-secret",
		Category:  "spot",
	})
}

func TestPlaceOrderSignsAndDecodesAck(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/order/create", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-BAPI-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-TIMESTAMP"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"retMsg":  "OK",
			"result":  map[string]string{"orderId": "1234", "orderLinkId": gotBody["orderLinkId"].(string)},
		})
	})

	ack, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      "Buy",
		OrderType: "Limit",
		Qty:       decimal.RequireFromString("0.5"),
		Price:     decimal.RequireFromString("50000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1234", ack.OrderID)
	assert.NotEmpty(t, ack.ClientOrderID, "client order ID is generated when absent")

	assert.Equal(t, "spot", gotBody["category"])
	assert.Equal(t, "0.5", gotBody["qty"])
	assert.Equal(t, "50000", gotBody["price"])
}

func TestPlaceOrderRequiresPriceForLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request may be sent for an invalid order")
	})

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      "Buy",
		OrderType: "Limit",
		Qty:       decimal.RequireFromString("0.5"),
	})
	assert.Error(t, err)
}

func TestVenueErrorSurfacesAsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 10001,
			"retMsg":  "insufficient balance",
		})
	})

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      "Buy",
		OrderType: "Market",
		Qty:       decimal.RequireFromString("1"),
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10001, apiErr.Code)
	assert.Equal(t, "insufficient balance", apiErr.Message)
}

func TestGetOrderDecodesList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/order/realtime", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"result": map[string]interface{}{
				"list": []map[string]string{{
					"orderId":     "1234",
					"symbol":      "BTCUSDT",
					"side":        "Buy",
					"orderType":   "Limit",
					"qty":         "0.5",
					"price":       "50000",
					"orderStatus": "PartiallyFilled",
				}},
			},
		})
	})

	order, err := client.GetOrder(context.Background(), "BTCUSDT", "1234")
	require.NoError(t, err)
	assert.Equal(t, "PartiallyFilled", order.Status)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("50000")))
}

func TestOpenOrdersListsWorkingOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/order/realtime", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Empty(t, r.URL.Query().Get("symbol"), "no symbol filter when none requested")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"result": map[string]interface{}{
				"list": []map[string]string{
					{"orderId": "1", "symbol": "BTCUSDT", "orderStatus": "New"},
					{"orderId": "2", "symbol": "ETHUSDT", "orderStatus": "PartiallyFilled"},
				},
			},
		})
	})

	orders, err := client.OpenOrders(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "New", orders[0].Status)
	assert.Equal(t, "ETHUSDT", orders[1].Symbol)
}

func TestOrderHistoryPassesLimitAndSymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/order/history", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"result": map[string]interface{}{
				"list": []map[string]string{
					{"orderId": "9", "symbol": "BTCUSDT", "orderStatus": "Filled"},
				},
			},
		})
	})

	orders, err := client.OrderHistory(context.Background(), "BTCUSDT", 25)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "Filled", orders[0].Status)
}

func TestGetTicker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"result": map[string]interface{}{
				"list": []map[string]string{{
					"symbol":    "BTCUSDT",
					"lastPrice": "50123.5",
					"bid1Price": "50123",
					"ask1Price": "50124",
				}},
			},
		})
	})

	tick, err := client.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, tick.LastPrice.Equal(decimal.RequireFromString("50123.5")))
}
