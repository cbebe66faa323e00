package ibrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolette/spreadbot/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, "test-token", "DU1234567", 5*time.Second)
}

func TestIndexPrice(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index/VIX/snapshot", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"symbol":"VIX","last":25.4}`))
	})

	level, err := client.IndexPrice(context.Background(), "VIX")
	require.NoError(t, err)
	assert.InDelta(t, 25.4, level, 1e-9)
}

func TestIndexPriceWithoutLast(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"VIX","last":0}`))
	})

	_, err := client.IndexPrice(context.Background(), "VIX")
	require.ErrorIs(t, err, domain.ErrInsufficientMarketData)
}

func TestOptionChain(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/options/VIX/chain", r.URL.Path)
		w.Write([]byte(`{"underlying":"VIX","expirations":[
			{"expiration":"20260917","strikes":[21,25,30]},
			{"expiration":"20261015","strikes":[20,25]}
		]}`))
	})

	chain, err := client.OptionChain(context.Background(), "VIX")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, chain[0].Expiration.Equal(time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC)))
	assert.True(t, chain[0].HasStrike(25))
	assert.False(t, chain[1].HasStrike(30))
}

func TestQuoteSnapshot(t *testing.T) {
	contract := domain.NewPut("VIX", time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC), 21)
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/options/quote", r.URL.Path)
		assert.Equal(t, "VIX-20260917-21P", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"VIX-20260917-21P","bid":20.9,"ask":21.1,"delta":-0.42}`))
	})

	q, err := client.QuoteSnapshot(context.Background(), contract)
	require.NoError(t, err)
	assert.InDelta(t, 20.9, q.Bid, 1e-9)
	assert.InDelta(t, 21.1, q.Ask, 1e-9)
	assert.InDelta(t, -0.42, q.Greeks.Delta, 1e-9)
	assert.True(t, q.HasMarket())
	assert.InDelta(t, 21.0, q.Mid(), 1e-9)
}

func TestSubmitOrder(t *testing.T) {
	contract := domain.NewPut("VIX", time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC), 21)
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		var req submitOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "DU1234567", req.Account)
		assert.Equal(t, "VIX-20260917-21P", req.Symbol)
		assert.Equal(t, "SELL", req.Side)
		assert.Equal(t, 1, req.Quantity)
		assert.Equal(t, "limit", req.Type)
		assert.InDelta(t, 20.99, req.Limit, 1e-9)
		assert.Equal(t, "day", req.Duration)

		w.Write([]byte(`{"order_id":"ord-77","status":"submitted"}`))
	})

	handle, err := client.SubmitOrder(context.Background(), contract, domain.LegSideSell, 1, 20.99)
	require.NoError(t, err)
	assert.Equal(t, "ord-77", handle)
}

func TestSubmitOrderEmptyHandle(t *testing.T) {
	contract := domain.NewPut("VIX", time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC), 21)
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"rejected"}`))
	})

	_, err := client.SubmitOrder(context.Background(), contract, domain.LegSideSell, 1, 20.99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty order id")
}

func TestFills(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/ord-77/fills", r.URL.Path)
		w.Write([]byte(`{"order_id":"ord-77","fills":[
			{"price":20.95,"quantity":1,"commission":0.65}
		]}`))
	})

	fills, err := client.Fills(context.Background(), "ord-77")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.InDelta(t, 20.95, fills[0].Price, 1e-9)
	assert.Equal(t, 1, fills[0].Quantity)
	assert.InDelta(t, 0.65, fills[0].Commission, 1e-9)
}

func TestOpenOrdersSkipsNonOptionSymbols(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "working", r.URL.Query().Get("status"))
		w.Write([]byte(`{"orders":[
			{"order_id":"ord-1","symbol":"VIX-20260917-21P","side":"SELL","status":"working"},
			{"order_id":"ord-2","symbol":"SPY","side":"BUY","status":"working"}
		]}`))
	})

	orders, err := client.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ord-1", orders[0].Handle)
	assert.Equal(t, domain.LegSideSell, orders[0].Side)
	assert.InDelta(t, 21.0, orders[0].Contract.Strike, 1e-9)
}

func TestOpenPositions(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions":[
			{"symbol":"VIX-20260917-21P","quantity":-1},
			{"symbol":"VIX-20260917-25P","quantity":1}
		]}`))
	})

	positions, err := client.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.InDelta(t, -1.0, positions[0].Quantity, 1e-9)
	assert.InDelta(t, 25.0, positions[1].Contract.Strike, 1e-9)
}

func TestServerErrorWrapsGatewayUnavailable(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.IndexPrice(context.Background(), "VIX")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestClientErrorDoesNotWrapGatewayUnavailable(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such order", http.StatusNotFound)
	})

	err := client.CancelOrder(context.Background(), "ord-404")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestConnectionRefusedWrapsGatewayUnavailable(t *testing.T) {
	srv, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	err := client.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestParseSymbol(t *testing.T) {
	c, err := ParseSymbol("VIX-20260917-21P")
	require.NoError(t, err)
	assert.Equal(t, "VIX", c.Underlying)
	assert.True(t, c.Expiration.Equal(time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 21.0, c.Strike, 1e-9)
	assert.Equal(t, domain.RightPut, c.Right)
	assert.Equal(t, "VIX-20260917-21P", c.Key())

	c, err = ParseSymbol("VIX-20260917-22.5P")
	require.NoError(t, err)
	assert.InDelta(t, 22.5, c.Strike, 1e-9)

	for _, symbol := range []string{"SPY", "VIX-2026-21P", "VIX-20260917-21X", "VIX-20260917-P"} {
		_, err := ParseSymbol(symbol)
		assert.Error(t, err, symbol)
	}
}
