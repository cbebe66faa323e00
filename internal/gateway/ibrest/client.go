// Package ibrest is the REST client for the brokerage execution gateway. It
// implements gateway.Gateway over the gateway daemon's HTTP API with bearer
// token authentication.
package ibrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/gateway"
)

// Client is the REST client for the brokerage gateway daemon.
type Client struct {
	baseURL    string
	token      string
	account    string
	httpClient *http.Client
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a gateway client. baseURL is the daemon root, e.g.
// "https://localhost:5000/v1/api"; account is the brokerage account id orders
// are placed against.
func NewClient(baseURL, token, account string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		account: account,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect verifies connectivity and authentication against the gateway.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/session/status", nil); err != nil {
		return fmt.Errorf("ibrest: connect: %w", err)
	}
	return nil
}

// IndexPrice returns the live level of the cash index.
func (c *Client) IndexPrice(ctx context.Context, underlying string) (float64, error) {
	path := fmt.Sprintf("/index/%s/snapshot", url.PathEscape(underlying))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("ibrest: index price %s: %w", underlying, err)
	}

	var dto indexSnapshotDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return 0, fmt.Errorf("ibrest: decode index snapshot: %w", err)
	}
	if dto.Last <= 0 {
		return 0, fmt.Errorf("ibrest: index %s: no last price: %w", underlying, domain.ErrInsufficientMarketData)
	}
	return dto.Last, nil
}

// OptionChain lists every offered expiration with its strikes.
func (c *Client) OptionChain(ctx context.Context, underlying string) ([]domain.ChainExpiration, error) {
	path := fmt.Sprintf("/options/%s/chain", url.PathEscape(underlying))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("ibrest: option chain %s: %w", underlying, err)
	}

	var dto chainDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("ibrest: decode option chain: %w", err)
	}

	chain := make([]domain.ChainExpiration, 0, len(dto.Expirations))
	for _, e := range dto.Expirations {
		exp, err := time.ParseInLocation("20060102", e.Expiration, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("ibrest: parse expiration %q: %w", e.Expiration, err)
		}
		chain = append(chain, domain.ChainExpiration{Expiration: exp, Strikes: e.Strikes})
	}
	return chain, nil
}

// QuoteSnapshot returns a point-in-time bid/ask with greeks for one contract.
func (c *Client) QuoteSnapshot(ctx context.Context, contract domain.OptionContract) (domain.QuoteSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", contract.Key())
	body, err := c.do(ctx, http.MethodGet, "/options/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("ibrest: quote %s: %w", contract.Key(), err)
	}

	var dto quoteDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("ibrest: decode quote: %w", err)
	}

	return domain.QuoteSnapshot{
		Contract: contract,
		Bid:      dto.Bid,
		Ask:      dto.Ask,
		Greeks: domain.Greeks{
			Delta: dto.Delta,
			Gamma: dto.Gamma,
			Vega:  dto.Vega,
			Theta: dto.Theta,
		},
		Time: time.Now().UTC(),
	}, nil
}

// SubmitOrder places a day limit order and returns the broker handle.
func (c *Client) SubmitOrder(ctx context.Context, contract domain.OptionContract, side domain.LegSide, qty int, limitPrice float64) (string, error) {
	req := submitOrderRequest{
		Account:  c.account,
		Symbol:   contract.Key(),
		Side:     strings.ToUpper(string(side)),
		Quantity: qty,
		Type:     "limit",
		Limit:    limitPrice,
		Duration: "day",
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("ibrest: marshal order: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return "", fmt.Errorf("ibrest: submit %s %s: %w", side, contract.Key(), err)
	}

	var resp submitOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ibrest: decode submit response: %w", err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("ibrest: submit %s %s: empty order id (status %q)", side, contract.Key(), resp.Status)
	}
	return resp.OrderID, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, handle string) error {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(handle))
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("ibrest: cancel %s: %w", handle, err)
	}
	return nil
}

// Fills returns the executions reported for an order handle.
func (c *Client) Fills(ctx context.Context, handle string) ([]domain.Fill, error) {
	path := fmt.Sprintf("/orders/%s/fills", url.PathEscape(handle))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("ibrest: fills %s: %w", handle, err)
	}

	var resp fillsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ibrest: decode fills: %w", err)
	}

	fills := make([]domain.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fills = append(fills, domain.Fill{Price: f.Price, Quantity: f.Quantity, Commission: f.Commission})
	}
	return fills, nil
}

// OpenOrders returns every working order on the account.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders?status=working", nil)
	if err != nil {
		return nil, fmt.Errorf("ibrest: open orders: %w", err)
	}

	var resp openOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ibrest: decode open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		contract, err := ParseSymbol(o.Symbol)
		if err != nil {
			// Non-option working orders (stock, futures) are not conflicts.
			continue
		}
		side := domain.LegSideBuy
		if strings.EqualFold(o.Side, "SELL") {
			side = domain.LegSideSell
		}
		orders = append(orders, domain.OpenOrder{
			Contract: contract,
			Side:     side,
			Handle:   o.OrderID,
			Status:   o.Status,
		})
	}
	return orders, nil
}

// OpenPositions returns every open position on the account.
func (c *Client) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	body, err := c.do(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("ibrest: open positions: %w", err)
	}

	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ibrest: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		contract, err := ParseSymbol(p.Symbol)
		if err != nil {
			continue
		}
		positions = append(positions, domain.Position{Contract: contract, Quantity: p.Quantity})
	}
	return positions, nil
}

// ParseSymbol parses a contract key of the form "VIX-20260917-21P" back into
// an OptionContract.
func ParseSymbol(symbol string) (domain.OptionContract, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 3 {
		return domain.OptionContract{}, fmt.Errorf("ibrest: malformed option symbol %q", symbol)
	}

	exp, err := time.ParseInLocation("20060102", parts[1], time.UTC)
	if err != nil {
		return domain.OptionContract{}, fmt.Errorf("ibrest: symbol %q: bad expiration: %w", symbol, err)
	}

	tail := parts[2]
	if len(tail) < 2 {
		return domain.OptionContract{}, fmt.Errorf("ibrest: malformed option symbol %q", symbol)
	}
	right := domain.OptionRight(tail[len(tail)-1:])
	if right != domain.RightPut && right != domain.RightCall {
		return domain.OptionContract{}, fmt.Errorf("ibrest: symbol %q: unknown right %q", symbol, right)
	}
	strike, err := strconv.ParseFloat(tail[:len(tail)-1], 64)
	if err != nil {
		return domain.OptionContract{}, fmt.Errorf("ibrest: symbol %q: bad strike: %w", symbol, err)
	}

	return domain.OptionContract{
		Underlying: parts[0],
		Expiration: exp,
		Strike:     strike,
		Right:      right,
	}, nil
}

// do executes one HTTP request against the gateway, returning the response
// body. Transport-level failures wrap domain.ErrGatewayUnavailable so callers
// can distinguish connectivity loss from API rejections.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, domain.ErrGatewayUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusServiceUnavailable {
			return nil, fmt.Errorf("%s %s: status %d: %s: %w", method, path, resp.StatusCode, truncate(body, 256), domain.ErrGatewayUnavailable)
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 256))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ gateway.Gateway = (*Client)(nil)
