// Package woox is the REST client for the WOO X exchange. It covers the public
// market-data endpoints used by the feed and the signed v3 endpoints used by
// live order execution and position sync. Every non-success response is
// classified into a *domain.ExchangeError.
package woox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/wooxbot/internal/crypto"
	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// DefaultBaseURL is the production REST root.
const DefaultBaseURL = "https://api.woox.io"

// DefaultTimeout is the per-request budget.
const DefaultTimeout = 10 * time.Second

const sharedLimitKey = "woox:rest"

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Auth              *crypto.HMACAuth
	// Shared, when set, is a process-external budget every request also
	// waits on, so several bots behind one API key share its rate limit.
	Shared domain.RateLimiter
}

// Client is the WOO X REST client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	shared     domain.RateLimiter
	auth       *crypto.HMACAuth
	now        func() time.Time
}

// NewClient creates a new WOO X REST client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		shared:     cfg.Shared,
		auth:       cfg.Auth,
		now:        time.Now,
	}
}

// HasCredentials reports whether signed endpoints can be called.
func (c *Client) HasCredentials() bool {
	return c.auth != nil && c.auth.Key != "" && c.auth.Secret != ""
}

// GetOrderBook fetches up to maxLevels levels per side.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, maxLevels int) (domain.OrderBookSnapshot, error) {
	if maxLevels <= 0 || maxLevels > domain.MaxBookLevels {
		maxLevels = domain.MaxBookLevels
	}
	q := url.Values{}
	q.Set("max_level", strconv.Itoa(maxLevels))

	var resp APIOrderBook
	if err := c.do(ctx, http.MethodGet, "/v1/public/orderbook/"+symbol, q, nil, false, &resp); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("woox: get orderbook %s: %w", symbol, err)
	}
	return resp.ToDomainSnapshot(maxLevels, c.now().UTC()), nil
}

// GetLastTrade returns the most recent public trade, or ok=false when the
// exchange reports none.
func (c *Client) GetLastTrade(ctx context.Context, symbol string) (APITrade, bool, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", "1")

	var resp apiTrades
	if err := c.do(ctx, http.MethodGet, "/v1/public/market_trades", q, nil, false, &resp); err != nil {
		return APITrade{}, false, fmt.Errorf("woox: get market trades %s: %w", symbol, err)
	}
	if len(resp.Rows) == 0 || resp.Rows[0].ExecutedPrice <= 0 {
		return APITrade{}, false, nil
	}
	return resp.Rows[0], true, nil
}

// GetSymbolInfo fetches the price and quantity rules of a symbol.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolFilter, error) {
	var resp apiSymbolInfo
	if err := c.do(ctx, http.MethodGet, "/v1/public/info/"+symbol, nil, nil, false, &resp); err != nil {
		return domain.SymbolFilter{}, fmt.Errorf("woox: get symbol info %s: %w", symbol, err)
	}
	f := resp.Info.ToDomainFilter()
	if f.Symbol == "" {
		f.Symbol = symbol
	}
	return f, nil
}

// PlaceOrder submits a limit order. Price and quantity are sent as fixed
// precision decimal strings.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (OrderAck, error) {
	body := APIOrderRequest{
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          orderType(order.Type),
		Price:         FormatDecimal(order.Price),
		Quantity:      FormatDecimal(order.Quantity),
		ClientOrderID: order.ClientOrderID,
	}

	var resp apiOrderResponse
	if err := c.do(ctx, http.MethodPost, "/v3/trade/order", nil, body, true, &resp); err != nil {
		return OrderAck{}, fmt.Errorf("woox: place order: %w", err)
	}

	ack := OrderAck{
		OrderID:       resp.Data.OrderID,
		ClientOrderID: resp.Data.ClientOrderID,
		AckedAt:       c.now().UTC(),
	}
	if resp.Timestamp > 0 {
		ack.AckedAt = time.UnixMilli(resp.Timestamp).UTC()
	}
	if ack.ClientOrderID == 0 {
		ack.ClientOrderID = order.ClientOrderID
	}
	return ack, nil
}

// GetBalances returns the token holdings of the account.
func (c *Client) GetBalances(ctx context.Context) ([]APIHolding, error) {
	var resp apiBalances
	if err := c.do(ctx, http.MethodGet, "/v3/balances", nil, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("woox: get balances: %w", err)
	}
	return resp.Data.Holding, nil
}

// GetAccountInfo returns the account summary including total collateral.
func (c *Client) GetAccountInfo(ctx context.Context) (APIAccountInfo, error) {
	var resp apiAccountInfo
	if err := c.do(ctx, http.MethodGet, "/v3/accountinfo", nil, nil, true, &resp); err != nil {
		return APIAccountInfo{}, fmt.Errorf("woox: get account info: %w", err)
	}
	return resp.Data, nil
}

// GetPositions returns the futures positions of the account.
func (c *Client) GetPositions(ctx context.Context) ([]APIPosition, error) {
	var resp apiPositions
	if err := c.do(ctx, http.MethodGet, "/v3/positions", nil, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("woox: get positions: %w", err)
	}
	return resp.Data.Positions, nil
}

func orderType(t string) string {
	if t == "" {
		return "LIMIT"
	}
	return t
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, optionally signs, sends and decodes a request. Transport faults
// become KindNetwork errors; non-success bodies and HTTP statuses go through
// Classify.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return networkError(ctx, err)
		}
	}
	if c.shared != nil {
		if err := c.shared.Wait(ctx, sharedLimitKey); err != nil {
			return networkError(ctx, err)
		}
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if !c.HasCredentials() {
			return &domain.ExchangeError{Kind: domain.KindAuthentication, Message: "api credentials not configured"}
		}
		for k, v := range c.auth.HeadersAt(method, requestPath, string(bodyBytes), c.now().UnixMilli()) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ExchangeError{
			Kind:       domain.KindNetwork,
			HTTPStatus: resp.StatusCode,
			Message:    "read response: " + err.Error(),
			Retryable:  true,
			RetryAfter: RetryDelay(domain.KindNetwork, 1),
			Err:        err,
		}
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)
	if resp.StatusCode != http.StatusOK || decodeErr != nil || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = truncate(string(respBody), 256)
		}
		if decodeErr != nil && resp.StatusCode == http.StatusOK {
			return &domain.ExchangeError{
				Kind:       domain.KindExchange,
				HTTPStatus: resp.StatusCode,
				Message:    "decode response: " + decodeErr.Error(),
				Err:        decodeErr,
			}
		}
		return Classify(env.Code, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// networkError turns a transport fault into a retryable KindNetwork error.
// Cancellation is the caller's choice and passes through; a spent deadline
// is the request budget running out and is reported as a network fault
// wrapping context.DeadlineExceeded.
func networkError(ctx context.Context, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return ctxErr
	case ctxErr != nil:
		err = ctxErr
	}
	return &domain.ExchangeError{
		Kind:       domain.KindNetwork,
		Message:    err.Error(),
		Retryable:  true,
		RetryAfter: RetryDelay(domain.KindNetwork, 1),
		Err:        err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
