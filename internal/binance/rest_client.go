package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ladder-trade-bot-go/internal/config"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds
	OrderSideBuy   = "BUY"
	OrderSideSell  = "SELL"
	TimeInForceGTC = "GTC"
)

// Credentials identify the account an authenticated request is signed for.
type Credentials struct {
	ApiKey    string
	SecretKey string
}

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfoResponse, error)
	CreateOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, creds Credentials, symbol string, orderID int64) (*OrderResponse, error)
}

// RestClient is a client for the Binance REST API.
// One client serves every bot; requests are signed with the caller's credentials.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger.Named("binance"),
		limiter: limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func sign(secret, data string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func signedParams(creds Credentials, params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	return query + "&signature=" + sign(creds.SecretKey, query)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// APIError is the error body Binance returns with non-2xx responses.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Message)
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil && resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else if ctx.Err() == nil { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			if err != nil {
				return nil, err
			}
			if apiErr, ok := resp.Error().(*APIError); ok && apiErr.Code != 0 {
				return nil, fmt.Errorf("request failed with status %s: %w", resp.Status(), apiErr)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if i == maxRetries-1 {
			break
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// We are interested in the LOT_SIZE filter to get the stepSize.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// LotSize returns the LOT_SIZE filter of the symbol, if any.
func (s SymbolInfo) LotSize() (Filter, bool) {
	for _, filter := range s.Filters {
		if filter.FilterType == "LOT_SIZE" {
			return filter, true
		}
	}
	return Filter{}, false
}

// GetExchangeInfo fetches exchange trading rules for one symbol.
func (c *RestClient) GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfoResponse, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&ExchangeInfoResponse{}).
		SetError(&APIError{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// OrderRequest describes a new order.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	Price         string
	ClientOrderID string
}

// Fill is one execution reported with a FULL order response.
type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// OrderResponse represents an order as returned by the order endpoints.
type OrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	UpdateTime          int64  `json:"updateTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Fills               []Fill `json:"fills"`
}

// CreateOrder places a new order on Binance.
func (c *RestClient) CreateOrder(ctx context.Context, creds Credentials, order OrderRequest) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", order.Type)
	params.Set("quantity", order.Quantity)
	params.Set("newOrderRespType", "FULL")
	if order.Type == "LIMIT" {
		params.Set("price", order.Price)
		params.Set("timeInForce", TimeInForceGTC)
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", creds.ApiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(signedParams(creds, params)).
		SetResult(&OrderResponse{}).
		SetError(&APIError{})

	l := c.logger.With(zap.String("symbol", order.Symbol), zap.String("side", order.Side), zap.String("quantity", order.Quantity))

	resp, err := c.doRequest(ctx, http.MethodPost, "/order", req)
	if err != nil {
		l.Error("Failed to create order", zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*OrderResponse)
	l.Info("Successfully created order", zap.Int64("order_id", result.OrderID), zap.String("status", result.Status))
	return result, nil
}

// GetOrder queries the current state of an order.
func (c *RestClient) GetOrder(ctx context.Context, creds Credentials, symbol string, orderID int64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	req := c.client.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", creds.ApiKey).
		SetQueryString(signedParams(creds, params)).
		SetResult(&OrderResponse{}).
		SetError(&APIError{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/order", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	return resp.Result().(*OrderResponse), nil
}
