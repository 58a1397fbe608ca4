package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	MainnetBaseURL = "https://fapi.binance.com"
	TestnetBaseURL = "https://testnet.binancefuture.com"

	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// Sentinel errors for exchange failures callers branch on.
var (
	ErrTimestampDrift = errors.New("binance: timestamp outside recvWindow")
	ErrRateLimited    = errors.New("binance: rate limited")
)

// Client is the REST client for the Binance USDT-margined futures API.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a futures REST client.
func NewClient(apiKey, secretKey, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = MainnetBaseURL
	}
	return &Client{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With().Str("component", "binance_client").Logger(),
	}
}

// GetBalance returns the total wallet balance in USDT.
func (c *Client) GetBalance() (float64, error) {
	resp, err := c.signedGet("/fapi/v2/account", map[string]string{})
	if err != nil {
		return 0, fmt.Errorf("error fetching account: %w", err)
	}

	var account AccountBalance
	if err := json.Unmarshal(resp, &account); err != nil {
		return 0, fmt.Errorf("error parsing account response: %w", err)
	}

	return account.TotalWalletBalance, nil
}

// GetOpenPositions returns positions with a non-zero amount.
func (c *Client) GetOpenPositions() ([]ExchangePosition, error) {
	resp, err := c.signedGet("/fapi/v2/positionRisk", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var all []ExchangePosition
	if err := json.Unmarshal(resp, &all); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}

	open := make([]ExchangePosition, 0, len(all))
	for _, p := range all {
		if p.PositionAmt != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// GetKlines fetches up to limit candlesticks for symbol at the given interval.
func (c *Client) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}

	resp, err := c.publicGet("/fapi/v1/klines", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var raw [][]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  int64(toFloat(k[0])),
			Open:      parseFloat(k[1]),
			High:      parseFloat(k[2]),
			Low:       parseFloat(k[3]),
			Close:     parseFloat(k[4]),
			Volume:    parseFloat(k[5]),
			CloseTime: int64(toFloat(k[6])),
			IsClosed:  true,
		})
	}
	// The last candle from the REST endpoint is still forming.
	if len(klines) > 0 {
		klines[len(klines)-1].IsClosed = false
	}

	return klines, nil
}

// GetLastPrice returns the latest trade price for symbol.
func (c *Client) GetLastPrice(symbol string) (float64, error) {
	resp, err := c.publicGet("/fapi/v1/ticker/price", map[string]string{"symbol": symbol})
	if err != nil {
		return 0, fmt.Errorf("error fetching ticker price: %w", err)
	}

	var ticker tickerPriceResponse
	if err := json.Unmarshal(resp, &ticker); err != nil {
		return 0, fmt.Errorf("error parsing ticker price: %w", err)
	}
	return ticker.Price, nil
}

// GetMarkPrice returns the current mark price for symbol.
func (c *Client) GetMarkPrice(symbol string) (float64, error) {
	resp, err := c.publicGet("/fapi/v1/premiumIndex", map[string]string{"symbol": symbol})
	if err != nil {
		return 0, fmt.Errorf("error fetching mark price: %w", err)
	}

	var mark markPriceResponse
	if err := json.Unmarshal(resp, &mark); err != nil {
		return 0, fmt.Errorf("error parsing mark price: %w", err)
	}
	return mark.MarkPrice, nil
}

// PlaceOrder places a new futures order.
func (c *Client) PlaceOrder(params OrderParams) (*OrderResponse, error) {
	reqParams := map[string]string{
		"symbol": params.Symbol,
		"side":   string(params.Side),
		"type":   string(params.Type),
	}

	if params.Quantity > 0 && !params.ClosePosition {
		reqParams["quantity"] = strconv.FormatFloat(params.Quantity, 'f', -1, 64)
	}
	if params.StopPrice > 0 {
		reqParams["stopPrice"] = strconv.FormatFloat(params.StopPrice, 'f', -1, 64)
	}
	if params.ClosePosition {
		reqParams["closePosition"] = "true"
	}
	if params.ReduceOnly {
		reqParams["reduceOnly"] = "true"
	}
	if params.ClientOrderID != "" {
		reqParams["newClientOrderId"] = params.ClientOrderID
	}

	resp, err := c.signedPost("/fapi/v1/order", reqParams)
	if err != nil {
		return nil, fmt.Errorf("error placing %s %s order for %s: %w",
			params.Side, params.Type, params.Symbol, err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	return &orderResp, nil
}

// CancelAllOrders cancels every open order for a symbol.
func (c *Client) CancelAllOrders(symbol string) error {
	params := map[string]string{"symbol": symbol}

	_, err := c.signedDelete("/fapi/v1/allOpenOrders", params)
	if err != nil {
		return fmt.Errorf("error canceling orders for %s: %w", symbol, err)
	}
	return nil
}

// SetLeverage sets the initial leverage for a symbol.
func (c *Client) SetLeverage(symbol string, leverage int) error {
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}

	_, err := c.signedPost("/fapi/v1/leverage", params)
	if err != nil {
		return fmt.Errorf("error setting leverage for %s: %w", symbol, err)
	}
	return nil
}

// SetMarginType sets CROSSED or ISOLATED margin for a symbol. Binance returns
// -4046 when the margin type is already set; that is not an error here.
func (c *Client) SetMarginType(symbol string, marginType string) error {
	params := map[string]string{
		"symbol":     symbol,
		"marginType": marginType,
	}

	_, err := c.signedPost("/fapi/v1/marginType", params)
	if err != nil {
		if strings.Contains(err.Error(), "-4046") {
			return nil
		}
		return fmt.Errorf("error setting margin type for %s: %w", symbol, err)
	}
	return nil
}

// ==================== request plumbing ====================

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) buildQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

func (c *Client) signParams(params map[string]string) string {
	query := c.buildQueryString(params)
	return query + "&signature=" + c.sign(query)
}

func (c *Client) publicGet(endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}

		reqURL := c.baseURL + endpoint
		if len(values) > 0 {
			reqURL += "?" + values.Encode()
		}

		body, retryable, err := c.do("GET", reqURL, "")
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == maxRetries {
			break
		}

		delay := calculateRetryDelay(attempt)
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Err(err).
			Msg("public request failed, retrying")
		time.Sleep(delay)
	}

	return nil, lastErr
}

func (c *Client) signedRequest(method, endpoint string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = map[string]string{}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Timestamp is refreshed per attempt; recvWindow tolerates clock skew.
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = "10000"
		reqURL := c.baseURL + endpoint + "?" + c.signParams(params)

		body, retryable, err := c.do(method, reqURL, c.apiKey)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == maxRetries {
			break
		}

		delay := calculateRetryDelay(attempt)
		c.logger.Warn().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Err(err).
			Msg("signed request failed, retrying")
		time.Sleep(delay)
	}

	return nil, lastErr
}

func (c *Client) signedGet(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest("GET", endpoint, params)
}

func (c *Client) signedPost(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest("POST", endpoint, params)
}

func (c *Client) signedDelete(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest("DELETE", endpoint, params)
}

// do executes one HTTP request and classifies the failure: the bool reports
// whether the caller should retry.
func (c *Client) do(method, reqURL, apiKey string) ([]byte, bool, error) {
	req, err := http.NewRequest(method, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	if apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode == http.StatusOK {
		return body, false, nil
	}

	apiErr := classifyAPIError(resp.StatusCode, body)
	return nil, isRetryableError(resp.StatusCode, string(body)), apiErr
}

func classifyAPIError(statusCode int, rawBody []byte) error {
	body := string(rawBody)
	switch {
	case strings.Contains(body, "-1021"):
		return fmt.Errorf("%w: %s", ErrTimestampDrift, body)
	case statusCode == http.StatusTooManyRequests || statusCode == 418 || strings.Contains(body, "-1003"):
		return fmt.Errorf("%w: %s", ErrRateLimited, body)
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, body)
	}
}

func isRetryableError(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	// Transient Binance error codes.
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") || // TOO_MANY_REQUESTS
		strings.Contains(body, "-1021") { // timestamp outside recvWindow
		return true
	}
	return false
}

// calculateRetryDelay returns delay with exponential backoff and jitter.
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

func parseFloat(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return toFloat(v)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
