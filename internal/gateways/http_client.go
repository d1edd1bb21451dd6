package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

// HTTPClient talks to the processor over HTTP. Retries are safe because
// every request carries an Idempotency-Key header the processor dedupes
// on: a retried call replays the stored outcome instead of moving funds
// twice.
type HTTPClient struct {
	config *Config
	client *fasthttp.Client
}

func NewHTTPClient(config *Config) (*HTTPClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("processor base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 200 * time.Millisecond
	}

	c := &HTTPClient{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
	}

	logger.Info("processor client initialized", "base_url", config.BaseURL, "timeout", config.Timeout)

	return c, nil
}

func (c *HTTPClient) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	var resp AuthorizeResponse
	if err := c.call(ctx, "POST", "/api/v1/payments/authorize", req.IdempotencyKey, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Capture(ctx context.Context, gatewayTxnID string, amount int64, idempotencyKey string) (*CaptureResponse, error) {
	body := map[string]interface{}{"amount": amount}
	path := fmt.Sprintf("/api/v1/payments/%s/capture", gatewayTxnID)

	var resp CaptureResponse
	if err := c.call(ctx, "POST", path, idempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Refund(ctx context.Context, gatewayTxnID string, amount int64, idempotencyKey string) (*RefundResponse, error) {
	body := map[string]interface{}{"amount": amount}
	path := fmt.Sprintf("/api/v1/payments/%s/refund", gatewayTxnID)

	var resp RefundResponse
	if err := c.call(ctx, "POST", path, idempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Void(ctx context.Context, gatewayTxnID string, idempotencyKey string) (*VoidResponse, error) {
	path := fmt.Sprintf("/api/v1/payments/%s/void", gatewayTxnID)

	var resp VoidResponse
	if err := c.call(ctx, "POST", path, idempotencyKey, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rates fetches the processor's currency table.
func (c *HTTPClient) Rates(ctx context.Context) (*RatesResponse, error) {
	var resp RatesResponse
	if err := c.call(ctx, "GET", "/api/v1/rates", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConvertCurrency converts a minor-unit amount between two currencies
// the processor quotes, rounding to the nearest minor unit.
func (c *HTTPClient) ConvertCurrency(ctx context.Context, amount int64, from, to string) (int64, error) {
	rates, err := c.Rates(ctx)
	if err != nil {
		return 0, err
	}

	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	fromRate, ok := rates.Rates[from]
	if !ok || fromRate == 0 {
		return 0, &Error{Code: "unsupported_currency", Message: "no rate for " + from}
	}
	toRate, ok := rates.Rates[to]
	if !ok {
		return 0, &Error{Code: "unsupported_currency", Message: "no rate for " + to}
	}

	return int64(math.Round(float64(amount) / fromRate * toRate)), nil
}

// call runs the request with retries on transport failures only. A
// decline from the processor is returned immediately as a typed *Error.
func (c *HTTPClient) call(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	var reqBody []byte
	var err error
	if body != nil {
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ErrTimeout
			case <-time.After(c.config.RetryDelay):
			}
		}

		startTime := time.Now()
		response, err := c.doRequest(ctx, method, path, idempotencyKey, reqBody)
		latency := time.Since(startTime).Milliseconds()

		if err != nil {
			var ge *Error
			if errors.As(err, &ge) && !ge.Retryable {
				return err
			}
			logger.Warn("processor request failed, retrying", "error", err, "path", path, "attempt", attempt+1)
			lastErr = err
			continue
		}

		if out != nil {
			if err := json.Unmarshal(response, out); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}

		logger.Debug("processor request ok", "path", path, "latency_ms", latency)
		return nil
	}

	if isTimeout(lastErr) {
		return ErrTimeout
	}
	return fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path, idempotencyKey string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated && statusCode != fasthttp.StatusAccepted {
		return nil, decodeError(statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}

// decodeError maps an HTTP failure to a typed gateway error. 4xx means
// the processor made a decision (decline); 5xx is transient.
func decodeError(statusCode int, body []byte) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	if payload.Code == "" {
		payload.Code = fmt.Sprintf("http_%d", statusCode)
	}
	if payload.Message == "" {
		payload.Message = string(body)
	}

	return &Error{
		Code:      payload.Code,
		Message:   payload.Message,
		Retryable: statusCode >= 500,
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}
