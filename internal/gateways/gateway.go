package gateways

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitpay/payment-gateway/internal/model"
)

var (
	// ErrTimeout means the call deadline passed with the true outcome
	// unknown. Callers must never treat it as success; a reconciliation
	// sweep resolves unknown-outcome authorizations out of band.
	ErrTimeout = errors.New("payment processor timed out")
)

// Error is a typed failure from the external processor. Declines come
// back with Retryable=false; transport problems with Retryable=true.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// AuthorizeRequest reserves funds without moving them. IdempotencyKey is
// client-generated (the transaction id); the processor must replay the
// stored outcome when the same key is retried.
type AuthorizeRequest struct {
	IdempotencyKey string                   `json:"idempotency_key"`
	Amount         int64                    `json:"amount"`
	Currency       string                   `json:"currency"`
	PaymentMethod  model.PaymentMethodInput `json:"payment_method"`
	CustomerEmail  string                   `json:"customer_email,omitempty"`
}

type AuthorizeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ProcessingFee int64  `json:"processing_fee,omitempty"`
	GatewayFee    int64  `json:"gateway_fee,omitempty"`
}

type CaptureResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type RefundResponse struct {
	TransactionID string `json:"transaction_id"`
	RefundID      string `json:"refund_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type VoidResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// RatesResponse is the processor's currency table, quoted against Base.
type RatesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Client is the orchestrator's view of the external payment processor.
// Every call is idempotent per supplied key and carries a bounded
// timeout; a timeout surfaces as ErrTimeout, never as success.
type Client interface {
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error)
	Capture(ctx context.Context, gatewayTxnID string, amount int64, idempotencyKey string) (*CaptureResponse, error)
	Refund(ctx context.Context, gatewayTxnID string, amount int64, idempotencyKey string) (*RefundResponse, error)
	Void(ctx context.Context, gatewayTxnID string, idempotencyKey string) (*VoidResponse, error)
}

// Config tunes the HTTP client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}
