package model

import (
	"errors"
	"time"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusAuthorized TransactionStatus = "authorized"
	StatusCaptured   TransactionStatus = "captured"
	StatusFailed     TransactionStatus = "failed"
	StatusRefunded   TransactionStatus = "refunded"
	StatusCancelled  TransactionStatus = "cancelled"
)

// TransactionType distinguishes money-in from money-out rows.
type TransactionType string

const (
	TypePayment    TransactionType = "payment"
	TypeRefund     TransactionType = "refund"
	TypeChargeback TransactionType = "chargeback"
)

// Transaction is the unit of work. Amounts are signed minor units
// (cents); refund rows carry the negated refunded amount. Status must
// only change through the state machine in state_machine.go.
type Transaction struct {
	ID                   string             `json:"id"`
	MerchantID           string             `json:"merchant_id"`
	CustomerID           *string            `json:"customer_id,omitempty"`
	PaymentMethodID      *string            `json:"payment_method_id,omitempty"`
	Amount               int64              `json:"amount"`
	Currency             string             `json:"currency"`
	Status               TransactionStatus  `json:"status"`
	Type                 TransactionType    `json:"type"`
	GatewayTransactionID string             `json:"gateway_transaction_id,omitempty"`
	ReferenceID          string             `json:"reference_id,omitempty"`
	Description          string             `json:"description,omitempty"`
	Metadata             map[string]string  `json:"metadata,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	Events               []TransactionEvent `json:"events,omitempty"`
	Customer             *Customer          `json:"customer,omitempty"`
	PaymentMethod        *PaymentMethod     `json:"payment_method,omitempty"`
}

// TransactionEvent is an append-only audit record. One row per accepted
// state transition, written in the same atomic unit as the status change.
type TransactionEvent struct {
	ID              string            `json:"id"`
	TransactionID   string            `json:"transaction_id"`
	EventType       string            `json:"event_type"` // "transaction.<status>"
	Status          TransactionStatus `json:"status"`
	GatewayResponse map[string]string `json:"gateway_response,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

var (
	ErrAmountNotPositive    = errors.New("amount must be a positive minor-unit value")
	ErrInvalidCurrency      = errors.New("currency must be a 3-letter code")
	ErrMissingMethod        = errors.New("payment method is required")
	ErrMissingToken         = errors.New("payment method token is required")
	ErrInvalidMethodType    = errors.New("payment method type must be card, bank_account or wallet")
	ErrMissingTransactionID = errors.New("transaction id is required")
	ErrAmountNegative       = errors.New("amount must not be negative")
)

// CreatePaymentRequest is the validated input for creating a payment.
type CreatePaymentRequest struct {
	Amount        int64
	Currency      string
	PaymentMethod *PaymentMethodInput
	Customer      *CustomerInput
	Description   string
	Metadata      map[string]string
	ReferenceID   string
}

func (p CreatePaymentRequest) Validate() error {
	if p.Amount <= 0 {
		return ErrAmountNotPositive
	}
	if len(p.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if p.PaymentMethod == nil {
		return ErrMissingMethod
	}
	if err := p.PaymentMethod.Validate(); err != nil {
		return err
	}
	if p.Customer != nil {
		return p.Customer.Validate()
	}
	return nil
}

type CapturePaymentRequest struct {
	TransactionID string
	Amount        int64 // 0 means capture the full authorized amount
}

func (p CapturePaymentRequest) Validate() error {
	if p.TransactionID == "" {
		return ErrMissingTransactionID
	}
	if p.Amount < 0 {
		return ErrAmountNegative
	}
	return nil
}

type RefundPaymentRequest struct {
	TransactionID string
	Amount        int64 // 0 means refund the full captured amount
	Reason        string
}

func (p RefundPaymentRequest) Validate() error {
	if p.TransactionID == "" {
		return ErrMissingTransactionID
	}
	if p.Amount < 0 {
		return ErrAmountNegative
	}
	return nil
}

// TransactionFilter controls List queries. Every list is merchant-scoped.
type TransactionFilter struct {
	MerchantID string
	Statuses   []TransactionStatus
	Type       *TransactionType
	From       *time.Time
	To         *time.Time
	Limit      int // default and cap 100
	Offset     int
}
