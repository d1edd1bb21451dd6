package model

import "time"

type PaymentMethodType string

const (
	MethodCard        PaymentMethodType = "card"
	MethodBankAccount PaymentMethodType = "bank_account"
	MethodWallet      PaymentMethodType = "wallet"
)

// PaymentMethod stores an opaque processor token. Tokens are treated as
// single-use caller-supplied references, so a fresh row is created per
// payment request rather than deduped by token.
type PaymentMethod struct {
	ID         string            `json:"id"`
	Type       PaymentMethodType `json:"type"`
	Token      string            `json:"token"`
	CustomerID *string           `json:"customer_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type PaymentMethodInput struct {
	Type  PaymentMethodType `json:"type"`
	Token string            `json:"token"`
}

func (p PaymentMethodInput) Validate() error {
	switch p.Type {
	case MethodCard, MethodBankAccount, MethodWallet:
	default:
		return ErrInvalidMethodType
	}
	if p.Token == "" {
		return ErrMissingToken
	}
	return nil
}
