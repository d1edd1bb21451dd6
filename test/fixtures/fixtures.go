package fixtures

import (
	"time"

	"github.com/orbitpay/payment-gateway/internal/model"
)

var (
	TestCustomerAlice = model.CustomerInput{
		Email:     "alice@example.com",
		FirstName: "Alice",
		LastName:  "Nguyen",
		Phone:     "+14155550101",
	}

	TestCustomerBob = model.CustomerInput{
		Email:     "bob@example.com",
		FirstName: "Bob",
		LastName:  "Diaz",
	}
)

func NewCardMethod() *model.PaymentMethodInput {
	return &model.PaymentMethodInput{
		Type:  model.MethodCard,
		Token: "tok_visa_4242",
	}
}

func NewBankMethod() *model.PaymentMethodInput {
	return &model.PaymentMethodInput{
		Type:  model.MethodBankAccount,
		Token: "tok_bank_0001",
	}
}

func NewWalletMethod() *model.PaymentMethodInput {
	return &model.PaymentMethodInput{
		Type:  model.MethodWallet,
		Token: "tok_wallet_0001",
	}
}

func NewCreatePaymentRequest(amount int64) model.CreatePaymentRequest {
	return model.CreatePaymentRequest{
		Amount:        amount,
		Currency:      "USD",
		PaymentMethod: NewCardMethod(),
		Description:   "Test payment",
	}
}

func NewCreatePaymentRequestWithCustomer(amount int64, customer model.CustomerInput) model.CreatePaymentRequest {
	req := NewCreatePaymentRequest(amount)
	req.Customer = &customer
	return req
}

func CreatePaymentRequestInvalidAmount() model.CreatePaymentRequest {
	req := NewCreatePaymentRequest(0)
	return req
}

func CreatePaymentRequestMissingMethod() model.CreatePaymentRequest {
	req := NewCreatePaymentRequest(100_00)
	req.PaymentMethod = nil
	return req
}

func NewTransaction(id, merchantID string, amount int64, status model.TransactionStatus) *model.Transaction {
	return &model.Transaction{
		ID:         id,
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   "USD",
		Status:     status,
		Type:       model.TypePayment,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func NewRefund(id string, original *model.Transaction, amount int64) *model.Transaction {
	return &model.Transaction{
		ID:          id,
		MerchantID:  original.MerchantID,
		Amount:      -amount,
		Currency:    original.Currency,
		Status:      model.StatusCaptured,
		Type:        model.TypeRefund,
		ReferenceID: original.ID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

var ValidCurrencies = []string{"USD", "EUR", "GBP", "JPY", "CAD"}

var InvalidCurrencies = []string{"", "US", "DOLLARS"}

func FilterByStatus(merchantID string, statuses ...model.TransactionStatus) model.TransactionFilter {
	return model.TransactionFilter{
		MerchantID: merchantID,
		Statuses:   statuses,
		Limit:      50,
	}
}

func FilterByTimeRange(merchantID string, from, to time.Time) model.TransactionFilter {
	return model.TransactionFilter{
		MerchantID: merchantID,
		From:       &from,
		To:         &to,
		Limit:      50,
	}
}
