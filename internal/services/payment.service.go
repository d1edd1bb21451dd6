package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitpay/payment-gateway/internal/events"
	"github.com/orbitpay/payment-gateway/internal/fraud"
	"github.com/orbitpay/payment-gateway/internal/gateways"
	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/internal/repository"
	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/orbitpay/payment-gateway/pkg/prom"
)

var (
	// ErrNotFound is returned when a transaction does not exist or belongs
	// to another merchant.
	ErrNotFound = errors.New("transaction not found")
	// ErrFraudBlocked is returned when fraud screening blocks a payment.
	// The transaction is persisted in status failed before this is returned.
	ErrFraudBlocked = errors.New("payment blocked by fraud screening")
	// ErrGateway wraps authorization, capture, refund and void failures
	// reported by the payment gateway, including timeouts.
	ErrGateway = errors.New("payment gateway error")
	// ErrConcurrencyConflict is returned when a concurrent update won the
	// race for the same transaction row. Callers should re-fetch and retry.
	ErrConcurrencyConflict = errors.New("transaction was modified concurrently")
	// ErrRefundExceedsCaptured is returned when a refund would push the
	// cumulative refunded amount past the captured amount.
	ErrRefundExceedsCaptured = errors.New("refund amount exceeds remaining captured amount")
	// ErrCaptureExceedsAuthorized is returned for partial captures above
	// the authorized amount.
	ErrCaptureExceedsAuthorized = errors.New("capture amount exceeds authorized amount")
)

// TransactionRepository is the persistence surface the payment service needs.
type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	FindByID(ctx context.Context, id, merchantID string) (*model.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id, merchantID string) (*model.Transaction, error)
	FindDetailed(ctx context.Context, id, merchantID string) (*model.Transaction, error)
	List(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, int64, error)
	UpdateStatus(ctx context.Context, id string, from, to model.TransactionStatus, gatewayTxnID string, gatewayResponse map[string]string) error
	UpdateAmount(ctx context.Context, id string, amount int64) error
	SumRefunded(ctx context.Context, referenceID string) (int64, error)
	CountRefunds(ctx context.Context, referenceID string) (int64, error)
}

type CustomerRepository interface {
	FindOrCreateByEmail(ctx context.Context, input *model.CustomerInput) (*model.Customer, error)
}

type PaymentMethodRepository interface {
	Create(ctx context.Context, input *model.PaymentMethodInput, customerID string) (*model.PaymentMethod, error)
}

// Ledger runs fn inside a single database transaction. *pg.DB satisfies it.
type Ledger interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type PaymentServiceConfig struct {
	GatewayTimeout time.Duration
	FraudTimeout   time.Duration
}

// PaymentService orchestrates the payment lifecycle: it validates requests,
// runs fraud screening, talks to the external gateway and records every
// accepted state transition together with its event row in one database
// transaction. All money amounts are integer minor units.
type PaymentService struct {
	transactions TransactionRepository
	customers    CustomerRepository
	methods      PaymentMethodRepository
	ledger       Ledger
	fraudGate    fraud.Gate
	gateway      gateways.Client
	publisher    events.Publisher
	config       PaymentServiceConfig
}

func NewPaymentService(
	transactions TransactionRepository,
	customers CustomerRepository,
	methods PaymentMethodRepository,
	ledger Ledger,
	fraudGate fraud.Gate,
	gateway gateways.Client,
	publisher events.Publisher,
	config PaymentServiceConfig,
) *PaymentService {
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = 10 * time.Second
	}
	if config.FraudTimeout <= 0 {
		config.FraudTimeout = 3 * time.Second
	}
	return &PaymentService{
		transactions: transactions,
		customers:    customers,
		methods:      methods,
		ledger:       ledger,
		fraudGate:    fraudGate,
		gateway:      gateway,
		publisher:    publisher,
		config:       config,
	}
}

// CreatePayment persists a pending transaction, screens it for fraud and
// authorizes it at the gateway. The pending row is durable before any
// external call is made, so an operator can always see what was attempted.
func (s *PaymentService) CreatePayment(ctx context.Context, merchantID string, req *model.CreatePaymentRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		MerchantID:  merchantID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      model.StatusPending,
		Type:        model.TypePayment,
		Description: req.Description,
		Metadata:    req.Metadata,
	}

	customerID := ""
	if req.Customer != nil {
		customer, err := s.customers.FindOrCreateByEmail(ctx, req.Customer)
		if err != nil {
			return nil, fmt.Errorf("resolve customer: %w", err)
		}
		txn.CustomerID = &customer.ID
		customerID = customer.ID
	}
	// Tokens are single-use, so the method row is created fresh per
	// payment even when no customer was supplied.
	method, err := s.methods.Create(ctx, req.PaymentMethod, customerID)
	if err != nil {
		return nil, fmt.Errorf("store payment method: %w", err)
	}
	txn.PaymentMethodID = &method.ID

	txn, err = s.transactions.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	verdict, err := s.screen(ctx, txn)
	if err != nil {
		s.markFailed(ctx, txn.ID, map[string]string{"error": "fraud screening unavailable"})
		return nil, fmt.Errorf("fraud screening: %w", err)
	}
	if verdict.Action == fraud.ActionBlock {
		s.markFailed(ctx, txn.ID, map[string]string{
			"reason":      verdict.Reason,
			"fraud_score": fmt.Sprintf("%d", verdict.Score),
		})
		prom.IncTransaction("authorize", "blocked")
		return nil, fmt.Errorf("%w: %s", ErrFraudBlocked, verdict.Reason)
	}

	resp, err := s.authorize(ctx, txn, req)
	if err != nil {
		s.markFailed(ctx, txn.ID, map[string]string{"error": err.Error()})
		prom.IncTransaction("authorize", "failed")
		return nil, gatewayFailure(err)
	}

	err = s.ledger.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.transactions.UpdateStatus(ctx, txn.ID, model.StatusPending, model.StatusAuthorized, resp.TransactionID, map[string]string{
			"gateway_status":         resp.Status,
			"gateway_transaction_id": resp.TransactionID,
			"processing_fee":         fmt.Sprintf("%d", resp.ProcessingFee),
			"gateway_fee":            fmt.Sprintf("%d", resp.GatewayFee),
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrConcurrentUpdate) {
			// The row moved while we were authorizing, e.g. a cancel raced
			// in. Release the hold; the processor dedupes on the void key.
			s.voidAuthorization(ctx, txn.ID, resp.TransactionID)
		}
		return nil, s.mapRepoError(err)
	}

	prom.IncTransaction("authorize", "success")
	s.emit(ctx, events.EventPaymentAuthorized, map[string]interface{}{
		"transaction_id": txn.ID,
		"merchant_id":    merchantID,
		"amount":         txn.Amount,
		"currency":       txn.Currency,
	})
	return s.transactions.FindDetailed(ctx, txn.ID, merchantID)
}

// CapturePayment captures an authorized payment. A zero amount captures the
// full authorized amount. The row lock is held across the gateway call so
// two concurrent captures cannot both observe status authorized.
func (s *PaymentService) CapturePayment(ctx context.Context, merchantID string, req *model.CapturePaymentRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	err := s.ledger.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.FindByIDForUpdate(ctx, req.TransactionID, merchantID)
		if err != nil {
			return s.mapRepoError(err)
		}
		if txn.Status != model.StatusAuthorized {
			return &model.InvalidTransitionError{
				From: txn.Status,
				To:   model.StatusCaptured,
				Hint: "only authorized payments can be captured",
			}
		}
		amount := req.Amount
		if amount == 0 {
			amount = txn.Amount
		}
		if amount > txn.Amount {
			return fmt.Errorf("%w: %d > %d", ErrCaptureExceedsAuthorized, amount, txn.Amount)
		}

		resp, err := s.capture(ctx, txn, amount)
		if err != nil {
			// The row stays authorized, the caller may retry.
			return gatewayFailure(err)
		}
		if amount != txn.Amount {
			if err := s.transactions.UpdateAmount(ctx, txn.ID, amount); err != nil {
				return s.mapRepoError(err)
			}
		}
		return s.mapRepoError(s.transactions.UpdateStatus(ctx, txn.ID, model.StatusAuthorized, model.StatusCaptured, "", map[string]string{
			"gateway_status":  resp.Status,
			"captured_amount": fmt.Sprintf("%d", resp.Amount),
		}))
	})
	if err != nil {
		return nil, err
	}

	prom.IncTransaction("capture", "success")
	s.emit(ctx, events.EventPaymentCaptured, map[string]interface{}{
		"transaction_id": req.TransactionID,
		"merchant_id":    merchantID,
	})
	return s.transactions.FindDetailed(ctx, req.TransactionID, merchantID)
}

// RefundPayment refunds part or all of a captured payment. The refund is a
// new transaction row with a negative amount referencing the original; the
// original row's amount is never rewritten. Cumulative refunds cannot exceed
// the captured amount, and a refund that reaches it moves the original to
// status refunded.
func (s *PaymentService) RefundPayment(ctx context.Context, merchantID string, req *model.RefundPaymentRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var refund *model.Transaction
	err := s.ledger.WithinTransaction(ctx, func(ctx context.Context) error {
		original, err := s.transactions.FindByIDForUpdate(ctx, req.TransactionID, merchantID)
		if err != nil {
			return s.mapRepoError(err)
		}
		if original.Status != model.StatusCaptured {
			return &model.InvalidTransitionError{
				From: original.Status,
				To:   model.StatusRefunded,
				Hint: "only captured payments can be refunded",
			}
		}

		refunded, err := s.transactions.SumRefunded(ctx, original.ID)
		if err != nil {
			return s.mapRepoError(err)
		}
		amount := req.Amount
		if amount == 0 {
			amount = original.Amount - refunded
		}
		if refunded+amount > original.Amount {
			return fmt.Errorf("%w: %d already refunded of %d", ErrRefundExceedsCaptured, refunded, original.Amount)
		}

		seq, err := s.transactions.CountRefunds(ctx, original.ID)
		if err != nil {
			return s.mapRepoError(err)
		}
		resp, err := s.refundAtGateway(ctx, original, amount, seq+1)
		if err != nil {
			return gatewayFailure(err)
		}

		description := req.Reason
		if description == "" {
			description = "Refund for transaction " + original.ID
		}
		refund = &model.Transaction{
			MerchantID:           merchantID,
			CustomerID:           original.CustomerID,
			PaymentMethodID:      original.PaymentMethodID,
			Amount:               -amount,
			Currency:             original.Currency,
			Status:               model.StatusCaptured,
			Type:                 model.TypeRefund,
			GatewayTransactionID: resp.RefundID,
			ReferenceID:          original.ID,
			Description:          description,
		}
		refund, err = s.transactions.Create(ctx, refund)
		if err != nil {
			return s.mapRepoError(err)
		}

		if refunded+amount == original.Amount {
			return s.mapRepoError(s.transactions.UpdateStatus(ctx, original.ID, model.StatusCaptured, model.StatusRefunded, "", map[string]string{
				"refund_id":       refund.ID,
				"refunded_amount": fmt.Sprintf("%d", refunded+amount),
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prom.IncTransaction("refund", "success")
	s.emit(ctx, events.EventPaymentRefunded, map[string]interface{}{
		"transaction_id": refund.ID,
		"reference_id":   req.TransactionID,
		"merchant_id":    merchantID,
		"amount":         refund.Amount,
	})
	return s.transactions.FindDetailed(ctx, refund.ID, merchantID)
}

// CancelPayment voids a pending or authorized payment. Captured payments
// cannot be cancelled, money that moved has to come back as a refund.
func (s *PaymentService) CancelPayment(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	err := s.ledger.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.FindByIDForUpdate(ctx, id, merchantID)
		if err != nil {
			return s.mapRepoError(err)
		}
		if txn.Status != model.StatusPending && txn.Status != model.StatusAuthorized {
			return &model.InvalidTransitionError{
				From: txn.Status,
				To:   model.StatusCancelled,
				Hint: "only pending or authorized payments can be cancelled",
			}
		}
		response := map[string]string{"reason": "cancelled by merchant"}
		if txn.Status == model.StatusAuthorized && txn.GatewayTransactionID != "" {
			callCtx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
			defer cancel()
			resp, err := s.gateway.Void(callCtx, txn.GatewayTransactionID, txn.ID+":void")
			if err != nil {
				return gatewayFailure(err)
			}
			response["gateway_status"] = resp.Status
		}
		return s.mapRepoError(s.transactions.UpdateStatus(ctx, txn.ID, txn.Status, model.StatusCancelled, "", response))
	})
	if err != nil {
		return nil, err
	}

	prom.IncTransaction("cancel", "success")
	s.emit(ctx, events.EventPaymentCancelled, map[string]interface{}{
		"transaction_id": id,
		"merchant_id":    merchantID,
	})
	return s.transactions.FindDetailed(ctx, id, merchantID)
}

// GetPayment returns a transaction with its event history, customer and
// payment method. Transactions of other merchants are reported as not found.
func (s *PaymentService) GetPayment(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	txn, err := s.transactions.FindDetailed(ctx, id, merchantID)
	if err != nil {
		return nil, s.mapRepoError(err)
	}
	return txn, nil
}

// ListPayments returns the merchant's transactions, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, merchantID string, filter model.TransactionFilter) ([]*model.Transaction, int64, error) {
	filter.MerchantID = merchantID
	txns, total, err := s.transactions.List(ctx, filter)
	if err != nil {
		return nil, 0, s.mapRepoError(err)
	}
	return txns, total, nil
}

func (s *PaymentService) screen(ctx context.Context, txn *model.Transaction) (fraud.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.FraudTimeout)
	defer cancel()
	return s.fraudGate.Check(ctx, txn)
}

func (s *PaymentService) authorize(ctx context.Context, txn *model.Transaction, req *model.CreatePaymentRequest) (*gateways.AuthorizeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	authReq := &gateways.AuthorizeRequest{
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		IdempotencyKey: txn.ID,
	}
	if req.PaymentMethod != nil {
		authReq.PaymentMethod = *req.PaymentMethod
	}
	if req.Customer != nil {
		authReq.CustomerEmail = req.Customer.Email
	}
	return s.gateway.Authorize(ctx, authReq)
}

func (s *PaymentService) capture(ctx context.Context, txn *model.Transaction, amount int64) (*gateways.CaptureResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	return s.gateway.Capture(ctx, txn.GatewayTransactionID, amount, txn.ID+":capture")
}

func (s *PaymentService) refundAtGateway(ctx context.Context, original *model.Transaction, amount, seq int64) (*gateways.RefundResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	key := fmt.Sprintf("%s:refund:%d", original.ID, seq)
	return s.gateway.Refund(ctx, original.GatewayTransactionID, amount, key)
}

// voidAuthorization releases a gateway hold whose local commit lost a race.
// Failures are logged; the reconciliation sweep picks up leftover holds.
func (s *PaymentService) voidAuthorization(ctx context.Context, txnID, gatewayTxnID string) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	if _, err := s.gateway.Void(callCtx, gatewayTxnID, txnID+":void"); err != nil {
		logger.Error("failed to void orphaned authorization", "transaction_id", txnID, "error", err)
	}
}

// markFailed moves a pending transaction to failed with its own event row.
// Failures here are logged and swallowed, the caller's error is what the
// merchant needs to see.
func (s *PaymentService) markFailed(ctx context.Context, id string, gatewayResponse map[string]string) {
	err := s.ledger.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.transactions.UpdateStatus(ctx, id, model.StatusPending, model.StatusFailed, "", gatewayResponse)
	})
	if err != nil {
		logger.Error("failed to record transaction failure", "transaction_id", id, "error", err)
	}
}

// emit publishes a lifecycle event after the state change committed.
// Delivery is at-least-once via the stream, a publish failure never undoes
// a committed transition.
func (s *PaymentService) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, payload); err != nil {
		logger.Error("failed to publish payment event", "event_type", eventType, "error", err)
	}
}

func (s *PaymentService) mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return ErrConcurrencyConflict
	default:
		return err
	}
}

func gatewayFailure(err error) error {
	var gwErr *gateways.Error
	if errors.As(err, &gwErr) {
		return fmt.Errorf("%w: %s (%s)", ErrGateway, gwErr.Message, gwErr.Code)
	}
	return fmt.Errorf("%w: %v", ErrGateway, err)
}
