package services

import (
	"context"
	"testing"

	"github.com/orbitpay/payment-gateway/internal/events"
	"github.com/orbitpay/payment-gateway/internal/fraud"
	"github.com/orbitpay/payment-gateway/internal/gateways"
	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindByID(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	args := m.Called(ctx, id, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindByIDForUpdate(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	args := m.Called(ctx, id, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindDetailed(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	args := m.Called(ctx, id, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockTransactionRepository) UpdateStatus(ctx context.Context, id string, from, to model.TransactionStatus, gatewayTxnID string, gatewayResponse map[string]string) error {
	args := m.Called(ctx, id, from, to, gatewayTxnID, gatewayResponse)
	return args.Error(0)
}

func (m *MockTransactionRepository) UpdateAmount(ctx context.Context, id string, amount int64) error {
	args := m.Called(ctx, id, amount)
	return args.Error(0)
}

func (m *MockTransactionRepository) SumRefunded(ctx context.Context, referenceID string) (int64, error) {
	args := m.Called(ctx, referenceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) CountRefunds(ctx context.Context, referenceID string) (int64, error) {
	args := m.Called(ctx, referenceID)
	return args.Get(0).(int64), args.Error(1)
}

type MockCustomerRepository struct {
	mock.Mock
}

func (m *MockCustomerRepository) FindOrCreateByEmail(ctx context.Context, input *model.CustomerInput) (*model.Customer, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

type MockPaymentMethodRepository struct {
	mock.Mock
}

func (m *MockPaymentMethodRepository) Create(ctx context.Context, input *model.PaymentMethodInput, customerID string) (*model.PaymentMethod, error) {
	args := m.Called(ctx, input, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentMethod), args.Error(1)
}

// fakeLedger runs the closure directly, standing in for WithinTransaction.
type fakeLedger struct{}

func (fakeLedger) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type MockFraudGate struct {
	mock.Mock
}

func (m *MockFraudGate) Check(ctx context.Context, txn *model.Transaction) (fraud.Result, error) {
	args := m.Called(ctx, txn)
	return args.Get(0).(fraud.Result), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, req *gateways.AuthorizeRequest) (*gateways.AuthorizeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.AuthorizeResponse), args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, gatewayTxnID string, amount int64, idempotencyKey string) (*gateways.CaptureResponse, error) {
	args := m.Called(ctx, gatewayTxnID, amount, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.CaptureResponse), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, gatewayTxnID string, amount int64, idempotencyKey string) (*gateways.RefundResponse, error) {
	args := m.Called(ctx, gatewayTxnID, amount, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.RefundResponse), args.Error(1)
}

func (m *MockGateway) Void(ctx context.Context, gatewayTxnID string, idempotencyKey string) (*gateways.VoidResponse, error) {
	args := m.Called(ctx, gatewayTxnID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.VoidResponse), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload map[string]interface{}) error {
	args := m.Called(ctx, eventType, payload)
	return args.Error(0)
}

type serviceFixture struct {
	txns      *MockTransactionRepository
	customers *MockCustomerRepository
	methods   *MockPaymentMethodRepository
	fraudGate *MockFraudGate
	gateway   *MockGateway
	publisher *MockPublisher
	service   *PaymentService
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		txns:      new(MockTransactionRepository),
		customers: new(MockCustomerRepository),
		methods:   new(MockPaymentMethodRepository),
		fraudGate: new(MockFraudGate),
		gateway:   new(MockGateway),
		publisher: new(MockPublisher),
	}
	f.service = NewPaymentService(
		f.txns, f.customers, f.methods, fakeLedger{},
		f.fraudGate, f.gateway, f.publisher,
		PaymentServiceConfig{},
	)
	return f
}

func allow() fraud.Result {
	return fraud.Result{Action: fraud.ActionAllow, Score: 10}
}

func cardRequest() *model.CreatePaymentRequest {
	return &model.CreatePaymentRequest{
		Amount:   1000_00,
		Currency: "USD",
		PaymentMethod: &model.PaymentMethodInput{
			Type:  model.MethodCard,
			Token: "tok_visa_4242",
		},
		Customer: &model.CustomerInput{
			Email:     "jane@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
		},
		Description: "Order #1001",
	}
}

func TestPaymentService_CreatePayment_Authorized(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := cardRequest()

	customer := &model.Customer{ID: "cus_1", Email: "jane@example.com"}
	f.customers.On("FindOrCreateByEmail", ctx, req.Customer).Return(customer, nil)
	f.methods.On("Create", ctx, req.PaymentMethod, "cus_1").
		Return(&model.PaymentMethod{ID: "pm_1"}, nil)

	created := &model.Transaction{
		ID:         "txn_1",
		MerchantID: "mer_1",
		Amount:     1000_00,
		Currency:   "USD",
		Status:     model.StatusPending,
		Type:       model.TypePayment,
	}
	f.txns.On("Create", ctx, mock.MatchedBy(func(txn *model.Transaction) bool {
		return txn.Status == model.StatusPending && txn.Amount == 1000_00
	})).Return(created, nil)

	f.fraudGate.On("Check", mock.Anything, created).Return(allow(), nil)
	f.gateway.On("Authorize", mock.Anything, mock.MatchedBy(func(r *gateways.AuthorizeRequest) bool {
		return r.IdempotencyKey == "txn_1" && r.Amount == 1000_00 && r.Currency == "USD"
	})).Return(&gateways.AuthorizeResponse{TransactionID: "gw_1", Status: "authorized"}, nil)

	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusPending, model.StatusAuthorized, "gw_1", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentAuthorized, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusAuthorized}, nil)

	result, err := f.service.CreatePayment(ctx, "mer_1", req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAuthorized, result.Status)

	f.txns.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestPaymentService_CreatePayment_FraudBlocked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := cardRequest()

	f.customers.On("FindOrCreateByEmail", ctx, req.Customer).
		Return(&model.Customer{ID: "cus_1"}, nil)
	f.methods.On("Create", ctx, req.PaymentMethod, "cus_1").
		Return(&model.PaymentMethod{ID: "pm_1"}, nil)

	created := &model.Transaction{ID: "txn_1", Status: model.StatusPending, Amount: 1000_00}
	f.txns.On("Create", ctx, mock.Anything).Return(created, nil)
	f.fraudGate.On("Check", mock.Anything, created).
		Return(fraud.Result{Action: fraud.ActionBlock, Score: 95, Reason: "risk score 95 over threshold"}, nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusPending, model.StatusFailed, "", mock.MatchedBy(func(resp map[string]string) bool {
		return resp["fraud_score"] == "95"
	})).Return(nil)

	result, err := f.service.CreatePayment(ctx, "mer_1", req)
	assert.ErrorIs(t, err, ErrFraudBlocked)
	assert.Nil(t, result)

	// A blocked payment never reaches the gateway.
	f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	f.txns.AssertExpectations(t)
}

func TestPaymentService_CreatePayment_GatewayDecline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := cardRequest()

	f.customers.On("FindOrCreateByEmail", ctx, req.Customer).
		Return(&model.Customer{ID: "cus_1"}, nil)
	f.methods.On("Create", ctx, req.PaymentMethod, "cus_1").
		Return(&model.PaymentMethod{ID: "pm_1"}, nil)

	created := &model.Transaction{ID: "txn_1", Status: model.StatusPending, Amount: 1000_00}
	f.txns.On("Create", ctx, mock.Anything).Return(created, nil)
	f.fraudGate.On("Check", mock.Anything, created).Return(allow(), nil)
	f.gateway.On("Authorize", mock.Anything, mock.Anything).
		Return(nil, &gateways.Error{Code: "card_declined", Message: "insufficient funds"})
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusPending, model.StatusFailed, "", mock.Anything).
		Return(nil)

	result, err := f.service.CreatePayment(ctx, "mer_1", req)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Contains(t, err.Error(), "card_declined")
	assert.Nil(t, result)
	f.txns.AssertExpectations(t)
}

func TestPaymentService_CreatePayment_NoCustomerStillStoresMethod(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req := cardRequest()
	req.Customer = nil

	f.methods.On("Create", ctx, req.PaymentMethod, "").
		Return(&model.PaymentMethod{ID: "pm_1"}, nil)

	created := &model.Transaction{ID: "txn_1", MerchantID: "mer_1", Status: model.StatusPending, Amount: 1000_00, Currency: "USD"}
	f.txns.On("Create", ctx, mock.MatchedBy(func(txn *model.Transaction) bool {
		return txn.CustomerID == nil && txn.PaymentMethodID != nil && *txn.PaymentMethodID == "pm_1"
	})).Return(created, nil)
	f.fraudGate.On("Check", mock.Anything, created).Return(allow(), nil)
	f.gateway.On("Authorize", mock.Anything, mock.Anything).
		Return(&gateways.AuthorizeResponse{TransactionID: "gw_1", Status: "authorized"}, nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusPending, model.StatusAuthorized, "gw_1", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentAuthorized, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusAuthorized}, nil)

	_, err := f.service.CreatePayment(ctx, "mer_1", req)
	require.NoError(t, err)
	f.customers.AssertNotCalled(t, "FindOrCreateByEmail", mock.Anything, mock.Anything)
	f.methods.AssertExpectations(t)
	f.txns.AssertExpectations(t)
}

func TestPaymentService_CreatePayment_LostRaceVoidsAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := cardRequest()

	f.customers.On("FindOrCreateByEmail", ctx, req.Customer).
		Return(&model.Customer{ID: "cus_1"}, nil)
	f.methods.On("Create", ctx, req.PaymentMethod, "cus_1").
		Return(&model.PaymentMethod{ID: "pm_1"}, nil)

	created := &model.Transaction{ID: "txn_1", Status: model.StatusPending, Amount: 1000_00}
	f.txns.On("Create", ctx, mock.Anything).Return(created, nil)
	f.fraudGate.On("Check", mock.Anything, created).Return(allow(), nil)
	f.gateway.On("Authorize", mock.Anything, mock.Anything).
		Return(&gateways.AuthorizeResponse{TransactionID: "gw_1", Status: "authorized"}, nil)

	// A cancel landed between the authorize call and the commit, so the
	// conditional update matches no row.
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusPending, model.StatusAuthorized, "gw_1", mock.Anything).
		Return(repository.ErrConcurrentUpdate)
	f.gateway.On("Void", mock.Anything, "gw_1", "txn_1:void").
		Return(&gateways.VoidResponse{Status: "voided"}, nil)

	result, err := f.service.CreatePayment(ctx, "mer_1", req)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Nil(t, result)
	f.gateway.AssertExpectations(t)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CreatePayment_InvalidRequest(t *testing.T) {
	f := newFixture()

	req := cardRequest()
	req.Amount = -5

	result, err := f.service.CreatePayment(context.Background(), "mer_1", req)
	assert.ErrorIs(t, err, model.ErrAmountNotPositive)
	assert.Nil(t, result)
	f.txns.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPaymentService_CapturePayment_Full(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	authorized := &model.Transaction{
		ID:                   "txn_1",
		MerchantID:           "mer_1",
		Amount:               1000_00,
		Status:               model.StatusAuthorized,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(authorized, nil)
	f.gateway.On("Capture", mock.Anything, "gw_1", int64(1000_00), "txn_1:capture").
		Return(&gateways.CaptureResponse{TransactionID: "gw_1", Status: "captured", Amount: 1000_00}, nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusAuthorized, model.StatusCaptured, "", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentCaptured, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusCaptured}, nil)

	result, err := f.service.CapturePayment(ctx, "mer_1", &model.CapturePaymentRequest{TransactionID: "txn_1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCaptured, result.Status)
	f.txns.AssertNotCalled(t, "UpdateAmount", mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertExpectations(t)
}

func TestPaymentService_CapturePayment_Partial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	authorized := &model.Transaction{
		ID:                   "txn_1",
		MerchantID:           "mer_1",
		Amount:               1000_00,
		Status:               model.StatusAuthorized,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(authorized, nil)
	f.gateway.On("Capture", mock.Anything, "gw_1", int64(400_00), "txn_1:capture").
		Return(&gateways.CaptureResponse{Status: "captured", Amount: 400_00}, nil)
	f.txns.On("UpdateAmount", mock.Anything, "txn_1", int64(400_00)).Return(nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusAuthorized, model.StatusCaptured, "", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentCaptured, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusCaptured, Amount: 400_00}, nil)

	_, err := f.service.CapturePayment(ctx, "mer_1", &model.CapturePaymentRequest{
		TransactionID: "txn_1",
		Amount:        400_00,
	})
	require.NoError(t, err)
	f.txns.AssertExpectations(t)
}

func TestPaymentService_CapturePayment_AlreadyCaptured(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	captured := &model.Transaction{ID: "txn_1", Status: model.StatusCaptured, Amount: 1000_00}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(captured, nil)

	result, err := f.service.CapturePayment(ctx, "mer_1", &model.CapturePaymentRequest{TransactionID: "txn_1"})
	assert.Nil(t, result)

	var invalid *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, model.StatusCaptured, invalid.From)

	// The second capture never reaches the gateway.
	f.gateway.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CapturePayment_GatewayFailureKeepsAuthorized(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	authorized := &model.Transaction{
		ID:                   "txn_1",
		Status:               model.StatusAuthorized,
		Amount:               1000_00,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(authorized, nil)
	f.gateway.On("Capture", mock.Anything, "gw_1", int64(1000_00), "txn_1:capture").
		Return(nil, &gateways.Error{Code: "processor_unavailable", Message: "try again", Retryable: true})

	result, err := f.service.CapturePayment(ctx, "mer_1", &model.CapturePaymentRequest{TransactionID: "txn_1"})
	assert.ErrorIs(t, err, ErrGateway)
	assert.Nil(t, result)
	f.txns.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CapturePayment_ExceedsAuthorized(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	authorized := &model.Transaction{ID: "txn_1", Status: model.StatusAuthorized, Amount: 1000_00}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(authorized, nil)

	_, err := f.service.CapturePayment(ctx, "mer_1", &model.CapturePaymentRequest{
		TransactionID: "txn_1",
		Amount:        1500_00,
	})
	assert.ErrorIs(t, err, ErrCaptureExceedsAuthorized)
	f.gateway.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_RefundPayment_FullMarksRefunded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	customerID := "cus_1"
	original := &model.Transaction{
		ID:                   "txn_1",
		MerchantID:           "mer_1",
		CustomerID:           &customerID,
		Amount:               1000_00,
		Currency:             "USD",
		Status:               model.StatusCaptured,
		Type:                 model.TypePayment,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(original, nil)
	f.txns.On("SumRefunded", mock.Anything, "txn_1").Return(int64(0), nil)
	f.txns.On("CountRefunds", mock.Anything, "txn_1").Return(int64(0), nil)
	f.gateway.On("Refund", mock.Anything, "gw_1", int64(1000_00), "txn_1:refund:1").
		Return(&gateways.RefundResponse{RefundID: "re_1", Status: "refunded"}, nil)

	f.txns.On("Create", mock.Anything, mock.MatchedBy(func(txn *model.Transaction) bool {
		return txn.Type == model.TypeRefund &&
			txn.Amount == -1000_00 &&
			txn.ReferenceID == "txn_1" &&
			txn.Status == model.StatusCaptured &&
			txn.GatewayTransactionID == "re_1"
	})).Return(&model.Transaction{ID: "txn_2", Type: model.TypeRefund, Amount: -1000_00, ReferenceID: "txn_1"}, nil)

	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusCaptured, model.StatusRefunded, "", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentRefunded, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_2", "mer_1").
		Return(&model.Transaction{ID: "txn_2", Type: model.TypeRefund, Amount: -1000_00}, nil)

	result, err := f.service.RefundPayment(ctx, "mer_1", &model.RefundPaymentRequest{
		TransactionID: "txn_1",
		Reason:        "customer request",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn_2", result.ID)
	assert.Equal(t, int64(-1000_00), result.Amount)
	f.txns.AssertExpectations(t)
}

func TestPaymentService_RefundPayment_PartialLeavesOriginalCaptured(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	original := &model.Transaction{
		ID:                   "txn_1",
		MerchantID:           "mer_1",
		Amount:               1000_00,
		Currency:             "USD",
		Status:               model.StatusCaptured,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(original, nil)
	f.txns.On("SumRefunded", mock.Anything, "txn_1").Return(int64(0), nil)
	f.txns.On("CountRefunds", mock.Anything, "txn_1").Return(int64(0), nil)
	f.gateway.On("Refund", mock.Anything, "gw_1", int64(500_00), "txn_1:refund:1").
		Return(&gateways.RefundResponse{RefundID: "re_1"}, nil)
	f.txns.On("Create", mock.Anything, mock.Anything).
		Return(&model.Transaction{ID: "txn_2", Amount: -500_00, ReferenceID: "txn_1"}, nil)
	f.publisher.On("Publish", ctx, events.EventPaymentRefunded, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_2", "mer_1").
		Return(&model.Transaction{ID: "txn_2", Amount: -500_00}, nil)

	_, err := f.service.RefundPayment(ctx, "mer_1", &model.RefundPaymentRequest{
		TransactionID: "txn_1",
		Amount:        500_00,
		Reason:        "customer request",
	})
	require.NoError(t, err)

	// A partial refund never touches the original row's status.
	f.txns.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_RefundPayment_ExceedsCaptured(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	original := &model.Transaction{ID: "txn_1", Amount: 1000_00, Status: model.StatusCaptured}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(original, nil)
	f.txns.On("SumRefunded", mock.Anything, "txn_1").Return(int64(600_00), nil)

	_, err := f.service.RefundPayment(ctx, "mer_1", &model.RefundPaymentRequest{
		TransactionID: "txn_1",
		Amount:        500_00,
	})
	assert.ErrorIs(t, err, ErrRefundExceedsCaptured)
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.txns.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPaymentService_RefundPayment_NotCaptured(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending := &model.Transaction{ID: "txn_1", Status: model.StatusPending, Amount: 1000_00}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(pending, nil)

	_, err := f.service.RefundPayment(ctx, "mer_1", &model.RefundPaymentRequest{TransactionID: "txn_1"})

	var invalid *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, model.StatusPending, invalid.From)
}

func TestPaymentService_CancelPayment_AuthorizedVoidsAtGateway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	authorized := &model.Transaction{
		ID:                   "txn_1",
		Status:               model.StatusAuthorized,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(authorized, nil)
	f.gateway.On("Void", mock.Anything, "gw_1", "txn_1:void").
		Return(&gateways.VoidResponse{Status: "voided"}, nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusAuthorized, model.StatusCancelled, "", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentCancelled, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusCancelled}, nil)

	result, err := f.service.CancelPayment(ctx, "txn_1", "mer_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, result.Status)
	f.gateway.AssertExpectations(t)
}

func TestPaymentService_CancelPayment_PendingSkipsGateway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending := &model.Transaction{ID: "txn_1", Status: model.StatusPending}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(pending, nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusPending, model.StatusCancelled, "", mock.Anything).
		Return(nil)
	f.publisher.On("Publish", ctx, events.EventPaymentCancelled, mock.Anything).Return(nil)
	f.txns.On("FindDetailed", ctx, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusCancelled}, nil)

	_, err := f.service.CancelPayment(ctx, "txn_1", "mer_1")
	require.NoError(t, err)
	f.gateway.AssertNotCalled(t, "Void", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CancelPayment_CapturedRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	captured := &model.Transaction{ID: "txn_1", Status: model.StatusCaptured}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(captured, nil)

	_, err := f.service.CancelPayment(ctx, "txn_1", "mer_1")

	var invalid *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	f.gateway.AssertNotCalled(t, "Void", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_GetPayment_NotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.txns.On("FindDetailed", ctx, "txn_missing", "mer_1").
		Return(nil, repository.ErrNotFound)

	result, err := f.service.GetPayment(ctx, "txn_missing", "mer_1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, result)
}

func TestPaymentService_CapturePayment_ConcurrentUpdateMapped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	authorized := &model.Transaction{
		ID:                   "txn_1",
		Status:               model.StatusAuthorized,
		Amount:               1000_00,
		GatewayTransactionID: "gw_1",
	}
	f.txns.On("FindByIDForUpdate", mock.Anything, "txn_1", "mer_1").Return(authorized, nil)
	f.gateway.On("Capture", mock.Anything, "gw_1", int64(1000_00), "txn_1:capture").
		Return(&gateways.CaptureResponse{Status: "captured", Amount: 1000_00}, nil)
	f.txns.On("UpdateStatus", mock.Anything, "txn_1", model.StatusAuthorized, model.StatusCaptured, "", mock.Anything).
		Return(repository.ErrConcurrentUpdate)

	_, err := f.service.CapturePayment(ctx, "mer_1", &model.CapturePaymentRequest{TransactionID: "txn_1"})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestPaymentService_ListPayments_ScopesMerchant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.txns.On("List", ctx, mock.MatchedBy(func(filter model.TransactionFilter) bool {
		return filter.MerchantID == "mer_1"
	})).Return([]*model.Transaction{{ID: "txn_1"}}, int64(1), nil)

	txns, total, err := f.service.ListPayments(ctx, "mer_1", model.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, txns, 1)
	f.txns.AssertExpectations(t)
}

func TestPaymentService_RefundPayment_InvalidAmount(t *testing.T) {
	f := newFixture()

	_, err := f.service.RefundPayment(context.Background(), "mer_1", &model.RefundPaymentRequest{
		TransactionID: "txn_1",
		Amount:        -1,
	})
	assert.Error(t, err)
	f.txns.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
}
