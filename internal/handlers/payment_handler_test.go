package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/internal/services"
	xhttp "github.com/orbitpay/payment-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreatePayment(ctx context.Context, merchantID string, req *model.CreatePaymentRequest) (*model.Transaction, error) {
	args := m.Called(ctx, merchantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockPaymentService) CapturePayment(ctx context.Context, merchantID string, req *model.CapturePaymentRequest) (*model.Transaction, error) {
	args := m.Called(ctx, merchantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockPaymentService) RefundPayment(ctx context.Context, merchantID string, req *model.RefundPaymentRequest) (*model.Transaction, error) {
	args := m.Called(ctx, merchantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockPaymentService) CancelPayment(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	args := m.Called(ctx, id, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockPaymentService) GetPayment(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	args := m.Called(ctx, id, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockPaymentService) ListPayments(ctx context.Context, merchantID string, filter model.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, merchantID, filter)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	ctx.Request.Header.Set(merchantHeader, "mer_1")
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestPaymentHandler_CreatePayment(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		reqBody := createPaymentRequest{
			Amount:   1000_00,
			Currency: "usd",
			PaymentMethod: &model.PaymentMethodInput{
				Type:  model.MethodCard,
				Token: "tok_visa",
			},
		}
		bodyBytes, _ := json.Marshal(reqBody)

		svc.On("CreatePayment", mock.Anything, "mer_1", mock.MatchedBy(func(p *model.CreatePaymentRequest) bool {
			return p.Amount == 1000_00 && p.Currency == "USD"
		})).Return(&model.Transaction{ID: "txn_1", Status: model.StatusAuthorized}, nil)

		ctx := setupTestContext("POST", "/api/v1/payments", bodyBytes)
		handler.CreatePayment(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var txn model.Transaction
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &txn))
		assert.Equal(t, "txn_1", txn.ID)
		svc.AssertExpectations(t)
	})

	t.Run("missing merchant header", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		ctx := setupTestContext("POST", "/api/v1/payments", []byte(`{}`))
		ctx.Request.Header.Del(merchantHeader)
		handler.CreatePayment(ctx)

		assert.Equal(t, 401, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		ctx := setupTestContext("POST", "/api/v1/payments", []byte(`{not json`))
		handler.CreatePayment(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("fraud block maps to 422", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		reqBody, _ := json.Marshal(createPaymentRequest{
			Amount:        9000_00,
			Currency:      "USD",
			PaymentMethod: &model.PaymentMethodInput{Type: model.MethodCard, Token: "tok"},
		})
		svc.On("CreatePayment", mock.Anything, "mer_1", mock.Anything).
			Return(nil, services.ErrFraudBlocked)

		ctx := setupTestContext("POST", "/api/v1/payments", reqBody)
		handler.CreatePayment(ctx)

		assert.Equal(t, 422, ctx.Response.StatusCode())
	})

	t.Run("gateway failure maps to 502", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		reqBody, _ := json.Marshal(createPaymentRequest{
			Amount:        1000_00,
			Currency:      "USD",
			PaymentMethod: &model.PaymentMethodInput{Type: model.MethodCard, Token: "tok"},
		})
		svc.On("CreatePayment", mock.Anything, "mer_1", mock.Anything).
			Return(nil, services.ErrGateway)

		ctx := setupTestContext("POST", "/api/v1/payments", reqBody)
		handler.CreatePayment(ctx)

		assert.Equal(t, 502, ctx.Response.StatusCode())
	})
}

func TestPaymentHandler_CapturePayment(t *testing.T) {
	t.Run("successful capture", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		svc.On("CapturePayment", mock.Anything, "mer_1", mock.MatchedBy(func(p *model.CapturePaymentRequest) bool {
			return p.TransactionID == "txn_1" && p.Amount == 0
		})).Return(&model.Transaction{ID: "txn_1", Status: model.StatusCaptured}, nil)

		ctx := setupTestContext("POST", "/api/v1/payments/txn_1/capture", nil)
		ctx.SetUserValue("id", "txn_1")
		handler.CapturePayment(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("invalid transition maps to 409", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		svc.On("CapturePayment", mock.Anything, "mer_1", mock.Anything).
			Return(nil, &model.InvalidTransitionError{
				From: model.StatusCaptured,
				To:   model.StatusCaptured,
				Hint: "only authorized payments can be captured",
			})

		ctx := setupTestContext("POST", "/api/v1/payments/txn_1/capture", nil)
		ctx.SetUserValue("id", "txn_1")
		handler.CapturePayment(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		svc.On("CapturePayment", mock.Anything, "mer_1", mock.Anything).
			Return(nil, services.ErrNotFound)

		ctx := setupTestContext("POST", "/api/v1/payments/txn_x/capture", nil)
		ctx.SetUserValue("id", "txn_x")
		handler.CapturePayment(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}

func TestPaymentHandler_RefundPayment(t *testing.T) {
	t.Run("partial refund with reason", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		body, _ := json.Marshal(refundPaymentRequest{Amount: 500_00, Reason: "customer request"})

		svc.On("RefundPayment", mock.Anything, "mer_1", mock.MatchedBy(func(p *model.RefundPaymentRequest) bool {
			return p.TransactionID == "txn_1" && p.Amount == 500_00 && p.Reason == "customer request"
		})).Return(&model.Transaction{ID: "txn_2", Type: model.TypeRefund, Amount: -500_00}, nil)

		ctx := setupTestContext("POST", "/api/v1/payments/txn_1/refund", body)
		ctx.SetUserValue("id", "txn_1")
		handler.RefundPayment(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var txn model.Transaction
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &txn))
		assert.Equal(t, int64(-500_00), txn.Amount)
	})

	t.Run("over-refund maps to 422", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		svc.On("RefundPayment", mock.Anything, "mer_1", mock.Anything).
			Return(nil, services.ErrRefundExceedsCaptured)

		ctx := setupTestContext("POST", "/api/v1/payments/txn_1/refund", nil)
		ctx.SetUserValue("id", "txn_1")
		handler.RefundPayment(ctx)

		assert.Equal(t, 422, ctx.Response.StatusCode())
	})
}

func TestPaymentHandler_GetPayment(t *testing.T) {
	svc := new(MockPaymentService)
	handler := NewPaymentHandler(svc)

	svc.On("GetPayment", mock.Anything, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusCaptured}, nil)

	ctx := setupTestContext("GET", "/api/v1/payments/txn_1", nil)
	ctx.SetUserValue("id", "txn_1")
	handler.GetPayment(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
}

func TestPaymentHandler_ListPayments(t *testing.T) {
	svc := new(MockPaymentService)
	handler := NewPaymentHandler(svc)

	svc.On("ListPayments", mock.Anything, "mer_1", mock.MatchedBy(func(f model.TransactionFilter) bool {
		return len(f.Statuses) == 2 && f.Limit == 10
	})).Return([]*model.Transaction{{ID: "txn_1"}}, int64(1), nil)

	ctx := setupTestContext("GET", "/api/v1/payments?status=captured,refunded&limit=10", nil)
	handler.ListPayments(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var resp listPaymentsResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Len(t, resp.Items, 1)
}

func TestPaymentHandler_CancelPayment(t *testing.T) {
	svc := new(MockPaymentService)
	handler := NewPaymentHandler(svc)

	svc.On("CancelPayment", mock.Anything, "txn_1", "mer_1").
		Return(&model.Transaction{ID: "txn_1", Status: model.StatusCancelled}, nil)

	ctx := setupTestContext("POST", "/api/v1/payments/txn_1/cancel", nil)
	ctx.SetUserValue("id", "txn_1")
	handler.CancelPayment(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
}
