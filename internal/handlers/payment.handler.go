package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/internal/services"
	xhttp "github.com/orbitpay/payment-gateway/pkg/http"
)

// merchantHeader is set by the authenticating edge proxy. A request
// without it never reaches a merchant's data.
const merchantHeader = "X-Merchant-Id"

type PaymentService interface {
	CreatePayment(ctx context.Context, merchantID string, req *model.CreatePaymentRequest) (*model.Transaction, error)
	CapturePayment(ctx context.Context, merchantID string, req *model.CapturePaymentRequest) (*model.Transaction, error)
	RefundPayment(ctx context.Context, merchantID string, req *model.RefundPaymentRequest) (*model.Transaction, error)
	CancelPayment(ctx context.Context, id, merchantID string) (*model.Transaction, error)
	GetPayment(ctx context.Context, id, merchantID string) (*model.Transaction, error)
	ListPayments(ctx context.Context, merchantID string, filter model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type PaymentHandler struct {
	svc PaymentService
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler) {
	e.POST("/payments", h.CreatePayment)
	e.POST("/payments/{id}/capture", h.CapturePayment)
	e.POST("/payments/{id}/refund", h.RefundPayment)
	e.POST("/payments/{id}/cancel", h.CancelPayment)
	e.GET("/payments/{id}", h.GetPayment)
	e.GET("/payments", h.ListPayments)
}

func NewPaymentHandler(paymentService PaymentService) *PaymentHandler {
	return &PaymentHandler{
		svc: paymentService,
	}
}

type createPaymentRequest struct {
	Amount        int64                     `json:"amount"`
	Currency      string                    `json:"currency"`
	PaymentMethod *model.PaymentMethodInput `json:"payment_method"`
	Customer      *model.CustomerInput      `json:"customer,omitempty"`
	Description   string                    `json:"description,omitempty"`
	Metadata      map[string]string         `json:"metadata,omitempty"`
	ReferenceID   string                    `json:"reference_id,omitempty"`
}

type capturePaymentRequest struct {
	Amount int64 `json:"amount,omitempty"`
}

type refundPaymentRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type listPaymentsResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *PaymentHandler) CreatePayment(ctx *xhttp.RequestCtx) {
	merchantID, ok := merchant(ctx)
	if !ok {
		return
	}

	var req createPaymentRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	p := &model.CreatePaymentRequest{
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		PaymentMethod: req.PaymentMethod,
		Customer:      req.Customer,
		Description:   req.Description,
		Metadata:      req.Metadata,
		ReferenceID:   req.ReferenceID,
	}

	txn, err := h.svc.CreatePayment(ctx, merchantID, p)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *PaymentHandler) CapturePayment(ctx *xhttp.RequestCtx) {
	merchantID, ok := merchant(ctx)
	if !ok {
		return
	}

	var req capturePaymentRequest
	if len(ctx.PostBody()) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, 400, "invalid JSON: "+err.Error())
			return
		}
	}

	txn, err := h.svc.CapturePayment(ctx, merchantID, &model.CapturePaymentRequest{
		TransactionID: param(ctx, "id"),
		Amount:        req.Amount,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *PaymentHandler) RefundPayment(ctx *xhttp.RequestCtx) {
	merchantID, ok := merchant(ctx)
	if !ok {
		return
	}

	var req refundPaymentRequest
	if len(ctx.PostBody()) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, 400, "invalid JSON: "+err.Error())
			return
		}
	}

	txn, err := h.svc.RefundPayment(ctx, merchantID, &model.RefundPaymentRequest{
		TransactionID: param(ctx, "id"),
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *PaymentHandler) CancelPayment(ctx *xhttp.RequestCtx) {
	merchantID, ok := merchant(ctx)
	if !ok {
		return
	}

	txn, err := h.svc.CancelPayment(ctx, param(ctx, "id"), merchantID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *PaymentHandler) GetPayment(ctx *xhttp.RequestCtx) {
	merchantID, ok := merchant(ctx)
	if !ok {
		return
	}

	txn, err := h.svc.GetPayment(ctx, param(ctx, "id"), merchantID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *PaymentHandler) ListPayments(ctx *xhttp.RequestCtx) {
	merchantID, ok := merchant(ctx)
	if !ok {
		return
	}

	var f model.TransactionFilter
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.TransactionStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "type"); v != "" {
		txnType := model.TransactionType(v)
		f.Type = &txnType
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.svc.ListPayments(ctx, merchantID, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listPaymentsResponse{Items: items, Total: total})
}

/* --------------------------------- Helpers ----------------------------------- */

func merchant(ctx *xhttp.RequestCtx) (string, bool) {
	merchantID := string(ctx.Request.Header.Peek(merchantHeader))
	if merchantID == "" {
		writeError(ctx, 401, "missing "+merchantHeader+" header")
		return "", false
	}
	return merchantID, true
}

// writeServiceError maps service errors onto HTTP statuses. Validation
// failures fall through to 400.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	var invalid *model.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, 404, err.Error())
	case errors.As(err, &invalid):
		writeError(ctx, 409, err.Error())
	case errors.Is(err, services.ErrConcurrencyConflict):
		writeError(ctx, 409, err.Error())
	case errors.Is(err, services.ErrFraudBlocked),
		errors.Is(err, services.ErrRefundExceedsCaptured),
		errors.Is(err, services.ErrCaptureExceedsAuthorized):
		writeError(ctx, 422, err.Error())
	case errors.Is(err, services.ErrGateway):
		writeError(ctx, 502, err.Error())
	default:
		writeError(ctx, 400, err.Error())
	}
}

func param(ctx *xhttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
