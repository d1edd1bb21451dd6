package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Processing fees per payment method, in basis points.
const (
	feeCardBps   = 290
	feeBankBps   = 80
	feeWalletBps = 250
)

type AuthorizeRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Amount         int64  `json:"amount" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
	PaymentMethod  struct {
		Type  string `json:"type" binding:"required"`
		Token string `json:"token" binding:"required"`
	} `json:"payment_method"`
	CustomerEmail string `json:"customer_email"`
}

type AuthorizeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ProcessingFee int64  `json:"processing_fee"`
	GatewayFee    int64  `json:"gateway_fee"`
}

type AmountRequest struct {
	Amount int64 `json:"amount"`
}

type OperationResponse struct {
	TransactionID string `json:"transaction_id"`
	RefundID      string `json:"refund_id,omitempty"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// storedReply replays a previous response for a repeated idempotency key.
type storedReply struct {
	status int
	body   interface{}
}

type heldTransaction struct {
	Amount   int64
	Currency string
	Captured bool
	Voided   bool
}

// MockProcessor simulates a card payment processor: it holds authorized
// transactions in memory, dedupes on Idempotency-Key and injects
// latency and declines.
type MockProcessor struct {
	mu           sync.Mutex
	declineRate  float64
	minDelay     time.Duration
	maxDelay     time.Duration
	processorID  string
	rng          *rand.Rand
	transactions map[string]*heldTransaction
	replies      map[string]storedReply
	rates        map[string]float64
}

func NewMockProcessor(declineRate float64, minDelay, maxDelay time.Duration) *MockProcessor {
	return &MockProcessor{
		declineRate:  declineRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		processorID:  "MOCK_PROCESSOR_" + uuid.New().String()[:8],
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		transactions: make(map[string]*heldTransaction),
		replies:      make(map[string]storedReply),
		rates: map[string]float64{
			"USD": 1.0,
			"EUR": 0.91,
			"GBP": 0.78,
			"JPY": 149.50,
			"CAD": 1.36,
		},
	}
}

func (m *MockProcessor) randomDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	delta := m.maxDelay - m.minDelay
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProcessor) shouldDecline() bool {
	return m.rng.Float64() < m.declineRate
}

func processingFee(amount int64, methodType string) int64 {
	bps := int64(feeCardBps)
	switch methodType {
	case "bank_account":
		bps = feeBankBps
	case "wallet":
		bps = feeWalletBps
	}
	return amount * bps / 10_000
}

// replay returns the stored response for a key, if any. The caller holds
// no lock.
func (m *MockProcessor) replay(key string) (storedReply, bool) {
	if key == "" {
		return storedReply{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reply, ok := m.replies[key]
	return reply, ok
}

func (m *MockProcessor) store(key string, status int, body interface{}) {
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[key] = storedReply{status: status, body: body}
}

type Handler struct {
	processor *MockProcessor
}

func NewHandler(processor *MockProcessor) *Handler {
	return &Handler{processor: processor}
}

func idempotencyKey(c *gin.Context) string {
	return c.GetHeader("Idempotency-Key")
}

func (h *Handler) Authorize(c *gin.Context) {
	key := idempotencyKey(c)
	if reply, ok := h.processor.replay("auth:" + key); ok {
		log.Info().Str("idempotency_key", key).Msg("Replaying stored authorize response")
		c.JSON(reply.status, reply.body)
		return
	}

	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_amount", Message: "amount must be positive"})
		return
	}
	if _, ok := h.processor.rates[strings.ToUpper(req.Currency)]; !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "unsupported_currency", Message: "currency not supported"})
		return
	}

	time.Sleep(h.processor.randomDelay())

	if h.processor.shouldDecline() {
		body := errorResponse{Code: "card_declined", Message: "The card was declined"}
		h.processor.store("auth:"+key, http.StatusPaymentRequired, body)
		log.Warn().
			Str("idempotency_key", key).
			Int64("amount", req.Amount).
			Msg("Authorization declined")
		c.JSON(http.StatusPaymentRequired, body)
		return
	}

	txnID := "gw_" + uuid.New().String()
	fee := processingFee(req.Amount, req.PaymentMethod.Type)

	h.processor.mu.Lock()
	h.processor.transactions[txnID] = &heldTransaction{
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
	}
	h.processor.mu.Unlock()

	body := AuthorizeResponse{
		TransactionID: txnID,
		Status:        "authorized",
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		ProcessingFee: fee,
		GatewayFee:    fee / 10,
	}
	h.processor.store("auth:"+key, http.StatusOK, body)

	log.Info().
		Str("transaction_id", txnID).
		Int64("amount", req.Amount).
		Str("currency", body.Currency).
		Msg("Payment authorized")
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Capture(c *gin.Context) {
	txnID := c.Param("id")
	key := idempotencyKey(c)
	if reply, ok := h.processor.replay("capture:" + key); ok {
		c.JSON(reply.status, reply.body)
		return
	}

	var req AmountRequest
	_ = c.ShouldBindJSON(&req)

	h.processor.mu.Lock()
	txn, ok := h.processor.transactions[txnID]
	if !ok {
		h.processor.mu.Unlock()
		c.JSON(http.StatusNotFound, errorResponse{Code: "transaction_not_found", Message: "unknown transaction"})
		return
	}
	if txn.Voided {
		h.processor.mu.Unlock()
		c.JSON(http.StatusConflict, errorResponse{Code: "transaction_voided", Message: "transaction was voided"})
		return
	}
	if txn.Captured {
		h.processor.mu.Unlock()
		body := errorResponse{Code: "already_captured", Message: "transaction already captured"}
		h.processor.store("capture:"+key, http.StatusConflict, body)
		c.JSON(http.StatusConflict, body)
		return
	}
	amount := req.Amount
	if amount == 0 {
		amount = txn.Amount
	}
	if amount > txn.Amount {
		h.processor.mu.Unlock()
		c.JSON(http.StatusConflict, errorResponse{Code: "amount_exceeds_authorization", Message: "capture exceeds authorized amount"})
		return
	}
	txn.Captured = true
	txn.Amount = amount
	currency := txn.Currency
	h.processor.mu.Unlock()

	time.Sleep(h.processor.randomDelay())

	body := OperationResponse{
		TransactionID: txnID,
		Status:        "captured",
		Amount:        amount,
		Currency:      currency,
	}
	h.processor.store("capture:"+key, http.StatusOK, body)

	log.Info().Str("transaction_id", txnID).Int64("amount", amount).Msg("Payment captured")
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Refund(c *gin.Context) {
	txnID := c.Param("id")
	key := idempotencyKey(c)
	if reply, ok := h.processor.replay("refund:" + key); ok {
		c.JSON(reply.status, reply.body)
		return
	}

	var req AmountRequest
	_ = c.ShouldBindJSON(&req)

	h.processor.mu.Lock()
	txn, ok := h.processor.transactions[txnID]
	if !ok {
		h.processor.mu.Unlock()
		c.JSON(http.StatusNotFound, errorResponse{Code: "transaction_not_found", Message: "unknown transaction"})
		return
	}
	if !txn.Captured {
		h.processor.mu.Unlock()
		c.JSON(http.StatusConflict, errorResponse{Code: "not_captured", Message: "transaction not captured"})
		return
	}
	amount := req.Amount
	if amount == 0 {
		amount = txn.Amount
	}
	currency := txn.Currency
	h.processor.mu.Unlock()

	time.Sleep(h.processor.randomDelay())

	body := OperationResponse{
		TransactionID: txnID,
		RefundID:      "re_" + uuid.New().String(),
		Status:        "refunded",
		Amount:        amount,
		Currency:      currency,
	}
	h.processor.store("refund:"+key, http.StatusOK, body)

	log.Info().Str("transaction_id", txnID).Int64("amount", amount).Msg("Payment refunded")
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Void(c *gin.Context) {
	txnID := c.Param("id")
	key := idempotencyKey(c)
	if reply, ok := h.processor.replay("void:" + key); ok {
		c.JSON(reply.status, reply.body)
		return
	}

	h.processor.mu.Lock()
	txn, ok := h.processor.transactions[txnID]
	if !ok {
		h.processor.mu.Unlock()
		c.JSON(http.StatusNotFound, errorResponse{Code: "transaction_not_found", Message: "unknown transaction"})
		return
	}
	if txn.Captured {
		h.processor.mu.Unlock()
		c.JSON(http.StatusConflict, errorResponse{Code: "already_captured", Message: "captured transactions must be refunded"})
		return
	}
	txn.Voided = true
	h.processor.mu.Unlock()

	body := OperationResponse{
		TransactionID: txnID,
		Status:        "voided",
	}
	h.processor.store("void:"+key, http.StatusOK, body)

	log.Info().Str("transaction_id", txnID).Msg("Authorization voided")
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Rates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"base":  "USD",
		"rates": h.processor.rates,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"processor_id": h.processor.processorID,
		"timestamp":    time.Now(),
		"decline_rate": h.processor.declineRate,
	})
}

// UpdateConfig allows changing the decline rate at runtime, handy for
// failure-injection during load tests.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeclineRate *float64 `json:"decline_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}

	if config.DeclineRate != nil && *config.DeclineRate >= 0 && *config.DeclineRate <= 1.0 {
		h.processor.declineRate = *config.DeclineRate
		log.Info().Float64("rate", *config.DeclineRate).Msg("Updated decline rate")
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Configuration updated",
		"decline_rate": h.processor.declineRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/authorize", handler.Authorize)
		v1.POST("/payments/:id/capture", handler.Capture)
		v1.POST("/payments/:id/refund", handler.Refund)
		v1.POST("/payments/:id/void", handler.Void)
		v1.GET("/rates", handler.Rates)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	declineRate := getEnvFloat("DECLINE_RATE", 0)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("decline_rate", declineRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock payment processor")

	processor := NewMockProcessor(declineRate, minDelay, maxDelay)
	handler := NewHandler(processor)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
