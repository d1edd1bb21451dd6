package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/orbitpay/payment-gateway/pkg/redis"
)

var (
	ErrAlreadyDelivered   = errors.New("event already delivered")
	ErrLockAcquireFailed  = errors.New("failed to acquire delivery lock")
	ErrMaxRetriesExceeded = errors.New("maximum delivery retries exceeded")
)

// IdempotencyConfig tunes the consumer-side dedupe guard. The stream is
// at-least-once, so redelivered events must be filtered here before the
// webhook fires twice.
type IdempotencyConfig struct {
	LockTTL time.Duration

	DeliveredTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	DeliveredKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		DeliveredTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "relay:retry:",
		LockKeyPrefix:      "relay:lock:",
		DeliveredKeyPrefix: "relay:delivered:",
	}
}

type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

// DeliveryContext tracks one in-flight delivery attempt for an event.
type DeliveryContext struct {
	EventID      string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

// AcquireDeliveryLock claims an event for this consumer. It refuses
// events that already have a delivered marker, events past the retry
// budget and events locked by another consumer.
func (s *IdempotencyService) AcquireDeliveryLock(ctx context.Context, eventID string) (*DeliveryContext, error) {
	deliveredKey := s.config.DeliveredKeyPrefix + eventID
	exists, err := s.redis.Exist(deliveredKey)
	if err != nil {
		logger.Warn("failed to check delivered marker", "event_id", eventID, "error", err)
		// Continue even if the check fails, a duplicate webhook beats a stalled stream
	} else if exists > 0 {
		return nil, ErrAlreadyDelivered
	}

	retryKey := s.config.RetryKeyPrefix + eventID
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("delivery retries exhausted", "event_id", eventID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: event_id=%s, retries=%d", ErrMaxRetriesExceeded, eventID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + eventID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("failed to acquire delivery lock", "event_id", eventID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	return &DeliveryContext{
		EventID:      eventID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

// MarkDelivered writes the long-term delivered marker and cleans up the
// lock and retry counter.
func (s *IdempotencyService) MarkDelivered(ctx context.Context, dc *DeliveryContext) error {
	deliveredKey := s.config.DeliveredKeyPrefix + dc.EventID
	err := s.redis.Set(deliveredKey, []byte("1"), s.config.DeliveredTTL)
	if err != nil {
		logger.Error("failed to mark event delivered", "event_id", dc.EventID, "error", err)
		return fmt.Errorf("failed to mark as delivered: %w", err)
	}

	s.cleanup(ctx, dc)
	return nil
}

// MarkFailure bumps the retry counter and drops the lock so another
// attempt can pick the event up.
func (s *IdempotencyService) MarkFailure(ctx context.Context, dc *DeliveryContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + dc.EventID
	newRetryCount := dc.RetryCount + 1
	retryValue := []byte(fmt.Sprintf("%d", newRetryCount))

	// Counter outlives the lock so the budget holds across redeliveries
	err := s.redis.Set(retryKey, retryValue, s.config.DeliveredTTL)
	if err != nil {
		logger.Error("failed to increment retry counter", "event_id", dc.EventID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + dc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to remove delivery lock", "event_id", dc.EventID, "error", err)
	}

	logger.Warn("event delivery failed, will retry",
		"event_id", dc.EventID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, dc *DeliveryContext) error {
	if dc == nil || !dc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + dc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to release delivery lock", "event_id", dc.EventID, "error", err)
		return err
	}

	dc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, dc *DeliveryContext) {
	lockKey := s.config.LockKeyPrefix + dc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to cleanup delivery lock", "event_id", dc.EventID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + dc.EventID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("failed to cleanup retry counter", "event_id", dc.EventID, "error", err)
	}

	dc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, eventID string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + eventID
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsDelivered(ctx context.Context, eventID string) (bool, error) {
	deliveredKey := s.config.DeliveredKeyPrefix + eventID
	exists, err := s.redis.Exist(deliveredKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
