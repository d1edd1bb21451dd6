package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/orbitpay/payment-gateway/pkg/redis"
)

type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	Attempts  int
}

// MessageHandler processes one stream entry. Returning nil acks the
// entry; returning an error leaves it pending so it is redelivered after
// the visibility timeout.
type MessageHandler func(ctx context.Context, msg *Message) error

type StreamConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Stream is an at-least-once event channel on a Redis stream. Producers
// append with Publish; consumer-group readers pick entries up, and stuck
// pending entries are reclaimed after the visibility timeout. Consumers
// must dedupe.
type Stream struct {
	adapter redis.RedisAdapter
	config  StreamConfig
	handler MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewStream(adapter redis.RedisAdapter, config StreamConfig) (*Stream, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.initConsumerGroup(); err != nil {
		// Group might already exist, which is fine
	}

	return s, nil
}

func (s *Stream) initConsumerGroup() error {
	return s.adapter.XGroupCreateMkStream(
		s.config.Name,
		s.config.ConsumerGroup,
		"0",
	)
}

// Publish appends a raw payload to the stream.
func (s *Stream) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().Unix(),
		"attempts":  0,
	}

	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := s.adapter.XAdd(s.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	if s.config.MaxLen > 0 {
		_ = s.adapter.XTrimApprox(s.config.Name, s.config.MaxLen)
	}

	return id, nil
}

// PublishJSON publishes a JSON-encoded payload.
func (s *Stream) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return s.Publish(ctx, jsonData, metadata)
}

// Consume starts a background loop feeding entries to the handler.
func (s *Stream) Consume(handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	s.handler = handler
	s.wg.Add(1)

	go s.consumeLoop()

	return nil
}

func (s *Stream) consumeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.processMessages()
			s.claimStuckMessages()
		}
	}
}

func (s *Stream) processMessages() {
	messages, err := s.adapter.XReadGroup(
		s.config.ConsumerGroup,
		s.config.ConsumerName,
		s.config.Name,
		">",
		s.config.BatchSize,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		s.handleMessage(s.toMessage(streamMsg))
	}
}

func (s *Stream) claimStuckMessages() {
	pendingExt, err := s.adapter.XPendingExt(
		s.config.Name,
		s.config.ConsumerGroup,
		"-",
		"+",
		100,
	)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	var idsToReclaim []string
	attempts := make(map[string]int, len(pendingExt))
	for _, msg := range pendingExt {
		if msg.Idle >= s.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, msg.ID)
			attempts[msg.ID] = int(msg.RetryCount)
		}
	}

	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := s.adapter.XClaim(
		s.config.Name,
		s.config.ConsumerGroup,
		s.config.ConsumerName,
		s.config.VisibilityTimeout,
		idsToReclaim...,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		msg := s.toMessage(streamMsg)
		msg.Attempts = attempts[msg.ID]
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg *Message) {
	if msg.Attempts >= s.config.MaxRetries {
		s.moveToDeadLetterQueue(msg)
		s.ackMessage(msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.VisibilityTimeout)
	defer cancel()

	if err := s.handler(ctx, msg); err != nil {
		// Not acked, redelivered after the visibility timeout
		return
	}

	s.ackMessage(msg.ID)
}

func (s *Stream) ackMessage(messageID string) error {
	return s.adapter.XAck(s.config.Name, s.config.ConsumerGroup, messageID)
}

func (s *Stream) moveToDeadLetterQueue(msg *Message) {
	if !s.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":            string(msg.Data),
		"original_id":     msg.ID,
		"attempts":        msg.Attempts,
		"failed_at":       time.Now().Unix(),
		"original_stream": s.config.Name,
	}

	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	_, _ = s.adapter.XAdd(s.config.Name+":dlq", values)
}

func (s *Stream) toMessage(streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range streamMsg.Values {
		switch k {
		case "data":
			if data, ok := v.(string); ok {
				msg.Data = []byte(data)
			}
		case "attempts":
			if attempts, ok := v.(string); ok {
				fmt.Sscanf(attempts, "%d", &msg.Attempts)
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				if val, ok := v.(string); ok {
					msg.Metadata[k[5:]] = val
				}
			}
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	return msg
}

func (s *Stream) Len() (int64, error) {
	return s.adapter.XLen(s.config.Name)
}

func (s *Stream) Stop(timeout time.Duration) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for stream consumer to stop")
	}
}
