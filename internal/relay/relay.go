package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orbitpay/payment-gateway/internal/config"
	"github.com/orbitpay/payment-gateway/internal/events"
	"github.com/orbitpay/payment-gateway/pkg/logger"
	"github.com/orbitpay/payment-gateway/pkg/redis"
	"github.com/orbitpay/payment-gateway/pkg/worker"
)

const DeliveryTimeout = time.Second * 20
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Processor handles one stream entry. Returning nil acks the entry.
type Processor interface {
	Process(ctx context.Context, msg *events.Message) error
	GetType() string
}

// RelayService fans payment events out of the Redis stream into a worker
// pool and hands each one to the registered processor. Consumers share a
// consumer group, so running several relay instances spreads the load.
type RelayService struct {
	adapter   redis.RedisAdapter
	streams   []*events.Stream
	processor Processor
	metrics   *RelayMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewRelayService(redisAdapter redis.RedisAdapter) (*RelayService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &RelayService{
		adapter: redisAdapter,
		streams: make([]*events.Stream, 0),
		metrics: NewRelayMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		worker:  worker.NewWorkerManager(10_000, 32, nil),
	}
	return service, nil
}

func (s *RelayService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("registered relay processor", "type", processor.GetType())
}

func (s *RelayService) Start() error {
	logger.Info("starting relay service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	consumers := config.Get().RelayWorkers
	if consumers <= 0 {
		consumers = 4
	}
	for i := 0; i < consumers; i++ {
		streamConfig := events.StreamConfig{
			Name:              config.Get().EventStreamName,
			ConsumerGroup:     config.Get().EventConsumerGroup,
			ConsumerName:      config.Get().EventConsumerName,
			MaxRetries:        config.Get().EventMaxRetries,
			VisibilityTimeout: config.Get().EventClaimMinIdle,
			PollInterval:      config.Get().EventPollInterval,
			BatchSize:         config.Get().EventBatchSize,
			MaxLen:            config.Get().EventStreamMaxLen,
			EnableDLQ:         config.Get().EventEnableDeadLetter,
		}
		streamConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", streamConfig.ConsumerName, i)

		stream, err := events.NewStream(s.adapter, streamConfig)
		if err != nil {
			return fmt.Errorf("failed to create stream consumer %d: %w", i, err)
		}

		if err := stream.Consume(s.eventHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.streams = append(s.streams, stream)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("relay service started", "consumers", len(s.streams))
	return nil
}

func (s *RelayService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *RelayService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("relay metrics",
		"total_delivered", stats["total_delivered"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"])

	for i, stream := range s.streams {
		if length, err := stream.Len(); err == nil {
			logger.Info("stream stats", "consumer", i, "length", length)
		}
	}
}

func (s *RelayService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *RelayService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("health check failed: redis connection error", "error", err)
		return
	}

	for i, stream := range s.streams {
		length, err := stream.Len()
		if err != nil {
			logger.Warn("health check warning: stream length unavailable", "consumer", i, "error", err)
			continue
		}
		if length > 10000 {
			logger.Warn("health check warning: stream has high lag", "consumer", i, "length", length)
		}
	}
}

// Stop drains consumers, the worker pool and background tasks.
func (s *RelayService) Stop() {
	logger.Info("shutting down relay service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.streams))

	for i, stream := range s.streams {
		go func(index int, stream *events.Stream) {
			if err := stream.Stop(timeout); err != nil {
				logger.Error("error stopping stream consumer", "consumer", index, "error", err)
			}
			stopChan <- true
		}(i, stream)
	}

	for range s.streams {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("timeout waiting for stream consumers to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()

	logger.Info("relay service stopped")
}

type jobResult struct {
	msg        *events.Message
	resultChan chan error
	ctx        context.Context
}

// eventHandler receives entries from the stream and blocks on the worker
// pool result so the ack decision reflects the actual delivery outcome.
func (s *RelayService) eventHandler(ctx context.Context, msg *events.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, DeliveryTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	}

	s.worker.Enqueue(job)

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to deliver event: %w", msgCtx.Err())
	}
}

func (s *RelayService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	msg := jobRes.msg
	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("job context cancelled before delivery started", "worker", workerIndex)
		return
	default:
	}

	if s.processor == nil {
		logger.Info("no processor registered", "worker", workerIndex)
		s.metrics.RecordFailure()
		resultErr = nil // ACK, a missing processor won't appear on retry
	} else {
		if err := s.processor.Process(jobRes.ctx, msg); err != nil {
			s.metrics.RecordFailure()
			resultErr = err
		} else {
			s.metrics.RecordSuccess(time.Since(start))
			resultErr = nil
		}
	}

	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("context cancelled while sending result, event handler timed out", "worker", workerIndex)
	}
}
