// Package push consumes remote send commands from the push boundary. The
// transport lands payloads on a redis stream; this service drains it
// through a worker pool and hands each command to the registered
// processor.
package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luzzy/message-sync/internal/config"
	"github.com/luzzy/message-sync/internal/queue"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/redis"
	"github.com/luzzy/message-sync/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Processor handles one queued push payload.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

// Service drains the push command stream. Queue consumers hand messages to
// a worker pool so a slow command never stalls the stream reader.
type Service struct {
	adapter   redis.RedisAdapter
	queues    []*queue.Queue
	processor Processor
	consumers int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewService(adapter redis.RedisAdapter, consumers, workers int) *Service {
	if consumers <= 0 {
		consumers = 2
	}
	if workers <= 0 {
		workers = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:   adapter,
		queues:    make([]*queue.Queue, 0, consumers),
		consumers: consumers,
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(workers*64, workers),
	}
}

func (s *Service) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("registered push processor", "type", processor.GetType())
}

func (s *Service) Start() error {
	logger.Info("starting push service")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.consumers; i++ {
		queueConfig := queue.QueueConfig{
			Name:              config.Get().PushQueueName,
			ConsumerGroup:     config.Get().PushQueueConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-%d", config.Get().PushQueueConsumerName, i),
			MaxRetries:        config.Get().PushQueueMaxRetries,
			VisibilityTimeout: config.Get().PushQueueVisibilityTimeout,
			PollInterval:      config.Get().PushQueuePollInterval,
			BatchSize:         config.Get().PushQueueBatchSize,
			MaxLen:            config.Get().PushQueueMaxLen,
			EnableDLQ:         config.Get().PushQueueEnableDLQ,
		}

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create push queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start push consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(1)
	go s.healthChecker()

	logger.Info("push service started", "consumers", len(s.queues))
	return nil
}

func (s *Service) healthChecker() {
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

func (s *Service) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("health check failed: redis connection error", "error", err)
		return
	}
	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("health check: queue stats unavailable", "queue", i, "error", err)
			continue
		}
		if stats.PendingMessages > 1000 {
			logger.Warn("health check: push queue lagging", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}
}

// Stop drains consumers and shuts the pool down.
func (s *Service) Stop() {
	logger.Info("shutting down push service")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.queues))
	for i, q := range s.queues {
		go func(index int, q *queue.Queue) {
			if err := q.Stop(timeout); err != nil {
				logger.Error("error stopping push queue", "queue", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}
	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("timeout waiting for push queues to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()

	logger.Info("push service stopped")
}

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler bridges the queue consumer to the worker pool and blocks
// until the pool reports the outcome, so ack/nack reflects real handling.
func (s *Service) messageHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	s.worker.Enqueue(&jobResult{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	})

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process push command: %w", msgCtx.Err())
	}
}

func (s *Service) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("invalid job type in push worker", "worker", workerIndex)
		return
	}

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("push job cancelled before processing", "worker", workerIndex)
		return
	default:
	}

	var resultErr error
	if s.processor == nil {
		logger.Warn("no push processor registered, acking", "worker", workerIndex)
	} else {
		resultErr = s.processor.Process(jobRes.ctx, jobRes.msg)
	}

	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("push handler timed out before result delivery", "worker", workerIndex)
	}
}
