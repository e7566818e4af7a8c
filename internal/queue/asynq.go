package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// AsynqConfig holds Redis-backed queue configuration
type AsynqConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetry    int
}

// AsynqQueue enqueues and consumes bundle tasks through Redis
type AsynqQueue struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler *BundleHandler
	config  AsynqConfig
	logger  *logging.Logger
}

// NewAsynqQueue creates the client and server sides of the task queue
func NewAsynqQueue(cfg AsynqConfig, handler *BundleHandler, logger *logging.Logger) (*AsynqQueue, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if logger == nil {
		logger = logging.Nop()
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	q := &AsynqQueue{
		client:  asynq.NewClient(redisOpt),
		mux:     asynq.NewServeMux(),
		handler: handler,
		config:  cfg,
		logger:  logger,
	}

	q.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
				return retryDelay(n)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing failed",
					"type", task.Type(),
					"payload", string(task.Payload()),
					"retry", retried,
					"max_retry", maxRetry,
					"error", err.Error(),
				)
			}),
			Logger: logger.Printer(),
		},
	)

	q.mux.HandleFunc(TypeBundleWrite, q.handleBundleWrite)
	return q, nil
}

// JobChanged enqueues a bundle snapshot; implements fusion.Notifier
func (q *AsynqQueue) JobChanged(ctx context.Context, churchID, jobID int64, reason string) {
	p := BundlePayload{
		TaskID:      uuid.New().String(),
		ChurchID:    churchID,
		JobID:       jobID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		q.logger.Error("Failed to encode bundle task", "job_id", jobID, "error", err.Error())
		return
	}

	task := asynq.NewTask(TypeBundleWrite, data,
		asynq.TaskID(p.TaskID),
		asynq.Queue(q.config.QueueName),
		asynq.MaxRetry(q.config.MaxRetry),
		asynq.Timeout(DefaultTaskTimeout),
	)
	info, err := q.client.EnqueueContext(context.WithoutCancel(ctx), task)
	if err != nil {
		q.logger.Warn("Failed to enqueue bundle task",
			"church_id", churchID,
			"job_id", jobID,
			"reason", reason,
			"error", err.Error(),
		)
		return
	}
	q.logger.Debug("Enqueued bundle task", "task_id", info.ID, "job_id", jobID, "queue", info.Queue)
}

// Start runs the consumer in the background
func (q *AsynqQueue) Start() error {
	q.logger.Info("Starting task consumer",
		"concurrency", q.config.Concurrency,
		"queue", q.config.QueueName,
	)
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("failed to start task consumer: %w", err)
	}
	return nil
}

// Stop drains in-flight tasks and closes the client
func (q *AsynqQueue) Stop() error {
	q.logger.Info("Stopping task consumer")
	q.server.Shutdown()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

func (q *AsynqQueue) handleBundleWrite(ctx context.Context, task *asynq.Task) error {
	p, err := decodeBundlePayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return q.handler.Handle(ctx, p)
}
