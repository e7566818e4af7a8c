package queue

import (
	"context"
	"sync"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/google/uuid"
)

// LocalConfig configures the in-process queue used without Redis
type LocalConfig struct {
	Concurrency int
	Buffer      int
	MaxRetry    int
	// Delay overrides the retry backoff (tests)
	Delay func(n int) time.Duration
	// DrainTimeout bounds how long Stop waits before cancelling in-flight tasks
	DrainTimeout time.Duration
}

// DefaultDrainTimeout is used when LocalConfig leaves DrainTimeout unset
const DefaultDrainTimeout = 10 * time.Second

// LocalQueue runs bundle tasks on a pool of goroutines in this process
type LocalQueue struct {
	handler *BundleHandler
	config  LocalConfig
	logger  *logging.Logger
	tasks   chan BundlePayload

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.RWMutex
	stopped bool
}

// NewLocalQueue creates an in-process queue
func NewLocalQueue(cfg LocalConfig, handler *BundleHandler, logger *logging.Logger) *LocalQueue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.Delay == nil {
		cfg.Delay = retryDelay
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		handler: handler,
		config:  cfg,
		logger:  logger,
		tasks:   make(chan BundlePayload, cfg.Buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines
func (q *LocalQueue) Start() error {
	q.logger.Info("Starting in-process task queue", "concurrency", q.config.Concurrency)
	for i := 0; i < q.config.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return nil
}

// Stop lets queued tasks finish for up to DrainTimeout, then cancels
// whatever is still running or waiting on a retry
func (q *LocalQueue) Stop() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.tasks)
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(q.config.DrainTimeout):
			q.logger.Warn("Task queue drain timed out, cancelling in-flight tasks",
				"timeout", q.config.DrainTimeout.String(),
			)
			q.cancel()
			<-done
		}
		q.cancel()
	})
	return nil
}

// JobChanged queues a bundle snapshot; implements fusion.Notifier.
// A full buffer drops the task with a warning.
func (q *LocalQueue) JobChanged(_ context.Context, churchID, jobID int64, reason string) {
	p := BundlePayload{
		TaskID:      uuid.New().String(),
		ChurchID:    churchID,
		JobID:       jobID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		q.logger.Warn("Task queue stopped, dropping bundle task", "job_id", jobID)
		return
	}
	select {
	case q.tasks <- p:
	default:
		q.logger.Warn("Task queue full, dropping bundle task",
			"church_id", churchID,
			"job_id", jobID,
			"reason", reason,
		)
	}
}

func (q *LocalQueue) worker(id int) {
	defer q.wg.Done()
	q.logger.Debug("Worker started", "worker", id)

	for p := range q.tasks {
		q.run(p)
	}
	q.logger.Debug("Worker stopping", "worker", id)
}

func (q *LocalQueue) run(p BundlePayload) {
	for attempt := 0; ; attempt++ {
		err := q.handler.Handle(q.ctx, p)
		if err == nil {
			return
		}
		if attempt >= q.config.MaxRetry || q.ctx.Err() != nil {
			q.logger.Error("Task processing failed",
				"type", TypeBundleWrite,
				"task_id", p.TaskID,
				"job_id", p.JobID,
				"attempts", attempt+1,
				"error", err.Error(),
			)
			return
		}

		q.logger.Warn("Task failed, retrying",
			"task_id", p.TaskID,
			"job_id", p.JobID,
			"attempt", attempt+1,
			"error", err.Error(),
		)
		select {
		case <-time.After(q.config.Delay(attempt)):
		case <-q.ctx.Done():
			return
		}
	}
}
