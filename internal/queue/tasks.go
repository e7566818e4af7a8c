/**
 * Background tasks for the fusion worker
 *
 * Job bundle snapshots run after batch save, finalize and commit. They are
 * best-effort: a failed snapshot is retried and logged, never surfaced to
 * the request that triggered it.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/bundle"
	"github.com/adverant/nexus/recordfusion/internal/logging"
)

// TypeBundleWrite is the task type of a job bundle snapshot
const TypeBundleWrite = "bundle:write"

// Defaults shared by the asynq and in-process dispatchers
const (
	DefaultMaxRetry    = 3
	DefaultTaskTimeout = 2 * time.Minute
)

// BundlePayload identifies the job to snapshot
type BundlePayload struct {
	TaskID      string    `json:"taskId"`
	ChurchID    int64     `json:"churchId"`
	JobID       int64     `json:"jobId"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Validate rejects payloads that cannot name a job
func (p BundlePayload) Validate() error {
	if p.ChurchID <= 0 {
		return fmt.Errorf("churchId must be positive, got %d", p.ChurchID)
	}
	if p.JobID <= 0 {
		return fmt.Errorf("jobId must be positive, got %d", p.JobID)
	}
	return nil
}

// ListerFunc resolves the draft source of a church
type ListerFunc func(ctx context.Context, churchID int64) (bundle.DraftLister, error)

// BundleHandler writes job bundles for queued tasks
type BundleHandler struct {
	lister  ListerFunc
	writer  *bundle.Writer
	logger  *logging.Logger
	timeout time.Duration
}

// NewBundleHandler creates the bundle:write handler
func NewBundleHandler(lister ListerFunc, writer *bundle.Writer, logger *logging.Logger) *BundleHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BundleHandler{lister: lister, writer: writer, logger: logger, timeout: DefaultTaskTimeout}
}

// Handle snapshots one job
func (h *BundleHandler) Handle(ctx context.Context, p BundlePayload) error {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	lister, err := h.lister(ctx, p.ChurchID)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant %d: %w", p.ChurchID, err)
	}

	manifest, err := h.writer.Snapshot(ctx, lister, p.ChurchID, p.JobID, p.Reason)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("bundle snapshot timed out after %v: %w", h.timeout, err)
		}
		return err
	}

	h.logger.Info("Job bundle written",
		"task_id", p.TaskID,
		"church_id", p.ChurchID,
		"job_id", p.JobID,
		"reason", p.Reason,
		"drafts", manifest.DraftCount,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

func decodeBundlePayload(data []byte) (BundlePayload, error) {
	var p BundlePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal bundle payload: %w", err)
	}
	return p, p.Validate()
}

// retryDelay is the backoff between attempts: 5s, 10s, 20s ... capped at 60s
func retryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}
