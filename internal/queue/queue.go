// Package queue implements JobQueue (C5): the priority-FIFO layer between
// the Ingest API and the Worker pool. It owns no storage of its own — every
// durable operation delegates to internal/store — and adds the two things a
// bare repository doesn't: a wakeup signal so idle workers don't have to
// poll on a tight timer, and a periodic sweep that recovers jobs abandoned
// by a dead worker.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// EnqueueInput is the data needed to admit a new job for a deployment.
type EnqueueInput struct {
	DeploymentID string
	Priority     int
	Metadata     store.JobMetadata
}

// Status is a point-in-time snapshot of a job, used to answer the status
// query endpoint (§6).
type Status struct {
	JobID         string
	DeploymentID  string
	Status        store.JobStatus
	Progress      int
	QueuePosition int
	ErrorMessage  string
}

// Queue is JobQueue (§4.5). The zero value is not usable — create instances
// with New.
type Queue struct {
	store    store.Store
	notifier *notifier
	logger   *zap.Logger

	idlePollInterval time.Duration
}

// Config controls Queue behavior.
type Config struct {
	// IdlePollInterval bounds how long ClaimNext blocks before re-checking
	// the store even with no wakeup signal — a safety net against a missed
	// or coalesced notification (§4.5).
	IdlePollInterval time.Duration

	// RedisURL enables cross-process wakeup via redis pub/sub. Empty
	// disables it — wakeup then only fires within this process.
	RedisURL string
}

// New constructs a Queue. If cfg.RedisURL is set, wakeup signals are
// published/subscribed over redis so that multiple server processes sharing
// one store wake each other's workers; otherwise wakeup is in-process only.
func New(ctx context.Context, st store.Store, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = 5 * time.Second
	}
	log := logger.Named("queue")

	n, err := newNotifier(ctx, cfg.RedisURL, log)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to initialize notifier: %w", err)
	}

	return &Queue{
		store:            st,
		notifier:         n,
		logger:           log,
		idlePollInterval: cfg.IdlePollInterval,
	}, nil
}

// Close releases the notifier's connections, if any.
func (q *Queue) Close() error {
	return q.notifier.Close()
}

// Enqueue admits a new job in status=queued and wakes one idle worker.
// priority is higher-first: pull_request jobs enqueue at 1, push at 0 (§3).
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (string, error) {
	meta, err := marshalMetadata(in.Metadata)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal job metadata: %w", err)
	}

	job := &store.Job{
		DeploymentID: in.DeploymentID,
		Status:       store.JobQueued,
		Priority:     in.Priority,
		QueuedAt:     time.Now().UTC(),
		Metadata:     meta,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("queue: failed to insert job: %w", err)
	}

	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("deployment_id", in.DeploymentID),
		zap.Int("priority", in.Priority),
	)
	q.notifier.wake()
	return job.ID.String(), nil
}

// ClaimNext blocks until a queued job is available, ctx is cancelled, or the
// idle poll interval elapses without one — whichever comes first — then
// attempts exactly one atomic claim. Callers (the Worker loop) are expected
// to call this in a tight loop; a nil, nil return means "no job right now,
// try again."
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*store.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.notifier.wakeups():
	case <-time.After(q.idlePollInterval):
	}

	job, err := q.store.ClaimNextJob(ctx, workerID)
	if err != nil {
		if err == store.ErrNoJobClaimed {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: failed to claim job: %w", err)
	}
	return job, nil
}

// Status returns a point-in-time snapshot for the status query endpoint.
func (q *Queue) Status(ctx context.Context, jobID string) (*Status, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	position := 0
	if job.Status == store.JobQueued {
		position, err = q.store.QueuePosition(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("queue: failed to compute queue position: %w", err)
		}
	}

	return &Status{
		JobID:         job.ID.String(),
		DeploymentID:  job.DeploymentID,
		Status:        job.Status,
		Progress:      job.Progress,
		QueuePosition: position,
		ErrorMessage:  job.ErrorMessage,
	}, nil
}

// QueuedCount returns the number of jobs currently queued.
func (q *Queue) QueuedCount(ctx context.Context) (int, error) {
	return q.store.QueuedJobCount(ctx)
}

// NewSweeper builds a Sweeper wired to this Queue's store and notifier, so a
// recovered lease wakes the same idle workers Enqueue does.
func (q *Queue) NewSweeper(maxAttemptDuration, interval time.Duration) (*Sweeper, error) {
	return NewSweeper(q.store, q.notifier, maxAttemptDuration, interval, q.logger)
}
