package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/compiler"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// settle decides the outcome of one attempt and applies it: on success the
// job and deployment are marked completed/ready and finalize notifications
// fire; on failure it either requeues for retry (with a future queued_at
// enforcing backoff) or marks the job/deployment terminally failed —
// finalize notifications fire on that terminal-failure path too (§8
// scenario S4: a non-retryable 404 still drives a deployment=error update,
// a provider failure notification, and a PR comment — finalize is never
// conditioned on job success).
func (w *Worker) settle(ctx context.Context, job *store.Job, snapshot *compiler.Snapshot, attemptErr error) {
	jobID := job.ID.String()
	log := w.logger.With(zap.String("job_id", jobID))

	if attemptErr == nil {
		w.completeJob(ctx, job, snapshot)
		return
	}

	kind := apperr.KindOf(attemptErr)
	retryable := kind == apperr.KindRetryable
	exhausted := job.RetryCount+1 > w.cfg.MaxRetries

	if retryable && !exhausted {
		w.requeueJob(ctx, job, attemptErr)
		return
	}

	log.Warn("attempt failed terminally",
		zap.Error(attemptErr),
		zap.String("kind", kind.String()),
		zap.Bool("retries_exhausted", exhausted),
	)
	w.failJob(ctx, job, snapshot, attemptErr)
}

// completeJob transitions a job to completed and its deployment to ready,
// then runs best-effort finalize notifications.
func (w *Worker) completeJob(ctx context.Context, job *store.Job, snapshot *compiler.Snapshot) {
	now := time.Now().UTC()
	progress := 100
	status := store.JobCompleted
	if err := w.deps.Store.UpdateJob(ctx, job.ID.String(), store.JobFields{
		Status:         &status,
		Progress:       &progress,
		CompletedAtSet: true,
		CompletedAt:    &now,
	}); err != nil {
		w.logger.Error("failed to mark job completed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	if err := w.deps.Store.AppendJobLog(ctx, job.ID.String(), "build completed"); err != nil {
		w.logger.Warn("failed to append completion log", zap.Error(err))
	}

	dstatus := store.DeploymentReady
	fields := store.DeploymentFields{
		Status:              &dstatus,
		BuildCompletedAtSet: true,
		BuildCompletedAt:    &now,
	}
	if job.StartedAt != nil {
		secs := now.Sub(*job.StartedAt).Seconds()
		fields.BuildDurationSeconds = &secs
		if w.deps.Metrics != nil {
			w.deps.Metrics.ObserveJobDuration("completed", secs)
		}
	}
	if snapshot != nil {
		fields.TotalSourceFiles = intp(len(snapshot.Files))
		if snap, err := marshalSnapshotMeta(snapshot); err == nil {
			fields.Snapshot = &snap
		}
	}
	if err := w.deps.Store.UpdateDeployment(ctx, job.DeploymentID, fields); err != nil {
		w.logger.Error("failed to mark deployment ready", zap.String("deployment_id", job.DeploymentID), zap.Error(err))
	}

	w.finalizeNotify(ctx, job, true, "")
}

// requeueJob increments retry_count and sets queued_at in the future so the
// claim query's "queued_at <= now()" guard enforces backoff without a
// blocking sleep (§4.6, §8 invariant 7).
func (w *Worker) requeueJob(ctx context.Context, job *store.Job, attemptErr error) {
	retryCount := job.RetryCount + 1
	backoff := w.backoffFor(job.RetryCount)
	queuedAt := time.Now().UTC().Add(backoff)
	status := store.JobQueued
	msg := attemptErr.Error()
	empty := ""

	if err := w.deps.Store.UpdateJob(ctx, job.ID.String(), store.JobFields{
		Status:       &status,
		RetryCount:   &retryCount,
		ErrorMessage: &msg,
		WorkerID:     &empty,
		QueuedAtSet:  true,
		QueuedAt:     &queuedAt,
	}); err != nil {
		w.logger.Error("failed to requeue job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if err := w.deps.Store.AppendJobLog(ctx, job.ID.String(), "attempt failed, retrying: "+msg); err != nil {
		w.logger.Warn("failed to append retry log", zap.Error(err))
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.JobRetries.Inc()
	}
	w.logger.Info("job requeued for retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", retryCount),
		zap.Duration("backoff", backoff),
	)
}

// failJob transitions a job and its deployment to a terminal failure state
// and runs best-effort finalize notifications (§8 scenario S4: retry_count
// still increments by one even though this attempt never retries).
func (w *Worker) failJob(ctx context.Context, job *store.Job, snapshot *compiler.Snapshot, attemptErr error) {
	now := time.Now().UTC()
	retryCount := job.RetryCount + 1
	status := store.JobFailed
	msg := attemptErr.Error()

	if err := w.deps.Store.UpdateJob(ctx, job.ID.String(), store.JobFields{
		Status:         &status,
		RetryCount:     &retryCount,
		ErrorMessage:   &msg,
		CompletedAtSet: true,
		CompletedAt:    &now,
	}); err != nil {
		w.logger.Error("failed to mark job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	if err := w.deps.Store.AppendJobLog(ctx, job.ID.String(), "build failed: "+msg); err != nil {
		w.logger.Warn("failed to append failure log", zap.Error(err))
	}

	dstatus := store.DeploymentError
	fields := store.DeploymentFields{
		Status:              &dstatus,
		BuildCompletedAtSet: true,
		BuildCompletedAt:    &now,
	}
	if job.StartedAt != nil {
		secs := now.Sub(*job.StartedAt).Seconds()
		fields.BuildDurationSeconds = &secs
		if w.deps.Metrics != nil {
			w.deps.Metrics.ObserveJobDuration("failed", secs)
		}
	}
	if err := w.deps.Store.UpdateDeployment(ctx, job.DeploymentID, fields); err != nil {
		w.logger.Error("failed to mark deployment error", zap.String("deployment_id", job.DeploymentID), zap.Error(err))
	}

	w.finalizeNotify(ctx, job, false, msg)
}

func intp(n int) *int { return &n }
