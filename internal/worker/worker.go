// Package worker implements the Worker (C6) state machine: one claimed job
// is carried from queued through processing to a terminal state, driving
// RevisionFetcher (C2), CircuitCompiler (C3), artifact persistence (C1), and
// ProviderClient (C4) finalize notifications in sequence (§4.6).
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/compiler"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/fetcher"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/metrics"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/provider"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/queue"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// Config controls Worker retry/backoff policy (§4.6, §6).
type Config struct {
	MaxRetries    int
	BackoffBaseMs int64
	BackoffCapMs  int64
	BotCredential string
	PublicBaseURL string
}

// Deps bundles the components one Worker coordinates per attempt.
type Deps struct {
	Store    store.Store
	Queue    *queue.Queue
	Fetcher  *fetcher.Fetcher
	Compiler *compiler.Compiler
	Provider *provider.Client
	Metrics  *metrics.Metrics
}

// Worker runs the per-attempt state machine described in §4.6. The zero
// value is not usable — create instances with New.
type Worker struct {
	id     string
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker identified by workerID (recorded as Job.WorkerID
// for the duration of its lease).
func New(workerID string, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 1000
	}
	if cfg.BackoffCapMs <= 0 {
		cfg.BackoffCapMs = 30000
	}
	return &Worker{
		id:     workerID,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.String("worker_id", workerID)),
	}
}

// Run claims and processes jobs until ctx is cancelled (§5: "parallel
// worker pool, one worker per OS thread of control" — callers run one Run
// per goroutine sharing a single Store/Queue).
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		default:
		}

		job, err := w.deps.Queue.ClaimNext(ctx, w.id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("claim failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		w.attempt(ctx, job)
	}
}

// attempt runs one claimed job through fetch → compile → persist →
// finalize, classifying any failure into a retry or a terminal failed
// state. It never panics the worker loop: every step's error is handled
// locally.
func (w *Worker) attempt(ctx context.Context, job *store.Job) {
	jobID := job.ID.String()
	log := w.logger.With(zap.String("job_id", jobID), zap.String("deployment_id", job.DeploymentID))

	meta, err := queue.UnmarshalMetadata(job.Metadata)
	if err != nil {
		w.settle(ctx, job, nil, apperr.Wrapf(apperr.KindFatal, "worker: invalid job metadata: %w", err))
		return
	}

	log.Info("attempt started", zap.Int("retry_count", job.RetryCount))
	w.emit(ctx, jobID, 5, "attempt started")

	workspace, err := w.deps.Fetcher.Fetch(ctx, fetcher.Input{
		RepoOwner:          meta.RepoOwner,
		RepoName:           meta.RepoName,
		CommitRef:          meta.CommitRef,
		CredentialToken:    meta.CredentialToken,
		ExplicitArchiveURL: meta.RepoArchiveURL,
	})
	if err != nil {
		w.settle(ctx, job, nil, fmt.Errorf("fetch revision: %w", err))
		return
	}
	// Workspace cleanup is unconditional regardless of what happens next
	// (§3 Workspace lifecycle, §8 invariant 5).
	defer os.RemoveAll(workspace)
	w.emit(ctx, jobID, 20, "revision fetched")

	snapshot, err := w.deps.Compiler.Compile(ctx, workspace, func(stage string, progress int, message string) {
		scaled := 20 + int(math.Round(0.7*float64(progress)))
		w.emit(ctx, jobID, scaled, fmt.Sprintf("compile %s: %s", stage, message))
	})
	if err != nil {
		w.settle(ctx, job, snapshot, fmt.Errorf("compile: %w", err))
		return
	}
	w.emit(ctx, jobID, 90, "compile complete")

	artifacts := artifactInputs(job, snapshot)
	if err := w.deps.Store.InsertArtifacts(ctx, artifacts); err != nil {
		w.settle(ctx, job, snapshot, apperr.Wrapf(apperr.KindRetryable, "worker: persist artifacts: %w", err))
		return
	}
	w.emit(ctx, jobID, 95, fmt.Sprintf("persisted %d artifact(s)", len(artifacts)))

	w.settle(ctx, job, snapshot, nil)
}

// artifactInputs converts a compiler Snapshot into the Store's artifact
// batch shape.
func artifactInputs(job *store.Job, snapshot *compiler.Snapshot) []store.ArtifactInput {
	if snapshot == nil {
		return nil
	}
	inputs := make([]store.ArtifactInput, 0, len(snapshot.Files))
	for _, f := range snapshot.Files {
		inputs = append(inputs, store.ArtifactInput{
			JobID:         job.ID.String(),
			DeploymentID:  job.DeploymentID,
			FileName:      f.Name,
			FilePath:      f.Path,
			FileSizeBytes: f.Metadata.Size,
			Checksum:      f.Metadata.Checksum,
			Payload:       string(f.OutputJSON),
		})
	}
	return inputs
}

// emit appends a log line and updates progress in the Store, matching
// §4.6's "progress updates append a timestamped log line and update
// progress in the same store call" (expressed here as two calls rather than
// one transaction, since GORM's Store already serializes per-row writes).
func (w *Worker) emit(ctx context.Context, jobID string, progress int, message string) {
	if err := w.deps.Store.AppendJobLog(ctx, jobID, message); err != nil {
		w.logger.Warn("failed to append job log", zap.String("job_id", jobID), zap.Error(err))
	}
	p := progress
	if err := w.deps.Store.UpdateJob(ctx, jobID, store.JobFields{Progress: &p}); err != nil {
		w.logger.Warn("failed to update job progress", zap.String("job_id", jobID), zap.Error(err))
	}
}

// backoffFor computes the delay before the (retryCount+1)-th retry, per
// §4.6: min(backoff_base_ms · 2^retry_count, backoff_cap_ms).
func (w *Worker) backoffFor(retryCount int) time.Duration {
	ms := float64(w.cfg.BackoffBaseMs) * math.Pow(2, float64(retryCount))
	if ms > float64(w.cfg.BackoffCapMs) {
		ms = float64(w.cfg.BackoffCapMs)
	}
	return time.Duration(ms) * time.Millisecond
}
