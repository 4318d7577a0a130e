// Package ingest implements the Ingest API (C7): the single entry point
// that turns a validated build request into a persisted Deployment and a
// queued Job (§4.7). It is a thin boundary — all durable writes go through
// Store/Queue, never directly to a driver.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/queue"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// ErrUnknownEventKind is returned when Request.EventType is neither "push"
// nor "pull_request" (§4.7: "Rejects unknown event_kind with a classified
// user error").
var ErrUnknownEventKind = apperr.Wrapf(apperr.KindNonRetryable, "ingest: unknown event_kind")

// Context carries the request-scoped fields surfaced through the Ingest
// API's JSON body (§6) that don't map onto a field in the Request struct
// below — the serverUrl/runId/sha/message nested object.
type Context struct {
	ServerURL string `json:"serverUrl"`
	RunID     string `json:"runId"`
	SHA       string `json:"sha"`
	Message   string `json:"message"`
}

// Request is the decoded, not-yet-validated shape of an ingest call (§6).
type Request struct {
	ID             string  `json:"id" validate:"required,max=36"`
	Owner          string  `json:"owner" validate:"required"`
	Repo           string  `json:"repo" validate:"required"`
	Ref            string  `json:"ref" validate:"required"`
	Environment    string  `json:"environment" validate:"omitempty,oneof=production staging preview"`
	EventType      string  `json:"eventType" validate:"required"`
	Meta           string  `json:"meta"` // PR number (pull_request) or branch name (push)
	Context        Context `json:"context"`
	DeploymentID   int64   `json:"deploymentId"`
	CheckRunID     *int64  `json:"checkRunId,omitempty"`
	CreateRelease  bool    `json:"create_release,omitempty"`
	RepoArchiveURL string  `json:"repoArchiveUrl,omitempty"`
}

// Result is the Ingest API's response payload (§6).
type Result struct {
	DeploymentID  string `json:"deploymentId"`
	JobID         string `json:"jobId"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queuePosition"`
	Message       string `json:"message"`
}

// Ingester is C7. The zero value is not usable — construct with New.
type Ingester struct {
	store     store.Store
	queue     *queue.Queue
	validate  *validator.Validate
	logger    *zap.Logger
}

// New constructs an Ingester.
func New(st store.Store, q *queue.Queue, logger *zap.Logger) *Ingester {
	return &Ingester{
		store:    st,
		queue:    q,
		validate: validator.New(),
		logger:   logger.Named("ingest"),
	}
}

// Submit validates req, inserts a pending Deployment, and enqueues a Job at
// priority 1 for pull_request events or 0 for push events (§4.7). credential
// is the caller-supplied provider token, carried opaquely into the job's
// metadata for the Worker/ProviderClient to use at finalize time.
func (ing *Ingester) Submit(ctx context.Context, req Request, credential string) (*Result, error) {
	if err := ing.validate.Struct(req); err != nil {
		return nil, apperr.Wrapf(apperr.KindNonRetryable, "ingest: invalid request: %w", err)
	}

	eventKind, priority, err := classifyEvent(req.EventType)
	if err != nil {
		return nil, err
	}

	deployment := &store.Deployment{
		ID:        req.ID,
		RepoOwner: req.Owner,
		RepoName:  req.Repo,
		CommitRef: req.Ref,
		EventKind: eventKind,
		Meta:      req.Meta,
		Status:    store.DeploymentPending,
	}
	if err := ing.store.CreateDeployment(ctx, deployment); err != nil {
		if errors.Is(err, store.ErrDuplicateDeployment) {
			return nil, apperr.Wrapf(apperr.KindNonRetryable, "ingest: deployment already exists: %w", err)
		}
		return nil, apperr.Wrapf(apperr.KindRetryable, "ingest: failed to create deployment: %w", err)
	}

	meta := store.JobMetadata{
		RepoOwner:        req.Owner,
		RepoName:         req.Repo,
		CommitRef:        req.Ref,
		EventKind:        string(eventKind),
		Environment:      req.Environment,
		Meta:             req.Meta,
		RepoArchiveURL:   req.RepoArchiveURL,
		ServerURL:        req.Context.ServerURL,
		RunID:            req.Context.RunID,
		CommitSHA:        req.Context.SHA,
		CommitMessage:    req.Context.Message,
		UpstreamDeployID: req.DeploymentID,
		CheckRunID:       req.CheckRunID,
		CreateRelease:    req.CreateRelease,
		CredentialToken:  credential,
	}

	jobID, err := ing.queue.Enqueue(ctx, queue.EnqueueInput{
		DeploymentID: req.ID,
		Priority:     priority,
		Metadata:     meta,
	})
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindRetryable, "ingest: failed to enqueue job: %w", err)
	}

	status, err := ing.queue.Status(ctx, jobID)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindRetryable, "ingest: failed to read queued job status: %w", err)
	}

	ing.logger.Info("deployment ingested",
		zap.String("deployment_id", req.ID),
		zap.String("job_id", jobID),
		zap.Int("priority", priority),
	)

	return &Result{
		DeploymentID:  req.ID,
		JobID:         jobID,
		Status:        string(status.Status),
		QueuePosition: status.QueuePosition,
		Message:       fmt.Sprintf("build queued for %s/%s@%s", req.Owner, req.Repo, req.Ref),
	}, nil
}

// classifyEvent maps an eventType string onto its EventKind and queue
// priority (§3, §4.7: pull_request enqueues at priority 1, push at 0).
func classifyEvent(eventType string) (store.EventKind, int, error) {
	switch eventType {
	case string(store.EventPush):
		return store.EventPush, 0, nil
	case string(store.EventPullRequest):
		return store.EventPullRequest, 1, nil
	default:
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, eventType)
	}
}
