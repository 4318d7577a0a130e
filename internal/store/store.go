package store

import (
	"context"
	"time"
)

// ArtifactInput is the data needed to persist one compiled output file.
// Store assigns the ID and CreatedAt.
type ArtifactInput struct {
	JobID         string
	DeploymentID  string
	FileName      string
	FilePath      string
	FileSizeBytes int64
	Checksum      string
	Payload       string
}

// JobFields carries a partial update to a Job row. Nil/zero fields are left
// untouched except where noted — callers build this with only the fields
// they intend to change (mirrors the teacher's map[string]interface{}
// Updates() pattern, typed instead of stringly keyed).
type JobFields struct {
	Status       *JobStatus
	Priority     *int
	WorkerID     *string
	Progress     *int
	ErrorMessage *string
	RetryCount   *int
	StartedAtSet bool
	StartedAt    *time.Time
	CompletedAtSet bool
	CompletedAt  *time.Time
	QueuedAtSet  bool
	QueuedAt     *time.Time
}

// DeploymentFields carries a partial update to a Deployment row.
type DeploymentFields struct {
	Status                  *DeploymentStatus
	TotalSourceFiles         *int
	Snapshot                 *string
	BuildDurationSeconds     *float64
	BuildCompletedAtSet      bool
	BuildCompletedAt         *time.Time
}

// Store is the durable persistence interface for C1 (§4.1). It is the only
// component permitted to touch the Deployment/Job/Artifact tables; every
// other component (JobQueue, Worker, Ingest API) depends on this interface,
// never on a concrete driver.
type Store interface {
	// CreateDeployment inserts a new deployment row with status=pending.
	// Returns ErrDuplicateDeployment if deployment_id already exists.
	CreateDeployment(ctx context.Context, d *Deployment) error

	// GetDeployment retrieves a deployment by ID.
	GetDeployment(ctx context.Context, id string) (*Deployment, error)

	// UpdateDeployment applies a partial update to a deployment row.
	UpdateDeployment(ctx context.Context, id string, fields DeploymentFields) error

	// InsertJob inserts a new job row with status=queued.
	InsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob applies a partial update to a job row.
	UpdateJob(ctx context.Context, id string, fields JobFields) error

	// AppendJobLog appends one timestamped line to the job's log column
	// using a store-level append primitive rather than client-side
	// read-modify-write (§9 design notes: "mutable shared log column").
	AppendJobLog(ctx context.Context, id string, line string) error

	// ClaimNextJob atomically selects the oldest queued job with the
	// highest priority (tie-break by queued_at ascending), transitions it
	// to processing, and sets worker_id/started_at in the same
	// transaction (§4.1, §8 invariant 2 "atomic claim"). Returns
	// ErrNoJobClaimed if the queue is empty.
	ClaimNextJob(ctx context.Context, workerID string) (*Job, error)

	// SweepExpiredLeases requeues any job in processing whose started_at
	// predecessor lease has exceeded maxAttemptDuration, incrementing
	// retry_count exactly once per sweep hit (§5, §8 invariant 9). It
	// returns the IDs of jobs it recovered.
	SweepExpiredLeases(ctx context.Context, maxAttemptDuration time.Duration) ([]string, error)

	// InsertArtifacts persists a batch of artifacts atomically — all
	// persist or none are visible (§3 Artifact invariant, §8 invariant 6).
	InsertArtifacts(ctx context.Context, artifacts []ArtifactInput) error

	// GetArtifact retrieves one artifact by ID, for the artifact download
	// endpoint (§6).
	GetArtifact(ctx context.Context, id string) (*Artifact, error)

	// ListArtifactsByJob returns every artifact attached to a job, used by
	// the Worker to build review-comment links at finalize time and by the
	// artifact listing endpoint.
	ListArtifactsByJob(ctx context.Context, jobID string) ([]Artifact, error)

	// GetArtifactByChecksum looks up an artifact by its content checksum,
	// for dedup-aware callers (SPEC_FULL §12.3).
	GetArtifactByChecksum(ctx context.Context, checksum string) (*Artifact, error)

	// QueuedJobCount returns the number of jobs currently in status=queued.
	QueuedJobCount(ctx context.Context) (int, error)

	// QueueDepthByPriority returns the count of queued jobs grouped by
	// priority, for the build_queue_depth gauge (SPEC_FULL §12.1).
	QueueDepthByPriority(ctx context.Context) (map[int]int, error)

	// QueuePosition returns the 1-based position of a queued job within
	// the priority-FIFO ordering, or 0 if the job is not currently queued.
	QueuePosition(ctx context.Context, jobID string) (int, error)

	// Ping verifies the underlying connection is alive.
	Ping(ctx context.Context) error
}
