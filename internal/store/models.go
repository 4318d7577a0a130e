// Package store is the durable persistence layer for deployments, jobs, and
// artifacts (C1). It is the only component that talks to the database —
// the job queue, worker, and ingest API all go through the Store interface
// defined in store.go.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the fields shared by every model. ID uses UUIDv7
// (time-ordered) so rows sort naturally by creation order without a
// separate index, and B-tree inserts stay sequential under load.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a UUIDv7 if one has not already been set by the
// caller (the Deployment ID is client-supplied and never goes through
// this path).
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// DeploymentStatus is the terminal/non-terminal state of a Deployment.
type DeploymentStatus string

const (
	DeploymentPending DeploymentStatus = "pending"
	DeploymentReady    DeploymentStatus = "ready"
	DeploymentError    DeploymentStatus = "error"
	DeploymentSkipped  DeploymentStatus = "skipped"
)

// IsTerminal reports whether s is one of the terminal deployment states.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentReady, DeploymentError, DeploymentSkipped:
		return true
	default:
		return false
	}
}

// EventKind distinguishes the upstream trigger that created a deployment.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest  EventKind = "pull_request"
)

// Deployment is one request to build a specific revision (§3). The
// deployment_id is client-supplied and is the primary key — a second
// insert with the same ID is rejected by the unique constraint, giving
// us idempotent ingest for free (testable property 8).
type Deployment struct {
	ID                   string     `gorm:"column:deployment_id;type:text;primaryKey"`
	RepoOwner            string     `gorm:"not null;index:idx_deployment_repo"`
	RepoName             string     `gorm:"not null;index:idx_deployment_repo"`
	CommitRef            string     `gorm:"not null"`
	EventKind            EventKind  `gorm:"not null"`
	Meta                 string     `gorm:"default:''"` // PR number or branch name
	Status               DeploymentStatus `gorm:"not null;default:'pending';index"`
	BuildDurationSeconds *float64
	BuildCompletedAt     *time.Time
	TotalSourceFiles     int        `gorm:"not null;default:0"`
	Snapshot             string     `gorm:"type:text"` // opaque JSON, metadata only (see §9)
	CreatedAt            time.Time  `gorm:"not null"`
}

// JobStatus is the lifecycle state of a Job (§4.6 state machine).
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether s is one of completed/failed/cancelled.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is one attempt-capable unit of work realizing a deployment (§3).
// Priority is higher-first; pull_request jobs enqueue at 1, push at 0.
type Job struct {
	base
	DeploymentID string     `gorm:"column:deployment_id;type:text;not null;index"`
	Status       JobStatus  `gorm:"not null;default:'queued';index:idx_job_claim,priority:1"`
	Priority     int        `gorm:"not null;default:0;index:idx_job_claim,priority:2"`
	QueuedAt     time.Time  `gorm:"not null;index:idx_job_claim,priority:3"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RetryCount   int        `gorm:"not null;default:0"`
	WorkerID     string     `gorm:"default:''"`
	Progress     int        `gorm:"not null;default:0"`
	Logs         string     `gorm:"type:text;default:''"`
	ErrorMessage string     `gorm:"type:text;default:''"`
	Metadata     string     `gorm:"type:text;default:'{}'"` // opaque build inputs (JSON)
}

// JobMetadata is the decoded shape of Job.Metadata — the fetch URL,
// upstream-provider credential handle, and event context the Worker
// needs to run an attempt. It is never persisted directly; it is
// marshaled into Job.Metadata by the Ingest API and unmarshaled by the
// Worker at claim time.
type JobMetadata struct {
	RepoOwner       string `json:"repo_owner"`
	RepoName        string `json:"repo_name"`
	CommitRef       string `json:"commit_ref"`
	EventKind       string `json:"event_kind"`
	Environment     string `json:"environment,omitempty"`
	Meta            string `json:"meta"` // PR number (pull_request) or branch name (push) — never the SHA
	RepoArchiveURL  string `json:"repo_archive_url,omitempty"`
	ServerURL       string `json:"server_url,omitempty"`
	RunID           string `json:"run_id,omitempty"`
	CommitSHA       string `json:"commit_sha,omitempty"`
	CommitMessage   string `json:"commit_message,omitempty"`
	UpstreamDeployID int64  `json:"upstream_deploy_id,omitempty"`
	CheckRunID      *int64 `json:"check_run_id,omitempty"`
	CreateRelease   bool   `json:"create_release,omitempty"`
	CredentialToken string `json:"credential_token"`
}

// Artifact is one compiled output file attached to a successful job (§3).
// DeploymentID is denormalized from the owning Job so artifact cascade on
// deployment removal does not require a join.
type Artifact struct {
	base
	JobID          string `gorm:"column:job_id;type:text;not null;index"`
	DeploymentID   string `gorm:"column:deployment_id;type:text;not null;index"`
	FileName       string `gorm:"not null"`
	FilePath       string `gorm:"not null"`
	FileSizeBytes  int64  `gorm:"not null;default:0"`
	Checksum       string `gorm:"not null;index"`
	Payload        string `gorm:"type:text;not null"` // opaque JSON from the compiler
}
