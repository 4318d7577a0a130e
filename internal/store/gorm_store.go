package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// gormStore is the GORM-backed implementation of Store.
type gormStore struct {
	db *DB
}

// New returns a Store backed by the given DB bundle.
func New(db *DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Gorm.WithContext(ctx).Create(d).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDeployment
		}
		return fmt.Errorf("store: create deployment: %w", err)
	}
	return nil
}

func (s *gormStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	err := s.db.Gorm.WithContext(ctx).First(&d, "deployment_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get deployment: %w", err)
	}
	return &d, nil
}

func (s *gormStore) UpdateDeployment(ctx context.Context, id string, fields DeploymentFields) error {
	updates := map[string]interface{}{}
	if fields.Status != nil {
		updates["status"] = *fields.Status
	}
	if fields.TotalSourceFiles != nil {
		updates["total_source_files"] = *fields.TotalSourceFiles
	}
	if fields.Snapshot != nil {
		updates["snapshot"] = *fields.Snapshot
	}
	if fields.BuildDurationSeconds != nil {
		updates["build_duration_seconds"] = *fields.BuildDurationSeconds
	}
	if fields.BuildCompletedAtSet {
		updates["build_completed_at"] = fields.BuildCompletedAt
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.Gorm.WithContext(ctx).Model(&Deployment{}).Where("deployment_id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("store: update deployment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) InsertJob(ctx context.Context, j *Job) error {
	if j.QueuedAt.IsZero() {
		j.QueuedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	if err := s.db.Gorm.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

func (s *gormStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := s.db.Gorm.WithContext(ctx).First(&j, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return &j, nil
}

func (s *gormStore) UpdateJob(ctx context.Context, id string, fields JobFields) error {
	updates := map[string]interface{}{}
	if fields.Status != nil {
		updates["status"] = *fields.Status
	}
	if fields.Priority != nil {
		updates["priority"] = *fields.Priority
	}
	if fields.WorkerID != nil {
		updates["worker_id"] = *fields.WorkerID
	}
	if fields.Progress != nil {
		updates["progress"] = *fields.Progress
	}
	if fields.ErrorMessage != nil {
		updates["error_message"] = *fields.ErrorMessage
	}
	if fields.RetryCount != nil {
		updates["retry_count"] = *fields.RetryCount
	}
	if fields.StartedAtSet {
		updates["started_at"] = fields.StartedAt
	}
	if fields.CompletedAtSet {
		updates["completed_at"] = fields.CompletedAt
	}
	if fields.QueuedAtSet {
		updates["queued_at"] = fields.QueuedAt
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.Gorm.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("store: update job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendJobLog uses a store-level append primitive (SQL concatenation)
// rather than a client-side read-modify-write, so concurrent appends never
// race (§9 design notes). GORM's database-agnostic expression builder
// covers both sqlite and postgres with the same call.
func (s *gormStore) AppendJobLog(ctx context.Context, id string, line string) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("[%s] %s\n", ts, line)

	result := s.db.Gorm.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Update("logs", gorm.Expr("logs || ?", entry))
	if result.Error != nil {
		return fmt.Errorf("store: append job log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) InsertArtifacts(ctx context.Context, artifacts []ArtifactInput) error {
	if len(artifacts) == 0 {
		return nil
	}
	rows := make([]Artifact, len(artifacts))
	now := time.Now().UTC()
	for i, a := range artifacts {
		rows[i] = Artifact{
			JobID:         a.JobID,
			DeploymentID:  a.DeploymentID,
			FileName:      a.FileName,
			FilePath:      a.FilePath,
			FileSizeBytes: a.FileSizeBytes,
			Checksum:      a.Checksum,
			Payload:       a.Payload,
		}
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
	}

	// A single transaction makes the batch atomic: all rows persist or
	// none are visible (§3 Artifact invariant).
	return s.db.Gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("store: insert artifacts: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	err := s.db.Gorm.WithContext(ctx).First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get artifact: %w", err)
	}
	return &a, nil
}

func (s *gormStore) ListArtifactsByJob(ctx context.Context, jobID string) ([]Artifact, error) {
	var artifacts []Artifact
	if err := s.db.Gorm.WithContext(ctx).Where("job_id = ?", jobID).Order("file_path ASC").Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("store: list artifacts by job: %w", err)
	}
	return artifacts, nil
}

func (s *gormStore) GetArtifactByChecksum(ctx context.Context, checksum string) (*Artifact, error) {
	var a Artifact
	err := s.db.Gorm.WithContext(ctx).First(&a, "checksum = ?", checksum).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get artifact by checksum: %w", err)
	}
	return &a, nil
}

func (s *gormStore) QueuedJobCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.Gorm.WithContext(ctx).Model(&Job{}).Where("status = ?", JobQueued).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: queued job count: %w", err)
	}
	return int(count), nil
}

func (s *gormStore) QueueDepthByPriority(ctx context.Context) (map[int]int, error) {
	var rows []struct {
		Priority int
		Count    int64
	}
	err := s.db.Gorm.WithContext(ctx).Model(&Job{}).
		Select("priority, count(*) as count").
		Where("status = ?", JobQueued).
		Group("priority").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: queue depth by priority: %w", err)
	}
	depth := make(map[int]int, len(rows))
	for _, r := range rows {
		depth[r.Priority] = int(r.Count)
	}
	return depth, nil
}

func (s *gormStore) QueuePosition(ctx context.Context, jobID string) (int, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != JobQueued {
		return 0, nil
	}

	var ahead int64
	err = s.db.Gorm.WithContext(ctx).Model(&Job{}).
		Where("status = ?", JobQueued).
		Where("priority > ? OR (priority = ? AND queued_at < ?)", job.Priority, job.Priority, job.QueuedAt).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("store: queue position: %w", err)
	}
	return int(ahead) + 1, nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *gormStore) ClaimNextJob(ctx context.Context, workerID string) (*Job, error) {
	return claimNextJob(ctx, s.db.Gorm, s.db.Driver, workerID)
}

func (s *gormStore) SweepExpiredLeases(ctx context.Context, maxAttemptDuration time.Duration) ([]string, error) {
	return sweepExpiredLeases(ctx, s.db.Gorm, s.db.Driver, maxAttemptDuration)
}

// isUniqueViolation reports whether err looks like a primary-key or unique
// constraint violation across sqlite and postgres driver error strings.
// Both drivers return different concrete error types here (sqlite3.Error vs
// pgconn.PgError) so a substring check on the formatted message is the most
// portable option without importing both driver packages into this file.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "23505")
}
