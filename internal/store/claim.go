package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimNextJob atomically selects the highest-priority, oldest-queued job
// and transitions it to processing. Every field mutation happens inside the
// same transaction that holds the row lock, so two workers can never both
// observe the row as queued (§8 invariant 2).
// claimNextJob's queued_at <= now() guard is what makes backoff real: the
// Worker requeues a retryable failure with queued_at set in the future, so
// the row stays invisible to this query until the backoff elapses (§8
// invariant 7), rather than relying on a sleep that would hold the claim.
//
// On postgres the candidate row is locked with SELECT ... FOR UPDATE SKIP
// LOCKED, so a concurrent worker claiming at the same instant skips straight
// to the next candidate instead of blocking on it. SQLite has no such
// clause — modernc's driver rejects "FOR UPDATE SKIP LOCKED" outright — but
// SQLite only ever allows one writer at a time (db.go caps the pool at one
// connection), so the surrounding transaction already serializes claims
// without it.
func claimNextJob(ctx context.Context, db *gorm.DB, driver, workerID string) (*Job, error) {
	var claimed Job

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if driver == "postgres" {
			tx = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job Job
		err := tx.
			Where("status = ? AND queued_at <= ?", JobQueued, time.Now().UTC()).
			Order("priority DESC, queued_at ASC").
			First(&job).Error
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":     JobProcessing,
			"worker_id":  workerID,
			"started_at": now,
			"progress":   0,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNoJobClaimed
		}

		job.Status = JobProcessing
		job.WorkerID = workerID
		job.StartedAt = &now
		job.Progress = 0
		claimed = job
		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoJobClaimed
		}
		if errors.Is(err, ErrNoJobClaimed) {
			return nil, ErrNoJobClaimed
		}
		return nil, fmt.Errorf("store: claim next job: %w", err)
	}
	return &claimed, nil
}

// sweepExpiredLeases requeues any job in processing whose started_at is
// older than maxAttemptDuration — the worker holding it is presumed dead
// (crashed, killed, network-partitioned). Each recovered job's retry_count
// is incremented exactly once per sweep hit, never per sweep tick, because
// the WHERE clause only matches rows still in processing; once a sweep
// requeues a row it moves to "queued" and drops out of the next tick's
// candidate set (§8 invariant 9).
//
// Row locking follows the same postgres-only rule as claimNextJob: SQLite's
// single-writer transaction already serializes concurrent sweeps/claims, and
// SKIP LOCKED is not valid SQLite syntax.
func sweepExpiredLeases(ctx context.Context, db *gorm.DB, driver string, maxAttemptDuration time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxAttemptDuration)
	var recovered []string

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if driver == "postgres" {
			tx = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var expired []Job
		err := tx.
			Where("status = ? AND started_at < ?", JobProcessing, cutoff).
			Find(&expired).Error
		if err != nil {
			return err
		}

		for _, job := range expired {
			result := tx.Model(&Job{}).Where("id = ? AND status = ?", job.ID, JobProcessing).
				Updates(map[string]interface{}{
					"status":      JobQueued,
					"worker_id":   "",
					"started_at":  nil,
					"retry_count": job.RetryCount + 1,
					"queued_at":   time.Now().UTC(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				recovered = append(recovered, job.ID.String())
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: sweep expired leases: %w", err)
	}
	return recovered, nil
}
