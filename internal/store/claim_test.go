package store_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "store Suite")
}

func openTestStore() store.Store {
	db, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    ":memory:",
		Logger: zap.NewNop(),
	})
	Expect(err).NotTo(HaveOccurred())
	return store.New(db)
}

var _ = Describe("job claiming", func() {
	var (
		ctx context.Context
		st  store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = openTestStore()
		Expect(st.CreateDeployment(ctx, &store.Deployment{
			ID:        "D1",
			RepoOwner: "tscircuit",
			RepoName:  "example",
			CommitRef: "abc",
			EventKind: store.EventPush,
			Status:    store.DeploymentPending,
		})).To(Succeed())
	})

	It("claims the only queued job and transitions it to processing", func() {
		job := &store.Job{DeploymentID: "D1", Status: store.JobQueued, QueuedAt: time.Now().UTC()}
		Expect(st.InsertJob(ctx, job)).To(Succeed())

		claimed, err := st.ClaimNextJob(ctx, "worker-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed.ID).To(Equal(job.ID))
		Expect(claimed.Status).To(Equal(store.JobProcessing))
		Expect(claimed.WorkerID).To(Equal("worker-1"))
	})

	It("returns ErrNoJobClaimed when the queue is empty", func() {
		_, err := st.ClaimNextJob(ctx, "worker-1")
		Expect(err).To(MatchError(store.ErrNoJobClaimed))
	})

	It("does not claim a job whose queued_at is in the future (backoff in effect)", func() {
		job := &store.Job{
			DeploymentID: "D1",
			Status:       store.JobQueued,
			QueuedAt:     time.Now().UTC().Add(1 * time.Hour),
		}
		Expect(st.InsertJob(ctx, job)).To(Succeed())

		_, err := st.ClaimNextJob(ctx, "worker-1")
		Expect(err).To(MatchError(store.ErrNoJobClaimed))
	})

	It("prefers the higher-priority job regardless of insertion order", func() {
		low := &store.Job{DeploymentID: "D1", Status: store.JobQueued, Priority: 0, QueuedAt: time.Now().UTC().Add(-time.Second)}
		Expect(st.InsertJob(ctx, low)).To(Succeed())
		high := &store.Job{DeploymentID: "D1", Status: store.JobQueued, Priority: 1, QueuedAt: time.Now().UTC()}
		Expect(st.InsertJob(ctx, high)).To(Succeed())

		claimed, err := st.ClaimNextJob(ctx, "worker-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed.ID).To(Equal(high.ID))
	})
})

var _ = Describe("lease recovery", func() {
	It("requeues a job whose lease has expired, incrementing retry_count", func() {
		ctx := context.Background()
		st := openTestStore()
		Expect(st.CreateDeployment(ctx, &store.Deployment{
			ID: "D2", RepoOwner: "o", RepoName: "r", CommitRef: "abc", EventKind: store.EventPush,
		})).To(Succeed())

		job := &store.Job{DeploymentID: "D2", Status: store.JobQueued, QueuedAt: time.Now().UTC()}
		Expect(st.InsertJob(ctx, job)).To(Succeed())

		claimed, err := st.ClaimNextJob(ctx, "worker-1")
		Expect(err).NotTo(HaveOccurred())

		stale := claimed.StartedAt.Add(-1 * time.Hour)
		Expect(st.UpdateJob(ctx, claimed.ID.String(), store.JobFields{
			StartedAtSet: true,
			StartedAt:    &stale,
		})).To(Succeed())

		recovered, err := st.SweepExpiredLeases(ctx, 20*time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(recovered).To(ConsistOf(claimed.ID.String()))

		refreshed, err := st.GetJob(ctx, claimed.ID.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.Status).To(Equal(store.JobQueued))
		Expect(refreshed.RetryCount).To(Equal(1))
	})
})
