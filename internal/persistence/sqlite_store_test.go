package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "doctrans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedJob(id, owner string) *Job {
	return &Job{
		ID:         id,
		Owner:      owner,
		SourceLang: "English",
		TargetLang: "French",
		FileName:   "contract.pdf",
		MediaType:  "application/pdf",
		TotalPages: 3,
	}
}

func TestSQLiteStore_DebitAndCreate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))

	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))

	bal, err := store.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, bal.PagesBalance)
	assert.Equal(t, 3, bal.PagesUsed)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, 3, job.PagesDebited)
	assert.Nil(t, job.RefundedAt)
}

func TestSQLiteStore_DebitInsufficientBalanceWritesNothing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "bob", 2))

	err := store.DebitAndCreate(ctx, seedJob("job-1", "bob"), 3)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	bal, err := store.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, bal.PagesBalance)

	_, err = store.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLiteStore_DebitUnknownOwner(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	err := store.DebitAndCreate(context.Background(), seedJob("job-1", "nobody"), 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSQLiteStore_RefundExactlyOnce(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))

	refunded, err := store.RefundJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, refunded)

	// A second refund is a no-op.
	refunded, err = store.RefundJob(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, refunded)

	bal, err := store.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, bal.PagesBalance)
	assert.Equal(t, 0, bal.PagesUsed)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.RefundedAt)
}

func TestSQLiteStore_RedebitAfterRefund(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 5))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))

	// Never refunded: redebit charges nothing.
	require.NoError(t, store.RedebitJob(ctx, "job-1"))
	bal, _ := store.Balance(ctx, "alice")
	assert.Equal(t, 2, bal.PagesBalance)

	_, err := store.RefundJob(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, store.RedebitJob(ctx, "job-1"))

	bal, err = store.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, bal.PagesBalance)
	assert.Equal(t, 3, bal.PagesUsed)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, job.RefundedAt)
}

func TestSQLiteStore_SegmentsRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))

	require.NoError(t, store.UpsertSegment(ctx, Segment{JobID: "job-1", Page: 1, Content: "<p>two</p>", Source: "local"}))
	require.NoError(t, store.UpsertSegment(ctx, Segment{JobID: "job-1", Page: 0, Content: "<p>one</p>", Source: "vision"}))
	// Upsert replaces.
	require.NoError(t, store.UpsertSegment(ctx, Segment{JobID: "job-1", Page: 1, Content: "<p>deux</p>", Source: "local"}))

	segs, err := store.ListSegments(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 0, segs[0].Page)
	assert.Equal(t, "<p>deux</p>", segs[1].Content)

	require.NoError(t, store.DeleteSegments(ctx, "job-1"))
	segs, err = store.ListSegments(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestSQLiteStore_ResetJobForRetry(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobFailed, "upstream down"))
	require.NoError(t, store.UpdateJobProgress(ctx, "job-1", 2, 0.66))
	require.NoError(t, store.UpsertSegment(ctx, Segment{JobID: "job-1", Page: 0, Content: "<p>x</p>"}))

	require.NoError(t, store.ResetJobForRetry(ctx, "job-1"))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, 0, job.CurrentPage)
	assert.Zero(t, job.Progress)

	segs, err := store.ListSegments(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestSQLiteStore_ListRecentJobs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.Grant(ctx, "bob", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-a", "alice"), 1))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-b", "alice"), 1))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-c", "bob"), 1))

	list, err := store.ListRecentJobs(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, j := range list {
		assert.Equal(t, "alice", j.Owner)
	}
}

func TestSQLiteStore_AuditTrail(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))
	_, err := store.RefundJob(ctx, "job-1")
	require.NoError(t, err)

	recs, err := store.ListAudit(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, AuditRefund, recs[0].Action)
	assert.Equal(t, AuditDebit, recs[1].Action)
	assert.Equal(t, AuditGrant, recs[2].Action)
}

func TestSQLiteStore_CompleteJob(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))
	require.NoError(t, store.UpdateJobProgress(ctx, "job-1", 2, 66.7))

	require.NoError(t, store.CompleteJob(ctx, "job-1"))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.InDelta(t, 100.0, job.Progress, 0.001)
	assert.Equal(t, job.TotalPages, job.CurrentPage)

	recs, err := store.ListAudit(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, AuditComplete, recs[0].Action)
	assert.Equal(t, "job-1", recs[0].JobID)
	assert.Equal(t, 3, recs[0].Pages)

	// Completing twice leaves a single audit entry.
	require.NoError(t, store.CompleteJob(ctx, "job-1"))
	recs, err = store.ListAudit(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	assert.ErrorIs(t, store.CompleteJob(ctx, "missing"), ErrJobNotFound)
}

func TestSQLiteStore_CompletedJobStaysCompleted(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 3))
	require.NoError(t, store.CompleteJob(ctx, "job-1"))

	err := store.UpdateJobStatus(ctx, "job-1", JobFailed, "late failure")
	assert.ErrorIs(t, err, ErrJobFinalized)
	assert.ErrorIs(t, store.ResetJobForRetry(ctx, "job-1"), ErrJobFinalized)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Empty(t, job.Error)
}

func TestSQLiteStore_UploadsLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Grant(ctx, "alice", 10))
	require.NoError(t, store.DebitAndCreate(ctx, seedJob("job-1", "alice"), 1))
	require.NoError(t, store.SaveUpload(ctx, "job-1", []byte("%PDF-1.7")))

	data, err := store.GetUpload(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)

	// Still pending: not eligible for cleanup.
	n, err := store.DeleteStaleUploads(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobCompleted, ""))
	n, err = store.DeleteStaleUploads(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.GetUpload(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLiteStore_UnknownJob(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.UpdateJobStatus(ctx, "missing", JobCompleted, ""), ErrJobNotFound)
	_, err = store.RefundJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
