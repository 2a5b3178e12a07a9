package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiflow/doc-translator/internal/persistence"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, 3000)
}

func TestRequiredPages(t *testing.T) {
	c := newTestCoordinator(t)

	assert.Equal(t, 5, c.RequiredPages(ByPageCount(5)))
	assert.Equal(t, 1, c.RequiredPages(ByPageCount(0)))

	assert.Equal(t, 1, c.RequiredPages(ByContentLength(1)))
	assert.Equal(t, 1, c.RequiredPages(ByContentLength(3000)))
	assert.Equal(t, 2, c.RequiredPages(ByContentLength(3001)))
	assert.Equal(t, 1, c.RequiredPages(ByContentLength(0)))
}

func TestChargeAndRelease(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Grant(ctx, "alice", 10))

	job := &persistence.Job{ID: "job-1", Owner: "alice", TargetLang: "French", FileName: "a.pdf", MediaType: "application/pdf"}
	pages, err := c.Charge(ctx, job, ByPageCount(4))
	require.NoError(t, err)
	assert.Equal(t, 4, pages)

	bal, err := c.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 6, bal.PagesBalance)

	refunded, err := c.Release(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, refunded)

	// The refund happens once, no matter how often failure is reported.
	refunded, err = c.Release(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, refunded)

	bal, err = c.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, bal.PagesBalance)
	assert.Equal(t, 0, bal.PagesUsed)
}

func TestChargeInsufficientBalance(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Grant(ctx, "bob", 1))

	job := &persistence.Job{ID: "job-1", Owner: "bob", TargetLang: "French", FileName: "a.pdf", MediaType: "application/pdf"}
	_, err := c.Charge(ctx, job, ByPageCount(2))
	assert.ErrorIs(t, err, persistence.ErrInsufficientBalance)

	// No partial side effects.
	bal, err := c.Balance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bal.PagesBalance)
	assert.Equal(t, 0, bal.PagesUsed)
}

func TestRechargeOnlyAfterRefund(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Grant(ctx, "alice", 6))

	job := &persistence.Job{ID: "job-1", Owner: "alice", TargetLang: "French", FileName: "a.pdf", MediaType: "application/pdf"}
	_, err := c.Charge(ctx, job, ByPageCount(3))
	require.NoError(t, err)

	// Debit still stands: recharge is free.
	require.NoError(t, c.Recharge(ctx, "job-1"))
	bal, _ := c.Balance(ctx, "alice")
	assert.Equal(t, 3, bal.PagesBalance)

	_, err = c.Release(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, c.Recharge(ctx, "job-1"))

	bal, err = c.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, bal.PagesBalance)
	assert.Equal(t, 3, bal.PagesUsed)
}
