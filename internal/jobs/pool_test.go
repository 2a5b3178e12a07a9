package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPoolRunsSubmittedJob(t *testing.T) {
	p := NewPool(2)
	p.Start()
	defer p.Stop(context.Background())

	var ran atomic.Bool
	require.True(t, p.Submit("job-1", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	eventually(t, func() bool {
		st, ok := p.Status("job-1")
		return ok && st.State == StateDone
	})
	assert.True(t, ran.Load())
}

func TestPoolRecordsFailure(t *testing.T) {
	p := NewPool(1)
	p.Start()
	defer p.Stop(context.Background())

	p.Submit("job-err", func(ctx context.Context) error {
		return errors.New("boom")
	})

	eventually(t, func() bool {
		st, ok := p.Status("job-err")
		return ok && st.State == StateFailed
	})
	st, _ := p.Status("job-err")
	assert.Equal(t, "boom", st.Err)
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(1)
	p.Start()
	defer p.Stop(context.Background())

	p.Submit("job-panic", func(ctx context.Context) error {
		panic("unexpected")
	})
	// The worker survives and keeps serving.
	p.Submit("job-after", func(ctx context.Context) error { return nil })

	eventually(t, func() bool {
		a, ok1 := p.Status("job-panic")
		b, ok2 := p.Status("job-after")
		return ok1 && ok2 && a.State == StateFailed && b.State == StateDone
	})
	st, _ := p.Status("job-panic")
	assert.Contains(t, st.Err, "panic")
}

func TestPoolRejectsDuplicateActiveJob(t *testing.T) {
	p := NewPool(1)
	p.Start()
	defer p.Stop(context.Background())

	release := make(chan struct{})
	require.True(t, p.Submit("dup", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.False(t, p.Submit("dup", func(ctx context.Context) error { return nil }))
	close(release)

	eventually(t, func() bool {
		st, ok := p.Status("dup")
		return ok && st.State == StateDone
	})
	// Finished jobs may be submitted again, as for a manual retry.
	assert.True(t, p.Submit("dup", func(ctx context.Context) error { return nil }))
}

func TestPoolPurgeDropsOldResults(t *testing.T) {
	p := NewPool(1)
	p.Start()
	defer p.Stop(context.Background())

	p.Submit("old", func(ctx context.Context) error { return nil })
	eventually(t, func() bool {
		st, ok := p.Status("old")
		return ok && st.State.Terminal()
	})

	assert.Equal(t, 0, p.Purge(time.Hour))
	assert.Equal(t, 1, p.Purge(0))
	_, ok := p.Status("old")
	assert.False(t, ok)
}

func TestPoolStopWaitsForWorkers(t *testing.T) {
	p := NewPool(2)
	p.Start()

	var finished atomic.Int32
	for i := 0; i < 4; i++ {
		p.Submit(string(rune('a'+i)), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, int32(4), finished.Load())
}
