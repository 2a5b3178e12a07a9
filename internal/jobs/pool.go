package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lexiflow/doc-translator/pkg/log"
)

// State of a tracked job inside the pool.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Terminal reports whether a state will never change again.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Status is a snapshot of one job's execution.
type Status struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Err        string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Work is one unit of background execution. The context is the pool's
// lifetime context and is cancelled on Stop.
type Work func(ctx context.Context) error

const (
	queueDepth = 256
	// maxResults bounds the terminal registry between purge runs.
	maxResults = 1024
)

type task struct {
	id   string
	work Work
}

// Pool runs submitted jobs on a fixed set of workers. Each job id is
// tracked from enqueue to completion, and terminal results stay queryable
// until purged.
type Pool struct {
	workers int
	queue   chan task

	mu      sync.Mutex
	active  map[string]*Status
	results map[string]*Status
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		queue:   make(chan task, queueDepth),
		active:  make(map[string]*Status),
		results: make(map[string]*Status),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		log.Info("Job pool started with %d workers", p.workers)
	})
}

// Stop drains queued work and waits for the workers, up to the deadline of
// the given context. Past the deadline, running jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("job pool shutdown: %w", ctx.Err())
	}
}

// Submit enqueues a job. It refuses duplicates of a job that is still
// pending or running, and refuses when the queue is full or the pool is
// shutting down.
func (p *Pool) Submit(id string, work Work) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	defer p.mu.Unlock()
	if _, dup := p.active[id]; dup {
		log.Warn("Job %s already queued, submission ignored", id)
		return false
	}
	select {
	case p.queue <- task{id: id, work: work}:
		p.active[id] = &Status{ID: id, State: StatePending, EnqueuedAt: time.Now()}
		return true
	default:
		log.Warn("Job queue full, rejecting %s", id)
		return false
	}
}

// Status returns the tracked state of a job, checking live jobs first and
// then retained terminal results.
func (p *Pool) Status(id string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.active[id]; ok {
		return *st, true
	}
	if st, ok := p.results[id]; ok {
		return *st, true
	}
	return Status{}, false
}

// ActiveCount reports jobs that are pending or running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Purge drops terminal results older than maxAge and returns how many were
// removed.
func (p *Pool) Purge(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, st := range p.results {
		if st.FinishedAt.Before(cutoff) {
			delete(p.results, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("Purged %d finished job records", removed)
	}
	return removed
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.markRunning(t.id)
		err := p.run(t)
		p.finish(t.id, err)
	}
	log.Debug("Worker %d exited", n)
}

// run isolates panics so a misbehaving job cannot take a worker down.
func (p *Pool) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job %s panicked: %v", t.id, r)
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return t.work(p.ctx)
}

func (p *Pool) markRunning(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.active[id]; ok {
		st.State = StateRunning
		st.StartedAt = time.Now()
	}
}

func (p *Pool) finish(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.active[id]
	if !ok {
		return
	}
	delete(p.active, id)
	st.FinishedAt = time.Now()
	if err != nil {
		st.State = StateFailed
		st.Err = err.Error()
	} else {
		st.State = StateDone
	}
	p.results[id] = st
	p.evictLocked()
}

// evictLocked keeps the terminal registry bounded by dropping the oldest
// entries. Caller holds p.mu.
func (p *Pool) evictLocked() {
	for len(p.results) > maxResults {
		var oldestID string
		var oldest time.Time
		for id, st := range p.results {
			if oldestID == "" || st.FinishedAt.Before(oldest) {
				oldestID = id
				oldest = st.FinishedAt
			}
		}
		delete(p.results, oldestID)
	}
}
