package ledger

import (
	"context"

	"github.com/lexiflow/doc-translator/internal/persistence"
	"github.com/lexiflow/doc-translator/pkg/log"
)

// Usage is the sealed input to page pricing. Documents with intrinsic
// pages are billed per page; everything else per character volume.
type Usage interface {
	pages(charsPerPage int) int
}

// ByPageCount bills a document by its own page count.
type ByPageCount int

func (n ByPageCount) pages(int) int {
	if n < 1 {
		return 1
	}
	return int(n)
}

// ByContentLength bills free-form content by character volume.
type ByContentLength int

func (n ByContentLength) pages(charsPerPage int) int {
	if n <= 0 {
		return 1
	}
	p := (int(n) + charsPerPage - 1) / charsPerPage
	if p < 1 {
		p = 1
	}
	return p
}

// Store is the slice of persistence the coordinator needs.
type Store interface {
	DebitAndCreate(ctx context.Context, job *persistence.Job, pages int) error
	RefundJob(ctx context.Context, jobID string) (bool, error)
	RedebitJob(ctx context.Context, jobID string) error
	Balance(ctx context.Context, owner string) (persistence.Ledger, error)
	Grant(ctx context.Context, owner string, pages int) error
}

// Coordinator owns the billing rules around the page ledger: what a job
// costs, when the debit happens, and that a failed job is refunded at most
// once.
type Coordinator struct {
	store        Store
	charsPerPage int
}

func New(store Store, charsPerPage int) *Coordinator {
	if charsPerPage <= 0 {
		charsPerPage = 3000
	}
	return &Coordinator{store: store, charsPerPage: charsPerPage}
}

// RequiredPages prices a submission.
func (c *Coordinator) RequiredPages(u Usage) int {
	return u.pages(c.charsPerPage)
}

// Charge debits the owner and creates the job atomically. The job record
// only exists if the balance covered the cost.
func (c *Coordinator) Charge(ctx context.Context, job *persistence.Job, u Usage) (int, error) {
	pages := c.RequiredPages(u)
	if err := c.store.DebitAndCreate(ctx, job, pages); err != nil {
		return 0, err
	}
	log.Info("Debited %d pages from %s for job %s", pages, job.Owner, job.ID)
	return pages, nil
}

// Release refunds a failed job's debit. Safe to call repeatedly; only the
// first call moves pages.
func (c *Coordinator) Release(ctx context.Context, jobID string) (bool, error) {
	refunded, err := c.store.RefundJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if refunded {
		log.Info("Refunded pages for failed job %s", jobID)
	}
	return refunded, nil
}

// Recharge restores the debit ahead of a retry when the original charge
// was refunded. A still-standing debit costs nothing extra.
func (c *Coordinator) Recharge(ctx context.Context, jobID string) error {
	return c.store.RedebitJob(ctx, jobID)
}

// Balance reads the owner's account.
func (c *Coordinator) Balance(ctx context.Context, owner string) (persistence.Ledger, error) {
	return c.store.Balance(ctx, owner)
}

// Grant tops up the owner's account.
func (c *Coordinator) Grant(ctx context.Context, owner string, pages int) error {
	return c.store.Grant(ctx, owner, pages)
}
