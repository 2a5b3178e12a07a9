package persistence

import (
	"errors"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobFinalized        = errors.New("job already completed")
	ErrInsufficientBalance = errors.New("insufficient page balance")
)

// Job is the persistent record of one translation request.
type Job struct {
	ID           string
	Owner        string
	SourceLang   string
	TargetLang   string
	FileName     string
	MediaType    string
	TotalPages   int
	CurrentPage  int
	Progress     float64
	Status       JobStatus
	Error        string
	PagesDebited int
	RefundedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Segment is one translated page of a job, written incrementally as the
// pipeline progresses.
type Segment struct {
	JobID     string
	Page      int
	Content   string
	Source    string
	UpdatedAt time.Time
}

// Ledger is one owner's page account.
type Ledger struct {
	Owner        string
	PagesBalance int
	PagesUsed    int
	LastUsedAt   time.Time
	UpdatedAt    time.Time
}

// Audit actions recorded against the ledger.
const (
	AuditDebit    = "debit"
	AuditRefund   = "refund"
	AuditGrant    = "grant"
	AuditComplete = "complete"
)

type AuditRecord struct {
	ID        int64
	Owner     string
	JobID     string
	Action    string
	Pages     int
	CreatedAt time.Time
}
