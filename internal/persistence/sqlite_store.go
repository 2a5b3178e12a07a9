package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// DebitAndCreate deducts the page cost from the owner's ledger and creates
// the job record in the same transaction. Nothing is written when the
// balance cannot cover the cost.
func (s *SQLiteStore) DebitAndCreate(ctx context.Context, job *Job, pages int) (err error) {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(
		ctx,
		`UPDATE ledgers
		 SET pages_balance = pages_balance - ?,
		     pages_used = pages_used + ?,
		     last_used_at = ?,
		     updated_at = ?
		 WHERE owner = ? AND pages_balance >= ?`,
		pages, pages, now, now, job.Owner, pages,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrInsufficientBalance
		return err
	}

	job.PagesDebited = pages
	job.Status = JobPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if _, err = tx.ExecContext(
		ctx,
		`INSERT INTO translation_jobs (
			id, owner, source_lang, target_lang, file_name, media_type,
			total_pages, current_page, progress, status, error,
			pages_debited, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Owner, job.SourceLang, job.TargetLang, job.FileName, job.MediaType,
		job.TotalPages, job.CurrentPage, job.Progress, string(job.Status), job.Error,
		job.PagesDebited, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return err
	}
	if err = appendAudit(ctx, tx, job.Owner, job.ID, AuditDebit, pages, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RefundJob returns the debited pages to the owner exactly once. The
// refunded_at guard makes repeated calls no-ops.
func (s *SQLiteStore) RefundJob(ctx context.Context, jobID string) (refunded bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var owner string
	var pages int
	if err = tx.QueryRowContext(
		ctx,
		`SELECT owner, pages_debited FROM translation_jobs WHERE id = ?`,
		jobID,
	).Scan(&owner, &pages); err != nil {
		if err == sql.ErrNoRows {
			err = ErrJobNotFound
		}
		return false, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(
		ctx,
		`UPDATE translation_jobs SET refunded_at = ?, updated_at = ?
		 WHERE id = ? AND refunded_at IS NULL AND pages_debited > 0`,
		now, now, jobID,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	if _, err = tx.ExecContext(
		ctx,
		`UPDATE ledgers
		 SET pages_balance = pages_balance + ?,
		     pages_used = MAX(pages_used - ?, 0),
		     updated_at = ?
		 WHERE owner = ?`,
		pages, pages, now, owner,
	); err != nil {
		return false, err
	}
	if err = appendAudit(ctx, tx, owner, jobID, AuditRefund, pages, now); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// RedebitJob charges a previously refunded job again ahead of a retry. A
// job whose debit was never refunded needs no new charge.
func (s *SQLiteStore) RedebitJob(ctx context.Context, jobID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var owner string
	var pages int
	var refundedAt sql.NullTime
	if err = tx.QueryRowContext(
		ctx,
		`SELECT owner, pages_debited, refunded_at FROM translation_jobs WHERE id = ?`,
		jobID,
	).Scan(&owner, &pages, &refundedAt); err != nil {
		if err == sql.ErrNoRows {
			err = ErrJobNotFound
		}
		return err
	}
	if !refundedAt.Valid {
		return tx.Commit()
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(
		ctx,
		`UPDATE ledgers
		 SET pages_balance = pages_balance - ?,
		     pages_used = pages_used + ?,
		     last_used_at = ?,
		     updated_at = ?
		 WHERE owner = ? AND pages_balance >= ?`,
		pages, pages, now, now, owner, pages,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrInsufficientBalance
		return err
	}
	if _, err = tx.ExecContext(
		ctx,
		`UPDATE translation_jobs SET refunded_at = NULL, updated_at = ? WHERE id = ?`,
		now, jobID,
	); err != nil {
		return err
	}
	if err = appendAudit(ctx, tx, owner, jobID, AuditDebit, pages, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Grant adds pages to an owner's balance, creating the ledger on first use.
func (s *SQLiteStore) Grant(ctx context.Context, owner string, pages int) (err error) {
	if pages <= 0 {
		return fmt.Errorf("grant pages must be positive")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(
		ctx,
		`INSERT INTO ledgers (owner, pages_balance, pages_used, updated_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(owner) DO UPDATE SET
			pages_balance = pages_balance + excluded.pages_balance,
			updated_at = excluded.updated_at`,
		owner, pages, now,
	); err != nil {
		return err
	}
	if err = appendAudit(ctx, tx, owner, "", AuditGrant, pages, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Balance returns the owner's ledger, zero-valued when none exists yet.
func (s *SQLiteStore) Balance(ctx context.Context, owner string) (Ledger, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT owner, pages_balance, pages_used, last_used_at, updated_at
		 FROM ledgers WHERE owner = ?`,
		owner,
	)
	var ret Ledger
	var lastUsed sql.NullTime
	if err := row.Scan(&ret.Owner, &ret.PagesBalance, &ret.PagesUsed, &lastUsed, &ret.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Ledger{Owner: owner}, nil
		}
		return Ledger{}, err
	}
	if lastUsed.Valid {
		ret.LastUsedAt = lastUsed.Time
	}
	return ret, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, owner, source_lang, target_lang, file_name, media_type,
			total_pages, current_page, progress, status, error,
			pages_debited, refunded_at, created_at, updated_at
		 FROM translation_jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListRecentJobs returns the owner's newest jobs first.
func (s *SQLiteStore) ListRecentJobs(ctx context.Context, owner string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, owner, source_lang, target_lang, file_name, media_type,
			total_pages, current_page, progress, status, error,
			pages_debited, refunded_at, created_at, updated_at
		 FROM translation_jobs
		 WHERE owner = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		owner, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// UpdateJobStatus writes a job's status. Completed is final: a completed
// job never transitions again.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE translation_jobs SET status = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status != ?`,
		string(status), errMsg, time.Now().UTC(), jobID, string(JobCompleted),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var current string
	if err := s.db.QueryRowContext(
		ctx, `SELECT status FROM translation_jobs WHERE id = ?`, jobID,
	).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrJobNotFound
		}
		return err
	}
	return ErrJobFinalized
}

// CompleteJob finalizes a job: status completed, progress pinned at 100 and
// the completion recorded in the audit log, all in one transaction. A second
// call is a no-op.
func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var owner string
	var pages int
	if err = tx.QueryRowContext(
		ctx,
		`SELECT owner, pages_debited FROM translation_jobs WHERE id = ?`,
		jobID,
	).Scan(&owner, &pages); err != nil {
		if err == sql.ErrNoRows {
			err = ErrJobNotFound
		}
		return err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(
		ctx,
		`UPDATE translation_jobs
		 SET status = ?, error = '', progress = 100, current_page = total_pages, updated_at = ?
		 WHERE id = ? AND status != ?`,
		string(JobCompleted), now, jobID, string(JobCompleted),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return tx.Commit()
	}
	if err = appendAudit(ctx, tx, owner, jobID, AuditComplete, pages, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, currentPage int, progress float64) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE translation_jobs SET current_page = ?, progress = ?, updated_at = ? WHERE id = ?`,
		currentPage, progress, time.Now().UTC(), jobID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetJobTotalPages(ctx context.Context, jobID string, total int) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE translation_jobs SET total_pages = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().UTC(), jobID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResetJobForRetry puts a failed job back to pending and clears its
// partial output in one transaction.
func (s *SQLiteStore) ResetJobForRetry(ctx context.Context, jobID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE translation_jobs
		 SET status = ?, error = '', current_page = 0, progress = 0, updated_at = ?
		 WHERE id = ? AND status != ?`,
		string(JobPending), time.Now().UTC(), jobID, string(JobCompleted),
	)
	if err != nil {
		return err
	}
	var affected int64
	if affected, err = res.RowsAffected(); err != nil {
		return err
	}
	if affected == 0 {
		var current string
		if err = tx.QueryRowContext(
			ctx, `SELECT status FROM translation_jobs WHERE id = ?`, jobID,
		).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				err = ErrJobNotFound
			}
			return err
		}
		err = ErrJobFinalized
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM translation_segments WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpsertSegment(ctx context.Context, seg Segment) error {
	updatedAt := seg.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translation_segments (job_id, page, content, source, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, page) DO UPDATE SET
			content=excluded.content,
			source=excluded.source,
			updated_at=excluded.updated_at`,
		seg.JobID, seg.Page, seg.Content, seg.Source, updatedAt,
	)
	return err
}

func (s *SQLiteStore) ListSegments(ctx context.Context, jobID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, page, content, source, updated_at
		 FROM translation_segments
		 WHERE job_id = ?
		 ORDER BY page ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Segment, 0)
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.JobID, &seg.Page, &seg.Content, &seg.Source, &seg.UpdatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteSegments(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM translation_segments WHERE job_id = ?`, jobID)
	return err
}

// SaveUpload keeps the original file bytes so a failed job can be retried
// without a re-upload.
func (s *SQLiteStore) SaveUpload(ctx context.Context, jobID string, data []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO uploads (job_id, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET data=excluded.data`,
		jobID, data, time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) GetUpload(ctx context.Context, jobID string) ([]byte, error) {
	var data []byte
	if err := s.db.QueryRowContext(ctx, `SELECT data FROM uploads WHERE job_id = ?`, jobID).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return data, nil
}

// DeleteStaleUploads drops stored files for jobs that finished before the
// cutoff. The job records themselves stay.
func (s *SQLiteStore) DeleteStaleUploads(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM uploads WHERE job_id IN (
			SELECT id FROM translation_jobs
			WHERE status IN (?, ?) AND updated_at < ?
		)`,
		string(JobCompleted), string(JobFailed), cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListAudit returns the owner's newest ledger movements first.
func (s *SQLiteStore) ListAudit(ctx context.Context, owner string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, owner, job_id, action, pages, created_at
		 FROM audit_log
		 WHERE owner = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		owner, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]AuditRecord, 0)
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.JobID, &rec.Action, &rec.Pages, &rec.CreatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var status string
	var refundedAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.Owner,
		&job.SourceLang,
		&job.TargetLang,
		&job.FileName,
		&job.MediaType,
		&job.TotalPages,
		&job.CurrentPage,
		&job.Progress,
		&status,
		&job.Error,
		&job.PagesDebited,
		&refundedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	if refundedAt.Valid {
		t := refundedAt.Time
		job.RefundedAt = &t
	}
	return &job, nil
}

func appendAudit(ctx context.Context, tx *sql.Tx, owner, jobID, action string, pages int, at time.Time) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO audit_log (owner, job_id, action, pages, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		owner, jobID, action, pages, at,
	)
	return err
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}
