package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/lexiflow/doc-translator/internal/config"
	"github.com/lexiflow/doc-translator/internal/extract"
	"github.com/lexiflow/doc-translator/internal/jobs"
	"github.com/lexiflow/doc-translator/internal/ledger"
	"github.com/lexiflow/doc-translator/internal/markup"
	"github.com/lexiflow/doc-translator/internal/persistence"
	"github.com/lexiflow/doc-translator/internal/translate"
	"github.com/lexiflow/doc-translator/pkg/log"
)

var (
	ErrFileTooLarge     = errors.New("file exceeds the upload limit")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrEmptyFile        = errors.New("empty file")
	ErrNotRetryable     = errors.New("only failed jobs can be retried")
	ErrQueueFull        = errors.New("translation queue is full")
)

// secondsPerPage feeds the completion estimate returned on submit.
const secondsPerPage = 30

// Extractor turns raw uploads into per-page markup.
type Extractor interface {
	PageCount(data []byte, mediaType string) (int, error)
	Pages(ctx context.Context, jobID string, data []byte, mediaType string) ([]extract.Page, error)
	ClearJob(jobID string)
}

// Translator runs one job's chunks through the model.
type Translator interface {
	Run(ctx context.Context, req translate.Request) (*translate.Result, error)
	ClearJob(jobID string)
}

// Store is the slice of persistence the service drives directly. Billing
// writes go through the ledger coordinator instead.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*persistence.Job, error)
	ListRecentJobs(ctx context.Context, owner string, limit int) ([]*persistence.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status persistence.JobStatus, errMsg string) error
	UpdateJobProgress(ctx context.Context, jobID string, currentPage int, progress float64) error
	CompleteJob(ctx context.Context, jobID string) error
	SetJobTotalPages(ctx context.Context, jobID string, total int) error
	UpsertSegment(ctx context.Context, seg persistence.Segment) error
	ListSegments(ctx context.Context, jobID string) ([]persistence.Segment, error)
	ResetJobForRetry(ctx context.Context, jobID string) error
	SaveUpload(ctx context.Context, jobID string, data []byte) error
	GetUpload(ctx context.Context, jobID string) ([]byte, error)
	DeleteStaleUploads(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pool schedules background job execution.
type Pool interface {
	Submit(id string, work jobs.Work) bool
	Purge(maxAge time.Duration) int
}

// Service orchestrates the full pipeline: validate and price an upload,
// debit the owner, and run extraction, chunked translation, and
// recombination in the background.
type Service struct {
	cfg        *config.Config
	store      Store
	ledger     *ledger.Coordinator
	extractor  Extractor
	translator Translator
	pool       Pool
}

func New(cfg *config.Config, store Store, lgr *ledger.Coordinator, ex Extractor, tr Translator, pool Pool) *Service {
	return &Service{
		cfg:        cfg,
		store:      store,
		ledger:     lgr,
		extractor:  ex,
		translator: tr,
		pool:       pool,
	}
}

type SubmitRequest struct {
	Owner      string
	FileName   string
	MediaType  string
	SourceLang string
	TargetLang string
	Data       []byte
}

type Receipt struct {
	JobID            string `json:"job_id"`
	PagesDeducted    int    `json:"pages_deducted"`
	RemainingBalance int    `json:"remaining_balance"`
	EstimatedSeconds int    `json:"estimated_seconds"`
}

// Submit validates and prices the upload, debits the owner, and queues the
// job. The debit and the job record are created atomically, so a rejected
// submission never costs pages.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if req.TargetLang == "" {
		return nil, fmt.Errorf("target language is required")
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(req.Data)) > s.cfg.Translate.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if !extract.Supported(req.MediaType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, req.MediaType)
	}

	usage, err := s.priceUsage(req)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	job := &persistence.Job{
		ID:         jobID,
		Owner:      req.Owner,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		FileName:   req.FileName,
		MediaType:  req.MediaType,
		TotalPages: s.ledger.RequiredPages(usage),
	}
	pages, err := s.ledger.Charge(ctx, job, usage)
	if err != nil {
		if errors.Is(err, persistence.ErrInsufficientBalance) {
			bal, balErr := s.ledger.Balance(ctx, req.Owner)
			if balErr == nil {
				return nil, fmt.Errorf("%w: need %d pages, have %d",
					persistence.ErrInsufficientBalance, s.ledger.RequiredPages(usage), bal.PagesBalance)
			}
		}
		return nil, err
	}
	if err := s.store.SaveUpload(ctx, jobID, req.Data); err != nil {
		s.fail(jobID, fmt.Sprintf("store upload: %v", err))
		return nil, err
	}

	if !s.pool.Submit(jobID, func(ctx context.Context) error {
		return s.runJob(ctx, jobID)
	}) {
		s.fail(jobID, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}

	bal, err := s.ledger.Balance(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	log.Info("Job %s queued for %s: %s -> %s, %d pages", jobID, req.Owner, req.FileName, req.TargetLang, pages)
	return &Receipt{
		JobID:            jobID,
		PagesDeducted:    pages,
		RemainingBalance: bal.PagesBalance,
		EstimatedSeconds: pages * secondsPerPage,
	}, nil
}

func (s *Service) priceUsage(req SubmitRequest) (ledger.Usage, error) {
	if req.MediaType == extract.MediaText {
		return ledger.ByContentLength(len(req.Data)), nil
	}
	n, err := s.extractor.PageCount(req.Data, req.MediaType)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return ledger.ByPageCount(n), nil
}

// runJob is the background pipeline for one job. A failure anywhere marks
// the job failed and releases the debit.
func (s *Service) runJob(ctx context.Context, jobID string) error {
	defer func() {
		if r := recover(); r != nil {
			s.fail(jobID, fmt.Sprintf("internal error: %v", r))
			panic(r)
		}
	}()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateJobStatus(ctx, jobID, persistence.JobInProgress, ""); err != nil {
		return err
	}

	data, err := s.store.GetUpload(ctx, jobID)
	if err != nil {
		s.fail(jobID, fmt.Sprintf("load upload: %v", err))
		return err
	}

	pages, err := s.extractor.Pages(ctx, jobID, data, job.MediaType)
	if err != nil {
		s.fail(jobID, fmt.Sprintf("extract: %v", err))
		return err
	}
	if err := s.store.SetJobTotalPages(ctx, jobID, len(pages)); err != nil {
		return err
	}

	sourceLang := job.SourceLang
	if sourceLang == "" {
		sourceLang = detectLanguage(pages)
		if sourceLang != "" {
			log.Info("Job %s: detected source language %s", jobID, sourceLang)
		}
	}
	maxChunk := s.chunkSize(job.TargetLang)

	var translatedPages, failedPages int
	for i, page := range pages {
		chunks := markup.Split(page.Content, maxChunk)
		res, err := s.translator.Run(ctx, translate.Request{
			JobID:      jobID,
			SourceLang: sourceLang,
			TargetLang: job.TargetLang,
			Chunks:     chunks,
		})
		switch {
		case errors.Is(err, translate.ErrAllChunksFailed):
			failedPages++
			log.Warn("Job %s: page %d failed entirely", jobID, page.Number+1)
		case err != nil:
			s.fail(jobID, fmt.Sprintf("translate page %d: %v", page.Number+1, err))
			return err
		default:
			translatedPages++
			if len(res.Failures) > 0 {
				log.Warn("Job %s: page %d completed with %d failed fragments", jobID, page.Number+1, len(res.Failures))
			}
		}

		if err := s.store.UpsertSegment(ctx, persistence.Segment{
			JobID:   jobID,
			Page:    page.Number,
			Content: markup.Reassemble(res.Fragments),
			Source:  page.Source,
		}); err != nil {
			s.fail(jobID, fmt.Sprintf("store segment: %v", err))
			return err
		}
		// Progress is a percentage, pinned at 100 by CompleteJob.
		pct := float64(i+1) / float64(len(pages)) * 100
		if err := s.store.UpdateJobProgress(ctx, jobID, i+1, pct); err != nil {
			return err
		}
	}

	if translatedPages == 0 {
		err := fmt.Errorf("no page produced translated output")
		s.fail(jobID, err.Error())
		return err
	}
	if err := s.store.CompleteJob(ctx, jobID); err != nil {
		return err
	}
	log.Info("Job %s completed: %d pages, %d failed", jobID, len(pages), failedPages)
	return nil
}

// fail marks the job failed and returns its debit. Runs on a fresh context
// so a cancelled pipeline can still settle the ledger.
func (s *Service) fail(jobID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.UpdateJobStatus(ctx, jobID, persistence.JobFailed, msg); err != nil {
		log.Error("Job %s: record failure: %v", jobID, err)
	}
	if _, err := s.ledger.Release(ctx, jobID); err != nil {
		log.Error("Job %s: refund: %v", jobID, err)
	}
}

// Status returns the job record, scoped to its owner.
func (s *Service) Status(ctx context.Context, jobID, owner string) (*persistence.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if owner != "" && job.Owner != owner {
		return nil, persistence.ErrJobNotFound
	}
	return job, nil
}

type DocumentResult struct {
	JobID         string `json:"job_id"`
	Document      string `json:"document"`
	SuspectedLoss bool   `json:"suspected_loss"`
}

// Result recombines the stored segments of a completed job into the final
// document.
func (s *Service) Result(ctx context.Context, jobID, owner string) (*DocumentResult, error) {
	job, err := s.Status(ctx, jobID, owner)
	if err != nil {
		return nil, err
	}
	if job.Status != persistence.JobCompleted {
		return nil, fmt.Errorf("job %s is %s, not completed", jobID, job.Status)
	}
	segs, err := s.store.ListSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}
	contents := make([]string, 0, len(segs))
	for _, seg := range segs {
		contents = append(contents, seg.Content)
	}
	combined := markup.Combine(contents)
	if combined.SuspectedLoss {
		log.Warn("Job %s: recombined document is suspiciously small", jobID)
	}
	return &DocumentResult{
		JobID:         jobID,
		Document:      combined.Document,
		SuspectedLoss: combined.SuspectedLoss,
	}, nil
}

func (s *Service) ListRecent(ctx context.Context, owner string, limit int) ([]*persistence.Job, error) {
	return s.store.ListRecentJobs(ctx, owner, limit)
}

// Retry re-runs a failed job from the stored upload. The owner is charged
// again only when the original debit was refunded.
func (s *Service) Retry(ctx context.Context, jobID, owner string) error {
	job, err := s.Status(ctx, jobID, owner)
	if err != nil {
		return err
	}
	if job.Status != persistence.JobFailed {
		return ErrNotRetryable
	}
	if _, err := s.store.GetUpload(ctx, jobID); err != nil {
		return fmt.Errorf("original file no longer stored: %w", err)
	}
	if err := s.ledger.Recharge(ctx, jobID); err != nil {
		return err
	}
	if err := s.store.ResetJobForRetry(ctx, jobID); err != nil {
		return err
	}
	s.extractor.ClearJob(jobID)
	s.translator.ClearJob(jobID)

	if !s.pool.Submit(jobID, func(ctx context.Context) error {
		return s.runJob(ctx, jobID)
	}) {
		s.fail(jobID, ErrQueueFull.Error())
		return ErrQueueFull
	}
	log.Info("Job %s requeued by %s", jobID, owner)
	return nil
}

func (s *Service) Balance(ctx context.Context, owner string) (persistence.Ledger, error) {
	return s.ledger.Balance(ctx, owner)
}

func (s *Service) Grant(ctx context.Context, owner string, pages int) error {
	return s.ledger.Grant(ctx, owner, pages)
}

// PurgeExpired drops finished in-memory job records and stale stored
// uploads past the retention window. Wired to the cron scheduler.
func (s *Service) PurgeExpired(ctx context.Context) {
	retention := s.cfg.Worker.ResultRetention
	removed := s.pool.Purge(retention)
	stale, err := s.store.DeleteStaleUploads(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Error("Purge stale uploads: %v", err)
		return
	}
	if removed > 0 || stale > 0 {
		log.Debug("Purge removed %d job records, %d stored uploads", removed, stale)
	}
}

func (s *Service) chunkSize(targetLang string) int {
	tag, err := language.Parse(targetLang)
	if err != nil {
		tag = language.All.Make(targetLang)
	}
	return s.cfg.Translate.MaxChunkSizeFor(tag)
}

// detectLanguage samples the extracted text and names the dominant
// language in English, as the translation prompt expects.
func detectLanguage(pages []extract.Page) string {
	var sample string
	for _, p := range pages {
		sample += markup.Text(p.Content) + " "
		if len(sample) > 4000 {
			break
		}
	}
	info := whatlanggo.Detect(sample)
	if !info.IsReliable() {
		return ""
	}
	iso := info.Lang.Iso6391()
	if iso == "" {
		return ""
	}
	tag := language.All.Make(iso)
	return display.English.Languages().Name(tag)
}
