package translate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/lexiflow/doc-translator/internal/cache"
	"github.com/lexiflow/doc-translator/internal/config"
	"github.com/lexiflow/doc-translator/internal/llm"
	"github.com/lexiflow/doc-translator/internal/markup"
	"github.com/lexiflow/doc-translator/pkg/log"
)

// Generator is the single call the executor needs from the model client.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// Executor fans chunk translations out to the model with a bounded number
// of in-flight calls, retries transient failures, and caches results so a
// re-run of the same job never pays for work already done.
type Executor struct {
	gen         Generator
	cache       *cache.Cache
	group       singleflight.Group
	retries     int
	concurrency int64
	backoffBase time.Duration
}

func NewExecutor(gen Generator, resultCache *cache.Cache, cfg config.TranslateConfig) *Executor {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	concurrency := int64(cfg.Concurrency)
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Executor{
		gen:         gen,
		cache:       resultCache,
		retries:     retries,
		concurrency: concurrency,
		backoffBase: time.Second,
	}
}

// Request describes one job's worth of chunks.
type Request struct {
	JobID      string
	SourceLang string
	TargetLang string
	Chunks     []string

	// OnProgress, when set, is called after each chunk settles.
	OnProgress func(done, total int)
}

// Result carries the translated fragments in chunk order. A failed chunk
// keeps its source text in Fragments and contributes an entry to Failures.
type Result struct {
	Fragments []string
	Failures  []*Error
}

// Run translates every chunk of the request. Individual chunk failures do
// not abort the run; only a fully failed request or a cancelled context
// returns an error.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	total := len(req.Chunks)
	res := &Result{Fragments: make([]string, total)}
	if total == 0 {
		return res, nil
	}

	sem := semaphore.NewWeighted(e.concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	for i, chunk := range req.Chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			defer sem.Release(1)

			out, cerr := e.translateChunk(ctx, req, i, chunk)

			mu.Lock()
			if cerr != nil {
				// The source text stands in for the lost translation so
				// the recombined document stays complete.
				res.Fragments[i] = chunk
				res.Failures = append(res.Failures, cerr)
			} else {
				res.Fragments[i] = out
			}
			done++
			n := done
			mu.Unlock()

			if req.OnProgress != nil {
				req.OnProgress(n, total)
			}
		}(i, chunk)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(res.Failures) == total {
		return res, ErrAllChunksFailed
	}
	return res, nil
}

// ClearJob drops cached chunk translations for a job before a retry.
func (e *Executor) ClearJob(jobID string) {
	e.cache.DeletePrefix(jobID + ":")
}

func (e *Executor) translateChunk(ctx context.Context, req Request, index int, chunk string) (string, *Error) {
	key := chunkKey(req.JobID, req.TargetLang, chunk)
	if out, ok := e.cache.Get(key); ok {
		return out, nil
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		if out, ok := e.cache.Get(key); ok {
			return out, nil
		}
		out, err := e.attempt(ctx, req, index, chunk)
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, out)
		return out, nil
	})
	if err != nil {
		if cerr, ok := err.(*Error); ok {
			return "", cerr
		}
		return "", &Error{Code: classify(err), Chunk: index, Attempts: e.retries, cause: err}
	}
	return v.(string), nil
}

func (e *Executor) attempt(ctx context.Context, req Request, index int, chunk string) (string, error) {
	wrapped := markup.WrapSentinels(chunk)
	prompt := userPrompt(req.SourceLang, req.TargetLang, wrapped)

	var lastErr error
	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			if err := e.backoff(ctx, attempt); err != nil {
				return "", err
			}
		}

		raw, err := e.gen.Generate(ctx, prompt, llm.GenerateOptions{SystemPrompt: systemPrompt})
		if err != nil {
			lastErr = err
			if !llm.IsRetryable(err) {
				break
			}
			log.Warn("Chunk %d attempt %d failed: %v", index, attempt+1, err)
			continue
		}

		cleaned := cleanResponse(raw)
		if verr := validateFragment(wrapped, cleaned); verr != nil {
			lastErr = verr
			// Out of attempts: a structural repair against the source tree
			// may still salvage the output.
			if attempt == e.retries-1 {
				if repaired, ok := RepairAlignment(chunk, markup.PurgeSentinels(cleaned)); ok {
					log.Info("Chunk %d accepted after structural repair", index)
					return repaired, nil
				}
			}
			log.Warn("Chunk %d attempt %d rejected: %v", index, attempt+1, verr)
			continue
		}
		return markup.PurgeSentinels(cleaned), nil
	}
	return "", &Error{Code: classify(lastErr), Chunk: index, Attempts: e.retries, cause: lastErr}
}

func (e *Executor) backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(e.backoffBase << attempt)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func validateFragment(wrapped, cleaned string) error {
	if cleaned == "" {
		return fmt.Errorf("empty fragment after cleanup: %w", llm.ErrEmptyResponse)
	}
	if !strings.HasPrefix(cleaned, "<") {
		return fmt.Errorf("%w: fragment does not start with a tag", errBadContent)
	}
	if got, want := markup.CountSentinels(cleaned), markup.CountSentinels(wrapped); got != want {
		return fmt.Errorf("%w: %d protected spans survived, expected %d", errBadContent, got, want)
	}
	return nil
}

// chunkKey is prefixed with the job id so a retry can invalidate exactly
// that job's entries.
func chunkKey(jobID, targetLang, chunk string) string {
	sum := sha256.Sum256([]byte(targetLang + "\x00" + chunk))
	return jobID + ":" + base64.RawStdEncoding.EncodeToString(sum[:])
}
