package translate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiflow/doc-translator/internal/cache"
	"github.com/lexiflow/doc-translator/internal/config"
	"github.com/lexiflow/doc-translator/internal/llm"
)

// scriptedGenerator returns canned responses or errors per call, in order.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedGenerator) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", llm.ErrEmptyResponse
}

// echoGenerator marks incoming fragments so tests can tell translation ran.
type echoGenerator struct {
	mu    sync.Mutex
	calls int
}

func (e *echoGenerator) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	idx := strings.Index(prompt, "<")
	if idx < 0 {
		return "", llm.ErrEmptyResponse
	}
	return strings.ReplaceAll(prompt[idx:], "hello", "bonjour"), nil
}

func newTestExecutor(gen Generator) *Executor {
	e := NewExecutor(gen, cache.New(64), config.TranslateConfig{Retries: 3, Concurrency: 2})
	e.backoffBase = time.Millisecond
	return e
}

func TestRunTranslatesAllChunks(t *testing.T) {
	gen := &echoGenerator{}
	e := newTestExecutor(gen)

	var progress []int
	res, err := e.Run(context.Background(), Request{
		JobID:      "job-1",
		SourceLang: "English",
		TargetLang: "French",
		Chunks:     []string{"<p>hello one</p>", "<p>hello two</p>", "<p>hello three</p>"},
		OnProgress: func(done, total int) { progress = append(progress, done) },
	})
	require.NoError(t, err)
	require.Len(t, res.Fragments, 3)
	assert.Empty(t, res.Failures)
	for _, f := range res.Fragments {
		assert.Contains(t, f, "bonjour")
	}
	assert.Contains(t, progress, 3)
}

func TestRunSentinelsSurviveRoundTrip(t *testing.T) {
	gen := &echoGenerator{}
	e := newTestExecutor(gen)

	res, err := e.Run(context.Background(), Request{
		JobID:      "job-2",
		TargetLang: "French",
		Chunks:     []string{`<p>hello, write to a@b.com today</p>`},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Fragments[0], "a@b.com")
	assert.NotContains(t, res.Fragments[0], "[[KEEP]]")
}

func TestRunCachesChunks(t *testing.T) {
	gen := &echoGenerator{}
	e := newTestExecutor(gen)
	req := Request{JobID: "job-3", TargetLang: "French", Chunks: []string{"<p>hello</p>"}}

	_, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)

	e.ClearJob("job-3")
	_, err = e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	gen := &scriptedGenerator{
		errs:      []error{llm.ErrRateLimited, nil},
		responses: []string{"", "<p>done</p>"},
	}
	e := newTestExecutor(gen)

	res, err := e.Run(context.Background(), Request{
		JobID: "job-4", TargetLang: "French", Chunks: []string{"<p>src</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>done</p>", res.Fragments[0])
	assert.Equal(t, 2, gen.calls)
}

func TestRunRetriesBadContent(t *testing.T) {
	gen := &scriptedGenerator{
		responses: []string{"I cannot translate that, sorry.", "<p>done</p>"},
	}
	e := newTestExecutor(gen)

	res, err := e.Run(context.Background(), Request{
		JobID: "job-5", TargetLang: "French", Chunks: []string{"<p>src</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>done</p>", res.Fragments[0])
}

func TestRunPartialFailureKeepsSource(t *testing.T) {
	// Chunks run with concurrency 1 so call order is deterministic: the
	// first chunk exhausts three rate-limited attempts, the second succeeds.
	gen := &scriptedGenerator{
		errs:      []error{llm.ErrRateLimited, llm.ErrRateLimited, llm.ErrRateLimited, nil},
		responses: []string{"", "", "", "<p>ok</p>"},
	}
	e := NewExecutor(gen, cache.New(64), config.TranslateConfig{Retries: 3, Concurrency: 1})
	e.backoffBase = time.Millisecond

	res, err := e.Run(context.Background(), Request{
		JobID: "job-6", TargetLang: "French",
		Chunks: []string{"<p>first</p>", "<p>second</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>first</p>", res.Fragments[0])
	assert.Equal(t, "<p>ok</p>", res.Fragments[1])
	require.Len(t, res.Failures, 1)
	assert.Equal(t, CodeRateLimit, res.Failures[0].Code)
	assert.Equal(t, 0, res.Failures[0].Chunk)
	assert.Equal(t, 3, res.Failures[0].Attempts)
}

func TestRunAllChunksFailed(t *testing.T) {
	gen := &scriptedGenerator{} // every call yields ErrEmptyResponse
	e := newTestExecutor(gen)

	res, err := e.Run(context.Background(), Request{
		JobID: "job-7", TargetLang: "French", Chunks: []string{"<p>a</p>", "<p>b</p>"},
	})
	assert.ErrorIs(t, err, ErrAllChunksFailed)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, CodeEmptyResponse, f.Code)
	}
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestExecutor(&echoGenerator{})

	_, err := e.Run(ctx, Request{JobID: "job-8", TargetLang: "French", Chunks: []string{"<p>x</p>"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanResponse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```html\n<p>x</p>\n```", "<p>x</p>"},
		{"Here is the translation:\n<p>x</p>", "<p>x</p>"},
		{"Sure, happy to help!\n<p>x</p>", "<p>x</p>"},
		{"Translation:\n<p>x</p>", "<p>x</p>"},
		{"<p>x</p>\nNote: idiomatic rendering chosen.", "<p>x</p>"},
		{"<p>x</p>", "<p>x</p>"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cleanResponse(tc.in), "input %q", tc.in)
	}
}

func TestValidateFragment(t *testing.T) {
	assert.Error(t, validateFragment("<p>x</p>", ""))
	assert.Error(t, validateFragment("<p>x</p>", "no tag here"))
	assert.NoError(t, validateFragment("<p>x</p>", "<p>y</p>"))

	wrapped := "<p>[[KEEP]]a@b.com[[/KEEP]]</p>"
	assert.Error(t, validateFragment(wrapped, "<p>dropped the marker</p>"))
	assert.NoError(t, validateFragment(wrapped, "<p>[[KEEP]]a@b.com[[/KEEP]]</p>"))
}
