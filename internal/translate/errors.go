package translate

import (
	"errors"
	"fmt"

	"github.com/lexiflow/doc-translator/internal/llm"
)

// Failure codes carried on chunk errors. They surface in job results so
// callers can distinguish provider trouble from unusable output.
const (
	CodeTimeout       = "TIMEOUT"
	CodeRateLimit     = "RATE_LIMIT"
	CodeEmptyResponse = "EMPTY_RESPONSE"
	CodeContentError  = "CONTENT_ERROR"
)

// Error describes the terminal failure of one chunk after all attempts.
type Error struct {
	Code     string
	Chunk    int
	Attempts int
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("chunk %d failed after %d attempts (%s): %v", e.Chunk, e.Attempts, e.Code, e.cause)
	}
	return fmt.Sprintf("chunk %d failed after %d attempts (%s)", e.Chunk, e.Attempts, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// ErrAllChunksFailed is returned when not a single chunk produced output.
var ErrAllChunksFailed = errors.New("all chunks failed")

// errBadContent marks output rejected by validation, as opposed to
// transport failures from the provider.
var errBadContent = errors.New("unusable model output")

func classify(err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, llm.ErrRateLimited):
		return CodeRateLimit
	case errors.Is(err, llm.ErrEmptyResponse):
		return CodeEmptyResponse
	default:
		return CodeContentError
	}
}
