package extract

import (
	"context"

	"github.com/lexiflow/doc-translator/internal/llm"
)

// Page is one extracted page of structured markup.
type Page struct {
	Number  int
	Content string
	// Source records which path produced the content: "local", "vision",
	// or "placeholder".
	Source string
}

// Generator is the slice of the LLM client extraction needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// Media types the pipeline accepts.
const (
	MediaPDF  = "application/pdf"
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
	MediaText = "text/plain"
)

// Supported reports whether a media type can be ingested.
func Supported(mediaType string) bool {
	switch mediaType {
	case MediaPDF, MediaPNG, MediaJPEG, MediaText:
		return true
	}
	return false
}
