package extract

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"github.com/lexiflow/doc-translator/internal/cache"
	"github.com/lexiflow/doc-translator/internal/llm"
	"github.com/lexiflow/doc-translator/pkg/log"
)

const (
	visionDPI = 150
	// Pages whose local text is shorter than this are assumed to be
	// image-heavy scans worth a vision pass.
	sparseTextThreshold = 50
	// Tab density above this fraction signals columnar layout the plain
	// text path would garble.
	tabHeavyRatio = 0.02
)

// Extractor turns raw document bytes into per-page structured markup.
// Simple pages take the fast local path; pages with layout artifacts are
// delegated to the vision model with a bounded timeout. Extraction never
// fails a page: the worst case is a visible placeholder.
type Extractor struct {
	gen          Generator
	cache        *cache.Cache
	timeout      time.Duration
	charsPerPage int
}

func New(gen Generator, pageCache *cache.Cache, timeout time.Duration, charsPerPage int) *Extractor {
	if charsPerPage <= 0 {
		charsPerPage = 3000
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Extractor{
		gen:          gen,
		cache:        pageCache,
		timeout:      timeout,
		charsPerPage: charsPerPage,
	}
}

// PageCount computes the billable page count for a document without running
// extraction.
func (e *Extractor) PageCount(data []byte, mediaType string) (int, error) {
	switch mediaType {
	case MediaPDF:
		doc, err := fitz.NewFromMemory(data)
		if err != nil {
			return 0, fmt.Errorf("open pdf: %w", err)
		}
		defer doc.Close()
		return doc.NumPage(), nil
	case MediaPNG, MediaJPEG:
		return 1, nil
	case MediaText:
		n := (len(data) + e.charsPerPage - 1) / e.charsPerPage
		if n < 1 {
			n = 1
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported media type %q", mediaType)
}

// Pages extracts every page of the document. jobID scopes the per-page
// cache to the lifetime of one job.
func (e *Extractor) Pages(ctx context.Context, jobID string, data []byte, mediaType string) ([]Page, error) {
	switch mediaType {
	case MediaPDF:
		return e.pdfPages(ctx, jobID, data)
	case MediaPNG, MediaJPEG:
		return []Page{e.imagePage(ctx, jobID, data)}, nil
	case MediaText:
		return e.textPages(data), nil
	}
	return nil, fmt.Errorf("unsupported media type %q", mediaType)
}

// ClearJob drops cached extractions for a job, used before a manual retry.
func (e *Extractor) ClearJob(jobID string) {
	e.cache.DeletePrefix(jobID + ":")
}

func (e *Extractor) pdfPages(ctx context.Context, jobID string, data []byte) ([]Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	pages := make([]Page, 0, total)
	for n := 0; n < total; n++ {
		pages = append(pages, e.pdfPage(ctx, jobID, doc, n))
	}
	return pages, nil
}

func (e *Extractor) pdfPage(ctx context.Context, jobID string, doc *fitz.Document, n int) Page {
	key := fmt.Sprintf("%s:%d", jobID, n)
	if content, ok := e.cache.Get(key); ok {
		return Page{Number: n, Content: content, Source: "cache"}
	}

	text, err := doc.Text(n)
	if err != nil {
		log.Warn("Local text extraction failed for page %d: %v", n+1, err)
		text = ""
	}

	page := Page{Number: n, Source: "local", Content: wrapLocalText(text, n)}
	if needsVision(text) {
		if content, ok := e.visionPage(ctx, doc, n); ok {
			page = Page{Number: n, Source: "vision", Content: content}
		} else if strings.TrimSpace(text) == "" {
			page = Page{Number: n, Source: "placeholder", Content: placeholderPage(n)}
		}
	}

	e.cache.Put(key, page.Content)
	return page
}

// visionPage renders the page to PNG and asks the vision model for
// structured markup. Any failure reports ok=false so the caller falls back.
func (e *Extractor) visionPage(ctx context.Context, doc *fitz.Document, n int) (string, bool) {
	png, err := doc.ImagePNG(n, visionDPI)
	if err != nil {
		log.Warn("Page %d render failed: %v", n+1, err)
		return "", false
	}
	content, ok := e.visionExtract(ctx, png, n)
	return content, ok
}

func (e *Extractor) visionExtract(ctx context.Context, image []byte, n int) (string, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.Generate(callCtx, extractionPrompt, llm.GenerateOptions{ImagePNG: image})
	if err != nil {
		log.Warn("Vision extraction failed for page %d: %v", n+1, err)
		return "", false
	}

	content := stripFences(raw)
	content = NormalizeIndexes(content)
	if len(content) < sparseTextThreshold || !strings.Contains(content, "<") {
		log.Warn("Vision extraction for page %d returned insufficient content (%d chars)", n+1, len(content))
		return "", false
	}
	return content, true
}

func (e *Extractor) imagePage(ctx context.Context, jobID string, data []byte) Page {
	key := jobID + ":0"
	if content, ok := e.cache.Get(key); ok {
		return Page{Number: 0, Content: content, Source: "cache"}
	}

	page := Page{Number: 0, Source: "vision"}
	if content, ok := e.visionExtract(ctx, data, 0); ok {
		page.Content = content
	} else {
		page.Source = "placeholder"
		page.Content = placeholderPage(0)
	}
	e.cache.Put(key, page.Content)
	return page
}

// textPages splits plain text into pages of roughly charsPerPage bytes,
// keeping paragraphs intact where possible.
func (e *Extractor) textPages(data []byte) []Page {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	paragraphs := strings.Split(text, "\n\n")

	var pages []Page
	var cur strings.Builder
	flush := func() {
		if strings.TrimSpace(cur.String()) == "" {
			cur.Reset()
			return
		}
		pages = append(pages, Page{
			Number:  len(pages),
			Source:  "local",
			Content: wrapLocalText(cur.String(), len(pages)),
		})
		cur.Reset()
	}

	for _, para := range paragraphs {
		if cur.Len() > 0 && cur.Len()+len(para) > e.charsPerPage {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
		// A single paragraph beyond the page size becomes its own page.
		if cur.Len() >= e.charsPerPage {
			flush()
		}
	}
	flush()

	if len(pages) == 0 {
		pages = append(pages, Page{Number: 0, Source: "placeholder", Content: placeholderPage(0)})
	}
	return pages
}

// needsVision is the complexity heuristic: empty or sparse text means an
// image-heavy page, tab-dense text means columnar layout.
func needsVision(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < sparseTextThreshold {
		return true
	}
	tabs := strings.Count(text, "\t")
	return float64(tabs) > float64(len(text))*tabHeavyRatio
}

// wrapLocalText wraps best-effort plain text in minimal markup.
func wrapLocalText(text string, n int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return placeholderPage(n)
	}
	var sb strings.Builder
	sb.WriteString(`<div class="text-content">`)
	for _, para := range strings.Split(trimmed, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(html.EscapeString(para))
		sb.WriteString("</p>")
	}
	sb.WriteString("</div>")
	return sb.String()
}

func placeholderPage(n int) string {
	return fmt.Sprintf(`<div class="text-content"><p>[could not extract page %d]</p></div>`, n+1)
}

// stripFences removes markdown code fences models wrap HTML output in.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```html", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
