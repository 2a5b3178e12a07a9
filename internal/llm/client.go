package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Transport failure classes the pipeline treats as retryable.
var (
	ErrTimeout       = errors.New("llm: request timed out")
	ErrRateLimited   = errors.New("llm: rate limited")
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Client is an OpenAI-compatible chat-completions client.
// Thread-safe for concurrent use.
type Client struct {
	config *Config
	http   *resty.Client
}

// NewClient creates a new LLM client with the given configuration.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(config.APIURL).
		SetHeader("Authorization", "Bearer "+config.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(time.Duration(config.Timeout) * time.Second)

	return &Client{config: config, http: httpClient}, nil
}

// Generate sends one prompt to the chat-completions endpoint and returns the
// assistant's text. Timeouts, rate limits, and empty responses are reported
// as the sentinel errors above so callers can retry uniformly.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	messages := make([]Message, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: c.userContent(prompt, opts)})

	request := ChatRequest{
		Model:       c.model(opts),
		Messages:    messages,
		MaxTokens:   c.maxTokens(opts),
		Temperature: c.temperature(opts),
	}

	var response ChatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/chat/completions")
	if err != nil {
		if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode())
	}
	if response.Error != nil && response.Error.Message != "" {
		if strings.Contains(strings.ToLower(response.Error.Message), "rate limit") {
			return "", fmt.Errorf("%w: %s", ErrRateLimited, response.Error.Message)
		}
		return "", fmt.Errorf("API error: %w", response.Error)
	}
	if resp.IsError() {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	if len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// userContent builds the user message payload, attaching the page image as a
// base64 data URL when present.
func (c *Client) userContent(prompt string, opts GenerateOptions) interface{} {
	if len(opts.ImagePNG) == 0 {
		return prompt
	}
	encoded := base64.StdEncoding.EncodeToString(opts.ImagePNG)
	return []interface{}{
		TextContent{Type: "text", Text: prompt},
		ImageContent{
			Type:     "image_url",
			ImageURL: ImageURL{URL: "data:image/png;base64," + encoded},
		},
	}
}

func (c *Client) model(opts GenerateOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	if len(opts.ImagePNG) > 0 && c.config.VisionModel != "" {
		return c.config.VisionModel
	}
	return c.config.Model
}

func (c *Client) maxTokens(opts GenerateOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.config.MaxTokens
}

func (c *Client) temperature(opts GenerateOptions) float64 {
	if opts.Temperature > 0 && opts.Temperature <= 2 {
		return opts.Temperature
	}
	return c.config.Temperature
}

// IsRetryable reports whether an error is one of the transport failure
// classes the pipeline retries (timeout, rate limit, empty response).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrEmptyResponse)
}
