package llm

import "fmt"

// Config holds the settings for an OpenAI-compatible chat-completions API.
type Config struct {
	APIKey      string
	APIURL      string
	Model       string
	VisionModel string
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// GenerateOptions tunes a single generation call.
// Zero values fall back to the client configuration.
type GenerateOptions struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// ImagePNG, when set, is attached to the user message as a base64
	// data URL so vision-capable models can read the page.
	ImagePNG []byte
}
