package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.APIURL)
	assert.Equal(t, cfg.LLM.Model, cfg.LLM.VisionModel)
	assert.Equal(t, 9000, cfg.Translate.MaxChunkSize)
	assert.Equal(t, 3000, cfg.Translate.CharsPerPage)
	assert.Equal(t, 4, cfg.Worker.WorkerCount)
	assert.Equal(t, time.Hour, cfg.Worker.ResultRetention)
}

func TestNewFromEnv_MissingAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("MAX_CHUNK_SIZE", "4000")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("RESULT_RETENTION", "30m")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Translate.MaxChunkSize)
	assert.Equal(t, 2, cfg.Worker.WorkerCount)
	assert.Equal(t, 30*time.Minute, cfg.Worker.ResultRetention)
}

func TestMaxChunkSizeFor(t *testing.T) {
	cfg := TranslateConfig{MaxChunkSize: 9000}

	assert.Equal(t, 6000, cfg.MaxChunkSizeFor(language.Chinese))
	assert.Equal(t, 6000, cfg.MaxChunkSizeFor(language.MustParse("zh-Hant")))
	assert.Equal(t, 9000, cfg.MaxChunkSizeFor(language.Spanish))
	assert.Equal(t, 9000, cfg.MaxChunkSizeFor(language.English))
}
