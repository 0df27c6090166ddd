package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"ENV", "LLM_TIMEOUT", "LLM_MAX_RETRIES", "LLM_RETRY_BASE_DELAY", "ANALYSIS_MIN_TEXT_LENGTH", "LLM_DEFAULT_PROVIDER"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "claude", cfg.DefaultProvider)
	assert.Equal(t, 100, cfg.MinTextLength)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 120*time.Second, policy.Timeout)
	assert.Equal(t, 2, policy.MaxRetries)
	assert.Equal(t, time.Second, policy.BaseDelay)
}

func TestLoadDurations(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_TIMEOUT", "45")
	t.Setenv("LLM_RETRY_BASE_DELAY", "250ms")
	t.Setenv("LLM_MAX_RETRIES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 45*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.LLMRetryBaseDelay)
	assert.Equal(t, 2, cfg.LLMMaxRetries)
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GEMINI_MODEL=gemini-2.5-pro\nPORT=9999\n"), 0o600))
	t.Setenv("PORT", "7000")
	t.Setenv("GEMINI_MODEL", "")
	os.Unsetenv("GEMINI_MODEL")

	cfg := Load()
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "gemini-2.5-pro", cfg.GeminiModel)
}

func TestNormalizeEnv(t *testing.T) {
	assert.Equal(t, "production", normalizeEnv("PROD"))
	assert.Equal(t, "dev", normalizeEnv("whatever"))
}
