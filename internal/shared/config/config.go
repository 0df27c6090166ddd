package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"contract-backend/internal/shared/retry"
	"contract-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	QueueURL        string
	DatabaseURL     string
	Env             string
	JWTSecret       string

	DefaultProvider    string
	AnthropicAPIKey    string
	AnthropicModel     string
	AnthropicBaseURL   string
	AnthropicMaxTokens int
	GeminiAPIKey       string
	GeminiModel        string
	GeminiMaxTokens    int

	LLMTimeout        time.Duration
	LLMMaxRetries     int
	LLMRetryBaseDelay time.Duration

	MinTextLength  int
	MaxScanPages   int
	RasterizerBin  string
	WorkerPoolSize int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Error("config.missing", map[string]any{"key": "DATABASE_URL"})
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if env == "production" && jwtSecret == "" {
		telemetry.Error("config.missing", map[string]any{"key": "JWT_SECRET"})
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		QueueURL:        getEnv("QUEUE_URL", ""),
		DatabaseURL:     dbURL,
		Env:             env,
		JWTSecret:       jwtSecret,

		DefaultProvider:    strings.ToLower(getEnv("LLM_DEFAULT_PROVIDER", "claude")),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		AnthropicBaseURL:   strings.TrimRight(getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
		AnthropicMaxTokens: getInt("ANTHROPIC_MAX_TOKENS", 8192),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiMaxTokens:    getInt("GEMINI_MAX_TOKENS", 8192),

		LLMTimeout:        getDuration("LLM_TIMEOUT", 120*time.Second),
		LLMMaxRetries:     getInt("LLM_MAX_RETRIES", 2),
		LLMRetryBaseDelay: getDuration("LLM_RETRY_BASE_DELAY", time.Second),

		MinTextLength:  getInt("ANALYSIS_MIN_TEXT_LENGTH", 100),
		MaxScanPages:   getInt("ANALYSIS_MAX_SCAN_PAGES", 10),
		RasterizerBin:  getEnv("PDF_RASTERIZER_BIN", "pdftoppm"),
		WorkerPoolSize: getInt("WORKER_POOL_SIZE", 4),
	}
}

// RetryPolicy builds the provider call policy from the LLM settings.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Timeout:    c.LLMTimeout,
		MaxRetries: c.LLMMaxRetries,
		BaseDelay:  c.LLMRetryBaseDelay,
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return parsed
}

// getDuration accepts Go duration strings ("90s") or whole seconds ("90").
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		telemetry.Warn("config.invalid", map[string]any{"key": key, "value": raw})
		return def
	}
	return parsed
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
