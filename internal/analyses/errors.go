package analyses

import (
	"context"
	"errors"

	"contract-backend/internal/extract"
	"contract-backend/internal/llm"
	"contract-backend/internal/schema"
	"contract-backend/internal/shared/retry"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNoPageImages          = errors.New("extracted text too short and no page images available")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
	// ErrInterrupted marks a run cancelled before it reached a terminal status.
	// Nothing is persisted; the caller releases the claim.
	ErrInterrupted = errors.New("analysis interrupted")
)

const (
	ErrorCodeLLMTruncated        = "LLM_TRUNCATED"
	ErrorCodeLLMSchemaMismatch   = "LLM_SCHEMA_MISMATCH"
	ErrorCodeLLMParse            = "LLM_PARSE_ERROR"
	ErrorCodeLLMTimeout          = "LLM_TIMEOUT"
	ErrorCodeProvider            = "PROVIDER_ERROR"
	ErrorCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrorCodeExtraction          = "EXTRACTION_ERROR"
	ErrorCodeInternal            = "INTERNAL_ERROR"
)

// extractionError marks failures that happened before the provider was called.
type extractionError struct {
	err error
}

func (e *extractionError) Error() string { return "extract content: " + e.err.Error() }
func (e *extractionError) Unwrap() error { return e.err }

// ErrorCode maps a pipeline failure to the code persisted on the analysis.
func ErrorCode(err error) string {
	var (
		truncated   *llm.TruncatedOutputError
		validation  *schema.ValidationError
		parse       *llm.ParseError
		timeout     *retry.TimeoutError
		status      *llm.StatusError
		empty       *llm.EmptyResponseError
		unsupported *llm.UnsupportedProviderError
		extraction  *extractionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &truncated):
		return ErrorCodeLLMTruncated
	case errors.As(err, &validation):
		return ErrorCodeLLMSchemaMismatch
	case errors.As(err, &parse):
		return ErrorCodeLLMParse
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeLLMTimeout
	case errors.As(err, &status), errors.As(err, &empty):
		return ErrorCodeProvider
	case errors.As(err, &unsupported):
		return ErrorCodeUnsupportedProvider
	case errors.As(err, &extraction), errors.Is(err, ErrNoPageImages), errors.Is(err, extract.ErrUnsupportedType):
		return ErrorCodeExtraction
	default:
		return ErrorCodeInternal
	}
}
