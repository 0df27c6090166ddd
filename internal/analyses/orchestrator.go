package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"contract-backend/internal/llm"
	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/telemetry"
)

// DefaultMinTextLength is the trimmed rune count below which extracted text
// is treated as a scanned document.
const DefaultMinTextLength = 100

// ErrStatusNotPersisted wraps failures to record the outcome of a run.
var ErrStatusNotPersisted = errors.New("analysis status not persisted")

// ProviderResolver returns the adapter registered for a provider id.
type ProviderResolver interface {
	Resolve(id string) (llm.Provider, error)
}

// Content is the extracted form of a contract.
type Content struct {
	Text   string
	Images []llm.Image
}

// Orchestrator drives the processing -> completed|failed transition of one analysis.
// It assumes the caller already moved the analysis to processing.
type Orchestrator struct {
	Providers     ProviderResolver
	Repo          StatusUpdater
	MinTextLength int
}

// BuildRequest chooses text or image mode for content.
func (o *Orchestrator) BuildRequest(content Content, hint string) (llm.AnalysisRequest, error) {
	minLen := o.MinTextLength
	if minLen <= 0 {
		minLen = DefaultMinTextLength
	}
	text := strings.TrimSpace(content.Text)
	if utf8.RuneCountInString(text) >= minLen {
		return llm.AnalysisRequest{Mode: llm.ModeText, Text: text, ContractTypeHint: hint}, nil
	}
	if len(content.Images) > 0 {
		return llm.AnalysisRequest{Mode: llm.ModeImages, Images: content.Images, ContractTypeHint: hint}, nil
	}
	return llm.AnalysisRequest{}, ErrNoPageImages
}

// Run analyzes content with the named provider and persists the outcome.
// A pipeline failure is persisted as failed and returned; retries have
// already happened inside the adapter.
func (o *Orchestrator) Run(ctx context.Context, analysisID string, content Content, providerID, hint string) error {
	started := time.Now()
	requestID := telemetry.RequestID(ctx)

	resp, mode, err := o.analyze(ctx, content, providerID, hint)
	if err != nil {
		return o.fail(ctx, analysisID, providerID, mode, started, err)
	}

	fields := &ResultFields{
		Result:   &resp.Result,
		Provider: providerID,
		Model:    resp.Model,
	}
	if resp.Usage != nil {
		in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
		fields.InputTokens = &in
		fields.OutputTokens = &out
		if cost, ok := llm.EstimateCostUSD(resp.Model, resp.Usage); ok {
			fields.CostUSD = &cost
		}
	}

	if err := o.Repo.UpdateAnalysisStatus(persistContext(ctx), analysisID, StatusCompleted, fields); err != nil {
		telemetry.Error("analysis.persist_failed", map[string]any{
			"request_id":  requestID,
			"analysis_id": analysisID,
			"status":      StatusCompleted,
			"error":       err,
		})
		return fmt.Errorf("%w: %w", ErrStatusNotPersisted, err)
	}

	durationMs := float64(time.Since(started).Microseconds()) / 1000.0
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs)
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestID,
		"analysis_id":       analysisID,
		"provider":          providerID,
		"model":             resp.Model,
		"mode":              string(mode),
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"clauses":           len(resp.Result.Clauses),
		"duration_ms":       durationMs,
	})
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, content Content, providerID, hint string) (llm.Response, llm.Mode, error) {
	req, err := o.BuildRequest(content, hint)
	if err != nil {
		return llm.Response{}, "", err
	}
	if o.Providers == nil {
		return llm.Response{}, req.Mode, errors.New("provider registry not configured")
	}
	provider, err := o.Providers.Resolve(providerID)
	if err != nil {
		return llm.Response{}, req.Mode, fmt.Errorf("resolve provider: %w", err)
	}
	resp, err := req.Dispatch(ctx, provider)
	if err != nil {
		return llm.Response{}, req.Mode, err
	}
	return resp, req.Mode, nil
}

// Fail records a failure that happened before the provider could be called.
func (o *Orchestrator) Fail(ctx context.Context, analysisID, providerID string, cause error) error {
	return o.fail(ctx, analysisID, providerID, "", time.Now(), cause)
}

func (o *Orchestrator) fail(ctx context.Context, analysisID, providerID string, mode llm.Mode, started time.Time, cause error) error {
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		telemetry.Warn("analysis.interrupted", map[string]any{
			"request_id":  telemetry.RequestID(ctx),
			"analysis_id": analysisID,
			"provider":    providerID,
			"mode":        string(mode),
			"error":       cause,
		})
		return fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}

	code := ErrorCode(cause)
	durationMs := float64(time.Since(started).Microseconds()) / 1000.0
	metrics.IncAnalysisFailed(code)
	metrics.ObserveAnalysisDurationMs(durationMs)
	telemetry.Error("analysis.status", map[string]any{
		"request_id":        telemetry.RequestID(ctx),
		"analysis_id":       analysisID,
		"provider":          providerID,
		"mode":              string(mode),
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error_code":        code,
		"error":             cause,
		"duration_ms":       durationMs,
	})

	fields := &ResultFields{Provider: providerID, ErrorCode: code, ErrorMessage: sanitizeError(cause)}
	if err := o.Repo.UpdateAnalysisStatus(persistContext(ctx), analysisID, StatusFailed, fields); err != nil {
		telemetry.Error("analysis.persist_failed", map[string]any{
			"request_id":  telemetry.RequestID(ctx),
			"analysis_id": analysisID,
			"status":      StatusFailed,
			"error":       err,
		})
		return errors.Join(cause, fmt.Errorf("%w: %w", ErrStatusNotPersisted, err))
	}
	return cause
}

// persistContext keeps the final write alive when the caller's context ended,
// so a run whose deadline passed still records its outcome.
func persistContext(ctx context.Context) context.Context {
	if ctx.Err() == nil {
		return ctx
	}
	return context.WithoutCancel(ctx)
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = strings.ToValidUTF8(msg[:maxLen], "")
	}
	return msg
}
