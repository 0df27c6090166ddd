package llm

import (
	"context"
	"strings"

	"contract-backend/internal/schema"
)

// ProviderID identifies a registered LLM vendor.
type ProviderID string

const (
	ProviderClaude ProviderID = "claude"
	ProviderGemini ProviderID = "gemini"
)

// ProviderIDs lists every provider the service knows how to construct.
func ProviderIDs() []ProviderID {
	return []ProviderID{ProviderClaude, ProviderGemini}
}

// ParseProviderID normalises raw and reports whether it names a known provider.
func ParseProviderID(raw string) (ProviderID, bool) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range ProviderIDs() {
		if id == known {
			return id, true
		}
	}
	return id, false
}

// Provider analyzes contract content with one external model.
// Implementations are safe for concurrent use.
type Provider interface {
	ID() ProviderID
	AnalyzeText(ctx context.Context, text, contractTypeHint string) (Response, error)
	AnalyzeImages(ctx context.Context, images []Image, contractTypeHint string) (Response, error)
}

// Mode selects how contract content is sent to the provider.
type Mode string

const (
	ModeText   Mode = "text"
	ModeImages Mode = "images"
)

// Image is one rasterized contract page.
type Image struct {
	Data      []byte
	MediaType string
}

// AnalysisRequest is the immutable input of a single analysis call.
type AnalysisRequest struct {
	Mode             Mode
	Text             string
	Images           []Image
	ContractTypeHint string
}

// Dispatch invokes the provider operation matching the request mode.
func (r AnalysisRequest) Dispatch(ctx context.Context, p Provider) (Response, error) {
	if r.Mode == ModeImages {
		return p.AnalyzeImages(ctx, r.Images, r.ContractTypeHint)
	}
	return p.AnalyzeText(ctx, r.Text, r.ContractTypeHint)
}

// TokenUsage carries the token counts a vendor reported for one call.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Response is a validated analysis with optional usage data.
type Response struct {
	Result schema.AnalysisResult
	Usage  *TokenUsage
	Model  string
}
