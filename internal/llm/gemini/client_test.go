package gemini

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"contract-backend/internal/llm"
	"contract-backend/internal/schema"
	"contract-backend/internal/shared/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	contents  []*genai.Content
	config    *genai.GenerateContentConfig
	responses []func() (*genai.GenerateContentResponse, error)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.contents = contents
	f.config = cfg
	f.mu.Unlock()
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx]()
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func loadResult(t *testing.T) string {
	t.Helper()
	payload, err := os.ReadFile("testdata/result.json")
	require.NoError(t, err)
	return string(payload)
}

func textResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		ModelVersion: "gemini-2.5-flash",
		Candidates: []*genai.Candidate{{
			FinishReason: reason,
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{Text: "thinking about clauses", Thought: true},
				{Text: text},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 900, CandidatesTokenCount: 400},
	}
}

func newTestClient(t *testing.T, gen generator) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey: "test-key",
		Model:  "gemini-2.5-flash",
		Policy: retry.Policy{Timeout: time.Second, MaxRetries: 2, BaseDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	c.gen = gen
	return c
}

func TestAnalyzeTextParsesCandidate(t *testing.T) {
	result := loadResult(t)
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return textResponse(result, genai.FinishReasonStop), nil
		},
	}}

	resp, err := newTestClient(t, gen).AnalyzeText(t.Context(), "제1조 목적", "")
	require.NoError(t, err)

	assert.Equal(t, schema.RiskHigh, resp.Result.OverallRiskLevel)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 900, resp.Usage.InputTokens)
	assert.Equal(t, 400, resp.Usage.OutputTokens)
	assert.Equal(t, "application/json", gen.config.ResponseMIMEType)
	assert.NotNil(t, gen.config.SystemInstruction)
}

func TestAnalyzeImagesAttachesInlineParts(t *testing.T) {
	result := loadResult(t)
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return textResponse(result, genai.FinishReasonStop), nil
		},
	}}

	_, err := newTestClient(t, gen).AnalyzeImages(t.Context(), []llm.Image{{Data: []byte("png"), MediaType: "image/png"}}, "근로계약")
	require.NoError(t, err)

	parts := gen.contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Contains(t, parts[1].Text, "근로계약")
}

func TestMaxTokensIsTerminal(t *testing.T) {
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return textResponse(`{"summary": "`, genai.FinishReasonMaxTokens), nil
		},
	}}

	_, err := newTestClient(t, gen).AnalyzeText(t.Context(), "contract", "")
	var terr *llm.TruncatedOutputError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, gen.Calls())
}

func TestAPIErrorsMapToStatus(t *testing.T) {
	result := loadResult(t)
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return nil, genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}
		},
		func() (*genai.GenerateContentResponse, error) {
			return textResponse(result, genai.FinishReasonStop), nil
		},
	}}

	_, err := newTestClient(t, gen).AnalyzeText(t.Context(), "contract", "")
	require.NoError(t, err)
	assert.Equal(t, 2, gen.Calls())
}

func TestPermissionDeniedIsNotRetried(t *testing.T) {
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return nil, genai.APIError{Code: 403, Message: "API key not valid", Status: "PERMISSION_DENIED"}
		},
	}}

	_, err := newTestClient(t, gen).AnalyzeText(t.Context(), "contract", "")
	var serr *llm.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 403, serr.StatusCode)
	assert.Equal(t, 1, gen.Calls())
}

func TestEmptyCandidatesIsTerminal(t *testing.T) {
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return &genai.GenerateContentResponse{}, nil },
	}}

	_, err := newTestClient(t, gen).AnalyzeText(t.Context(), "contract", "")
	var eerr *llm.EmptyResponseError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, 1, gen.Calls())
}

func TestNetworkErrorsAreRetried(t *testing.T) {
	gen := &fakeGenerator{responses: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return nil, errors.New("dial tcp: connection refused") },
	}}

	_, err := newTestClient(t, gen).AnalyzeText(t.Context(), "contract", "")
	require.Error(t, err)
	assert.Equal(t, 3, gen.Calls())
}
