package analyses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-backend/internal/llm"
	"contract-backend/internal/llm/claude"
	"contract-backend/internal/llm/providers"
	"contract-backend/internal/schema"
	"contract-backend/internal/shared/retry"
)

const paymentClause = "총 1,500만원. 완료 후 일시 지급한다."

func contractText() string {
	return "용역계약서\n제1조(목적) 본 계약은 갑이 을에게 웹사이트 개발 용역을 위탁하고 을이 이를 수행하는 데 필요한 사항을 정한다.\n" +
		"제5조(대금) " + paymentClause + "\n제9조(해지) 갑은 언제든지 계약을 해지할 수 있다."
}

func loadResultFixture(t *testing.T) string {
	t.Helper()
	payload, err := os.ReadFile("testdata/result.json")
	require.NoError(t, err)
	return string(payload)
}

func claudeEnvelope(t *testing.T, text, stopReason string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "msg_test",
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": stopReason,
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 1000, "output_tokens": 500},
	})
	require.NoError(t, err)
	return body
}

// claudeRegistry serves the Claude adapter against handler.
func claudeRegistry(t *testing.T, handler http.HandlerFunc) *providers.Registry {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return providers.NewRegistry(map[llm.ProviderID]providers.Constructor{
		llm.ProviderClaude: func() (llm.Provider, error) {
			return claude.NewClient(claude.Config{
				APIKey:  "test-key",
				Model:   "claude-sonnet-4-5",
				BaseURL: srv.URL,
				Policy:  retry.Policy{Timeout: 200 * time.Millisecond, MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
			})
		},
	})
}

func seedProcessing(t *testing.T, repo *MemoryRepo, id string) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), Analysis{
		ID:        id,
		UserID:    "user-1",
		FileKey:   "contracts/x/" + id + "_contract.pdf",
		Provider:  string(llm.ProviderClaude),
		Status:    StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestOrchestratorPersistsCompletedAnalysis(t *testing.T) {
	result := loadResultFixture(t)
	var hits atomic.Int32
	registry := claudeRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(claudeEnvelope(t, "```json\n"+result+"\n```", "end_turn"))
	})
	repo := NewMemoryRepo()
	seedProcessing(t, repo, "a-1")
	orch := &Orchestrator{Providers: registry, Repo: repo}

	err := orch.Run(context.Background(), "a-1", Content{Text: contractText()}, "claude", "용역계약")
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	require.NotEmpty(t, stored.Result.Clauses)
	clause := stored.Result.Clauses[0]
	assert.Equal(t, paymentClause, clause.OriginalText)
	assert.Equal(t, schema.ClausePaymentTerms, clause.ClauseType)
	assert.Equal(t, schema.RiskHigh, clause.RiskLevel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", stored.Model)
	require.NotNil(t, stored.InputTokens)
	assert.Equal(t, 1000, *stored.InputTokens)
	assert.NotNil(t, stored.CompletedAt)
	assert.Empty(t, stored.ErrorCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOrchestratorTruncatedOutputFailsAfterOneAttempt(t *testing.T) {
	var hits atomic.Int32
	registry := claudeRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(claudeEnvelope(t, `{"overallRiskLevel":"high","clauses":[{"id":"clause-1",`, "max_tokens"))
	})
	repo := NewMemoryRepo()
	seedProcessing(t, repo, "a-2")
	orch := &Orchestrator{Providers: registry, Repo: repo}

	err := orch.Run(context.Background(), "a-2", Content{Text: contractText()}, "claude", "")
	var truncated *llm.TruncatedOutputError
	require.ErrorAs(t, err, &truncated)

	stored, err := repo.GetByID(context.Background(), "a-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, ErrorCodeLLMTruncated, stored.ErrorCode)
	require.NotNil(t, stored.ErrorMessage)
	assert.Nil(t, stored.Result)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOrchestratorRecoversFromOneTimeout(t *testing.T) {
	result := loadResultFixture(t)
	var hits atomic.Int32
	registry := claudeRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write(claudeEnvelope(t, result, "end_turn"))
	})
	repo := NewMemoryRepo()
	seedProcessing(t, repo, "a-3")
	orch := &Orchestrator{Providers: registry, Repo: repo}

	require.NoError(t, orch.Run(context.Background(), "a-3", Content{Text: contractText()}, "claude", ""))

	stored, err := repo.GetByID(context.Background(), "a-3")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, int32(2), hits.Load())
}

func TestOrchestratorUnknownProviderMakesNoCall(t *testing.T) {
	var hits atomic.Int32
	registry := claudeRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	repo := NewMemoryRepo()
	seedProcessing(t, repo, "a-4")
	orch := &Orchestrator{Providers: registry, Repo: repo}

	err := orch.Run(context.Background(), "a-4", Content{Text: contractText()}, "gpt4", "")
	var unsupported *llm.UnsupportedProviderError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "gpt4", unsupported.ID)

	stored, _ := repo.GetByID(context.Background(), "a-4")
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, ErrorCodeUnsupportedProvider, stored.ErrorCode)
	assert.Zero(t, hits.Load())
}

func TestBuildRequestChoosesMode(t *testing.T) {
	orch := &Orchestrator{}
	page := llm.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MediaType: "image/png"}

	req, err := orch.BuildRequest(Content{Text: "  " + contractText() + "  ", Images: []llm.Image{page}}, "hint")
	require.NoError(t, err)
	assert.Equal(t, llm.ModeText, req.Mode)
	assert.Equal(t, contractText(), req.Text)
	assert.Equal(t, "hint", req.ContractTypeHint)

	req, err = orch.BuildRequest(Content{Text: paymentClause, Images: []llm.Image{page}}, "")
	require.NoError(t, err)
	assert.Equal(t, llm.ModeImages, req.Mode)
	assert.Len(t, req.Images, 1)

	_, err = orch.BuildRequest(Content{Text: paymentClause}, "")
	assert.ErrorIs(t, err, ErrNoPageImages)
}

func TestBuildRequestCountsRunesNotBytes(t *testing.T) {
	orch := &Orchestrator{MinTextLength: 10}
	// Ten Hangul syllables are thirty bytes but ten characters.
	req, err := orch.BuildRequest(Content{Text: strings.Repeat("계", 10)}, "")
	require.NoError(t, err)
	assert.Equal(t, llm.ModeText, req.Mode)

	_, err = orch.BuildRequest(Content{Text: strings.Repeat("계", 9)}, "")
	assert.ErrorIs(t, err, ErrNoPageImages)
}

type failingUpdater struct {
	err error
}

func (f failingUpdater) UpdateAnalysisStatus(context.Context, string, string, *ResultFields) error {
	return f.err
}

type stubResolver struct {
	provider llm.Provider
}

func (s stubResolver) Resolve(string) (llm.Provider, error) { return s.provider, nil }

type stubProvider struct {
	resp llm.Response
	err  error
}

func (s stubProvider) ID() llm.ProviderID { return llm.ProviderClaude }

func (s stubProvider) AnalyzeText(context.Context, string, string) (llm.Response, error) {
	return s.resp, s.err
}

func (s stubProvider) AnalyzeImages(context.Context, []llm.Image, string) (llm.Response, error) {
	return s.resp, s.err
}

func TestOrchestratorReportsUnpersistedOutcome(t *testing.T) {
	dbErr := errors.New("connection reset")
	orch := &Orchestrator{
		Providers: stubResolver{provider: stubProvider{err: &llm.StatusError{Provider: "claude", StatusCode: 400}}},
		Repo:      failingUpdater{err: dbErr},
	}

	err := orch.Run(context.Background(), "a-5", Content{Text: contractText()}, "claude", "")
	assert.ErrorIs(t, err, ErrStatusNotPersisted)
	assert.ErrorIs(t, err, dbErr)
	var status *llm.StatusError
	assert.ErrorAs(t, err, &status)

	orch.Providers = stubResolver{provider: stubProvider{resp: llm.Response{Model: "m"}}}
	err = orch.Run(context.Background(), "a-5", Content{Text: contractText()}, "claude", "")
	assert.ErrorIs(t, err, ErrStatusNotPersisted)
}

func TestOrchestratorLeavesCancelledRunUnrecorded(t *testing.T) {
	repo := NewMemoryRepo()
	seedProcessing(t, repo, "a-6")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orch := &Orchestrator{
		Providers: stubResolver{provider: stubProvider{err: context.Canceled}},
		Repo:      repo,
	}

	err := orch.Run(ctx, "a-6", Content{Text: contractText()}, "claude", "")
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)

	stored, getErr := repo.GetByID(context.Background(), "a-6")
	require.NoError(t, getErr)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Empty(t, stored.ErrorCode)
}

func TestOrchestratorPersistsAfterCallerDeadline(t *testing.T) {
	repo := NewMemoryRepo()
	seedProcessing(t, repo, "a-7")
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	orch := &Orchestrator{
		Providers: stubResolver{provider: stubProvider{err: context.DeadlineExceeded}},
		Repo:      repo,
	}

	err := orch.Run(ctx, "a-7", Content{Text: contractText()}, "claude", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrInterrupted)

	stored, getErr := repo.GetByID(context.Background(), "a-7")
	require.NoError(t, getErr)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, ErrorCodeLLMTimeout, stored.ErrorCode)
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", sanitizeError(nil))
	assert.Equal(t, "line one line two", sanitizeError(errors.New("line one\nline two\r")))

	long := sanitizeError(errors.New(strings.Repeat("가", 400)))
	assert.LessOrEqual(t, len(long), 500)
	assert.True(t, strings.HasPrefix(long, "가"))
	assert.NotContains(t, long, "�")
}
