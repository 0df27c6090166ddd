package claude

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"contract-backend/internal/llm"
	"contract-backend/internal/schema"
	"contract-backend/internal/shared/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadResult(t *testing.T) string {
	t.Helper()
	payload, err := os.ReadFile("testdata/result.json")
	require.NoError(t, err)
	return string(payload)
}

func envelope(t *testing.T, text, stopReason string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "msg_1",
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": stopReason,
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 1200, "output_tokens": 800},
	})
	require.NoError(t, err)
	return body
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:  "test-key",
		Model:   "claude-sonnet-4-5",
		BaseURL: url,
		Policy:  retry.Policy{Timeout: 2 * time.Second, MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestAnalyzeTextSendsMessagesRequest(t *testing.T) {
	result := loadResult(t)
	var captured messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))
		w.Write(envelope(t, "```json\n"+result+"\n```", "end_turn"))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).AnalyzeText(t.Context(), "총 1,500만원. 완료 후 일시 지급한다.", "용역계약")
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", captured.Model)
	assert.NotEmpty(t, captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content[0].Text, "용역계약")

	assert.Equal(t, schema.ClausePaymentTerms, resp.Result.Clauses[0].ClauseType)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 1200, resp.Usage.InputTokens)
	assert.Equal(t, 800, resp.Usage.OutputTokens)
}

func TestAnalyzeImagesSendsBase64BlocksBeforeText(t *testing.T) {
	result := loadResult(t)
	var captured messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))
		w.Write(envelope(t, result, "end_turn"))
	}))
	defer srv.Close()

	images := []llm.Image{
		{Data: []byte("page-1"), MediaType: "image/png"},
		{Data: []byte("page-2"), MediaType: "image/jpeg"},
	}
	_, err := newTestClient(t, srv.URL).AnalyzeImages(t.Context(), images, "")
	require.NoError(t, err)

	blocks := captured.Messages[0].Content
	require.Len(t, blocks, 3)
	assert.Equal(t, "image", blocks[0].Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("page-1")), blocks[0].Source.Data)
	assert.Equal(t, "image/jpeg", blocks[1].Source.MediaType)
	assert.Equal(t, "text", blocks[2].Type)
}

func TestTruncatedResponseFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(envelope(t, `{"overallRiskLevel": "high", "clauses": [`, "max_tokens"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AnalyzeText(t.Context(), "contract", "")
	var terr *llm.TruncatedOutputError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, err.Error(), "claude:")
}

func TestEmptyContentFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"id":"msg_1","stop_reason":"end_turn","content":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AnalyzeText(t.Context(), "contract", "")
	var eerr *llm.EmptyResponseError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, int32(1), hits.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	result := loadResult(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		w.Write(envelope(t, result, "end_turn"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AnalyzeText(t.Context(), "contract", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AnalyzeText(t.Context(), "contract", "")
	var serr *llm.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.StatusCode)
	assert.Contains(t, serr.Message, "invalid x-api-key")
	assert.Equal(t, int32(1), hits.Load())
}

func TestSchemaMismatchFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(envelope(t, `{"overallRiskLevel":"severe","overallRiskScore":50,"summary":"s","clauses":[],"improvements":[]}`, "end_turn"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AnalyzeText(t.Context(), "contract", "")
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{Model: "claude-sonnet-4-5"})
	require.Error(t, err)
}
