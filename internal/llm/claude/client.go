// Package claude analyzes contracts with Anthropic's Messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"contract-backend/internal/llm"
	"contract-backend/internal/shared/retry"
	"contract-backend/internal/shared/telemetry"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	stopMaxTokens    = "max_tokens"
	maxErrorBodySize = 4096
)

// Config configures a Client.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Policy    retry.Policy
	// HTTPClient overrides the lazily created default client.
	HTTPClient *http.Client
}

// Client implements llm.Provider.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	policy    retry.Policy

	once       sync.Once
	httpClient *http.Client
}

// NewClient validates cfg and returns a Client. No network call is made.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ANTHROPIC_MODEL is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		policy:     cfg.Policy,
		httpClient: cfg.HTTPClient,
	}, nil
}

func (c *Client) ID() llm.ProviderID { return llm.ProviderClaude }

func (c *Client) client() *http.Client {
	c.once.Do(func() {
		if c.httpClient == nil {
			// Per-attempt deadlines come from the retry policy.
			c.httpClient = &http.Client{}
		}
	})
	return c.httpClient
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeText analyzes extracted contract text.
func (c *Client) AnalyzeText(ctx context.Context, text, contractTypeHint string) (llm.Response, error) {
	blocks := []contentBlock{{Type: "text", Text: llm.UserPrompt(llm.ModeText, text, contractTypeHint)}}
	return c.analyze(ctx, "claude.analyze_text", blocks)
}

// AnalyzeImages analyzes contract page images in reading order.
func (c *Client) AnalyzeImages(ctx context.Context, images []llm.Image, contractTypeHint string) (llm.Response, error) {
	if len(images) == 0 {
		return llm.Response{}, errors.New("claude: no page images to analyze")
	}
	blocks := make([]contentBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: llm.UserPrompt(llm.ModeImages, "", contractTypeHint)})
	return c.analyze(ctx, "claude.analyze_images", blocks)
}

func (c *Client) analyze(ctx context.Context, label string, blocks []contentBlock) (llm.Response, error) {
	temp := 0.0
	payload, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      llm.SystemPrompt(),
		Messages:    []message{{Role: "user", Content: blocks}},
		Temperature: &temp,
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("claude: encode request: %w", err)
	}

	resp, err := retry.Do(ctx, label, c.policy, func(ctx context.Context) (llm.Response, error) {
		return c.attempt(ctx, payload)
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("claude: %w", err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, payload []byte) (llm.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("content-type", "application/json")

	httpResp, err := c.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodySize))
		return llm.Response{}, &llm.StatusError{
			Provider:   llm.ProviderClaude,
			StatusCode: httpResp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("read response: %w", err)
	}
	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Response{}, fmt.Errorf("decode response envelope: %w", err)
	}

	if parsed.StopReason == stopMaxTokens {
		return llm.Response{}, &llm.TruncatedOutputError{Provider: llm.ProviderClaude, Reason: parsed.StopReason}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return llm.Response{}, &llm.EmptyResponseError{Provider: llm.ProviderClaude}
	}

	result, err := llm.ParseResponse(text.String())
	if err != nil {
		return llm.Response{}, err
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	out := llm.Response{Result: result, Model: model}
	if parsed.Usage != nil {
		out.Usage = &llm.TokenUsage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens}
		logUsage(model, out.Usage)
	}
	return out, nil
}

func errorMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Type + ": " + parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func logUsage(model string, usage *llm.TokenUsage) {
	telemetry.Info("llm.usage", map[string]any{
		"provider":      string(llm.ProviderClaude),
		"model":         model,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	})
}
