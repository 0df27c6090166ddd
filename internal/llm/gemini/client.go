// Package gemini analyzes contracts with Google's Gemini models through the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"contract-backend/internal/llm"
	"contract-backend/internal/shared/retry"
	"contract-backend/internal/shared/telemetry"
)

// generator is the slice of the genai Models service the adapter uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures a Client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Policy    retry.Policy
}

// Client implements llm.Provider.
type Client struct {
	apiKey    string
	model     string
	maxTokens int32
	policy    retry.Policy

	once    sync.Once
	gen     generator
	initErr error
}

// NewClient validates cfg. The SDK client is created on first use.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("GEMINI_MODEL is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Client{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: int32(maxTokens),
		policy:    cfg.Policy,
	}, nil
}

func (c *Client) ID() llm.ProviderID { return llm.ProviderGemini }

func (c *Client) models() (generator, error) {
	c.once.Do(func() {
		if c.gen != nil {
			return
		}
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			c.initErr = fmt.Errorf("create genai client: %w", err)
			return
		}
		c.gen = client.Models
	})
	return c.gen, c.initErr
}

// AnalyzeText analyzes extracted contract text.
func (c *Client) AnalyzeText(ctx context.Context, text, contractTypeHint string) (llm.Response, error) {
	parts := []*genai.Part{genai.NewPartFromText(llm.UserPrompt(llm.ModeText, text, contractTypeHint))}
	return c.analyze(ctx, "gemini.analyze_text", parts)
}

// AnalyzeImages analyzes contract page images in reading order.
func (c *Client) AnalyzeImages(ctx context.Context, images []llm.Image, contractTypeHint string) (llm.Response, error) {
	if len(images) == 0 {
		return llm.Response{}, errors.New("gemini: no page images to analyze")
	}
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MediaType))
	}
	parts = append(parts, genai.NewPartFromText(llm.UserPrompt(llm.ModeImages, "", contractTypeHint)))
	return c.analyze(ctx, "gemini.analyze_images", parts)
}

func (c *Client) analyze(ctx context.Context, label string, parts []*genai.Part) (llm.Response, error) {
	gen, err := c.models()
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: %w", err)
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(llm.SystemPrompt(), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		MaxOutputTokens:   c.maxTokens,
		Temperature:       genai.Ptr[float32](0),
	}

	resp, err := retry.Do(ctx, label, c.policy, func(ctx context.Context) (llm.Response, error) {
		return c.attempt(ctx, gen, contents, cfg)
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini: %w", err)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, gen generator, contents []*genai.Content, cfg *genai.GenerateContentConfig) (llm.Response, error) {
	resp, err := gen.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return llm.Response{}, mapError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return llm.Response{}, &llm.EmptyResponseError{Provider: llm.ProviderGemini}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		return llm.Response{}, &llm.TruncatedOutputError{Provider: llm.ProviderGemini, Reason: string(candidate.FinishReason)}
	}

	text := candidateText(candidate)
	if strings.TrimSpace(text) == "" {
		return llm.Response{}, &llm.EmptyResponseError{Provider: llm.ProviderGemini}
	}

	result, err := llm.ParseResponse(text)
	if err != nil {
		return llm.Response{}, err
	}

	model := resp.ModelVersion
	if model == "" {
		model = c.model
	}
	out := llm.Response{Result: result, Model: model}
	if usage := resp.UsageMetadata; usage != nil {
		out.Usage = &llm.TokenUsage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}
		telemetry.Info("llm.usage", map[string]any{
			"provider":      string(llm.ProviderGemini),
			"model":         model,
			"input_tokens":  out.Usage.InputTokens,
			"output_tokens": out.Usage.OutputTokens,
		})
	}
	return out, nil
}

func candidateText(candidate *genai.Candidate) string {
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Provider: llm.ProviderGemini, StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.StatusError{Provider: llm.ProviderGemini, StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}
