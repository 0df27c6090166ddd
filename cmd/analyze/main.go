// Command analyze runs one contract file through a provider without the API.
//
//	go run ./cmd/analyze --provider gemini --hint nda ./contract.pdf
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contract-backend/internal/analyses"
	"contract-backend/internal/extract"
	"contract-backend/internal/llm"
	"contract-backend/internal/llm/providers"
	"contract-backend/internal/schema"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/telemetry"
)

type options struct {
	provider string
	hint     string
	mimeType string
	timeout  time.Duration
	retries  int
}

type output struct {
	Provider string                `json:"provider"`
	Model    string                `json:"model,omitempty"`
	Mode     llm.Mode              `json:"mode"`
	Usage    *llm.TokenUsage       `json:"usage,omitempty"`
	CostUSD  *float64              `json:"costUsd,omitempty"`
	Result   schema.AnalysisResult `json:"result"`
}

func main() {
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "analyze [file]",
		Short:        "Analyze a contract file with an LLM provider",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("timeout") {
				cfg.LLMTimeout = opts.timeout
			}
			if cmd.Flags().Changed("retries") {
				cfg.LLMMaxRetries = opts.retries
			}
			if opts.provider == "" {
				opts.provider = cfg.DefaultProvider
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.provider, "provider", "", "provider id (claude or gemini)")
	cmd.Flags().StringVar(&opts.hint, "hint", "", "contract type hint")
	cmd.Flags().StringVar(&opts.mimeType, "mime", "", "override the detected mime type")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-attempt timeout")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "retries after the first attempt")
	cmd.AddCommand(newProvidersCmd())
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List known provider ids",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, id := range llm.ProviderIDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
		},
	}
}

func run(ctx context.Context, w io.Writer, cfg config.Config, opts options, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	extractor := extract.Extractor{
		Rasterizer:    extract.PDFToPPM{Bin: cfg.RasterizerBin},
		MaxScanPages:  cfg.MaxScanPages,
		MinTextLength: cfg.MinTextLength,
	}
	extracted, err := extractor.Extract(ctx, data, opts.mimeType, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}

	orch := &analyses.Orchestrator{MinTextLength: cfg.MinTextLength}
	req, err := orch.BuildRequest(analyses.ContentFrom(extracted), opts.hint)
	if err != nil {
		return err
	}

	provider, err := providers.FromConfig(cfg).Resolve(opts.provider)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := req.Dispatch(ctx, provider)
	if err != nil {
		telemetry.Error("analyze.failed", map[string]any{
			"provider": opts.provider,
			"mode":     string(req.Mode),
			"code":     analyses.ErrorCode(err),
			"error":    err,
		})
		return err
	}
	telemetry.Info("analyze.completed", map[string]any{
		"provider":    opts.provider,
		"model":       resp.Model,
		"mode":        string(req.Mode),
		"duration_ms": time.Since(started).Milliseconds(),
	})

	out := output{
		Provider: string(provider.ID()),
		Model:    resp.Model,
		Mode:     req.Mode,
		Usage:    resp.Usage,
		Result:   resp.Result,
	}
	if cost, ok := llm.EstimateCostUSD(resp.Model, resp.Usage); ok {
		out.CostUSD = &cost
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
