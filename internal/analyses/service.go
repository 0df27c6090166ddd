package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"contract-backend/internal/extract"
	"contract-backend/internal/llm"
	"contract-backend/internal/queue"
	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/storage/object"
	"contract-backend/internal/shared/telemetry"
)

const maxContractBytes = 20 << 20

var (
	ErrForbidden     = errors.New("analysis belongs to another user")
	ErrFileNotOwned  = errors.New("file does not belong to user")
	ErrFileTooLarge  = errors.New("contract file too large")
	ErrMissingFields = errors.New("userID and fileKey are required")
)

// ContentExtractor turns stored bytes into text or page images.
type ContentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType, fileName string) (extract.Content, error)
}

// Service contains business logic for analyses.
type Service struct {
	Repo            Repo
	Store           object.ObjectStore
	Extractor       ContentExtractor
	Orchestrator    *Orchestrator
	Queue           queue.Client
	DefaultProvider string
}

// CreateInput describes a new analysis request.
type CreateInput struct {
	FileKey          string
	FileName         string
	MimeType         string
	Provider         string
	ContractTypeHint string
}

// Create records a new analysis awaiting payment.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Analysis, error) {
	if userID == "" || strings.TrimSpace(in.FileKey) == "" {
		return Analysis{}, ErrMissingFields
	}
	if !strings.HasPrefix(in.FileKey, "contracts/"+object.OwnerKey(userID)+"/") {
		return Analysis{}, ErrFileNotOwned
	}

	raw := in.Provider
	if strings.TrimSpace(raw) == "" {
		raw = s.DefaultProvider
	}
	provider, ok := llm.ParseProviderID(raw)
	if !ok {
		return Analysis{}, &llm.UnsupportedProviderError{ID: raw}
	}

	now := time.Now().UTC()
	analysis := Analysis{
		ID:               uuid.NewString(),
		UserID:           userID,
		FileKey:          in.FileKey,
		FileName:         in.FileName,
		MimeType:         in.MimeType,
		ContractTypeHint: strings.TrimSpace(in.ContractTypeHint),
		Provider:         string(provider),
		Status:           StatusPendingPayment,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Repo.Create(ctx, analysis); err != nil {
		return Analysis{}, err
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":  telemetry.RequestID(ctx),
		"user_id":     userID,
		"analysis_id": analysis.ID,
		"provider":    analysis.Provider,
		"status":      StatusPendingPayment,
	})
	return analysis, nil
}

// ConfirmPayment marks an analysis as paid. Confirming an already paid analysis is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.owned(ctx, userID, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.Status == StatusPaid {
		return analysis, nil
	}
	if err := s.Repo.TransitionStatus(ctx, analysisID, StatusPendingPayment, StatusPaid); err != nil {
		return Analysis{}, err
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        telemetry.RequestID(ctx),
		"user_id":           userID,
		"analysis_id":       analysisID,
		"status":            StatusPaid,
		"status_transition": "pending_payment->paid",
	})
	return s.Repo.GetByID(ctx, analysisID)
}

// Start schedules a paid analysis. With a queue configured the job is sent to
// the worker; otherwise it runs in a background goroutine.
func (s *Service) Start(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.owned(ctx, userID, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.Status != StatusPaid {
		return analysis, ErrInvalidTransition
	}

	if s.Queue != nil {
		msg := queue.Message{
			AnalysisID: analysisID,
			RequestID:  telemetry.RequestID(ctx),
			EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
			Version:    queue.MessageVersion,
		}
		if err := s.Queue.Send(ctx, msg); err != nil {
			return analysis, fmt.Errorf("enqueue analysis: %w", err)
		}
		return analysis, nil
	}

	go func(ctx context.Context) {
		if err := s.ProcessAnalysis(ctx, analysisID); err != nil {
			telemetry.Error("analysis.process_failed", map[string]any{
				"request_id":  telemetry.RequestID(ctx),
				"analysis_id": analysisID,
				"error":       err,
			})
		}
	}(context.WithoutCancel(ctx))
	return analysis, nil
}

// ProcessAnalysis claims a paid analysis, extracts its contract and runs the
// orchestrator. Only one caller can claim a given analysis.
func (s *Service) ProcessAnalysis(ctx context.Context, analysisID string) (err error) {
	if s.Orchestrator == nil {
		return errors.New("orchestrator not configured")
	}
	if err := s.Repo.TransitionStatus(ctx, analysisID, StatusPaid, StatusProcessing); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("%w: claim %s: %w", ErrStatusNotPersisted, analysisID, err)
	}
	defer func() {
		if errors.Is(err, ErrInterrupted) {
			err = s.release(ctx, analysisID, err)
		}
	}()

	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return s.Orchestrator.Fail(ctx, analysisID, "", fmt.Errorf("analysis lookup: %w", err))
	}
	defer func() {
		if r := recover(); r != nil {
			err = s.Orchestrator.Fail(ctx, analysisID, analysis.Provider, fmt.Errorf("panic: %v", r))
		}
	}()

	metrics.IncAnalysisStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        telemetry.RequestID(ctx),
		"user_id":           analysis.UserID,
		"analysis_id":       analysis.ID,
		"provider":          analysis.Provider,
		"status":            StatusProcessing,
		"status_transition": "paid->processing",
	})

	content, err := s.loadContent(ctx, analysis)
	if err != nil {
		return s.Orchestrator.Fail(ctx, analysisID, analysis.Provider, &extractionError{err: err})
	}
	return s.Orchestrator.Run(ctx, analysisID, content, analysis.Provider, analysis.ContractTypeHint)
}

// release hands an interrupted claim back to paid so a redelivered message can pick it up.
func (s *Service) release(ctx context.Context, analysisID string, cause error) error {
	if err := s.Repo.TransitionStatus(context.WithoutCancel(ctx), analysisID, StatusProcessing, StatusPaid); err != nil {
		telemetry.Error("analysis.release_failed", map[string]any{
			"request_id":  telemetry.RequestID(ctx),
			"analysis_id": analysisID,
			"error":       err,
		})
		return errors.Join(cause, fmt.Errorf("%w: release %s: %w", ErrStatusNotPersisted, analysisID, err))
	}
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        telemetry.RequestID(ctx),
		"analysis_id":       analysisID,
		"status":            StatusPaid,
		"status_transition": "processing->paid",
	})
	return cause
}

func (s *Service) loadContent(ctx context.Context, analysis Analysis) (Content, error) {
	if s.Store == nil || s.Extractor == nil {
		return Content{}, errors.New("missing store or extractor")
	}
	body, err := s.Store.Open(ctx, analysis.FileKey)
	if err != nil {
		return Content{}, fmt.Errorf("open %s: %w", analysis.FileKey, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxContractBytes+1))
	if err != nil {
		return Content{}, fmt.Errorf("read %s: %w", analysis.FileKey, err)
	}
	if len(data) > maxContractBytes {
		return Content{}, ErrFileTooLarge
	}

	extracted, err := s.Extractor.Extract(ctx, data, analysis.MimeType, analysis.FileName)
	if err != nil {
		return Content{}, err
	}
	return ContentFrom(extracted), nil
}

// ContentFrom converts extractor output into orchestrator input.
func ContentFrom(extracted extract.Content) Content {
	content := Content{Text: extracted.Text}
	for _, img := range extracted.Images {
		content.Images = append(content.Images, llm.Image{Data: img.Data, MediaType: img.MediaType})
	}
	return content
}

// Get returns an analysis owned by userID.
func (s *Service) Get(ctx context.Context, userID, analysisID string) (Analysis, error) {
	return s.owned(ctx, userID, analysisID)
}

// List returns analyses for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) owned(ctx context.Context, userID, analysisID string) (Analysis, error) {
	if analysisID == "" {
		return Analysis{}, ErrNotFound
	}
	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.UserID != userID {
		return Analysis{}, ErrForbidden
	}
	return analysis, nil
}
