package analyses

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Analysis
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Analysis)}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if analysis.UpdatedAt.IsZero() {
		analysis.UpdatedAt = analysis.CreatedAt
	}
	r.byID[analysis.ID] = analysis
	return nil
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// TransitionStatus applies a conditional status change.
func (r *MemoryRepo) TransitionStatus(ctx context.Context, analysisID, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	if analysis.Status != from || !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	analysis.Status = to
	if to == StatusProcessing && analysis.StartedAt == nil {
		analysis.StartedAt = &now
	}
	analysis.UpdatedAt = now
	r.byID[analysisID] = analysis
	return nil
}

// UpdateAnalysisStatus updates status and result fields for an existing analysis.
func (r *MemoryRepo) UpdateAnalysisStatus(ctx context.Context, analysisID, status string, fields *ResultFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	analysis.Status = status
	if fields != nil {
		if fields.Result != nil {
			result := *fields.Result
			analysis.Result = &result
		}
		if fields.Provider != "" {
			analysis.Provider = fields.Provider
		}
		if fields.Model != "" {
			analysis.Model = fields.Model
		}
		if fields.InputTokens != nil {
			analysis.InputTokens = fields.InputTokens
		}
		if fields.OutputTokens != nil {
			analysis.OutputTokens = fields.OutputTokens
		}
		if fields.CostUSD != nil {
			analysis.CostUSD = fields.CostUSD
		}
		if fields.ErrorCode != "" {
			analysis.ErrorCode = fields.ErrorCode
		}
		if fields.ErrorMessage != "" {
			msg := fields.ErrorMessage
			analysis.ErrorMessage = &msg
		}
	}
	if status == StatusProcessing && analysis.StartedAt == nil {
		analysis.StartedAt = &now
	}
	if (status == StatusCompleted || status == StatusFailed) && analysis.CompletedAt == nil {
		analysis.CompletedAt = &now
	}
	analysis.UpdatedAt = now
	r.byID[analysisID] = analysis
	return nil
}

// ListByUser returns analyses for a user, newest first, with limit/offset.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = pageBounds(limit, offset)

	r.mu.RLock()
	var out []Analysis
	for _, a := range r.byID {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	if len(out) == 0 || offset >= len(out) {
		return []Analysis{}, nil
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	end := len(out)
	if offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}
