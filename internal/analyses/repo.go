package analyses

import "context"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repo defines persistence operations for analyses.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error)
	// TransitionStatus moves an analysis from one status to another and fails
	// with ErrInvalidTransition when the stored status is not from.
	TransitionStatus(ctx context.Context, analysisID, from, to string) error
	StatusUpdater
}

// StatusUpdater persists the terminal state of an analysis.
type StatusUpdater interface {
	UpdateAnalysisStatus(ctx context.Context, analysisID, status string, fields *ResultFields) error
}

// pageBounds normalizes list paging the same way for every Repo.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
