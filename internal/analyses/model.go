package analyses

import (
	"time"

	"contract-backend/internal/schema"
)

const (
	StatusPendingPayment = "pending_payment"
	StatusPaid           = "paid"
	StatusProcessing     = "processing"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
)

// Analysis is one contract analysis and its lifecycle state.
type Analysis struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"userId"`
	FileKey          string                 `json:"fileKey"`
	FileName         string                 `json:"fileName"`
	MimeType         string                 `json:"mimeType"`
	ContractTypeHint string                 `json:"contractTypeHint,omitempty"`
	Provider         string                 `json:"provider"`
	Model            string                 `json:"model,omitempty"`
	Status           string                 `json:"status"`
	Result           *schema.AnalysisResult `json:"result,omitempty"`
	InputTokens      *int                   `json:"inputTokens,omitempty"`
	OutputTokens     *int                   `json:"outputTokens,omitempty"`
	CostUSD          *float64               `json:"costUsd,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	ErrorMessage     *string                `json:"-"`
	StartedAt        *time.Time             `json:"startedAt,omitempty"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// ResultFields are the values persisted alongside a terminal status.
// Nil pointers leave the stored value untouched.
type ResultFields struct {
	Result       *schema.AnalysisResult
	Provider     string
	Model        string
	InputTokens  *int
	OutputTokens *int
	CostUSD      *float64
	ErrorCode    string
	ErrorMessage string
}

var transitions = map[string][]string{
	StatusPendingPayment: {StatusPaid},
	StatusPaid:           {StatusProcessing},
	// processing -> paid releases a claim whose run was interrupted by shutdown.
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPaid},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
