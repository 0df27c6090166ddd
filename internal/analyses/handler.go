package analyses

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"contract-backend/internal/llm"
	"contract-backend/internal/shared/server/middleware"
	"contract-backend/internal/shared/server/respond"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.createAnalysis)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.POST("/analyses/:id/payment", h.confirmPayment)
	rg.POST("/analyses/:id/run", h.startAnalysis)
}

type createRequest struct {
	FileKey          string `json:"fileKey" binding:"required"`
	FileName         string `json:"fileName" binding:"required,max=255"`
	MimeType         string `json:"mimeType" binding:"required"`
	Provider         string `json:"provider"`
	ContractTypeHint string `json:"contractTypeHint" binding:"max=100"`
}

func (h *Handler) createAnalysis(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid analysis request", bindingDetails(err))
		return
	}

	analysis, err := h.Svc.Create(c.Request.Context(), middleware.UserIDFromContext(c), CreateInput{
		FileKey:          req.FileKey,
		FileName:         req.FileName,
		MimeType:         req.MimeType,
		Provider:         req.Provider,
		ContractTypeHint: req.ContractTypeHint,
	})
	if err != nil {
		h.writeError(c, err, "failed to create analysis")
		return
	}

	c.Set("analysisId", analysis.ID)
	respond.JSON(c, http.StatusCreated, gin.H{
		"analysisId": analysis.ID,
		"status":     analysis.Status,
		"provider":   analysis.Provider,
	})
}

func (h *Handler) confirmPayment(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)

	analysis, err := h.Svc.ConfirmPayment(c.Request.Context(), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err, "failed to confirm payment")
		return
	}
	c.Set("statusTransition", "pending_payment->paid")
	respond.OK(c, gin.H{"analysisId": analysis.ID, "status": analysis.Status})
}

func (h *Handler) startAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)

	analysis, err := h.Svc.Start(c.Request.Context(), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err, "failed to start analysis")
		return
	}
	respond.JSON(c, http.StatusAccepted, gin.H{"analysisId": analysis.ID, "status": analysis.Status})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set("analysisId", analysisID)

	analysis, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		h.writeError(c, err, "failed to fetch analysis")
		return
	}
	respond.OK(c, analysisView(analysis))
}

func (h *Handler) listAnalyses(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	items, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	resp := make([]gin.H, 0, len(items))
	for _, a := range items {
		item := gin.H{
			"analysisId": a.ID,
			"fileName":   a.FileName,
			"status":     a.Status,
			"createdAt":  a.CreatedAt,
		}
		if a.Status == StatusCompleted && a.Result != nil {
			item["overallRiskScore"] = a.Result.OverallRiskScore
			item["overallRiskLevel"] = a.Result.OverallRiskLevel
		}
		resp = append(resp, item)
	}
	respond.OK(c, resp)
}

// analysisView exposes the result only once completed. Failure details stay
// server side; clients see the failed status.
func analysisView(a Analysis) gin.H {
	view := gin.H{
		"id":        a.ID,
		"fileName":  a.FileName,
		"status":    a.Status,
		"provider":  a.Provider,
		"createdAt": a.CreatedAt,
		"updatedAt": a.UpdatedAt,
	}
	if a.ContractTypeHint != "" {
		view["contractTypeHint"] = a.ContractTypeHint
	}
	if a.CompletedAt != nil {
		view["completedAt"] = a.CompletedAt
	}
	if a.Status == StatusCompleted && a.Result != nil {
		view["model"] = a.Model
		view["result"] = a.Result
	}
	return view
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	var unsupported *llm.UnsupportedProviderError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, "invalid_status", "analysis is not in a state that allows this action", nil)
	case errors.Is(err, ErrMissingFields):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrFileNotOwned):
		respond.Error(c, http.StatusForbidden, "forbidden", "file does not belong to user", nil)
	case errors.As(err, &unsupported):
		respond.Error(c, http.StatusBadRequest, "unsupported_provider", unsupported.Error(), []map[string]any{
			{"field": "provider", "allowed": llm.ProviderIDs()},
		})
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func bindingDetails(err error) []map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, map[string]string{"field": fe.Field(), "issue": fe.Tag()})
	}
	return details
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
