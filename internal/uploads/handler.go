package uploads

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/extract"
	"contract-backend/internal/shared/server/middleware"
	"contract-backend/internal/shared/server/respond"
	"contract-backend/internal/shared/storage/object"
	"contract-backend/internal/shared/telemetry"
)

const maxUploadBytes = 20 << 20

var allowedContentTypes = map[string]struct{}{
	extract.MimePDF:  {},
	extract.MimeDOCX: {},
	extract.MimeJPEG: {},
	extract.MimePNG:  {},
}

// Presigner issues direct-to-storage upload URLs.
type Presigner interface {
	PresignUpload(ctx context.Context, ownerID, fileName, contentType string) (object.PresignedUpload, error)
}

// Handler accepts contract uploads into the object store.
type Handler struct {
	Store   object.ObjectStore
	Presign Presigner
}

// NewHandler constructs a Handler. presign may be nil when the store has no
// direct upload support.
func NewHandler(store object.ObjectStore, presign Presigner) *Handler {
	return &Handler{Store: store, Presign: presign}
}

// RegisterRoutes attaches upload routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads", h.upload)
	if h.Presign != nil {
		rg.POST("/uploads/presign", h.presign)
	}
}

type uploadResponse struct {
	FileKey   string `json:"fileKey"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fh.Size > maxUploadBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds 20MB limit", nil)
		return
	}

	f, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable file", nil)
		return
	}
	defer f.Close()

	userID := middleware.UserIDFromContext(c)
	stored, err := h.Store.Save(c.Request.Context(), userID, fh.Filename, io.LimitReader(f, maxUploadBytes))
	if err != nil {
		telemetry.Error("uploads.save_failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"user_id":    userID,
			"error":      err,
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store file", nil)
		return
	}

	mimeType, ok := contractMimeType(stored.MimeType, fh.Filename)
	if !ok {
		if err := h.Store.Delete(c.Request.Context(), stored.Key); err != nil {
			telemetry.Warn("uploads.cleanup_failed", map[string]any{"key": stored.Key, "error": err})
		}
		respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_type", "only PDF, DOCX, JPEG and PNG files are accepted", nil)
		return
	}

	respond.JSON(c, http.StatusCreated, uploadResponse{
		FileKey:   stored.Key,
		FileName:  fh.Filename,
		MimeType:  mimeType,
		SizeBytes: stored.SizeBytes,
	})
}

type presignRequest struct {
	FileName    string `json:"fileName" binding:"required,max=255"`
	ContentType string `json:"contentType" binding:"required"`
	SizeBytes   int64  `json:"sizeBytes" binding:"required,gt=0"`
}

type presignResponse struct {
	UploadURL        string              `json:"uploadUrl"`
	FileKey          string              `json:"fileKey"`
	Headers          map[string][]string `json:"headers,omitempty"`
	ExpiresInSeconds int64               `json:"expiresInSeconds"`
}

func (h *Handler) presign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	req.ContentType = strings.TrimSpace(req.ContentType)
	if _, ok := allowedContentTypes[req.ContentType]; !ok {
		respond.Error(c, http.StatusBadRequest, "validation_error", "contentType is not allowed", nil)
		return
	}
	if req.SizeBytes > maxUploadBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sizeBytes exceeds limit", nil)
		return
	}

	up, err := h.Presign.PresignUpload(c.Request.Context(), middleware.UserIDFromContext(c), req.FileName, req.ContentType)
	if err != nil {
		telemetry.Error("uploads.presign_failed", map[string]any{
			"request_id":  middleware.RequestIDFromContext(c),
			"contentType": req.ContentType,
			"sizeBytes":   req.SizeBytes,
			"error":       err,
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to generate upload url", nil)
		return
	}

	respond.OK(c, presignResponse{
		UploadURL:        up.URL,
		FileKey:          up.Key,
		Headers:          up.Headers,
		ExpiresInSeconds: int64(up.ExpiresIn.Seconds()),
	})
}

// contractMimeType maps a sniffed content type to one the extractor accepts.
// DOCX files sniff as zip archives, so the extension decides.
func contractMimeType(sniffed, fileName string) (string, bool) {
	sniffed = strings.TrimSpace(strings.SplitN(sniffed, ";", 2)[0])
	if sniffed == "application/zip" && strings.HasSuffix(strings.ToLower(fileName), ".docx") {
		return extract.MimeDOCX, true
	}
	if _, ok := allowedContentTypes[sniffed]; ok {
		return sniffed, true
	}
	return "", false
}
