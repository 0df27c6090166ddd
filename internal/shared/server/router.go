package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/analyses"
	"contract-backend/internal/services/health"
	"contract-backend/internal/shared/auth"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/server/middleware"
	"contract-backend/internal/shared/server/respond"
	"contract-backend/internal/uploads"
)

// RouterDeps carries the handlers mounted on the API router.
type RouterDeps struct {
	Config          config.Config
	Verifier        *auth.Verifier
	Health          *health.Service
	AnalysisHandler *analyses.Handler
	UploadHandler   *uploads.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		st := deps.Health.Check(c.Request.Context())
		code := http.StatusOK
		if !st.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, st)
	})

	authed := api.Group("")
	authed.Use(middleware.Auth(deps.Verifier))
	if deps.UploadHandler != nil {
		deps.UploadHandler.RegisterRoutes(authed)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(authed)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
