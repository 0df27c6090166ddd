package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/analyses"
	"contract-backend/internal/extract"
	"contract-backend/internal/llm/providers"
	"contract-backend/internal/queue"
	"contract-backend/internal/services/health"
	"contract-backend/internal/shared/auth"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/server"
	"contract-backend/internal/shared/storage/db"
	"contract-backend/internal/shared/storage/object"
	localstore "contract-backend/internal/shared/storage/object/local"
	s3store "contract-backend/internal/shared/storage/object/s3"
	"contract-backend/internal/shared/telemetry"
	"contract-backend/internal/uploads"
)

// App holds shared dependencies for the API, worker and CLI binaries.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Store           object.ObjectStore
	Queue           *queue.SQSClient
	Providers       *providers.Registry
	AnalysesRepo    analyses.Repo
	AnalysesService *analyses.Service
	AnalysisHandler *analyses.Handler
	UploadHandler   *uploads.Handler
}

// Options adjust how Build wires the app for a particular binary.
type Options struct {
	// DBOptions sizes the connection pool.
	DBOptions db.Options
	// SkipQueue runs analyses in-process even when QUEUE_URL is set.
	SkipQueue bool
}

// Build prepares shared dependencies and the HTTP router.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg, opts.DBOptions)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:    cfg,
		DB:        sqlDB,
		Store:     store,
		Providers: providers.FromConfig(cfg),
	}
	if !opts.SkipQueue {
		if app.Queue, err = buildQueue(ctx, cfg); err != nil {
			return nil, err
		}
	}

	buildServices(app)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return nil, err
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Verifier:        verifier,
		Health:          health.NewService(pinger(sqlDB), configuredProviders(cfg)),
		AnalysisHandler: app.AnalysisHandler,
		UploadHandler:   app.UploadHandler,
	})
	return app, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if opts == (db.Options{}) {
		opts = db.DefaultServerOptions()
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "database connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (*queue.SQSClient, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildServices(app *App) {
	var repo analyses.Repo
	if app.DB != nil {
		repo = &analyses.PGRepo{DB: app.DB}
	} else {
		repo = analyses.NewMemoryRepo()
	}

	extractor := extract.Extractor{
		Rasterizer:    extract.PDFToPPM{Bin: app.Config.RasterizerBin},
		MaxScanPages:  app.Config.MaxScanPages,
		MinTextLength: app.Config.MinTextLength,
	}
	svc := &analyses.Service{
		Repo:      repo,
		Store:     app.Store,
		Extractor: extractor,
		Orchestrator: &analyses.Orchestrator{
			Providers:     app.Providers,
			Repo:          repo,
			MinTextLength: app.Config.MinTextLength,
		},
		DefaultProvider: app.Config.DefaultProvider,
	}
	// Without a queue, Start processes in a background goroutine.
	if app.Queue != nil {
		svc.Queue = app.Queue
	}

	var presigner uploads.Presigner
	if s3, ok := app.Store.(*s3store.Store); ok {
		presigner = s3
	}

	app.AnalysesRepo = repo
	app.AnalysesService = svc
	app.AnalysisHandler = analyses.NewHandler(svc)
	app.UploadHandler = uploads.NewHandler(app.Store, presigner)
}

func configuredProviders(cfg config.Config) []string {
	var out []string
	if cfg.AnthropicAPIKey != "" {
		out = append(out, "claude")
	}
	if cfg.GeminiAPIKey != "" {
		out = append(out, "gemini")
	}
	return out
}

func pinger(sqlDB *sql.DB) health.Pinger {
	if sqlDB == nil {
		return nil
	}
	return sqlDB
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
