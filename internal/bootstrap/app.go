package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"smartflow-backend/internal/agent"
	"smartflow-backend/internal/conversation"
	"smartflow-backend/internal/permissions"
	"smartflow-backend/internal/queue"
	"smartflow-backend/internal/services/health"
	"smartflow-backend/internal/sessions"
	"smartflow-backend/internal/shared/config"
	"smartflow-backend/internal/shared/server"
	"smartflow-backend/internal/shared/storage/db"
	"smartflow-backend/internal/shared/storage/object"
	localstore "smartflow-backend/internal/shared/storage/object/local"
	s3store "smartflow-backend/internal/shared/storage/object/s3"
	"smartflow-backend/internal/suggestions"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Blobs  object.ObjectStore
	Queue  queue.Client

	SessionStore        sessions.SessionStore
	ConversationStore   conversation.Store
	PermissionsRepo     permissions.Repo
	Agent               agent.Client
	Orchestrator        *sessions.Orchestrator
	ConversationService *conversation.Service
	SuggestionTracker   *suggestions.Tracker
	Health              *health.Service

	SessionHandler      *sessions.Handler
	ConversationHandler *conversation.Handler
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	agentClient, err := buildAgent(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Blobs:  blobs,
		Queue:  queueClient,
		Agent:  agentClient,
	}

	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              app.Config,
		SessionHandler:      app.SessionHandler,
		ConversationHandler: app.ConversationHandler,
		Health:              app.Health,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory stores")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory stores: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("SF_SQS_QUEUE_URL")) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func buildAgent(cfg config.Config) (agent.Client, error) {
	if strings.TrimSpace(cfg.AgentBaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: AGENT_BASE_URL empty; analysis submission will fail until configured")
			return nil, nil
		}
		return nil, fmt.Errorf("AGENT_BASE_URL is required")
	}
	return agent.NewHTTPClient(cfg.AgentBaseURL, cfg.AgentCallTimeout)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) {
	if app.DB != nil {
		app.SessionStore = &sessions.PGStore{DB: app.DB}
		app.ConversationStore = &conversation.PGStore{DB: app.DB}
		app.PermissionsRepo = &permissions.PGRepo{DB: app.DB}
	} else {
		app.SessionStore = sessions.NewMemoryStore()
		app.ConversationStore = conversation.NewMemoryStore()
		app.PermissionsRepo = permissions.NewMemoryRepo()
	}

	convSvc := &conversation.Service{
		Sessions: app.SessionStore,
		Store:    app.ConversationStore,
		Perms:    app.PermissionsRepo,
	}

	orch := &sessions.Orchestrator{
		Store:            app.SessionStore,
		Agent:            app.Agent,
		Blobs:            app.Blobs,
		Queue:            app.Queue,
		OnCompleted:      convSvc.NotifyCompleted,
		OnDeleted:        convSvc.DropSession,
		StoreRetries:     app.Config.StoreRetries,
		AgentMaxAttempts: app.Config.AgentMaxAttempts,
		BackoffBase:      app.Config.AgentBackoffBase,
	}

	tracker := suggestions.NewTracker()

	app.Orchestrator = orch
	app.ConversationService = convSvc
	app.SuggestionTracker = tracker
	app.Health = health.NewService(app.Agent, app.DB)
	app.SessionHandler = sessions.NewHandler(orch, app.PermissionsRepo, tracker)
	app.ConversationHandler = conversation.NewHandler(convSvc)
}
