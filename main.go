package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/agent"
	"github.com/podoskin/agent-core/pkg/audit"
	"github.com/podoskin/agent-core/pkg/classifier"
	"github.com/podoskin/agent-core/pkg/config"
	"github.com/podoskin/agent-core/pkg/database"
	"github.com/podoskin/agent-core/pkg/executor"
	"github.com/podoskin/agent-core/pkg/fuzzy"
	"github.com/podoskin/agent-core/pkg/guard"
	"github.com/podoskin/agent-core/pkg/handlers"
	"github.com/podoskin/agent-core/pkg/llm"
	"github.com/podoskin/agent-core/pkg/logging"
	"github.com/podoskin/agent-core/pkg/memory"
	"github.com/podoskin/agent-core/pkg/middleware"
	"github.com/podoskin/agent-core/pkg/models"
	"github.com/podoskin/agent-core/pkg/origin"
	"github.com/podoskin/agent-core/pkg/planner"
	"github.com/podoskin/agent-core/pkg/ratelimit"
	"github.com/podoskin/agent-core/pkg/state"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(configPath(), Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The three logical databases connect independently and are never joined.
	pools := database.Pools{}
	for logical, dbCfg := range map[models.LogicalDB]*config.DatabaseConfig{
		models.DBIdentity:   &cfg.Identity,
		models.DBClinical:   &cfg.Clinical,
		models.DBOperations: &cfg.Operations,
	} {
		db, err := database.NewConnection(ctx, logical, dbCfg)
		if err != nil {
			// Driver errors can echo the DSN; never log them raw.
			logger.Fatal("Database connection failed",
				zap.String("logical", string(logical)),
				zap.String("error", logging.SanitizeError(err)))
		}
		pools[logical] = db
	}
	defer pools.Close()

	// The conversation store shares the identity database.
	if err := database.MigrateConversationStore(cfg.Identity.ConnectionString(), "migrations", logger); err != nil {
		logger.Fatal("Migrations failed", zap.String("error", logging.SanitizeError(err)))
	}

	rules, err := guard.LoadRules(cfg.GuardrailsFile)
	if err != nil {
		logger.Fatal("Failed to load guardrails", zap.String("path", cfg.GuardrailsFile), zap.Error(err))
	}

	catalog, err := planner.LoadCatalog(cfg.TemplatesFile)
	if err != nil {
		logger.Fatal("Failed to load template catalog", zap.String("path", cfg.TemplatesFile), zap.Error(err))
	}

	llmClient, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	sink := audit.NewZapSink(logger)
	plan := planner.New(catalog, logger)

	service := agent.NewService(agent.Deps{
		Config:     &cfg.Agent,
		Router:     origin.NewRouter(cfg.Agent.MaxListItems),
		Classifier: classifier.New(llmClient, &cfg.LLM, catalog.Resources(), sink, logger),
		Guard:      guard.New(rules),
		Planner:    plan,
		Resolver: fuzzy.NewResolver(fuzzy.NewPGSource(pools), fuzzy.Config{
			SimilarityMargin: cfg.Agent.SimilarityMargin,
			MaxShortlist:     cfg.Agent.MaxShortlist,
		}, logger),
		Coordinator: executor.New(pools, cfg.Agent.DBTimeout(), sink, logger),
		Store:       state.NewPGStore(pools[models.DBIdentity], logger),
		Limiter:     ratelimit.New(cfg.Limit.TurnsPerMinute, cfg.Limit.Burst),
		Sink:        sink,
		Memory:      memory.NewEmbeddingIndex(llmClient, logger),
		Logger:      logger,
	})

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMessageHandler(service, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting agent-core", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown did not complete cleanly", zap.Error(err))
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return "config.yaml"
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
