// Package admin contains the daemon-side commands.
package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewrench-ai/pipewrench/internal/api/handlers"
	"github.com/pipewrench-ai/pipewrench/internal/assembler"
	"github.com/pipewrench-ai/pipewrench/internal/chunker"
	"github.com/pipewrench-ai/pipewrench/internal/config"
	"github.com/pipewrench-ai/pipewrench/internal/database"
	"github.com/pipewrench-ai/pipewrench/internal/embedding"
	"github.com/pipewrench-ai/pipewrench/internal/index"
	"github.com/pipewrench-ai/pipewrench/internal/jobs"
	"github.com/pipewrench-ai/pipewrench/internal/llm"
	"github.com/pipewrench-ai/pipewrench/internal/provider"
	"github.com/pipewrench-ai/pipewrench/internal/repository"
	"github.com/pipewrench-ai/pipewrench/internal/retriever"
	"github.com/pipewrench-ai/pipewrench/internal/server"
	"github.com/pipewrench-ai/pipewrench/internal/service"
	"github.com/pipewrench-ai/pipewrench/internal/session"
	"github.com/pipewrench-ai/pipewrench/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the pipewrench API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("PIPEWRENCH_OPENAI_API_KEY is required")
	}

	if cfg.SentryDSN != "" {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: cfg.SentrySampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	var (
		idx      index.Index
		fallback index.Index
		registry interface {
			service.DocumentRegistry
			service.ReviewRegistry
		}
	)
	if cfg.HasPostgres() {
		pool, err := database.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		log.Println("connected to database")

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}

		idx = index.NewPostgres(pool, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		registry = repository.NewDocumentRepository(pool)
		if cfg.MemoryFallback {
			fallback = index.NewMemory()
		}
	} else {
		log.Println("no database configured, using in-memory index")
		idx = index.NewMemory()
		registry = repository.NewMemoryDocumentRepository()
	}

	gate := provider.NewGate(cfg.ProviderRPS, cfg.ProviderBurst, cfg.ProviderQueueTimeout)
	retry := provider.RetryPolicy{
		MaxAttempts: cfg.ProviderMaxAttempts,
		BaseDelay:   cfg.ProviderRetryBase,
		MaxDelay:    cfg.ProviderRetryMax,
	}

	embedder := embedding.NewClient(embedding.Config{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		BatchSize:  cfg.EmbeddingBatchSize,
		Retry:      retry,
		Gate:       gate,
	})
	generator := llm.NewClient(llm.Config{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.ChatModel,
		Retry:  retry,
		Gate:   gate,
	})

	sessions := session.NewManager(session.Config{
		IdleTimeout:   cfg.SessionIdleTimeout,
		GracePeriod:   cfg.SessionGracePeriod,
		HistoryWindow: cfg.SessionHistoryTurns,
	})

	chunkCfg := chunker.Config{
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	}
	assemblyCfg := assembler.Config{
		TokenBudget:   cfg.ContextBudget,
		OverlapTokens: cfg.ChunkOverlapTokens,
		MergeFraction: cfg.MergeFraction,
	}

	// Ingest mutations fan out to the fallback index so an outage of the
	// primary never degrades retrieval to an empty store.
	writeIndex := idx
	if fallback != nil {
		writeIndex = index.NewMirror(idx, fallback)
	}

	ingestSvc := service.NewIngestService(embedder, writeIndex, registry, chunkCfg)
	answerSvc := service.NewAnswerService(
		retriever.New(embedder, idx, fallback),
		generator,
		sessions,
		registry,
		service.AnswerConfig{
			TopK:               cfg.RetrieveTopK,
			MinScore:           cfg.RetrieveMinScore,
			Assembly:           assemblyCfg,
			UngroundedFallback: cfg.UngroundedFallback,
		},
	)
	maintenanceSvc := service.NewMaintenanceService(ingestSvc, registry, service.MaintenanceConfig{
		ReviewAge: cfg.ReviewAge,
	})

	sweeper := jobs.NewWorker(jobs.NewSessionSweeper(sessions), cfg.SweepInterval)
	go sweeper.Start(ctx)
	log.Println("session sweeper started")

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:        handlers.NewChatHandler(answerSvc),
		IngestHandler:      handlers.NewIngestHandler(ingestSvc),
		MaintenanceHandler: handlers.NewMaintenanceHandler(maintenanceSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}
