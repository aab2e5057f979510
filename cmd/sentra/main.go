package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dialtone-ai/sentra/internal/backend"
	"github.com/dialtone-ai/sentra/internal/config"
	"github.com/dialtone-ai/sentra/internal/server"
	"github.com/dialtone-ai/sentra/internal/session"
	"github.com/dialtone-ai/sentra/internal/storage"
	"github.com/dialtone-ai/sentra/internal/stream"
	"github.com/dialtone-ai/sentra/internal/telemetry"
	"github.com/dialtone-ai/sentra/internal/telephony"
	"github.com/dialtone-ai/sentra/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SENTRA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("sentra starting", "version", version, "port", cfg.Port,
		"default_strategy", cfg.DefaultStrategy)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()
	db.RegisterPoolMetrics()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Detection backends. All four strategies are always registered;
	// backends missing external collaborators degrade internally rather
	// than fail.
	var llm backend.Backend
	if cfg.GeminiAPIKey != "" {
		llmBackend, err := backend.NewLLMBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("llm backend: %w", err)
		}
		llm = llmBackend
	} else {
		logger.Warn("GEMINI_API_KEY not set, llm strategy degrades to audio-size heuristic")
		llm = backend.NewUnconfiguredLLMBackend()
	}

	dispatcher := backend.NewDispatcher(
		backend.NewNativeBackend(),
		backend.NewSIPBackend(cfg.SIPThreshold),
		backend.NewMLBackend(cfg.MLServiceURL, cfg.MLModelType, cfg.MLThreshold, cfg.AnalysisTimeout),
		llm,
	)

	// Telephony call control for machine hangups.
	var control stream.CallControl
	tel := telephony.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	if tel.Configured() {
		control = tel
	} else {
		logger.Warn("telephony credentials not set, machine hangups disabled")
	}

	registry := session.NewRegistry()
	executor := &stream.Executor{
		Store:     db,
		Telephony: control,
		Registry:  registry,
		Logger:    logger,
	}
	analyzer := &stream.Analyzer{
		Dispatcher: dispatcher,
		Executor:   executor,
		Calls:      db,
		Logger:     logger,
		Timeout:    cfg.AnalysisTimeout,
	}
	streamHandler := &stream.Handler{
		Registry:        registry,
		Analyzer:        analyzer,
		Calls:           db,
		Logger:          logger,
		DefaultStrategy: cfg.DefaultStrategy,
		MinAudioFor:     dispatcher.MinAudio,
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		Store:           db,
		Registry:        registry,
		Analyzer:        analyzer,
		Executor:        executor,
		Logger:          logger,
		DefaultStrategy: cfg.DefaultStrategy,
		Version:         version,
	})

	srv := server.New(server.ServerConfig{
		Handlers:      handlers,
		StreamHandler: streamHandler,
		Logger:        logger,
		Port:          cfg.Port,
		ReadTimeout:   cfg.ReadTimeout,
	})

	// Serve until a shutdown signal or a server error.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("sentra shutting down", "live_sessions", registry.Len())
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		return srv.Shutdown(httpCtx)
	})

	return g.Wait()
}
