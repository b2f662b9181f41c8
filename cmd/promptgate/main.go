package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/promptgate/promptgate/internal/audit"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/pipeline"
	"github.com/promptgate/promptgate/internal/ratelimit"
	"github.com/promptgate/promptgate/internal/sanitize"
	"github.com/promptgate/promptgate/internal/server"
	"github.com/promptgate/promptgate/internal/telemetry"
	"github.com/promptgate/promptgate/internal/tokens"
	"github.com/promptgate/promptgate/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("promptgate", logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	// Rate-limit counter store.
	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		store = ratelimit.NewRedisStore(client, "promptgate")
		logger.Info("rate limiting via redis", slog.String("addr", cfg.RateLimit.RedisAddr))
	default:
		mem := ratelimit.NewMemoryStore()
		mem.StartSweeper(ctx, time.Minute)
		store = mem
	}
	limiter := ratelimit.New(store, cfg.RateLimit.Tiers, logger)

	// Security-event sink.
	var recorder audit.Recorder
	switch cfg.Audit.Backend {
	case "sqlite":
		rec, err := audit.NewSQLiteRecorder(cfg.Audit.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open audit store: %v", err)
		}
		defer rec.Close()
		recorder = rec
		logger.Info("auditing to sqlite", slog.String("path", cfg.Audit.SQLitePath))
	default:
		recorder = audit.NewMemoryRecorder(cfg.Audit.MemoryCapacity)
	}

	// Sanitizer: built-in rules, or a rule file with optional hot reload.
	sanitizer := sanitize.New()
	if cfg.Rules.Path != "" {
		rules, err := sanitize.LoadRules(cfg.Rules.Path)
		if err != nil {
			log.Fatalf("Failed to load sanitizer rules: %v", err)
		}
		sanitizer, err = sanitize.NewWithRules(rules)
		if err != nil {
			log.Fatalf("Failed to compile sanitizer rules: %v", err)
		}
		if cfg.Rules.Watch {
			if err := sanitizer.Watch(ctx, cfg.Rules.Path, logger); err != nil {
				log.Fatalf("Failed to watch sanitizer rules: %v", err)
			}
		}
	}

	validator := validate.New(cfg.Limits).WithEstimator(tokens.NewEstimator())
	m := metrics.New()

	pipe, err := pipeline.New(pipeline.Config{
		Validator:      validator,
		Sanitizer:      sanitizer,
		Limiter:        limiter,
		Recorder:       recorder,
		Metrics:        m,
		Logger:         logger,
		DefaultTimeout: time.Duration(cfg.Timeouts.Default) * time.Second,
		Timeouts: map[validate.Modality]time.Duration{
			validate.ModalityChat:  time.Duration(cfg.Timeouts.Chat) * time.Second,
			validate.ModalityImage: time.Duration(cfg.Timeouts.Image) * time.Second,
			validate.ModalityTTS:   time.Duration(cfg.Timeouts.TTS) * time.Second,
		},
		UserID: func(r *http.Request) string {
			return r.Header.Get("X-User-ID")
		},
		FilterOutput: true,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Post("/api/chat", pipe.Wrap(validate.ModalityChat, chatHandler))
	srv.Router.Post("/api/image", pipe.Wrap(validate.ModalityImage, imageHandler))
	srv.Router.Post("/api/tts", pipe.Wrap(validate.ModalityTTS, ttsHandler))
	srv.Router.Handle("/metrics", m.Handler())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// The bundled handlers echo validated input back; real deployments swap in
// handlers that call their AI providers.

func chatHandler(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, map[string]any{
		"reply":    fmt.Sprintf("received %d characters", len(req.Body.Chat.Message)),
		"provider": req.Body.Chat.Provider,
	})
}

func imageHandler(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	size := req.Body.Image.Size
	if size == "" {
		size = "1024x1024"
	}
	return pipeline.JSON(http.StatusOK, map[string]any{
		"accepted": true,
		"size":     size,
	})
}

func ttsHandler(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	voice := req.Body.TTS.Voice
	if voice == "" {
		voice = "alloy"
	}
	return pipeline.JSON(http.StatusOK, map[string]any{
		"accepted": true,
		"voice":    voice,
	})
}
