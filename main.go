package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/clinichat/internal/adapter/audiostore"
	"github.com/xiaot623/clinichat/internal/adapter/llm"
	"github.com/xiaot623/clinichat/internal/config"
	"github.com/xiaot623/clinichat/internal/hub"
	"github.com/xiaot623/clinichat/internal/logging"
	store "github.com/xiaot623/clinichat/internal/repository"
	"github.com/xiaot623/clinichat/internal/service"
	"github.com/xiaot623/clinichat/internal/summarize"
	"github.com/xiaot623/clinichat/internal/translate"
	transporthttp "github.com/xiaot623/clinichat/internal/transport/http"
	"github.com/xiaot623/clinichat/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info().
		Int("port", cfg.HTTPPort).
		Str("database", cfg.DatabaseURL).
		Str("audio_dir", cfg.AudioDir).
		Str("llm_url", cfg.LLMBaseURL).
		Msg("starting clinichat")

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	audio, err := audiostore.New(cfg.AudioDir, cfg.AudioMaxBytes)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize audio storage")
	}

	// Initialize policy engine
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize policy engine")
	}

	// LLM-backed translation and summaries
	llmClient := llm.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, logger)
	translator := translate.NewLLMTranslator(llmClient, cfg.LLMModel)
	summarizer := summarize.NewLLMSummarizer(llmClient, cfg.LLMModel)

	notifications := hub.New(logger)
	svc := service.New(db, audio, translator, summarizer, policyEngine, notifications, cfg, logger)
	server := transporthttp.NewServer(svc, notifications, cfg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifications.Run(gctx)
		return nil
	})
	g.Go(func() error {
		svc.RunTranslationWorker(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down clinichat")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("clinichat stopped with error")
		db.Close()
		os.Exit(1)
	}
	logger.Info().Msg("clinichat stopped")
}
