package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kidvoice/internal/audio"
	"kidvoice/internal/handlers"
	"kidvoice/internal/security"
	"kidvoice/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	blocked, err := db.BlockedTerms(ctx)
	if err != nil {
		return err
	}

	completer, review, err := newCompleter(ctx, cfg)
	if err != nil {
		return err
	}
	if !review {
		log.Warn("no inference backend configured; the voice will stay quiet and use template phrases")
	}

	gate := newGate(cfg, completer, review, blocked, log)
	stores := newStores(db)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithIdleTTL(cfg.SessionIdleTTL),
	}
	if cfg.TTSEnabled {
		opts = append(opts, service.WithTTS(audio.NewTTSService(filepath.Join(cfg.StaticFilesPath, "audio"), "/static/audio")))
	}
	orchestrator := service.NewOrchestrator(stores, newPipeline(cfg, completer, gate, log), opts...)

	emailService, err := newEmailService(ctx)
	if err != nil {
		return err
	}
	summaries := service.NewSummaryService(stores, completer, cfg.GenerationTimeout, gate, emailService, log)

	limiter := security.NewRateLimiter(cfg.StreamRateLimit, time.Minute)
	defer limiter.Close()

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Voice:       orchestrator,
			Summaries:   summaries,
			RateLimiter: limiter,
			StaticPath:  cfg.StaticFilesPath,
			Logger:      log,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", server.Addr), zap.Bool("tts", cfg.TTSEnabled), zap.Bool("email", emailService.IsEnabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		orchestrator.RunEviction(gctx, evictionInterval(cfg.SessionIdleTTL))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
