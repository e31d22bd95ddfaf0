// Package main runs the print-order synchronization service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/collector"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/config"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/downloader"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/handler"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/middleware"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/printcom"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/repository"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/service"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/validation"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	validator, err := validation.NewPayloadValidator()
	if err != nil {
		sugar.Fatalw("payload schema error", "error", err.Error())
	}

	printClient := printcom.NewClient(cfg.PrintAPIAddress, cfg.PrintAPIUser, cfg.PrintAPIPassword)
	collectorClient := collector.NewClient(cfg.CollectorAddress)
	files := downloader.New(printClient, cfg.DownloadDir, logger)

	svc := service.NewService(service.Deps{
		Ledger:         repo,
		Supplier:       printClient,
		Consumer:       collectorClient,
		Files:          files,
		Validator:      validator,
		Logger:         logger,
		PollStatus:     cfg.PollStatus,
		ForwardWorkers: cfg.ForwardWorkers,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AdminToken)
	h := handler.NewHandler(svc, repo, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.Run(ctx, cfg.PollInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting admin server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
