package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/gops/agent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/loan-extractor/internal/app"
	"github.com/joseph-ayodele/loan-extractor/internal/async"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/ingest"
	repo "github.com/joseph-ayodele/loan-extractor/internal/repository"
	svc "github.com/joseph-ayodele/loan-extractor/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	if cfg.Server.GopsEnabled {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			logger.Warn("gops agent failed to start", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer db.Close(logger)

	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := repo.Migrate(ctx, db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	runs := repo.NewRunRepository(db, logger)

	health := svc.NewHealthReporter(logger)
	stack, err := app.Build(ctx, cfg, logger, app.Options{Runs: runs, OnBreakerChange: health.OnStateChange})
	if err != nil {
		logger.Error("failed to build extraction stack", "error", err)
		os.Exit(1)
	}

	// gRPC health
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	reflection.Register(grpcServer)
	go func() {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("grpc serve failed", "error", err)
			stop()
		}
	}()

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	handler := &svc.HTTPHandler{
		Processor: stack.Processor,
		Breaker:   stack.Breaker,
		Runs:      runs,
		DBCheck: func(ctx context.Context) error {
			return repo.HealthCheck(ctx, db, 2*time.Second, logger)
		},
		Logger: logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()

	// Inbox watcher feeding the queue
	var queue *async.ProcessorQueue
	if cfg.Ingest.InboxDir != "" {
		loader := ingest.NewLoader(logger)
		queue = async.NewProcessorQueue(stack.Processor, loader, logger,
			async.WithWorkers(cfg.Ingest.Workers),
			async.WithQueueSize(cfg.Ingest.QueueSize),
			async.WithProcessTimeout(cfg.Ingest.Timeout),
			async.WithOutputURL(cfg.Ingest.OutputURL),
		)
		events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       []string{cfg.Ingest.InboxDir},
			InitialScan: true,
			Debounce:    500 * time.Millisecond,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to start inbox watcher", "dir", cfg.Ingest.InboxDir, "error", err)
			os.Exit(1)
		}
		go func() {
			for {
				select {
				case p, ok := <-events:
					if !ok {
						return
					}
					job := async.Job{
						Location:    p,
						Method:      cfg.Extraction.DefaultMethod,
						OCRMode:     cfg.Extraction.DefaultOCRMode,
						SubmittedAt: time.Now(),
					}
					if err := queue.Enqueue(ctx, job); err != nil {
						logger.Warn("failed to enqueue document", "path", p, "error", err)
					}
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					logger.Warn("inbox watcher error", "error", err)
				}
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	health.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if queue != nil {
		queue.Shutdown(shutdownCtx)
	}
	grpcServer.GracefulStop()
	logger.Info("stopped")
}
