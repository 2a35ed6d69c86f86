package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haoran/skuflow/internal/api"
	"github.com/haoran/skuflow/internal/api/middleware"
	"github.com/haoran/skuflow/internal/collab"
	"github.com/haoran/skuflow/internal/config"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/gateway"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/parsepool"
	"github.com/haoran/skuflow/internal/pipeline"
	"github.com/haoran/skuflow/internal/repository"
	"github.com/haoran/skuflow/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for deployments.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefaultLogger(logger.NewFromEnv(logger.LoadFromEnv()))
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("database init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories
	jobRepo := repository.NewJobRepository(db)
	pageRepo := repository.NewPageRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	annotatorRepo := repository.NewAnnotatorRepository(db)
	workerRepo := repository.NewWorkerRepository(db)

	if _, err := profileRepo.EnsureDefault(ctx); err != nil {
		logger.Fatal("default profile seed failed: %v", err)
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Fatal("storage init failed: %v", err)
	}

	// Upload gate
	pool := parsepool.New(cfg.Pipeline.ParseWorkers)
	defer pool.Close()
	parser := pipeline.NewParser(objectStorage, pool)
	checker := gateway.NewFileChecker(parser, cfg.Gateway.MaxPages, cfg.Gateway.MaxFileSize, cfg.Gateway.SecurityTimeout)
	prescanner := gateway.NewPrescanner(parser)

	bus := events.NewDispatcher(256)
	defer bus.Close()
	intake := gateway.NewIntake(checker, prescanner, jobRepo, objectStorage, bus)

	// Human queue services
	taskManager := collab.NewTaskManager(taskRepo, pageRepo, annotatorRepo, bus)
	lockManager := collab.NewLockManager(taskRepo, annotatorRepo, cfg.Collab.LockTimeout, cfg.Collab.SweepInterval)

	// Background scanners owned by the API process
	orphanScanner := gateway.NewOrphanScanner(workerRepo, jobRepo, bus,
		cfg.Gateway.HeartbeatTTL, cfg.Gateway.OrphanMaxRequeue, cfg.Gateway.OrphanCooldown)
	go orphanScanner.Run(ctx)
	go lockManager.Run(ctx)

	router := api.SetupRouter(api.Deps{
		DB:       db,
		Intake:   intake,
		Jobs:     jobRepo,
		Pages:    pageRepo,
		Tasks:    taskRepo,
		Profiles: profileRepo,
		Locks:    lockManager,
		Manager:  taskManager,
	}, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown: %v", err)
	}
	logger.Info("server exited")
}
