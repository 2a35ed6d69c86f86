package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haoran/skuflow/internal/collab"
	"github.com/haoran/skuflow/internal/config"
	"github.com/haoran/skuflow/internal/evaluator"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/gateway"
	"github.com/haoran/skuflow/internal/llm"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/output"
	"github.com/haoran/skuflow/internal/parsepool"
	"github.com/haoran/skuflow/internal/pipeline"
	"github.com/haoran/skuflow/internal/repository"
	"github.com/haoran/skuflow/internal/storage"
)

func main() {
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

	workerID := workerIdentity()
	logger.Info("worker starting: worker_id=%s", workerID)

	// Repositories
	jobRepo := repository.NewJobRepository(db)
	pageRepo := repository.NewPageRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	annotatorRepo := repository.NewAnnotatorRepository(db)
	workerRepo := repository.NewWorkerRepository(db)
	evalRepo := repository.NewEvalRepository(db)
	importRepo := repository.NewImportRepository(db)

	activeProfile, err := profileRepo.EnsureDefault(ctx)
	if err != nil {
		logger.Fatal("default profile seed failed: %v", err)
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Fatal("storage init failed: %v", err)
	}

	pool := parsepool.New(cfg.Pipeline.ParseWorkers)
	defer pool.Close()
	parser := pipeline.NewParser(objectStorage, pool)

	// Guarded LLM service shared by evaluator and page pipeline.
	llmService := llm.NewService(
		llm.NewClient(&cfg.LLM),
		llm.NewCircuitBreaker(cfg.LLM.CircuitThreshold, 2, cfg.LLM.CircuitWindow, cfg.LLM.CircuitOpenFor),
		llm.NewBudgetGuard(workerRepo, cfg.LLM.DailyBudgetUSD),
		llm.NewRateLimiter(cfg.LLM.QPM, cfg.LLM.TPM),
	)

	bus := events.NewDispatcher(256)
	defer bus.Close()

	// Evaluation
	evalCache := evaluator.NewCache(evalRepo)
	eval := evaluator.New(jobRepo, evalRepo, profileRepo, evalCache, llmService, parser, bus,
		workerID, cfg.Pipeline.ProfileName)
	fallback := evaluator.NewFallbackMonitor(3)

	// Page pipeline
	merger := pipeline.NewCrossPageMerger()
	processor := pipeline.NewPageProcessor(
		parser,
		pipeline.NewClassifier(llmService),
		pipeline.NewExtractor(llmService),
		merger,
		activeProfile.ValidityMode,
	)
	orchestrator := pipeline.NewOrchestrator(jobRepo, pageRepo, taskRepo, objectStorage,
		processor, merger, fallback, bus, workerID, cfg.Pipeline.PageConcurrency)

	// Collaboration sweepers
	taskManager := collab.NewTaskManager(taskRepo, pageRepo, annotatorRepo, bus)
	lockManager := collab.NewLockManager(taskRepo, annotatorRepo, cfg.Collab.LockTimeout, cfg.Collab.SweepInterval)
	dispatcher := collab.NewDispatcher(taskRepo, annotatorRepo, cfg.Collab.MaxActivePerUser, int64(os.Getpid()))
	notifier := collab.NewNotifier(cfg.Collab.SupervisorWebhook)
	slaScanner := collab.NewSLAScanner(taskRepo, taskManager, notifier, int64(os.Getpid()))

	// Downstream import
	adapter := output.NewAdapter(cfg.Import.Endpoint, cfg.Import.APIKey, cfg.Import.Timeout)
	importer := output.NewImporter(jobRepo, pageRepo, taskRepo, importRepo, adapter, objectStorage, bus)
	reconciler := output.NewReconciler(jobRepo, importRepo, adapter, importer)

	heartbeat := gateway.NewHeartbeat(workerRepo, workerID, cfg.Gateway.HeartbeatInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { heartbeat.Run(gctx); return nil })
	g.Go(func() error { eval.Run(gctx); return nil })
	g.Go(func() error { orchestrator.Run(gctx); return nil })
	g.Go(func() error { lockManager.Run(gctx); return nil })
	g.Go(func() error { slaScanner.Run(gctx); return nil })
	g.Go(func() error { dispatcher.Run(gctx, bus); return nil })
	g.Go(func() error { importer.Run(gctx); return nil })
	g.Go(func() error { reconciler.Run(gctx); return nil })

	if err := g.Wait(); err != nil {
		logger.Error("worker loop failed: %v", err)
	}
	logger.Info("worker exited")
}

// workerIdentity builds a stable-enough identity for claims and leases:
// hostname for operator readability, a UUID suffix for uniqueness.
func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
