package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-orchestrator/internal/agents"
	httptransport "github.com/spec-kit/support-orchestrator/internal/api/http"
	"github.com/spec-kit/support-orchestrator/internal/api/http/handlers"
	"github.com/spec-kit/support-orchestrator/internal/checkpoint"
	"github.com/spec-kit/support-orchestrator/internal/config"
	"github.com/spec-kit/support-orchestrator/internal/events"
	"github.com/spec-kit/support-orchestrator/internal/lease"
	"github.com/spec-kit/support-orchestrator/internal/observability"
	"github.com/spec-kit/support-orchestrator/internal/persistence"
	"github.com/spec-kit/support-orchestrator/internal/repository"
	"github.com/spec-kit/support-orchestrator/internal/service"
	"github.com/spec-kit/support-orchestrator/internal/status"
	"github.com/spec-kit/support-orchestrator/internal/worker"
	"github.com/spec-kit/support-orchestrator/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rdb := persistence.NewRedis(cfg.Redis, logger)
	defer rdb.Close()

	metrics := observability.NewMetrics()

	checkpoints := checkpoint.NewRedisStore(rdb.Client, cfg.Workflow.CheckpointTTL())
	leaser := lease.NewRedisLeaser(rdb.Client)
	statuses := status.NewRedisStore(rdb.Client, cfg.Workflow.StatusTTL())
	cancels := status.NewRedisCancelRegistry(rdb.Client, cfg.Workflow.StatusTTL())

	consumerName := cfg.App.Name + "-" + uuid.NewString()
	source, err := events.NewStreamSource(ctx, rdb.Client, events.StreamConfig{
		Submissions: cfg.Streams.Submissions,
		DeadLetter:  cfg.Streams.DeadLetter,
		Group:       cfg.Streams.Group,
		Consumer:    consumerName,
	}, logger)
	if err != nil {
		logger.Fatal("failed to init event source", zap.Error(err))
	}
	submitter := events.NewStreamSubmitter(rdb.Client, cfg.Streams.Submissions)
	publisher := events.NewStreamPublisher(rdb.Client, cfg.Streams.Results)

	executors := workflow.Executors{
		Classify: agents.NewClassifyExecutor(agents.NewRuleClassifier()),
		Generate: agents.NewGenerateExecutor(
			agents.NewMemoryRetriever(nil, 3),
			agents.NewTemplateResponder(),
			logger,
		),
		Validate: agents.NewValidateExecutor(agents.NewHeuristicValidator()),
		Escalate: agents.NewEscalateExecutor(),
	}

	engine := workflow.New(workflow.Dependencies{
		Executors:   executors,
		Router:      workflow.Router{PassThreshold: cfg.Workflow.PassThreshold, MaxRetries: cfg.Workflow.MaxQualityRetries},
		Checkpoints: checkpoints,
		Leases:      leaser,
		Projector:   workflow.NewProjector(statuses),
		Publisher:   publisher,
		Cancels:     cancels,
		Metrics:     metrics,
	}, workflow.Config{
		StageTimeout:  cfg.Workflow.StageTimeout(),
		StageAttempts: cfg.Workflow.StageAttempts,
		RetryBackoff:  cfg.Workflow.RetryBackoff(),
		LeaseTTL:      cfg.Workflow.LeaseTTL(),
	}, logger)

	pool := worker.NewPool(engine, source, cfg.Workflow.Workers, logger)
	pool.Start(ctx)

	sweeper := worker.NewSweeper(checkpoints, leaser, submitter, cfg.Workflow.SweepInterval(), logger)
	go sweeper.Run(ctx)

	var results repository.ResultRepository
	if pg.PoolHandle() != nil {
		results = repository.NewResultRepository(pg.PoolHandle())
		outcomeSource, err := events.NewStreamOutcomeSource(ctx, rdb.Client, events.StreamConfig{
			Results:  cfg.Streams.Results,
			Group:    cfg.Streams.ResultGroup,
			Consumer: consumerName,
		})
		if err != nil {
			logger.Fatal("failed to init outcome source", zap.Error(err))
		}
		resultConsumer := service.NewResultConsumerService(outcomeSource, results, logger)
		go resultConsumer.Run(ctx)
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rdb),
		Tickets: handlers.NewTicketsHandler(statuses, cancels, results),
		Metrics: handlers.NewMetricsHandler(metrics),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	pool.Wait()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
