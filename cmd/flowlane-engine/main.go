package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/flowlane/flowlane/pkg/claim"
	"github.com/flowlane/flowlane/pkg/cmd"
	"github.com/flowlane/flowlane/pkg/contact"
	"github.com/flowlane/flowlane/pkg/engine"
	"github.com/flowlane/flowlane/pkg/log"
	"github.com/flowlane/flowlane/pkg/otelhelper"
	"github.com/flowlane/flowlane/pkg/protocol"
)

func main() {
	command := &cli.Command{
		Name:                  "flowlane-engine",
		EnableShellCompletion: true,
		Usage:                 "Run the enrollment scheduler and trigger dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine instance ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the cross-instance enrollment lease (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Worker pool size per scheduler pass",
				Value:   10,
				Sources: cli.EnvVars("SCHEDULER_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum enrollments selected per scheduler pass",
				Value:   200,
				Sources: cli.EnvVars("SCHEDULER_BATCH_SIZE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	engineID := command.String("engine-id")
	if engineID == "" {
		engineID = "engine-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("flowlane-engine").With("engine_id", engineID)
	logger.InfoContext(ctx, "Initializing Flowlane engine")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persistence, err := cmd.NewPersistence(ctx, command.String("database-url"), logger)
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flowlane-engine", logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	var lock engine.LeaseLock

	if redisURL := command.String("redis-url"); redisURL != "" {
		redisLock, err := claim.NewLock(ctx, redisURL, engineID, logger)
		if err != nil {
			return err
		}

		defer func() {
			err := redisLock.Close()
			if err != nil {
				logger.ErrorContext(ctx, "Failed to close claim lock", "error", err)
			}
		}()

		lock = redisLock
	}

	clock := clockwork.NewRealClock()
	audit := engine.NewAudit(persistence.Logs(), clock, logger)

	// The engine ships with the in-memory contact provider and logging email
	// sender; production deployments swap these for real integrations.
	contacts := contact.NewMemoryProvider()

	executorConfig := engine.ExecutorConfig{
		Persistence: persistence,
		Contacts:    contacts,
		Emails:      protocol.NewSlogSender(logger),
		Webhooks:    protocol.NewHTTPWebhookClient(0),
		Bus:         eventBus,
		Audit:       audit,
		Clock:       clock,
		Logger:      logger,
	}

	executor := engine.NewExecutor(executorConfig)
	admission := engine.NewAdmission(persistence, audit, eventBus, clock, logger)
	dispatcher := engine.NewDispatcher(persistence, admission, logger)

	err = dispatcher.RegisterHandlers(eventBus)
	if err != nil {
		return err
	}

	err = eventBus.Subscribe(ctx)
	if err != nil {
		return err
	}

	schedulerConfig := engine.SchedulerConfig{
		Persistence: persistence,
		Executor:    executor,
		Lock:        lock,
		Clock:       clock,
		Logger:      logger,
		BatchSize:   command.Int("batch-size"),
		Workers:     command.Int("workers"),
	}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "flowlane-engine")
		if err != nil {
			return err
		}

		schedulerConfig.Tracer = tracer
	}

	scheduler := engine.NewScheduler(schedulerConfig)

	err = scheduler.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx := context.Background()
	scheduler.Stop(shutdownCtx)
	logger.InfoContext(shutdownCtx, "Flowlane engine stopped")

	return nil
}
