package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/audit"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/cmd"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/config"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/log"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/otelhelper"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence/postgresql"
)

func main() {
	command := &cli.Command{
		Name:                  "callflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run call flow engines driven by telephony events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for the flow store (empty for in-memory)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for call state (empty for in-memory)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "seed-config",
				Usage:   "Path to a YAML file with compliance policies, DNC lists and enrichment tables",
				Sources: cli.EnvVars("SEED_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("callflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Callflow Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			flowStore, err := cmd.NewFlowStore(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := flowStore.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close flow store", "error", err)
				}
			}()

			calls, err := cmd.NewCallStateStore(command.String("redis-url"))
			if err != nil {
				return err
			}

			var auditLog audit.Log = audit.NewMemoryLog()
			if pg, ok := flowStore.(*postgresql.Persistence); ok {
				auditLog = pg.AuditLog()
			}

			var tracer trace.Tracer
			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				tracer, err = otelhelper.NewTracer(ctx, "callflow-worker")
				if err != nil {
					logger.WarnContext(ctx, "Tracing disabled", "error", err)
				}
			}

			seed := &config.SeedFile{
				Compliance: config.ComplianceConfig{
					Default: config.PolicyConfig{EnforceDNC: true},
				},
			}
			if seedPath := command.String("seed-config"); seedPath != "" {
				if seed, err = config.LoadSeed(seedPath); err != nil {
					return err
				}
			}

			var cacheClient *redis.Client
			if redisURL := command.String("redis-url"); redisURL != "" {
				opts, err := redis.ParseURL(redisURL)
				if err != nil {
					return err
				}

				cacheClient = redis.NewClient(opts)
			}

			checker := seed.NewChecker(nil, logger)
			enricher := seed.NewEnricher(cacheClient, logger)

			worker := NewWorkerManager(workerID, WorkerDeps{
				FlowStore:  flowStore,
				Calls:      calls,
				EventBus:   eventBus,
				Compliance: checker,
				Enricher:   enricher,
				Audit:      auditLog,
				Tracer:     tracer,
				Logger:     logger,
			})

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
