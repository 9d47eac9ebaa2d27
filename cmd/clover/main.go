package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/config"
	auditrepo "github.com/Ramsey-B/clover/internal/repositories/audit"
	"github.com/Ramsey-B/clover/internal/repositories/memory"
	participantrepo "github.com/Ramsey-B/clover/internal/repositories/participant"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/enrichment"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/jobs"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/locking"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/participant"
	"github.com/Ramsey-B/clover/pkg/server"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "clover: %v\n", err)
		os.Exit(1)
	}
}

// pinger is a store that can report its own reachability
type pinger interface {
	Ping(ctx context.Context) error
}

// app holds every component built during startup
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db          *sqlx.DB
	repo        models.ParticipantRepository
	store       pinger
	audits      models.AuditSink
	rewriters   []models.ReferenceRewriter
	redisClient *redis.Client
	locker      locking.Locker
	producer    *kafka.Producer
	consumer    *kafka.Consumer
	scheduler   *jobs.Scheduler
	server      *server.Server
	health      *health.Checker
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, zapLogger, err := logging.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, exporters.OTLPConfig{
		Endpoint: cfg.OtelExporterEndpoint,
		Protocol: cfg.OtelExporterProtocol,
		Insecure: true,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return errors.Wrap(err, "failed to set up tracing")
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		health: health.NewChecker(version),
		server: server.New(server.Config{
			AppName:      cfg.AppName,
			Port:         cfg.Port,
			ReadTimeout:  time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
			WriteTimeout: time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
			IdleTimeout:  time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		}, logger),
	}
	a.health.RegisterRoutes(a.server.Echo())

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	a.register(s)

	if err := s.Start(ctx); err != nil {
		_ = s.Stop(context.Background())
		return err
	}
	a.health.SetReady(true)
	logger.WithFields(map[string]any{
		"version":      version,
		"store_driver": cfg.StoreDriver,
		"redis":        cfg.RedisEnabled,
		"kafka":        cfg.KafkaEnabled,
	}).Info("clover started")

	select {
	case <-ctx.Done():
	case err := <-a.server.Errors():
		logger.WithError(err).Error("HTTP server failed")
	}

	a.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopErr := s.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return stopErr
}

// register adds the startup graph: database, migrations, redis and kafka
// first, then the resolution services, then the consumer, scheduler and
// HTTP server that drive them.
func (a *app) register(s *startup.Startup) {
	cfg := a.cfg
	core := []string{}

	if cfg.StoreDriver == "postgres" {
		s.AddDependency(&startup.Dependency{
			Name:      "database",
			StartFunc: a.startDatabase,
			StopFunc: func(context.Context) error {
				return a.db.Close()
			},
		})
		s.AddDependency(&startup.Dependency{
			Name:      "migrations",
			Requires:  []string{"database"},
			StartFunc: a.runMigrations,
		})
		core = append(core, "migrations")
	}

	if cfg.RedisEnabled {
		s.AddDependency(&startup.Dependency{
			Name:      "redis",
			StartFunc: a.startRedis,
			StopFunc: func(context.Context) error {
				return a.redisClient.Close()
			},
		})
		core = append(core, "redis")
	}

	if cfg.KafkaEnabled {
		s.AddDependency(&startup.Dependency{
			Name: "kafka-producer",
			StartFunc: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaEventsTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeoutMs) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, a.logger)
				return nil
			},
			StopFunc: func(context.Context) error {
				return a.producer.Close()
			},
		})
		core = append(core, "kafka-producer")
	}

	var enricher *enrichment.Enricher
	var coordinator *merging.Coordinator

	s.AddDependency(&startup.Dependency{
		Name:     "services",
		Requires: core,
		StartFunc: func(ctx context.Context) error {
			var err error
			enricher, coordinator, err = a.buildServices(ctx)
			return err
		},
	})

	if cfg.KafkaEnabled && cfg.KafkaConsumerEnabled {
		s.AddDependency(&startup.Dependency{
			Name:     "kafka-consumer",
			Requires: []string{"services"},
			StartFunc: func(ctx context.Context) error {
				a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.KafkaBrokers,
					Topic:         cfg.KafkaEnrichmentTopic,
					ConsumerGroup: cfg.KafkaConsumerGroup,
				}, a.logger, enricher.HandleMessage)
				// the consumer outlives the startup context
				return a.consumer.Start(context.WithoutCancel(ctx))
			},
			StopFunc: func(context.Context) error {
				return a.consumer.Stop()
			},
		})
	}

	s.AddDependency(&startup.Dependency{
		Name:     "scheduler",
		Requires: []string{"services"},
		StartFunc: func(context.Context) error {
			scheduler, err := jobs.NewScheduler(a.logger, cfg.JobTimeout)
			if err != nil {
				return err
			}
			if cfg.CompactionCron != "" {
				if err := jobs.ScheduleCompaction(scheduler, coordinator, cfg.CompactionCron); err != nil {
					_ = scheduler.Stop()
					return err
				}
			}
			scheduler.Start()
			a.scheduler = scheduler
			return nil
		},
		StopFunc: func(context.Context) error {
			return a.scheduler.Stop()
		},
	})

	s.AddDependency(&startup.Dependency{
		Name:      "http",
		Requires:  []string{"services"},
		StartFunc: a.server.Start,
		StopFunc:  a.server.Stop,
	})
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := sqlx.Open("postgres", a.cfg.DatabaseDSN())
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "failed to connect to database")
	}
	a.db = db
	return nil
}

func (a *app) runMigrations(context.Context) error {
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             a.cfg.DatabaseMigrationVersion,
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return migrations.MigratePostgres(a.db.DB, a.cfg.DatabaseName)
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     a.cfg.RedisAddr(),
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redisClient = client
	a.health.AddCheck("redis", client)
	return nil
}

// buildServices wires the stores, the lock and the resolution engine, and
// registers the participant routes.
func (a *app) buildServices(ctx context.Context) (*enrichment.Enricher, *merging.Coordinator, error) {
	cfg := a.cfg

	switch cfg.StoreDriver {
	case "postgres":
		db := database.NewDatabaseInstance(a.db, a.logger)
		repo := participantrepo.NewParticipantRepository(db, a.logger)
		rewriters, err := participantrepo.NewReferenceRewriters(db, a.logger, cfg.ReferenceColumns)
		if err != nil {
			return nil, nil, err
		}
		a.repo, a.store, a.rewriters = repo, repo, rewriters
		a.audits = auditrepo.NewAuditRepository(db, a.logger)
	default:
		store := memory.NewParticipantStore()
		a.repo, a.store = store, store
		a.audits = memory.NewAuditStore()
		a.logger.WithContext(ctx).Warn("Using the in-memory participant store; data is lost on restart")
	}
	a.health.AddCheck("database", a.store)

	if a.redisClient != nil {
		a.locker = redis.NewLocker(a.redisClient, "", cfg.LockTTL, cfg.LockWait)
	} else {
		a.locker = locking.NewKeyedMutex(cfg.LockWait)
	}

	var publisher events.Publisher
	if a.producer != nil {
		publisher = a.producer
	}
	emitter := events.NewEmitter(publisher, a.logger)
	trail := audit.NewTrail(a.logger, a.audits, emitter)

	engine := matching.NewEngine(a.logger, a.repo, matching.EngineConfig{
		MinNameLength: cfg.MatchMinNameLength,
		MaxCandidates: cfg.MatchMaxCandidates,
	})
	enricher := enrichment.NewEnricher(a.logger, a.repo, trail, a.locker, emitter, enrichment.Config{
		MaxRetries: cfg.EnrichMaxRetries,
	})
	coordinator := merging.NewCoordinator(a.logger, a.repo, trail, a.locker, emitter, a.rewriters...)
	batch := jobs.NewBatchEnricher(a.logger, enricher, cfg.BatchConcurrency)

	handler := participant.NewHandler(engine, enricher, coordinator, trail, batch, a.logger)
	handler.Register(a.server.Group("/v1/participants"))

	return enricher, coordinator, nil
}
