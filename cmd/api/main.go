package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-sync/internal/config"
	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/database"
	"github.com/noah-isme/gema-sync/internal/dispatch"
	"github.com/noah-isme/gema-sync/internal/handler"
	"github.com/noah-isme/gema-sync/internal/middleware"
	"github.com/noah-isme/gema-sync/internal/observability"
	"github.com/noah-isme/gema-sync/internal/queue"
	"github.com/noah-isme/gema-sync/internal/ratelimit"
	"github.com/noah-isme/gema-sync/internal/repository"
	"github.com/noah-isme/gema-sync/internal/router"
	"github.com/noah-isme/gema-sync/internal/service"
	"github.com/noah-isme/gema-sync/internal/syncer"
	"github.com/noah-isme/gema-sync/internal/workpool"
	"github.com/noah-isme/gema-sync/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendDB := connectBackend(cfg, logger)

	mutations, err := repository.NewMutationRepository(backendDB)
	if err != nil {
		log.Fatalf("failed to build mutation repository: %v", err)
	}

	store, redisClient := openQueue(cfg)
	defer store.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	dispatcher := dispatch.NewDispatcher(cfg.DispatchTimeout, logger)
	if err := dispatch.RegisterDefaults(dispatcher, mutations, validate); err != nil {
		log.Fatalf("failed to register action handlers: %v", err)
	}
	if err := dispatcher.Validate(); err != nil {
		log.Fatalf("action routing incomplete: %v", err)
	}

	broker := service.NewStatusBroker()

	var prober connectivity.Prober = connectivity.DatabaseProbe(backendDB)
	if cfg.HeartbeatURL != "" {
		prober = connectivity.HTTPProbe(cfg.HeartbeatURL)
	}
	monitor := connectivity.NewMonitor(prober, connectivity.Options{
		Interval:     cfg.HeartbeatInterval,
		ProbeTimeout: cfg.HeartbeatTimeout,
		OnTransition: func(transition connectivity.Transition) {
			online := transition.To == connectivity.Online
			if online {
				observability.ConnectivityOnline().Set(1)
			} else {
				observability.ConnectivityOnline().Set(0)
			}
			observability.ConnectivityTransitions().WithLabelValues(transition.To.String(), string(transition.Source)).Inc()
			broker.Connectivity(transition)
		},
	}, logger)
	monitor.Probe(ctx)

	orchestrator := syncer.NewOrchestrator(store, dispatcher, monitor, syncer.Options{
		MaxRetries: cfg.SyncMaxRetries,
		Interval:   cfg.SyncInterval,
	}, logger)
	orchestrator.AddReporter(broker)
	orchestrator.TriggerOnOnline(monitor)

	if natsConn := connectNATS(ctx, cfg, monitor, logger); natsConn != nil {
		defer natsConn.Drain()
		publisher := service.NewNATSReportPublisher(natsConn, cfg.NATSSubject, logger)
		orchestrator.AddReporter(publisher)
		monitor.OnOnline(publisher.Connectivity)
		monitor.OnOffline(publisher.Connectivity)
	}

	limiter := ratelimit.NewLimiter(logger,
		ratelimit.WithDefaultPolicy(ratelimit.Policy{MaxRequests: cfg.RateLimitDefaultMax, Window: cfg.RateLimitDefaultWindow}),
		ratelimit.WithObserver(func(action string, allowed bool) {
			decision := "allowed"
			if !allowed {
				decision = "rejected"
			}
			observability.AdmissionDecisions().WithLabelValues(action, decision).Inc()
		}),
	)

	for action, policy := range cfg.RateLimitPolicies {
		if err := limiter.SetPolicy(action, ratelimit.Policy{MaxRequests: policy.MaxRequests, Window: policy.Window}); err != nil {
			log.Fatalf("invalid admission policy for %s: %v", action, err)
		}
	}

	pool := workpool.New(cfg.WorkpoolConcurrency, workpool.WithActiveObserver(func(active int) {
		observability.WorkpoolActive().Set(float64(active))
	}))

	offlineService := service.NewOfflineService(store, dispatcher, monitor, orchestrator, limiter, validate, logger)
	bulkService := service.NewBulkImportService(offlineService, limiter, pool, validate, logger)
	aiService := service.NewAIGenerationService(newGenerator(cfg, logger), limiter, monitor, service.AIGenerationRetryOptions(), validate, logger)

	if count, err := store.Count(ctx); err == nil {
		observability.QueueDepth().Set(float64(count))
		logger.Info().Int("pending", count).Str("driver", cfg.QueueDriver).Msg("queue restored")
	}

	monitor.Start(ctx)
	orchestrator.Start(ctx)
	go pruneLimiter(ctx, limiter, cfg.RateLimitDefaultWindow)
	if monitor.IsOnline() {
		orchestrator.Nudge(syncer.TriggerOnline)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	deps := router.Dependencies{
		OfflineHandler: handler.NewOfflineHandler(offlineService, bulkService, aiService, broker, limiter, logger),
		Connectivity:   monitor,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	}
	if redisClient != nil {
		deps.QueueProbe = connectivity.RedisProbe(redisClient)
	}
	router.Register(app, cfg, deps)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app)
}

// connectBackend opens the central backend. Without a DSN the agent writes to a
// local SQLite file, which is only meant for development.
func connectBackend(cfg config.Config, logger zerolog.Logger) *gorm.DB {
	if cfg.DatabaseURL != "" {
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		return db
	}

	logger.Warn().Msg("database url not set, using local sqlite backend")
	db, err := database.ConnectSQLite("./data/backend.db")
	if err != nil {
		log.Fatalf("failed to open development backend: %v", err)
	}
	if err := repository.MigrateMutationTables(db); err != nil {
		log.Fatalf("failed to migrate development backend: %v", err)
	}
	return db
}

func openQueue(cfg config.Config) (queue.Store, *redis.Client) {
	opts := queue.OpenOptions{Driver: cfg.QueueDriver, PebblePath: cfg.QueuePath}

	var redisClient *redis.Client
	switch cfg.QueueDriver {
	case queue.DriverSQLite:
		db, err := database.ConnectSQLite(cfg.QueueSQLitePath)
		if err != nil {
			log.Fatalf("failed to open queue database: %v", err)
		}
		opts.DB = db
	case queue.DriverRedis:
		client, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		opts.Redis = client
		redisClient = client
	}

	store, err := queue.Open(opts)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	return store, redisClient
}

// connectNATS treats the NATS connection state as a low-level connectivity
// signal. Callbacks never block the client; the heartbeat reconciles dropped signals.
func connectNATS(ctx context.Context, cfg config.Config, monitor *connectivity.Monitor, logger zerolog.Logger) *nats.Conn {
	if cfg.NATSURL == "" {
		return nil
	}

	signals := make(chan bool, 8)
	send := func(online bool) {
		select {
		case signals <- online:
		default:
			logger.Debug().Bool("online", online).Msg("connectivity signal dropped")
		}
	}

	conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, database.NATSHooks{
		OnDisconnect: func() { send(false) },
		OnReconnect:  func() { send(true) },
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, sync reports stay local")
		return nil
	}
	go monitor.Watch(ctx, signals)
	return conn
}

func newGenerator(cfg config.Config, logger zerolog.Logger) ai.Generator {
	if cfg.AIProvider != "openai" || cfg.OpenAIAPIKey == "" {
		logger.Info().Str("provider", cfg.AIProvider).Msg("ai generation disabled")
		return nil
	}

	generator, err := ai.NewOpenAIGenerator(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.AIModel,
		Logger: logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("ai generator unavailable")
		return nil
	}
	return generator
}

func pruneLimiter(ctx context.Context, limiter *ratelimit.Limiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}

func waitForShutdown(shutdownCtx context.Context, app *fiber.App) {
	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
