package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtdesk/internal/api"
	"courtdesk/internal/broker"
	"courtdesk/internal/config"
	"courtdesk/internal/database"
	"courtdesk/internal/domain"
	"courtdesk/internal/events"
	"courtdesk/internal/gateway"
	"courtdesk/internal/logging"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"
	"courtdesk/internal/notify"
	"courtdesk/internal/repository"
	"courtdesk/internal/service"
	"courtdesk/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	configSource := initConfigCache(ctx, cfg, db, redisClient, &logger)

	publisher := initBroker(cfg, &logger)
	if publisher != nil {
		defer publisher.Close()
	}

	dispatcher := worker.NewDispatcher(db, buildSinks(cfg, publisher, &logger), redisClient, worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  cfg.Worker.InitialDelay,
		MaxDelay:      cfg.Worker.MaxDelay,
		BackoffFactor: cfg.Worker.BackoffMult,
	}, worker.Options{
		QueueSize:    cfg.Worker.QueueSize,
		PollInterval: cfg.Worker.PollInterval,
	}, logging.Component(&logger, "dispatcher"))
	reportFailedEffects(ctx, db, &logger)

	eventBus := events.NewEventBus()
	eventBus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("Event handler failed")
	})
	audit := service.NewAuditRecorder(db, logging.Component(&logger, "audit"))
	audit.Attach(eventBus)

	services := buildServices(cfg, db, configSource, eventBus, dispatcher, &logger)
	services.Audit = audit

	grpcServer, err := api.NewGRPCServer(&cfg.API, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	httpServer := api.NewHTTPServer(cfg.API, services, &logger)

	startMetrics(ctx, cfg, &logger)
	go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)

	if cfg.Worker.Enabled {
		go dispatcher.Start(ctx)
		grpcServer.SetServing(api.ServiceDispatch, true)
	} else {
		logger.Warn().Msg("Effect worker disabled; side effects stay queued")
	}
	grpcServer.SetServing(api.ServiceBooking, true)
	grpcServer.SetServing(api.ServiceLedger, true)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	setups, err := tenantSetups(cfg.Tenants)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.SyncTenants(ctx, setups); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync tenants: %w", err)
	}
	return db, nil
}

func tenantSetups(tenants []config.TenantConfig) ([]database.TenantSetup, error) {
	setups := make([]database.TenantSetup, 0, len(tenants))
	for i := range tenants {
		t := tenants[i]
		tenant := t.Tenant
		setup := database.TenantSetup{Tenant: &tenant}
		for j := range t.Courts {
			court := t.Courts[j]
			setup.Courts = append(setup.Courts, &court)
		}
		for _, rc := range t.PriceRules {
			rule, err := rc.ToModel()
			if err != nil {
				return nil, fmt.Errorf("tenant %d: %w", t.ID, err)
			}
			setup.PriceRules = append(setup.PriceRules, rule)
		}
		for _, pc := range t.Products {
			product, err := pc.ToModel()
			if err != nil {
				return nil, fmt.Errorf("tenant %d: %w", t.ID, err)
			}
			setup.Products = append(setup.Products, product)
		}
		setups = append(setups, setup)
	}
	return setups, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initConfigCache serves tenant configuration through Redis when available,
// falling back to process memory.
func initConfigCache(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *repository.CachedConfigSource {
	var cache domain.ConfigCache = repository.NewMemoryConfigCache(cfg.Redis.CacheTTL)
	if redisClient != nil {
		cache = repository.NewFailoverConfigCache(
			repository.NewRedisConfigCache(redisClient, cfg.Redis.CacheTTL),
			cache,
			logging.Component(logger, "config_cache"),
		)
	}
	source := repository.NewCachedConfigSource(db, cache, logger)

	// Configuration was just synced; drop snapshots from a previous run.
	for _, t := range cfg.Tenants {
		if err := source.Invalidate(ctx, t.ID); err != nil {
			logger.Warn().Err(err).Int64("tenant_id", t.ID).Msg("config cache invalidation failed")
		}
	}
	return source
}

func initBroker(cfg *config.Config, logger *zerolog.Logger) *broker.Publisher {
	if cfg.RabbitMQ.URL == "" {
		logger.Warn().Msg("rabbitmq not configured, realtime updates and client messages are skipped")
		return nil
	}
	publisher, err := broker.Dial(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq connection failed, continuing without broker")
		return nil
	}
	logger.Info().Str("exchange", cfg.RabbitMQ.RealtimeExchange).Msg("rabbitmq connected")
	return publisher
}

func buildSinks(cfg *config.Config, publisher *broker.Publisher, logger *zerolog.Logger) worker.Sinks {
	var sinks worker.Sinks
	if publisher != nil {
		sinks.Broadcaster = publisher
		sinks.Messenger = publisher
	}

	if cfg.Telegram.BotToken == "" {
		return sinks
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram bot init failed, staff alerts are skipped")
		return sinks
	}
	bot.Debug = cfg.Telegram.Debug
	logger.Info().Str("bot", bot.Self.UserName).Int("staff_chats", len(cfg.Telegram.StaffChats)).Msg("telegram connected")
	sinks.Staff = notify.NewTelegramStaff(bot, cfg.Telegram.StaffChats, logging.Component(logger, "telegram"))
	return sinks
}

func reportFailedEffects(ctx context.Context, db *database.DB, logger *zerolog.Logger) {
	failed, err := db.GetFailedEffectTasks(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to count dead effect tasks")
		return
	}
	if len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("effect tasks failed permanently in previous runs")
	}
}

func buildServices(
	cfg *config.Config,
	db *database.DB,
	source domain.ConfigSource,
	eventBus *events.EventBus,
	queue domain.EffectQueue,
	logger *zerolog.Logger,
) api.Services {
	pricer := service.NewPriceResolver(source, db, logging.Component(logger, "pricing"))
	ledger := service.NewPaymentLedger(db, eventBus, logging.Component(logger, "ledger"))
	scheduler := service.NewBookingScheduler(db, source, pricer, eventBus, queue, cfg.Scheduling.MaxSeriesWeeks, logging.Component(logger, "scheduler"))

	paymentLogger := logging.Component(logger, "payments")
	processor := service.NewPaymentProcessor(
		service.NewAtomicPayment(db, paymentLogger),
		service.NewSequentialPayment(db, ledger, paymentLogger),
		paymentLogger,
	)

	var links domain.PaymentLinkProvider
	if cfg.Gateway.BaseURL != "" {
		links = gateway.NewClient(cfg.Gateway, logger)
	}
	accounting := service.NewBookingAccounting(db, source, ledger, processor, links, eventBus, queue, logging.Component(logger, "accounting"))

	return api.Services{
		Scheduler:  scheduler,
		Accounting: accounting,
		Ledger:     ledger,
		Pricer:     pricer,
		Courts:     db,
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().
		Str("grpc_addr", grpcServer.Addr()).
		Int("http_port", cfg.API.HTTP.Port).
		Int("tenants", len(cfg.Tenants)).
		Str("default_timezone", cfg.Scheduling.DefaultTimezone).
		Int("max_series", models.MaxSeriesOccurrences).
		Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
