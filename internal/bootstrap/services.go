package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/adapters/worker"
	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/gateway"
	"github.com/meschain/marketsync/internal/observability/notify"
	"github.com/meschain/marketsync/internal/observability/notify/pagerduty"
	"github.com/meschain/marketsync/internal/observability/notify/slack"
	"github.com/meschain/marketsync/internal/observability/statsd"
	"github.com/meschain/marketsync/internal/service"
	"github.com/meschain/marketsync/internal/service/failurenotifier"
	"github.com/meschain/marketsync/internal/webhook"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs      *service.JobService
	Schedules *service.ScheduleService
	Scheduler *service.SchedulerService
	Sweeper   *service.SweeperService

	// SweeperRepo backs the admin purge endpoint directly; purge bypasses
	// the sweep loop.
	SweeperRepo core.SweeperRepository
	Cache       core.CacheRepository

	Gateway        *gateway.Client
	Verifier       *webhook.Verifier
	Dispatcher     *webhook.Dispatcher
	WorkerHandlers map[model.JobType]worker.HandlerFunc

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	// Operator receives ad-hoc alerts that need a human: payment disputes,
	// dead-letter pileups. Nil when no capable sink is configured.
	Operator       notify.OperatorSink
	NotifierConfig config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB           *sql.DB
	Redis        redis.UniversalClient
	JobRepo      *data.JobRepo
	ScheduleRepo *data.ScheduleRepo
	StockRepo    *data.StockRepo
	LedgerRepo   *data.EventLedgerRepo
	CacheRepo    *data.RedisCacheRepo
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "marketsync",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	failureNotifier, operator := buildFailureNotifier(obsLogger, cfg.Notifications)

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: failureNotifier,
		Operator:        operator,
		NotifierConfig:  cfg.Notifications,
	}
}

// buildFailureNotifier wires the configured notification sinks. The Slack
// client doubles as the operator alert sink; PagerDuty only carries job
// failures.
func buildFailureNotifier(
	logger *slog.Logger,
	cfg config.ObservabilityNotificationsConfig,
) (*failurenotifier.Service, notify.OperatorSink) {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		}), nil
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)
	var operator notify.OperatorSink

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
			operator = client
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	}), operator
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:           db,
		Redis:        redisClient,
		JobRepo:      data.NewJobRepo(db, data.RepoConfig{Logger: logger}),
		ScheduleRepo: data.NewScheduleRepo(db),
		StockRepo:    data.NewStockRepo(db),
		LedgerRepo:   data.NewEventLedgerRepo(db),
	}
	if redisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redisClient)
	}
	return repos
}

// buildGatewayClient assembles the outbound gateway from configured
// credentials. Marketplaces with broken credentials are skipped with a
// warning; calls to them fail at auth time.
func buildGatewayClient(
	logger *slog.Logger,
	cfg config.GatewayConfig,
	repos *serviceRepositories,
	sink statsd.Sink,
) *gateway.Client {
	auth := make(map[model.Marketplace]gateway.AuthProvider)
	for marketplace, mpCfg := range cfg.PerMarketplace() {
		provider, err := gateway.NewAuthProvider(marketplace, gateway.Credentials{
			APIKey:       mpCfg.APIKey,
			APISecret:    mpCfg.APISecret,
			ClientID:     mpCfg.ClientID,
			ClientSecret: mpCfg.ClientSecret,
			TokenURL:     mpCfg.TokenURL,
		})
		if err != nil {
			logger.Warn("skipping marketplace auth", "marketplace", marketplace, "error", err)
			continue
		}
		auth[marketplace] = provider
	}

	limits := make(map[model.Marketplace]int)
	for marketplace, limit := range cfg.RateLimits() {
		limits[marketplace] = int(limit)
	}

	limiterOpts := gateway.LimiterOptions{Limits: limits}
	if repos.CacheRepo != nil {
		// Shared counter keeps the hourly budget honest across replicas.
		limiterOpts.Counter = repos.CacheRepo
	}

	return gateway.NewClient(gateway.ClientOptions{
		Limiter: gateway.NewLimiter(limiterOpts),
		Breaker: gateway.NewBreaker(gateway.BreakerOptions{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
			Sink:             sink,
		}),
		Auth:        auth,
		BaseURLs:    cfg.BaseURLs(),
		CallTimeout: cfg.CallTimeout,
		Sink:        sink,
		Logger:      logger,
	})
}

type webhookPipeline struct {
	verifier   *webhook.Verifier
	dispatcher *webhook.Dispatcher
}

func buildWebhookPipeline(
	logger *slog.Logger,
	cfg config.WebhookConfig,
	repos *serviceRepositories,
	observability ObservabilityContainer,
) webhookPipeline {
	verifier := webhook.NewVerifier(webhook.VerifierOptions{
		Secrets: cfg.Secrets(),
		Logger:  logger,
		Sink:    observability.MetricsSink,
	})

	handlers := webhook.NewHandlerTable(webhook.HandlerDeps{
		Stock:    repos.StockRepo,
		Jobs:     repos.JobRepo,
		Operator: observability.Operator,
		Logger:   logger,
	})

	dispatcherOpts := webhook.DispatcherOptions{
		Ledger:   repos.LedgerRepo,
		Handlers: handlers,
		DedupTTL: cfg.DedupTTL,
		Sink:     observability.MetricsSink,
		Logger:   logger,
	}
	if repos.CacheRepo != nil {
		dispatcherOpts.Cache = repos.CacheRepo
	}

	return webhookPipeline{
		verifier:   verifier,
		dispatcher: webhook.NewDispatcher(dispatcherOpts),
	}
}

// DomainServicesOptions groups inputs for domain service wiring.
type DomainServicesOptions struct {
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires business services using repositories and observability adapters.
func buildDomainServices(opts *DomainServicesOptions) (ServiceContainer, error) {
	if opts == nil {
		return ServiceContainer{}, errors.New("domain services options are required")
	}
	svcLogger := opts.Logger
	if svcLogger == nil {
		svcLogger = slog.Default()
	}

	appCfg := opts.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	jobService, err := service.NewJobService(service.JobServiceOptions{
		Repo:            opts.Repos.JobRepo,
		DefaultLease:    appCfg.Worker.JobLease,
		Logger:          svcLogger,
		Metrics:         opts.Observability.MetricsSink,
		FailureNotifier: opts.Observability.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	scheduleService, err := service.NewScheduleService(service.ScheduleServiceOptions{
		Repo:   opts.Repos.ScheduleRepo,
		Logger: svcLogger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create schedule service: %w", err)
	}

	schedulerService, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Schedules:    opts.Repos.ScheduleRepo,
		Jobs:         opts.Repos.JobRepo,
		Introspector: opts.Repos.JobRepo,
		BatchSize:    appCfg.Scheduler.BatchSize,
		Logger:       svcLogger,
		Metrics:      opts.Observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create scheduler service: %w", err)
	}

	sweeperService, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:     opts.Repos.JobRepo,
		Ledger:   opts.Repos.LedgerRepo,
		Config:   appCfg.Sweeper,
		Logger:   svcLogger,
		Metrics:  opts.Observability.MetricsSink,
		Operator: opts.Observability.Operator,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create sweeper service: %w", err)
	}

	gatewayClient := buildGatewayClient(svcLogger, appCfg.Gateway, opts.Repos, opts.Observability.MetricsSink)
	pipeline := buildWebhookPipeline(svcLogger, appCfg.Webhook, opts.Repos, opts.Observability)

	workerHandlers := worker.NewHandlerTable(worker.HandlerDeps{
		Gateway: gatewayClient,
		Stock:   opts.Repos.StockRepo,
		Logger:  svcLogger,
	})

	container := ServiceContainer{
		Jobs:           jobService,
		Schedules:      scheduleService,
		Scheduler:      schedulerService,
		Sweeper:        sweeperService,
		SweeperRepo:    opts.Repos.JobRepo,
		Gateway:        gatewayClient,
		Verifier:       pipeline.verifier,
		Dispatcher:     pipeline.dispatcher,
		WorkerHandlers: workerHandlers,
		Observability:  opts.Observability,
	}
	if opts.Repos.CacheRepo != nil {
		container.Cache = opts.Repos.CacheRepo
	}
	return container, nil
}

// NewServices builds the full service container from shared infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
	}
	observability := buildObservability(logger, obsCfg)
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)
	return buildDomainServices(&DomainServicesOptions{
		Repos:         repos,
		Observability: observability,
		Config:        deps.Config,
		Logger:        logger,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		DB:       deps.cfg.DB,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				if deps.logger != nil {
					deps.logger.WarnContext(
						ctx,
						"dropping background service error",
						"service",
						descriptor.name,
						"error",
						errMsg,
					)
				} else {
					slog.Default().WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
				}
			}
		}
	}()

	if deps.logger != nil {
		deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	} else {
		slog.Default().InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	}

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			schedulerCfg := config.SchedulerConfig{}
			if deps.cfg.Config != nil {
				schedulerCfg = deps.cfg.Config.Scheduler
			}
			return RunScheduler(ctx, SchedulerConfig{
				Scheduler: deps.cfg.Services.Scheduler,
				Config:    schedulerCfg,
				Logger:    deps.logger,
				Metrics:   deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "worker pool",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			workerCfg := config.WorkerConfig{}
			if deps.cfg.Config != nil {
				workerCfg = deps.cfg.Config.Worker
			}
			return RunWorker(ctx, WorkerConfig{
				Jobs:     deps.cfg.Services.Jobs,
				Handlers: deps.cfg.Services.WorkerHandlers,
				Config:   workerCfg,
				Logger:   deps.logger,
				Metrics:  deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newSweeperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "sweeper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return RunSweeper(ctx, SweeperConfig{
				Sweeper: deps.cfg.Services.Sweeper,
				Logger:  deps.logger,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newSchedulerBackgroundService(deps),
		newWorkerBackgroundService(deps),
		newSweeperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		jobService:  cfg.Services.Jobs,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeHTTP,
		config.ServiceModeScheduler,
		config.ServiceModeWorker,
		config.ServiceModeSweeper,
	}

	count := 0
	for _, mode := range modes {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	jobService  *service.JobService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		// Create a timeout context for HTTP shutdown
		shutdownCtx, cancel := context.WithTimeout(cfg.ctx, shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context:    shutdownCtx,
			Server:     cfg.httpServer,
			JobService: cfg.jobService,
			Logger:     cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
