package di

import (
	"context"
	"fmt"

	"crewcanvas/application/cloner"
	"crewcanvas/application/crews"
	"crewcanvas/application/execution"
	"crewcanvas/application/ports"
	"crewcanvas/application/secrets"
	"crewcanvas/application/tabs"
	"crewcanvas/application/tracker"
	"crewcanvas/domain/events"
	"crewcanvas/infrastructure/backend"
	"crewcanvas/infrastructure/config"
	"crewcanvas/infrastructure/messaging"
	"crewcanvas/infrastructure/messaging/eventbridge"
	"crewcanvas/infrastructure/observability"
	"crewcanvas/infrastructure/persistence/dynamodb"
	"crewcanvas/infrastructure/persistence/memory"
	"crewcanvas/interfaces/http/rest"
	"crewcanvas/pkg/clock"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProvideLogLevel creates the runtime adjustable log level
func ProvideLogLevel(cfg *config.Config) zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}
	return level
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", observability.ServiceName)), nil
}

// ProvideClock returns the wall clock
func ProvideClock() clock.Clock {
	return clock.Real{}
}

// ProvideMetrics creates the Prometheus collector, or nil when metrics are
// disabled
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector(observability.ServiceName)
}

// ProvideTracing installs the OTLP tracer provider, or returns nil when
// tracing is disabled
func ProvideTracing(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	return observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideBackendClient creates the crew backend client
func ProvideBackendClient(cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) (*backend.Client, error) {
	return backend.NewClient(backend.Config{
		BaseURL:         cfg.Backend.BaseURL,
		APIToken:        cfg.Backend.APIToken,
		Timeout:         cfg.Backend.Timeout,
		BreakerFailures: cfg.Backend.BreakerFailures,
		BreakerTimeout:  cfg.Backend.BreakerTimeout,
	}, metrics, logger)
}

// ProvideSessionRepository stores sessions in DynamoDB when a table is
// configured and in memory otherwise
func ProvideSessionRepository(
	cfg *config.Config,
	client *awsdynamodb.Client,
	metrics *observability.Collector,
	logger *zap.Logger,
) ports.SessionRepository {
	if cfg.Session.Table == "" {
		logger.Info("Session table not set, sessions are kept in memory")
		return memory.NewSessionRepository()
	}
	return dynamodb.NewSessionRepository(client, cfg.Session.Table, metrics, logger)
}

// ProvideEventBus creates the in-process event bus. With forwarding enabled
// every event is also sent to EventBridge.
func ProvideEventBus(
	cfg *config.Config,
	client *awseventbridge.Client,
	metrics *observability.Collector,
	logger *zap.Logger,
) *messaging.Bus {
	bus := messaging.NewBus(metrics, logger)
	if cfg.EnableEventForwarding {
		bus.SubscribeAll(eventbridge.NewForwarder(client, cfg.EventBusName, logger))
		logger.Info("Forwarding events to EventBridge", zap.String("event_bus", cfg.EventBusName))
	}
	return bus
}

// ProvideTabStore creates the tab store
func ProvideTabStore(clk clock.Clock, logger *zap.Logger) *tabs.Store {
	return tabs.NewStore(clk, logger)
}

// ProvidePersister creates the session persister
func ProvidePersister(
	cfg *config.Config,
	store *tabs.Store,
	repo ports.SessionRepository,
	clk clock.Clock,
	logger *zap.Logger,
) *tabs.Persister {
	return tabs.NewPersister(store, repo, cfg.Session.ID, cfg.Session.Debounce, clk, logger)
}

// ProvideTracker creates the execution tracker and subscribes it to job
// completion events
func ProvideTracker(
	cfg *config.Config,
	store *tabs.Store,
	jobs ports.Backend,
	bus *messaging.Bus,
	clk clock.Clock,
	logger *zap.Logger,
) (*tracker.Tracker, error) {
	t := tracker.New(store, jobs, bus, tracker.Config{
		SafetyTimeout: cfg.Tracker.SafetyTimeout,
		StatusTTL:     cfg.Tracker.StatusTTL,
		PollInterval:  cfg.Tracker.PollInterval,
	}, clk, logger)
	t.Watch()

	for _, kind := range []events.Kind{events.KindJobCompleted, events.KindJobFailed} {
		if err := bus.Subscribe(kind, t); err != nil {
			return nil, fmt.Errorf("subscribe tracker to %s: %w", kind, err)
		}
	}
	return t, nil
}

// ProvideSecretStore creates the API key and secret cache
func ProvideSecretStore(
	cfg *config.Config,
	backendClient ports.Backend,
	bus *messaging.Bus,
	clk clock.Clock,
	logger *zap.Logger,
) *secrets.Store {
	return secrets.NewStore(backendClient, bus, cfg.SecretsCacheTTL, clk, logger)
}

// ProvideCloner creates the graph cloner
func ProvideCloner(cfg *config.Config, backendClient ports.Backend, logger *zap.Logger) *cloner.Cloner {
	return cloner.NewCloner(backendClient, backendClient, cloner.Config{
		Concurrency: cfg.Clone.Concurrency,
		Compensate:  cfg.Clone.Compensate,
	}, logger)
}

// ProvideCrewService creates the crew save, update and import service
func ProvideCrewService(
	store *tabs.Store,
	backendClient ports.Backend,
	graphCloner *cloner.Cloner,
	bus *messaging.Bus,
	clk clock.Clock,
	logger *zap.Logger,
) *crews.Service {
	return crews.NewService(store, backendClient, graphCloner, bus, clk, logger)
}

// ProvideExecutionService creates the run service and its active tab mirror
func ProvideExecutionService(
	store *tabs.Store,
	backendClient ports.Backend,
	jobTracker *tracker.Tracker,
	keys *secrets.Store,
	bus *messaging.Bus,
	clk clock.Clock,
	logger *zap.Logger,
) *execution.Service {
	return execution.NewService(store, execution.NewMirror(store), backendClient, jobTracker, keys, bus, clk, logger)
}

// ProvideRouter creates the REST router
func ProvideRouter(
	cfg *config.Config,
	store *tabs.Store,
	crewService *crews.Service,
	executionService *execution.Service,
	jobTracker *tracker.Tracker,
	keys *secrets.Store,
	bus *messaging.Bus,
	metrics *observability.Collector,
	clk clock.Clock,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(rest.Dependencies{
		Store:     store,
		Crews:     crewService,
		Execution: executionService,
		Tracker:   jobTracker,
		Secrets:   keys,
		Publisher: bus,
		Metrics:   metrics,
		Clock:     clk,
		CORS: rest.CORSConfig{
			Enabled:        cfg.EnableCORS,
			AllowedOrigins: cfg.CORSAllowedOrigins,
		},
	}, logger)
}

// ProvideConfigWatcher watches the YAML overlay and applies reloadable
// settings. It returns nil when no config file is in use.
func ProvideConfigWatcher(
	cfg *config.Config,
	level zap.AtomicLevel,
	jobTracker *tracker.Tracker,
	keys *secrets.Store,
	logger *zap.Logger,
) (*config.Watcher, error) {
	if cfg.ConfigFile == "" || cfg.IsLambda {
		return nil, nil
	}
	w, err := config.NewWatcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(next *config.Config) {
		if err := level.UnmarshalText([]byte(next.LogLevel)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", next.LogLevel))
		}
		jobTracker.SetPollInterval(next.Tracker.PollInterval)
		keys.SetTTL(next.SecretsCacheTTL)
	})
	return w, nil
}
