//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"crewcanvas/application/ports"
	"crewcanvas/infrastructure/backend"
	"crewcanvas/infrastructure/config"

	"github.com/google/wire"
)

// InfrastructureProviders build clients, storage and observability
var InfrastructureProviders = wire.NewSet(
	ProvideLogLevel,
	ProvideLogger,
	ProvideClock,
	ProvideMetrics,
	ProvideTracing,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideBackendClient,
	ProvideSessionRepository,
	ProvideEventBus,
	wire.Bind(new(ports.Backend), new(*backend.Client)),
)

// ApplicationProviders build the session services
var ApplicationProviders = wire.NewSet(
	ProvideTabStore,
	ProvidePersister,
	ProvideTracker,
	ProvideSecretStore,
	ProvideCloner,
	ProvideCrewService,
	ProvideExecutionService,
)

// InterfaceProviders build the HTTP surface and config reloading
var InterfaceProviders = wire.NewSet(
	ProvideRouter,
	ProvideConfigWatcher,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	InfrastructureProviders,
	ApplicationProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil
}
