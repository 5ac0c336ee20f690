// Package di wires the service together with Google Wire.
package di

import (
	"context"

	"crewcanvas/application/crews"
	"crewcanvas/application/execution"
	"crewcanvas/application/ports"
	"crewcanvas/application/secrets"
	"crewcanvas/application/tabs"
	"crewcanvas/application/tracker"
	"crewcanvas/infrastructure/backend"
	"crewcanvas/infrastructure/config"
	"crewcanvas/infrastructure/messaging"
	"crewcanvas/infrastructure/observability"
	"crewcanvas/interfaces/http/rest"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	LogLevel  zap.AtomicLevel
	Metrics   *observability.Collector
	Tracing   *observability.TracerProvider
	Backend   *backend.Client
	Bus       *messaging.Bus
	Sessions  ports.SessionRepository
	Store     *tabs.Store
	Persister *tabs.Persister
	Tracker   *tracker.Tracker
	Secrets   *secrets.Store
	Crews     *crews.Service
	Execution *execution.Service
	Router    *rest.Router
	Watcher   *config.Watcher
}

// Start restores the saved session, or creates a default tab, and begins
// saving and config watching
func (c *Container) Start(ctx context.Context) {
	if !c.Persister.Restore(ctx) {
		c.Store.EnsureTab()
	}
	c.Persister.Start()
	if c.Watcher != nil {
		c.Watcher.Start()
	}
	c.Logger.Info("Session ready",
		zap.String("session_id", c.Config.Session.ID),
		zap.Int("tabs", c.Store.Len()),
	)
}

// Close flushes the session and releases resources in reverse start order
func (c *Container) Close(ctx context.Context) {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	c.Persister.Stop()
	if err := c.Persister.Flush(ctx); err != nil {
		c.Logger.Error("Failed to flush session", zap.Error(err))
	}
	c.Tracker.Close()
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			c.Logger.Error("Failed to shut down tracing", zap.Error(err))
		}
	}
	_ = c.Logger.Sync()
}
