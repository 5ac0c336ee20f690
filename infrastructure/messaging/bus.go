// Package messaging provides the in-process event bus.
package messaging

import (
	"context"
	"fmt"
	"sync"

	"crewcanvas/application/ports"
	"crewcanvas/domain/events"
	"crewcanvas/infrastructure/observability"
	apperrors "crewcanvas/pkg/errors"

	"go.uber.org/zap"
)

type subscription struct {
	kind    events.Kind // empty for every kind
	handler ports.EventHandler
}

// Bus delivers events synchronously to its subscribers, in subscription
// order. A failing handler is logged and does not stop delivery.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	metrics *observability.Collector
	logger  *zap.Logger
}

var _ ports.EventBus = (*Bus)(nil)

// NewBus creates an empty bus. metrics may be nil.
func NewBus(metrics *observability.Collector, logger *zap.Logger) *Bus {
	return &Bus{metrics: metrics, logger: logger}
}

// Subscribe registers a handler for one event kind
func (b *Bus) Subscribe(kind events.Kind, handler ports.EventHandler) error {
	if !kind.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown event kind %q", kind))
	}
	b.add(subscription{kind: kind, handler: handler})
	return nil
}

// SubscribeAll registers a handler for every event kind
func (b *Bus) SubscribeAll(handler ports.EventHandler) {
	b.add(subscription{handler: handler})
}

func (b *Bus) add(s subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	b.logger.Debug("Event handler subscribed",
		zap.String("kind", string(s.kind)),
		zap.Int("total_handlers", len(b.subs)),
	)
}

// Publish delivers event to every matching handler
func (b *Bus) Publish(ctx context.Context, event events.DomainEvent) error {
	kind := event.GetKind()
	if !kind.IsValid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown event kind %q", kind))
	}

	b.mu.RLock()
	subs := make([]ports.EventHandler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == kind {
			subs = append(subs, s.handler)
		}
	}
	b.mu.RUnlock()

	b.metrics.RecordEvent(string(kind))
	for _, h := range subs {
		b.deliver(ctx, h, event)
	}
	return nil
}

// PublishBatch publishes events in order, stopping at the first invalid one
func (b *Bus) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	for _, e := range batch {
		if err := b.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, h ports.EventHandler, event events.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("kind", string(event.GetKind())),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h.Handle(ctx, event); err != nil {
		b.logger.Error("Event handler failed",
			zap.String("kind", string(event.GetKind())),
			zap.String("aggregate_id", event.GetAggregateID()),
			zap.Error(err),
		)
	}
}
