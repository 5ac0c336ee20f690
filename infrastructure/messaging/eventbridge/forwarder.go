// Package eventbridge republishes domain events to an AWS EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"crewcanvas/application/ports"
	"crewcanvas/domain/events"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// Source is the EventBridge source of every forwarded event
const Source = "crewcanvas.sessions"

// maxEntries is the PutEvents limit per call
const maxEntries = 10

// PutEventsAPI is the part of the EventBridge client the forwarder uses
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Forwarder publishes events to EventBridge. It is subscribed to the
// in-process bus for every kind.
type Forwarder struct {
	client       PutEventsAPI
	eventBusName string
	logger       *zap.Logger
}

var (
	_ ports.EventPublisher = (*Forwarder)(nil)
	_ ports.EventHandler   = (*Forwarder)(nil)
)

// NewForwarder creates a forwarder for eventBusName
func NewForwarder(client PutEventsAPI, eventBusName string, logger *zap.Logger) *Forwarder {
	return &Forwarder{client: client, eventBusName: eventBusName, logger: logger}
}

// Handle forwards one event received from the bus
func (f *Forwarder) Handle(ctx context.Context, event events.DomainEvent) error {
	return f.Publish(ctx, event)
}

// Publish sends a single event to EventBridge
func (f *Forwarder) Publish(ctx context.Context, event events.DomainEvent) error {
	return f.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends events in chunks of the PutEvents limit
func (f *Forwarder) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	for i := 0; i < len(batch); i += maxEntries {
		end := min(i+maxEntries, len(batch))
		if err := f.put(ctx, batch[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *Forwarder) put(ctx context.Context, batch []events.DomainEvent) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(batch))
	sent := make([]events.DomainEvent, 0, len(batch))
	for _, event := range batch {
		detail, err := json.Marshal(event)
		if err != nil {
			f.logger.Error("Failed to marshal event",
				zap.String("kind", string(event.GetKind())),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(f.eventBusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(string(event.GetKind())),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.GetTimestamp()),
		})
		sent = append(sent, event)
	}
	if len(entries) == 0 {
		return nil
	}

	result, err := f.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil && i < len(sent) {
				f.logger.Error("Failed to publish event",
					zap.String("kind", string(sent[i].GetKind())),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	f.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("event_bus", f.eventBusName),
	)
	return nil
}
