// Package mocks provides testify mocks of the application ports.
package mocks

import (
	"context"
	"sync"

	"crewcanvas/application/ports"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/events"

	"github.com/stretchr/testify/mock"
)

// MockBackend mocks every backend service
type MockBackend struct {
	mock.Mock
}

var _ ports.Backend = (*MockBackend)(nil)

func (m *MockBackend) CreateAgent(ctx context.Context, agent entities.Agent) (entities.Agent, error) {
	args := m.Called(ctx, agent)
	return args.Get(0).(entities.Agent), args.Error(1)
}

func (m *MockBackend) DeleteAgent(ctx context.Context, id entities.EntityID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBackend) CreateTask(ctx context.Context, task entities.Task) (entities.Task, error) {
	args := m.Called(ctx, task)
	return args.Get(0).(entities.Task), args.Error(1)
}

func (m *MockBackend) DeleteTask(ctx context.Context, id entities.EntityID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBackend) GetCrew(ctx context.Context, id string) (*ports.Crew, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*ports.Crew), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) ListCrews(ctx context.Context) ([]ports.CrewSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]ports.CrewSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) SaveCrew(ctx context.Context, req ports.CrewRequest) (ports.CrewSummary, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ports.CrewSummary), args.Error(1)
}

func (m *MockBackend) UpdateCrew(ctx context.Context, id string, req ports.CrewRequest) (ports.CrewSummary, error) {
	args := m.Called(ctx, id, req)
	return args.Get(0).(ports.CrewSummary), args.Error(1)
}

func (m *MockBackend) ExecuteJob(ctx context.Context, req ports.JobRequest) (ports.JobResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ports.JobResponse), args.Error(1)
}

func (m *MockBackend) ListRuns(ctx context.Context, limit int) ([]ports.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]ports.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) ListAPIKeys(ctx context.Context) ([]ports.APIKey, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]ports.APIKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) ListSecrets(ctx context.Context) ([]ports.Secret, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]ports.Secret), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) SetAPIKey(ctx context.Context, name, value, description string) error {
	args := m.Called(ctx, name, value, description)
	return args.Error(0)
}

func (m *MockBackend) DeleteAPIKey(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockSessionRepository mocks session persistence
type MockSessionRepository struct {
	mock.Mock
}

var _ ports.SessionRepository = (*MockSessionRepository)(nil)

func (m *MockSessionRepository) Save(ctx context.Context, snapshot aggregates.SessionSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockSessionRepository) Load(ctx context.Context, sessionID string) (*aggregates.SessionSnapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) != nil {
		return args.Get(0).(*aggregates.SessionSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

// RecordingPublisher keeps every published event in order
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

var _ ports.EventPublisher = (*RecordingPublisher)(nil)

func (p *RecordingPublisher) Publish(_ context.Context, event events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	for _, e := range batch {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the recorded events
func (p *RecordingPublisher) Events() []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.DomainEvent(nil), p.events...)
}

// Kinds returns the kinds of the recorded events
func (p *RecordingPublisher) Kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.GetKind()
	}
	return out
}
