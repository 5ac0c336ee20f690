// Package execution starts backend jobs for tabs and hands them to the
// status tracker.
package execution

import (
	"context"
	"net/http"

	"crewcanvas/application/ports"
	"crewcanvas/application/secrets"
	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/graph"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/domain/events"
	"crewcanvas/pkg/clock"
	apperrors "crewcanvas/pkg/errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Execution types accepted by the backend
const (
	TypeCrew = "crew"
	TypeFlow = "flow"
)

// ErrJobAlreadyRunning is returned when the backend refuses a job because
// another one is in flight
var ErrJobAlreadyRunning = &apperrors.AppError{
	Type:       apperrors.ErrorTypeConflict,
	Message:    "another job is running",
	HTTPStatus: http.StatusConflict,
}

// Options are the run settings chosen in the designer
type Options struct {
	Planning        bool           `json:"planning"`
	Model           string         `json:"model,omitempty"`
	Type            string         `json:"type,omitempty" validate:"omitempty,oneof=crew flow"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	SchemaDetection bool           `json:"schemaDetection"`
	Reasoning       bool           `json:"reasoning"`
	// RequiredKeys are API keys the run needs; missing ones open the editor
	RequiredKeys []string `json:"requiredKeys,omitempty" validate:"dive,required"`
}

// Result identifies a started job
type Result struct {
	JobID       string             `json:"jobId"`
	ExecutionID string             `json:"executionId,omitempty"`
	TabID       valueobjects.TabID `json:"tabId"`
}

// JobTracker is told about every started job
type JobTracker interface {
	Begin(tabID valueobjects.TabID, jobID string) bool
}

// Service runs tab graphs on the backend
type Service struct {
	store     *tabs.Store
	mirror    *Mirror
	jobs      ports.JobService
	tracker   JobTracker
	keys      *secrets.Store
	publisher ports.EventPublisher
	validate  *validator.Validate
	clock     clock.Clock
	logger    *zap.Logger
}

// NewService creates the execution service. keys may be nil, which skips
// API key checks.
func NewService(
	store *tabs.Store,
	mirror *Mirror,
	jobs ports.JobService,
	tracker JobTracker,
	keys *secrets.Store,
	publisher ports.EventPublisher,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		mirror:    mirror,
		jobs:      jobs,
		tracker:   tracker,
		keys:      keys,
		publisher: publisher,
		validate:  validator.New(),
		clock:     clk,
		logger:    logger,
	}
}

// RunTab executes the graph of one tab
func (s *Service) RunTab(ctx context.Context, tabID valueobjects.TabID, opts Options) (*Result, error) {
	tab := s.store.Tab(tabID)
	if tab == nil {
		return nil, apperrors.NewNotFoundError("tab " + tabID.String())
	}
	return s.run(ctx, tab, tab.Graph(), opts)
}

// RunActive executes the active tab from the execution mirror. This is the
// path used by the chat panel.
func (s *Service) RunActive(ctx context.Context, opts Options) (*Result, error) {
	tabID := s.mirror.TabID()
	if tabID.IsZero() {
		return nil, apperrors.NewValidationError("no active tab")
	}
	tab := s.store.Tab(tabID)
	if tab == nil {
		return nil, apperrors.NewNotFoundError("tab " + tabID.String())
	}
	return s.run(ctx, tab, s.mirror.Graph(), opts)
}

// run refuses a tab that is already running before any backend call.
func (s *Service) run(ctx context.Context, tab *aggregates.Tab, g graph.Graph, opts Options) (*Result, error) {
	tabID := tab.ID
	if tab.ExecutionStatus == valueobjects.ExecutionRunning {
		return nil, ErrJobAlreadyRunning
	}
	if err := s.validate.Struct(opts); err != nil {
		return nil, apperrors.NewValidationError("invalid run options").WithCause(err)
	}
	if len(g.Nodes) == 0 {
		return nil, apperrors.NewValidationError("the workflow has no nodes to run")
	}
	if opts.Type == "" {
		opts.Type = TypeCrew
	}
	if err := s.checkKeys(ctx, opts.RequiredKeys); err != nil {
		return nil, err
	}

	edges := graph.DeduplicateEdges(graph.PruneOrphanedEdges(g.Nodes, g.Edges))
	resp, err := s.jobs.ExecuteJob(ctx, ports.JobRequest{
		Nodes:                  g.Nodes,
		Edges:                  edges,
		PlanningEnabled:        opts.Planning,
		Model:                  opts.Model,
		ExecutionType:          opts.Type,
		AdditionalInputs:       opts.Inputs,
		SchemaDetectionEnabled: opts.SchemaDetection,
		ReasoningEnabled:       opts.Reasoning,
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			s.logger.Info("Backend refused job: another job is running", zap.String("tab_id", tabID.String()))
			return nil, ErrJobAlreadyRunning
		}
		return nil, apperrors.Wrap(err, "execute job")
	}

	s.tracker.Begin(tabID, resp.JobID)
	event := events.NewJobCreated(resp.JobID, resp.ExecutionID, tab.Name, string(valueobjects.ExecutionRunning), tabID, s.clock.Now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish job created", zap.String("job_id", resp.JobID), zap.Error(err))
	}

	s.logger.Info("Job started",
		zap.String("job_id", resp.JobID),
		zap.String("tab_id", tabID.String()),
		zap.String("type", opts.Type),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(edges)),
	)
	return &Result{JobID: resp.JobID, ExecutionID: resp.ExecutionID, TabID: tabID}, nil
}

func (s *Service) checkKeys(ctx context.Context, required []string) error {
	if s.keys == nil || len(required) == 0 {
		return nil
	}
	missing, err := s.keys.MissingKeys(ctx, required)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	s.keys.RequestEditor(ctx, missing[0])
	return apperrors.NewValidationError("missing API keys").WithDetail("missing", missing)
}
