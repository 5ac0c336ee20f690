// Package crews saves tabs as backend crews, updates saved crews and imports
// saved crews into tabs.
package crews

import (
	"context"
	"net/http"
	"strings"

	"crewcanvas/application/cloner"
	"crewcanvas/application/ports"
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

// ImportReason is the layout reason published after an import
const ImportReason = "crew-import"

// ErrSaveDialogRequired means no saved crew could be matched to the tab and
// the user has to pick a name
var ErrSaveDialogRequired = &apperrors.AppError{
	Type:       apperrors.ErrorTypeNotFound,
	Message:    "no saved crew matches this tab",
	Code:       "SAVE_DIALOG_REQUIRED",
	HTTPStatus: http.StatusNotFound,
}

// GraphCloner materializes fresh backend entities for an imported graph
type GraphCloner interface {
	Clone(ctx context.Context, source graph.Graph) (graph.Graph, *cloner.Report, error)
}

// ImportResult describes a finished import
type ImportResult struct {
	TabID  valueobjects.TabID `json:"tabId"`
	CrewID string             `json:"crewId"`
	Graph  graph.Graph        `json:"graph"`
	Report *cloner.Report     `json:"report"`
}

// Service runs the crew workflows against the tab store
type Service struct {
	store     *tabs.Store
	crews     ports.CrewService
	cloner    GraphCloner
	publisher ports.EventPublisher
	validate  *validator.Validate
	clock     clock.Clock
	logger    *zap.Logger
}

// NewService creates the crew workflow service
func NewService(store *tabs.Store, crews ports.CrewService, graphCloner GraphCloner, publisher ports.EventPublisher, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		crews:     crews,
		cloner:    graphCloner,
		publisher: publisher,
		validate:  validator.New(),
		clock:     clk,
		logger:    logger,
	}
}

// SaveTab saves the tab's graph as a new crew named name
func (s *Service) SaveTab(ctx context.Context, tabID valueobjects.TabID, name string) (ports.CrewSummary, error) {
	tab := s.store.Tab(tabID)
	if tab == nil {
		return ports.CrewSummary{}, apperrors.NewNotFoundError("tab " + tabID.String())
	}
	req, err := s.request(tab, strings.TrimSpace(name))
	if err != nil {
		return ports.CrewSummary{}, err
	}

	saved, err := s.crews.SaveCrew(ctx, req)
	if err != nil {
		return ports.CrewSummary{}, apperrors.Wrapf(err, "save crew %q", req.Name)
	}

	s.store.UpdateTabCrewInfo(tabID, saved.ID.String(), saved.Name)
	s.store.MarkTabClean(tabID)
	s.publish(ctx, events.NewSaveCrewComplete(saved.ID.String(), saved.Name, tabID, s.clock.Now()))

	s.logger.Info("Crew saved",
		zap.String("crew_id", saved.ID.String()),
		zap.String("name", saved.Name),
		zap.String("tab_id", tabID.String()),
		zap.Int("agents", len(req.AgentIDs)),
		zap.Int("tasks", len(req.TaskIDs)),
	)
	return saved, nil
}

// UpdateTab writes the tab's graph over the crew it was saved as. The crew
// is found by saved id, then by a crew id recorded in node data for legacy
// tabs, then by name. ErrSaveDialogRequired is returned when none match.
func (s *Service) UpdateTab(ctx context.Context, tabID valueobjects.TabID) (ports.CrewSummary, error) {
	tab := s.store.Tab(tabID)
	if tab == nil {
		return ports.CrewSummary{}, apperrors.NewNotFoundError("tab " + tabID.String())
	}
	name := tab.SavedCrewName
	if name == "" {
		name = tab.Name
	}
	req, err := s.request(tab, name)
	if err != nil {
		return ports.CrewSummary{}, err
	}

	tried := ""
	if crewID := knownCrewID(tab); crewID != "" {
		updated, err := s.crews.UpdateCrew(ctx, crewID, req)
		switch {
		case err == nil:
			return s.updated(ctx, tabID, updated), nil
		case apperrors.IsNotFound(err):
			s.logger.Warn("Saved crew no longer exists, trying lookup by name",
				zap.String("crew_id", crewID),
				zap.String("tab_id", tabID.String()),
			)
			tried = crewID
		default:
			return ports.CrewSummary{}, apperrors.Wrapf(err, "update crew %s", crewID)
		}
	}

	crewID, err := s.findByName(ctx, name, tried)
	if err != nil {
		return ports.CrewSummary{}, err
	}
	if crewID == "" {
		s.logger.Info("No crew matches tab, save dialog required",
			zap.String("tab_id", tabID.String()),
			zap.String("name", name),
		)
		return ports.CrewSummary{}, ErrSaveDialogRequired
	}

	updated, err := s.crews.UpdateCrew(ctx, crewID, req)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return ports.CrewSummary{}, ErrSaveDialogRequired
		}
		return ports.CrewSummary{}, apperrors.Wrapf(err, "update crew %s", crewID)
	}
	return s.updated(ctx, tabID, updated), nil
}

func (s *Service) updated(ctx context.Context, tabID valueobjects.TabID, crew ports.CrewSummary) ports.CrewSummary {
	s.store.UpdateTabCrewInfo(tabID, crew.ID.String(), crew.Name)
	s.store.MarkTabClean(tabID)
	s.publish(ctx, events.NewUpdateCrewComplete(crew.ID.String(), crew.Name, tabID, s.clock.Now()))
	s.logger.Info("Crew updated",
		zap.String("crew_id", crew.ID.String()),
		zap.String("tab_id", tabID.String()),
	)
	return crew
}

// knownCrewID returns the crew id a tab is linked to. Legacy tabs carry the
// sentinel and keep the real id on a crew node.
func knownCrewID(tab *aggregates.Tab) string {
	if tab.SavedCrewID != aggregates.LegacyLoadedCrewID {
		return tab.SavedCrewID
	}
	for _, n := range tab.Nodes {
		if id := n.CrewID(); !id.IsZero() {
			return id.String()
		}
	}
	return ""
}

func (s *Service) findByName(ctx context.Context, name, exclude string) (string, error) {
	if name == "" {
		return "", nil
	}
	crews, err := s.crews.ListCrews(ctx)
	if err != nil {
		return "", apperrors.Wrap(err, "list crews")
	}
	for _, c := range crews {
		if c.Name == name && c.ID.String() != exclude {
			return c.ID.String(), nil
		}
	}
	return "", nil
}

func (s *Service) request(tab *aggregates.Tab, name string) (ports.CrewRequest, error) {
	if name == "" {
		return ports.CrewRequest{}, apperrors.NewValidationError("crew name is required")
	}
	if len(tab.Nodes) == 0 {
		return ports.CrewRequest{}, apperrors.NewValidationError("add at least one agent or task before saving")
	}
	agentIDs, taskIDs := graph.EntityIDs(tab.Nodes)
	req := ports.CrewRequest{
		Name:     name,
		AgentIDs: agentIDs,
		TaskIDs:  taskIDs,
		Nodes:    tab.Nodes,
		Edges:    graph.DeduplicateEdges(tab.Edges),
	}
	if err := s.validate.Struct(req); err != nil {
		return ports.CrewRequest{}, apperrors.NewValidationError("invalid crew").WithCause(err)
	}
	return req, nil
}

// ImportCrew loads a saved crew, clones its agents and tasks into fresh
// backend records and places the copy in the tab. The tab stays unlinked
// from the source crew.
func (s *Service) ImportCrew(ctx context.Context, tabID valueobjects.TabID, crewID string) (*ImportResult, error) {
	if s.store.Tab(tabID) == nil {
		return nil, apperrors.NewNotFoundError("tab " + tabID.String())
	}
	crewID = strings.TrimSpace(crewID)
	if crewID == "" {
		return nil, apperrors.NewValidationError("crew id is required")
	}

	crew, err := s.crews.GetCrew(ctx, crewID)
	if err != nil {
		return nil, apperrors.Wrapf(err, "load crew %s", crewID)
	}
	if crew == nil {
		return nil, apperrors.NewNotFoundError("crew " + crewID)
	}

	cloned, report, err := s.cloner.Clone(ctx, graph.New(crew.Nodes, crew.Edges))
	if err != nil {
		return nil, err
	}

	if !s.store.LoadTabGraph(tabID, cloned.Nodes, cloned.Edges) {
		return nil, apperrors.NewNotFoundError("tab " + tabID.String())
	}
	s.store.UpdateTabCrewInfo(tabID, "", "")
	s.publish(ctx, events.NewRecalculateNodePositions(ImportReason, tabID, s.clock.Now()))

	s.logger.Info("Crew imported",
		zap.String("crew_id", crewID),
		zap.String("tab_id", tabID.String()),
		zap.Int("agents_created", report.AgentsCreated),
		zap.Int("tasks_created", report.TasksCreated),
	)
	return &ImportResult{TabID: tabID, CrewID: crewID, Graph: cloned, Report: report}, nil
}

func (s *Service) publish(ctx context.Context, event events.DomainEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish crew event",
			zap.String("kind", string(event.GetKind())),
			zap.Error(err),
		)
	}
}
