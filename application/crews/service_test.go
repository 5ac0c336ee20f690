package crews

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewcanvas/application/cloner"
	"crewcanvas/application/ports"
	"crewcanvas/application/ports/mocks"
	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/domain/events"
	"crewcanvas/pkg/clock"
	apperrors "crewcanvas/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store     *tabs.Store
	backend   *mocks.MockBackend
	publisher *mocks.RecordingPublisher
	service   *Service
}

func newFixture() *fixture {
	clk := clock.NewFake(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	store := tabs.NewStore(clk, zap.NewNop())
	backend := new(mocks.MockBackend)
	publisher := &mocks.RecordingPublisher{}
	cl := cloner.NewCloner(backend, backend, cloner.Config{}, zap.NewNop())
	return &fixture{
		store:     store,
		backend:   backend,
		publisher: publisher,
		service:   NewService(store, backend, cl, publisher, clk, zap.NewNop()),
	}
}

func designNodes() []entities.Node {
	return []entities.Node{
		{ID: "agent-1", Type: entities.NodeTypeAgent, Data: map[string]any{"agentId": "1", "name": "Researcher"}},
		{ID: "task-2", Type: entities.NodeTypeTask, Data: map[string]any{"taskId": "2", "name": "Summarise", "agent_id": "1"}},
	}
}

func designEdges() []entities.Edge {
	return []entities.Edge{
		{ID: "agent-1-task-2", Source: "agent-1", Target: "task-2"},
		{ID: "agent-1-task-2", Source: "agent-1", Target: "task-2"},
	}
}

func (f *fixture) dirtyTab(name string) *aggregates.Tab {
	tab := f.store.CreateTab(name)
	f.store.UpdateTabGraph(tab.ID, designNodes(), designEdges())
	return f.store.Tab(tab.ID)
}

func TestSaveTab_SavesDedupedGraph(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.dirtyTab("Research")
	f.backend.On("SaveCrew", mock.Anything, mock.MatchedBy(func(req ports.CrewRequest) bool {
		return req.Name == "Research crew" &&
			len(req.Edges) == 1 &&
			assert.ObjectsAreEqual([]string{"1"}, req.AgentIDs) &&
			assert.ObjectsAreEqual([]string{"2"}, req.TaskIDs)
	})).Return(ports.CrewSummary{ID: "42", Name: "Research crew"}, nil).Once()

	// Act
	saved, err := f.service.SaveTab(context.Background(), tab.ID, "  Research crew ")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, entities.EntityID("42"), saved.ID)
	got := f.store.Tab(tab.ID)
	assert.False(t, got.IsDirty)
	assert.Equal(t, "42", got.SavedCrewID)
	assert.Equal(t, "Research crew", got.SavedCrewName)
	assert.Equal(t, []events.Kind{events.KindSaveCrewComplete}, f.publisher.Kinds())
	f.backend.AssertExpectations(t)
}

func TestSaveTab_ValidationBeforeNetwork(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	empty := f.store.CreateTab("Empty")
	tab := f.dirtyTab("Full")

	_, err := f.service.SaveTab(ctx, tab.ID, "   ")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.service.SaveTab(ctx, empty.ID, "Crew")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.service.SaveTab(ctx, valueobjects.NewTabID(), "Crew")
	assert.True(t, apperrors.IsNotFound(err))

	f.backend.AssertNotCalled(t, "SaveCrew", mock.Anything, mock.Anything)
	assert.True(t, f.store.Tab(tab.ID).IsDirty)
}

func TestSaveTab_BackendFailureKeepsTabDirty(t *testing.T) {
	f := newFixture()
	tab := f.dirtyTab("")
	f.backend.On("SaveCrew", mock.Anything, mock.Anything).
		Return(ports.CrewSummary{}, apperrors.NewExternalError("backend returned 500", nil))

	_, err := f.service.SaveTab(context.Background(), tab.ID, "Crew")

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	assert.True(t, f.store.Tab(tab.ID).IsDirty)
	assert.Empty(t, f.publisher.Events())
}

func TestUpdateTab_UsesSavedCrewID(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.dirtyTab("")
	f.store.UpdateTabCrewInfo(tab.ID, "7", "Writers")
	f.backend.On("UpdateCrew", mock.Anything, "7", mock.MatchedBy(func(req ports.CrewRequest) bool {
		return req.Name == "Writers"
	})).Return(ports.CrewSummary{ID: "7", Name: "Writers"}, nil).Once()

	// Act
	updated, err := f.service.UpdateTab(context.Background(), tab.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Writers", updated.Name)
	assert.False(t, f.store.Tab(tab.ID).IsDirty)
	assert.Equal(t, []events.Kind{events.KindUpdateCrewComplete}, f.publisher.Kinds())
	f.backend.AssertNotCalled(t, "ListCrews", mock.Anything)
}

func TestUpdateTab_LegacySentinelRecoversIDFromNodes(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("Old")
	nodes := append(designNodes(), entities.Node{
		ID:   "crew-1",
		Type: entities.NodeTypeCrew,
		Data: map[string]any{"crewId": float64(15)},
	})
	f.store.UpdateTabGraph(tab.ID, nodes, nil)
	f.store.UpdateTabCrewInfo(tab.ID, aggregates.LegacyLoadedCrewID, "Old crew")
	f.backend.On("UpdateCrew", mock.Anything, "15", mock.Anything).
		Return(ports.CrewSummary{ID: "15", Name: "Old crew"}, nil)

	_, err := f.service.UpdateTab(context.Background(), tab.ID)

	require.NoError(t, err)
	assert.Equal(t, "15", f.store.Tab(tab.ID).SavedCrewID)
}

func TestUpdateTab_LegacySentinelFallsBackToName(t *testing.T) {
	f := newFixture()
	tab := f.dirtyTab("Old")
	f.store.UpdateTabCrewInfo(tab.ID, aggregates.LegacyLoadedCrewID, "Old crew")
	f.backend.On("ListCrews", mock.Anything).Return([]ports.CrewSummary{
		{ID: "3", Name: "Other"},
		{ID: "9", Name: "Old crew"},
	}, nil)
	f.backend.On("UpdateCrew", mock.Anything, "9", mock.Anything).
		Return(ports.CrewSummary{ID: "9", Name: "Old crew"}, nil)

	_, err := f.service.UpdateTab(context.Background(), tab.ID)

	require.NoError(t, err)
	assert.Equal(t, "9", f.store.Tab(tab.ID).SavedCrewID)
}

func TestUpdateTab_StaleIDFallsBackToName(t *testing.T) {
	f := newFixture()
	tab := f.dirtyTab("")
	f.store.UpdateTabCrewInfo(tab.ID, "5", "Writers")
	f.backend.On("UpdateCrew", mock.Anything, "5", mock.Anything).
		Return(ports.CrewSummary{}, apperrors.NewNotFoundError("crew 5"))
	f.backend.On("ListCrews", mock.Anything).Return([]ports.CrewSummary{
		{ID: "5", Name: "Writers"},
		{ID: "11", Name: "Writers"},
	}, nil)
	f.backend.On("UpdateCrew", mock.Anything, "11", mock.Anything).
		Return(ports.CrewSummary{ID: "11", Name: "Writers"}, nil)

	updated, err := f.service.UpdateTab(context.Background(), tab.ID)

	require.NoError(t, err)
	assert.Equal(t, entities.EntityID("11"), updated.ID)
}

func TestUpdateTab_NoMatchRequiresSaveDialog(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.dirtyTab("Never saved")
	f.backend.On("ListCrews", mock.Anything).Return([]ports.CrewSummary{{ID: "1", Name: "Else"}}, nil)

	// Act
	_, err := f.service.UpdateTab(context.Background(), tab.ID)

	// Assert
	assert.ErrorIs(t, err, ErrSaveDialogRequired)
	assert.True(t, f.store.Tab(tab.ID).IsDirty)
	assert.Empty(t, f.publisher.Events())
	f.backend.AssertNotCalled(t, "UpdateCrew", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateTab_OtherErrorsPropagate(t *testing.T) {
	f := newFixture()
	tab := f.dirtyTab("")
	f.store.UpdateTabCrewInfo(tab.ID, "5", "Writers")
	f.backend.On("UpdateCrew", mock.Anything, "5", mock.Anything).
		Return(ports.CrewSummary{}, errors.New("connection reset"))

	_, err := f.service.UpdateTab(context.Background(), tab.ID)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSaveDialogRequired)
	f.backend.AssertNotCalled(t, "ListCrews", mock.Anything)
}

func TestImportCrew_ClonesIntoCleanUnlinkedTab(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.dirtyTab("Target")
	f.store.UpdateTabCrewInfo(tab.ID, "99", "Previous")
	f.backend.On("GetCrew", mock.Anything, "42").Return(&ports.Crew{
		ID:    "42",
		Name:  "Saved",
		Nodes: designNodes(),
		Edges: designEdges()[:1],
	}, nil)
	f.backend.On("CreateAgent", mock.Anything, mock.Anything).
		Return(entities.Agent{ID: "101", Name: "Researcher"}, nil).Once()
	f.backend.On("CreateTask", mock.Anything, mock.MatchedBy(func(task entities.Task) bool {
		return task.AgentID == "101"
	})).Return(entities.Task{ID: "201", Name: "Summarise", AgentID: "101"}, nil).Once()

	// Act
	res, err := f.service.ImportCrew(context.Background(), tab.ID, "42")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.AgentsCreated)
	assert.Equal(t, 1, res.Report.TasksCreated)
	got := f.store.Tab(tab.ID)
	assert.False(t, got.IsDirty)
	assert.Empty(t, got.SavedCrewID)
	assert.Empty(t, got.SavedCrewName)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, "agent-101", got.Edges[0].Source)
	assert.Equal(t, "task-201", got.Edges[0].Target)
	assert.Contains(t, f.publisher.Kinds(), events.KindRecalculateNodePositions)
	f.backend.AssertExpectations(t)
}

func TestImportCrew_FailureLeavesTabUntouched(t *testing.T) {
	f := newFixture()
	tab := f.dirtyTab("Target")
	f.backend.On("GetCrew", mock.Anything, "42").Return(&ports.Crew{ID: "42", Nodes: designNodes()}, nil)
	f.backend.On("CreateAgent", mock.Anything, mock.Anything).
		Return(entities.Agent{}, errors.New("status 500"))

	_, err := f.service.ImportCrew(context.Background(), tab.ID, "42")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Researcher")
	got := f.store.Tab(tab.ID)
	assert.Equal(t, "agent-1", got.Nodes[0].ID)
	assert.True(t, got.IsDirty)
	f.backend.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
	assert.Empty(t, f.publisher.Events())
}

func TestImportCrew_MissingCrew(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("")
	f.backend.On("GetCrew", mock.Anything, "404").Return(nil, apperrors.NewNotFoundError("crew 404"))

	_, err := f.service.ImportCrew(context.Background(), tab.ID, "404")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.service.ImportCrew(context.Background(), tab.ID, " ")
	assert.True(t, apperrors.IsValidation(err))
}
