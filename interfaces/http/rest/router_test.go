package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crewcanvas/application/cloner"
	"crewcanvas/application/crews"
	"crewcanvas/application/execution"
	"crewcanvas/application/ports"
	"crewcanvas/application/ports/mocks"
	"crewcanvas/application/secrets"
	"crewcanvas/application/tabs"
	"crewcanvas/application/tracker"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/domain/events"
	"crewcanvas/infrastructure/observability"
	"crewcanvas/pkg/clock"
	apperrors "crewcanvas/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type fixture struct {
	store     *tabs.Store
	backend   *mocks.MockBackend
	publisher *mocks.RecordingPublisher
	handler   http.Handler
}

func newFixture() *fixture {
	clk := clock.NewFake(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	store := tabs.NewStore(clk, logger)
	backend := new(mocks.MockBackend)
	publisher := &mocks.RecordingPublisher{}

	jobTracker := tracker.New(store, backend, publisher, tracker.Config{}, clk, logger)
	jobTracker.Watch()
	keys := secrets.NewStore(backend, publisher, time.Minute, clk, logger)
	crewService := crews.NewService(store, backend, cloner.NewCloner(backend, backend, cloner.Config{}, logger), publisher, clk, logger)
	executionService := execution.NewService(store, execution.NewMirror(store), backend, jobTracker, keys, publisher, clk, logger)

	router := NewRouter(Dependencies{
		Store:     store,
		Crews:     crewService,
		Execution: executionService,
		Tracker:   jobTracker,
		Secrets:   keys,
		Publisher: publisher,
		Metrics:   observability.NewCollector("crewcanvas"),
		Clock:     clk,
		CORS:      CORSConfig{Enabled: true},
	}, logger)

	return &fixture{
		store:     store,
		backend:   backend,
		publisher: publisher,
		handler:   router.Setup(),
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) tabWithGraph(name string) *aggregates.Tab {
	tab := f.store.CreateTab(name)
	f.store.UpdateTabGraph(tab.ID, []entities.Node{
		{ID: "agent-1", Type: entities.NodeTypeAgent, Data: map[string]any{"agentId": "1", "name": "Researcher"}},
		{ID: "task-2", Type: entities.NodeTypeTask, Data: map[string]any{"taskId": "2", "name": "Summarise"}},
	}, []entities.Edge{
		{ID: entities.EdgeID("agent-1", "task-2"), Source: "agent-1", Target: "task-2"},
	})
	return f.store.Tab(tab.ID)
}

func readEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func readData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := readEnvelope(t, rec)
	require.True(t, env.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := readEnvelope(t, rec)
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}

func tabPath(id valueobjects.TabID, suffix string) string {
	return "/api/v1/tabs/" + id.String() + suffix
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture()

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/ready", "").Code)

	f.store.EnsureTab()
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ready", "").Code)
}

func TestMetricsEndpoint_ExposesRequestCounts(t *testing.T) {
	f := newFixture()
	f.do(http.MethodGet, "/health", "")

	rec := f.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crewcanvas_http_requests_total")
}

func TestCreateAndListTabs(t *testing.T) {
	// Arrange
	f := newFixture()

	// Act
	first := f.do(http.MethodPost, "/api/v1/tabs", "")
	second := f.do(http.MethodPost, "/api/v1/tabs", `{"name":"  Research  "}`)
	list := f.do(http.MethodGet, "/api/v1/tabs", "")

	// Assert
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	var created aggregates.Tab
	readData(t, second, &created)
	assert.Equal(t, "Research", created.Name)

	var body struct {
		Tabs        []aggregates.Tab `json:"tabs"`
		ActiveTabID string           `json:"activeTabId"`
	}
	readData(t, list, &body)
	require.Len(t, body.Tabs, 2)
	assert.Equal(t, aggregates.DefaultTabName, body.Tabs[0].Name)
	assert.Equal(t, created.ID.String(), body.ActiveTabID)
}

func TestGetTab_Errors(t *testing.T) {
	f := newFixture()

	missing := f.do(http.MethodGet, tabPath(valueobjects.NewTabID(), ""), "")
	invalid := f.do(http.MethodGet, "/api/v1/tabs/not-a-uuid", "")

	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, missing))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, invalid))
}

func TestRenameTab(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("Old")

	blank := f.do(http.MethodPatch, tabPath(tab.ID, ""), `{"name":"   "}`)
	unknownField := f.do(http.MethodPatch, tabPath(tab.ID, ""), `{"title":"x"}`)
	ok := f.do(http.MethodPatch, tabPath(tab.ID, ""), `{"name":"New"}`)

	assert.Equal(t, http.StatusBadRequest, blank.Code)
	assert.Equal(t, http.StatusBadRequest, unknownField.Code)
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "New", f.store.Tab(tab.ID).Name)
	assert.False(t, f.store.Tab(tab.ID).IsDirty)
}

func TestUpdateGraph_MarksDirtyAndCleanResets(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.store.CreateTab("Canvas")
	body := `{"nodes":[{"id":"agent-1","type":"agentNode","position":{"x":1,"y":2}}],"edges":[]}`

	// Act
	put := f.do(http.MethodPut, tabPath(tab.ID, "/graph"), body)

	// Assert
	require.Equal(t, http.StatusOK, put.Code)
	stored := f.store.Tab(tab.ID)
	assert.True(t, stored.IsDirty)
	require.Len(t, stored.Nodes, 1)
	assert.Equal(t, valueobjects.Position{X: 1, Y: 2}, stored.Nodes[0].Position)

	clean := f.do(http.MethodPost, tabPath(tab.ID, "/clean"), "")
	require.Equal(t, http.StatusOK, clean.Code)
	assert.False(t, f.store.Tab(tab.ID).IsDirty)
}

func TestDuplicateActivateAndClose(t *testing.T) {
	f := newFixture()
	src := f.tabWithGraph("Source")

	dup := f.do(http.MethodPost, tabPath(src.ID, "/duplicate"), "")
	require.Equal(t, http.StatusCreated, dup.Code)
	var copied aggregates.Tab
	readData(t, dup, &copied)
	assert.Equal(t, "Source (copy)", copied.Name)
	assert.Len(t, copied.Nodes, 2)
	assert.Equal(t, copied.ID, f.store.ActiveTabID())

	activate := f.do(http.MethodPost, tabPath(src.ID, "/activate"), "")
	require.Equal(t, http.StatusOK, activate.Code)
	assert.Equal(t, src.ID, f.store.ActiveTabID())

	closed := f.do(http.MethodDelete, tabPath(copied.ID, ""), "")
	assert.Equal(t, http.StatusNoContent, closed.Code)
	assert.Nil(t, f.store.Tab(copied.ID))
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, tabPath(copied.ID, ""), "").Code)
}

func TestClearTabs_LeavesDefaultTab(t *testing.T) {
	f := newFixture()
	f.store.CreateTab("One")
	f.store.CreateTab("Two")

	rec := f.do(http.MethodDelete, "/api/v1/tabs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.store.Len())
	assert.Equal(t, aggregates.DefaultTabName, f.store.ActiveTab().Name)
}

func TestStatus_FollowsStateMachine(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.store.CreateTab("Status")

	// Act
	skip := f.do(http.MethodPut, tabPath(tab.ID, "/status"), `{"status":"completed"}`)
	bogus := f.do(http.MethodPut, tabPath(tab.ID, "/status"), `{"status":"paused"}`)
	run := f.do(http.MethodPut, tabPath(tab.ID, "/status"), `{"status":"running"}`)
	again := f.do(http.MethodPut, tabPath(tab.ID, "/status"), `{"status":"running"}`)
	cleared := f.do(http.MethodDelete, tabPath(tab.ID, "/status"), "")

	// Assert
	assert.Equal(t, http.StatusConflict, skip.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, skip))
	assert.Equal(t, http.StatusBadRequest, bogus.Code)
	assert.Equal(t, http.StatusOK, run.Code)
	assert.Equal(t, http.StatusOK, again.Code)
	require.Equal(t, http.StatusOK, cleared.Code)
	assert.Equal(t, valueobjects.ExecutionIdle, f.store.Tab(tab.ID).ExecutionStatus)
}

func TestRunTab_ThenSignalCompletesTab(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.tabWithGraph("Runner")
	f.backend.On("ExecuteJob", mock.Anything, mock.MatchedBy(func(req ports.JobRequest) bool {
		return req.ExecutionType == execution.TypeCrew && req.PlanningEnabled && len(req.Nodes) == 2
	})).Return(ports.JobResponse{JobID: "job-1"}, nil).Once()

	// Act
	run := f.do(http.MethodPost, tabPath(tab.ID, "/run"), `{"planning":true}`)

	// Assert
	require.Equal(t, http.StatusAccepted, run.Code, run.Body.String())
	var result execution.Result
	readData(t, run, &result)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, valueobjects.ExecutionRunning, f.store.Tab(tab.ID).ExecutionStatus)
	assert.Contains(t, f.publisher.Kinds(), events.KindJobCreated)

	signal := f.do(http.MethodPost, "/api/v1/executions/signal", `{"jobId":"job-1","status":"completed"}`)
	require.Equal(t, http.StatusOK, signal.Code)
	var applied struct {
		Applied bool     `json:"applied"`
		TabIDs  []string `json:"tabIds"`
	}
	readData(t, signal, &applied)
	assert.True(t, applied.Applied)
	assert.Equal(t, []string{tab.ID.String()}, applied.TabIDs)
	assert.Equal(t, valueobjects.ExecutionCompleted, f.store.Tab(tab.ID).ExecutionStatus)
	f.backend.AssertExpectations(t)
}

func TestRunTab_BackendConflict(t *testing.T) {
	f := newFixture()
	tab := f.tabWithGraph("Busy")
	f.backend.On("ExecuteJob", mock.Anything, mock.Anything).
		Return(ports.JobResponse{}, apperrors.NewConflictError("job already running")).Once()

	rec := f.do(http.MethodPost, tabPath(tab.ID, "/run"), "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	env := readEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "another job is running", env.Error.Message)
	assert.Equal(t, valueobjects.ExecutionIdle, f.store.Tab(tab.ID).ExecutionStatus)
}

func TestRunTab_RejectsBadOptions(t *testing.T) {
	f := newFixture()
	tab := f.tabWithGraph("Options")

	rec := f.do(http.MethodPost, tabPath(tab.ID, "/run"), `{"type":"pipeline"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.backend.AssertNotCalled(t, "ExecuteJob", mock.Anything, mock.Anything)
}

func TestSignal_RejectsNonTerminalStatus(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/v1/executions/signal", `{"jobId":"job-1","status":"running"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunActive_NoTab(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/v1/executions/active", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveTab(t *testing.T) {
	// Arrange
	f := newFixture()
	tab := f.tabWithGraph("Research")
	f.backend.On("SaveCrew", mock.Anything, mock.MatchedBy(func(req ports.CrewRequest) bool {
		return req.Name == "Research crew"
	})).Return(ports.CrewSummary{ID: "42", Name: "Research crew"}, nil).Once()

	// Act
	missing := f.do(http.MethodPost, tabPath(tab.ID, "/save"), `{}`)
	saved := f.do(http.MethodPost, tabPath(tab.ID, "/save"), `{"name":"Research crew"}`)

	// Assert
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	require.Equal(t, http.StatusCreated, saved.Code, saved.Body.String())
	stored := f.store.Tab(tab.ID)
	assert.Equal(t, "42", stored.SavedCrewID)
	assert.False(t, stored.IsDirty)
	f.backend.AssertNumberOfCalls(t, "SaveCrew", 1)
}

func TestUpdateTab_AsksForSaveDialog(t *testing.T) {
	f := newFixture()
	tab := f.tabWithGraph("Unsaved")
	f.backend.On("ListCrews", mock.Anything).Return([]ports.CrewSummary{{ID: "7", Name: "Other"}}, nil).Once()

	rec := f.do(http.MethodPost, tabPath(tab.ID, "/update"), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SAVE_DIALOG_REQUIRED", errorCode(t, rec))
	f.backend.AssertNotCalled(t, "UpdateCrew", mock.Anything, mock.Anything, mock.Anything)
}

func TestImportCrew_RequiresCrewID(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("Import")

	rec := f.do(http.MethodPost, tabPath(tab.ID, "/import"), `{"crewId":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.backend.AssertNotCalled(t, "GetCrew", mock.Anything, mock.Anything)
}

func TestImportCrew_UnknownCrew(t *testing.T) {
	f := newFixture()
	tab := f.store.CreateTab("Import")
	f.backend.On("GetCrew", mock.Anything, "99").Return(nil, apperrors.NewNotFoundError("crew 99")).Once()

	rec := f.do(http.MethodPost, tabPath(tab.ID, "/import"), `{"crewId":"99"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.store.Tab(tab.ID).Nodes)
}

func TestSecrets_APIKeys(t *testing.T) {
	// Arrange
	f := newFixture()
	f.backend.On("ListAPIKeys", mock.Anything).Return([]ports.APIKey{
		{Name: "OPENAI_API_KEY", HasValue: true},
		{Name: "ANTHROPIC_API_KEY"},
	}, nil)
	f.backend.On("SetAPIKey", mock.Anything, "ANTHROPIC_API_KEY", "sk-test", "").Return(nil).Once()

	// Act
	list := f.do(http.MethodGet, "/api/v1/secrets/api-keys", "")
	set := f.do(http.MethodPut, "/api/v1/secrets/api-keys/ANTHROPIC_API_KEY", `{"value":"sk-test"}`)
	empty := f.do(http.MethodPut, "/api/v1/secrets/api-keys/ANTHROPIC_API_KEY", `{"value":""}`)

	// Assert
	require.Equal(t, http.StatusOK, list.Code)
	var keys []ports.APIKey
	readData(t, list, &keys)
	require.Len(t, keys, 2)
	assert.Equal(t, "ANTHROPIC_API_KEY", keys[0].Name)
	assert.Equal(t, http.StatusNoContent, set.Code)
	assert.Equal(t, http.StatusBadRequest, empty.Code)
	f.backend.AssertNumberOfCalls(t, "SetAPIKey", 1)
}

func TestSecrets_BackendFailure(t *testing.T) {
	f := newFixture()
	f.backend.On("ListSecrets", mock.Anything).Return(nil, apperrors.NewNetworkError("dial", nil)).Once()

	rec := f.do(http.MethodGet, "/api/v1/secrets", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSecrets_Editor(t *testing.T) {
	f := newFixture()

	open := f.do(http.MethodPost, "/api/v1/secrets/editor", `{"keyName":"OPENAI_API_KEY"}`)
	get := f.do(http.MethodGet, "/api/v1/secrets/editor", "")
	closed := f.do(http.MethodDelete, "/api/v1/secrets/editor", "")

	require.Equal(t, http.StatusOK, open.Code)
	var state secrets.EditorState
	readData(t, get, &state)
	assert.Equal(t, secrets.EditorState{Open: true, KeyName: "OPENAI_API_KEY"}, state)
	require.Equal(t, http.StatusOK, closed.Code)
	assert.Equal(t, []events.Kind{events.KindAPIKeyEditorRequested, events.KindAPIKeyEditorClosed}, f.publisher.Kinds())
}

func TestArrange_StatelessNodes(t *testing.T) {
	// Arrange
	f := newFixture()
	body := `{
		"geometry":{"viewportWidth":1600,"viewportHeight":900,"chatPanelCollapsed":true,"executionHistoryCollapsed":true},
		"nodes":[
			{"id":"task-1","type":"taskNode","position":{"x":0,"y":0}},
			{"id":"agent-1","type":"agentNode","position":{"x":0,"y":0}}
		]
	}`

	// Act
	rec := f.do(http.MethodPost, "/api/v1/layout/arrange", body)

	// Assert
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Nodes []entities.Node `json:"nodes"`
	}
	readData(t, rec, &resp)
	require.Len(t, resp.Nodes, 2)
	assert.Equal(t, "task-1", resp.Nodes[0].ID)
	assert.Less(t, resp.Nodes[1].Position.X, resp.Nodes[0].Position.X, "agents are placed left of tasks")
	assert.Empty(t, f.publisher.Events())
}

func TestArrange_StoresTabNodes(t *testing.T) {
	f := newFixture()
	tab := f.tabWithGraph("Layout")
	f.store.MarkTabClean(tab.ID)
	body := `{"geometry":{"viewportWidth":1200,"viewportHeight":800},"options":{"padding":10},"tabId":"` + tab.ID.String() + `"}`

	rec := f.do(http.MethodPost, "/api/v1/layout/arrange", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := f.store.Tab(tab.ID)
	assert.True(t, stored.IsDirty)
	assert.NotEqual(t, stored.Nodes[0].Position, stored.Nodes[1].Position)
	require.Len(t, f.publisher.Events(), 1)
	event, ok := f.publisher.Events()[0].(events.RecalculateNodePositions)
	require.True(t, ok)
	assert.Equal(t, "arrange", event.Reason)
}

func TestArrange_UnknownTab(t *testing.T) {
	f := newFixture()
	body := `{"geometry":{},"tabId":"` + valueobjects.NewTabID().String() + `"}`

	rec := f.do(http.MethodPost, "/api/v1/layout/arrange", body)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tabs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()

	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch))
}
