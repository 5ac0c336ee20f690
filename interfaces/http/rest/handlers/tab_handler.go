package handlers

import (
	"net/http"
	"strings"

	"crewcanvas/application/crews"
	"crewcanvas/application/execution"
	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/pkg/common"
	apperrors "crewcanvas/pkg/errors"

	"go.uber.org/zap"
)

// TabHandler handles tab requests
type TabHandler struct {
	store     *tabs.Store
	crews     *crews.Service
	execution *execution.Service
	logger    *zap.Logger
}

// NewTabHandler creates a new tab handler
func NewTabHandler(
	store *tabs.Store,
	crewService *crews.Service,
	executionService *execution.Service,
	logger *zap.Logger,
) *TabHandler {
	return &TabHandler{
		store:     store,
		crews:     crewService,
		execution: executionService,
		logger:    logger,
	}
}

// CreateTabRequest is the body of POST /tabs. An empty name picks the
// default one.
type CreateTabRequest struct {
	Name string `json:"name,omitempty" validate:"omitempty,max=200"`
}

// RenameTabRequest is the body of PATCH /tabs/{tabID}
type RenameTabRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// UpdateGraphRequest replaces a tab's graph
type UpdateGraphRequest struct {
	Nodes []entities.Node `json:"nodes"`
	Edges []entities.Edge `json:"edges"`
}

// StatusRequest sets a tab's execution status
type StatusRequest struct {
	Status valueobjects.ExecutionStatus `json:"status" validate:"required,oneof=idle running completed failed"`
}

// SaveCrewRequest names the crew a tab is saved as
type SaveCrewRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// ImportCrewRequest names the crew loaded into a tab
type ImportCrewRequest struct {
	CrewID string `json:"crewId" validate:"required"`
}

// TabListResponse lists every tab in display order
type TabListResponse struct {
	Tabs        []*aggregates.Tab  `json:"tabs"`
	ActiveTabID valueobjects.TabID `json:"activeTabId"`
}

// ListTabs handles GET /tabs
func (h *TabHandler) ListTabs(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, TabListResponse{
		Tabs:        h.store.Tabs(),
		ActiveTabID: h.store.ActiveTabID(),
	})
}

// CreateTab handles POST /tabs
func (h *TabHandler) CreateTab(w http.ResponseWriter, r *http.Request) {
	var req CreateTabRequest
	if err := decode(r, &req, true); err != nil {
		common.RespondAppError(w, err)
		return
	}

	tab := h.store.CreateTab(strings.TrimSpace(req.Name))
	common.RespondJSON(w, http.StatusCreated, tab)
}

// ClearTabs handles DELETE /tabs
func (h *TabHandler) ClearTabs(w http.ResponseWriter, r *http.Request) {
	h.store.ClearAllTabs()
	tab := h.store.EnsureTab()
	common.RespondJSON(w, http.StatusOK, tab)
}

// GetTab handles GET /tabs/{tabID}
func (h *TabHandler) GetTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	tab := h.store.Tab(id)
	if tab == nil {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	common.RespondJSON(w, http.StatusOK, tab)
}

// CloseTab handles DELETE /tabs/{tabID}
func (h *TabHandler) CloseTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	if !h.store.CloseTab(id) {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameTab handles PATCH /tabs/{tabID}
func (h *TabHandler) RenameTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var req RenameTabRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		common.RespondAppError(w, apperrors.NewValidationError("name is required"))
		return
	}
	h.mutate(w, id, func() bool { return h.store.UpdateTabName(id, name) })
}

// ActivateTab handles POST /tabs/{tabID}/activate
func (h *TabHandler) ActivateTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	h.mutate(w, id, func() bool { return h.store.SetActiveTab(id) })
}

// DuplicateTab handles POST /tabs/{tabID}/duplicate
func (h *TabHandler) DuplicateTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	tab := h.store.DuplicateTab(id)
	if tab == nil {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	common.RespondJSON(w, http.StatusCreated, tab)
}

// UpdateGraph handles PUT /tabs/{tabID}/graph
func (h *TabHandler) UpdateGraph(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var req UpdateGraphRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}
	if req.Nodes == nil {
		req.Nodes = []entities.Node{}
	}
	if req.Edges == nil {
		req.Edges = []entities.Edge{}
	}
	h.mutate(w, id, func() bool { return h.store.UpdateTabGraph(id, req.Nodes, req.Edges) })
}

// MarkClean handles POST /tabs/{tabID}/clean
func (h *TabHandler) MarkClean(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	h.mutate(w, id, func() bool { return h.store.MarkTabClean(id) })
}

// SetStatus handles PUT /tabs/{tabID}/status. Transitions the execution
// state machine does not allow are conflicts.
func (h *TabHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var req StatusRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}
	tab := h.store.Tab(id)
	if tab == nil {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	if tab.ExecutionStatus != req.Status && !h.store.UpdateTabExecutionStatus(id, req.Status) {
		common.RespondAppError(w, apperrors.NewConflictError("cannot move tab from "+string(tab.ExecutionStatus)+" to "+string(req.Status)).
			WithDetail("from", tab.ExecutionStatus).
			WithDetail("to", req.Status))
		return
	}
	common.RespondJSON(w, http.StatusOK, h.store.Tab(id))
}

// ClearStatus handles DELETE /tabs/{tabID}/status
func (h *TabHandler) ClearStatus(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	tab := h.store.Tab(id)
	if tab == nil {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	h.store.ClearTabExecutionStatus(id)
	common.RespondJSON(w, http.StatusOK, h.store.Tab(id))
}

// RunTab handles POST /tabs/{tabID}/run
func (h *TabHandler) RunTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var opts execution.Options
	if err := decode(r, &opts, true); err != nil {
		common.RespondAppError(w, err)
		return
	}

	result, err := h.execution.RunTab(r.Context(), id, opts)
	if err != nil {
		h.logger.Warn("Run failed", zap.String("tab_id", id.String()), zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusAccepted, result)
}

// SaveTab handles POST /tabs/{tabID}/save
func (h *TabHandler) SaveTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var req SaveCrewRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}

	crew, err := h.crews.SaveTab(r.Context(), id, req.Name)
	if err != nil {
		h.logger.Warn("Save failed", zap.String("tab_id", id.String()), zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, crew)
}

// UpdateTab handles POST /tabs/{tabID}/update. A 404 with code
// SAVE_DIALOG_REQUIRED tells the client to ask for a name instead.
func (h *TabHandler) UpdateTab(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	crew, err := h.crews.UpdateTab(r.Context(), id)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, crew)
}

// ImportCrew handles POST /tabs/{tabID}/import
func (h *TabHandler) ImportCrew(w http.ResponseWriter, r *http.Request) {
	id, err := tabIDParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var req ImportCrewRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}

	result, err := h.crews.ImportCrew(r.Context(), id, req.CrewID)
	if err != nil {
		h.logger.Error("Import failed",
			zap.String("tab_id", id.String()),
			zap.String("crew_id", req.CrewID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

func (h *TabHandler) mutate(w http.ResponseWriter, id valueobjects.TabID, fn func() bool) {
	if !fn() {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	common.RespondJSON(w, http.StatusOK, h.store.Tab(id))
}
