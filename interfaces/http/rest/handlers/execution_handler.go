package handlers

import (
	"net/http"

	"crewcanvas/application/execution"
	"crewcanvas/application/tracker"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/pkg/common"

	"go.uber.org/zap"
)

// ExecutionHandler starts runs from the chat panel and receives job
// signals from the backend channel
type ExecutionHandler struct {
	execution *execution.Service
	tracker   *tracker.Tracker
	logger    *zap.Logger
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executionService *execution.Service, jobTracker *tracker.Tracker, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		execution: executionService,
		tracker:   jobTracker,
		logger:    logger,
	}
}

// SignalResponse lists the tabs a job signal changed
type SignalResponse struct {
	Applied bool                 `json:"applied"`
	TabIDs  []valueobjects.TabID `json:"tabIds"`
}

// RunActive handles POST /executions/active
func (h *ExecutionHandler) RunActive(w http.ResponseWriter, r *http.Request) {
	var opts execution.Options
	if err := decode(r, &opts, true); err != nil {
		common.RespondAppError(w, err)
		return
	}

	result, err := h.execution.RunActive(r.Context(), opts)
	if err != nil {
		h.logger.Warn("Run of active tab failed", zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusAccepted, result)
}

// Signal handles POST /executions/signal
func (h *ExecutionHandler) Signal(w http.ResponseWriter, r *http.Request) {
	var sig tracker.JobSignal
	if err := decode(r, &sig, false); err != nil {
		common.RespondAppError(w, err)
		return
	}

	changed := h.tracker.HandleSignal(sig)
	if changed == nil {
		changed = []valueobjects.TabID{}
	}
	common.RespondJSON(w, http.StatusOK, SignalResponse{
		Applied: len(changed) > 0,
		TabIDs:  changed,
	})
}
