package handlers

import (
	"net/http"

	"crewcanvas/application/ports"
	"crewcanvas/application/tabs"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/domain/events"
	"crewcanvas/domain/layout"
	"crewcanvas/pkg/clock"
	"crewcanvas/pkg/common"
	apperrors "crewcanvas/pkg/errors"

	"go.uber.org/zap"
)

// ArrangeReason tags layout requests made through the API
const ArrangeReason = "arrange"

// LayoutHandler positions canvas nodes
type LayoutHandler struct {
	store     *tabs.Store
	publisher ports.EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// NewLayoutHandler creates a new layout handler
func NewLayoutHandler(store *tabs.Store, publisher ports.EventPublisher, clk clock.Clock, logger *zap.Logger) *LayoutHandler {
	return &LayoutHandler{
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// LayoutOptions overrides the default spacing. Zero fields keep the default.
type LayoutOptions struct {
	Padding           float64 `json:"padding,omitempty" validate:"gte=0"`
	HorizontalSpacing float64 `json:"horizontalSpacing,omitempty" validate:"gte=0"`
	VerticalSpacing   float64 `json:"verticalSpacing,omitempty" validate:"gte=0"`
}

// ArrangeRequest is the body of POST /layout/arrange. With a tab id the
// tab's nodes are arranged and stored; otherwise the given nodes are
// arranged and returned.
type ArrangeRequest struct {
	Geometry layout.Geometry `json:"geometry"`
	Options  *LayoutOptions  `json:"options,omitempty"`
	TabID    string          `json:"tabId,omitempty" validate:"omitempty,uuid"`
	Nodes    []entities.Node `json:"nodes,omitempty"`
}

// ArrangeResponse carries the positioned nodes
type ArrangeResponse struct {
	TabID valueobjects.TabID `json:"tabId,omitempty"`
	Area  layout.Rect        `json:"area"`
	Nodes []entities.Node    `json:"nodes"`
}

// Arrange handles POST /layout/arrange
func (h *LayoutHandler) Arrange(w http.ResponseWriter, r *http.Request) {
	var req ArrangeRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}
	opts := options(req.Options)

	if req.TabID == "" {
		common.RespondJSON(w, http.StatusOK, ArrangeResponse{
			Area:  layout.AvailableArea(req.Geometry),
			Nodes: arrange(req.Nodes, req.Geometry, opts),
		})
		return
	}

	id, err := valueobjects.TabIDFromString(req.TabID)
	if err != nil {
		common.RespondAppError(w, apperrors.NewValidationError("invalid tab id").WithCause(err))
		return
	}
	tab := h.store.Tab(id)
	if tab == nil {
		common.RespondAppError(w, tabNotFound(id))
		return
	}

	nodes := arrange(tab.Nodes, req.Geometry, opts)
	if !h.store.UpdateTabNodes(id, nodes) {
		common.RespondAppError(w, tabNotFound(id))
		return
	}
	if h.publisher != nil {
		event := events.NewRecalculateNodePositions(ArrangeReason, id, h.clock.Now())
		if err := h.publisher.Publish(r.Context(), event); err != nil {
			h.logger.Warn("Failed to publish layout event", zap.String("tab_id", id.String()), zap.Error(err))
		}
	}

	common.RespondJSON(w, http.StatusOK, ArrangeResponse{
		TabID: id,
		Area:  layout.AvailableArea(req.Geometry),
		Nodes: nodes,
	})
}

func options(o *LayoutOptions) layout.Options {
	opts := layout.DefaultOptions()
	if o == nil {
		return opts
	}
	if o.Padding > 0 {
		opts.Padding = o.Padding
	}
	if o.HorizontalSpacing > 0 {
		opts.HorizontalSpacing = o.HorizontalSpacing
	}
	if o.VerticalSpacing > 0 {
		opts.VerticalSpacing = o.VerticalSpacing
	}
	return opts
}

func arrange(nodes []entities.Node, g layout.Geometry, opts layout.Options) []entities.Node {
	if nodes == nil {
		nodes = []entities.Node{}
	}
	return layout.ResolveOverlaps(layout.Arrange(nodes, g, opts), opts.VerticalSpacing)
}
