package aggregates

import (
	"fmt"
	"time"

	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/graph"
	"crewcanvas/domain/core/valueobjects"
)

// LegacyLoadedCrewID marks tabs persisted before crew ids were tracked.
// Such tabs were loaded from a crew whose id must be recovered from node data.
const LegacyLoadedCrewID = "loaded"

// Default tab names
const (
	DefaultTabName     = "Main Workflow"
	tabNameFormat      = "Workflow %d"
	DuplicateTabSuffix = " (copy)"
)

// Tab is one editing session: a graph plus its save and execution state
type Tab struct {
	ID                valueobjects.TabID           `json:"id"`
	Name              string                       `json:"name"`
	Nodes             []entities.Node              `json:"nodes"`
	Edges             []entities.Edge              `json:"edges"`
	IsDirty           bool                         `json:"isDirty"`
	SavedCrewID       string                       `json:"savedCrewId,omitempty"`
	SavedCrewName     string                       `json:"savedCrewName,omitempty"`
	ExecutionStatus   valueobjects.ExecutionStatus `json:"executionStatus"`
	LastExecutionTime *time.Time                   `json:"lastExecutionTime,omitempty"`
	ChatSessionID     string                       `json:"chatSessionId,omitempty"`
	CreatedAt         time.Time                    `json:"createdAt"`
}

// NewTab creates an empty, clean, idle tab
func NewTab(name string, now time.Time) *Tab {
	return &Tab{
		ID:              valueobjects.NewTabID(),
		Name:            name,
		Nodes:           []entities.Node{},
		Edges:           []entities.Edge{},
		ExecutionStatus: valueobjects.ExecutionIdle,
		CreatedAt:       now,
	}
}

// DefaultTabNameFor returns the name given to an unnamed tab when the store
// already holds count tabs
func DefaultTabNameFor(count int) string {
	if count == 0 {
		return DefaultTabName
	}
	return fmt.Sprintf(tabNameFormat, count+1)
}

// Clone returns a deep copy
func (t *Tab) Clone() *Tab {
	if t == nil {
		return nil
	}
	out := *t
	out.Nodes = entities.CloneNodes(t.Nodes)
	out.Edges = entities.CloneEdges(t.Edges)
	if t.LastExecutionTime != nil {
		ts := *t.LastExecutionTime
		out.LastExecutionTime = &ts
	}
	return &out
}

// Graph returns a copy of the tab's graph
func (t *Tab) Graph() graph.Graph {
	return graph.New(t.Nodes, t.Edges)
}

// HasSavedCrew reports whether the tab tracks a backend crew
func (t *Tab) HasSavedCrew() bool {
	return t.SavedCrewID != ""
}

// SessionSnapshot is the persisted form of a tab store
type SessionSnapshot struct {
	SessionID   string    `json:"sessionId"`
	ActiveTabID string    `json:"activeTabId"`
	Tabs        []*Tab    `json:"tabs"`
	SavedAt     time.Time `json:"savedAt"`
}
