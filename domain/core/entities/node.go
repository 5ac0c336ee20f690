package entities

import (
	"crewcanvas/domain/core/valueobjects"
)

// NodeType is the canvas variant of a node
type NodeType string

const (
	NodeTypeAgent NodeType = "agentNode"
	NodeTypeTask  NodeType = "taskNode"
	NodeTypeFlow  NodeType = "flowNode"
	NodeTypeCrew  NodeType = "crewNode"
)

// Node data keys shared with the designer client
const (
	DataKeyAgentID         = "agentId"
	DataKeyTaskID          = "taskId"
	DataKeyAssignedAgentID = "agent_id"
	DataKeyCrewID          = "crewId"
	DataKeyLabel           = "label"
	DataKeyName            = "name"
)

// Node is a visual element on the canvas
type Node struct {
	ID       string                `json:"id"`
	Type     NodeType              `json:"type"`
	Position valueobjects.Position `json:"position"`
	Width    float64               `json:"width,omitempty"`
	Height   float64               `json:"height,omitempty"`
	Data     map[string]any        `json:"data,omitempty"`
}

// IsAgent reports whether the node represents an agent
func (n Node) IsAgent() bool { return n.Type == NodeTypeAgent }

// IsTask reports whether the node represents a task
func (n Node) IsTask() bool { return n.Type == NodeTypeTask }

// AgentID returns the backend agent referenced by an agent node
func (n Node) AgentID() EntityID { return idFromAny(n.Data[DataKeyAgentID]) }

// TaskID returns the backend task referenced by a task node
func (n Node) TaskID() EntityID { return idFromAny(n.Data[DataKeyTaskID]) }

// AssignedAgentID returns the backend agent owning a task node
func (n Node) AssignedAgentID() EntityID { return idFromAny(n.Data[DataKeyAssignedAgentID]) }

// CrewID returns the crew id recorded in node data, if any
func (n Node) CrewID() EntityID { return idFromAny(n.Data[DataKeyCrewID]) }

// DisplayName returns the best human readable name for the node
func (n Node) DisplayName() string {
	for _, key := range []string{DataKeyName, DataKeyLabel, "role", "description"} {
		if s, ok := n.Data[key].(string); ok && s != "" {
			return s
		}
	}
	return n.ID
}

// Clone returns a deep copy of the node
func (n Node) Clone() Node {
	out := n
	out.Data = CloneData(n.Data)
	return out
}

// CloneNodes deep-copies a node slice. A nil input yields an empty slice.
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// CloneData deep-copies free-form node or edge data
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// MergeData returns base overlaid with overlay; overlay wins on conflicts.
func MergeData(base, overlay map[string]any) map[string]any {
	out := CloneData(base)
	if out == nil {
		out = make(map[string]any, len(overlay))
	}
	for k, v := range overlay {
		out[k] = cloneValue(v)
	}
	return out
}
