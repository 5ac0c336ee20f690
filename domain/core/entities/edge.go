package entities

// Edge is a directed connection between two nodes
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Type         string         `json:"type,omitempty"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Animated     bool           `json:"animated,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// EdgeID returns the conventional edge id for a source/target pair
func EdgeID(source, target string) string {
	return source + "-" + target
}

// Clone returns a deep copy of the edge
func (e Edge) Clone() Edge {
	out := e
	out.Data = CloneData(e.Data)
	return out
}

// CloneEdges deep-copies an edge slice. A nil input yields an empty slice.
func CloneEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		out[i] = e.Clone()
	}
	return out
}
