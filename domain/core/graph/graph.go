// Package graph holds the node/edge graph owned by a tab and the pure
// operations run on it before it is saved or executed.
package graph

import (
	"crewcanvas/domain/core/entities"
)

// Graph is an ordered set of nodes and the edges between them
type Graph struct {
	Nodes []entities.Node `json:"nodes"`
	Edges []entities.Edge `json:"edges"`
}

// New builds a graph from deep copies of nodes and edges
func New(nodes []entities.Node, edges []entities.Edge) Graph {
	return Graph{
		Nodes: entities.CloneNodes(nodes),
		Edges: entities.CloneEdges(edges),
	}
}

// Clone returns a copy that shares no slices or maps with g
func (g Graph) Clone() Graph {
	return New(g.Nodes, g.Edges)
}

// NodeByID returns the node with the given id
func (g Graph) NodeByID(id string) (entities.Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return entities.Node{}, false
}

// Counts returns the number of agent and task nodes
func (g Graph) Counts() (agents, tasks int) {
	for _, n := range g.Nodes {
		switch n.Type {
		case entities.NodeTypeAgent:
			agents++
		case entities.NodeTypeTask:
			tasks++
		}
	}
	return agents, tasks
}

// DeduplicateEdges keeps the first edge for every (source, target) pair,
// preserving order.
func DeduplicateEdges(edges []entities.Edge) []entities.Edge {
	type pair struct{ source, target string }
	seen := make(map[pair]struct{}, len(edges))
	out := make([]entities.Edge, 0, len(edges))
	for _, e := range edges {
		key := pair{e.Source, e.Target}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// PruneOrphanedEdges drops edges whose source or target is not among nodes
func PruneOrphanedEdges(nodes []entities.Node, edges []entities.Edge) []entities.Edge {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	out := make([]entities.Edge, 0, len(edges))
	for _, e := range edges {
		_, okSource := ids[e.Source]
		_, okTarget := ids[e.Target]
		if okSource && okTarget {
			out = append(out, e)
		}
	}
	return out
}

// OrphanedEdges returns the edges PruneOrphanedEdges would drop
func OrphanedEdges(nodes []entities.Node, edges []entities.Edge) []entities.Edge {
	kept := PruneOrphanedEdges(nodes, edges)
	if len(kept) == len(edges) {
		return nil
	}
	keptIDs := make(map[string]struct{}, len(kept))
	for _, e := range kept {
		keptIDs[e.ID] = struct{}{}
	}
	var orphaned []entities.Edge
	for _, e := range edges {
		if _, ok := keptIDs[e.ID]; !ok {
			orphaned = append(orphaned, e)
		}
	}
	return orphaned
}

// EntityIDs returns the backend agent and task ids referenced by nodes, in
// node order and without duplicates.
func EntityIDs(nodes []entities.Node) (agentIDs, taskIDs []string) {
	agentIDs = []string{}
	taskIDs = []string{}
	seenAgents := map[entities.EntityID]struct{}{}
	seenTasks := map[entities.EntityID]struct{}{}
	for _, n := range nodes {
		switch n.Type {
		case entities.NodeTypeAgent:
			id := n.AgentID()
			if _, ok := seenAgents[id]; ok || id.IsZero() {
				continue
			}
			seenAgents[id] = struct{}{}
			agentIDs = append(agentIDs, id.String())
		case entities.NodeTypeTask:
			id := n.TaskID()
			if _, ok := seenTasks[id]; ok || id.IsZero() {
				continue
			}
			seenTasks[id] = struct{}{}
			taskIDs = append(taskIDs, id.String())
		}
	}
	return agentIDs, taskIDs
}
