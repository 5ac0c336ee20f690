// Package cloner turns a saved crew graph into an independent editable copy
// whose agents and tasks are fresh backend records.
package cloner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"crewcanvas/application/ports"
	"crewcanvas/application/sagas"
	"crewcanvas/domain/core/entities"
	"crewcanvas/domain/core/graph"
	apperrors "crewcanvas/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Placement of cloned nodes relative to their source
const (
	PositionOffset = 50.0
	SizeFactor     = 0.8
	MinNodeWidth   = 150.0
	MinNodeHeight  = 80.0
)

// DefaultConcurrency bounds backend create calls in flight per phase
const DefaultConcurrency = 4

// Config tunes a Cloner
type Config struct {
	Concurrency int
	// Compensate deletes already created records when an import fails
	Compensate bool
}

// Report summarises one clone
type Report struct {
	AgentsCreated int `json:"agentsCreated"`
	TasksCreated  int `json:"tasksCreated"`
	// NodeIDMap maps every source node id to its id in the clone
	NodeIDMap map[string]string `json:"nodeIdMap"`
	// AgentIDMap maps source backend agent ids to the new ones
	AgentIDMap map[string]string `json:"agentIdMap"`
}

// Cloner materialises saved graphs as new backend entities
type Cloner struct {
	agents      ports.AgentService
	tasks       ports.TaskService
	concurrency int
	compensate  bool
	suffix      func() string
	logger      *zap.Logger
}

// NewCloner creates a cloner
func NewCloner(agents ports.AgentService, tasks ports.TaskService, cfg Config, logger *zap.Logger) *Cloner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Cloner{
		agents:      agents,
		tasks:       tasks,
		concurrency: cfg.Concurrency,
		compensate:  cfg.Compensate,
		suffix:      func() string { return uuid.NewString()[:8] },
		logger:      logger,
	}
}

// created collects the records of one phase in creation order
type created[T any] struct {
	mu     sync.Mutex
	byNode map[string]T
	order  []T
}

func newCreated[T any]() *created[T] {
	return &created[T]{byNode: map[string]T{}}
}

func (c *created[T]) add(nodeID string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byNode[nodeID] = v
	c.order = append(c.order, v)
}

// Clone creates a backend agent for every agent node, then a backend task
// for every task node, and returns the rewritten graph. Task creation only
// starts once every agent exists. The first failure aborts the clone and no
// graph is returned. Node data is overlaid with the created record, which
// wins on every field it carries. Edges with an endpoint outside the source
// graph are dropped.
func (c *Cloner) Clone(ctx context.Context, source graph.Graph) (graph.Graph, *Report, error) {
	var agentNodes, taskNodes []entities.Node
	for _, n := range source.Nodes {
		switch n.Type {
		case entities.NodeTypeAgent:
			agentNodes = append(agentNodes, n)
		case entities.NodeTypeTask:
			taskNodes = append(taskNodes, n)
		}
	}

	c.logger.Info("Cloning graph",
		zap.Int("agent_nodes", len(agentNodes)),
		zap.Int("task_nodes", len(taskNodes)),
		zap.Int("edges", len(source.Edges)),
		zap.Bool("compensate", c.compensate),
	)

	var (
		agents *created[entities.Agent]
		tasks  *created[entities.Task]
		err    error
	)
	if c.compensate {
		agents, tasks, err = c.createWithSaga(ctx, agentNodes, taskNodes)
	} else {
		agents, tasks, err = c.createAll(ctx, agentNodes, taskNodes)
	}
	if err != nil {
		return graph.Graph{}, nil, err
	}

	out, report := c.rewrite(source, agents, tasks)
	c.logger.Info("Graph cloned",
		zap.Int("agents_created", report.AgentsCreated),
		zap.Int("tasks_created", report.TasksCreated),
		zap.Int("edges", len(out.Edges)),
	)
	return out, report, nil
}

func (c *Cloner) createAll(ctx context.Context, agentNodes, taskNodes []entities.Node) (*created[entities.Agent], *created[entities.Task], error) {
	agents, err := c.createAgents(ctx, agentNodes)
	if err != nil {
		c.logAbandoned(len(agents.order), 0)
		return nil, nil, err
	}
	tasks, err := c.createTasks(ctx, taskNodes, agentIDMap(agentNodes, agents))
	if err != nil {
		c.logAbandoned(len(agents.order), len(tasks.order))
		return nil, nil, err
	}
	return agents, tasks, nil
}

func (c *Cloner) logAbandoned(agents, tasks int) {
	if agents == 0 && tasks == 0 {
		return
	}
	c.logger.Warn("Clone aborted; created records are left on the backend",
		zap.Int("agents", agents),
		zap.Int("tasks", tasks),
	)
}

func (c *Cloner) createWithSaga(ctx context.Context, agentNodes, taskNodes []entities.Node) (*created[entities.Agent], *created[entities.Task], error) {
	var agents *created[entities.Agent]

	saga := sagas.New("clone-graph", c.logger).
		Then("create-agents",
			func(ctx context.Context, _ any) (any, error) {
				var err error
				agents, err = c.createAgents(ctx, agentNodes)
				return agents, err
			},
			func(ctx context.Context, out any) error {
				return c.deleteAgents(ctx, out.(*created[entities.Agent]).order)
			},
		).
		Then("create-tasks",
			func(ctx context.Context, _ any) (any, error) {
				return c.createTasks(ctx, taskNodes, agentIDMap(agentNodes, agents))
			},
			func(ctx context.Context, out any) error {
				return c.deleteTasks(ctx, out.(*created[entities.Task]).order)
			},
		)

	result, err := saga.Run(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return agents, result.(*created[entities.Task]), nil
}

func (c *Cloner) createAgents(ctx context.Context, nodes []entities.Node) (*created[entities.Agent], error) {
	out := newCreated[entities.Agent]()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, node := range nodes {
		g.Go(func() error {
			req, err := entities.AgentFromNodeData(node.Data)
			if err != nil {
				return apperrors.NewValidationError(fmt.Sprintf("invalid agent %q", node.DisplayName())).WithCause(err)
			}
			agent, err := c.agents.CreateAgent(gctx, req)
			if err != nil {
				return apperrors.NewExternalError(fmt.Sprintf("failed to create agent %q", req.Name), err).
					WithDetail("node_id", node.ID)
			}
			out.add(node.ID, agent)
			return nil
		})
	}
	return out, g.Wait()
}

func (c *Cloner) createTasks(ctx context.Context, nodes []entities.Node, agentIDs map[string]string) (*created[entities.Task], error) {
	out := newCreated[entities.Task]()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, node := range nodes {
		g.Go(func() error {
			req, err := entities.TaskFromNodeData(node.Data)
			if err != nil {
				return apperrors.NewValidationError(fmt.Sprintf("invalid task %q", node.DisplayName())).WithCause(err)
			}
			if newID, ok := agentIDs[req.AgentID.String()]; ok {
				req.AgentID = entities.EntityID(newID)
			}
			task, err := c.tasks.CreateTask(gctx, req)
			if err != nil {
				return apperrors.NewExternalError(fmt.Sprintf("failed to create task %q", req.Name), err).
					WithDetail("node_id", node.ID)
			}
			out.add(node.ID, task)
			return nil
		})
	}
	return out, g.Wait()
}

func (c *Cloner) deleteAgents(ctx context.Context, agents []entities.Agent) error {
	var errs []error
	for i := len(agents) - 1; i >= 0; i-- {
		if err := c.agents.DeleteAgent(ctx, agents[i].ID); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors("delete agents", errs)
}

func (c *Cloner) deleteTasks(ctx context.Context, tasks []entities.Task) error {
	var errs []error
	for i := len(tasks) - 1; i >= 0; i-- {
		if err := c.tasks.DeleteTask(ctx, tasks[i].ID); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors("delete tasks", errs)
}

func joinErrors(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d failed, first: %w", op, len(errs), errs[0])
}

// agentIDMap maps each source backend agent id to the id of its clone.
// Agent nodes without a backend id contribute nothing.
func agentIDMap(nodes []entities.Node, agents *created[entities.Agent]) map[string]string {
	out := make(map[string]string, len(nodes))
	for _, n := range nodes {
		old := n.AgentID()
		if old.IsZero() {
			continue
		}
		if a, ok := agents.byNode[n.ID]; ok {
			out[old.String()] = a.ID.String()
		}
	}
	return out
}

func (c *Cloner) rewrite(source graph.Graph, agents *created[entities.Agent], tasks *created[entities.Task]) (graph.Graph, *Report) {
	report := &Report{
		AgentsCreated: len(agents.order),
		TasksCreated:  len(tasks.order),
		NodeIDMap:     make(map[string]string, len(source.Nodes)),
		AgentIDMap:    make(map[string]string),
	}

	// Edge endpoints are looked up in the map matching the endpoint's kind
	agentNodeIDs := map[string]string{}
	taskNodeIDs := map[string]string{}
	otherNodeIDs := map[string]string{}
	kinds := make(map[string]entities.NodeType, len(source.Nodes))

	nodes := make([]entities.Node, 0, len(source.Nodes))
	for _, n := range source.Nodes {
		kinds[n.ID] = n.Type
		out := n.Clone()
		out.Position = n.Position.Offset(PositionOffset, PositionOffset)
		if n.Width > 0 {
			out.Width = max(n.Width*SizeFactor, MinNodeWidth)
		}
		if n.Height > 0 {
			out.Height = max(n.Height*SizeFactor, MinNodeHeight)
		}

		switch n.Type {
		case entities.NodeTypeAgent:
			agent := agents.byNode[n.ID]
			out.ID = entities.NewEntityNodeID("agent", agent.ID, "")
			out.Data = entities.MergeData(n.Data, agent.NodeData())
			out.Data[entities.DataKeyAgentID] = agent.ID.String()
			agentNodeIDs[n.ID] = out.ID
			if old := n.AgentID(); !old.IsZero() {
				report.AgentIDMap[old.String()] = agent.ID.String()
			}
		case entities.NodeTypeTask:
			task := tasks.byNode[n.ID]
			out.ID = entities.NewEntityNodeID("task", task.ID, "")
			out.Data = entities.MergeData(n.Data, task.NodeData())
			out.Data[entities.DataKeyTaskID] = task.ID.String()
			out.Data[entities.DataKeyAssignedAgentID] = task.AgentID.String()
			taskNodeIDs[n.ID] = out.ID
		default:
			out.ID = localNodeID(n.Type, c.suffix())
			otherNodeIDs[n.ID] = out.ID
		}
		report.NodeIDMap[n.ID] = out.ID
		nodes = append(nodes, out)
	}

	remap := func(id string) string {
		var m map[string]string
		switch kinds[id] {
		case entities.NodeTypeAgent:
			m = agentNodeIDs
		case entities.NodeTypeTask:
			m = taskNodeIDs
		default:
			m = otherNodeIDs
		}
		if mapped, ok := m[id]; ok {
			return mapped
		}
		return id
	}

	edges := make([]entities.Edge, 0, len(source.Edges))
	for _, e := range source.Edges {
		out := e.Clone()
		out.Source = remap(e.Source)
		out.Target = remap(e.Target)
		out.ID = entities.EdgeID(out.Source, out.Target)
		edges = append(edges, out)
	}
	edges = graph.DeduplicateEdges(edges)

	if dangling := graph.OrphanedEdges(nodes, edges); len(dangling) > 0 {
		c.logger.Warn("Dropping edges whose endpoints are not in the source graph",
			zap.Int("count", len(dangling)),
			zap.String("first_edge", dangling[0].ID),
		)
		edges = graph.PruneOrphanedEdges(nodes, edges)
	}

	return graph.Graph{Nodes: nodes, Edges: edges}, report
}

func localNodeID(t entities.NodeType, suffix string) string {
	kind := strings.TrimSuffix(string(t), "Node")
	if kind == "" {
		kind = "node"
	}
	return kind + "-" + suffix
}
