package ports

import (
	"context"
	"time"

	"crewcanvas/domain/core/entities"
)

// AgentService creates and removes backend agent records
type AgentService interface {
	CreateAgent(ctx context.Context, agent entities.Agent) (entities.Agent, error)
	DeleteAgent(ctx context.Context, id entities.EntityID) error
}

// TaskService creates and removes backend task records
type TaskService interface {
	CreateTask(ctx context.Context, task entities.Task) (entities.Task, error)
	DeleteTask(ctx context.Context, id entities.EntityID) error
}

// CrewService reads and writes saved crews
type CrewService interface {
	GetCrew(ctx context.Context, id string) (*Crew, error)
	ListCrews(ctx context.Context) ([]CrewSummary, error)
	SaveCrew(ctx context.Context, req CrewRequest) (CrewSummary, error)
	UpdateCrew(ctx context.Context, id string, req CrewRequest) (CrewSummary, error)
}

// JobService starts jobs and reports their history
type JobService interface {
	ExecuteJob(ctx context.Context, req JobRequest) (JobResponse, error)
	// ListRuns returns the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// SecretService manages API keys and secrets. Values go in, only metadata
// comes back.
type SecretService interface {
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	ListSecrets(ctx context.Context) ([]Secret, error)
	SetAPIKey(ctx context.Context, name, value, description string) error
	DeleteAPIKey(ctx context.Context, name string) error
}

// Backend bundles every remote service crewcanvas talks to
type Backend interface {
	AgentService
	TaskService
	CrewService
	JobService
	SecretService
}

// Crew is a saved crew as returned by the backend
type Crew struct {
	ID        entities.EntityID `json:"id"`
	Name      string            `json:"name"`
	AgentIDs  []string          `json:"agent_ids,omitempty"`
	TaskIDs   []string          `json:"task_ids,omitempty"`
	Nodes     []entities.Node   `json:"nodes"`
	Edges     []entities.Edge   `json:"edges"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// CrewSummary identifies a crew
type CrewSummary struct {
	ID   entities.EntityID `json:"id"`
	Name string            `json:"name"`
}

// CrewRequest is the body of a crew save or update
type CrewRequest struct {
	Name     string          `json:"name" validate:"required"`
	AgentIDs []string        `json:"agent_ids"`
	TaskIDs  []string        `json:"task_ids"`
	Nodes    []entities.Node `json:"nodes" validate:"min=1"`
	Edges    []entities.Edge `json:"edges"`
}

// JobRequest starts a crew or flow run
type JobRequest struct {
	Nodes                  []entities.Node `json:"nodes"`
	Edges                  []entities.Edge `json:"edges"`
	PlanningEnabled        bool            `json:"planning"`
	Model                  string          `json:"model,omitempty"`
	ExecutionType          string          `json:"execution_type"`
	AdditionalInputs       map[string]any  `json:"inputs,omitempty"`
	SchemaDetectionEnabled bool            `json:"schema_detection_enabled"`
	ReasoningEnabled       bool            `json:"reasoning"`
}

// JobResponse identifies a started job
type JobResponse struct {
	JobID       string `json:"job_id"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// Run statuses reported by the backend run history
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one entry of the backend run history
type Run struct {
	JobID       string     `json:"job_id"`
	Name        string     `json:"run_name,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// APIKey is API key metadata; the value never leaves the backend
type APIKey struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	HasValue    bool       `json:"has_value"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Secret is secret metadata
type Secret struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Scope       string `json:"scope,omitempty"`
}
