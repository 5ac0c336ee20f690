package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"crewcanvas/application/ports"
	"crewcanvas/domain/core/entities"
	apperrors "crewcanvas/pkg/errors"
)

var _ ports.Backend = (*Client)(nil)

func (c *Client) CreateAgent(ctx context.Context, agent entities.Agent) (entities.Agent, error) {
	var out entities.Agent
	if err := c.do(ctx, "create_agent", http.MethodPost, "/api/agents", nil, agent, &out); err != nil {
		return entities.Agent{}, err
	}
	if out.ID.IsZero() {
		return entities.Agent{}, apperrors.NewExternalError("create_agent: response has no id", nil)
	}
	return out, nil
}

func (c *Client) DeleteAgent(ctx context.Context, id entities.EntityID) error {
	return c.do(ctx, "delete_agent", http.MethodDelete, "/api/agents/"+url.PathEscape(id.String()), nil, nil, nil)
}

func (c *Client) CreateTask(ctx context.Context, task entities.Task) (entities.Task, error) {
	var out entities.Task
	if err := c.do(ctx, "create_task", http.MethodPost, "/api/tasks", nil, task, &out); err != nil {
		return entities.Task{}, err
	}
	if out.ID.IsZero() {
		return entities.Task{}, apperrors.NewExternalError("create_task: response has no id", nil)
	}
	return out, nil
}

func (c *Client) DeleteTask(ctx context.Context, id entities.EntityID) error {
	return c.do(ctx, "delete_task", http.MethodDelete, "/api/tasks/"+url.PathEscape(id.String()), nil, nil, nil)
}

func (c *Client) GetCrew(ctx context.Context, id string) (*ports.Crew, error) {
	var out ports.Crew
	if err := c.do(ctx, "get_crew", http.MethodGet, "/api/crews/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCrews(ctx context.Context) ([]ports.CrewSummary, error) {
	out := []ports.CrewSummary{}
	if err := c.do(ctx, "list_crews", http.MethodGet, "/api/crews", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SaveCrew(ctx context.Context, req ports.CrewRequest) (ports.CrewSummary, error) {
	var out ports.CrewSummary
	err := c.do(ctx, "save_crew", http.MethodPost, "/api/crews", nil, req, &out)
	return out, err
}

func (c *Client) UpdateCrew(ctx context.Context, id string, req ports.CrewRequest) (ports.CrewSummary, error) {
	var out ports.CrewSummary
	err := c.do(ctx, "update_crew", http.MethodPut, "/api/crews/"+url.PathEscape(id), nil, req, &out)
	return out, err
}

func (c *Client) ExecuteJob(ctx context.Context, req ports.JobRequest) (ports.JobResponse, error) {
	var out ports.JobResponse
	if err := c.do(ctx, "execute_job", http.MethodPost, "/api/jobs", nil, req, &out); err != nil {
		return ports.JobResponse{}, err
	}
	if out.JobID == "" {
		return ports.JobResponse{}, apperrors.NewExternalError("execute_job: response has no job_id", nil)
	}
	return out, nil
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]ports.Run, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	out := []ports.Run{}
	if err := c.do(ctx, "list_runs", http.MethodGet, "/api/jobs", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAPIKeys(ctx context.Context) ([]ports.APIKey, error) {
	out := []ports.APIKey{}
	if err := c.do(ctx, "list_api_keys", http.MethodGet, "/api/api-keys", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSecrets(ctx context.Context) ([]ports.Secret, error) {
	out := []ports.Secret{}
	if err := c.do(ctx, "list_secrets", http.MethodGet, "/api/secrets", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type apiKeyBody struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

func (c *Client) SetAPIKey(ctx context.Context, name, value, description string) error {
	body := apiKeyBody{Value: value, Description: description}
	return c.do(ctx, "set_api_key", http.MethodPut, "/api/api-keys/"+url.PathEscape(name), nil, body, nil)
}

func (c *Client) DeleteAPIKey(ctx context.Context, name string) error {
	return c.do(ctx, "delete_api_key", http.MethodDelete, "/api/api-keys/"+url.PathEscape(name), nil, nil, nil)
}
