package entities

import "time"

// TaskConfig holds the execution policy of a task
type TaskConfig struct {
	CacheResponse  bool           `json:"cache_response"`
	CacheTTL       int            `json:"cache_ttl"`
	RetryOnFail    bool           `json:"retry_on_fail"`
	MaxRetries     int            `json:"max_retries"`
	Timeout        *int           `json:"timeout"`
	Priority       int            `json:"priority"`
	ErrorHandling  string         `json:"error_handling"`
	OutputFile     string         `json:"output_file,omitempty"`
	OutputJSON     string         `json:"output_json,omitempty"`
	OutputPydantic string         `json:"output_pydantic,omitempty"`
	Callback       string         `json:"callback,omitempty"`
	HumanInput     bool           `json:"human_input"`
	Condition      string         `json:"condition,omitempty"`
	Guardrail      string         `json:"guardrail,omitempty"`
	MarkdownOutput bool           `json:"markdown"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Task is a backend task record
type Task struct {
	ID             EntityID       `json:"id,omitempty"`
	Name           string         `json:"name" validate:"required"`
	Description    string         `json:"description"`
	ExpectedOutput string         `json:"expected_output"`
	AgentID        EntityID       `json:"agent_id,omitempty"`
	Tools          []string       `json:"tools"`
	ToolConfigs    map[string]any `json:"tool_configs,omitempty"`
	AsyncExecution bool           `json:"async_execution"`
	Context        []string       `json:"context"`
	Markdown       bool           `json:"markdown"`
	HumanInput     bool           `json:"human_input"`
	OutputFile     string         `json:"output_file,omitempty"`
	OutputJSON     string         `json:"output_json,omitempty"`
	Guardrail      string         `json:"guardrail,omitempty"`
	Config         TaskConfig     `json:"config"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
}

// DefaultTaskConfig is the policy applied to tasks whose node data leaves
// the config out
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		CacheResponse: false,
		CacheTTL:      3600,
		RetryOnFail:   true,
		MaxRetries:    3,
		Priority:      1,
		ErrorHandling: "default",
	}
}

// TaskFromNodeData builds a task create request from canvas node data.
// The owning agent id is left as found; callers remap it.
func TaskFromNodeData(data map[string]any) (Task, error) {
	task := Task{Config: DefaultTaskConfig()}
	if err := decodeData(data, &task); err != nil {
		return Task{}, err
	}
	task.ID = ""
	task.CreatedAt = nil
	task.UpdatedAt = nil
	if task.Name == "" {
		if label, ok := data[DataKeyLabel].(string); ok {
			task.Name = label
		}
	}
	if task.Tools == nil {
		task.Tools = []string{}
	}
	if task.Context == nil {
		task.Context = []string{}
	}
	// Top-level flags and their config twins must agree
	task.Config.HumanInput = task.Config.HumanInput || task.HumanInput
	task.HumanInput = task.Config.HumanInput
	task.Config.MarkdownOutput = task.Config.MarkdownOutput || task.Markdown
	task.Markdown = task.Config.MarkdownOutput
	if task.Guardrail == "" {
		task.Guardrail = task.Config.Guardrail
	}
	return task, nil
}

// NodeData renders the task as canvas node data
func (t Task) NodeData() map[string]any {
	data := encodeData(t)
	data[DataKeyTaskID] = t.ID.String()
	data[DataKeyAssignedAgentID] = t.AgentID.String()
	data[DataKeyLabel] = t.Name
	return data
}
