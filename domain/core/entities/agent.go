package entities

import (
	"encoding/json"
	"time"
)

// Default agent settings applied when node data leaves them out
const (
	DefaultAgentLLM      = "gpt-4o-mini"
	DefaultAgentMaxIter  = 25
	DefaultMaxRetryLimit = 2
)

// Agent is a backend agent record
type Agent struct {
	ID                   EntityID       `json:"id,omitempty"`
	Name                 string         `json:"name" validate:"required"`
	Role                 string         `json:"role"`
	Goal                 string         `json:"goal"`
	Backstory            string         `json:"backstory"`
	LLM                  string         `json:"llm"`
	FunctionCallingLLM   string         `json:"function_calling_llm,omitempty"`
	Tools                []string       `json:"tools"`
	ToolConfigs          map[string]any `json:"tool_configs,omitempty"`
	MaxIter              int            `json:"max_iter"`
	MaxRPM               int            `json:"max_rpm,omitempty"`
	MaxExecutionTime     int            `json:"max_execution_time,omitempty"`
	MaxRetryLimit        int            `json:"max_retry_limit"`
	Memory               bool           `json:"memory"`
	Verbose              bool           `json:"verbose"`
	AllowDelegation      bool           `json:"allow_delegation"`
	Cache                bool           `json:"cache"`
	AllowCodeExecution   bool           `json:"allow_code_execution"`
	CodeExecutionMode    string         `json:"code_execution_mode,omitempty"`
	RespectContextWindow bool           `json:"respect_context_window"`
	UseSystemPrompt      bool           `json:"use_system_prompt"`
	SystemTemplate       string         `json:"system_template,omitempty"`
	PromptTemplate       string         `json:"prompt_template,omitempty"`
	ResponseTemplate     string         `json:"response_template,omitempty"`
	Reasoning            bool           `json:"reasoning"`
	MaxReasoningAttempts int            `json:"max_reasoning_attempts,omitempty"`
	EmbedderConfig       map[string]any `json:"embedder_config,omitempty"`
	KnowledgeSources     []any          `json:"knowledge_sources,omitempty"`
	CreatedAt            *time.Time     `json:"created_at,omitempty"`
	UpdatedAt            *time.Time     `json:"updated_at,omitempty"`
}

// AgentFromNodeData builds an agent create request from canvas node data,
// defaulting fields the node does not carry. The id is never copied: the
// result always describes a new record.
func AgentFromNodeData(data map[string]any) (Agent, error) {
	agent := Agent{
		LLM:                  DefaultAgentLLM,
		MaxIter:              DefaultAgentMaxIter,
		MaxRetryLimit:        DefaultMaxRetryLimit,
		Memory:               true,
		Cache:                true,
		RespectContextWindow: true,
		UseSystemPrompt:      true,
		CodeExecutionMode:    "safe",
	}
	if err := decodeData(data, &agent); err != nil {
		return Agent{}, err
	}
	agent.ID = ""
	agent.CreatedAt = nil
	agent.UpdatedAt = nil
	if agent.Name == "" {
		if label, ok := data[DataKeyLabel].(string); ok {
			agent.Name = label
		}
	}
	if agent.Tools == nil {
		agent.Tools = []string{}
	}
	if agent.LLM == "" {
		agent.LLM = DefaultAgentLLM
	}
	return agent, nil
}

// NodeData renders the agent as canvas node data. Every field is present,
// including empty ones.
func (a Agent) NodeData() map[string]any {
	data := encodeData(a)
	data[DataKeyAgentID] = a.ID.String()
	data[DataKeyLabel] = a.Name
	return data
}

// decodeData copies free-form node data into a typed record through JSON,
// leaving fields the data does not mention at their preset values.
func decodeData(data map[string]any, out any) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encodeData(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}
