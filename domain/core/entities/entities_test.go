package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityID_UnmarshalJSON(t *testing.T) {
	var rec struct {
		A EntityID `json:"a"`
		B EntityID `json:"b"`
		C EntityID `json:"c"`
	}

	err := json.Unmarshal([]byte(`{"a": 42, "b": "abc", "c": null}`), &rec)

	require.NoError(t, err)
	assert.Equal(t, EntityID("42"), rec.A)
	assert.Equal(t, EntityID("abc"), rec.B)
	assert.True(t, rec.C.IsZero())
}

func TestNode_IDAccessorsNormaliseNumbers(t *testing.T) {
	node := Node{
		ID:   "task-1",
		Type: NodeTypeTask,
		Data: map[string]any{
			DataKeyTaskID:          float64(201),
			DataKeyAssignedAgentID: "101",
		},
	}

	assert.Equal(t, EntityID("201"), node.TaskID())
	assert.Equal(t, EntityID("101"), node.AssignedAgentID())
	assert.True(t, node.AgentID().IsZero())
}

func TestNode_CloneIsDeep(t *testing.T) {
	original := Node{
		ID: "agent-1",
		Data: map[string]any{
			"tools":        []any{"search"},
			"tool_configs": map[string]any{"search": map[string]any{"depth": 2}},
		},
	}

	clone := original.Clone()
	clone.Data["tools"].([]any)[0] = "scrape"
	clone.Data["tool_configs"].(map[string]any)["search"].(map[string]any)["depth"] = 5

	assert.Equal(t, "search", original.Data["tools"].([]any)[0])
	assert.Equal(t, 2, original.Data["tool_configs"].(map[string]any)["search"].(map[string]any)["depth"])
}

func TestNewEntityNodeID(t *testing.T) {
	assert.Equal(t, "agent-42", NewEntityNodeID("agent", "42", ""))
	assert.Equal(t, "agent-42-abc123", NewEntityNodeID("agent", "42", "abc123"))
}

func TestAgentFromNodeData_Defaults(t *testing.T) {
	agent, err := AgentFromNodeData(map[string]any{
		DataKeyAgentID: "7",
		"id":           7,
		DataKeyLabel:   "Researcher",
		"role":         "research",
	})

	require.NoError(t, err)
	assert.True(t, agent.ID.IsZero(), "create requests must not carry the source id")
	assert.Equal(t, "Researcher", agent.Name)
	assert.Equal(t, DefaultAgentLLM, agent.LLM)
	assert.Equal(t, DefaultAgentMaxIter, agent.MaxIter)
	assert.True(t, agent.Cache)
	assert.Equal(t, []string{}, agent.Tools)
}

func TestAgentFromNodeData_KeepsProvidedFields(t *testing.T) {
	agent, err := AgentFromNodeData(map[string]any{
		"name":      "Writer",
		"llm":       "claude-sonnet",
		"max_iter":  float64(5),
		"cache":     false,
		"tools":     []any{"search", "scrape"},
		"reasoning": true,
	})

	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", agent.LLM)
	assert.Equal(t, 5, agent.MaxIter)
	assert.False(t, agent.Cache)
	assert.Equal(t, []string{"search", "scrape"}, agent.Tools)
	assert.True(t, agent.Reasoning)
}

func TestTaskFromNodeData_ConfigDefaultsAndFlags(t *testing.T) {
	task, err := TaskFromNodeData(map[string]any{
		"name":        "Summarise",
		"human_input": true,
		"agent_id":    float64(3),
		"config": map[string]any{
			"guardrail": "no-pii",
			"priority":  float64(2),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, EntityID("3"), task.AgentID)
	assert.True(t, task.Config.HumanInput)
	assert.Equal(t, 2, task.Config.Priority)
	assert.Equal(t, "no-pii", task.Guardrail)
	assert.Equal(t, []string{}, task.Context)
}

func TestTaskFromNodeData_BadFieldType(t *testing.T) {
	_, err := TaskFromNodeData(map[string]any{"name": "x", "tools": "not-a-list"})

	assert.Error(t, err)
}
