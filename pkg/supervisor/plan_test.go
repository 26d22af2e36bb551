package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/agent"
)

func TestParsePlan(t *testing.T) {
	defaults := []string{"knowledge"}

	tests := []struct {
		name string
		res  *AgentResult
		want []string
	}{
		{
			name: "nil_result",
			want: []string{"knowledge"},
		},
		{
			name: "assignments_in_order",
			res: &AgentResult{Data: map[string]any{"result": map[string]any{
				"agent_assignments": map[string]any{
					"step_10": "executor", "step_2": "browser", "step_1": "knowledge",
				},
			}}},
			want: []string{"knowledge", "browser", "executor"},
		},
		{
			name: "plan_steps",
			res: &AgentResult{Data: map[string]any{"result": map[string]any{
				"plan": []any{
					map[string]any{"agent": "browser"},
					map[string]any{"agent_to_use": "executor"},
					"not a step",
				},
			}}},
			want: []string{"browser", "executor"},
		},
		{
			name: "data_parts",
			res: &AgentResult{DataParts: []map[string]any{
				{"agent_assignments": map[string]any{"a": "executor"}},
				{"result": map[string]any{"plan": []any{map[string]any{"agent": "knowledge"}}}},
			}},
			want: []string{"executor", "knowledge"},
		},
		{
			name: "dedupe_and_drop_planner",
			res: &AgentResult{Data: map[string]any{"result": map[string]any{
				"plan": []any{
					map[string]any{"agent": "planner"},
					map[string]any{"agent": "Browser"},
					map[string]any{"agent": "browser"},
				},
			}}},
			want: []string{"browser"},
		},
		{
			name: "keyword_fallback",
			res:  &AgentResult{Text: "Search the WEB, then execute the code"},
			want: []string{"browser", "executor"},
		},
		{
			name: "korean_keywords",
			res:  &AgentResult{Text: "메모리에서 찾고 노션에 정리"},
			want: []string{"knowledge", "executor"},
		},
		{
			name: "nothing_found",
			res:  &AgentResult{Text: "hello"},
			want: []string{"knowledge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePlan(tt.res, defaults))
		})
	}
}

func TestParsePlan_DefaultsNotShared(t *testing.T) {
	defaults := []string{"knowledge"}
	got := ParsePlan(nil, defaults)
	got[0] = "changed"
	assert.Equal(t, "knowledge", defaults[0])
}

func TestPlanner_RoundTrip(t *testing.T) {
	p := NewPlanner(nil)

	out, err := p.Execute(context.Background(), agent.TextInput("remember my name and search the web"), agent.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, out.Status)
	assert.Equal(t, "Plan:\n1. [knowledge] look up stored memories relevant to the request\n2. [browser] search the web for the requested information", out.Content)

	res := &AgentResult{Text: out.Content, Data: out.Data}
	assert.Equal(t, []string{"knowledge", "browser"}, ParsePlan(res, nil))
	assert.Equal(t, 2, planStepCount(res))
}

func TestPlanner_Defaults(t *testing.T) {
	p := NewPlanner([]string{"executor"})

	out, err := p.Execute(context.Background(), agent.TextInput("hello there"), agent.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"executor"}, ParsePlan(&AgentResult{Data: out.Data}, nil))

	_, err = p.Execute(context.Background(), map[string]any{}, agent.RunConfig{})
	assert.Error(t, err)

	restored := p.ExtractFinalOutput(out.Data)
	assert.Equal(t, out.Data, restored.Data)
}
