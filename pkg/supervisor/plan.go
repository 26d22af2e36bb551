// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supervisor

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/config"
)

// keywordAgents maps query keywords to the agent that handles them, in
// plan order.
var keywordAgents = []struct {
	agent    string
	keywords []string
}{
	{config.KindKnowledge, []string{"memory", "knowledge", "remember", "메모리", "기억", "저장된 정보"}},
	{config.KindBrowser, []string{"browser", "web", "search", "http://", "https://", "브라우저", "웹", "검색"}},
	{config.KindExecutor, []string{"execute", "code", "python", "notion", "실행", "코드", "노션"}},
}

// MatchAgents returns the agents whose keywords occur in text.
func MatchAgents(text string) []string {
	text = strings.ToLower(text)
	var out []string
	for _, ka := range keywordAgents {
		for _, kw := range ka.keywords {
			if strings.Contains(text, kw) {
				out = append(out, ka.agent)
				break
			}
		}
	}
	return out
}

// ParsePlan extracts the agents to run from a planner result.
//
// Agents come from result.agent_assignments and result.plan[].agent (or
// agent_to_use) in the merged data, then in each data part. Without any,
// keywords in the planner text decide. The planner itself is dropped,
// duplicates keep their first position, and defaults apply to an empty
// plan.
func ParsePlan(res *AgentResult, defaults []string) []string {
	var found []string
	if res != nil {
		found = append(found, planAgents(res.Data)...)
		for _, part := range res.DataParts {
			found = append(found, planAgents(part)...)
		}
		if len(found) == 0 {
			found = MatchAgents(res.Text)
		}
	}

	seen := make(map[string]bool, len(found))
	var out []string
	for _, name := range found {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == config.KindPlanner || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return slices.Clone(defaults)
	}
	return out
}

// planAgents reads agent names from a planner payload. The payload is
// either the planner result itself or a mapping holding it under "result".
func planAgents(data map[string]any) []string {
	if data == nil {
		return nil
	}
	out := assignmentAgents(data["agent_assignments"])
	if result, ok := data["result"].(map[string]any); ok {
		out = append(out, assignmentAgents(result["agent_assignments"])...)
		out = append(out, stepAgents(result["plan"])...)
	}
	return out
}

func assignmentAgents(v any) []string {
	assignments, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	// step_2 sorts before step_10.
	keys := slices.SortedFunc(maps.Keys(assignments), func(a, b string) int {
		return cmp.Or(cmp.Compare(len(a), len(b)), cmp.Compare(a, b))
	})
	var out []string
	for _, k := range keys {
		if name, ok := assignments[k].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

func stepAgents(v any) []string {
	steps, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := step["agent"].(string); ok {
			out = append(out, name)
		} else if name, ok := step["agent_to_use"].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// planStepCount is the number of plan steps the planner reported, or 0.
func planStepCount(res *AgentResult) int {
	count := func(data map[string]any) int {
		if result, ok := data["result"].(map[string]any); ok {
			if plan, ok := result["plan"].([]any); ok {
				return len(plan)
			}
		}
		return 0
	}
	n := count(res.Data)
	for _, part := range res.DataParts {
		n = max(n, count(part))
	}
	return n
}

var stepDescriptions = map[string]string{
	config.KindKnowledge: "look up stored memories relevant to the request",
	config.KindBrowser:   "search the web for the requested information",
	config.KindExecutor:  "carry out the requested action",
}

// Planner is a keyword based planner agent. It lets a deployment run
// without a language model and emits plans in the same shape the
// supervisor parses.
type Planner struct {
	defaults []string
}

// NewPlanner creates a planner that falls back to defaults when no
// keyword matches.
func NewPlanner(defaults []string) *Planner {
	if len(defaults) == 0 {
		defaults = []string{config.KindKnowledge}
	}
	return &Planner{defaults: defaults}
}

// Name implements agent.Agent.
func (p *Planner) Name() string { return "PlannerAgent" }

// Description implements agent.Agent.
func (p *Planner) Description() string {
	return "Breaks a request into steps and assigns an agent to each"
}

// Execute implements agent.Agent.
func (p *Planner) Execute(_ context.Context, input map[string]any, _ agent.RunConfig) (*agent.Output, error) {
	query := strings.TrimSpace(agent.Query(input))
	if query == "" {
		return nil, fmt.Errorf("no query to plan")
	}

	agents := MatchAgents(query)
	if len(agents) == 0 {
		agents = p.defaults
	}

	plan := make([]any, 0, len(agents))
	assignments := make(map[string]any, len(agents))
	var b strings.Builder
	b.WriteString("Plan:")
	for i, name := range agents {
		desc := stepDescriptions[name]
		if desc == "" {
			desc = "handle the request"
		}
		step := fmt.Sprintf("step_%d", i+1)
		plan = append(plan, map[string]any{
			"step":        i + 1,
			"agent":       name,
			"description": desc,
		})
		assignments[step] = name
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, name, desc)
	}

	out := agent.NewOutput(p.Name(), agent.StatusCompleted)
	out.Content = b.String()
	out.Data = map[string]any{
		"result": map[string]any{
			"query":             query,
			"plan":              plan,
			"agent_assignments": assignments,
		},
	}
	out.Final = true
	return out, nil
}

// FormatStreamEvent implements agent.Agent. The planner does not stream.
func (p *Planner) FormatStreamEvent(agent.Event) *agent.Output { return nil }

// ExtractFinalOutput implements agent.Agent.
func (p *Planner) ExtractFinalOutput(state map[string]any) *agent.Output {
	out := agent.NewOutput(p.Name(), agent.StatusCompleted)
	if result, ok := state["result"].(map[string]any); ok {
		out.Data = map[string]any{"result": result}
	}
	out.Final = true
	return out
}

var _ agent.Agent = (*Planner)(nil)
