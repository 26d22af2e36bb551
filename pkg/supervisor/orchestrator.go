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

// Package supervisor coordinates the specialist agents.
//
// A workflow always starts with the planner. The agents named by the plan
// then run one after another, each receiving the user query and the
// previous agent's text through a per-agent template. A failing
// sub-agent is recorded and the workflow moves on; only a planner failure
// fails the whole workflow. The results are merged into one output with
// a section per agent.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"text/template"
	"time"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/observability"
)

const (
	// AgentType tags supervisor outputs.
	AgentType = "SupervisorAgent"

	defaultMergedText = "workflow complete"
)

var defaultTemplates = map[string]string{
	config.KindKnowledge: "Original request: {{.Query}}\n\nPlan:\n{{.Previous}}\n\nFollowing the plan above, find and provide the information needed.",
	config.KindBrowser:   "Search request: {{.Query}}\n\nPrevious step:\n{{.Previous}}\n\nUsing the above, search the web for the information needed.",
	config.KindExecutor:  "Execution request: {{.Query}}\n\nContext:\n{{.Previous}}\n\nBased on the above, carry out the requested task.",
}

// ProgressFunc receives intermediate working outputs. Returning an error
// aborts the workflow.
type ProgressFunc func(out *agent.Output) error

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Caller     Caller
	Supervisor config.SupervisorConfig

	Tracer *observability.Tracer
	Logger *slog.Logger
}

// Orchestrator runs planner driven workflows over sub-agents.
type Orchestrator struct {
	caller    Caller
	history   *History
	templates map[string]*template.Template
	defaults  []string
	tracer    *observability.Tracer
	log       *slog.Logger
}

// NewOrchestrator creates an orchestrator. Templates in cfg override the
// built-in ones per agent.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("caller is required")
	}

	sources := maps.Clone(defaultTemplates)
	maps.Copy(sources, cfg.Supervisor.Templates)
	templates := make(map[string]*template.Template, len(sources))
	for name, src := range sources {
		t, err := template.New(name).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("invalid template for %s: %w", name, err)
		}
		templates[name] = t
	}

	defaults := cfg.Supervisor.DefaultAgents
	if len(defaults) == 0 {
		defaults = []string{config.KindKnowledge}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.For("supervisor")
	}

	return &Orchestrator{
		caller:    cfg.Caller,
		history:   NewHistory(cfg.Supervisor.HistorySize),
		templates: templates,
		defaults:  defaults,
		tracer:    cfg.Tracer,
		log:       log,
	}, nil
}

// History returns the conversation store.
func (o *Orchestrator) History() *History {
	return o.history
}

// stepResult is the outcome of one agent in a workflow.
type stepResult struct {
	agent  string
	result *AgentResult
	err    error
}

// Run executes one workflow. The returned error is non-nil only when
// progress reporting aborted the run; agent failures are reported in the
// output.
func (o *Orchestrator) Run(ctx context.Context, input map[string]any, rc agent.RunConfig, progress ProgressFunc) (*agent.Output, error) {
	if progress == nil {
		progress = func(*agent.Output) error { return nil }
	}

	contextID := workflowContextID(input, rc)
	query := agent.Query(input)

	if _, ok := input["history"]; ok {
		o.history.Replace(contextID, agent.History(input))
	}
	o.history.Append(contextID, agent.Messages(input)...)

	ctx, span := o.tracer.StartWorkflow(ctx, contextID)
	defer span.End()

	log := o.log.With("context_id", contextID, "task_id", rc.TaskID)
	log.Info("Starting workflow")
	start := time.Now()

	if err := progress(progressOutput("[PLANNER] planning started",
		map[string]any{"agent": config.KindPlanner, "phase": "start"})); err != nil {
		return nil, err
	}

	planned, err := o.call(ctx, config.KindPlanner, query, contextID)
	if err != nil {
		o.tracer.RecordError(span, err)
		log.Error("Planner failed", "error", err)
		out := agent.NewOutput(AgentType, agent.StatusFailed)
		out.Content = fmt.Sprintf("planner failed: %v", err)
		out.ErrorMessage = err.Error()
		out.Final = true
		return out, nil
	}

	agents := ParsePlan(planned, o.defaults)
	log.Info("Plan ready", "agents", agents)

	if err := progress(progressOutput(
		fmt.Sprintf("[SUPERVISOR] agents to execute: %s", strings.Join(agents, ", ")),
		map[string]any{"agents_to_execute": agents})); err != nil {
		return nil, err
	}

	steps := planStepCount(planned)
	if steps == 0 {
		steps = len(agents)
	}
	summary := fmt.Sprintf("[PLANNER] plan ready - %d steps", steps)
	if planned.Text != "" {
		summary += "\n" + planned.Text
	}
	if err := progress(progressOutput(summary, map[string]any{
		"agent":   config.KindPlanner,
		"summary": map[string]any{"plan_steps": steps},
	})); err != nil {
		return nil, err
	}

	results := []stepResult{{agent: config.KindPlanner, result: planned}}
	previous := planned.Text

	for _, name := range agents {
		if err := progress(progressOutput(
			fmt.Sprintf("[%s] agent started", strings.ToUpper(name)),
			map[string]any{"agent": name, "phase": "start"})); err != nil {
			return nil, err
		}

		text, err := o.render(name, query, previous)
		var res *AgentResult
		if err == nil {
			res, err = o.call(ctx, name, text, contextID)
		}

		step := stepResult{agent: name, result: res, err: err}
		results = append(results, step)
		if err != nil {
			log.Warn("Agent failed, continuing", "agent", name, "error", err)
			previous = ""
		} else {
			previous = res.Text
		}

		body := displayText(step)
		header := fmt.Sprintf("[%s] agent finished", strings.ToUpper(name))
		if body != "" {
			header += "\n" + body
		}
		data := map[string]any{"agent": name}
		if err != nil {
			data["error"] = err.Error()
		}
		if err := progress(progressOutput(header, data)); err != nil {
			return nil, err
		}
	}

	out := mergeResults(results)
	o.history.Append(contextID, agent.ChatMessage{Role: "assistant", Content: out.Content})
	log.Info("Workflow finished", "agents", len(results), "duration", time.Since(start))
	return out, nil
}

// workflowContextID prefers an id carried in the payload over the
// request's context id.
func workflowContextID(input map[string]any, rc agent.RunConfig) string {
	for _, key := range []string{"context_id", "conversation_id"} {
		if id, ok := input[key].(string); ok && id != "" {
			return id
		}
	}
	if rc.ContextID != "" {
		return rc.ContextID
	}
	return rc.TaskID
}

func (o *Orchestrator) render(name, query, previous string) (string, error) {
	t, ok := o.templates[name]
	if !ok {
		return query, nil
	}
	var b strings.Builder
	if err := t.Execute(&b, struct{ Query, Previous string }{query, previous}); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return b.String(), nil
}

func (o *Orchestrator) call(ctx context.Context, name, text, contextID string) (*AgentResult, error) {
	payload := agent.Request{
		Messages:       []agent.ChatMessage{{Role: "user", Content: text}},
		ConversationID: contextID,
		ContextID:      contextID,
		History:        o.history.Get(contextID),
	}.Map()

	res, err := o.caller.Call(ctx, name, payload, contextID)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res, nil
}

func progressOutput(text string, data map[string]any) *agent.Output {
	out := agent.NewOutput(AgentType, agent.StatusWorking)
	out.Content = text
	out.Data = data
	out.StreamEvent = true
	return out
}

// displayText is an agent's text, or a JSON preview of its data when it
// returned none.
func displayText(s stepResult) string {
	if s.err != nil {
		return "error: " + s.err.Error()
	}
	if s.result == nil {
		return ""
	}
	if s.result.Text != "" {
		return s.result.Text
	}

	var preview any
	if len(s.result.Data) > 0 {
		preview = s.result.Data
	} else if n := len(s.result.DataParts); n > 0 {
		preview = s.result.DataParts[n-1]
	}
	if preview == nil {
		return ""
	}
	b, err := json.Marshal(preview)
	if err != nil {
		return ""
	}
	return string(b)
}

func mergeResults(results []stepResult) *agent.Output {
	var (
		sections []string
		executed []string
		failed   []string
	)
	agentData := make(map[string]any, len(results))

	for _, s := range results {
		executed = append(executed, s.agent)
		if text := displayText(s); text != "" {
			sections = append(sections, fmt.Sprintf("[%s]\n%s", strings.ToUpper(s.agent), text))
		}

		entry := map[string]any{}
		if s.err != nil {
			failed = append(failed, s.agent)
			entry["error"] = s.err.Error()
		}
		if s.result != nil {
			entry["data_content"] = s.result.Data
			entry["data_parts"] = s.result.DataParts
		}
		agentData[s.agent] = entry
	}

	out := agent.NewOutput(AgentType, agent.StatusCompleted)
	out.Content = defaultMergedText
	if len(sections) > 0 {
		out.Content = strings.Join(sections, "\n\n")
	}
	if failed == nil {
		failed = []string{}
	}
	out.Data = map[string]any{
		"workflow_summary": map[string]any{
			"agents_executed": executed,
			"total_agents":    len(results),
			"failed_agents":   failed,
		},
		"agent_data": agentData,
	}
	out.Final = true
	return out
}
