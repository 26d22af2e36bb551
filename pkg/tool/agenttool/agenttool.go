// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agenttool provides agents backed by a single tool.
//
// Each request is turned into exactly one tool call: the user query is
// mapped to tool arguments, the tool runs, and its text content becomes
// the agent output. The knowledge, browser and executor agents are built
// this way on top of MCP tools.
package agenttool

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/tool"
)

// maxStates bounds the run states kept for Snapshot.
const maxStates = 256

// ArgsFunc maps a query to tool arguments.
type ArgsFunc func(query string, rc agent.RunConfig) map[string]any

// Config configures a tool-backed agent.
type Config struct {
	Name        string
	Description string

	Toolset  tool.Toolset
	ToolName string

	// Args builds the tool arguments. Defaults to {"query": query}.
	Args ArgsFunc

	Logger *slog.Logger
}

// Agent calls one tool per request.
type Agent struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	states map[string]map[string]any
	order  []string
}

// New creates a tool-backed agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Toolset == nil {
		return nil, fmt.Errorf("toolset is required")
	}
	if cfg.ToolName == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ToolName
	}
	if cfg.Args == nil {
		cfg.Args = QueryArgs
	}
	log := cfg.Logger
	if log == nil {
		log = logger.For("agent")
	}
	return &Agent{
		cfg:    cfg,
		log:    log.With("agent", cfg.Name, "tool", cfg.ToolName),
		states: make(map[string]map[string]any),
	}, nil
}

// ArgsFor returns the argument mapping of an agent kind.
func ArgsFor(kind string) ArgsFunc {
	switch kind {
	case config.KindBrowser:
		return BrowserArgs
	case config.KindExecutor:
		return ExecutorArgs
	default:
		return QueryArgs
	}
}

// QueryArgs passes the query as is.
func QueryArgs(query string, _ agent.RunConfig) map[string]any {
	return map[string]any{"query": query}
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// BrowserArgs navigates to the first URL in the query. Queries without a
// URL are passed through for the browser to interpret.
func BrowserArgs(query string, _ agent.RunConfig) map[string]any {
	if u := urlPattern.FindString(query); u != "" {
		return map[string]any{"url": strings.TrimRight(u, ".,;)")}
	}
	return map[string]any{"url": query}
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:python|py)?\\s*\\n(.*?)```")

// ExecutorArgs runs the first fenced code block of the query, or the whole
// query, in a sandbox session scoped to the conversation.
func ExecutorArgs(query string, rc agent.RunConfig) map[string]any {
	code := query
	if m := codeBlockPattern.FindStringSubmatch(query); m != nil {
		code = strings.TrimSpace(m[1])
	}
	session := rc.ContextID
	if session == "" {
		session = "default"
	}
	return map[string]any{"code": code, "session_id": session}
}

// Name implements agent.Agent.
func (a *Agent) Name() string { return a.cfg.Name }

// Description implements agent.Agent.
func (a *Agent) Description() string { return a.cfg.Description }

// Execute implements agent.Agent.
func (a *Agent) Execute(ctx context.Context, input map[string]any, rc agent.RunConfig) (*agent.Output, error) {
	args, err := a.arguments(input, rc)
	if err != nil {
		return nil, err
	}
	out, err := a.call(ctx, args)
	if err != nil {
		return nil, err
	}
	a.remember(rc.TaskID, out)
	return out, nil
}

// Stream implements agent.Streamer. It reports the tool call before
// running it and yields the final output as the last event.
func (a *Agent) Stream(ctx context.Context, input map[string]any, rc agent.RunConfig) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		args, err := a.arguments(input, rc)
		if err != nil {
			yield(agent.Event{}, err)
			return
		}

		if !yield(agent.Event{
			Kind: agent.EventToolStart,
			Name: a.cfg.ToolName,
			Data: map[string]any{"arguments": args},
		}, nil) {
			return
		}

		out, err := a.call(ctx, args)
		if err != nil {
			yield(agent.Event{}, err)
			return
		}
		a.remember(rc.TaskID, out)
		yield(agent.Event{Kind: agent.EventToolEnd, Name: a.cfg.ToolName, Output: out}, nil)
	}
}

// Snapshot implements agent.Streamer.
func (a *Agent) Snapshot(_ context.Context, rc agent.RunConfig) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.states[rc.TaskID]
	if !ok {
		return nil, fmt.Errorf("no state for task %s", rc.TaskID)
	}
	return state, nil
}

// FormatStreamEvent implements agent.Agent.
func (a *Agent) FormatStreamEvent(ev agent.Event) *agent.Output {
	switch ev.Kind {
	case agent.EventToolStart:
		out := agent.NewOutput(a.cfg.Name, agent.StatusWorking)
		out.Content = fmt.Sprintf("calling %s", ev.Name)
		out.StreamEvent = true
		return out
	case agent.EventToolEnd:
		return ev.Output
	}
	return nil
}

// ExtractFinalOutput implements agent.Agent.
func (a *Agent) ExtractFinalOutput(state map[string]any) *agent.Output {
	status := agent.StatusCompleted
	if s, _ := state["status"].(string); s == string(agent.StatusFailed) {
		status = agent.StatusFailed
	}
	out := agent.NewOutput(a.cfg.Name, status)
	out.Content, _ = state["text_content"].(string)
	out.ErrorMessage, _ = state["error_message"].(string)
	if data, ok := state["data_content"].(map[string]any); ok {
		out.Data = data
	}
	out.Metadata["tool"] = a.cfg.ToolName
	out.Final = true
	return out
}

func (a *Agent) arguments(input map[string]any, rc agent.RunConfig) (map[string]any, error) {
	if args, ok := input["arguments"].(map[string]any); ok {
		return args, nil
	}
	query := strings.TrimSpace(agent.Query(input))
	if query == "" {
		return nil, fmt.Errorf("no query provided for %s", a.cfg.ToolName)
	}
	return a.cfg.Args(query, rc), nil
}

func (a *Agent) call(ctx context.Context, args map[string]any) (*agent.Output, error) {
	tools, err := a.cfg.Toolset.Tools(ctx)
	if err != nil {
		return nil, err
	}
	t := tool.Find(tools, a.cfg.ToolName)
	if t == nil {
		return nil, fmt.Errorf("tool %s not found in toolset %s", a.cfg.ToolName, a.cfg.Toolset.Name())
	}

	a.log.Debug("Calling tool", "arguments", args)
	res, err := t.Call(ctx, args)
	if err != nil {
		return nil, err
	}

	out := agent.NewOutput(a.cfg.Name, agent.StatusCompleted)
	out.Metadata["tool"] = a.cfg.ToolName
	out.Final = true
	if res.IsError {
		out.Status = agent.StatusFailed
		out.ErrorMessage = res.Text()
		a.log.Warn("Tool reported an error", "error", out.ErrorMessage)
		return out, nil
	}
	out.Content = res.Text()
	if len(res.Structured) > 0 {
		out.Data = res.Structured
	}
	return out, nil
}

// remember keeps the last output of a task for Snapshot.
func (a *Agent) remember(taskID string, out *agent.Output) {
	if taskID == "" {
		return
	}
	state := map[string]any{
		"status":        string(out.Status),
		"text_content":  out.Content,
		"error_message": out.ErrorMessage,
	}
	if out.Data != nil {
		state["data_content"] = out.Data
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.states[taskID]; !ok {
		a.order = append(a.order, taskID)
	}
	a.states[taskID] = state
	for len(a.order) > maxStates {
		delete(a.states, a.order[0])
		a.order = a.order[1:]
	}
}

var (
	_ agent.Agent    = (*Agent)(nil)
	_ agent.Streamer = (*Agent)(nil)
)
