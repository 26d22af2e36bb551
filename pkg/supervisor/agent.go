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
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/kadirpekel/agentrelay/pkg/agent"
)

// maxSnapshots bounds the final outputs kept for Snapshot.
const maxSnapshots = 256

var errStopped = errors.New("stream consumer stopped")

// Agent serves an Orchestrator as an A2A agent. Streamed runs report
// every workflow step as a working output.
type Agent struct {
	orch *Orchestrator

	mu        sync.Mutex
	snapshots map[string]*agent.Output
	order     []string
}

// NewAgent wraps orch.
func NewAgent(orch *Orchestrator) *Agent {
	return &Agent{orch: orch, snapshots: make(map[string]*agent.Output)}
}

// Name implements agent.Agent.
func (a *Agent) Name() string { return AgentType }

// Description implements agent.Agent.
func (a *Agent) Description() string {
	return "Plans a request and coordinates the specialist agents that carry it out"
}

// Execute implements agent.Agent.
func (a *Agent) Execute(ctx context.Context, input map[string]any, rc agent.RunConfig) (*agent.Output, error) {
	out, err := a.orch.Run(ctx, input, rc, nil)
	if err != nil {
		return nil, err
	}
	a.remember(rc.TaskID, out)
	return out, nil
}

// Stream implements agent.Streamer.
func (a *Agent) Stream(ctx context.Context, input map[string]any, rc agent.RunConfig) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		out, err := a.orch.Run(ctx, input, rc, func(p *agent.Output) error {
			if !yield(agent.Event{Kind: agent.EventProgress, Name: AgentType, Output: p}, nil) {
				return errStopped
			}
			return nil
		})
		if errors.Is(err, errStopped) {
			return
		}
		if err != nil {
			yield(agent.Event{}, err)
			return
		}
		a.remember(rc.TaskID, out)
		yield(agent.Event{Kind: agent.EventChainEnd, Name: "aggregate", Output: out}, nil)
	}
}

// Snapshot implements agent.Streamer.
func (a *Agent) Snapshot(_ context.Context, rc agent.RunConfig) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out, ok := a.snapshots[rc.TaskID]
	if !ok {
		return nil, fmt.Errorf("no workflow state for task %s", rc.TaskID)
	}
	return map[string]any{
		"status":        string(out.Status),
		"text_content":  out.Content,
		"data_content":  out.Data,
		"error_message": out.ErrorMessage,
	}, nil
}

// FormatStreamEvent implements agent.Agent.
func (a *Agent) FormatStreamEvent(ev agent.Event) *agent.Output {
	return ev.Output
}

// ExtractFinalOutput implements agent.Agent.
func (a *Agent) ExtractFinalOutput(state map[string]any) *agent.Output {
	status := agent.StatusCompleted
	if s, _ := state["status"].(string); s == string(agent.StatusFailed) {
		status = agent.StatusFailed
	}
	out := agent.NewOutput(AgentType, status)
	out.Content, _ = state["text_content"].(string)
	out.ErrorMessage, _ = state["error_message"].(string)
	out.Data, _ = state["data_content"].(map[string]any)
	if out.Content == "" && out.Data == nil {
		out.Content = defaultMergedText
	}
	out.Final = true
	return out
}

func (a *Agent) remember(taskID string, out *agent.Output) {
	if taskID == "" || out == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.snapshots[taskID]; !ok {
		a.order = append(a.order, taskID)
	}
	a.snapshots[taskID] = out
	for len(a.order) > maxSnapshots {
		delete(a.snapshots, a.order[0])
		a.order = a.order[1:]
	}
}

var (
	_ agent.Agent    = (*Agent)(nil)
	_ agent.Streamer = (*Agent)(nil)
)
