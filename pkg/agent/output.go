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

package agent

import (
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
)

// Status is the progress an Output reports.
type Status string

const (
	StatusWorking       Status = "working"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusInputRequired Status = "input_required"
)

// TaskState maps s to the A2A task state. Unknown statuses map to working,
// so nothing is marked done by accident.
func (s Status) TaskState() a2a.TaskState {
	switch s {
	case StatusCompleted:
		return a2a.TaskStateCompleted
	case StatusFailed:
		return a2a.TaskStateFailed
	default:
		return a2a.TaskStateWorking
	}
}

// Output is the standardized result of one unit of agent work, streamed
// or final. A Final output supersedes everything streamed before it.
type Output struct {
	AgentType        string         `json:"agent_type"`
	Status           Status         `json:"status" jsonschema:"enum=working,enum=completed,enum=failed,enum=input_required"`
	Content          string         `json:"text_content,omitempty"`
	Data             map[string]any `json:"data_content,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	StreamEvent      bool           `json:"stream_event"`
	Final            bool           `json:"final"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
}

// NewOutput creates an Output with an empty metadata map.
func NewOutput(agentType string, status Status) *Output {
	return &Output{
		AgentType: agentType,
		Status:    status,
		Metadata:  map[string]any{},
	}
}

// Parts converts o to message parts: a text part, a data part, or both.
// An output without content yields a single text part naming the agent
// and status.
func (o *Output) Parts() []a2a.Part {
	var parts []a2a.Part
	if o.Content != "" {
		parts = append(parts, a2a.TextPart{Text: o.Content})
	}
	if len(o.Data) > 0 {
		parts = append(parts, a2a.DataPart{Data: o.Data})
	}
	if len(parts) > 0 {
		return parts
	}

	agentType := o.AgentType
	if agentType == "" {
		agentType = "Agent"
	}
	status := o.Status
	if status == "" {
		status = StatusWorking
	}
	fallback := fmt.Sprintf("%s - %s", agentType, status)
	if o.ErrorMessage != "" {
		fallback += ": " + o.ErrorMessage
	}
	return []a2a.Part{a2a.TextPart{Text: fallback}}
}

// Message wraps Parts in an agent message.
func (o *Output) Message() *a2a.Message {
	return a2a.NewMessage(a2a.MessageRoleAgent, o.Parts()...)
}

// FormatError reports err as a final failed output. where, if set,
// names the step that failed.
func FormatError(agentType string, err error, where string) *Output {
	msg := fmt.Sprintf("%T: %v", err, err)
	if where != "" {
		msg = where + ": " + msg
	}

	out := NewOutput(agentType, StatusFailed)
	out.Content = fmt.Sprintf("an error occurred: %v", err)
	out.Metadata["error_type"] = fmt.Sprintf("%T", err)
	out.Metadata["context"] = where
	out.Final = true
	out.ErrorMessage = msg
	return out
}
