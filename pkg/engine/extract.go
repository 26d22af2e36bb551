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

package engine

import (
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/agentrelay/pkg/merge"
)

// extract replaces streamed content with the settled task's content.
// Artifacts win; the most recent agent message is used only when the
// artifacts carry neither text nor data.
func (e *Engine) extract(task *a2a.Task, resp *UnifiedResponse) {
	if task.ContextID != "" {
		resp.ContextID = task.ContextID
	}
	resp.FinalState = task.Status.State

	text, data, file := lastOfEach(artifactParts(task.Artifacts))
	if text == "" && len(data) == 0 {
		if m := lastAgentMessage(task.History); m != nil {
			text, data, file = lastOfEach(m.Parts)
		}
	}

	if text != "" {
		resp.TextParts = []string{text}
		resp.accumulated = text
	}
	if len(data) > 0 {
		resp.DataParts = []map[string]any{data}
	}
	if file != nil {
		resp.FileParts = []FileResponse{*file}
	}
}

func lastAgentMessage(history []*a2a.Message) *a2a.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if isAgent(history[i]) {
			return history[i]
		}
	}
	return nil
}

func (e *Engine) finalize(resp *UnifiedResponse) {
	resp.MergedText = strings.TrimSpace(resp.accumulated)
	resp.MergedData = merge.Data(resp.DataParts, merge.ModeSmart)
}
