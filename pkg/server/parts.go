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

package server

import (
	"maps"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/agentrelay/pkg/agent"
)

// NormalizeInput turns an incoming message into agent input. The payload
// of the last data part wins. Otherwise the text parts become a single
// user message. A message with neither yields an empty message list.
func NormalizeInput(msg *a2a.Message) map[string]any {
	if msg == nil {
		return emptyInput()
	}

	var (
		payload map[string]any
		texts   []string
	)
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.DataPart:
			if len(p.Data) > 0 {
				payload = p.Data
			}
		case *a2a.DataPart:
			if p != nil && len(p.Data) > 0 {
				payload = p.Data
			}
		case a2a.TextPart:
			texts = append(texts, p.Text)
		case *a2a.TextPart:
			if p != nil {
				texts = append(texts, p.Text)
			}
		}
	}

	if payload != nil {
		return maps.Clone(payload)
	}
	if query := strings.TrimSpace(strings.Join(texts, "\n")); query != "" {
		return agent.TextInput(query)
	}
	return emptyInput()
}

func emptyInput() map[string]any {
	return map[string]any{"messages": []any{}}
}
