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

import "fmt"

// ChatMessage is one conversation turn in a structured payload.
type ChatMessage struct {
	Role    string `json:"role" jsonschema:"enum=user,enum=assistant,enum=system"`
	Content string `json:"content"`
}

// Request is the structured payload agents accept in a data part. Text-only
// messages are normalized to a Request with a single user message.
type Request struct {
	Messages       []ChatMessage `json:"messages"`
	ConversationID string        `json:"conversation_id,omitempty"`
	ContextID      string        `json:"context_id,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
}

// Map returns r in the input form passed to Agent.Execute.
func (r Request) Map() map[string]any {
	m := map[string]any{"messages": messageList(r.Messages)}
	if r.ConversationID != "" {
		m["conversation_id"] = r.ConversationID
	}
	if r.ContextID != "" {
		m["context_id"] = r.ContextID
	}
	if r.History != nil {
		m["history"] = messageList(r.History)
	}
	return m
}

func messageList(msgs []ChatMessage) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{"role": m.Role, "content": m.Content})
	}
	return out
}

// TextInput is the input for a plain text request.
func TextInput(text string) map[string]any {
	return Request{Messages: []ChatMessage{{Role: "user", Content: text}}}.Map()
}

// Messages decodes input["messages"]. Entries that are not role/content
// mappings are skipped.
func Messages(input map[string]any) []ChatMessage {
	return decodeMessages(input["messages"])
}

// History decodes input["history"].
func History(input map[string]any) []ChatMessage {
	return decodeMessages(input["history"])
}

func decodeMessages(v any) []ChatMessage {
	var out []ChatMessage
	switch list := v.(type) {
	case []ChatMessage:
		return list
	case []map[string]any:
		for _, m := range list {
			out = append(out, chatMessage(m))
		}
	case []any:
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, chatMessage(m))
			}
		}
	}
	return out
}

func chatMessage(m map[string]any) ChatMessage {
	return ChatMessage{Role: stringOf(m["role"]), Content: stringOf(m["content"])}
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Query returns the text the agent should act on: the content of the last
// user message, else the last message, else input["query"].
func Query(input map[string]any) string {
	msgs := Messages(input)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	if n := len(msgs); n > 0 && msgs[n-1].Content != "" {
		return msgs[n-1].Content
	}
	return stringOf(input["query"])
}
