package supervisor

import (
	"sync"

	"github.com/kadirpekel/agentrelay/pkg/agent"
)

// History keeps a bounded conversation history per context id.
type History struct {
	max int

	mu    sync.Mutex
	byCtx map[string][]agent.ChatMessage
}

// NewHistory creates a history keeping at most limit messages per context.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 50
	}
	return &History{max: limit, byCtx: make(map[string][]agent.ChatMessage)}
}

// Append adds messages to a conversation. Messages without a role are
// skipped.
func (h *History) Append(contextID string, msgs ...agent.ChatMessage) {
	if contextID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.byCtx[contextID]
	for _, m := range msgs {
		if m.Role == "" {
			continue
		}
		hist = append(hist, m)
	}
	h.byCtx[contextID] = h.trim(hist)
}

// Replace sets the conversation to msgs. Client supplied history wins
// over what the supervisor recorded.
func (h *History) Replace(contextID string, msgs []agent.ChatMessage) {
	if contextID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byCtx[contextID] = h.trim(append([]agent.ChatMessage(nil), msgs...))
}

// Get returns a copy of the conversation.
func (h *History) Get(contextID string) []agent.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]agent.ChatMessage{}, h.byCtx[contextID]...)
}

func (h *History) trim(msgs []agent.ChatMessage) []agent.ChatMessage {
	if len(msgs) <= h.max {
		return msgs
	}
	return append([]agent.ChatMessage(nil), msgs[len(msgs)-h.max:]...)
}
