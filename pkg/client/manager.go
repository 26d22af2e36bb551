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

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/merge"
	"github.com/kadirpekel/agentrelay/pkg/retry"
)

// ErrorStrategy controls SendParts when a part fails.
type ErrorStrategy string

const (
	// FailFast sends all parts in one message and stops at the first error.
	FailFast ErrorStrategy = "fail_fast"

	// ContinueOnError sends parts one by one, records failures and never
	// fails as a whole.
	ContinueOnError ErrorStrategy = "continue"

	// PartialSuccess sends parts one by one and fails only when no part
	// succeeded.
	PartialSuccess ErrorStrategy = "partial"
)

const (
	healthTimeout   = 5 * time.Second
	healthUserAgent = "agentrelay-manager/2.0"
)

// Manager owns an engine for one remote agent and the typed clients that
// use it. The engine can be replaced by EnsureConnection; the clients
// always use the current one.
type Manager struct {
	cfg        engine.Config
	opts       []engine.Option
	httpClient *http.Client
	log        *slog.Logger

	mu     sync.RWMutex
	engine *engine.Engine

	text *TextClient
	data *DataClient
	file *FileClient
}

// NewManager creates a manager for the agent at cfg.BaseURL. Call
// Initialize before sending.
func NewManager(cfg engine.Config, opts ...engine.Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		opts:       opts,
		httpClient: &http.Client{Timeout: healthTimeout},
		log:        logger.For("client").With("base_url", cfg.BaseURL),
	}
	m.text = NewTextClient(m)
	m.data = NewDataClient(m)
	m.file = NewFileClient(m)
	return m
}

// Initialize connects the engine.
func (m *Manager) Initialize(ctx context.Context) error {
	e, err := engine.New(ctx, m.cfg, m.opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.engine
	m.engine = e
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases the engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	e := m.engine
	m.engine = nil
	m.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.Close()
}

// Engine returns the current engine, or nil before Initialize.
func (m *Manager) Engine() *engine.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine
}

// Text returns the text client.
func (m *Manager) Text() *TextClient { return m.text }

// Data returns the data client.
func (m *Manager) Data() *DataClient { return m.data }

// File returns the file client.
func (m *Manager) File() *FileClient { return m.file }

// SendWithRetry implements Sender with the current engine.
func (m *Manager) SendWithRetry(ctx context.Context, msg *a2a.Message, cb engine.Callback) (*engine.UnifiedResponse, error) {
	e := m.Engine()
	if e == nil {
		return nil, engine.ErrNotInitialized
	}
	return e.SendWithRetry(ctx, msg, cb)
}

// Card returns the agent card, or nil before Initialize.
func (m *Manager) Card() *a2a.AgentCard {
	e := m.Engine()
	if e == nil {
		return nil
	}
	return e.Card()
}

// SkillInfo summarizes an agent skill.
type SkillInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AgentInfo summarizes an agent card.
type AgentInfo struct {
	Name               string                `json:"name"`
	Description        string                `json:"description"`
	URL                string                `json:"url"`
	Capabilities       a2a.AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string              `json:"default_input_modes"`
	DefaultOutputModes []string              `json:"default_output_modes"`
	Skills             []SkillInfo           `json:"skills"`
}

// AgentInfo returns a summary of the card. It is zero before Initialize.
func (m *Manager) AgentInfo() AgentInfo {
	card := m.Card()
	if card == nil {
		return AgentInfo{}
	}

	info := AgentInfo{
		Name:               card.Name,
		Description:        card.Description,
		URL:                card.URL,
		Capabilities:       card.Capabilities,
		DefaultInputModes:  card.DefaultInputModes,
		DefaultOutputModes: card.DefaultOutputModes,
	}
	for _, s := range card.Skills {
		info.Skills = append(info.Skills, SkillInfo{Name: s.Name, Description: s.Description})
	}
	return info
}

// HealthCheck fetches the agent card and reports whether it answered 200.
// It is false before Initialize.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if m.Engine() == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	url := strings.TrimRight(m.cfg.BaseURL, "/") + a2asrv.WellKnownAgentCardPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", healthUserAgent)
	req.Header.Set("Accept", "application/json; charset=utf-8")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Debug("Health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureConnection re-initializes the engine when the agent is unhealthy.
func (m *Manager) EnsureConnection(ctx context.Context) error {
	if m.HealthCheck(ctx) {
		return nil
	}
	m.log.Info("Connection lost, reconnecting")
	if err := m.Close(); err != nil {
		m.log.Warn("Failed to close engine", "error", err)
	}
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to reconnect to %s: %w", m.cfg.BaseURL, err)
	}
	return nil
}

// SendText sends text through the text client.
func (m *Manager) SendText(ctx context.Context, text string, opts ...SendOption) (*TextResponse, error) {
	return m.text.Send(ctx, text, nil, opts...)
}

// SendData sends a payload through the data client with smart merging.
func (m *Manager) SendData(ctx context.Context, data map[string]any, opts ...SendOption) (*DataResponse, error) {
	return m.data.Send(ctx, data, merge.ModeSmart, nil, opts...)
}

// SendFile sends a local file through the file client.
func (m *Manager) SendFile(ctx context.Context, path, mimeType string, opts ...SendOption) (*engine.FileResponse, error) {
	return m.file.SendPath(ctx, path, mimeType, opts...)
}

// SendParts sends several parts. With FailFast they travel in one
// message. Otherwise each part is sent on its own, failures are recorded
// in the response's Errors and later parts join the conversation of the
// first successful one.
func (m *Manager) SendParts(ctx context.Context, parts []a2a.Part, strategy ErrorStrategy, opts ...SendOption) (*engine.UnifiedResponse, error) {
	if len(parts) == 0 {
		return nil, retry.Invalid("no parts to send")
	}
	if strategy == "" || strategy == FailFast {
		return m.SendWithRetry(ctx, newMessage(parts, opts), nil)
	}

	combined := &engine.UnifiedResponse{}
	var (
		texts []string
		errs  []error
	)
	for i, part := range parts {
		msg := newMessage([]a2a.Part{part}, opts)
		if msg.ContextID == "" {
			msg.ContextID = combined.ContextID
		}

		resp, err := m.SendWithRetry(ctx, msg, nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return combined, ctxErr
			}
			pe := newPartError(i, part, err)
			m.log.Warn("Part failed", "index", i, "type", pe.PartType, "error", err)
			combined.Errors = append(combined.Errors, pe)
			errs = append(errs, pe)
			continue
		}

		combined.TextParts = append(combined.TextParts, resp.TextParts...)
		combined.DataParts = append(combined.DataParts, resp.DataParts...)
		combined.FileParts = append(combined.FileParts, resp.FileParts...)
		combined.EventCount += resp.EventCount
		if resp.MergedText != "" {
			texts = append(texts, resp.MergedText)
		}
		if combined.ContextID == "" {
			combined.ContextID = resp.ContextID
		}
		combined.TaskID = resp.TaskID
		combined.FinalState = resp.FinalState
	}

	combined.MergedText = strings.Join(texts, "\n")
	combined.MergedData = merge.Data(combined.DataParts, merge.ModeSmart)

	if strategy == PartialSuccess && len(errs) == len(parts) {
		return combined, fmt.Errorf("all %d parts failed: %w", len(parts), errors.Join(errs...))
	}
	return combined, nil
}

func newPartError(index int, part a2a.Part, err error) *engine.PartError {
	pe := &engine.PartError{
		Index:       index,
		PartType:    partType(part),
		Err:         err,
		Recoverable: retry.IsRetryable(err) || retry.IsRetryExhausted(err),
	}
	var retryErr *retry.RetryError
	if errors.As(err, &retryErr) {
		pe.RetryCount = retryErr.Attempts
	}
	return pe
}

func partType(p a2a.Part) string {
	switch p.(type) {
	case a2a.TextPart, *a2a.TextPart:
		return "text"
	case a2a.DataPart, *a2a.DataPart:
		return "data"
	case a2a.FilePart, *a2a.FilePart:
		return "file"
	default:
		return "unknown"
	}
}
