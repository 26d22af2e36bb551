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

// Package engine sends A2A messages to one remote agent and reconciles the
// streamed events and the final task into a single UnifiedResponse.
//
// Every send creates a new remote task. After the stream ends the engine
// polls tasks/get until the task settles, because streaming servers often
// stop emitting events before the final artifacts are written. The polled
// task is authoritative: its artifacts replace whatever text and data were
// streamed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"github.com/google/uuid"

	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/merge"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/retry"
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "agentrelay-engine/2.0"

// ErrNotInitialized is returned by methods called on a closed or zero Engine.
var ErrNotInitialized = errors.New("engine not initialized")

// Engine talks to one remote agent. It is safe for concurrent use; each
// SendMessage call owns its own UnifiedResponse.
type Engine struct {
	cfg  Config
	name string

	mu        sync.RWMutex
	card      *a2a.AgentCard
	transport Transport

	httpClient   *http.Client
	ownsClient   bool
	credentials  CredentialProvider
	retry        *retry.Executor
	observer     retry.Observer
	metrics      observability.Metrics
	tracer       *observability.Tracer
	log          *slog.Logger
	fingerprints *fingerprintLog

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport injects the A2A transport instead of building one from the
// resolved card. The engine takes ownership and destroys it on Close.
func WithTransport(t Transport) Option {
	return func(e *Engine) {
		e.transport = t
	}
}

// WithCard skips agent card resolution.
func WithCard(card *a2a.AgentCard) Option {
	return func(e *Engine) {
		e.card = card
	}
}

// WithHTTPClient replaces the engine's HTTP client. Default and credential
// headers are not applied to a caller-supplied client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// WithCredentials installs a per-request header hook.
func WithCredentials(p CredentialProvider) Option {
	return func(e *Engine) {
		e.credentials = p
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithRetryObserver receives retry decisions of SendWithRetry.
func WithRetryObserver(o retry.Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New resolves the agent card at cfg.BaseURL and connects to the agent.
// Resources acquired before a failure are released.
func New(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if !cfg.IsDocker {
		cfg.IsDocker = InDocker()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:   cfg,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.For("engine")
	}
	if e.metrics == nil {
		e.metrics = observability.GetGlobalMetrics()
	}
	if e.observer == nil {
		e.observer = e.metrics
	}
	e.retry = retry.New(cfg.Retry, retry.WithObserver(e.observer))
	e.fingerprints = newFingerprintLog(cfg.FingerprintLogSize)

	if e.httpClient == nil {
		e.httpClient = newHTTPClient(&cfg, e.credentials)
		e.ownsClient = true
	}

	if err := e.connect(ctx); err != nil {
		e.release()
		return nil, err
	}

	e.name = e.card.Name
	if e.name == "" {
		e.name = cfg.BaseURL
	}
	e.log = e.log.With("agent", e.name)
	e.log.Debug("Engine initialized", "url", e.card.URL)
	return e, nil
}

func (e *Engine) connect(ctx context.Context) error {
	if e.card == nil {
		card, err := agentcard.NewResolver(e.httpClient).Resolve(ctx, e.cfg.BaseURL)
		if err != nil {
			err = fmt.Errorf("failed to resolve agent card from %s: %w", e.cfg.BaseURL, err)
			if retry.KindOf(err) == retry.KindPermanent {
				return err
			}
			return retry.Transient(err)
		}
		e.card = card
	}

	if !e.cfg.IsDocker {
		e.card = rewriteCardURL(e.card, e.cfg.dockerHosts())
	}

	if e.transport != nil {
		return nil
	}
	client, err := a2aclient.NewFromCard(ctx, e.card, a2aclient.WithJSONRPCTransport(e.httpClient))
	if err != nil {
		return fmt.Errorf("failed to create a2a client: %w", err)
	}
	e.transport = client
	return nil
}

// rewriteCardURL points a card advertising a container hostname at
// localhost. The input card is not modified.
func rewriteCardURL(card *a2a.AgentCard, hosts []string) *a2a.AgentCard {
	u, err := url.Parse(card.URL)
	if err != nil || !slices.Contains(hosts, u.Hostname()) {
		return card
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort("localhost", port)
	} else {
		u.Host = "localhost"
	}
	c := *card
	c.URL = u.String()
	return &c
}

func newHTTPClient(cfg *Config, credentials CredentialProvider) *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxConnsPerHost:       cfg.MaxConns,
		MaxIdleConns:          cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
	}

	defaults := map[string]string{
		"User-Agent": cfg.UserAgent,
		"Accept":     "application/json; charset=utf-8",
	}
	maps.Copy(defaults, cfg.Headers)

	return &http.Client{
		Transport: &headerTransport{
			base:        base,
			defaults:    defaults,
			credentials: credentials,
		},
	}
}

// SendMessage sends msg as a new task and returns the reconciled result.
// cb, if not nil, receives text deltas and data fragments as they arrive.
//
// Polling that never observes a settled task is not an error: the
// streamed content is returned and a warning is logged.
func (e *Engine) SendMessage(ctx context.Context, msg *a2a.Message, cb Callback) (*UnifiedResponse, error) {
	transport := e.currentTransport()
	if transport == nil {
		return nil, ErrNotInitialized
	}
	if msg == nil || len(msg.Parts) == 0 {
		return nil, retry.Invalid("message has no parts")
	}

	start := time.Now()
	resp := &UnifiedResponse{Fingerprint: Fingerprint(msg)}
	e.fingerprints.add(resp.Fingerprint)

	ctx, span := e.tracer.StartSend(ctx, e.name, resp.Fingerprint)
	defer span.End()

	out := *msg
	out.TaskID = ""
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Role == "" {
		out.Role = a2a.MessageRoleUser
	}
	params := &a2a.MessageSendParams{Message: &out}

	e.log.Debug("Sending message", "fingerprint", resp.Fingerprint, "parts", len(out.Parts))

	err := e.consume(ctx, transport, params, resp, cb)
	if err == nil {
		if resp.TaskID == "" {
			e.log.Warn("No task id received, skipping completion poll", "fingerprint", resp.Fingerprint)
		} else if task := e.poll(ctx, transport, resp.TaskID); task != nil {
			e.extract(task, resp)
		}
	}

	e.finalize(resp)
	e.metrics.RecordSend(ctx, e.name, time.Since(start), resp.EventCount, err)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, err
	}

	e.log.Debug("Message completed",
		"task_id", resp.TaskID,
		"events", resp.EventCount,
		"text_len", len(resp.MergedText),
		"data_parts", len(resp.DataParts))
	return resp, nil
}

// SendWithRetry is SendMessage under the engine's retry policy. Retried
// attempts get a fresh message id.
func (e *Engine) SendWithRetry(ctx context.Context, msg *a2a.Message, cb Callback) (*UnifiedResponse, error) {
	if e == nil || e.retry == nil {
		return nil, ErrNotInitialized
	}
	attempt := 0
	return retry.DoWithResult(ctx, e.retry, "send_message", func(ctx context.Context) (*UnifiedResponse, error) {
		m := msg
		if attempt > 0 && msg != nil {
			c := *msg
			c.ID = uuid.NewString()
			m = &c
		}
		attempt++
		return e.SendMessage(ctx, m, cb)
	})
}

func (e *Engine) consume(ctx context.Context, t Transport, params *a2a.MessageSendParams, resp *UnifiedResponse, cb Callback) error {
	if e.blocking() {
		result, err := t.SendMessage(ctx, params)
		if err != nil {
			return classify(fmt.Errorf("message/send failed: %w", err))
		}
		switch v := result.(type) {
		case *a2a.Task:
			return e.handle(ctx, v, resp, cb)
		case *a2a.Message:
			return e.handle(ctx, v, resp, cb)
		}
		return nil
	}

	for event, err := range t.SendStreamingMessage(ctx, params) {
		if err != nil {
			return classify(fmt.Errorf("message/stream failed: %w", err))
		}
		if err := e.handle(ctx, event, resp, cb); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) blocking() bool {
	if e.cfg.Blocking {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.card != nil && !e.card.Capabilities.Streaming
}

// handle folds one raw event into resp, in arrival order.
func (e *Engine) handle(ctx context.Context, event a2a.Event, resp *UnifiedResponse, cb Callback) error {
	resp.EventCount++

	for _, se := range Decode(event) {
		switch v := se.(type) {
		case TaskMeta:
			if resp.TaskID == "" && v.TaskID != "" {
				resp.TaskID = v.TaskID
				e.log.Debug("Task created", "task_id", v.TaskID)
			}
			if v.ContextID != "" {
				resp.ContextID = v.ContextID
			}
			if v.State != "" {
				resp.FinalState = v.State
			}

		case TextDelta:
			merged := resp.accumulated + v.Text
			if !v.Append {
				merged = merge.Text(resp.accumulated, v.Text)
			}
			delta := merge.Delta(resp.accumulated, merged)
			resp.accumulated = merged
			if delta == "" {
				continue
			}
			resp.TextParts = append(resp.TextParts, delta)
			if err := emit(ctx, cb, Chunk{Type: ChunkText, Content: delta}); err != nil {
				return err
			}

		case DataFragment:
			resp.DataParts = append(resp.DataParts, v.Data)
			if err := emit(ctx, cb, Chunk{Type: ChunkData, Content: v.Data}); err != nil {
				return err
			}

		case FileFragment:
			resp.FileParts = append(resp.FileParts, v.File)
			if err := emit(ctx, cb, Chunk{Type: ChunkFile, Content: v.File}); err != nil {
				return err
			}
		}
	}
	return nil
}

func emit(ctx context.Context, cb Callback, chunk Chunk) error {
	if cb == nil {
		return nil
	}
	if err := cb(ctx, chunk); err != nil {
		return retry.Permanent(fmt.Errorf("stream callback failed: %w", err))
	}
	return nil
}

// Cancel asks the agent to cancel a task.
func (e *Engine) Cancel(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	transport := e.currentTransport()
	if transport == nil {
		return nil, ErrNotInitialized
	}
	task, err := transport.CancelTask(ctx, &a2a.TaskIDParams{ID: taskID})
	if err != nil {
		return nil, classify(fmt.Errorf("tasks/cancel %s failed: %w", taskID, err))
	}
	return task, nil
}

// Card returns the resolved agent card.
func (e *Engine) Card() *a2a.AgentCard {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.card
}

// Name is the remote agent's name, or its base URL when the card has none.
func (e *Engine) Name() string {
	if e == nil {
		return ""
	}
	return e.name
}

// Fingerprints returns the recorded request fingerprints, oldest first.
func (e *Engine) Fingerprints() []string {
	if e == nil || e.fingerprints == nil {
		return nil
	}
	return e.fingerprints.snapshot()
}

// Close destroys the transport and releases idle connections. Further
// calls return ErrNotInitialized.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.release()
}

func (e *Engine) release() error {
	e.mu.Lock()
	transport := e.transport
	e.transport = nil
	e.mu.Unlock()

	var err error
	if transport != nil {
		err = transport.Destroy()
	}
	if e.ownsClient && e.httpClient != nil {
		e.httpClient.CloseIdleConnections()
	}
	return err
}

func (e *Engine) currentTransport() Transport {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
