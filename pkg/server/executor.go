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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/task"
)

// Execution modes.
const (
	ModeBlocking  = "blocking"
	ModeStreaming = "streaming"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Agent agent.Agent

	// Streaming enables streamed execution for agents that implement
	// agent.Streamer.
	Streaming bool

	Tracer  *observability.Tracer
	Metrics observability.Metrics
	Logger  *slog.Logger
}

// Executor runs an agent for every A2A task.
type Executor struct {
	agent     agent.Agent
	streaming bool
	tracer    *observability.Tracer
	metrics   observability.Metrics
	log       *slog.Logger

	mu   sync.Mutex
	runs map[a2a.TaskID]*run
}

// run is one in-flight execution.
type run struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// NewExecutor creates an executor for cfg.Agent.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.GetGlobalMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.For("server")
	}
	return &Executor{
		agent:     cfg.Agent,
		streaming: cfg.Streaming,
		tracer:    cfg.Tracer,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		runs:      make(map[a2a.TaskID]*run),
	}
}

// Agent returns the executed agent.
func (e *Executor) Agent() agent.Agent {
	return e.agent
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.execute(ctx, reqCtx, queue)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.cancelTask(ctx, reqCtx, queue)
}

func (e *Executor) execute(ctx context.Context, reqCtx *a2asrv.RequestContext, sink eventSink) error {
	if reqCtx.Message == nil {
		return fmt.Errorf("message not provided")
	}
	if st := reqCtx.StoredTask; st != nil && task.IsTerminal(st.Status.State) {
		return fmt.Errorf("%w: task %s is %s", task.ErrTerminalState, st.ID, st.Status.State)
	}

	start := time.Now()
	name := e.agent.Name()
	meta := toInvocationMeta(reqCtx)
	streamer, mode := e.mode(meta)

	ctx, span := e.tracer.StartExecute(ctx, name, string(reqCtx.TaskID), reqCtx.ContextID, mode)
	defer span.End()

	log := e.log.With("task_id", reqCtx.TaskID, "context_id", reqCtx.ContextID, "agent", name)
	log.Info("Executing task", "mode", mode, "user_id", meta.userID)

	w := newEventWriter(sink, reqCtx, log)
	if reqCtx.StoredTask == nil {
		if err := w.status(ctx, a2a.TaskStateSubmitted, nil, false, nil); err != nil {
			return fmt.Errorf("failed to write submitted state: %w", err)
		}
	}
	if err := w.status(ctx, a2a.TaskStateWorking, nil, false, map[string]any{
		metaKeyAgent: name,
		metaKeyMode:  mode,
	}); err != nil {
		return fmt.Errorf("failed to write working state: %w", err)
	}

	runCtx, r := e.register(ctx, reqCtx.TaskID)
	defer e.unregister(reqCtx.TaskID, r)

	input := NormalizeInput(reqCtx.Message)
	rc := agent.RunConfig{
		TaskID:    string(reqCtx.TaskID),
		ContextID: reqCtx.ContextID,
		User:      meta.userID,
		Metadata:  reqCtx.Message.Metadata,
	}

	var (
		out *agent.Output
		err error
	)
	if streamer != nil {
		out, err = e.stream(runCtx, w, streamer, input, rc, r)
	} else {
		out, err = e.agent.Execute(runCtx, input, rc)
	}

	if r.stopped.Load() {
		log.Info("Task canceled during execution")
		e.metrics.RecordTask(ctx, name, string(a2a.TaskStateCanceled), time.Since(start))
		return nil
	}
	if err != nil {
		return e.fail(ctx, w, span, err, start)
	}
	return e.finish(ctx, w, span, out, start)
}

// mode picks streaming only when it is enabled, the agent can stream and
// the caller did not ask to block.
func (e *Executor) mode(meta invocationMeta) (agent.Streamer, string) {
	if !e.streaming || meta.blocking {
		return nil, ModeBlocking
	}
	s, ok := e.agent.(agent.Streamer)
	if !ok {
		return nil, ModeBlocking
	}
	return s, ModeStreaming
}

// stream forwards formatted events as working updates and returns the
// final output. A completed or failed output ends the stream. Without an explicit end the output is rebuilt from the
// agent's state snapshot.
func (e *Executor) stream(ctx context.Context, w *eventWriter, s agent.Streamer, input map[string]any, rc agent.RunConfig, r *run) (*agent.Output, error) {
	var (
		last      *agent.Output
		completed bool
		events    int
	)

	for ev, err := range s.Stream(ctx, input, rc) {
		if err != nil {
			return nil, err
		}
		if r.stopped.Load() {
			return last, nil
		}
		events++

		out := ev.Output
		if out == nil {
			out = e.agent.FormatStreamEvent(ev)
		}
		if out != nil {
			last = out
			if out.Final {
				completed = true
				w.log.Debug("Completion detected from agent", "events", events)
				break
			}
			if state := out.Status.TaskState(); task.IsTerminal(state) {
				completed = true
				w.log.Debug("Completion detected from output status", "state", state, "events", events)
				break
			}
			if err := e.progress(ctx, w, out); err != nil {
				return nil, err
			}
		}

		if agent.IsCompletionEvent(ev) {
			completed = true
			w.log.Debug("Completion detected from event pattern", "node", ev.Name, "events", events)
			break
		}
	}

	if err := ctx.Err(); err != nil && !r.stopped.Load() {
		return nil, err
	}
	if completed && last != nil {
		return last, nil
	}

	w.log.Debug("Stream ended without completion, extracting final state", "events", events)
	state, err := s.Snapshot(ctx, rc)
	if err != nil {
		if last != nil {
			w.log.Warn("Failed to snapshot agent state, using last output", "error", err)
			return last, nil
		}
		return nil, fmt.Errorf("failed to snapshot agent state: %w", err)
	}
	return e.agent.ExtractFinalOutput(state), nil
}

func (e *Executor) progress(ctx context.Context, w *eventWriter, out *agent.Output) error {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, w.reqCtx, out.Parts()...)
	return w.status(ctx, a2a.TaskStateWorking, msg, false, map[string]any{
		metaKeyAgent:       out.AgentType,
		metaKeyStreamEvent: true,
	})
}

// finish writes the result artifact and the terminal status. Outputs still
// working when the agent returns complete the task.
func (e *Executor) finish(ctx context.Context, w *eventWriter, span trace.Span, out *agent.Output, start time.Time) error {
	if out == nil {
		out = agent.NewOutput(e.agent.Name(), agent.StatusCompleted)
	}
	ctx = context.WithoutCancel(ctx)

	if out.Status == agent.StatusFailed {
		if err := w.artifact(ctx, out.Parts(), true); err != nil {
			w.log.Warn("Failed to write failure output", "error", err)
		}
		return e.fail(ctx, w, span, outputError(out), start)
	}

	if err := w.artifact(ctx, out.Parts(), true); err != nil {
		return e.fail(ctx, w, span, err, start)
	}
	if err := w.status(ctx, a2a.TaskStateCompleted, nil, true, nil); err != nil {
		return e.fail(ctx, w, span, err, start)
	}

	duration := time.Since(start)
	e.metrics.RecordTask(ctx, e.agent.Name(), string(a2a.TaskStateCompleted), duration)
	w.log.Info("Task completed", "duration", duration)
	return nil
}

// fail reports cause as a failed task. The error is returned only when the
// failure itself could not be reported.
func (e *Executor) fail(ctx context.Context, w *eventWriter, span trace.Span, cause error, start time.Time) error {
	e.tracer.RecordError(span, cause)
	w.log.Error("Task failed", "error", cause)

	ctx = context.WithoutCancel(ctx)
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, w.reqCtx,
		a2a.TextPart{Text: "error occurred: " + cause.Error()})

	if err := w.status(ctx, a2a.TaskStateFailed, msg, true, map[string]any{
		metaKeyErrorType: fmt.Sprintf("%T", cause),
	}); err != nil {
		w.log.Error("Failed to report task failure", "error", err)
		return errors.Join(cause, fmt.Errorf("failed to write error event: %w", err))
	}

	e.metrics.RecordTask(ctx, e.agent.Name(), string(a2a.TaskStateFailed), time.Since(start))
	return nil
}

// outputError is the error carried by a failed output.
func outputError(out *agent.Output) error {
	switch {
	case out.ErrorMessage != "":
		return errors.New(out.ErrorMessage)
	case out.Content != "":
		return errors.New(out.Content)
	default:
		return fmt.Errorf("%s reported failure", out.AgentType)
	}
}

func (e *Executor) cancelTask(ctx context.Context, reqCtx *a2asrv.RequestContext, sink eventSink) error {
	if st := reqCtx.StoredTask; st != nil && task.IsTerminal(st.Status.State) {
		return fmt.Errorf("%w: task %s is %s", a2a.ErrTaskNotCancelable, st.ID, st.Status.State)
	}

	stopped := e.stop(reqCtx.TaskID)
	e.log.Info("Canceling task", "task_id", reqCtx.TaskID, "running", stopped)

	w := newEventWriter(sink, reqCtx, e.log)
	if err := w.status(ctx, a2a.TaskStateCanceled, nil, true, nil); err != nil {
		return fmt.Errorf("failed to write canceled state: %w", err)
	}
	return nil
}

func (e *Executor) register(ctx context.Context, id a2a.TaskID) (context.Context, *run) {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()
	return ctx, r
}

func (e *Executor) unregister(id a2a.TaskID, r *run) {
	e.mu.Lock()
	if e.runs[id] == r {
		delete(e.runs, id)
	}
	e.mu.Unlock()
	r.cancel()
}

// stop marks the task's run as stopped and cancels its context. It
// reports whether a run was in flight.
func (e *Executor) stop(id a2a.TaskID) bool {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	r.stopped.Store(true)
	r.cancel()
	return true
}

// Running returns the number of in-flight tasks.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
