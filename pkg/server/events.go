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
	"fmt"
	"log/slog"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/agentrelay/pkg/task"
)

// Metadata keys for A2A events.
const (
	metaKeyAgent       = "agent_type"
	metaKeyMode        = "mode"
	metaKeyStreamEvent = "stream_event"
	metaKeyUserID      = "user_id"
	metaKeyBlocking    = "blocking"
	metaKeyErrorType   = "error_type"
)

const defaultUserID = "default"

// invocationMeta contains metadata for an invocation.
type invocationMeta struct {
	userID    string
	contextID string
	blocking  bool
}

func toInvocationMeta(reqCtx *a2asrv.RequestContext) invocationMeta {
	meta := invocationMeta{contextID: reqCtx.ContextID}

	if reqCtx.Message != nil && reqCtx.Message.Metadata != nil {
		if uid, ok := reqCtx.Message.Metadata[metaKeyUserID].(string); ok {
			meta.userID = uid
		}
		switch v := reqCtx.Message.Metadata[metaKeyBlocking].(type) {
		case bool:
			meta.blocking = v
		case string:
			meta.blocking = v == "true"
		}
	}

	if meta.userID == "" {
		meta.userID = defaultUserID
	}
	return meta
}

// eventSink is the write side of an eventqueue.Queue.
type eventSink interface {
	Write(ctx context.Context, event a2a.Event) error
}

// eventWriter writes the events of one task. Every status change is
// checked against the task state machine first.
type eventWriter struct {
	sink   eventSink
	reqCtx *a2asrv.RequestContext
	log    *slog.Logger

	mu         sync.Mutex
	state      a2a.TaskState
	artifactID a2a.ArtifactID
}

func newEventWriter(sink eventSink, reqCtx *a2asrv.RequestContext, log *slog.Logger) *eventWriter {
	w := &eventWriter{sink: sink, reqCtx: reqCtx, log: log}
	if reqCtx.StoredTask != nil {
		w.state = reqCtx.StoredTask.Status.State
	}
	return w
}

func (w *eventWriter) current() a2a.TaskState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// status moves the task to state. msg and meta may be nil.
func (w *eventWriter) status(ctx context.Context, state a2a.TaskState, msg *a2a.Message, final bool, meta map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := task.ValidateTransition(w.state, state); err != nil {
		return err
	}

	ev := a2a.NewStatusUpdateEvent(w.reqCtx, state, msg)
	ev.Final = final
	if len(meta) > 0 {
		ev.Metadata = meta
	}
	if err := w.sink.Write(ctx, ev); err != nil {
		return fmt.Errorf("failed to write %s status: %w", state, err)
	}

	if w.state != state {
		w.log.Debug("Task state changed", "task_id", w.reqCtx.TaskID, "from", w.state, "to", state)
	}
	w.state = state
	return nil
}

// artifact writes the result artifact. The first call creates it, later
// calls append to it.
func (w *eventWriter) artifact(ctx context.Context, parts []a2a.Part, last bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if task.IsTerminal(w.state) {
		return fmt.Errorf("%w: cannot add artifact to %s task", task.ErrTerminalState, w.state)
	}

	var ev *a2a.TaskArtifactUpdateEvent
	if w.artifactID == "" {
		ev = a2a.NewArtifactEvent(w.reqCtx, parts...)
		w.artifactID = ev.Artifact.ID
	} else {
		ev = a2a.NewArtifactUpdateEvent(w.reqCtx, w.artifactID, parts...)
		ev.Append = true
	}
	ev.LastChunk = last

	if err := w.sink.Write(ctx, ev); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
