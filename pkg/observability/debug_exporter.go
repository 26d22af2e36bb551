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

package observability

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DebugExporter is a SpanExporter that keeps the most recent relay spans in
// memory, indexed by task id. It is safe for concurrent use.
type DebugExporter struct {
	mu      sync.RWMutex
	spans   map[string]*DebugSpan
	order   []string
	byTask  map[string][]string
	maxSize int
}

// DebugSpan is the captured form of a finished span.
type DebugSpan struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	StartTime    int64             `json:"start_time_unix_nano"`
	EndTime      int64             `json:"end_time_unix_nano"`
	DurationMs   float64           `json:"duration_ms"`
	Attributes   map[string]string `json:"attributes"`
	Status       string            `json:"status"`
	StatusMsg    string            `json:"status_message,omitempty"`
}

// NewDebugExporter creates an exporter retaining up to maxSize spans
// (1000 when maxSize <= 0).
func NewDebugExporter(maxSize int) *DebugExporter {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DebugExporter{
		spans:   make(map[string]*DebugSpan),
		byTask:  make(map[string][]string),
		maxSize: maxSize,
	}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *DebugExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, span := range spans {
		if !e.shouldCapture(span.Name()) {
			continue
		}
		ds := convertSpan(span)
		if _, exists := e.spans[ds.SpanID]; !exists {
			e.order = append(e.order, ds.SpanID)
		}
		e.spans[ds.SpanID] = ds
		if taskID := ds.Attributes[AttrTaskID]; taskID != "" {
			e.byTask[taskID] = append(e.byTask[taskID], ds.SpanID)
		}
		e.evictOldest()
	}
	return nil
}

func (e *DebugExporter) shouldCapture(name string) bool {
	switch name {
	case SpanSend, SpanPoll, SpanExecute, SpanWorkflow, SpanToolCall:
		return true
	}
	return false
}

func convertSpan(span sdktrace.ReadOnlySpan) *DebugSpan {
	start := span.StartTime().UnixNano()
	end := span.EndTime().UnixNano()

	ds := &DebugSpan{
		TraceID:    span.SpanContext().TraceID().String(),
		SpanID:     span.SpanContext().SpanID().String(),
		Name:       span.Name(),
		StartTime:  start,
		EndTime:    end,
		DurationMs: float64(end-start) / 1e6,
		Attributes: make(map[string]string, len(span.Attributes())),
		Status:     span.Status().Code.String(),
		StatusMsg:  span.Status().Description,
	}
	if span.Parent().HasSpanID() {
		ds.ParentSpanID = span.Parent().SpanID().String()
	}
	for _, attr := range span.Attributes() {
		ds.Attributes[string(attr.Key)] = attr.Value.Emit()
	}
	return ds
}

// evictOldest drops spans in arrival order. Caller holds the write lock.
func (e *DebugExporter) evictOldest() {
	for len(e.order) > e.maxSize {
		id := e.order[0]
		e.order = e.order[1:]
		if ds, ok := e.spans[id]; ok {
			if taskID := ds.Attributes[AttrTaskID]; taskID != "" {
				e.byTask[taskID] = removeID(e.byTask[taskID], id)
				if len(e.byTask[taskID]) == 0 {
					delete(e.byTask, taskID)
				}
			}
			delete(e.spans, id)
		}
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Shutdown implements sdktrace.SpanExporter.
func (e *DebugExporter) Shutdown(context.Context) error {
	e.Clear()
	return nil
}

// Spans returns captured spans, oldest first.
func (e *DebugExporter) Spans() []*DebugSpan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*DebugSpan, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.spans[id])
	}
	return out
}

// SpansForTask returns the spans tagged with taskID, oldest first.
func (e *DebugExporter) SpansForTask(taskID string) []*DebugSpan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.byTask[taskID]
	out := make([]*DebugSpan, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.spans[id])
	}
	return out
}

// Clear removes all captured spans.
func (e *DebugExporter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = make(map[string]*DebugSpan)
	e.byTask = make(map[string][]string)
	e.order = nil
}

// Count returns the number of captured spans.
func (e *DebugExporter) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.spans)
}

var _ sdktrace.SpanExporter = (*DebugExporter)(nil)
