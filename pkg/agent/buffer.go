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
	"maps"
	"strings"

	"github.com/kadirpekel/agentrelay/pkg/merge"
)

// DefaultBufferSize is the StreamBuffer flush threshold in bytes.
const DefaultBufferSize = 100

// StreamBuffer batches small streamed tokens into larger chunks.
type StreamBuffer struct {
	chunks  []string
	size    int
	maxSize int
}

// NewStreamBuffer creates a buffer flushing at maxSize bytes.
func NewStreamBuffer(maxSize int) *StreamBuffer {
	if maxSize <= 0 {
		maxSize = DefaultBufferSize
	}
	return &StreamBuffer{maxSize: maxSize}
}

// Add appends content and reports whether the buffer should be flushed.
func (b *StreamBuffer) Add(content string) bool {
	if content == "" {
		return false
	}
	b.chunks = append(b.chunks, content)
	b.size += len(content)
	return b.size >= b.maxSize
}

// Flush returns the buffered content and empties the buffer.
func (b *StreamBuffer) Flush() string {
	if len(b.chunks) == 0 {
		return ""
	}
	out := strings.Join(b.chunks, "")
	b.chunks = b.chunks[:0]
	b.size = 0
	return out
}

// HasContent reports whether anything is buffered.
func (b *StreamBuffer) HasContent() bool {
	return len(b.chunks) > 0
}

// OutputProcessor aggregates a stream of outputs.
type OutputProcessor struct {
	text     []string
	data     []map[string]any
	metadata map[string]any
	final    *Output
}

// Result is the aggregate of all processed outputs.
type Result struct {
	Text     string         `json:"text"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
	Final    *Output        `json:"final_output,omitempty"`
}

// NewOutputProcessor creates an empty processor.
func NewOutputProcessor() *OutputProcessor {
	return &OutputProcessor{metadata: map[string]any{}}
}

// Process records one output.
func (p *OutputProcessor) Process(o *Output) {
	if o == nil {
		return
	}
	if o.Content != "" {
		p.text = append(p.text, o.Content)
	}
	if len(o.Data) > 0 {
		p.data = append(p.data, o.Data)
	}
	maps.Copy(p.metadata, o.Metadata)
	if o.Final {
		p.final = o
	}
}

// Text joins all text content in order.
func (p *OutputProcessor) Text() string {
	return strings.Join(p.text, "")
}

// Data smart-merges all data content.
func (p *OutputProcessor) Data() map[string]any {
	return merge.Data(p.data, merge.ModeSmart)
}

// Result returns the aggregate.
func (p *OutputProcessor) Result() Result {
	return Result{
		Text:     p.Text(),
		Data:     p.Data(),
		Metadata: maps.Clone(p.metadata),
		Final:    p.final,
	}
}
