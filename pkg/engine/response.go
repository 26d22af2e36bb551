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
	"context"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
)

// UnifiedResponse accumulates everything one SendMessage call observed.
// It is finalized once, when SendMessage returns.
type UnifiedResponse struct {
	TextParts  []string
	DataParts  []map[string]any
	FileParts  []FileResponse
	MergedText string
	MergedData map[string]any
	EventCount int
	Errors     []*PartError

	TaskID      a2a.TaskID
	ContextID   string
	Fingerprint string
	FinalState  a2a.TaskState

	// accumulated is the merged text before trimming.
	accumulated string
}

// Text returns MergedText.
func (r *UnifiedResponse) Text() string {
	if r == nil {
		return ""
	}
	return r.MergedText
}

// HasContent reports whether any text, data or file was received.
func (r *UnifiedResponse) HasContent() bool {
	return r != nil && (r.MergedText != "" || len(r.DataParts) > 0 || len(r.FileParts) > 0)
}

// PartError records a failure tied to one part of a multi-part send.
type PartError struct {
	Index       int
	PartType    string
	Err         error
	RetryCount  int
	Recoverable bool
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d (%s): %v", e.Index, e.PartType, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

// FileResponse is a file received from or sent to an agent. Exactly one of
// URI and Bytes is set. Bytes holds base64 content.
type FileResponse struct {
	URI      string
	Bytes    string
	Name     string
	MimeType string
	Size     int64
	Metadata map[string]any
}

// ChunkType identifies the payload of a streamed Chunk.
type ChunkType string

const (
	ChunkText ChunkType = "text"
	ChunkData ChunkType = "data"
	ChunkFile ChunkType = "file"
)

// Chunk is delivered to the Callback for every new piece of content.
// Content is a string for text, map[string]any for data and FileResponse
// for files.
type Chunk struct {
	Type    ChunkType `json:"type"`
	Content any       `json:"content"`
}

// Callback receives streamed chunks in arrival order. Returning an error
// aborts the send.
type Callback func(ctx context.Context, chunk Chunk) error
