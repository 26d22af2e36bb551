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

// Package client offers typed clients over an engine.Engine: one for text,
// one for structured data and one for files, plus a Manager that owns the
// engine and watches its connection.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/merge"
	"github.com/kadirpekel/agentrelay/pkg/retry"
)

// ErrFileNotFound is returned when a file path passed to FileClient does not exist.
var ErrFileNotFound = errors.New("file not found")

// Sender sends one message and collects the response.
type Sender interface {
	SendWithRetry(ctx context.Context, msg *a2a.Message, cb engine.Callback) (*engine.UnifiedResponse, error)
}

// SendOption adjusts an outgoing message.
type SendOption func(*a2a.Message)

// WithContextID keeps the message in an existing conversation.
func WithContextID(id string) SendOption {
	return func(m *a2a.Message) {
		m.ContextID = id
	}
}

// WithMetadata sets message metadata, for example user_id or blocking.
func WithMetadata(meta map[string]any) SendOption {
	return func(m *a2a.Message) {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			m.Metadata[k] = v
		}
	}
}

func newMessage(parts []a2a.Part, opts []SendOption) *a2a.Message {
	msg := a2a.NewMessage(a2a.MessageRoleUser, parts...)
	msg.ID = uuid.NewString()
	for _, opt := range opts {
		opt(msg)
	}
	return msg
}

// TextResponse is the result of a text exchange.
type TextResponse struct {
	Text            string
	StreamingChunks []string
	Metadata        map[string]any
	EventCount      int
}

// TextClient sends plain text.
type TextClient struct {
	sender Sender
}

// NewTextClient creates a TextClient.
func NewTextClient(s Sender) *TextClient {
	return &TextClient{sender: s}
}

// Send sends text. cb, if not nil, receives chunks as they stream in.
func (c *TextClient) Send(ctx context.Context, text string, cb engine.Callback, opts ...SendOption) (*TextResponse, error) {
	resp, err := c.sender.SendWithRetry(ctx, newMessage([]a2a.Part{a2a.TextPart{Text: text}}, opts), cb)
	if err != nil {
		return nil, err
	}
	return &TextResponse{
		Text:            resp.MergedText,
		StreamingChunks: resp.TextParts,
		Metadata:        map[string]any{"task_id": string(resp.TaskID), "context_id": resp.ContextID},
		EventCount:      resp.EventCount,
	}, nil
}

// DataResponse is the result of a structured data exchange.
type DataResponse struct {
	DataParts        []map[string]any
	MergedData       map[string]any
	ValidationErrors []string
	EventCount       int
}

// DataClient sends structured payloads.
type DataClient struct {
	sender Sender
}

// NewDataClient creates a DataClient.
func NewDataClient(s Sender) *DataClient {
	return &DataClient{sender: s}
}

// Send sends data as a single data part. The received fragments are merged
// with mode; merge.ModeNone leaves MergedData nil.
func (c *DataClient) Send(ctx context.Context, data map[string]any, mode merge.Mode, cb engine.Callback, opts ...SendOption) (*DataResponse, error) {
	if len(data) == 0 {
		return nil, retry.Invalid("data payload is empty")
	}

	resp, err := c.sender.SendWithRetry(ctx, newMessage([]a2a.Part{a2a.DataPart{Data: data}}, opts), cb)
	if err != nil {
		return nil, err
	}

	out := &DataResponse{
		DataParts:  resp.DataParts,
		EventCount: resp.EventCount,
	}
	switch mode {
	case merge.ModeNone:
	case merge.ModeSmart, "":
		out.MergedData = resp.MergedData
	default:
		out.MergedData = merge.Data(resp.DataParts, mode)
	}
	for _, pe := range resp.Errors {
		if pe.PartType == "data" {
			out.ValidationErrors = append(out.ValidationErrors, pe.Error())
		}
	}
	return out, nil
}

// FileClient sends files by URI or by content.
type FileClient struct {
	sender Sender
}

// NewFileClient creates a FileClient.
func NewFileClient(s Sender) *FileClient {
	return &FileClient{sender: s}
}

// SendPath sends a local file as an absolute file:// URI. The file must exist.
func (c *FileClient) SendPath(ctx context.Context, path, mimeType string, opts ...SendOption) (*engine.FileResponse, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	mimeType = mimeOr(mimeType)
	part := a2a.FilePart{File: a2a.FileURI{
		FileMeta: a2a.FileMeta{Name: filepath.Base(abs), MimeType: mimeType},
		URI:      "file://" + filepath.ToSlash(abs),
	}}
	return c.send(ctx, part, mimeType, map[string]any{"size": info.Size()}, opts)
}

// SendBytes sends content inline, base64 encoded.
func (c *FileClient) SendBytes(ctx context.Context, name string, content []byte, mimeType string, opts ...SendOption) (*engine.FileResponse, error) {
	mimeType = mimeOr(mimeType)
	part := a2a.FilePart{File: a2a.FileBytes{
		FileMeta: a2a.FileMeta{Name: name, MimeType: mimeType},
		Bytes:    base64.StdEncoding.EncodeToString(content),
	}}
	return c.send(ctx, part, mimeType, map[string]any{"size": int64(len(content))}, opts)
}

// send returns the first file the agent sent back, or a description of
// the sent file when there is none.
func (c *FileClient) send(ctx context.Context, part a2a.FilePart, mimeType string, meta map[string]any, opts []SendOption) (*engine.FileResponse, error) {
	resp, err := c.sender.SendWithRetry(ctx, newMessage([]a2a.Part{part}, opts), nil)
	if err != nil {
		return nil, err
	}
	if len(resp.FileParts) > 0 {
		f := resp.FileParts[0]
		return &f, nil
	}
	size, _ := meta["size"].(int64)
	return &engine.FileResponse{MimeType: mimeType, Size: size, Metadata: meta}, nil
}

func mimeOr(mimeType string) string {
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
