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

package engine

import (
	"github.com/a2aproject/a2a-go/a2a"
)

// StreamEvent is one decoded fragment of a raw A2A event. The concrete
// types are TaskMeta, TextDelta, DataFragment and FileFragment.
type StreamEvent interface {
	streamEvent()
}

// TaskMeta carries task identity and state.
type TaskMeta struct {
	TaskID    a2a.TaskID
	ContextID string
	State     a2a.TaskState
	Final     bool
}

// TextDelta is text observed in an event. Text is the full snapshot the
// server sent; the engine merges it into the accumulated text. Append is
// set for artifact chunks that extend the previous chunk verbatim.
type TextDelta struct {
	Text   string
	Append bool
}

// DataFragment is one structured payload.
type DataFragment struct {
	Data map[string]any
}

// FileFragment is one file part.
type FileFragment struct {
	File FileResponse
}

func (TaskMeta) streamEvent()     {}
func (TextDelta) streamEvent()    {}
func (DataFragment) streamEvent() {}
func (FileFragment) streamEvent() {}

// Decode turns a raw event into typed fragments. Artifacts are preferred
// over messages. Within one event only the last text, data and file part
// are kept.
func Decode(event a2a.Event) []StreamEvent {
	if event == nil {
		return nil
	}

	var (
		out      []StreamEvent
		parts    []a2a.Part
		appendTo bool
	)

	switch e := event.(type) {
	case *a2a.Task:
		out = append(out, TaskMeta{
			TaskID:    e.ID,
			ContextID: e.ContextID,
			State:     e.Status.State,
			Final:     e.Status.State.Terminal(),
		})
		if len(e.Artifacts) > 0 {
			parts = artifactParts(e.Artifacts)
		} else if n := len(e.History); n > 0 && isAgent(e.History[n-1]) {
			parts = e.History[n-1].Parts
		}

	case *a2a.TaskArtifactUpdateEvent:
		out = append(out, TaskMeta{TaskID: e.TaskID, ContextID: e.ContextID})
		if e.Artifact != nil {
			parts = e.Artifact.Parts
			appendTo = e.Append
		}

	case *a2a.TaskStatusUpdateEvent:
		out = append(out, TaskMeta{
			TaskID:    e.TaskID,
			ContextID: e.ContextID,
			State:     e.Status.State,
			Final:     e.Final,
		})
		if isAgent(e.Status.Message) {
			parts = e.Status.Message.Parts
		}

	case *a2a.Message:
		if e.TaskID != "" {
			out = append(out, TaskMeta{TaskID: e.TaskID, ContextID: e.ContextID})
		}
		if isAgent(e) {
			parts = e.Parts
		}
	}

	text, data, file := lastOfEach(parts)
	if text != "" {
		out = append(out, TextDelta{Text: text, Append: appendTo})
	}
	if len(data) > 0 {
		out = append(out, DataFragment{Data: data})
	}
	if file != nil {
		out = append(out, FileFragment{File: *file})
	}
	return out
}

func artifactParts(artifacts []*a2a.Artifact) []a2a.Part {
	var parts []a2a.Part
	for _, a := range artifacts {
		if a != nil {
			parts = append(parts, a.Parts...)
		}
	}
	return parts
}

func isAgent(m *a2a.Message) bool {
	return m != nil && m.Role == a2a.MessageRoleAgent
}

// lastOfEach returns the last non-empty text, data and file part.
func lastOfEach(parts []a2a.Part) (text string, data map[string]any, file *FileResponse) {
	for _, p := range parts {
		switch v := p.(type) {
		case a2a.TextPart:
			if v.Text != "" {
				text = v.Text
			}
		case *a2a.TextPart:
			if v != nil && v.Text != "" {
				text = v.Text
			}
		case a2a.DataPart:
			if len(v.Data) > 0 {
				data = v.Data
			}
		case *a2a.DataPart:
			if v != nil && len(v.Data) > 0 {
				data = v.Data
			}
		case a2a.FilePart:
			file = fileFromPart(v)
		case *a2a.FilePart:
			if v != nil {
				file = fileFromPart(*v)
			}
		}
	}
	return text, data, file
}

func fileFromPart(p a2a.FilePart) *FileResponse {
	switch f := p.File.(type) {
	case a2a.FileURI:
		return &FileResponse{URI: f.URI, Name: f.Name, MimeType: mimeOr(f.MimeType)}
	case a2a.FileBytes:
		return &FileResponse{Bytes: f.Bytes, Name: f.Name, MimeType: mimeOr(f.MimeType)}
	}
	return nil
}

func mimeOr(mime string) string {
	if mime == "" {
		return "application/octet-stream"
	}
	return mime
}
