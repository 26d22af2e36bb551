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

package task

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
)

// MemoryStore keeps tasks in process memory. Tasks are lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[a2a.TaskID]*a2a.Task
	byContext map[string][]a2a.TaskID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[a2a.TaskID]*a2a.Task),
		byContext: make(map[string][]a2a.TaskID),
	}
}

// Get returns a copy of the stored task.
func (s *MemoryStore) Get(_ context.Context, id a2a.TaskID) (*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return clone(t), nil
}

// Put stores a copy of t. The terminal check and the write happen under
// one lock.
func (s *MemoryStore) Put(_ context.Context, t *a2a.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task with id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tasks[t.ID]
	if exists {
		if err := checkTerminal(t.ID, current.Status.State, t.Status.State); err != nil {
			return err
		}
	} else {
		s.byContext[t.ContextID] = append(s.byContext[t.ContextID], t.ID)
	}
	s.tasks[t.ID] = clone(t)
	return nil
}

// ListByContext returns copies of the context's tasks in insertion order.
func (s *MemoryStore) ListByContext(_ context.Context, contextID string) ([]*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byContext[contextID]
	out := make([]*a2a.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

// Len returns the number of stored tasks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// clone copies the task header and its slices so callers cannot mutate
// stored state. Messages and artifacts are shared read-only.
func clone(t *a2a.Task) *a2a.Task {
	c := *t
	if t.History != nil {
		c.History = append([]*a2a.Message(nil), t.History...)
	}
	if t.Artifacts != nil {
		c.Artifacts = append([]*a2a.Artifact(nil), t.Artifacts...)
	}
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
