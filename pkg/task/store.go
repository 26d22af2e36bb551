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

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
)

// Store persists server-side tasks.
type Store interface {
	// Get retrieves a task by id. Unknown ids return ErrTaskNotFound.
	Get(ctx context.Context, id a2a.TaskID) (*a2a.Task, error)

	// Put inserts or replaces a task. Replacing a terminal task with a
	// different state returns ErrTerminalState.
	Put(ctx context.Context, t *a2a.Task) error

	// ListByContext returns all tasks of a conversation in creation order.
	ListByContext(ctx context.Context, contextID string) ([]*a2a.Task, error)
}

// checkTerminal rejects a write that would move a stored terminal task
// to another state.
func checkTerminal(id a2a.TaskID, current, next a2a.TaskState) error {
	if IsTerminal(current) && current != next {
		return fmt.Errorf("%w: task %s is %s", ErrTerminalState, id, current)
	}
	return nil
}

// a2aStore adapts a Store to a2asrv.TaskStore.
type a2aStore struct {
	store Store
}

// NewA2AStore exposes s as the a2asrv.TaskStore used by the A2A request handler.
func NewA2AStore(s Store) a2asrv.TaskStore {
	return &a2aStore{store: s}
}

func (a *a2aStore) Save(ctx context.Context, t *a2a.Task) error {
	if t == nil {
		return fmt.Errorf("task is required")
	}
	return a.store.Put(ctx, t)
}

func (a *a2aStore) Get(ctx context.Context, id a2a.TaskID) (*a2a.Task, error) {
	return a.store.Get(ctx, id)
}

var _ a2asrv.TaskStore = (*a2aStore)(nil)
