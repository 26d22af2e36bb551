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

// Package task holds the server-side task state machine and task storage.
//
// A task moves submitted -> working -> {completed | failed | canceled}.
// Terminal states are immutable: the state machine rejects any transition
// out of them and every Store refuses to overwrite a terminal task with a
// different state.
package task

import (
	"errors"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = a2a.ErrTaskNotFound

	// ErrTerminalState is returned when a transition out of a terminal state is attempted.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrInvalidTransition is returned for transitions the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// IsTerminal reports whether no further transitions are allowed from s.
func IsTerminal(s a2a.TaskState) bool {
	switch s {
	case a2a.TaskStateCompleted, a2a.TaskStateFailed, a2a.TaskStateCanceled, a2a.TaskStateRejected:
		return true
	}
	return false
}

// ValidateTransition checks a state change against the task state machine.
// Re-asserting the current state is always allowed.
func ValidateTransition(current, next a2a.TaskState) error {
	if current == next {
		return nil
	}

	if IsTerminal(current) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrTerminalState, current, next)
	}

	var allowed []a2a.TaskState
	switch current {
	case "", a2a.TaskStateUnknown:
		return nil
	case a2a.TaskStateSubmitted:
		allowed = []a2a.TaskState{
			a2a.TaskStateWorking,
			a2a.TaskStateCanceled,
			a2a.TaskStateFailed,
			a2a.TaskStateRejected,
		}
	case a2a.TaskStateWorking:
		allowed = []a2a.TaskState{
			a2a.TaskStateCompleted,
			a2a.TaskStateFailed,
			a2a.TaskStateCanceled,
			a2a.TaskStateInputRequired,
			a2a.TaskStateRejected,
		}
	case a2a.TaskStateInputRequired, a2a.TaskStateAuthRequired:
		allowed = []a2a.TaskState{
			a2a.TaskStateWorking,
			a2a.TaskStateCanceled,
			a2a.TaskStateFailed,
		}
	default:
		return nil
	}

	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// CanTransition is ValidateTransition as a predicate.
func CanTransition(current, next a2a.TaskState) bool {
	return ValidateTransition(current, next) == nil
}
