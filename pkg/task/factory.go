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

	"github.com/kadirpekel/agentrelay/pkg/config"
)

// NewStoreFromConfig creates the task store selected by cfg. The returned
// close function releases the backend and is never nil.
//
// Example config:
//
//	tasks:
//	  backend: sql
//	  dialect: sqlite
//	  dsn: ./.agentrelay/tasks.db
func NewStoreFromConfig(ctx context.Context, cfg config.TasksConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", config.TaskStoreMemory:
		return NewMemoryStore(), noop, nil

	case config.TaskStoreSQL:
		if cfg.DSN == "" {
			return nil, noop, fmt.Errorf("dsn is required for the sql task backend")
		}
		s, err := OpenSQLStore(ctx, cfg.Dialect, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown tasks backend: %s", cfg.Backend)
	}
}
