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

// Package server exposes an agent.Agent over A2A.
//
// Executor implements a2asrv.AgentExecutor. It drives every task through
// submitted -> working -> {completed | failed | canceled}, writing one
// status event per transition and a single artifact with the final output.
// Transitions are checked with task.ValidateTransition before they reach
// the event queue, so a terminal task never moves again.
//
// HTTPServer mounts the A2A JSON-RPC handler next to the agent card,
// health, schema and metrics routes:
//
//	exec := server.NewExecutor(server.ExecutorConfig{Agent: a, Streaming: true})
//	srv, err := server.NewHTTPServer(cfg, exec, store)
//	if err != nil {
//		return err
//	}
//	return srv.Start(ctx)
package server
