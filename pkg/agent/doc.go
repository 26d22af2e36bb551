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

// Package agent defines the contract every agentrelay agent implements and
// the standardized Output it produces.
//
// # Agent Interface
//
// An Agent runs once per task in blocking mode:
//
//	type Agent interface {
//	    Name() string
//	    Description() string
//	    Execute(ctx, input, RunConfig) (*Output, error)
//	    FormatStreamEvent(Event) *Output
//	    ExtractFinalOutput(state) *Output
//	}
//
// Agents that can stream also implement Streamer. The server forwards every
// formatted event as a working status update and stops at the first Output
// with Final set or at a completion event. When neither arrives, the server
// takes a Snapshot and asks the agent to extract the final output from it.
//
// # Output
//
// Output is the unit of work an agent reports. Output.Parts converts it to
// A2A message parts:
//
//	out := agent.NewOutput("knowledge", agent.StatusCompleted)
//	out.Content = "Found 3 memories"
//	msg := out.Message()
package agent
