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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FromEnv builds a config without a file. kind selects the agent the
// process serves; an empty kind falls back to AGENT_KIND, then supervisor.
//
// Recognised variables:
//
//	AGENT_KIND, AGENT_NAME, AGENT_HOST, AGENT_PORT, AGENT_PUBLIC_URL, IS_DOCKER
//	PLANNER_URL, KNOWLEDGE_URL, BROWSER_URL, EXECUTOR_URL
//	TASK_STORE (memory|sql), TASK_STORE_DIALECT, TASK_STORE_DSN
//	MCP_<SERVICE>_URL (e.g. MCP_PLAYWRIGHT_URL), MCP_WAIT_TIMEOUT
//	LOG_LEVEL, LOG_FILE, LOG_FORMAT
//	METRICS_ENABLED, TRACING_ENABLED, OTLP_ENDPOINT
func FromEnv(kind string) (*Config, error) {
	cfg := &Config{
		IsDocker: envBool("IS_DOCKER"),
	}

	cfg.Agent.Kind = strings.ToLower(kind)
	if cfg.Agent.Kind == "" {
		cfg.Agent.Kind = strings.ToLower(envString("AGENT_KIND", KindSupervisor))
	}
	cfg.Agent.Name = os.Getenv("AGENT_NAME")

	cfg.Server.Host = os.Getenv("AGENT_HOST")
	cfg.Server.PublicURL = os.Getenv("AGENT_PUBLIC_URL")
	if port := os.Getenv("AGENT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid AGENT_PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	cfg.Agents = make(map[string]string)
	for _, k := range []string{KindPlanner, KindKnowledge, KindBrowser, KindExecutor} {
		if u := os.Getenv(strings.ToUpper(k) + "_URL"); u != "" {
			cfg.Agents[k] = u
		}
	}

	cfg.Tasks.Backend = strings.ToLower(os.Getenv("TASK_STORE"))
	cfg.Tasks.Dialect = os.Getenv("TASK_STORE_DIALECT")
	cfg.Tasks.DSN = os.Getenv("TASK_STORE_DSN")

	cfg.Logger = LoggerConfig{
		Level:  os.Getenv("LOG_LEVEL"),
		File:   os.Getenv("LOG_FILE"),
		Format: os.Getenv("LOG_FORMAT"),
	}

	cfg.Observability.Metrics.Enabled = envBool("METRICS_ENABLED")
	cfg.Observability.Tracing.Enabled = envBool("TRACING_ENABLED")
	cfg.Observability.Tracing.Endpoint = os.Getenv("OTLP_ENDPOINT")

	cfg.SetDefaults()
	applyMCPEnv(&cfg.MCP, cfg.IsDocker)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyMCPEnv overrides service endpoints with MCP_<NAME>_URL, where NAME
// is the service name upper-cased with "-MCP" dropped and dashes turned
// into underscores (openmemory-mcp -> MCP_OPENMEMORY_URL).
func applyMCPEnv(c *MCPConfig, isDocker bool) {
	for name, svc := range c.Services {
		key := "MCP_" + mcpEnvName(name) + "_URL"
		u := os.Getenv(key)
		if u == "" {
			continue
		}
		if isDocker {
			svc.DockerURL = u
		} else {
			svc.URL = u
		}
	}
	if v := os.Getenv("MCP_WAIT_TIMEOUT"); v != "" {
		if d, err := parseSeconds(v); err == nil {
			c.WaitTimeout = d
		}
	}
}

func mcpEnvName(service string) string {
	name := strings.TrimSuffix(service, "-mcp")
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
