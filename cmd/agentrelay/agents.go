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

package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/server"
	"github.com/kadirpekel/agentrelay/pkg/supervisor"
	"github.com/kadirpekel/agentrelay/pkg/tool"
	"github.com/kadirpekel/agentrelay/pkg/tool/agenttool"
	"github.com/kadirpekel/agentrelay/pkg/tool/mcptoolset"
)

// builtAgent is the agent served by one process plus what it owns.
type builtAgent struct {
	agent    agent.Agent
	registry *supervisor.Registry
	checks   map[string]server.HealthCheck
	closers  []func() error
}

func (b *builtAgent) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildAgent(ctx context.Context, cfg *config.Config, obs *observability.Manager, waitMCP bool) (*builtAgent, error) {
	switch cfg.Agent.Kind {
	case config.KindSupervisor:
		return buildSupervisor(cfg, obs)
	case config.KindPlanner:
		return &builtAgent{agent: supervisor.NewPlanner(cfg.Supervisor.DefaultAgents)}, nil
	case config.KindKnowledge, config.KindBrowser, config.KindExecutor:
		return buildToolAgent(ctx, cfg, obs, waitMCP)
	default:
		return nil, fmt.Errorf("unsupported agent kind: %s", cfg.Agent.Kind)
	}
}

func buildSupervisor(cfg *config.Config, obs *observability.Manager) (*builtAgent, error) {
	reg := supervisor.NewRegistry(cfg.Engine, cfg.Agents,
		engine.WithTracer(obs.Tracer()),
		engine.WithMetrics(obs.Metrics()),
		engine.WithLogger(logger.For("engine")),
	)

	orch, err := supervisor.NewOrchestrator(supervisor.OrchestratorConfig{
		Caller:     reg,
		Supervisor: cfg.Supervisor,
		Tracer:     obs.Tracer(),
	})
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &builtAgent{
		agent:    supervisor.NewAgent(orch),
		registry: reg,
		checks:   map[string]server.HealthCheck{"agents": reg.Check()},
		closers:  []func() error{reg.Close},
	}, nil
}

// buildToolAgent connects a specialist agent to the MCP services of its
// kind. Connections are opened on the first call.
func buildToolAgent(ctx context.Context, cfg *config.Config, obs *observability.Manager, waitMCP bool) (*builtAgent, error) {
	kind := cfg.Agent.Kind
	services := cfg.MCP.ServicesFor(kind)
	if len(services) == 0 {
		return nil, fmt.Errorf("no MCP services configured for %s agent", kind)
	}
	names := slices.Sorted(maps.Keys(services))

	health := mcptoolset.NewHealthChecker(cfg.MCP, cfg.IsDocker)
	if waitMCP {
		if err := health.WaitForServices(ctx, names, 0); err != nil {
			return nil, err
		}
	}

	sets := make([]tool.Toolset, 0, len(names))
	for _, name := range names {
		ts, err := mcptoolset.New(mcptoolset.Config{
			Name:     name,
			Service:  services[name],
			IsDocker: cfg.IsDocker,
			Tracer:   obs.Tracer(),
			Metrics:  obs.Metrics(),
		})
		if err != nil {
			tool.NewGroup(kind, sets...).Close()
			return nil, fmt.Errorf("failed to create MCP toolset %s: %w", name, err)
		}
		sets = append(sets, ts)
	}
	group := tool.NewGroup(kind, sets...)

	ag, err := agenttool.New(agenttool.Config{
		Name:        cfg.Agent.Name,
		Description: toolAgentDescriptions[kind],
		Toolset:     group,
		ToolName:    cfg.Agent.Tool,
		Args:        agenttool.ArgsFor(kind),
		Logger:      logger.For(kind),
	})
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("failed to create %s agent: %w", kind, err)
	}

	return &builtAgent{
		agent:   ag,
		checks:  map[string]server.HealthCheck{"mcp": health.Check(names...)},
		closers: []func() error{group.Close},
	}, nil
}

var toolAgentDescriptions = map[string]string{
	config.KindKnowledge: "Searches stored memories",
	config.KindBrowser:   "Browses and searches the web",
	config.KindExecutor:  "Runs code and carries out actions",
}
