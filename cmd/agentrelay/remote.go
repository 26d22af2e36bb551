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
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/kadirpekel/agentrelay/pkg/client"
	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/supervisor"
)

// SendCmd sends one text message and prints the reply.
type SendCmd struct {
	URL       string        `arg:"" help:"Base URL of the agent."`
	Message   string        `arg:"" help:"Text to send."`
	ContextID string        `name:"context-id" help:"Conversation to continue."`
	Progress  bool          `help:"Print streamed chunks as they arrive."`
	JSON      bool          `help:"Print the full response as JSON."`
	Timeout   time.Duration `help:"Overall timeout." default:"10m"`
}

func (c *SendCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	mgr := client.NewManager(engine.Config{BaseURL: c.URL})
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	var opts []client.SendOption
	if c.ContextID != "" {
		opts = append(opts, client.WithContextID(c.ContextID))
	}

	var cb engine.Callback
	if c.Progress {
		cb = func(_ context.Context, chunk engine.Chunk) error {
			if text, ok := chunk.Content.(string); ok {
				fmt.Fprintf(os.Stderr, "... %s\n", text)
			}
			return nil
		}
	}

	resp, err := mgr.Text().Send(ctx, c.Message, cb, opts...)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(resp)
	}
	fmt.Println(resp.Text)
	return nil
}

// HealthCmd probes agent cards. Without URLs it checks the agents of the
// loaded configuration.
type HealthCmd struct {
	URLs    []string      `arg:"" optional:"" name:"url" help:"Agent base URLs."`
	Timeout time.Duration `help:"Overall timeout." default:"30s"`
}

func (c *HealthCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	agents, err := c.targets(ctx, cli)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return fmt.Errorf("no agents to check")
	}

	reg := supervisor.NewRegistry(engine.Config{}, agents)
	defer reg.Close()

	results := reg.CheckAll(ctx)
	var down []string
	for _, name := range slices.Sorted(maps.Keys(results)) {
		status := "healthy"
		if !results[name] {
			status = "unreachable"
			down = append(down, name)
		}
		fmt.Printf("%-12s %-40s %s\n", name, agents[name], status)
	}
	if len(down) > 0 {
		return fmt.Errorf("%d of %d agents unreachable: %v", len(down), len(results), down)
	}
	return nil
}

func (c *HealthCmd) targets(ctx context.Context, cli *CLI) (map[string]string, error) {
	if len(c.URLs) > 0 {
		out := make(map[string]string, len(c.URLs))
		for i, u := range c.URLs {
			out[fmt.Sprintf("agent-%d", i+1)] = u
		}
		return out, nil
	}

	if cli.Config != "" {
		cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		loader.Close()
		return cfg.Agents, nil
	}

	cfg, err := config.FromEnv(config.KindSupervisor)
	if err != nil {
		return nil, err
	}
	return cfg.Agents, nil
}

// CardCmd fetches and prints an agent card.
type CardCmd struct {
	URL     string        `arg:"" help:"Base URL of the agent."`
	Full    bool          `help:"Print the complete card instead of a summary."`
	Timeout time.Duration `help:"Overall timeout." default:"30s"`
}

func (c *CardCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	mgr := client.NewManager(engine.Config{BaseURL: c.URL})
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	if c.Full {
		return printJSON(mgr.Card())
	}
	return printJSON(mgr.AgentInfo())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
