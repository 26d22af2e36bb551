// Package agentrelay is an Agent-to-Agent (A2A) messaging toolkit.
//
// It has three parts:
//
//   - a client-side message engine (pkg/engine) that sends messages to a
//     remote agent, follows the task it creates through streaming or
//     polling, and folds every event into one UnifiedResponse;
//   - a server-side task coordinator (pkg/server) that runs an agent per
//     A2A task and publishes status and artifact events through the
//     submitted, working and terminal states;
//   - a supervisor (pkg/supervisor) that asks a planner agent for a plan
//     and runs knowledge, browser and executor agents in order, merging
//     their results.
//
// # Quick Start
//
// Serve the agents, one process each:
//
//	agentrelay serve planner
//	agentrelay serve knowledge --wait-mcp
//	agentrelay serve supervisor --config agentrelay.yaml
//
// Talk to the supervisor:
//
//	agentrelay send http://localhost:8000 "find what I saved about go generics"
//
// # Using as Go Library
//
//	mgr := client.NewManager(engine.Config{BaseURL: "http://localhost:8002"})
//	if err := mgr.Initialize(ctx); err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	resp, err := mgr.SendText(ctx, "what do you remember about go?")
//
// Packages:
//
//   - pkg/engine: message engine, stream consumption, polling, fingerprints
//   - pkg/merge: merging of data parts
//   - pkg/retry: classified retries with exponential backoff
//   - pkg/client: text, data and file clients and the client manager
//   - pkg/server: A2A executor and HTTP server
//   - pkg/task: task state machine and task stores
//   - pkg/agent: agent interfaces, events and outputs
//   - pkg/supervisor: planner, orchestrator and agent registry
//   - pkg/tool: MCP toolsets and tool-backed agents
//   - pkg/config: configuration loading
//   - pkg/observability: tracing and metrics
//   - pkg/logger: structured logging
package agentrelay
