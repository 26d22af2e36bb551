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

// Package mcptoolset exposes the tools of one MCP server as a tool.Toolset.
//
// The connection is established lazily on the first Tools call. All three
// MCP transports (streamable_http, sse, stdio) go through the mcp-go client.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/tool"
)

const (
	clientName    = "agentrelay"
	clientVersion = "2.0.0"

	// DefaultCallTimeout bounds a single HTTP round trip to the MCP server.
	DefaultCallTimeout = 5 * time.Minute
)

// Config configures an MCP toolset.
type Config struct {
	// Name identifies this toolset, usually the service name.
	Name string

	Service *config.MCPServiceConfig

	// IsDocker selects the docker endpoint of the service.
	IsDocker bool

	// Filter limits which tools are exposed.
	Filter []string

	// CallTimeout bounds HTTP requests (default 5m).
	CallTimeout time.Duration

	Tracer  *observability.Tracer
	Metrics observability.Metrics
	Logger  *slog.Logger
}

// Toolset is an MCP-backed toolset with lazy initialization.
type Toolset struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.CallableTool
	connected bool
}

// New creates a toolset. No connection is made until Tools is called.
func New(cfg Config) (*Toolset, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service configuration is required")
	}
	switch cfg.Service.Transport {
	case config.MCPTransportStdio:
		if cfg.Service.Command == "" {
			return nil, fmt.Errorf("command is required for stdio transport")
		}
	case "", config.MCPTransportStreamableHTTP, config.MCPTransportSSE:
		if cfg.Service.Endpoint(cfg.IsDocker) == "" {
			return nil, fmt.Errorf("url is required for %s transport", transportOf(cfg.Service))
		}
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Service.Transport)
	}

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.GetGlobalMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.For("mcp")
	}

	return &Toolset{cfg: cfg, log: log.With("toolset", cfg.Name)}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Tools returns the available tools, connecting if needed.
func (t *Toolset) Tools(ctx context.Context) ([]tool.CallableTool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server %s: %w", t.cfg.Name, err)
		}
	}
	return t.tools, nil
}

func transportOf(svc *config.MCPServiceConfig) string {
	if svc.Transport == "" {
		return config.MCPTransportStreamableHTTP
	}
	return svc.Transport
}

func (t *Toolset) newClient() (*client.Client, error) {
	svc := t.cfg.Service
	switch transportOf(svc) {
	case config.MCPTransportStdio:
		// The stdio client starts its subprocess on construction.
		return client.NewStdioMCPClient(svc.Command, envList(svc.Env), svc.Args...)
	case config.MCPTransportSSE:
		return client.NewSSEMCPClient(svc.Endpoint(t.cfg.IsDocker),
			client.WithHeaders(svc.Headers),
		)
	default:
		return client.NewStreamableHttpClient(svc.Endpoint(t.cfg.IsDocker),
			transport.WithHTTPHeaders(svc.Headers),
			transport.WithHTTPTimeout(t.cfg.CallTimeout),
		)
	}
}

func (t *Toolset) connect(ctx context.Context) error {
	c, err := t.newClient()
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		c.Close()
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []tool.CallableTool
	for _, mt := range listResp.Tools {
		if len(t.cfg.Filter) > 0 && !slices.Contains(t.cfg.Filter, mt.Name) {
			continue
		}
		tools = append(tools, &mcpTool{
			toolset: t,
			name:    mt.Name,
			desc:    mt.Description,
			schema:  convertSchema(mt.InputSchema),
		})
	}

	t.client = c
	t.tools = tools
	t.connected = true

	t.log.Info("Connected to MCP server",
		"transport", transportOf(t.cfg.Service),
		"endpoint", t.endpoint(),
		"tools", len(tools),
	)
	return nil
}

func (t *Toolset) endpoint() string {
	if t.cfg.Service.Transport == config.MCPTransportStdio {
		return t.cfg.Service.Command
	}
	return t.cfg.Service.Endpoint(t.cfg.IsDocker)
}

func (t *Toolset) currentClient() *client.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// Close closes the MCP connection. The next Tools call reconnects.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.client != nil {
		err = t.client.Close()
	}
	t.client = nil
	t.tools = nil
	t.connected = false
	return err
}

// envList converts env to KEY=VALUE pairs in key order.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// mcpTool is one tool of a Toolset.
type mcpTool struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
}

func (m *mcpTool) Name() string           { return m.name }
func (m *mcpTool) Description() string    { return m.desc }
func (m *mcpTool) Schema() map[string]any { return m.schema }

func (m *mcpTool) Call(ctx context.Context, args map[string]any) (*tool.Result, error) {
	c := m.toolset.currentClient()
	if c == nil {
		return nil, fmt.Errorf("MCP client for %s not connected", m.toolset.Name())
	}

	ctx, span := m.toolset.cfg.Tracer.StartToolCall(ctx, m.name)
	defer span.End()
	start := time.Now()

	req := mcp.CallToolRequest{}
	req.Params.Name = m.name
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	m.toolset.cfg.Metrics.RecordToolCall(ctx, m.name, time.Since(start), err)
	if err != nil {
		m.toolset.cfg.Tracer.RecordError(span, err)
		m.toolset.log.Debug("MCP tool call failed", "tool", m.name, "error", err)
		return nil, fmt.Errorf("MCP call %s failed: %w", m.name, err)
	}

	m.toolset.log.Debug("MCP tool call completed",
		"tool", m.name,
		"is_error", resp.IsError,
		"duration", time.Since(start),
	)
	return convertResult(resp), nil
}

func convertResult(resp *mcp.CallToolResult) *tool.Result {
	res := &tool.Result{IsError: resp.IsError}
	for _, c := range resp.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			res.Content = append(res.Content, tc.Text)
		}
	}
	if structured, ok := resp.StructuredContent.(map[string]any); ok {
		res.Structured = structured
	}
	if res.IsError && len(res.Content) == 0 {
		res.Content = []string{"unknown error"}
	}
	return res
}

var (
	_ tool.Toolset      = (*Toolset)(nil)
	_ tool.CallableTool = (*mcpTool)(nil)
)
