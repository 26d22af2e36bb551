package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/config/provider"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  kind: supervisor\n"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8000", cfg.Server.PublicURL)
	assert.Equal(t, TaskStoreMemory, cfg.Tasks.Backend)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 10*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.Engine.MaxWait)
	assert.Equal(t, 20, cfg.Engine.HistoryLength)
	assert.Equal(t, []string{KindKnowledge}, cfg.Supervisor.DefaultAgents)
	assert.Equal(t, map[string]string{
		"planner":   "http://localhost:8001",
		"knowledge": "http://localhost:8002",
		"browser":   "http://localhost:8003",
		"executor":  "http://localhost:8004",
	}, cfg.Agents)
}

func TestParse_DockerDefaults(t *testing.T) {
	cfg, err := Parse([]byte("is_docker: true\nagent:\n  kind: planner\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, "http://planner-agent:8001", cfg.Server.PublicURL)
	assert.True(t, cfg.Engine.IsDocker)
	assert.Empty(t, cfg.Agents, "only supervisors get default sub-agents")
}

func TestParse_EnvExpansionAndDurations(t *testing.T) {
	t.Setenv("RELAY_PLANNER", "http://planner.internal:9001")

	doc := `
agent:
  kind: supervisor
server:
  port: "${RELAY_PORT:-9000}"
engine:
  poll_interval: 2s
  max_wait: 30s
  retry:
    max_retries: 5
    base_delay: 500ms
agents:
  planner: ${RELAY_PLANNER}
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Engine.MaxWait)
	assert.Equal(t, 5, cfg.Engine.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.Retry.BaseDelay)
	assert.Equal(t, "http://planner.internal:9001", cfg.Agents["planner"])
	assert.Equal(t, "http://localhost:8002", cfg.Agents["knowledge"])

	ec, err := cfg.EngineFor("planner")
	require.NoError(t, err)
	assert.Equal(t, "http://planner.internal:9001", ec.BaseURL)
	assert.Equal(t, 2*time.Second, ec.PollInterval)

	_, err = cfg.EngineFor("nobody")
	assert.Error(t, err)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"agent": {"kind": "executor"}, "server": {"port": 9100}}`))
	require.NoError(t, err)
	assert.Equal(t, KindExecutor, cfg.Agent.Kind)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "execute_python", cfg.Agent.Tool)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "bad_kind", doc: "agent:\n  kind: wizard\n", wantErr: "agent.kind"},
		{name: "bad_backend", doc: "tasks:\n  backend: redis\n", wantErr: "tasks.backend"},
		{name: "sql_without_dsn", doc: "tasks:\n  backend: sql\n", wantErr: "tasks.dsn"},
		{name: "bad_agent_url", doc: "agents:\n  planner: not-a-url\n", wantErr: "agents.planner"},
		{name: "bad_log_level", doc: "logger:\n  level: loud\n", wantErr: "invalid log level"},
		{name: "bad_port", doc: "server:\n  port: 70000\n", wantErr: "server.port"},
		{name: "stdio_without_command", doc: "mcp:\n  services:\n    local:\n      transport: stdio\n", wantErr: "command is required"},
		{name: "not_yaml", doc: "agent: [unclosed", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMCPServiceConfig_Endpoints(t *testing.T) {
	services := DefaultMCPServices()

	pw := services["playwright-mcp"]
	assert.Equal(t, "http://localhost:8931/mcp", pw.Endpoint(false))
	assert.Equal(t, "http://host.docker.internal:8931/mcp", pw.Endpoint(true))
	assert.Equal(t, "http://localhost:8931/", pw.HealthEndpoint(false))
	assert.True(t, pw.Lenient)

	notion := services["notion-mcp"]
	assert.Equal(t, "http://notion-mcp:3000/health", notion.HealthEndpoint(true))

	svc := &MCPServiceConfig{URL: "http://x/mcp"}
	assert.Equal(t, "http://x/mcp", svc.HealthEndpoint(false))
	assert.Equal(t, "http://x/mcp", svc.HealthEndpoint(true))
}

func TestMCPConfig_ServicesFor(t *testing.T) {
	var c MCPConfig
	c.SetDefaults()

	got := c.ServicesFor(KindBrowser)
	require.Len(t, got, 1)
	assert.Contains(t, got, "playwright-mcp")
	assert.Empty(t, c.ServicesFor(KindPlanner))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("IS_DOCKER", "true")
	t.Setenv("AGENT_PORT", "9999")
	t.Setenv("PLANNER_URL", "http://planner.example:8001")
	t.Setenv("TASK_STORE", "sql")
	t.Setenv("TASK_STORE_DSN", "file:tasks.db")
	t.Setenv("MCP_PLAYWRIGHT_URL", "http://pw.example/mcp")
	t.Setenv("MCP_WAIT_TIMEOUT", "15")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv("")
	require.NoError(t, err)

	assert.Equal(t, KindSupervisor, cfg.Agent.Kind)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "http://planner.example:8001", cfg.Agents["planner"])
	assert.Equal(t, "http://knowledge-agent:8002", cfg.Agents["knowledge"])
	assert.Equal(t, TaskStoreSQL, cfg.Tasks.Backend)
	assert.Equal(t, "http://pw.example/mcp", cfg.MCP.Services["playwright-mcp"].DockerURL)
	assert.Equal(t, 15*time.Second, cfg.MCP.WaitTimeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestFromEnv_InvalidPort(t *testing.T) {
	t.Setenv("AGENT_PORT", "eighty")
	_, err := FromEnv(KindPlanner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENT_PORT")
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("RELAY_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "${RELAY_SET}", want: "value"},
		{in: "$RELAY_SET/path", want: "value/path"},
		{in: "${RELAY_UNSET:-fallback}", want: "fallback"},
		{in: "${RELAY_SET:-fallback}", want: "value"},
		{in: "${RELAY_UNSET}", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvString(tt.in), tt.in)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  kind: knowledge\n"), 0o644))

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, KindKnowledge, cfg.Agent.Kind)
	assert.Same(t, cfg, loader.Current())
}

func TestLoader_MissingFile(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoader_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0o644))

	reloaded := make(chan *Config, 1)
	_, loader, err := LoadConfigFile(context.Background(), path, WithOnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}))
	require.NoError(t, err)
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logger.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestLoader_StaticProviderDoesNotWatch(t *testing.T) {
	loader := NewLoader(provider.NewStaticProvider([]byte("agent:\n  kind: browser\n")))
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindBrowser, cfg.Agent.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, loader.Watch(ctx), context.DeadlineExceeded)
}
