package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/supervisor"
	"github.com/kadirpekel/agentrelay/pkg/tool/agenttool"
)

func TestResolveLogSettings(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	t.Setenv(LogFileEnvVar, "")
	t.Setenv(LogFormatEnvVar, "")

	t.Run("defaults", func(t *testing.T) {
		s := resolveLogSettings("", "", "", nil)
		assert.Equal(t, logSettings{level: "info", format: "simple"}, s)
	})

	t.Run("config_file", func(t *testing.T) {
		s := resolveLogSettings("", "", "", &config.LoggerConfig{Level: "debug", Format: "json", File: "relay.log"})
		assert.Equal(t, logSettings{level: "debug", file: "relay.log", format: "json"}, s)
	})

	t.Run("env_over_config", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "warn")
		s := resolveLogSettings("", "", "", &config.LoggerConfig{Level: "debug"})
		assert.Equal(t, "warn", s.level)
		assert.True(t, levelOverridden(""))
	})

	t.Run("flag_over_env", func(t *testing.T) {
		t.Setenv(LogLevelEnvVar, "warn")
		s := resolveLogSettings("error", "", "verbose", nil)
		assert.Equal(t, "error", s.level)
		assert.Equal(t, "verbose", s.format)
	})
}

func TestServeCmd_ApplyPort(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Port = 8002
	cfg.Server.PublicURL = "http://localhost:8002"

	(&ServeCmd{Port: 9002}).applyPort(cfg)
	assert.Equal(t, 9002, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9002", cfg.Server.PublicURL)

	cfg.Server.PublicURL = "https://relay.example.com"
	(&ServeCmd{Port: 9100}).applyPort(cfg)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "https://relay.example.com", cfg.Server.PublicURL)
}

func newTestConfig(t *testing.T, kind string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Agent.Kind = kind
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildAgent(t *testing.T) {
	obs := observability.NewManager(observability.Config{})
	require.NoError(t, obs.Initialize(context.Background()))
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	t.Run("supervisor", func(t *testing.T) {
		built, err := buildAgent(context.Background(), newTestConfig(t, config.KindSupervisor), obs, false)
		require.NoError(t, err)
		defer built.Close()

		assert.IsType(t, &supervisor.Agent{}, built.agent)
		require.NotNil(t, built.registry)
		assert.Equal(t, []string{"browser", "executor", "knowledge", "planner"}, built.registry.Names())
		assert.Contains(t, built.checks, "agents")
	})

	t.Run("planner", func(t *testing.T) {
		built, err := buildAgent(context.Background(), newTestConfig(t, config.KindPlanner), obs, false)
		require.NoError(t, err)
		assert.IsType(t, &supervisor.Planner{}, built.agent)
		assert.Nil(t, built.registry)
	})

	t.Run("browser", func(t *testing.T) {
		built, err := buildAgent(context.Background(), newTestConfig(t, config.KindBrowser), obs, false)
		require.NoError(t, err)
		defer built.Close()

		assert.IsType(t, &agenttool.Agent{}, built.agent)
		assert.Equal(t, "browser", built.agent.Name())
		assert.Contains(t, built.checks, "mcp")
	})

	t.Run("no_services", func(t *testing.T) {
		cfg := newTestConfig(t, config.KindExecutor)
		cfg.MCP.AgentServices[config.KindExecutor] = nil

		_, err := buildAgent(context.Background(), cfg, obs, false)
		assert.ErrorContains(t, err, "no MCP services configured for executor agent")
	})
}
