package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/retry"
	"github.com/kadirpekel/agentrelay/pkg/server"
)

type echoAgent struct{ name string }

func (e *echoAgent) Name() string        { return e.name }
func (e *echoAgent) Description() string { return "echo" }

func (e *echoAgent) Execute(_ context.Context, input map[string]any, _ agent.RunConfig) (*agent.Output, error) {
	out := agent.NewOutput(e.name, agent.StatusCompleted)
	first, _, _ := strings.Cut(agent.Query(input), "\n")
	out.Content = e.name + " saw: " + first
	out.Final = true
	return out, nil
}

func (e *echoAgent) FormatStreamEvent(agent.Event) *agent.Output     { return nil }
func (e *echoAgent) ExtractFinalOutput(map[string]any) *agent.Output { return nil }

func serveAgent(t *testing.T, kind string, ag agent.Agent) string {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	url := "http://" + ts.Listener.Addr().String()

	cfg := &config.Config{Agent: config.AgentConfig{Kind: kind}}
	cfg.SetDefaults()
	cfg.Server.PublicURL = url

	exec := server.NewExecutor(server.ExecutorConfig{Agent: ag})
	ts.Config.Handler = server.NewHTTPServer(cfg, exec, nil).Handler()
	ts.Start()
	t.Cleanup(ts.Close)
	return url
}

func testEngineConfig() engine.Config {
	return engine.Config{
		PollInterval: 10 * time.Millisecond,
		MaxWait:      time.Second,
		Retry:        retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond},
	}
}

func TestRegistry_EndToEnd(t *testing.T) {
	agents := map[string]string{
		config.KindPlanner:   serveAgent(t, config.KindPlanner, NewPlanner(nil)),
		config.KindKnowledge: serveAgent(t, config.KindKnowledge, &echoAgent{name: "knowledge"}),
		config.KindBrowser:   "http://127.0.0.1:1",
	}
	reg := NewRegistry(testEngineConfig(), agents)
	defer reg.Close()

	o, err := NewOrchestrator(OrchestratorConfig{Caller: reg})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := o.Run(ctx, agent.TextInput("what do you remember about the web?"), agent.RunConfig{ContextID: "c1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, agent.StatusCompleted, out.Status)
	assert.Contains(t, out.Content, "[PLANNER]\nPlan:\n1. [knowledge]")
	assert.Contains(t, out.Content, "[KNOWLEDGE]\nknowledge saw: Original request: what do you remember about the web?")
	assert.Contains(t, out.Content, "[BROWSER]\nerror: failed to connect to browser agent")

	summary := out.Data["workflow_summary"].(map[string]any)
	assert.Equal(t, []string{"planner", "knowledge", "browser"}, summary["agents_executed"])
	assert.Equal(t, []string{"browser"}, summary["failed_agents"])

	health := reg.CheckAll(ctx)
	assert.Equal(t, map[string]bool{"planner": true, "knowledge": true, "browser": false}, health)
	assert.ErrorContains(t, reg.Check()(ctx), "[browser]")
}

func TestRegistry_Update(t *testing.T) {
	url := serveAgent(t, config.KindKnowledge, &echoAgent{name: "knowledge"})
	reg := NewRegistry(testEngineConfig(), map[string]string{"knowledge": url})
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := reg.Manager(ctx, "knowledge")
	require.NoError(t, err)
	same, err := reg.Manager(ctx, "knowledge")
	require.NoError(t, err)
	assert.Same(t, first, same)

	// Unchanged URLs keep their manager.
	reg.Update(map[string]string{"knowledge": url, "executor": "http://127.0.0.1:1"})
	kept, err := reg.Manager(ctx, "knowledge")
	require.NoError(t, err)
	assert.Same(t, first, kept)
	assert.Equal(t, []string{"executor", "knowledge"}, reg.Names())

	reg.Update(map[string]string{})
	_, err = reg.Manager(ctx, "knowledge")
	assert.ErrorContains(t, err, "unknown agent type: knowledge")
	_, ok := reg.URL("knowledge")
	assert.False(t, ok)
}

func TestRegistry_UpdateDuringConnect(t *testing.T) {
	moved := serveAgent(t, config.KindKnowledge, &echoAgent{name: "knowledge"})

	ts := httptest.NewUnstartedServer(nil)
	stale := "http://" + ts.Listener.Addr().String()
	cfg := &config.Config{Agent: config.AgentConfig{Kind: config.KindKnowledge}}
	cfg.SetDefaults()
	cfg.Server.PublicURL = stale
	handler := server.NewHTTPServer(cfg, server.NewExecutor(server.ExecutorConfig{Agent: &echoAgent{name: "knowledge"}}), nil).Handler()

	reg := NewRegistry(testEngineConfig(), map[string]string{"knowledge": stale})
	defer reg.Close()

	var once sync.Once
	ts.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A config reload lands while the stale card is being fetched.
		once.Do(func() { reg.Update(map[string]string{"knowledge": moved}) })
		handler.ServeHTTP(w, r)
	})
	ts.Start()
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := reg.Manager(ctx, "knowledge")
	require.NoError(t, err)
	assert.Equal(t, moved, m.Card().URL)

	again, err := reg.Manager(ctx, "knowledge")
	require.NoError(t, err)
	assert.Same(t, m, again)
}
