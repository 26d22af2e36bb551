package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/task"
)

func testConfig() *config.Config {
	cfg := &config.Config{Agent: config.AgentConfig{
		Kind:        config.KindKnowledge,
		Description: "answers from memory",
		Skills: []config.SkillConfig{{
			ID:   "memory_search",
			Name: "Memory search",
			Tags: []string{"memory"},
		}},
	}}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, opts ...HTTPServerOption) (*HTTPServer, *httptest.Server) {
	t.Helper()
	exec := NewExecutor(ExecutorConfig{Agent: &fakeAgent{name: "knowledge", out: completedOutput("knowledge", "pong")}})
	srv := NewHTTPServer(testConfig(), exec, nil, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHTTPServer_Health(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]HealthCheck
		status string
		code   int
	}{
		{name: "no checks", status: HealthHealthy, code: http.StatusOK},
		{name: "all ok", checks: map[string]HealthCheck{"a": ok, "b": ok}, status: HealthHealthy, code: http.StatusOK},
		{name: "some down", checks: map[string]HealthCheck{"a": ok, "b": down}, status: HealthDegraded, code: http.StatusOK},
		{name: "all down", checks: map[string]HealthCheck{"a": down}, status: HealthUnhealthy, code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []HTTPServerOption
			for name, check := range tt.checks {
				opts = append(opts, WithHealthCheck(name, check))
			}
			_, ts := newTestServer(t, opts...)

			var body healthResponse
			code := getJSON(t, ts.URL+"/health", &body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, "knowledge", body.Agent)
			for name := range tt.checks {
				assert.Contains(t, body.Checks, name)
			}
		})
	}
}

func TestHTTPServer_AgentCard(t *testing.T) {
	srv, ts := newTestServer(t)

	var card a2a.AgentCard
	code := getJSON(t, ts.URL+a2asrv.WellKnownAgentCardPath, &card)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "knowledge", card.Name)
	assert.Equal(t, "answers from memory", card.Description)
	assert.Equal(t, srv.Card().URL, card.URL)
	assert.True(t, card.Capabilities.Streaming)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "memory_search", card.Skills[0].ID)
}

func TestHTTPServer_Schemas(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	code := getJSON(t, ts.URL+"/schemas", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "input")
	assert.Contains(t, body, "output")

	output := body["output"].(map[string]any)
	props := output["properties"].(map[string]any)
	assert.Contains(t, props, "text_content")
	assert.Contains(t, props, "status")
}

func TestHTTPServer_CORS(t *testing.T) {
	t.Run("permissive default", func(t *testing.T) {
		_, ts := newTestServer(t)

		req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("configured origins", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.CORS = &config.CORSConfig{
			AllowedOrigins:   []string{"https://app.example"},
			AllowCredentials: true,
		}
		srv := NewHTTPServer(cfg, NewExecutor(ExecutorConfig{Agent: &fakeAgent{name: "knowledge"}}), nil)
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		for origin, want := range map[string]string{
			"https://app.example":  "https://app.example",
			"https://evil.example": "",
		} {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
			req.Header.Set("Origin", origin)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, want, resp.Header.Get("Access-Control-Allow-Origin"), origin)
			assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
		}
	})
}

func TestHTTPServer_RPCBodyLimit(t *testing.T) {
	_, ts := newTestServer(t)

	post := func(size int) int {
		resp, err := http.Post(ts.URL+"/", "application/json", bytes.NewReader(bytes.Repeat([]byte(" "), size)))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusRequestEntityTooLarge, post(maxRPCBodyBytes+1))
	assert.NotEqual(t, http.StatusRequestEntityTooLarge, post(maxRPCBodyBytes))
}

func TestBuildCard(t *testing.T) {
	cfg := testConfig()
	streaming := false
	cfg.Agent.Streaming = &streaming
	cfg.Agent.Skills = nil

	card := BuildCard(cfg.Agent, "http://localhost:8002", "fallback description")

	assert.Equal(t, "answers from memory", card.Description)
	assert.False(t, card.Capabilities.Streaming)
	assert.True(t, card.Capabilities.StateTransitionHistory)
	assert.Equal(t, []string{"text", "text/plain", "application/json"}, card.DefaultInputModes)
	assert.Equal(t, a2a.TransportProtocolJSONRPC, card.PreferredTransport)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "knowledge", card.Skills[0].ID)
}

// The engine talks to a served agent over real JSON-RPC and SSE.
func TestHTTPServer_EnginePingPong(t *testing.T) {
	ts := httptest.NewUnstartedServer(nil)
	url := "http://" + ts.Listener.Addr().String()

	cfg := testConfig()
	cfg.Server.PublicURL = url
	store := task.NewMemoryStore()
	exec := NewExecutor(ExecutorConfig{
		Agent:     &fakeAgent{name: "knowledge", out: completedOutput("knowledge", "pong")},
		Streaming: true,
	})
	ts.Config.Handler = NewHTTPServer(cfg, exec, store).Handler()
	ts.Start()
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng, err := engine.New(ctx, engine.Config{
		BaseURL:      url,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      time.Second,
	})
	require.NoError(t, err)
	defer eng.Close()

	resp, err := eng.SendMessage(ctx, a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "ping"}), nil)
	require.NoError(t, err)

	assert.Equal(t, "pong", resp.MergedText)
	assert.Equal(t, a2a.TaskStateCompleted, resp.FinalState)
	require.NotEmpty(t, resp.TaskID)

	stored, err := store.Get(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, stored.Status.State)
}
