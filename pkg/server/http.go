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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentrelay/pkg/agent"
	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/task"
)

// Health states reported by /health.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

const (
	healthCheckTimeout = 5 * time.Second
	maxRPCBodyBytes    = 10 << 20
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HTTPServer serves one agent over A2A JSON-RPC.
type HTTPServer struct {
	serverCfg config.ServerConfig
	agentName string
	card      *a2a.AgentCard
	executor  *Executor
	taskStore a2asrv.TaskStore

	observability *observability.Manager
	log           *slog.Logger

	mu     sync.RWMutex
	checks map[string]HealthCheck

	handler http.Handler
	server  *http.Server
}

// HTTPServerOption configures an HTTPServer.
type HTTPServerOption func(*HTTPServer)

// WithObservability traces and measures every request and mounts the
// metrics endpoint.
func WithObservability(obs *observability.Manager) HTTPServerOption {
	return func(s *HTTPServer) {
		s.observability = obs
	}
}

// WithHealthCheck adds a dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) HTTPServerOption {
	return func(s *HTTPServer) {
		s.checks[name] = check
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) HTTPServerOption {
	return func(s *HTTPServer) {
		s.log = l
	}
}

// NewHTTPServer creates the server for exec. A nil store keeps tasks in
// memory.
func NewHTTPServer(cfg *config.Config, exec *Executor, store task.Store, opts ...HTTPServerOption) *HTTPServer {
	if store == nil {
		store = task.NewMemoryStore()
	}

	s := &HTTPServer{
		serverCfg: cfg.Server,
		agentName: exec.Agent().Name(),
		card:      BuildCard(cfg.Agent, cfg.Server.PublicURL, exec.Agent().Description()),
		executor:  exec,
		taskStore: task.NewA2AStore(store),
		checks:    make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.For("http")
	}

	s.handler = s.buildHandler()
	return s
}

// Card returns the served agent card.
func (s *HTTPServer) Card() *a2a.AgentCard {
	return s.card
}

// Handler returns the root handler with all middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// AddHealthCheck registers a check after construction.
func (s *HTTPServer) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// buildHandler wires the routes. Middleware order, outermost first:
// observability, request id, recovery, logging, CORS.
func (s *HTTPServer) buildHandler() http.Handler {
	r := chi.NewRouter()

	if s.observability != nil {
		r.Use(observability.HTTPMiddleware(s.observability.Tracer(), s.observability.Metrics()))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/schemas", s.handleSchemas)
	r.Method(http.MethodGet, a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(s.card))

	if s.observability != nil {
		if h := s.observability.MetricsHandler(); h != nil {
			r.Method(http.MethodGet, s.observability.MetricsPath(), h)
			s.log.Info("Metrics endpoint enabled", "path", s.observability.MetricsPath())
		}
		if s.observability.Tracer().DebugExporter() != nil {
			r.Get("/debug/spans", s.handleSpans)
		}
	}

	requestHandler := a2asrv.NewHandler(s.executor, a2asrv.WithTaskStore(s.taskStore))
	r.With(s.rpcLoggingMiddleware).Method(http.MethodPost, "/", a2asrv.NewJSONRPCHandler(requestHandler))

	return r
}

// Start serves until ctx is done or the listener fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.serverCfg.Address(),
		Handler:           s.handler,
		ReadHeaderTimeout: s.serverCfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.log.Info("HTTP server starting",
		"address", s.serverCfg.Address(),
		"agent", s.agentName,
		"public_url", s.serverCfg.PublicURL)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	timeout := s.serverCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.log.Info("HTTP server shutting down", "running_tasks", s.executor.Running())
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Address returns the listen address.
func (s *HTTPServer) Address() string {
	return s.serverCfg.Address()
}

type healthResponse struct {
	Status string            `json:"status"`
	Agent  string            `json:"agent"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every check in parallel. All passing is healthy, all
// failing is unhealthy, anything between is degraded.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := maps.Clone(s.checks)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		check := checks[name]
		g.Go(func() error {
			result := "ok"
			if err := check(gctx); err != nil {
				result = "error: " + err.Error()
			}
			mu.Lock()
			results[name] = result
			if result != "ok" {
				failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := healthResponse{Status: HealthHealthy, Agent: s.agentName, Checks: results}
	code := http.StatusOK
	switch {
	case failed == 0:
	case failed == len(checks):
		resp.Status = HealthUnhealthy
		code = http.StatusServiceUnavailable
	default:
		resp.Status = HealthDegraded
	}

	writeJSON(w, code, resp)
}

// handleSchemas returns the JSON schema of the agent input and output.
func (s *HTTPServer) handleSchemas(w http.ResponseWriter, _ *http.Request) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}

	input := reflector.Reflect(&agent.Request{})
	input.Title = "Agent input"
	output := reflector.Reflect(&agent.Output{})
	output.Title = "Agent output"

	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  s.agentName,
		"input":  input,
		"output": output,
	})
}

// handleSpans returns captured spans, optionally filtered by ?task_id=.
func (s *HTTPServer) handleSpans(w http.ResponseWriter, r *http.Request) {
	exp := s.observability.Tracer().DebugExporter()
	spans := exp.Spans()
	if id := r.URL.Query().Get("task_id"); id != "" {
		spans = exp.SpansForTask(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"spans": spans, "count": len(spans)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	cors := s.serverCfg.CORS
	if cors == nil {
		// Permissive default for local development.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	methods := "GET, POST, OPTIONS"
	if len(cors.AllowedMethods) > 0 {
		methods = strings.Join(cors.AllowedMethods, ", ")
	}
	headers := "Content-Type, Authorization"
	if len(cors.AllowedHeaders) > 0 {
		headers = strings.Join(cors.AllowedHeaders, ", ")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", headers)
		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests. The ResponseWriter is not wrapped so
// SSE responses keep their http.Flusher.
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

type rpcEnvelope struct {
	Method string `json:"method"`
	ID     any    `json:"id"`
}

// rpcLoggingMiddleware logs the JSON-RPC method and duration of every A2A
// call. The body is restored for the handler.
func (s *HTTPServer) rpcLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBodyBytes+1))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > maxRPCBodyBytes {
			s.log.Warn("A2A call rejected, body too large", "limit_bytes", maxRPCBodyBytes)
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var env rpcEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			env.Method = "invalid"
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("A2A call",
			"method", env.Method,
			"id", env.ID,
			"duration", time.Since(start),
		)
	})
}
