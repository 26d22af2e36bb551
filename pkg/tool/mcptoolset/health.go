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

package mcptoolset

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
)

// HealthChecker probes MCP services before agents use them.
type HealthChecker struct {
	services   map[string]*config.MCPServiceConfig
	isDocker   bool
	timeout    time.Duration
	interval   time.Duration
	wait       time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// NewHealthChecker creates a checker for the services in cfg.
func NewHealthChecker(cfg config.MCPConfig, isDocker bool) *HealthChecker {
	cfg.SetDefaults()
	return &HealthChecker{
		services:   cfg.Services,
		isDocker:   isDocker,
		timeout:    cfg.HealthTimeout,
		interval:   cfg.CheckInterval,
		wait:       cfg.WaitTimeout,
		httpClient: &http.Client{},
		log:        logger.For("mcp-health"),
	}
}

// CheckService probes one service. Unknown services and stdio services
// are reported as unhealthy and healthy respectively.
func (h *HealthChecker) CheckService(ctx context.Context, name string) bool {
	svc, ok := h.services[name]
	if !ok || svc == nil {
		h.log.Warn("Unknown MCP service", "service", name)
		return false
	}
	if svc.Transport == config.MCPTransportStdio {
		// Subprocess servers are started on demand.
		return true
	}

	endpoint := svc.HealthEndpoint(h.isDocker)
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		h.log.Error("Invalid MCP health endpoint", "service", name, "endpoint", endpoint, "error", err)
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.log.Warn("MCP service not reachable", "service", name, "endpoint", endpoint, "error", err)
		return false
	}
	resp.Body.Close()

	healthy := healthyStatus(resp.StatusCode, svc.Lenient)
	if healthy {
		h.log.Debug("MCP service healthy", "service", name, "status", resp.StatusCode)
	} else {
		h.log.Warn("MCP service returned unhealthy status", "service", name, "status", resp.StatusCode)
	}
	return healthy
}

func healthyStatus(code int, lenient bool) bool {
	switch code {
	case http.StatusOK:
		return true
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusNotAcceptable:
		return lenient
	}
	return false
}

// CheckAll probes every configured service in parallel.
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]bool {
	return h.check(ctx, slices.Sorted(maps.Keys(h.services)))
}

func (h *HealthChecker) check(ctx context.Context, names []string) map[string]bool {
	var mu sync.Mutex
	results := make(map[string]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			ok := h.CheckService(gctx, name)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// WaitForServices blocks until all named services are healthy or
// maxWait elapses. A non-positive maxWait uses the configured wait timeout.
func (h *HealthChecker) WaitForServices(ctx context.Context, names []string, maxWait time.Duration) error {
	if len(names) == 0 {
		return nil
	}
	if maxWait <= 0 {
		maxWait = h.wait
	}

	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	pending := slices.Clone(names)
	for {
		results := h.check(ctx, pending)
		pending = pending[:0]
		for _, name := range slices.Sorted(maps.Keys(results)) {
			if !results[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			h.log.Info("MCP services ready", "services", names)
			return nil
		}

		h.log.Info("Waiting for MCP services", "pending", pending)
		select {
		case <-ctx.Done():
			return fmt.Errorf("MCP services not ready after %v: %v", maxWait, pending)
		case <-time.After(h.interval):
		}
	}
}

// Check returns a health check func for the named services, suitable for
// server.WithHealthCheck.
func (h *HealthChecker) Check(names ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		var down []string
		for name, ok := range h.check(ctx, names) {
			if !ok {
				down = append(down, name)
			}
		}
		if len(down) > 0 {
			slices.Sort(down)
			return fmt.Errorf("MCP services unhealthy: %v", down)
		}
		return nil
	}
}
