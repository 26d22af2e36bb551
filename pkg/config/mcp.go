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

package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// MCP transports.
const (
	MCPTransportStreamableHTTP = "streamable_http"
	MCPTransportSSE            = "sse"
	MCPTransportStdio          = "stdio"
)

// MCPConfig lists the MCP services tool-backed agents depend on.
type MCPConfig struct {
	Services map[string]*MCPServiceConfig `yaml:"services,omitempty"`

	// AgentServices maps an agent kind to the services it needs.
	AgentServices map[string][]string `yaml:"agent_services,omitempty"`

	// HealthTimeout bounds one health probe (default 5s).
	HealthTimeout time.Duration `yaml:"health_timeout,omitempty"`

	// WaitTimeout bounds waiting for services at startup (default 60s).
	WaitTimeout time.Duration `yaml:"wait_timeout,omitempty"`

	// CheckInterval is the pause between readiness rounds (default 2s).
	CheckInterval time.Duration `yaml:"check_interval,omitempty"`
}

// MCPServiceConfig describes one MCP server.
type MCPServiceConfig struct {
	Transport string `yaml:"transport,omitempty"`

	// URL and DockerURL are the MCP endpoints outside and inside containers.
	URL       string `yaml:"url,omitempty"`
	DockerURL string `yaml:"docker_url,omitempty"`

	// HealthURL and DockerHealthURL are probed by the health checker.
	// Empty means the MCP endpoint itself is probed.
	HealthURL       string `yaml:"health_url,omitempty"`
	DockerHealthURL string `yaml:"docker_health_url,omitempty"`

	// Lenient treats 400, 405 and 406 as healthy. Streamable HTTP servers
	// without a health route answer plain GETs that way.
	Lenient bool `yaml:"lenient,omitempty"`

	Headers map[string]string `yaml:"headers,omitempty"`

	// Command, Args and Env configure the stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Endpoint returns the MCP endpoint for the environment.
func (s *MCPServiceConfig) Endpoint(isDocker bool) string {
	if isDocker && s.DockerURL != "" {
		return s.DockerURL
	}
	return s.URL
}

// HealthEndpoint returns the URL probed by health checks.
func (s *MCPServiceConfig) HealthEndpoint(isDocker bool) string {
	if isDocker && s.DockerHealthURL != "" {
		return s.DockerHealthURL
	}
	if !isDocker && s.HealthURL != "" {
		return s.HealthURL
	}
	return s.Endpoint(isDocker)
}

// DefaultMCPServices returns the services of a standard deployment.
func DefaultMCPServices() map[string]*MCPServiceConfig {
	streamHeaders := func() map[string]string {
		return map[string]string{
			"Accept":        "application/json, text/event-stream",
			"Cache-Control": "no-cache",
		}
	}
	return map[string]*MCPServiceConfig{
		"openmemory-mcp": {
			Transport:       MCPTransportStreamableHTTP,
			URL:             "http://localhost:8031/mcp",
			DockerURL:       "http://openmemory-mcp:8031/mcp",
			HealthURL:       "http://localhost:8031/health",
			DockerHealthURL: "http://openmemory-mcp:8031/health",
			Headers:         streamHeaders(),
		},
		// Playwright has no health route; its root answers plain GETs.
		"playwright-mcp": {
			Transport:       MCPTransportStreamableHTTP,
			URL:             "http://localhost:8931/mcp",
			DockerURL:       "http://host.docker.internal:8931/mcp",
			HealthURL:       "http://localhost:8931/",
			DockerHealthURL: "http://host.docker.internal:8931/",
			Lenient:         true,
			Headers:         streamHeaders(),
		},
		"notion-mcp": {
			Transport:       MCPTransportStreamableHTTP,
			URL:             "http://localhost:8930/mcp",
			DockerURL:       "http://notion-mcp:3000/mcp",
			HealthURL:       "http://localhost:8930/health",
			DockerHealthURL: "http://notion-mcp:3000/health",
			Headers: map[string]string{
				"Authorization": "Bearer ${AUTH_TOKEN}",
				"Accept":        "application/json, text/event-stream",
				"Cache-Control": "no-cache",
			},
		},
		"langchain-sandbox": {
			Transport:       MCPTransportStreamableHTTP,
			URL:             "http://localhost:8035/mcp",
			DockerURL:       "http://langchain-sandbox-mcp:8035/mcp",
			HealthURL:       "http://localhost:8035/health",
			DockerHealthURL: "http://langchain-sandbox-mcp:8035/health",
			Headers:         streamHeaders(),
		},
	}
}

// DefaultAgentServices maps agent kinds to the services they call.
func DefaultAgentServices() map[string][]string {
	return map[string][]string{
		KindKnowledge: {"openmemory-mcp"},
		KindBrowser:   {"playwright-mcp"},
		KindExecutor:  {"langchain-sandbox"},
	}
}

// SetDefaults applies default values.
func (c *MCPConfig) SetDefaults() {
	if c.Services == nil {
		c.Services = DefaultMCPServices()
		for _, svc := range c.Services {
			for k, v := range svc.Headers {
				svc.Headers[k] = expandEnvString(v)
			}
		}
		if c.AgentServices == nil {
			c.AgentServices = DefaultAgentServices()
		}
	}
	for _, svc := range c.Services {
		if svc != nil && svc.Transport == "" {
			svc.Transport = MCPTransportStreamableHTTP
		}
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 60 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 2 * time.Second
	}
}

// Validate checks the configuration.
func (c *MCPConfig) Validate() error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(c.Services)) {
		svc := c.Services[name]
		if svc == nil {
			errs = append(errs, fmt.Errorf("service %s is empty", name))
			continue
		}
		switch svc.Transport {
		case MCPTransportStreamableHTTP, MCPTransportSSE:
			if svc.URL == "" && svc.DockerURL == "" {
				errs = append(errs, fmt.Errorf("service %s: url is required for %s", name, svc.Transport))
			}
		case MCPTransportStdio:
			if svc.Command == "" {
				errs = append(errs, fmt.Errorf("service %s: command is required for stdio", name))
			}
		default:
			errs = append(errs, fmt.Errorf("service %s: unknown transport %q", name, svc.Transport))
		}
	}
	for kind, names := range c.AgentServices {
		for _, name := range names {
			if _, ok := c.Services[name]; !ok {
				errs = append(errs, fmt.Errorf("agent_services.%s references unknown service %s", kind, name))
			}
		}
	}
	return errors.Join(errs...)
}

// ServicesFor returns the services needed by an agent kind.
func (c *MCPConfig) ServicesFor(kind string) map[string]*MCPServiceConfig {
	out := make(map[string]*MCPServiceConfig)
	for _, name := range c.AgentServices[kind] {
		if svc, ok := c.Services[name]; ok {
			out[name] = svc
		}
	}
	return out
}
