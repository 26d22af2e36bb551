// Package config loads agentrelay process configuration.
//
// A config file is parsed as YAML, environment references are expanded,
// the result is decoded with mapstructure, defaulted and validated.
// Without a file, FromEnv builds the same structure from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"time"

	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/observability"
)

// Agent kinds served by the agentrelay binary.
const (
	KindSupervisor = "supervisor"
	KindPlanner    = "planner"
	KindKnowledge  = "knowledge"
	KindBrowser    = "browser"
	KindExecutor   = "executor"
)

// Kinds lists every agent kind in pipeline order.
var Kinds = []string{KindSupervisor, KindPlanner, KindKnowledge, KindBrowser, KindExecutor}

// DefaultPorts are the listen ports used by each agent kind.
var DefaultPorts = map[string]int{
	KindSupervisor: 8000,
	KindPlanner:    8001,
	KindKnowledge:  8002,
	KindBrowser:    8003,
	KindExecutor:   8004,
}

// Config is the root configuration of one agentrelay process.
type Config struct {
	// IsDocker switches service URLs to container hostnames.
	IsDocker bool `yaml:"is_docker,omitempty"`

	Logger        LoggerConfig         `yaml:"logger,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty"`
	Agent         AgentConfig          `yaml:"agent,omitempty"`
	Engine        engine.Config        `yaml:"engine,omitempty"`
	Tasks         TasksConfig          `yaml:"tasks,omitempty"`
	MCP           MCPConfig            `yaml:"mcp,omitempty"`
	Supervisor    SupervisorConfig     `yaml:"supervisor,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`

	// Agents maps remote agent names to their base URLs.
	Agents map[string]string `yaml:"agents,omitempty"`
}

// ServerConfig configures the A2A HTTP server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// PublicURL is advertised in the agent card. Defaults to http://host:port.
	PublicURL string `yaml:"public_url,omitempty"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`

	CORS *CORSConfig `yaml:"cors,omitempty"`
}

// CORSConfig configures CORS.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods   []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders   []string `yaml:"allowed_headers,omitempty"`
	AllowCredentials bool     `yaml:"allow_credentials,omitempty"`
}

// AgentConfig describes the agent this process serves.
type AgentConfig struct {
	// Kind is one of supervisor, planner, knowledge, browser, executor.
	Kind        string `yaml:"kind,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Version     string `yaml:"version,omitempty"`

	// Streaming advertises and enables streamed execution.
	Streaming *bool `yaml:"streaming,omitempty"`

	// Tool is the MCP tool called by tool-backed agents.
	Tool string `yaml:"tool,omitempty"`

	Skills []SkillConfig `yaml:"skills,omitempty"`
}

// SkillConfig is one advertised agent skill.
type SkillConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	Examples    []string `yaml:"examples,omitempty"`
}

// StreamingEnabled reports whether streaming is on (default true).
func (c *AgentConfig) StreamingEnabled() bool {
	return c.Streaming == nil || *c.Streaming
}

// Task store backends.
const (
	TaskStoreMemory = "memory"
	TaskStoreSQL    = "sql"
)

// TasksConfig selects the server-side task store.
type TasksConfig struct {
	// Backend is "memory" (default) or "sql".
	Backend string `yaml:"backend,omitempty"`

	// Dialect is sqlite, postgres or mysql.
	Dialect string `yaml:"dialect,omitempty"`

	DSN string `yaml:"dsn,omitempty"`
}

// SupervisorConfig tunes the orchestrator.
type SupervisorConfig struct {
	// HistorySize bounds the per-conversation history (default 50).
	HistorySize int `yaml:"history_size,omitempty"`

	// Templates override the per-agent context templates. Templates use
	// text/template with .Query and .Previous.
	Templates map[string]string `yaml:"templates,omitempty"`

	// DefaultAgents run when the plan names no agent (default knowledge).
	DefaultAgents []string `yaml:"default_agents,omitempty"`
}

// SetDefaults applies default values to the whole tree.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()

	if c.Agent.Kind == "" {
		c.Agent.Kind = KindSupervisor
	}
	c.Agent.SetDefaults()
	c.Server.SetDefaults(c.Agent.Kind, c.IsDocker)

	c.Engine.IsDocker = c.IsDocker
	c.Engine.SetDefaults()

	if c.Tasks.Backend == "" {
		c.Tasks.Backend = TaskStoreMemory
	}

	c.MCP.SetDefaults()

	if c.Supervisor.HistorySize <= 0 {
		c.Supervisor.HistorySize = 50
	}
	if len(c.Supervisor.DefaultAgents) == 0 {
		c.Supervisor.DefaultAgents = []string{KindKnowledge}
	}

	c.Observability.SetDefaults()

	if c.Agent.Kind == KindSupervisor {
		defaults := DefaultAgentURLs(c.IsDocker)
		if c.Agents == nil {
			c.Agents = make(map[string]string, len(defaults))
		}
		for name, u := range defaults {
			if _, ok := c.Agents[name]; !ok {
				c.Agents[name] = u
			}
		}
	}
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = c.Kind
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.Tool == "" {
		c.Tool = defaultTools[c.Kind]
	}
}

// SetDefaults applies default values. kind selects the default port.
func (c *ServerConfig) SetDefaults(kind string, isDocker bool) {
	if c.Host == "" {
		c.Host = "localhost"
		if isDocker {
			c.Host = "0.0.0.0"
		}
	}
	if c.Port == 0 {
		c.Port = DefaultPorts[kind]
		if c.Port == 0 {
			c.Port = 8080
		}
	}
	if c.PublicURL == "" {
		host := c.Host
		if isDocker {
			host = kind + "-agent"
		}
		c.PublicURL = fmt.Sprintf("http://%s:%d", host, c.Port)
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Address returns host:port for the listener.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logger: %w", err))
	}

	if !validKind(c.Agent.Kind) {
		errs = append(errs, fmt.Errorf("agent.kind %q is invalid (valid: supervisor, planner, knowledge, browser, executor)", c.Agent.Kind))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := url.Parse(c.Server.PublicURL); err != nil {
		errs = append(errs, fmt.Errorf("server.public_url: %w", err))
	}

	switch c.Tasks.Backend {
	case TaskStoreMemory:
	case TaskStoreSQL:
		if c.Tasks.DSN == "" {
			errs = append(errs, fmt.Errorf("tasks.dsn is required for the sql backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("tasks.backend %q is invalid (valid: memory, sql)", c.Tasks.Backend))
	}

	for _, name := range slices.Sorted(maps.Keys(c.Agents)) {
		u, err := url.Parse(c.Agents[name])
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("agents.%s: invalid url %q", name, c.Agents[name]))
		}
	}

	if err := c.MCP.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mcp: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	return errors.Join(errs...)
}

// EngineFor returns the engine config for the named remote agent.
func (c *Config) EngineFor(name string) (engine.Config, error) {
	u, ok := c.Agents[name]
	if !ok {
		return engine.Config{}, fmt.Errorf("unknown agent %q", name)
	}
	cfg := c.Engine
	cfg.BaseURL = u
	return cfg, nil
}

// DefaultAgentURLs returns the sub-agent URLs a supervisor talks to when
// none are configured.
func DefaultAgentURLs(isDocker bool) map[string]string {
	out := make(map[string]string, 4)
	for _, kind := range []string{KindPlanner, KindKnowledge, KindBrowser, KindExecutor} {
		host := "localhost"
		if isDocker {
			host = kind + "-agent"
		}
		out[kind] = fmt.Sprintf("http://%s:%d", host, DefaultPorts[kind])
	}
	return out
}

var defaultTools = map[string]string{
	KindKnowledge: "search_memory",
	KindBrowser:   "browser_navigate",
	KindExecutor:  "execute_python",
}

func validKind(kind string) bool {
	return slices.Contains(Kinds, kind)
}
