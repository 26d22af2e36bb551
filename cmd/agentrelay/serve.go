package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/server"
	"github.com/kadirpekel/agentrelay/pkg/task"
)

// ServeCmd serves one agent over A2A.
type ServeCmd struct {
	Kind    string `arg:"" optional:"" help:"Agent kind: supervisor, planner, knowledge, browser or executor (default: config file, then AGENT_KIND)."`
	Port    int    `help:"Port to listen on (overrides config)."`
	Watch   bool   `help:"Watch the config file and apply changes to agent URLs and log level."`
	WaitMCP bool   `name:"wait-mcp" help:"Wait for the agent's MCP services before serving."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set once the agent is built; reloads only arrive after that.
	var built *builtAgent
	onChange := func(next *config.Config) {
		if !levelOverridden(cli.LogLevel) {
			if lvl, err := logger.ParseLevel(next.Logger.Level); err == nil {
				logger.SetLevel(lvl)
			}
		}
		if built != nil && built.registry != nil {
			built.registry.Update(next.Agents)
		}
	}

	cfg, loader, err := c.loadConfig(ctx, cli, onChange)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
		cleanup, err := initLogger(resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger))
		if err != nil {
			return err
		}
		defer cleanup()
	}
	c.applyPort(cfg)

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := task.NewStoreFromConfig(ctx, cfg.Tasks)
	if err != nil {
		return fmt.Errorf("failed to create task store: %w", err)
	}
	defer closeStore()

	built, err = buildAgent(ctx, cfg, obs, c.WaitMCP)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Close(); err != nil {
			slog.Warn("Failed to release agent resources", "error", err)
		}
	}()

	exec := server.NewExecutor(server.ExecutorConfig{
		Agent:     built.agent,
		Streaming: cfg.Agent.StreamingEnabled(),
		Tracer:    obs.Tracer(),
		Metrics:   obs.Metrics(),
	})

	opts := []server.HTTPServerOption{server.WithObservability(obs)}
	for name, check := range built.checks {
		opts = append(opts, server.WithHealthCheck(name, check))
	}
	srv := server.NewHTTPServer(cfg, exec, store, opts...)

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	slog.Info("Agent ready",
		"kind", cfg.Agent.Kind,
		"agent", built.agent.Name(),
		"card", strings.TrimSuffix(cfg.Server.PublicURL, "/")+"/.well-known/agent-card.json",
		"tasks", cfg.Tasks.Backend,
		"streaming", cfg.Agent.StreamingEnabled())

	return srv.Start(ctx)
}

// loadConfig reads --config when given, otherwise builds the config from
// the environment.
func (c *ServeCmd) loadConfig(ctx context.Context, cli *CLI, onChange func(*config.Config)) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		cfg, err := config.FromEnv(c.Kind)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using environment configuration", "kind", cfg.Agent.Kind)
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config, config.WithOnChange(onChange))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.Kind != "" && !strings.EqualFold(c.Kind, cfg.Agent.Kind) {
		loader.Close()
		return nil, nil, fmt.Errorf("agent kind %q conflicts with %q in %s", c.Kind, cfg.Agent.Kind, cli.Config)
	}
	slog.Info("Loaded configuration", "path", cli.Config, "kind", cfg.Agent.Kind)
	return cfg, loader, nil
}

// applyPort overrides the listen port and keeps a derived public URL in
// step with it.
func (c *ServeCmd) applyPort(cfg *config.Config) {
	if c.Port == 0 || c.Port == cfg.Server.Port {
		return
	}
	old := fmt.Sprintf(":%d", cfg.Server.Port)
	if strings.HasSuffix(cfg.Server.PublicURL, old) {
		cfg.Server.PublicURL = strings.TrimSuffix(cfg.Server.PublicURL, old) + fmt.Sprintf(":%d", c.Port)
	}
	cfg.Server.Port = c.Port
}
