package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentrelay/pkg/client"
	"github.com/kadirpekel/agentrelay/pkg/engine"
	"github.com/kadirpekel/agentrelay/pkg/logger"
)

// AgentResult is what one sub-agent call produced.
type AgentResult struct {
	Text       string
	DataParts  []map[string]any
	Data       map[string]any
	EventCount int
	Err        error
}

// Caller sends a payload to a named sub-agent.
type Caller interface {
	Call(ctx context.Context, agentName string, payload map[string]any, contextID string) (*AgentResult, error)
}

// Registry resolves sub-agent names to client managers. Managers are
// created on first use and replaced when an agent's URL changes.
type Registry struct {
	base engine.Config
	opts []engine.Option
	log  *slog.Logger

	mu       sync.Mutex
	urls     map[string]string
	managers map[string]*client.Manager
}

// NewRegistry creates a registry for agents (name to base URL). base
// supplies every engine setting except the URL.
func NewRegistry(base engine.Config, agents map[string]string, opts ...engine.Option) *Registry {
	return &Registry{
		base:     base,
		opts:     opts,
		log:      logger.For("registry"),
		urls:     maps.Clone(agents),
		managers: make(map[string]*client.Manager),
	}
}

// Names returns the registered agent names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.urls))
}

// URL returns the base URL of an agent.
func (r *Registry) URL(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[name]
	return u, ok
}

// Update replaces the agent table. Managers of removed agents or agents
// whose URL changed are closed.
func (r *Registry) Update(agents map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, m := range r.managers {
		if u, ok := agents[name]; !ok || u != r.urls[name] {
			if err := m.Close(); err != nil {
				r.log.Warn("Failed to close agent client", "agent", name, "error", err)
			}
			delete(r.managers, name)
		}
	}
	r.urls = maps.Clone(agents)
	r.log.Info("Agent registry updated", "agents", slices.Sorted(maps.Keys(agents)))
}

// Manager returns the initialized client manager of an agent.
func (r *Registry) Manager(ctx context.Context, name string) (*client.Manager, error) {
	r.mu.Lock()
	m, ok := r.managers[name]
	u, known := r.urls[name]
	r.mu.Unlock()

	if ok {
		return m, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown agent type: %s", name)
	}

	cfg := r.base
	cfg.BaseURL = u
	m = client.NewManager(cfg, r.opts...)
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s agent at %s: %w", name, u, err)
	}

	r.mu.Lock()
	if current, ok := r.urls[name]; !ok || current != u {
		// Update moved the agent while we were connecting.
		r.mu.Unlock()
		m.Close()
		return r.Manager(ctx, name)
	}
	defer r.mu.Unlock()
	if existing, ok := r.managers[name]; ok {
		// Another call won the race.
		m.Close()
		return existing, nil
	}
	r.managers[name] = m
	return m, nil
}

// Call sends payload as one data part and collects the response.
func (r *Registry) Call(ctx context.Context, name string, payload map[string]any, contextID string) (*AgentResult, error) {
	m, err := r.Manager(ctx, name)
	if err != nil {
		return nil, err
	}

	resp, err := m.SendParts(ctx, []a2a.Part{a2a.DataPart{Data: payload}}, client.FailFast, client.WithContextID(contextID))
	if err != nil {
		return nil, fmt.Errorf("failed to call %s agent: %w", name, err)
	}
	return &AgentResult{
		Text:       resp.MergedText,
		DataParts:  resp.DataParts,
		Data:       resp.MergedData,
		EventCount: resp.EventCount,
	}, nil
}

// CheckAll probes every agent's card endpoint in parallel.
func (r *Registry) CheckAll(ctx context.Context) map[string]bool {
	names := r.Names()

	var mu sync.Mutex
	results := make(map[string]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			ok := false
			if m, err := r.Manager(gctx, name); err == nil {
				ok = m.HealthCheck(gctx)
			}
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Check returns a health check reporting unreachable agents.
func (r *Registry) Check() func(context.Context) error {
	return func(ctx context.Context) error {
		var down []string
		for name, ok := range r.CheckAll(ctx) {
			if !ok {
				down = append(down, name)
			}
		}
		if len(down) > 0 {
			slices.Sort(down)
			return fmt.Errorf("agents unreachable: %v", down)
		}
		return nil
	}
}

// Close closes every client manager.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, m := range r.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	clear(r.managers)
	return errors.Join(errs...)
}

var _ Caller = (*Registry)(nil)
