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

// Package tool defines the tools tool-backed agents call.
//
// Tools come from MCP servers (see mcptoolset). A tool-backed agent
// (see agenttool) wraps exactly one tool and turns each A2A request into
// one call.
package tool

import (
	"context"
	"errors"
	"strings"
)

// Tool describes a callable capability.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the JSON schema of the tool arguments, or nil.
	Schema() map[string]any
}

// CallableTool is a Tool that can be invoked synchronously.
type CallableTool interface {
	Tool

	// Call runs the tool. A tool-level failure is reported through
	// Result.IsError; the error return is for transport failures.
	Call(ctx context.Context, args map[string]any) (*Result, error)
}

// Toolset is a named group of tools that share a connection.
type Toolset interface {
	Name() string

	// Tools lists the available tools, connecting on first use.
	Tools(ctx context.Context) ([]CallableTool, error)

	Close() error
}

// Result is the outcome of one tool call.
type Result struct {
	// Content holds the text items in the order the tool returned them.
	Content []string

	// Structured is the tool's structured output, if any.
	Structured map[string]any

	IsError bool
}

// Text joins the text content with newlines.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Content, "\n")
}

// Find returns the tool called name, or nil.
func Find(tools []CallableTool, name string) CallableTool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Group exposes several toolsets as one. When two toolsets offer the
// same tool name the earlier one wins.
type Group struct {
	name string
	sets []Toolset
}

// NewGroup creates a Group over sets.
func NewGroup(name string, sets ...Toolset) *Group {
	return &Group{name: name, sets: sets}
}

// Name implements Toolset.
func (g *Group) Name() string { return g.name }

// Tools lists the tools of every reachable toolset. It fails only when
// no toolset could be listed.
func (g *Group) Tools(ctx context.Context) ([]CallableTool, error) {
	var (
		out  []CallableTool
		errs []error
		seen = make(map[string]bool)
	)
	for _, s := range g.sets {
		tools, err := s.Tools(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, t := range tools {
			if seen[t.Name()] {
				continue
			}
			seen[t.Name()] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Close closes every toolset.
func (g *Group) Close() error {
	var errs []error
	for _, s := range g.sets {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Toolset = (*Group)(nil)
