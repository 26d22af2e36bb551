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

package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kadirpekel/agentrelay/pkg/retry"
)

// DefaultDockerHosts are the container hostnames rewritten to localhost
// when the process does not run inside a container.
var DefaultDockerHosts = []string{
	"planner-agent",
	"knowledge-agent",
	"browser-agent",
	"executor-agent",
	"supervisor-agent",
}

// Config configures an Engine.
type Config struct {
	// BaseURL of the remote agent. The agent card is resolved from
	// {BaseURL}/.well-known/agent-card.json.
	BaseURL string `yaml:"base_url,omitempty"`

	// HTTP client tuning. Agent calls can run for minutes, so the
	// response header timeout is generous.
	ConnectTimeout        time.Duration `yaml:"connect_timeout,omitempty"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	MaxConns              int           `yaml:"max_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`

	// Completion polling after the stream ends.
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	MaxWait         time.Duration `yaml:"max_wait,omitempty"`
	MaxPollFailures int           `yaml:"max_poll_failures,omitempty"`
	HistoryLength   int           `yaml:"history_length,omitempty"`

	// Blocking sends with message/send even when the agent streams.
	Blocking bool `yaml:"blocking,omitempty"`

	// Retry applies to SendWithRetry.
	Retry retry.Config `yaml:"retry,omitempty"`

	// IsDocker disables the container hostname rewrite.
	IsDocker bool `yaml:"is_docker,omitempty"`

	// DockerHosts are extra hostnames rewritten to localhost outside containers.
	DockerHosts []string `yaml:"docker_hosts,omitempty"`

	// Headers are added to every outbound request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent,omitempty"`

	// FingerprintLogSize bounds the number of recorded request fingerprints.
	FingerprintLogSize int `yaml:"fingerprint_log_size,omitempty"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 60 * time.Second
	}
	if c.ResponseHeaderTimeout <= 0 {
		c.ResponseHeaderTimeout = 600 * time.Second
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 60 * time.Second
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 100
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 120 * time.Second
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 5
	}
	if c.HistoryLength <= 0 {
		c.HistoryLength = 20
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.FingerprintLogSize <= 0 {
		c.FingerprintLogSize = 1000
	}
	c.Retry.SetDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL: %s", c.BaseURL)
	}
	if c.PollInterval > c.MaxWait {
		return fmt.Errorf("poll_interval (%s) exceeds max_wait (%s)", c.PollInterval, c.MaxWait)
	}
	return nil
}

// pollAttempts is the number of tasks/get calls that fit into MaxWait.
func (c *Config) pollAttempts() int {
	n := int(c.MaxWait / c.PollInterval)
	if n < 1 {
		return 1
	}
	return n
}

// dockerHosts returns the rewrite set: defaults plus configured extras.
func (c *Config) dockerHosts() []string {
	hosts := make([]string, 0, len(DefaultDockerHosts)+len(c.DockerHosts))
	hosts = append(hosts, DefaultDockerHosts...)
	return append(hosts, c.DockerHosts...)
}

// InDocker reports whether IS_DOCKER=true is set in the environment.
func InDocker() bool {
	return strings.EqualFold(os.Getenv("IS_DOCKER"), "true")
}
