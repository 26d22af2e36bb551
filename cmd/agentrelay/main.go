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

// Command agentrelay serves and talks to A2A agents.
//
// Usage:
//
//	agentrelay serve supervisor --config agentrelay.yaml
//	agentrelay serve knowledge --wait-mcp
//	agentrelay send http://localhost:8000 "what do you remember about go?"
//	agentrelay health
//	agentrelay card http://localhost:8002
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentrelay"
	"github.com/kadirpekel/agentrelay/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Serve one agent over A2A."`
	Send    SendCmd    `cmd:"" help:"Send a text message to an agent."`
	Health  HealthCmd  `cmd:"" help:"Check that agents are reachable."`
	Card    CardCmd    `cmd:"" help:"Show an agent card."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(agentrelay.GetVersion())
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentrelay"),
		kong.Description("A2A message engine, task coordinator and multi-agent supervisor"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
