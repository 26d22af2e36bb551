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

package server

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/agentrelay/pkg/config"
)

// ProtocolVersion is the A2A protocol version advertised in agent cards.
const ProtocolVersion = "0.3.0"

// defaultModes are the input and output modes every agent accepts.
var defaultModes = []string{"text", "text/plain", "application/json"}

// BuildCard creates the agent card for cfg served at url. description is
// used when the config has none.
func BuildCard(cfg config.AgentConfig, url, description string) *a2a.AgentCard {
	name := cfg.Name
	if name == "" {
		name = cfg.Kind
	}
	if cfg.Description != "" {
		description = cfg.Description
	}
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}

	skills := buildSkills(cfg)
	if len(skills) == 0 {
		skills = []a2a.AgentSkill{{
			ID:          name,
			Name:        name,
			Description: description,
			Tags:        []string{cfg.Kind},
		}}
	}

	return &a2a.AgentCard{
		Name:               name,
		Description:        description,
		URL:                url,
		Version:            version,
		ProtocolVersion:    ProtocolVersion,
		DefaultInputModes:  append([]string(nil), defaultModes...),
		DefaultOutputModes: append([]string(nil), defaultModes...),
		Skills:             skills,
		Capabilities: a2a.AgentCapabilities{
			Streaming:              cfg.StreamingEnabled(),
			PushNotifications:      false,
			StateTransitionHistory: true,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "agentrelay",
			URL: "https://github.com/kadirpekel/agentrelay",
		},
	}
}

func buildSkills(cfg config.AgentConfig) []a2a.AgentSkill {
	var skills []a2a.AgentSkill
	for _, skill := range cfg.Skills {
		skills = append(skills, a2a.AgentSkill{
			ID:          skill.ID,
			Name:        skill.Name,
			Description: skill.Description,
			Tags:        skill.Tags,
			Examples:    skill.Examples,
		})
	}
	return skills
}
