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

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/agentrelay/pkg/config"
	"github.com/kadirpekel/agentrelay/pkg/logger"
)

const (
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
)

type logSettings struct {
	level  string
	file   string
	format string
}

// resolveLogSettings applies the priority flags > env vars > config file >
// defaults. cfg may be nil.
func resolveLogSettings(flagLevel, flagFile, flagFormat string, cfg *config.LoggerConfig) logSettings {
	s := logSettings{
		level:  firstNonEmpty(flagLevel, os.Getenv(LogLevelEnvVar)),
		file:   firstNonEmpty(flagFile, os.Getenv(LogFileEnvVar)),
		format: firstNonEmpty(flagFormat, os.Getenv(LogFormatEnvVar)),
	}
	if cfg != nil {
		s.level = firstNonEmpty(s.level, cfg.Level)
		s.file = firstNonEmpty(s.file, cfg.File)
		s.format = firstNonEmpty(s.format, cfg.Format)
	}
	s.level = firstNonEmpty(s.level, "info")
	s.format = firstNonEmpty(s.format, logger.FormatSimple)
	return s
}

// initLogger installs the logger. The returned cleanup is never nil.
func initLogger(s logSettings) (func(), error) {
	lvl, err := logger.ParseLevel(s.level)
	if err != nil {
		return func() {}, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	cleanup := func() {}
	if s.file != "" {
		file, closeFn, err := logger.OpenLogFile(s.file)
		if err != nil {
			return func() {}, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(lvl, output, s.format)
	return cleanup, nil
}

// levelOverridden reports whether the log level comes from a flag or the
// environment, in which case config reloads leave it alone.
func levelOverridden(flagLevel string) bool {
	return flagLevel != "" || os.Getenv(LogLevelEnvVar) != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
