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

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/logger"
)

const (
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFileEnvVar is the environment variable name for log destination
	LogFileEnvVar = "LOG_FILE"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
	// DefaultLogFormat is the default log format
	DefaultLogFormat = "simple"
)

// initLoggerFromCLI initializes the logger from CLI flags and environment
// variables. Priority: CLI flags > env vars > defaults.
// Returns a cleanup function closing the log file when one was opened.
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (func(), error) {
	logLevel := cliLogLevel
	if logLevel == "" {
		logLevel = os.Getenv(LogLevelEnvVar)
	}

	logFile := cliLogFile
	if logFile == "" {
		logFile = os.Getenv(LogFileEnvVar)
	}

	logFormat := cliLogFormat
	if logFormat == "" {
		logFormat = os.Getenv(LogFormatEnvVar)
	}

	return setupLogger(logLevel, logFile, logFormat)
}

// applyLoggerConfig folds the config file's logger section under the CLI
// flags and environment: config values only fill knobs nothing else set.
// Called by commands after config loading.
func applyLoggerConfig(cli *CLI, cfg config.LoggerConfig) (func(), error) {
	logLevel := firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), cfg.Level)
	logFile := firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), cfg.Output)
	logFormat := firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), cfg.Format)
	return setupLogger(logLevel, logFile, logFormat)
}

func setupLogger(logLevel, logFile, logFormat string) (func(), error) {
	if logLevel == "" {
		logLevel = "info"
	}
	if logFormat == "" {
		logFormat = DefaultLogFormat
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	switch logFile {
	case "", config.LogOutputStderr:
	case config.LogOutputStdout:
		output = os.Stdout
	default:
		file, cleanupFn, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	}

	logger.Init(level, output, logFormat)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
