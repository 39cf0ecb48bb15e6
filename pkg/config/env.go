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
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	// ${VAR:-default} with a fallback value.
	envVarWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)
	// ${VAR}
	envVarBraced = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	// $VAR
	envVarBare = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExpandEnvVars substitutes environment variable references in s.
// Supported forms: ${VAR:-default}, ${VAR} and $VAR. Unset variables
// without a default expand to the empty string.
func ExpandEnvVars(s string) string {
	s = envVarWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarWithDefault.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(parts[1]); ok {
			return val
		}
		return parts[2]
	})
	s = envVarBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	s = envVarBare.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarBare.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// LoadEnvFiles loads dotenv files into the process environment without
// overriding variables that are already set. With no arguments it
// tries .env.local then .env; missing files are fine.
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load env file", "path", path, "error", err)
			continue
		}
		slog.Debug("Loaded env file", "path", path)
	}
}

// GetProviderAPIKey returns the conventional API key environment
// variable for a provider. Local providers have none.
func GetProviderAPIKey(provider string) string {
	switch strings.ToLower(provider) {
	case ClassifierOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ClassifierAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ClassifierGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

// MaxStepsFromEnv reads MAX_STEPS, returning 0 when unset or invalid.
func MaxStepsFromEnv() int {
	raw := os.Getenv("MAX_STEPS")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		slog.Warn("Ignoring invalid MAX_STEPS", "value", raw)
		return 0
	}
	return n
}

// DefaultToolTimeoutFromEnv reads DEFAULT_TOOL_TIMEOUT_MS as
// milliseconds, returning 0 when unset or invalid.
func DefaultToolTimeoutFromEnv() time.Duration {
	raw := os.Getenv("DEFAULT_TOOL_TIMEOUT_MS")
	if raw == "" {
		return 0
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 1 {
		slog.Warn("Ignoring invalid DEFAULT_TOOL_TIMEOUT_MS", "value", raw)
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// DebugFromEnv reports whether the DEBUG environment variable is set
// to a truthy value.
func DebugFromEnv() bool {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
