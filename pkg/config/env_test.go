package config

import (
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NESTOR_TEST_HOST", "db.internal")
	t.Setenv("NESTOR_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "braced",
			input: "host: ${NESTOR_TEST_HOST}",
			want:  "host: db.internal",
		},
		{
			name:  "bare",
			input: "host: $NESTOR_TEST_HOST",
			want:  "host: db.internal",
		},
		{
			name:  "default_used_when_unset",
			input: "${NESTOR_TEST_MISSING:-fallback}",
			want:  "fallback",
		},
		{
			name:  "default_ignored_when_set",
			input: "${NESTOR_TEST_HOST:-fallback}",
			want:  "db.internal",
		},
		{
			name:  "empty_set_value_beats_default",
			input: "${NESTOR_TEST_EMPTY:-fallback}",
			want:  "",
		},
		{
			name:  "unset_without_default",
			input: "${NESTOR_TEST_MISSING}",
			want:  "",
		},
		{
			name:  "multiple_refs",
			input: "${NESTOR_TEST_HOST}:${NESTOR_TEST_MISSING:-5432}",
			want:  "db.internal:5432",
		},
		{
			name:  "no_refs",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvVars(tt.input); got != tt.want {
				t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGetProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "sk-google")

	if got := GetProviderAPIKey("openai"); got != "sk-openai" {
		t.Errorf("openai key = %q", got)
	}
	if got := GetProviderAPIKey("Anthropic"); got != "sk-anthropic" {
		t.Errorf("anthropic key (case insensitive) = %q", got)
	}
	if got := GetProviderAPIKey("gemini"); got != "sk-google" {
		t.Errorf("expected GOOGLE_API_KEY fallback, got %q", got)
	}
	if got := GetProviderAPIKey("ollama"); got != "" {
		t.Errorf("expected no key for ollama, got %q", got)
	}
	if got := GetProviderAPIKey("rules"); got != "" {
		t.Errorf("expected no key for rules, got %q", got)
	}
}

func TestMaxStepsFromEnv(t *testing.T) {
	t.Setenv("MAX_STEPS", "")
	if got := MaxStepsFromEnv(); got != 0 {
		t.Errorf("unset = %d, want 0", got)
	}

	t.Setenv("MAX_STEPS", "42")
	if got := MaxStepsFromEnv(); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	t.Setenv("MAX_STEPS", "not-a-number")
	if got := MaxStepsFromEnv(); got != 0 {
		t.Errorf("invalid = %d, want 0", got)
	}

	t.Setenv("MAX_STEPS", "-5")
	if got := MaxStepsFromEnv(); got != 0 {
		t.Errorf("negative = %d, want 0", got)
	}
}

func TestDefaultToolTimeoutFromEnv(t *testing.T) {
	t.Setenv("DEFAULT_TOOL_TIMEOUT_MS", "")
	if got := DefaultToolTimeoutFromEnv(); got != 0 {
		t.Errorf("unset = %v, want 0", got)
	}

	t.Setenv("DEFAULT_TOOL_TIMEOUT_MS", "1500")
	if got := DefaultToolTimeoutFromEnv(); got != 1500*time.Millisecond {
		t.Errorf("got %v, want 1.5s", got)
	}

	t.Setenv("DEFAULT_TOOL_TIMEOUT_MS", "oops")
	if got := DefaultToolTimeoutFromEnv(); got != 0 {
		t.Errorf("invalid = %v, want 0", got)
	}
}

func TestDebugFromEnv(t *testing.T) {
	for _, val := range []string{"1", "true", "TRUE", "yes", "on"} {
		t.Setenv("DEBUG", val)
		if !DebugFromEnv() {
			t.Errorf("DEBUG=%q should be truthy", val)
		}
	}
	for _, val := range []string{"", "0", "false", "off"} {
		t.Setenv("DEBUG", val)
		if DebugFromEnv() {
			t.Errorf("DEBUG=%q should be falsy", val)
		}
	}
}
