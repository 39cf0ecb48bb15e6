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

package runtime

import (
	"context"
	"fmt"
	"regexp"

	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/interp"
)

// defaultInvalidInputMessage is emitted when validation fails and the
// node configures no errorMessage.
const defaultInvalidInputMessage = "Invalid input. Please try again."

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\d\s\-+()]{10,}$`)
)

// collectInputHandler is two-phase. Entering the node (no input) emits
// the prompt and pauses the session. Resuming with input validates it,
// tracks retry attempts in "<variableName>_attempts", and either stores
// the value, re-prompts, or fails with MAX_RETRIES_EXCEEDED.
type collectInputHandler struct{}

var _ Handler = (*collectInputHandler)(nil)

func (h *collectInputHandler) Kind() flow.Kind { return flow.KindCollectInput }

func (h *collectInputHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	cfg, err := flow.DecodeConfig[flow.CollectInputConfig](ec.Node)
	if err != nil {
		return configError(ec.Node, err)
	}

	// Entering the node: prompt and wait for the next turn.
	if ec.Input == "" {
		res := &NodeResult{WaitForInput: true}
		if cfg.Prompt != "" {
			res.Message = interp.Interpolate(cfg.Prompt, ec.Session.Variables)
		}
		return res
	}

	valid, failMessage, err := validateInput(cfg.Validation, ec.Input)
	if err != nil {
		return configError(ec.Node, err)
	}

	attemptsVar := cfg.VariableName + "_attempts"
	if !valid {
		if cfg.Retry == nil {
			return &NodeResult{Message: failMessage, WaitForInput: true}
		}

		attempts := attemptCount(ec.Session.Variables, attemptsVar) + 1
		if attempts >= cfg.Retry.MaxAttempts {
			return &NodeResult{
				Variables: map[string]any{attemptsVar: attempts},
				Err: withDetails(
					errf(CodeMaxRetriesExceeded, "input for %q failed validation %d times", cfg.VariableName, attempts),
					map[string]any{"variable": cfg.VariableName, "maxAttempts": cfg.Retry.MaxAttempts},
				),
			}
		}

		message := cfg.Retry.RetryMessage
		if message == "" {
			message = failMessage
		}
		return &NodeResult{
			Message:      message,
			Variables:    map[string]any{attemptsVar: attempts},
			WaitForInput: true,
		}
	}

	return &NodeResult{
		Output:    map[string]any{"variable": cfg.VariableName},
		Variables: map[string]any{cfg.VariableName: ec.Input, attemptsVar: 0},
	}
}

// validateInput applies the configured check to the raw input. The
// returned message is what the user sees on failure; a non-nil error
// means the validation itself is unusable (bad pattern).
func validateInput(v *flow.Validation, input string) (bool, string, error) {
	if v == nil {
		return true, "", nil
	}

	valid := true
	switch v.Type {
	case flow.ValidateText, "":
		n := len([]rune(input))
		if v.MinLength != nil && n < *v.MinLength {
			valid = false
		}
		if v.MaxLength != nil && n > *v.MaxLength {
			valid = false
		}
	case flow.ValidateNumber:
		f, ok := interp.AsNumber(input)
		valid = ok
		if valid && v.Min != nil && f < *v.Min {
			valid = false
		}
		if valid && v.Max != nil && f > *v.Max {
			valid = false
		}
	case flow.ValidateEmail:
		valid = emailPattern.MatchString(input)
	case flow.ValidatePhone:
		valid = phonePattern.MatchString(input)
	case flow.ValidateRegex:
		if v.Pattern == "" {
			break
		}
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return false, "", fmt.Errorf("invalid validation pattern %q: %w", v.Pattern, err)
		}
		valid = re.MatchString(input)
	case flow.ValidateDate, flow.ValidateCustom:
		// Pass-through: date and custom checks belong to the channel.
	default:
		// Unknown validation types accept everything rather than trap
		// the user behind a check the runtime cannot perform.
	}

	if valid {
		return true, "", nil
	}
	message := v.ErrorMessage
	if message == "" {
		message = defaultInvalidInputMessage
	}
	return false, message, nil
}

// attemptCount reads the retry counter, tolerating the float64 shape it
// takes after a JSON round-trip through the session store.
func attemptCount(vars map[string]any, name string) int {
	if v, ok := vars[name]; ok {
		if n, ok := interp.AsNumber(v); ok {
			return int(n)
		}
	}
	return 0
}
