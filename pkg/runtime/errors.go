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
	"errors"
	"fmt"

	"github.com/kadirpekel/nestor/pkg/session"
)

// Error codes surfaced by the runtime. Codes are stable; clients and
// channel adapters key behaviour off them.
const (
	CodeEntryNotFound      = "ENTRY_NOT_FOUND"
	CodeNodeNotFound       = "NODE_NOT_FOUND"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionNotWaiting  = "SESSION_NOT_WAITING"
	CodeMaxStepsExceeded   = "MAX_STEPS_EXCEEDED"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	CodeIntentNotFound     = "INTENT_NOT_FOUND"
	CodeToolCallFailed     = "TOOL_CALL_FAILED"
	CodeToolCallError      = "TOOL_CALL_ERROR"
	CodeUnknownNodeType    = "UNKNOWN_NODE_TYPE"
	CodeExecutionError     = "EXECUTION_ERROR"
)

// errf builds a structured error with the given code.
func errf(code, format string, args ...any) *session.Error {
	return &session.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// withDetails attaches details to a structured error and returns it.
func withDetails(err *session.Error, details map[string]any) *session.Error {
	err.Details = details
	return err
}

// ErrorCode extracts the structured code from an error chain, or ""
// when the error carries none. The HTTP facade uses it to map runtime
// failures onto status codes.
func ErrorCode(err error) string {
	var se *session.Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
