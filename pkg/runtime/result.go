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
	"github.com/kadirpekel/nestor/pkg/session"
)

// NodeResult is what a handler hands back to the engine. Every field is
// optional; the zero value means "follow the unique outgoing edge".
type NodeResult struct {
	// Message is text to surface to the user via a message_sent event.
	Message string

	// Output is opaque log data recorded in the history step. String
	// values inside a map output double as edge hints when the node has
	// several outgoing edges.
	Output any

	// Variables is a patch applied to session variables as a shallow
	// overwrite keyed by name. It is applied even when Err is set, so a
	// failing handler can still record counters.
	Variables map[string]any

	// NextNodeID routes execution explicitly. Empty means the engine
	// picks the next node from the outgoing edges.
	NextNodeID string

	// WaitForInput pauses the session: the engine sets waiting_input,
	// persists, and returns to the caller.
	WaitForInput bool

	// End terminates the session with EndStatus (completed when unset).
	End       bool
	EndStatus session.Status

	// Err is fatal: the engine records it in the step, fails the
	// session, and exits the run loop.
	Err *session.Error
}
