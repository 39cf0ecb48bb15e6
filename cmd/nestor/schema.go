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
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
)

// SchemaCmd generates JSON Schema from Nestor structs. The flow schema
// is what visual builders validate against before publishing; output
// goes to stdout so it can be redirected.
type SchemaCmd struct {
	// Target selects which schema to generate
	Target string `arg:"" optional:"" help:"Schema to generate: flow or config." default:"flow" enum:"flow,config"`

	// Compact enables compact JSON output (no indentation)
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

// Run executes the schema generation command.
func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		// Disallow additional properties for strict validation
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref) for form-builder compatibility
		DoNotReference: true,
	}

	var schema *jsonschema.Schema
	switch c.Target {
	case "config":
		schema = reflector.Reflect(&config.Config{})
		schema.ID = "https://nestor.dev/schemas/config.json"
		schema.Title = "Nestor Configuration Schema"
		schema.Description = "Configuration schema for the Nestor flow runtime"
	default: // flow
		schema = reflector.Reflect(&flow.Flow{})
		schema.ID = "https://nestor.dev/schemas/flow.json"
		schema.Title = "Nestor Flow Definition Schema"
		schema.Description = "Schema for conversational flow definitions"
		schema.Examples = []interface{}{
			map[string]interface{}{
				"version":   "1.0",
				"id":        "greeter",
				"name":      "Greeter",
				"entryNode": "start",
				"nodes": []interface{}{
					map[string]interface{}{
						"id":   "start",
						"type": "start",
						"config": map[string]interface{}{
							"welcomeMessage": "Hello!",
						},
					},
					map[string]interface{}{
						"id":   "done",
						"type": "end",
					},
				},
				"edges": []interface{}{
					map[string]interface{}{
						"id":     "e1",
						"source": "start",
						"target": "done",
					},
				},
			},
		}
	}

	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	return nil
}
