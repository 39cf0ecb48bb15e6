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

// Package interp implements template interpolation and variable access for
// flow execution.
//
// Templates substitute {{name}} tokens against flat variable names; dotted
// paths ("a.b.c") are resolved only where node semantics call for them
// (condition rules, escalation context). The package also hosts the condition
// operator set used by condition nodes.
package interp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches {{name}} tokens with flat variable names. Dotted names
// deliberately do not match; templates only see top-level variables.
var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Interpolate replaces each {{name}} token with the string form of the named
// variable. Tokens whose name is absent or bound to nil are left intact.
func Interpolate(template string, vars map[string]any) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		value, ok := vars[name]
		if !ok || value == nil {
			return token
		}
		return ToString(value)
	})
}

// InterpolateMap interpolates every string value of a mapping against vars.
// Non-string values pass through unchanged.
func InterpolateMap(inputs map[string]any, vars map[string]any) map[string]any {
	if inputs == nil {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for key, value := range inputs {
		if s, ok := value.(string); ok {
			out[key] = Interpolate(s, vars)
		} else {
			out[key] = value
		}
	}
	return out
}

// Resolve walks a dotted path through nested mappings. The second return
// reports presence: a missing intermediate or leaf yields (nil, false), while
// an explicit nil leaf yields (nil, true).
func Resolve(vars map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = vars
	for i, segment := range segments {
		m, ok := asStringMap(current)
		if !ok {
			return nil, false
		}
		value, exists := m[segment]
		if !exists {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		current = value
	}
	return nil, false
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// ToString renders a variable value the way templates and operators see it.
// Numbers drop insignificant trailing zeros; composites render as JSON.
func ToString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case int:
		return strconv.Itoa(value)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case json.Number:
		return value.String()
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(data)
	}
}

// AsNumber coerces a value to float64. Strings must parse fully; booleans and
// composites do not coerce.
func AsNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
