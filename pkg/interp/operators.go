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

package interp

import (
	"reflect"
	"regexp"
	"strings"
)

// Condition operators. Unknown operators never match.
const (
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpGreaterThan  = "greater_than"
	OpLessThan     = "less_than"
	OpGreaterEqual = "greater_equal"
	OpLessEqual    = "less_equal"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
	OpMatchesRegex = "matches_regex"
	OpIsEmpty      = "is_empty"
	OpIsNotEmpty   = "is_not_empty"
)

// Evaluate applies a condition operator to a resolved value. present reports
// whether the variable path resolved at all; an absent value is distinct from
// an explicit nil and matches only the emptiness operators and their
// string-form fallbacks.
//
// Semantics: equality falls back to string-form comparison when direct
// equality fails; ordered comparisons require both sides to parse as numbers;
// substring operators compare string forms; an invalid regex pattern never
// matches and never panics.
func Evaluate(operator string, actual any, present bool, expected any) bool {
	switch operator {
	case OpEquals:
		return equals(actual, expected)
	case OpNotEquals:
		return !equals(actual, expected)
	case OpGreaterThan:
		return ordered(actual, expected, func(a, b float64) bool { return a > b })
	case OpLessThan:
		return ordered(actual, expected, func(a, b float64) bool { return a < b })
	case OpGreaterEqual:
		return ordered(actual, expected, func(a, b float64) bool { return a >= b })
	case OpLessEqual:
		return ordered(actual, expected, func(a, b float64) bool { return a <= b })
	case OpContains:
		return strings.Contains(ToString(actual), ToString(expected))
	case OpNotContains:
		return !strings.Contains(ToString(actual), ToString(expected))
	case OpStartsWith:
		return strings.HasPrefix(ToString(actual), ToString(expected))
	case OpEndsWith:
		return strings.HasSuffix(ToString(actual), ToString(expected))
	case OpMatchesRegex:
		re, err := regexp.Compile(ToString(expected))
		if err != nil {
			return false
		}
		return re.MatchString(ToString(actual))
	case OpIsEmpty:
		return isEmpty(actual, present)
	case OpIsNotEmpty:
		return !isEmpty(actual, present)
	default:
		return false
	}
}

func equals(actual, expected any) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	// Numeric equality across representations (3 vs 3.0 vs "3").
	if a, ok := AsNumber(actual); ok {
		if b, ok := AsNumber(expected); ok {
			return a == b
		}
	}
	return ToString(actual) == ToString(expected)
}

func ordered(actual, expected any, cmp func(a, b float64) bool) bool {
	a, ok := AsNumber(actual)
	if !ok {
		return false
	}
	b, ok := AsNumber(expected)
	if !ok {
		return false
	}
	return cmp(a, b)
}

func isEmpty(actual any, present bool) bool {
	if !present || actual == nil {
		return true
	}
	s, ok := actual.(string)
	return ok && s == ""
}
