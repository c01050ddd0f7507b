// Copyright 2025 The BRRTRouter Authors
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

package route

import (
	"regexp"
	"strings"
)

// Constraint is a compiled per-parameter validation rule.
type Constraint struct {
	Param   string
	Pattern *regexp.Regexp
}

// ConstraintKind is the semantic type of a parameter constraint, mapped
// directly from the OpenAPI schema type/format declared for the parameter.
type ConstraintKind uint8

const (
	ConstraintNone ConstraintKind = iota
	ConstraintInt
	ConstraintFloat
	ConstraintUUID
	ConstraintRegex
	ConstraintEnum
	ConstraintDate
	ConstraintDateTime
)

// ParamConstraint is a typed constraint attached to a route parameter.
type ParamConstraint struct {
	Kind    ConstraintKind
	Pattern string
	Enum    []string
	re      *regexp.Regexp
}

// Compile lazily compiles the regex backing a ConstraintRegex constraint.
func (pc *ParamConstraint) Compile() {
	if pc.Kind == ConstraintRegex && pc.Pattern != "" && pc.re == nil {
		if rx, err := regexp.Compile("^" + pc.Pattern + "$"); err == nil {
			pc.re = rx
		}
	}
}

// ToRegexConstraint lowers a typed constraint to a regex-based Constraint.
func (pc *ParamConstraint) ToRegexConstraint(paramName string) *Constraint {
	var pattern string
	switch pc.Kind {
	case ConstraintInt:
		pattern = `\d+`
	case ConstraintFloat:
		pattern = `-?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`
	case ConstraintUUID:
		pattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}`
	case ConstraintRegex:
		pattern = pc.Pattern
	case ConstraintEnum:
		escaped := make([]string, 0, len(pc.Enum))
		for _, v := range pc.Enum {
			escaped = append(escaped, regexp.QuoteMeta(v))
		}
		pattern = "(" + strings.Join(escaped, "|") + ")"
	case ConstraintDate:
		pattern = `\d{4}-\d{2}-\d{2}`
	case ConstraintDateTime:
		pattern = `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})`
	default:
		return nil
	}

	regex, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil
	}
	return &Constraint{Param: paramName, Pattern: regex}
}
