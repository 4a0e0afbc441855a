// Package projection provides completion criteria parsing.
package projection

import (
	"regexp"
	"strings"
)

// criteriaPattern matches the flow_completed(<flowId>) criteria form.
var criteriaPattern = regexp.MustCompile(`^flow_completed\(\s*([^)\s]+)\s*\)$`)

// SubFlowFromCriteria extracts a referenced sub-flow id from a step's
// completion criteria expression. Two forms are accepted: the explicit
// flow_completed(<flowId>) call and a bare flow id. Returns "" when the
// criteria does not reference a sub-flow.
func SubFlowFromCriteria(criteria string) string {
	criteria = strings.TrimSpace(criteria)
	if criteria == "" {
		return ""
	}
	if m := criteriaPattern.FindStringSubmatch(criteria); m != nil {
		return m[1]
	}
	// A bare token is treated as a flow id reference.
	if !strings.ContainsAny(criteria, " ()") {
		return criteria
	}
	return ""
}
