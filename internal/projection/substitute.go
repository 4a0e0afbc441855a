// Package projection provides custom variable substitution for display fields.
package projection

import (
	"fmt"
	"regexp"

	"github.com/frigade/frigade-go/internal/models"
)

// variablePattern matches ${variableName} placeholders in display text.
var variablePattern = regexp.MustCompile(`\$\{(.*?)\}`)

// Substitute resolves ${variableName} placeholders in text from the supplied
// variable map. Placeholders whose variable is unset are left as the literal
// placeholder text. Resolution happens at read time and is never written back
// into a flow definition.
func Substitute(text string, vars map[string]interface{}) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}

// SubstituteStep returns a copy of the step with variables resolved in its
// display fields. The original definition is not modified.
func SubstituteStep(step models.StepDefinition, vars map[string]interface{}) models.StepDefinition {
	step.Title = Substitute(step.Title, vars)
	step.Subtitle = Substitute(step.Subtitle, vars)
	step.PrimaryButtonTitle = Substitute(step.PrimaryButtonTitle, vars)
	step.PrimaryButtonURI = Substitute(step.PrimaryButtonURI, vars)
	step.SecondaryButtonTitle = Substitute(step.SecondaryButtonTitle, vars)
	step.SecondaryButtonURI = Substitute(step.SecondaryButtonURI, vars)
	step.ImageURI = Substitute(step.ImageURI, vars)
	step.VideoURI = Substitute(step.VideoURI, vars)
	return step
}

// SubstituteFlow returns a copy of the flow definition with variables
// resolved in its display fields and every step's display fields.
func SubstituteFlow(def models.FlowDefinition, vars map[string]interface{}) models.FlowDefinition {
	def.Title = Substitute(def.Title, vars)
	def.Subtitle = Substitute(def.Subtitle, vars)
	steps := make([]models.StepDefinition, len(def.Steps))
	for i, step := range def.Steps {
		steps[i] = SubstituteStep(step, vars)
	}
	def.Steps = steps
	return def
}
