package frigade

import (
	"fmt"

	"github.com/frigade/frigade-go/internal/bus"
	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/projection"
)

// Flow is a handle onto one flow's projected state. It holds no state of its
// own; every read recomputes from the current catalog and progress data, so a
// handle never goes stale.
type Flow struct {
	c  *Client
	id string
}

// ID returns the flow identifier.
func (f *Flow) ID() string {
	return f.id
}

// Definition returns the flow definition with ${name} placeholders resolved
// against the current custom variables. The catalog's copy is not modified.
func (f *Flow) Definition() (models.FlowDefinition, error) {
	def, ok := f.c.catalog.Get(f.id)
	if !ok {
		return models.FlowDefinition{}, models.ErrFlowNotFound
	}
	return projection.SubstituteFlow(def, f.c.customVars()), nil
}

// State returns the full projected view of the flow.
func (f *Flow) State() (models.ProjectedFlowState, error) {
	return f.c.engine.Project(f.id)
}

// Status returns the derived overall status of the flow.
func (f *Flow) Status() models.FlowStatus {
	return f.c.engine.FlowStatus(f.id)
}

// Completed reports whether every step of the flow is completed.
func (f *Flow) Completed() bool {
	return f.Status() == models.FlowStatusCompleted
}

// StepsCompleted returns the number of distinct completed steps.
func (f *Flow) StepsCompleted() int {
	return f.c.engine.StepsCompleted(f.id)
}

// TotalSteps returns the number of steps in the flow definition.
func (f *Flow) TotalSteps() int {
	def, ok := f.c.catalog.Get(f.id)
	if !ok {
		return 0
	}
	return len(def.Steps)
}

// NextStepIndex returns the smallest step index not yet completed, or
// TotalSteps when the flow is complete.
func (f *Flow) NextStepIndex() int {
	return f.c.engine.NextStepIndex(f.id)
}

// Visible reports whether the flow should currently be shown, honoring
// targeting logic fail-closed.
func (f *Flow) Visible() bool {
	return f.c.engine.Visible(f.id)
}

// Steps returns handles onto every step of the flow, in definition order.
func (f *Flow) Steps() []*Step {
	def, ok := f.c.catalog.Get(f.id)
	if !ok {
		return nil
	}
	steps := make([]*Step, 0, len(def.Steps))
	for i := range def.Steps {
		steps = append(steps, &Step{flow: f, id: def.Steps[i].ID})
	}
	return steps
}

// GetStep returns a handle onto the step with the given id, or
// models.ErrStepNotFound.
func (f *Flow) GetStep(stepID string) (*Step, error) {
	def, ok := f.c.catalog.Get(f.id)
	if !ok {
		return nil, models.ErrFlowNotFound
	}
	if def.Step(stepID) == nil {
		return nil, models.ErrStepNotFound
	}
	return &Step{flow: f, id: stepID}, nil
}

// GetStepByIndex returns a handle onto the step at the given ordered position.
func (f *Flow) GetStepByIndex(index int) (*Step, error) {
	def, ok := f.c.catalog.Get(f.id)
	if !ok {
		return nil, models.ErrFlowNotFound
	}
	if index < 0 || index >= len(def.Steps) {
		return nil, fmt.Errorf("%w: index %d out of range for flow %s", models.ErrStepNotFound, index, f.id)
	}
	return &Step{flow: f, id: def.Steps[index].ID}, nil
}

// Complete records a completion for every step not yet completed, bringing
// the whole flow to completed status.
func (f *Flow) Complete(data map[string]interface{}) error {
	def, ok := f.c.catalog.Get(f.id)
	if !ok {
		return models.ErrFlowNotFound
	}
	for _, step := range def.Steps {
		if f.c.engine.StepStatus(f.id, step.ID) == models.StepActionCompleted {
			continue
		}
		if err := f.c.recordStep(f.id, step.ID, models.StepActionCompleted, data); err != nil {
			return err
		}
	}
	return nil
}

// OnStateChange registers a handler for changes to this flow and its steps.
func (f *Flow) OnStateChange(handler Handler) Token {
	return f.c.bus.Subscribe(bus.ForFlow(f.id), handler)
}
