package frigade

import (
	"fmt"

	"github.com/frigade/frigade-go/internal/bus"
	"github.com/frigade/frigade-go/internal/models"
	"github.com/frigade/frigade-go/internal/projection"
)

// Step is a handle onto one step's projected state within a flow. Like Flow,
// it holds no state of its own.
type Step struct {
	flow *Flow
	id   string
}

// ID returns the step identifier.
func (s *Step) ID() string {
	return s.id
}

// FlowID returns the owning flow's identifier.
func (s *Step) FlowID() string {
	return s.flow.id
}

// Definition returns the step definition with ${name} placeholders resolved
// against the current custom variables.
func (s *Step) Definition() (models.StepDefinition, error) {
	def, ok := s.flow.c.catalog.Get(s.flow.id)
	if !ok {
		return models.StepDefinition{}, models.ErrFlowNotFound
	}
	step := def.Step(s.id)
	if step == nil {
		return models.StepDefinition{}, models.ErrStepNotFound
	}
	return projection.SubstituteStep(*step, s.flow.c.customVars()), nil
}

// Index returns the step's ordered position within its flow, or -1 when the
// step is no longer in the catalog.
func (s *Step) Index() int {
	def, ok := s.flow.c.catalog.Get(s.flow.id)
	if !ok {
		return -1
	}
	return def.StepIndex(s.id)
}

// Status returns the current derived status of the step.
func (s *Step) Status() models.StepAction {
	return s.flow.c.engine.StepStatus(s.flow.id, s.id)
}

// IsStarted reports whether the step's latest status is started.
func (s *Step) IsStarted() bool {
	return s.Status() == models.StepActionStarted
}

// IsCompleted reports whether the step's latest status is completed.
func (s *Step) IsCompleted() bool {
	return s.Status() == models.StepActionCompleted
}

// Progress returns the completion fraction of the sub-flow referenced by the
// step's completion criteria. The second return is false when the step has no
// criteria or the referenced flow is unknown or empty.
func (s *Step) Progress() (float64, bool) {
	return s.flow.c.engine.StepProgress(s.flow.id, s.id)
}

// Start records that the user started the step. The new status is visible to
// reads immediately; remote submission happens in the background. On a step
// flagged autoMarkCompleted the completion is recorded in the same call.
func (s *Step) Start(data map[string]interface{}) error {
	return s.flow.c.recordStep(s.flow.id, s.id, models.StepActionStarted, data)
}

// Complete records that the user completed the step.
func (s *Step) Complete(data map[string]interface{}) error {
	return s.flow.c.recordStep(s.flow.id, s.id, models.StepActionCompleted, data)
}

// Skip records that the user skipped the step. Only steps flagged skippable
// in their definition may be skipped.
func (s *Step) Skip(data map[string]interface{}) error {
	def, err := s.Definition()
	if err != nil {
		return err
	}
	if !def.Skippable {
		return fmt.Errorf("step %s of flow %s is not skippable", s.id, s.flow.id)
	}
	return s.flow.c.recordStep(s.flow.id, s.id, models.StepActionSkipped, data)
}

// OnStateChange registers a handler for changes to this step only.
func (s *Step) OnStateChange(handler Handler) Token {
	return s.flow.c.bus.Subscribe(bus.ForStep(s.flow.id, s.id), handler)
}
