// Package projection derives flow and step status for the Frigade SDK.
//
// It combines flow definitions, action records, custom variables and
// targeting state into ProjectedFlowState views. Every output is a pure
// function of those inputs; nothing here holds mutable state of its own, so a
// projection can be recomputed at any time and always agrees with the
// underlying records.
package projection

import (
	"log/slog"
	"sync"

	"github.com/frigade/frigade-go/internal/models"
)

// Engine resolves projections against the current catalog and progress data.
// The lookup functions are supplied by the owning client and must return the
// current in-memory snapshots; the engine never fetches.
type Engine struct {
	// FlowLookup returns the definition for a flow id, if known.
	FlowLookup func(flowID string) (models.FlowDefinition, bool)
	// RecordLookup returns the append-only action records for a flow, in
	// insertion order.
	RecordLookup func(flowID string) []models.ActionRecord
	// TargetingLookup returns the remote-evaluated targeting state for a flow.
	TargetingLookup func(flowID string) (models.UserFlowState, bool)
	// TargetingLoaded reports whether targeting state has finished loading.
	// While false every targeted flow is hidden (fail-closed).
	TargetingLoaded func() bool

	mu          sync.Mutex
	cycleLogged map[string]bool
}

// latestAction returns the action of the record with the greatest timestamp
// for the given step, or not-started when no record exists. Equal timestamps
// fall back to insertion order: the most recently appended record wins.
func latestAction(records []models.ActionRecord, stepID string) models.StepAction {
	action := models.StepActionNotStarted
	var found bool
	var latest models.ActionRecord
	for _, r := range records {
		if r.StepID != stepID {
			continue
		}
		if !found || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
			action = r.Action
			found = true
		}
	}
	return action
}

// StepStatus returns the current status of one step within a flow. A step
// with a completion criteria referencing a sub-flow is completed when either
// the sub-flow is fully complete or a direct completion record exists.
func (e *Engine) StepStatus(flowID, stepID string) models.StepAction {
	def, ok := e.FlowLookup(flowID)
	if !ok {
		return models.StepActionNotStarted
	}
	step := def.Step(stepID)
	if step == nil {
		return models.StepActionNotStarted
	}
	visited := map[string]bool{flowID: true}
	return e.stepStatus(flowID, *step, visited)
}

func (e *Engine) stepStatus(flowID string, step models.StepDefinition, visited map[string]bool) models.StepAction {
	direct := latestAction(e.RecordLookup(flowID), step.ID)

	subFlow := SubFlowFromCriteria(step.CompletionCriteria)
	if subFlow == "" {
		return direct
	}
	if visited[subFlow] {
		e.logCycleOnce(flowID, step.ID, subFlow)
		return direct
	}
	visited[subFlow] = true
	defer delete(visited, subFlow)

	completed, total := e.completionCounts(subFlow, visited)
	if total > 0 && completed == total {
		return models.StepActionCompleted
	}
	if direct == models.StepActionCompleted || direct == models.StepActionSkipped {
		return direct
	}
	if completed > 0 {
		return models.StepActionStarted
	}
	return direct
}

// logCycleOnce records a configuration diagnostic for a completion criteria
// cycle; the cycle is treated as no progress rather than recursed into.
func (e *Engine) logCycleOnce(flowID, stepID, subFlow string) {
	key := flowID + "/" + stepID
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cycleLogged == nil {
		e.cycleLogged = make(map[string]bool)
	}
	if e.cycleLogged[key] {
		return
	}
	e.cycleLogged[key] = true
	slog.Warn("projection: completion criteria cycle detected",
		"flowID", flowID, "stepID", stepID, "subFlow", subFlow, "error", models.ErrCriteriaCycle)
}

// completionCounts returns (completed, total) step counts for a flow,
// deduplicated so repeated completion records for the same step count once.
func (e *Engine) completionCounts(flowID string, visited map[string]bool) (int, int) {
	def, ok := e.FlowLookup(flowID)
	if !ok {
		return 0, 0
	}
	completed := 0
	for _, step := range def.Steps {
		if e.stepStatus(flowID, step, visited) == models.StepActionCompleted {
			completed++
		}
	}
	return completed, len(def.Steps)
}

// StepsCompleted returns the number of distinct steps whose latest status is
// completed.
func (e *Engine) StepsCompleted(flowID string) int {
	visited := map[string]bool{flowID: true}
	completed, _ := e.completionCounts(flowID, visited)
	return completed
}

// FlowStatus returns the derived overall status of a flow. A flow with zero
// recorded actions is not-started even when it has zero steps.
func (e *Engine) FlowStatus(flowID string) models.FlowStatus {
	if _, ok := e.FlowLookup(flowID); !ok {
		return models.FlowStatusNotStarted
	}
	visited := map[string]bool{flowID: true}
	completed, total := e.completionCounts(flowID, visited)
	if total > 0 && completed == total {
		return models.FlowStatusCompleted
	}
	if len(e.RecordLookup(flowID)) > 0 {
		return models.FlowStatusStarted
	}
	return models.FlowStatusNotStarted
}

// NextStepIndex returns the smallest step index whose status is not
// completed, or the step count when every step is completed (past the end,
// signalling close-of-flow).
func (e *Engine) NextStepIndex(flowID string) int {
	def, ok := e.FlowLookup(flowID)
	if !ok {
		return 0
	}
	visited := map[string]bool{flowID: true}
	for i, step := range def.Steps {
		if e.stepStatus(flowID, step, visited) != models.StepActionCompleted {
			return i
		}
	}
	return len(def.Steps)
}

// StepProgress returns the completion fraction of the sub-flow referenced by
// the step's completion criteria. The second return is false when the step
// has no criteria, the sub-flow is unknown, or the sub-flow has no steps.
func (e *Engine) StepProgress(flowID, stepID string) (float64, bool) {
	def, ok := e.FlowLookup(flowID)
	if !ok {
		return 0, false
	}
	step := def.Step(stepID)
	if step == nil {
		return 0, false
	}
	subFlow := SubFlowFromCriteria(step.CompletionCriteria)
	if subFlow == "" {
		return 0, false
	}
	visited := map[string]bool{flowID: true}
	if visited[subFlow] {
		return 0, false
	}
	visited[subFlow] = true
	completed, total := e.completionCounts(subFlow, visited)
	if total == 0 {
		return 0, false
	}
	return float64(completed) / float64(total), true
}

// Visible reports whether a flow should be shown. Flows with targeting logic
// are hidden until the remote targeting state has loaded and explicitly says
// the flow should trigger (fail-closed: no flash of content that then
// disappears).
func (e *Engine) Visible(flowID string) bool {
	def, ok := e.FlowLookup(flowID)
	if !ok {
		return false
	}
	if def.TargetingLogic == "" {
		return true
	}
	if e.TargetingLoaded == nil || !e.TargetingLoaded() {
		return false
	}
	state, ok := e.TargetingLookup(flowID)
	if !ok {
		return false
	}
	return state.ShouldTrigger
}

// Project computes the full derived view of one flow.
func (e *Engine) Project(flowID string) (models.ProjectedFlowState, error) {
	def, ok := e.FlowLookup(flowID)
	if !ok {
		return models.ProjectedFlowState{}, models.ErrFlowNotFound
	}

	visited := map[string]bool{flowID: true}
	statuses := make([]models.StepAction, len(def.Steps))
	completed := 0
	next := len(def.Steps)
	nextFound := false
	for i, step := range def.Steps {
		statuses[i] = e.stepStatus(flowID, step, visited)
		if statuses[i] == models.StepActionCompleted {
			completed++
		} else if !nextFound {
			next = i
			nextFound = true
		}
	}

	status := models.FlowStatusNotStarted
	if len(def.Steps) > 0 && completed == len(def.Steps) {
		status = models.FlowStatusCompleted
	} else if len(e.RecordLookup(flowID)) > 0 {
		status = models.FlowStatusStarted
	}

	return models.ProjectedFlowState{
		FlowID:         flowID,
		Status:         status,
		StepStatuses:   statuses,
		StepsCompleted: completed,
		TotalSteps:     len(def.Steps),
		NextStepIndex:  next,
		Visible:        e.Visible(flowID),
	}, nil
}
