// Package models defines the core data structures for the Frigade SDK.
//
// It includes types for flow and step definitions, user action records, and
// derived projection state, which are shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// FlowType describes what kind of onboarding experience a flow renders as.
type FlowType string

const (
	// FlowTypeChecklist renders as an ordered checklist of steps.
	FlowTypeChecklist FlowType = "CHECKLIST"
	// FlowTypeForm renders as a multi-step form.
	FlowTypeForm FlowType = "FORM"
	// FlowTypeTour renders as a product tour.
	FlowTypeTour FlowType = "TOUR"
	// FlowTypeSupport renders as a support/help widget.
	FlowTypeSupport FlowType = "SUPPORT"
	// FlowTypeCustom allows consumer-defined rendering.
	FlowTypeCustom FlowType = "CUSTOM"
)

// TriggerType describes how a flow is launched.
type TriggerType string

const (
	// TriggerTypeManual launches only when explicitly shown by the consumer.
	TriggerTypeManual TriggerType = "MANUAL"
	// TriggerTypeAutomatic launches as soon as targeting allows it.
	TriggerTypeAutomatic TriggerType = "AUTOMATIC"
)

// StepAction identifies the kind of action recorded against a step. The
// not-started value is derived (no record exists) and is never recorded.
type StepAction string

const (
	// StepActionNotStarted indicates no action record exists for the step.
	StepActionNotStarted StepAction = "NOT_STARTED_STEP"
	// StepActionStarted indicates the user started the step.
	StepActionStarted StepAction = "STARTED_STEP"
	// StepActionCompleted indicates the user completed the step.
	StepActionCompleted StepAction = "COMPLETED_STEP"
	// StepActionSkipped indicates the user skipped the step.
	StepActionSkipped StepAction = "SKIPPED_STEP"
)

// FlowStatus is the derived overall status of a flow for one user.
type FlowStatus string

const (
	// FlowStatusNotStarted indicates no action record exists for the flow.
	FlowStatusNotStarted FlowStatus = "NOT_STARTED_FLOW"
	// FlowStatusStarted indicates at least one action record exists.
	FlowStatusStarted FlowStatus = "STARTED_FLOW"
	// FlowStatusCompleted indicates every step of the flow is completed.
	FlowStatusCompleted FlowStatus = "COMPLETED_FLOW"
)

// Validation constants for input validation
const (
	// MaxVariableValueLength defines the maximum length for a custom variable value
	MaxVariableValueLength = 1024
	// MaxActionDataBytes defines the maximum serialized size of an action payload
	MaxActionDataBytes = 8192
)

// Error variables for better error handling and testability
var (
	ErrUninitialized    = errors.New("client has not been initialized")
	ErrEmptyAPIKey      = errors.New("api key cannot be empty")
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrEmptyGroupID     = errors.New("group id cannot be empty")
	ErrEmptyEventName   = errors.New("event name cannot be empty")
	ErrEmptyFlowID      = errors.New("flow id cannot be empty")
	ErrEmptyStepID      = errors.New("step id cannot be empty")
	ErrInvalidAction    = errors.New("invalid step action type")
	ErrFlowNotFound     = errors.New("flow not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrCriteriaCycle    = errors.New("completion criteria cycle detected")
	ErrActionDataTooBig = errors.New("action payload exceeds maximum size")
	ErrVariableTooLong  = errors.New("custom variable value exceeds maximum length")
)

// IsValidStepAction checks if the given action type can be recorded.
func IsValidStepAction(a StepAction) bool {
	switch a {
	case StepActionStarted, StepActionCompleted, StepActionSkipped:
		return true
	default:
		return false
	}
}

// IsValidFlowType checks if the given flow type is supported.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowTypeChecklist, FlowTypeForm, FlowTypeTour, FlowTypeSupport, FlowTypeCustom:
		return true
	default:
		return false
	}
}

// StepDefinition is one unit of guidance within a flow. Immutable once the
// owning flow is fetched; order within FlowDefinition.Steps is significant.
type StepDefinition struct {
	ID                       string `json:"id"`
	StepName                 string `json:"stepName,omitempty"`
	Title                    string `json:"title,omitempty"`
	Subtitle                 string `json:"subtitle,omitempty"`
	PrimaryButtonTitle       string `json:"primaryButtonTitle,omitempty"`
	PrimaryButtonURI         string `json:"primaryButtonUri,omitempty"`
	PrimaryButtonURITarget   string `json:"primaryButtonUriTarget,omitempty"`
	SecondaryButtonTitle     string `json:"secondaryButtonTitle,omitempty"`
	SecondaryButtonURI       string `json:"secondaryButtonUri,omitempty"`
	SecondaryButtonURITarget string `json:"secondaryButtonUriTarget,omitempty"`
	ImageURI                 string `json:"imageUri,omitempty"`
	VideoURI                 string `json:"videoUri,omitempty"`
	Skippable                bool   `json:"skippable,omitempty"`
	AutoMarkCompleted        bool   `json:"autoMarkCompleted,omitempty"`
	CompletionCriteria       string `json:"completionCriteria,omitempty"`
}

// FlowDefinition is a named, ordered sequence of steps representing one
// onboarding experience. Immutable once fetched; replaced wholesale on refresh.
type FlowDefinition struct {
	ID             string           `json:"id"`
	Name           string           `json:"name,omitempty"`
	Description    string           `json:"description,omitempty"`
	Title          string           `json:"title,omitempty"`
	Subtitle       string           `json:"subtitle,omitempty"`
	Type           FlowType         `json:"type"`
	TriggerType    TriggerType      `json:"triggerType"`
	TargetingLogic string           `json:"targetingLogic,omitempty"`
	Steps          []StepDefinition `json:"steps"`
}

// StepIndex returns the ordered position of the step with the given id, or -1.
func (f *FlowDefinition) StepIndex(stepID string) int {
	for i := range f.Steps {
		if f.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// Step returns the step definition with the given id, or nil.
func (f *FlowDefinition) Step(stepID string) *StepDefinition {
	if i := f.StepIndex(stepID); i >= 0 {
		return &f.Steps[i]
	}
	return nil
}

// Validate performs validation on a FlowDefinition.
func (f *FlowDefinition) Validate() error {
	if f.ID == "" {
		return ErrEmptyFlowID
	}
	if !IsValidFlowType(f.Type) {
		return fmt.Errorf("flow %s: unsupported flow type %q", f.ID, f.Type)
	}
	seen := make(map[string]bool, len(f.Steps))
	for _, step := range f.Steps {
		if step.ID == "" {
			return fmt.Errorf("flow %s: %w", f.ID, ErrEmptyStepID)
		}
		if seen[step.ID] {
			return fmt.Errorf("flow %s: duplicate step id %s", f.ID, step.ID)
		}
		seen[step.ID] = true
	}
	return nil
}

// rawFlow is the wire shape returned by GET /flows. The step list and display
// metadata arrive as a nested JSON document in the data field.
type rawFlow struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Slug           string      `json:"slug"`
	Type           FlowType    `json:"type"`
	TriggerType    TriggerType `json:"triggerType"`
	TargetingLogic string      `json:"targetingLogic"`
	Data           string      `json:"data"`
}

// rawFlowData is the nested document carried in rawFlow.Data.
type rawFlowData struct {
	Title    string           `json:"title"`
	Subtitle string           `json:"subtitle"`
	Steps    []StepDefinition `json:"data"`
}

// ParseFlowDefinition decodes one element of a GET /flows response into a
// FlowDefinition, parsing the nested step document into typed steps so that
// variable substitution can later be applied per field instead of to raw JSON.
func ParseFlowDefinition(raw json.RawMessage) (FlowDefinition, error) {
	var rf rawFlow
	if err := json.Unmarshal(raw, &rf); err != nil {
		return FlowDefinition{}, fmt.Errorf("failed to decode flow: %w", err)
	}
	def := FlowDefinition{
		ID:             rf.Slug,
		Name:           rf.Name,
		Description:    rf.Description,
		Type:           rf.Type,
		TriggerType:    rf.TriggerType,
		TargetingLogic: rf.TargetingLogic,
	}
	if def.ID == "" {
		def.ID = rf.ID
	}
	if rf.Data != "" {
		var data rawFlowData
		if err := json.Unmarshal([]byte(rf.Data), &data); err != nil {
			return FlowDefinition{}, fmt.Errorf("failed to decode flow data for %s: %w", def.ID, err)
		}
		def.Title = data.Title
		def.Subtitle = data.Subtitle
		def.Steps = data.Steps
	}
	if err := def.Validate(); err != nil {
		return FlowDefinition{}, err
	}
	return def, nil
}

// ParseFlowDefinitions decodes all elements of a GET /flows envelope.
// Malformed elements are skipped so one bad record cannot freeze the
// rest of the catalog.
func ParseFlowDefinitions(raws []json.RawMessage) []FlowDefinition {
	defs := make([]FlowDefinition, 0, len(raws))
	for _, raw := range raws {
		def, err := ParseFlowDefinition(raw)
		if err != nil {
			slog.Warn("Skipping malformed flow definition", "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs
}
